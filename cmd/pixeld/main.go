// pixeld is the headless pixel-display daemon: it drives a fleet of
// networked pixel-matrix devices from a scene catalog, controlled over
// MQTT and a local web API.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	hclog "github.com/hashicorp/go-hclog"
	"github.com/urfave/cli/v2"

	"github.com/pixelfleet/pixeld/command/agent"
	"github.com/pixelfleet/pixeld/version"
)

const (
	exitOK = iota
	exitConfigError
	exitRuntimeError
)

func main() {
	app := &cli.App{
		Name:    "pixeld",
		Usage:   "pixel-matrix display daemon",
		Version: version.GetVersion().VersionNumber(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the configuration file (.json, .yaml)",
				EnvVars: []string{"PIXELD_CONFIG"},
				Value:   "pixeld.json",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "override the configured log level (trace, debug, info, warn, error)",
				EnvVars: []string{"PIXELD_LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "broker",
				Usage:   "override the MQTT broker URL, e.g. tcp://127.0.0.1:1883",
				EnvVars: []string{"PIXELD_BROKER_URL"},
			},
			&cli.StringFlag{
				Name:    "topic-base",
				Usage:   "override the MQTT topic base",
				EnvVars: []string{"PIXELD_TOPIC_BASE"},
			},
			&cli.IntFlag{
				Name:    "web-port",
				Usage:   "override the web UI port",
				EnvVars: []string{"PIXELD_WEB_PORT"},
			},
			&cli.StringFlag{
				Name:    "default-driver",
				Usage:   "force every device onto one driver kind (real, mock)",
				EnvVars: []string{"PIXELD_DEFAULT_DRIVER"},
			},
		},
		Action: run,
	}

	// cli.Exit errors carry their own code and are handled inside Run.
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitRuntimeError)
	}
}

func run(c *cli.Context) error {
	cfg, err := agent.LoadConfig(c.String("config"))
	if err != nil {
		return cli.Exit(err, exitConfigError)
	}
	applyOverrides(cfg, c)

	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "pixeld",
		Level: hclog.LevelFromString(cfg.LogLevel),
		// Per-device log level overrides adjust individual sublogger
		// levels at runtime.
		IndependentLevels: true,
	})

	a, err := agent.NewAgent(cfg, logger)
	if err != nil {
		return cli.Exit(err, exitConfigError)
	}
	if err := a.Start(); err != nil {
		a.Shutdown() //nolint:errcheck
		return cli.Exit(err, exitRuntimeError)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("caught signal", "signal", sig)

	if err := a.Shutdown(); err != nil {
		return cli.Exit(err, exitRuntimeError)
	}
	return nil
}

func applyOverrides(cfg *agent.Config, c *cli.Context) {
	if v := c.String("log-level"); v != "" {
		cfg.LogLevel = v
	}
	if v := c.String("broker"); v != "" {
		cfg.MQTT.BrokerURL = v
	}
	if v := c.String("topic-base"); v != "" {
		cfg.MQTT.TopicBase = v
	}
	if v := c.Int("web-port"); v != 0 {
		cfg.WebUI.Port = v
	}
	if v := c.String("default-driver"); v != "" {
		cfg.DefaultDriver = v
	}
}
