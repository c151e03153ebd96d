// Package agent wires the daemon together: state store and persistence,
// the event broker, the scene catalog, device registry, per-device
// schedulers and watchdogs, and the MQTT and HTTP control planes.
package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	hclog "github.com/hashicorp/go-hclog"
	metrics "github.com/hashicorp/go-metrics"
	multierror "github.com/hashicorp/go-multierror"

	"github.com/pixelfleet/pixeld/command/router"
	"github.com/pixelfleet/pixeld/device"
	"github.com/pixelfleet/pixeld/event"
	"github.com/pixelfleet/pixeld/mqttx"
	"github.com/pixelfleet/pixeld/scene"
	"github.com/pixelfleet/pixeld/scene/builtin"
	"github.com/pixelfleet/pixeld/scheduler"
	"github.com/pixelfleet/pixeld/state"
	"github.com/pixelfleet/pixeld/version"
	"github.com/pixelfleet/pixeld/watchdog"
)

// presenceTopic suffix under the topic base; retained true/false flags
// daemon liveness, with false installed as the broker last will.
const presenceTopic = "/daemon/online"

// deviceAddTimeout bounds driver initialization per device at startup.
// Unreachable devices are still registered; the watchdog owns recovery.
const deviceAddTimeout = 15 * time.Second

// Agent is the running daemon.
type Agent struct {
	logger hclog.Logger
	config *Config

	ctx    context.Context
	cancel context.CancelFunc

	store     *state.Store
	persister *state.Persister
	broker    *event.Broker
	scenes    *scene.Registry
	conn      mqttx.Conn
	ownedConn bool

	registry  *device.Registry
	manager   *scheduler.Manager
	watchdogs []*watchdog.Watchdog

	mqttRouter *router.MQTTAdapter
	publisher  *router.MQTTPublisher
	httpServer *HTTPServer

	startTime time.Time
}

// NewAgent builds the full object graph. Configuration problems surface
// here; transport problems against individual devices do not.
func NewAgent(cfg *Config, logger hclog.Logger) (*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	inm := metrics.NewInmemSink(10*time.Second, time.Minute)
	metrics.NewGlobal(metrics.DefaultConfig("pixeld"), inm)

	ctx, cancel := context.WithCancel(context.Background())
	a := &Agent{
		logger:    logger,
		config:    cfg,
		ctx:       ctx,
		cancel:    cancel,
		startTime: time.Now(),
	}

	a.store = state.NewStore(logger)
	a.persister = state.NewPersister(a.store, cfg.StateFile, state.DefaultPersistInterval, logger)
	if err := a.persister.Restore(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to restore persisted state: %w", err)
	}

	a.broker = event.NewBroker(logger)

	a.scenes = scene.NewRegistry()
	if err := builtin.RegisterAll(a.scenes); err != nil {
		cancel()
		return nil, err
	}

	if err := a.connectBroker(); err != nil {
		cancel()
		return nil, err
	}

	a.registry = device.NewRegistry(a.conn, logger)
	a.manager = scheduler.NewManager(ctx, a.store, a.broker, a.scenes, logger)
	a.registry.SetSwapper(a.manager)

	if err := a.checkStartupScenes(); err != nil {
		cancel()
		return nil, err
	}

	r := router.New(a.registry, a.manager, a.scenes, a.store, logger)
	a.mqttRouter = router.NewMQTTAdapter(r, a.conn, cfg.MQTT.TopicBase)
	a.publisher = router.NewMQTTPublisher(a.broker, a.conn, cfg.MQTT.TopicBase, logger)
	a.httpServer = NewHTTPServer(a, r)

	return a, nil
}

// connectBroker dials the configured broker or falls back to the
// in-process bus when no broker URL is set.
func (a *Agent) connectBroker() error {
	if a.config.MQTT.BrokerURL == "" {
		a.logger.Info("no MQTT broker configured, using in-process bus")
		a.conn = mqttx.NewMemBus()
		return nil
	}
	conn, err := mqttx.Dial(mqttx.ClientConfig{
		BrokerURL:   a.config.MQTT.BrokerURL,
		Username:    a.config.MQTT.Username,
		Password:    a.config.MQTT.Password,
		ClientID:    "pixeld-" + version.GetVersion().VersionNumber(),
		WillTopic:   a.config.MQTT.TopicBase + presenceTopic,
		WillPayload: []byte("false"),
	}, a.logger)
	if err != nil {
		return err
	}
	a.conn = conn
	a.ownedConn = true
	return nil
}

// checkStartupScenes rejects configurations naming scenes the catalog
// does not have or the target device cannot render.
func (a *Agent) checkStartupScenes() error {
	var mErr *multierror.Error
	for _, dc := range a.config.Devices {
		if dc.StartupScene == "" {
			continue
		}
		sc, err := a.scenes.Get(dc.StartupScene)
		if err != nil {
			mErr = multierror.Append(mErr, fmt.Errorf("device %q: %w", dc.Host, err))
			continue
		}
		caps, err := device.CapabilitiesForType(dc.Type)
		if err != nil {
			mErr = multierror.Append(mErr, err)
			continue
		}
		if !sc.CompatibleWith(dc.Type, caps) {
			mErr = multierror.Append(mErr, fmt.Errorf(
				"device %q: startup scene %q is not compatible with device type %q",
				dc.Host, dc.StartupScene, dc.Type))
		}
	}
	return mErr.ErrorOrNil()
}

// Start brings up devices, schedulers, watchdogs and both control
// planes, then applies startup scenes.
func (a *Agent) Start() error {
	a.logger.Info("starting pixeld",
		"version", version.GetVersion().VersionNumber(),
		"devices", len(a.config.Devices))

	for _, dc := range a.config.Devices {
		ctx, cancel := context.WithTimeout(a.ctx, deviceAddTimeout)
		dev, err := a.registry.Add(ctx, dc)
		cancel()
		if err != nil {
			a.logger.Error("failed to register device", "device", dc.Host, "error", err)
			continue
		}
		sched := a.manager.Attach(dev)
		if wd := watchdog.New(a.ctx, dev, sched, a.store, a.conn, a.logger); wd != nil {
			a.watchdogs = append(a.watchdogs, wd)
			wd.Start()
		}
	}

	if err := a.mqttRouter.Start(); err != nil {
		return err
	}
	a.publisher.Start()
	if err := a.httpServer.Start(); err != nil {
		return err
	}

	if err := a.conn.Publish(a.config.MQTT.TopicBase+presenceTopic, 0, true, []byte("true")); err != nil {
		a.logger.Warn("failed to publish presence", "error", err)
	}

	a.watchLogLevel()
	a.applyStartupState()
	return nil
}

// applyStartupState enqueues brightness and the initial scene for every
// device. A persisted active scene from the previous run wins over the
// configured startup scene.
func (a *Agent) applyStartupState() {
	for _, dc := range a.config.Devices {
		sched, err := a.manager.Get(dc.Host)
		if err != nil {
			continue
		}
		if dc.Brightness != nil {
			a.enqueue(dc.Host, sched, scheduler.Command{
				Op: scheduler.OpSetBrightness, Brightness: *dc.Brightness,
			})
		}
		target := a.store.GetString(state.NamespaceDevice+"."+dc.Host+".activeScene", "")
		if target != "" {
			if _, err := a.scenes.Get(target); err != nil {
				a.logger.Warn("persisted scene no longer exists, using startup scene",
					"device", dc.Host, "scene", target)
				target = ""
			}
		}
		if target == "" {
			target = dc.StartupScene
		}
		if target == "" {
			continue
		}
		a.enqueue(dc.Host, sched, scheduler.Command{
			Op: scheduler.OpSwitch, Scene: target, Clear: true,
		})
	}
}

func (a *Agent) enqueue(host string, sched *scheduler.DeviceScheduler, cmd scheduler.Command) {
	if err := sched.Enqueue(cmd); err != nil {
		a.logger.Error("startup command rejected", "device", host, "op", cmd.Op, "error", err)
	}
}

// watchLogLevel applies runtime log level changes written to the state
// store: global.loggingLevel adjusts the daemon and fans out to every
// device scheduler, while device.<host>.loggingLevel overrides a single
// scheduler. Persisted values apply at startup; last write wins.
func (a *Agent) watchLogLevel() {
	if lvl := a.store.GetString(state.NamespaceGlobal+".loggingLevel", ""); lvl != "" {
		a.logger.SetLevel(hclog.LevelFromString(lvl))
	}
	for _, dc := range a.config.Devices {
		key := state.NamespaceDevice + "." + dc.Host + ".loggingLevel"
		if lvl := a.store.GetString(key, ""); lvl != "" {
			a.applyDeviceLogLevel(dc.Host, lvl)
		}
	}

	a.store.Subscribe(state.NamespaceGlobal+".loggingLevel", func(_ string, _, newVal any) {
		s, ok := newVal.(string)
		if !ok {
			return
		}
		lvl := hclog.LevelFromString(s)
		if lvl == hclog.NoLevel {
			a.logger.Warn("ignoring invalid logging level", "level", s)
			return
		}
		a.logger.Info("logging level changed", "level", s)
		a.logger.SetLevel(lvl)
		for _, host := range a.manager.Hosts() {
			a.manager.SetLogLevel(host, lvl) //nolint:errcheck
		}
	})

	a.store.Subscribe(state.NamespaceDevice+".", func(path string, _, newVal any) {
		if !strings.HasSuffix(path, ".loggingLevel") {
			return
		}
		host := strings.TrimSuffix(strings.TrimPrefix(path, state.NamespaceDevice+"."), ".loggingLevel")
		s, ok := newVal.(string)
		if !ok {
			return
		}
		a.applyDeviceLogLevel(host, s)
	})
}

func (a *Agent) applyDeviceLogLevel(host, level string) {
	lvl := hclog.LevelFromString(level)
	if lvl == hclog.NoLevel {
		a.logger.Warn("ignoring invalid device logging level", "device", host, "level", level)
		return
	}
	if err := a.manager.SetLogLevel(host, lvl); err != nil {
		a.logger.Warn("cannot apply device logging level", "device", host, "error", err)
		return
	}
	a.logger.Info("device logging level changed", "device", host, "level", level)
}

// Uptime reports time since agent construction.
func (a *Agent) Uptime() time.Duration {
	return time.Since(a.startTime)
}

// Shutdown tears the daemon down in reverse dependency order: control
// planes first, then schedulers (which clean up scenes and drivers),
// then persistence and the broker connection.
func (a *Agent) Shutdown() error {
	a.logger.Info("shutting down")
	var mErr *multierror.Error

	if err := a.httpServer.Shutdown(); err != nil {
		mErr = multierror.Append(mErr, err)
	}
	a.mqttRouter.Stop()

	for _, wd := range a.watchdogs {
		wd.Stop()
	}
	if err := a.manager.Shutdown(); err != nil {
		mErr = multierror.Append(mErr, err)
	}
	a.publisher.Stop()

	if err := a.conn.Publish(a.config.MQTT.TopicBase+presenceTopic, 0, true, []byte("false")); err != nil {
		a.logger.Warn("failed to publish offline presence", "error", err)
	}
	if err := a.persister.Close(); err != nil {
		mErr = multierror.Append(mErr, err)
	}
	if a.ownedConn {
		a.conn.Close()
	}
	a.cancel()
	return mErr.ErrorOrNil()
}
