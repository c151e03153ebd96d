package router

import (
	"encoding/json"
	"fmt"

	"github.com/pixelfleet/pixeld/mqttx"
)

// MQTTAdapter binds the router to the broker's command topic tree:
//
//	<base>/<host>/scene/switch          {scene, clear?, ...sceneParams}
//	<base>/<host>/scene/{pause,resume,stop,restart}
//	<base>/<host>/driver/switch         {driver: "real"|"mock"}
//	<base>/<host>/device/reset
//	<base>/<host>/display/power         {on: bool}
//	<base>/<host>/display/brightness    {brightness: 0..100}
//	<base>/state/update                 {deviceIp, sceneName, stateKey, value}
//
// Invalid topics are dropped with a warning; unknown devices are logged,
// never fatal.
type MQTTAdapter struct {
	router *Router
	conn   mqttx.Conn
	base   string
}

func NewMQTTAdapter(r *Router, conn mqttx.Conn, topicBase string) *MQTTAdapter {
	return &MQTTAdapter{router: r, conn: conn, base: topicBase}
}

// Start subscribes to the command tree.
func (a *MQTTAdapter) Start() error {
	filters := []string{
		a.base + "/+/scene/switch",
		a.base + "/+/scene/pause",
		a.base + "/+/scene/resume",
		a.base + "/+/scene/stop",
		a.base + "/+/scene/restart",
		a.base + "/+/driver/switch",
		a.base + "/+/device/reset",
		a.base + "/+/display/power",
		a.base + "/+/display/brightness",
		a.base + "/state/update",
	}
	for _, f := range filters {
		if err := a.conn.Subscribe(f, 0, a.handle); err != nil {
			return fmt.Errorf("failed to subscribe to %q: %w", f, err)
		}
	}
	return nil
}

// Stop drops the subscriptions.
func (a *MQTTAdapter) Stop() {
	a.conn.Unsubscribe( //nolint:errcheck
		a.base+"/+/scene/switch",
		a.base+"/+/scene/pause",
		a.base+"/+/scene/resume",
		a.base+"/+/scene/stop",
		a.base+"/+/scene/restart",
		a.base+"/+/driver/switch",
		a.base+"/+/device/reset",
		a.base+"/+/display/power",
		a.base+"/+/display/brightness",
		a.base+"/state/update",
	)
}

func (a *MQTTAdapter) handle(m mqttx.Message) {
	logger := a.router.logger
	rest := m.Topic
	if len(rest) <= len(a.base)+1 || rest[:len(a.base)] != a.base {
		logger.Warn("dropping message outside topic base", "topic", m.Topic)
		return
	}
	rest = rest[len(a.base)+1:]

	segments := splitTopic(rest)

	// Global state injection has no host segment.
	if len(segments) == 2 && segments[0] == "state" && segments[1] == "update" {
		a.handleStateUpdate(m.Payload)
		return
	}
	if len(segments) != 3 {
		logger.Warn("dropping malformed command topic", "topic", m.Topic)
		return
	}
	host, group, action := segments[0], segments[1], segments[2]

	var err error
	switch {
	case group == "scene" && action == "switch":
		err = a.handleSceneSwitch(host, m.Payload)
	case group == "scene" && action == "pause":
		err = a.router.Pause(host)
	case group == "scene" && action == "resume":
		err = a.router.Resume(host)
	case group == "scene" && action == "stop":
		err = a.router.Stop(host)
	case group == "scene" && action == "restart":
		err = a.router.Restart(host)
	case group == "driver" && action == "switch":
		err = a.handleDriverSwitch(host, m.Payload)
	case group == "device" && action == "reset":
		err = a.router.Reset(host)
	case group == "display" && action == "power":
		err = a.handlePower(host, m.Payload)
	case group == "display" && action == "brightness":
		err = a.handleBrightness(host, m.Payload)
	default:
		logger.Warn("dropping unknown command topic", "topic", m.Topic)
		return
	}
	if err != nil {
		logger.Warn("mqtt command failed", "topic", m.Topic, "error", err)
	}
}

func (a *MQTTAdapter) handleSceneSwitch(host string, payload []byte) error {
	params := map[string]any{}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &params); err != nil {
			return fmt.Errorf("%w: invalid scene switch payload: %s", ErrValidation, err)
		}
	}
	name, _ := params["scene"].(string)
	clear := true
	if c, ok := params["clear"].(bool); ok {
		clear = c
	}
	delete(params, "scene")
	delete(params, "clear")
	return a.router.SwitchScene(host, name, params, clear)
}

func (a *MQTTAdapter) handleDriverSwitch(host string, payload []byte) error {
	var body struct {
		Driver string `json:"driver"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return fmt.Errorf("%w: invalid driver switch payload: %s", ErrValidation, err)
	}
	return a.router.SwitchDriver(host, body.Driver)
}

func (a *MQTTAdapter) handlePower(host string, payload []byte) error {
	var body struct {
		On *bool `json:"on"`
	}
	if err := json.Unmarshal(payload, &body); err != nil || body.On == nil {
		return fmt.Errorf("%w: power payload requires {on: bool}", ErrValidation)
	}
	return a.router.SetPower(host, *body.On)
}

func (a *MQTTAdapter) handleBrightness(host string, payload []byte) error {
	var body struct {
		Brightness *int `json:"brightness"`
	}
	if err := json.Unmarshal(payload, &body); err != nil || body.Brightness == nil {
		return fmt.Errorf("%w: brightness payload requires {brightness: 0..100}", ErrValidation)
	}
	return a.router.SetBrightness(host, *body.Brightness)
}

func (a *MQTTAdapter) handleStateUpdate(payload []byte) {
	var body struct {
		DeviceIP  string `json:"deviceIp"`
		SceneName string `json:"sceneName"`
		StateKey  string `json:"stateKey"`
		Value     any    `json:"value"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		a.router.logger.Warn("invalid state update payload", "error", err)
		return
	}
	if err := a.router.UpdateSceneState(body.DeviceIP, body.SceneName, body.StateKey, body.Value); err != nil {
		a.router.logger.Warn("state update failed", "error", err)
	}
}

func splitTopic(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '/' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	return append(out, s[start:])
}
