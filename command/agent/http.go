package agent

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	hclog "github.com/hashicorp/go-hclog"
	metrics "github.com/hashicorp/go-metrics"
	"github.com/rs/cors"

	"github.com/pixelfleet/pixeld/command/router"
	"github.com/pixelfleet/pixeld/device"
	"github.com/pixelfleet/pixeld/drivers"
	"github.com/pixelfleet/pixeld/scene"
	"github.com/pixelfleet/pixeld/scheduler"
	"github.com/pixelfleet/pixeld/version"
)

const (
	// ErrInvalidMethod is used if the HTTP method is not supported
	ErrInvalidMethod = "Invalid method"

	httpShutdownGrace = 5 * time.Second
)

// HTTPCodedError is used to provide the HTTP error code along with an error
type HTTPCodedError interface {
	error
	Code() int
}

func CodedError(c int, m string) HTTPCodedError {
	return &codedError{m, c}
}

type codedError struct {
	m string
	c int
}

func (e *codedError) Error() string { return e.m }
func (e *codedError) Code() int     { return e.c }

// HTTPServer is the REST and WebSocket control plane.
type HTTPServer struct {
	agent  *Agent
	router *router.Router
	logger hclog.Logger
	srv    *http.Server
	ws     *wsHub
	addr   string
}

func NewHTTPServer(a *Agent, r *router.Router) *HTTPServer {
	s := &HTTPServer{
		agent:  a,
		router: r,
		logger: a.logger.Named("http"),
		addr:   fmt.Sprintf(":%d", a.config.WebUI.Port),
	}
	s.ws = newWSHub(s)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/devices", s.wrap(s.devicesRequest))
	mux.HandleFunc("/api/devices/", s.wrap(s.deviceSpecificRequest))
	mux.HandleFunc("/api/scenes", s.wrap(s.scenesRequest))
	mux.HandleFunc("/api/status", s.wrap(s.statusRequest))
	mux.HandleFunc("/api/metrics", s.wrap(s.metricsRequest))
	mux.HandleFunc("/api/restart", s.wrap(s.restartRequest))
	mux.HandleFunc("/ws", s.ws.serve)

	handler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"HEAD", "GET", "POST"},
	}).Handler(mux)
	if a.config.WebUI.Auth != "" {
		handler = s.basicAuth(handler, a.config.WebUI.Auth)
	}

	s.srv = &http.Server{Addr: s.addr, Handler: handler}
	return s
}

// Start binds the listener; failure to bind is fatal at startup.
func (s *HTTPServer) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.logger.Info("web ui listening", "address", ln.Addr().String())
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server failed", "error", err)
		}
	}()
	return nil
}

// Shutdown drains in-flight requests and closes WebSocket clients.
func (s *HTTPServer) Shutdown() error {
	s.ws.close()
	ctx, cancel := contextWithGrace(httpShutdownGrace)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

func (s *HTTPServer) basicAuth(next http.Handler, auth string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(user+":"+pass), []byte(auth)) != 1 {
			w.Header().Set("WWW-Authenticate", `Basic realm="pixeld"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// wrap is used to wrap functions to make them more convenient
func (s *HTTPServer) wrap(handler func(resp http.ResponseWriter, req *http.Request) (interface{}, error)) func(resp http.ResponseWriter, req *http.Request) {
	f := func(resp http.ResponseWriter, req *http.Request) {
		defer metrics.MeasureSince([]string{"http", "request"}, time.Now())
		obj, err := handler(resp, req)
		if err != nil {
			code, errMsg := errCodeFromHandler(err)
			resp.WriteHeader(code)
			resp.Write([]byte(errMsg))
			if code >= 500 {
				s.logger.Error("request failed", "method", req.Method, "path", req.URL.Path, "error", err, "code", code)
			} else {
				s.logger.Debug("request failed", "method", req.Method, "path", req.URL.Path, "error", err, "code", code)
			}
			return
		}
		if obj != nil {
			buf, err := json.Marshal(obj)
			if err != nil {
				resp.WriteHeader(http.StatusInternalServerError)
				resp.Write([]byte(err.Error()))
				return
			}
			resp.Header().Set("Content-Type", "application/json")
			resp.Write(buf)
		}
	}
	return f
}

// errCodeFromHandler maps handler errors onto HTTP status codes.
func errCodeFromHandler(err error) (int, string) {
	var coded HTTPCodedError
	switch {
	case errors.As(err, &coded):
		return coded.Code(), coded.Error()
	case errors.Is(err, router.ErrValidation):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, scheduler.ErrMailboxFull):
		return http.StatusServiceUnavailable, err.Error()
	case errors.Is(err, scene.ErrUnknownScene):
		return http.StatusNotFound, err.Error()
	case isUnknownDevice(err):
		return http.StatusNotFound, err.Error()
	default:
		return http.StatusInternalServerError, err.Error()
	}
}

func isUnknownDevice(err error) bool {
	// Registry and manager lookups both report unknown hosts with plain
	// errors; match on the shared phrasing.
	msg := err.Error()
	return strings.Contains(msg, "unknown device") || strings.Contains(msg, "no scheduler for device")
}

// deviceSummary is the REST and WebSocket projection of one device.
type deviceSummary struct {
	Host         string                 `json:"host"`
	Name         string                 `json:"name,omitempty"`
	Type         string                 `json:"deviceType"`
	Driver       string                 `json:"driver"`
	DriverKind   string                 `json:"driverKind"`
	Capabilities *drivers.Capabilities  `json:"capabilities"`
	Runtime      *scheduler.RuntimeState `json:"runtime,omitempty"`
	Metrics      drivers.Metrics        `json:"metrics"`
}

func (s *HTTPServer) summarize(dev *device.Device) deviceSummary {
	drv := dev.Driver()
	out := deviceSummary{
		Host:         dev.Host,
		Name:         dev.Name,
		Type:         dev.Type,
		Driver:       drv.Name(),
		DriverKind:   string(drv.Kind()),
		Capabilities: drv.Capabilities(),
		Metrics:      dev.Metrics(),
	}
	if sched, err := s.agent.manager.Get(dev.Host); err == nil {
		rt := sched.Runtime()
		out.Runtime = &rt
	}
	return out
}

func (s *HTTPServer) devicesRequest(resp http.ResponseWriter, req *http.Request) (interface{}, error) {
	if req.Method != http.MethodGet {
		return nil, CodedError(http.StatusMethodNotAllowed, ErrInvalidMethod)
	}
	devices := s.agent.registry.List()
	out := make([]deviceSummary, 0, len(devices))
	for _, dev := range devices {
		out = append(out, s.summarize(dev))
	}
	return out, nil
}

// deviceSpecificRequest routes /api/devices/<ip>[/<action...>].
func (s *HTTPServer) deviceSpecificRequest(resp http.ResponseWriter, req *http.Request) (interface{}, error) {
	path := strings.TrimPrefix(req.URL.Path, "/api/devices/")
	host, action, _ := strings.Cut(path, "/")
	if host == "" {
		return nil, CodedError(http.StatusBadRequest, "missing device address")
	}

	if action == "" {
		if req.Method != http.MethodGet {
			return nil, CodedError(http.StatusMethodNotAllowed, ErrInvalidMethod)
		}
		dev, err := s.agent.registry.Get(host)
		if err != nil {
			return nil, err
		}
		return s.summarize(dev), nil
	}

	if req.Method != http.MethodPost {
		return nil, CodedError(http.StatusMethodNotAllowed, ErrInvalidMethod)
	}

	switch action {
	case "scene":
		return s.sceneSwitchRequest(host, req)
	case "scene/pause":
		return s.ack(host, s.router.Pause(host))
	case "scene/resume":
		return s.ack(host, s.router.Resume(host))
	case "scene/stop":
		return s.ack(host, s.router.Stop(host))
	case "scene/restart":
		return s.ack(host, s.router.Restart(host))
	case "driver":
		return s.driverSwitchRequest(host, req)
	case "display/power":
		return s.powerRequest(host, req)
	case "display/brightness":
		return s.brightnessRequest(host, req)
	case "reset":
		return s.ack(host, s.router.Reset(host))
	default:
		return nil, CodedError(http.StatusNotFound, fmt.Sprintf("unknown device action %q", action))
	}
}

type ackResponse struct {
	Host string `json:"host"`
	OK   bool   `json:"ok"`
}

func (s *HTTPServer) ack(host string, err error) (interface{}, error) {
	if err != nil {
		return nil, err
	}
	return ackResponse{Host: host, OK: true}, nil
}

func (s *HTTPServer) sceneSwitchRequest(host string, req *http.Request) (interface{}, error) {
	var body map[string]any
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return nil, CodedError(http.StatusBadRequest, "invalid scene switch body: "+err.Error())
	}
	name, _ := body["scene"].(string)
	clear := true
	if c, ok := body["clear"].(bool); ok {
		clear = c
	}
	delete(body, "scene")
	delete(body, "clear")
	return s.ack(host, s.router.SwitchScene(host, name, body, clear))
}

func (s *HTTPServer) driverSwitchRequest(host string, req *http.Request) (interface{}, error) {
	var body struct {
		Driver string `json:"driver"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return nil, CodedError(http.StatusBadRequest, "invalid driver body: "+err.Error())
	}
	return s.ack(host, s.router.SwitchDriver(host, body.Driver))
}

func (s *HTTPServer) powerRequest(host string, req *http.Request) (interface{}, error) {
	var body struct {
		On *bool `json:"on"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.On == nil {
		return nil, CodedError(http.StatusBadRequest, "power body requires {on: bool}")
	}
	return s.ack(host, s.router.SetPower(host, *body.On))
}

func (s *HTTPServer) brightnessRequest(host string, req *http.Request) (interface{}, error) {
	var body struct {
		Brightness *int `json:"brightness"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.Brightness == nil {
		return nil, CodedError(http.StatusBadRequest, "brightness body requires {brightness: 0..100}")
	}
	return s.ack(host, s.router.SetBrightness(host, *body.Brightness))
}

type sceneSummary struct {
	Name         string   `json:"name"`
	WantsLoop    bool     `json:"wantsLoop"`
	DeviceTypes  []string `json:"deviceTypes,omitempty"`
	Capabilities []string `json:"requiredCapabilities,omitempty"`
	Scheduled    bool     `json:"scheduled"`
}

// scenesRequest lists the catalog; ?device=<ip> filters to scenes the
// device can actually render.
func (s *HTTPServer) scenesRequest(resp http.ResponseWriter, req *http.Request) (interface{}, error) {
	if req.Method != http.MethodGet {
		return nil, CodedError(http.StatusMethodNotAllowed, ErrInvalidMethod)
	}

	deviceType := ""
	var caps *drivers.Capabilities
	if host := req.URL.Query().Get("device"); host != "" {
		dev, err := s.agent.registry.Get(host)
		if err != nil {
			return nil, err
		}
		deviceType = dev.Type
		caps = dev.Capabilities()
	}

	scenes := s.agent.scenes.List(deviceType, caps)
	out := make([]sceneSummary, 0, len(scenes))
	for _, sc := range scenes {
		reqCaps := make([]string, 0, len(sc.RequiredCapabilities))
		for _, c := range sc.RequiredCapabilities {
			reqCaps = append(reqCaps, string(c))
		}
		out = append(out, sceneSummary{
			Name:         sc.Name,
			WantsLoop:    sc.WantsLoop,
			DeviceTypes:  sc.DeviceTypes,
			Capabilities: reqCaps,
			Scheduled:    sc.Schedule != nil,
		})
	}
	return out, nil
}

type statusResponse struct {
	Version     string    `json:"version"`
	Revision    string    `json:"revision,omitempty"`
	BuildNumber string    `json:"buildNumber,omitempty"`
	StartedAt   time.Time `json:"startedAt"`
	UptimeSecs  int64     `json:"uptimeSecs"`
	Devices     int       `json:"devices"`
	Scenes      int       `json:"scenes"`
}

func (s *HTTPServer) statusRequest(resp http.ResponseWriter, req *http.Request) (interface{}, error) {
	if req.Method != http.MethodGet {
		return nil, CodedError(http.StatusMethodNotAllowed, ErrInvalidMethod)
	}
	v := version.GetVersion()
	return statusResponse{
		Version:     v.VersionNumber(),
		Revision:    v.Revision,
		BuildNumber: v.BuildNumber,
		StartedAt:   s.agent.startTime,
		UptimeSecs:  int64(s.agent.Uptime().Seconds()),
		Devices:     len(s.agent.registry.List()),
		Scenes:      len(s.agent.scenes.List("", nil)),
	}, nil
}

// metricsRequest aggregates per-driver counters across the fleet.
func (s *HTTPServer) metricsRequest(resp http.ResponseWriter, req *http.Request) (interface{}, error) {
	if req.Method != http.MethodGet {
		return nil, CodedError(http.StatusMethodNotAllowed, ErrInvalidMethod)
	}
	out := map[string]drivers.Metrics{}
	for _, dev := range s.agent.registry.List() {
		out[dev.Host] = dev.Metrics()
	}
	return out, nil
}

// restartRequest restarts the active scene on every device that has one.
func (s *HTTPServer) restartRequest(resp http.ResponseWriter, req *http.Request) (interface{}, error) {
	if req.Method != http.MethodPost {
		return nil, CodedError(http.StatusMethodNotAllowed, ErrInvalidMethod)
	}
	restarted := []string{}
	for _, host := range s.agent.manager.Hosts() {
		sched, err := s.agent.manager.Get(host)
		if err != nil {
			continue
		}
		if sched.Runtime().ActiveScene == "" {
			continue
		}
		if err := s.router.Restart(host); err != nil {
			s.logger.Warn("restart failed", "device", host, "error", err)
			continue
		}
		restarted = append(restarted, host)
	}
	return map[string]any{"restarted": restarted}, nil
}
