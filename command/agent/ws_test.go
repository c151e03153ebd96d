package agent

import (
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/pixelfleet/pixeld/scheduler"
)

func dialWS(t *testing.T, tsURL string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(tsURL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil drains frames until one of the wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, wantType string) wsMessage {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	require.NoError(t, conn.SetReadDeadline(deadline))
	for {
		var m wsMessage
		if err := conn.ReadJSON(&m); err != nil {
			t.Fatalf("reading for %q frame: %v", wantType, err)
		}
		if m.Type == wantType {
			return m
		}
	}
}

func TestWS_InitFrame(t *testing.T) {
	_, ts := httpAgent(t, nil)
	conn := dialWS(t, ts.URL)

	m := readUntil(t, conn, "init")
	payload, ok := m.Payload.(map[string]any)
	require.True(t, ok)
	require.Contains(t, payload["version"], "0.9.1")

	devices, ok := payload["devices"].([]any)
	require.True(t, ok)
	require.Len(t, devices, 1)
	dev := devices[0].(map[string]any)
	require.Equal(t, "10.0.0.5", dev["host"])
}

func TestWS_PingPong(t *testing.T) {
	_, ts := httpAgent(t, nil)
	conn := dialWS(t, ts.URL)
	readUntil(t, conn, "init")

	require.NoError(t, conn.WriteJSON(wsMessage{Type: "ping"}))
	readUntil(t, conn, "pong")
}

func TestWS_SceneSwitchFrames(t *testing.T) {
	a, ts := httpAgent(t, nil)
	conn := dialWS(t, ts.URL)
	readUntil(t, conn, "init")

	sched, err := a.manager.Get("10.0.0.5")
	require.NoError(t, err)
	require.NoError(t, sched.Enqueue(scheduler.Command{Op: scheduler.OpSwitch, Scene: "bounce", Clear: true}))

	// The transition shows up both as the routine state update and as the
	// dedicated switch frame once the scene is running.
	m := readUntil(t, conn, "scene_switch")
	payload, ok := m.Payload.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "bounce", payload["activeScene"])
	require.Equal(t, "running", payload["status"])

	// Frames keep flowing: per-frame metrics arrive as metrics_update.
	readUntil(t, conn, "metrics_update")
}
