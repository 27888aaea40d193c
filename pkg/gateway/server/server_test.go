package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dialkit/dialkit/pkg/core/signal"
	"github.com/dialkit/dialkit/pkg/gateway/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func testServerConfig() config.Config {
	return config.Config{
		AgentURL:              "ws://agent.invalid/v1/session",
		MaxConcurrentCalls:    4,
		ConsolePingInterval:   20 * time.Second,
		ConsoleWriteTimeout:   2 * time.Second,
		ConsoleMaxMessageSize: 64 * 1024,
	}
}

// startFakeAgent accepts the gateway's signaling dial and discards whatever
// the controller sends.
func startFakeAgent(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(httpURL, path string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http") + path
}

func newConsoleServer(t *testing.T, mutate func(*config.Config)) (*Server, *httptest.Server) {
	t.Helper()
	cfg := testServerConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	agent := startFakeAgent(t)
	s := New(cfg, testLogger())
	s.dialSignal = func(ctx context.Context) (signal.Channel, error) {
		return signal.Dial(ctx, wsURL(agent.URL, "/"), nil, signal.DefaultConfig(), testLogger())
	}

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func dialConsole(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(ts.URL, "/v1/call"), nil)
	if err != nil {
		t.Fatalf("dial console: %v", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readFrameOfType reads frames until one of the wanted type arrives.
func readFrameOfType(t *testing.T, conn *websocket.Conn, typ string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	conn.SetReadDeadline(deadline)
	for time.Now().Before(deadline) {
		var frame map[string]any
		if err := conn.ReadJSON(&frame); err != nil {
			t.Fatalf("waiting for %q frame: %v", typ, err)
		}
		if frame["type"] == typ {
			return frame
		}
	}
	t.Fatalf("no %q frame within deadline", typ)
	return nil
}

func offerMessage() map[string]any {
	return map[string]any{
		"type":  "call.offer",
		"offer": "sdp-offer",
		"callee": map[string]any{
			"Number": 7, "Name": "Edda", "Persona": "keeper of the lighthouse",
		},
		"directory": []map[string]any{
			{"Number": 12, "Name": "Marla"},
		},
		"scenario": map[string]any{"Title": "Night Shift", "Premise": "storm inbound"},
	}
}

func TestHealthz(t *testing.T) {
	_, ts := newConsoleServer(t, nil)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `"status":"ok"`) {
		t.Fatalf("body = %s", body)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatal("expected request id header from middleware chain")
	}
}

func TestMetricsEndpointExposed(t *testing.T) {
	_, ts := newConsoleServer(t, nil)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "dialkit_calls_active") {
		t.Fatalf("metrics output missing gauge:\n%s", body)
	}
}

func TestConsoleRejectsNonOfferFirstMessage(t *testing.T) {
	_, ts := newConsoleServer(t, nil)
	conn := dialConsole(t, ts)

	if err := conn.WriteJSON(map[string]any{"type": "audio.level", "level": 0.5}); err != nil {
		t.Fatalf("write: %v", err)
	}

	frame := readFrameOfType(t, conn, "error")
	if msg, _ := frame["message"].(string); !strings.Contains(msg, "call.offer") {
		t.Fatalf("message = %v", frame["message"])
	}
}

func TestConsoleCallLifecycle(t *testing.T) {
	s, ts := newConsoleServer(t, nil)
	conn := dialConsole(t, ts)

	if err := conn.WriteJSON(offerMessage()); err != nil {
		t.Fatalf("write offer: %v", err)
	}

	answer := readFrameOfType(t, conn, "call.answer")
	if id, _ := answer["call_id"].(string); id == "" {
		t.Fatal("expected a call_id in the answer frame")
	}
	if ans, _ := answer["answer"].(string); !strings.HasPrefix(ans, "answer:") {
		t.Fatalf("answer = %v", answer["answer"])
	}

	if err := conn.WriteJSON(map[string]any{"type": "call.close"}); err != nil {
		t.Fatalf("write close: %v", err)
	}

	ended := readFrameOfType(t, conn, "call.ended")
	event, _ := ended["event"].(map[string]any)
	if event["reason"] != "closed" {
		t.Fatalf("reason = %v, want closed", event["reason"])
	}

	// Capacity is released once the session unwinds.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		active := s.active
		s.mu.Unlock()
		if active == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("call slot never released")
}

func TestConsoleCapacityLimit(t *testing.T) {
	_, ts := newConsoleServer(t, func(cfg *config.Config) {
		cfg.MaxConcurrentCalls = 1
	})

	first := dialConsole(t, ts)
	if err := first.WriteJSON(offerMessage()); err != nil {
		t.Fatalf("write offer: %v", err)
	}
	readFrameOfType(t, first, "call.answer")

	second := dialConsole(t, ts)
	if err := second.WriteJSON(offerMessage()); err != nil {
		t.Fatalf("write offer: %v", err)
	}
	frame := readFrameOfType(t, second, "error")
	if msg, _ := frame["message"].(string); !strings.Contains(msg, "capacity") {
		t.Fatalf("message = %v", frame["message"])
	}
}

func TestConsoleAgentUnavailable(t *testing.T) {
	s, ts := newConsoleServer(t, nil)
	s.dialSignal = func(context.Context) (signal.Channel, error) {
		return nil, errors.New("connection refused")
	}

	conn := dialConsole(t, ts)
	if err := conn.WriteJSON(offerMessage()); err != nil {
		t.Fatalf("write offer: %v", err)
	}
	frame := readFrameOfType(t, conn, "error")
	if msg, _ := frame["message"].(string); !strings.Contains(msg, "agent unavailable") {
		t.Fatalf("message = %v", frame["message"])
	}
}

func TestConsoleEmptyOfferRejected(t *testing.T) {
	_, ts := newConsoleServer(t, nil)
	conn := dialConsole(t, ts)

	msg := offerMessage()
	msg["offer"] = ""
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("write offer: %v", err)
	}
	readFrameOfType(t, conn, "error")
}

func TestConsoleMediaLevelClamped(t *testing.T) {
	m := newConsoleMedia()
	if _, err := m.Negotiate(context.Background(), []byte("offer")); err != nil {
		t.Fatalf("negotiate: %v", err)
	}

	m.setLevel(1.7)
	if got := m.RemoteLevel(); got != 1 {
		t.Fatalf("level = %v, want 1", got)
	}
	m.setLevel(-0.3)
	if got := m.RemoteLevel(); got != 0 {
		t.Fatalf("level = %v, want 0", got)
	}

	if err := m.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if _, err := m.Negotiate(context.Background(), []byte("offer")); err == nil {
		t.Fatal("expected negotiate to fail after close")
	}
}

func TestConsoleFrameSerialization(t *testing.T) {
	data, err := json.Marshal(consoleFrame{Type: "call.answer", CallID: "abc", Answer: "answer:1"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"call_id":"abc"`) {
		t.Fatalf("frame = %s", data)
	}
	if strings.Contains(string(data), `"event"`) {
		t.Fatalf("empty event should be omitted: %s", data)
	}
}
