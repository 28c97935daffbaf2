package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/antigravity-dev/relay/internal/app"
	"github.com/antigravity-dev/relay/internal/config"
	"github.com/antigravity-dev/relay/internal/events"
	"github.com/antigravity-dev/relay/internal/queue"
	"github.com/antigravity-dev/relay/internal/store"
)

func testServer(t *testing.T, mutate func(*config.Config)) (*Server, *app.App) {
	t.Helper()
	cfg := &config.Config{
		General: config.General{DataDir: t.TempDir()},
		Scheduler: config.Scheduler{
			WeightCritical: 1000, WeightHigh: 100, WeightMedium: 10, WeightLow: 1,
			DefaultEstimate: config.Duration{Duration: time.Minute},
		},
		Executor: config.Executor{
			PollInterval:            config.Duration{Duration: time.Second},
			HealthCheckInterval:     config.Duration{Duration: time.Second},
			GracefulShutdownTimeout: config.Duration{Duration: 5 * time.Second},
			MaxConcurrent:           2,
			DefaultMaxAttempts:      3,
		},
		Router: config.Router{DefaultCategory: "quick"},
		API:    config.API{Bind: "127.0.0.1:0", MaxWSConnections: 8},
		Models: map[string]config.Model{
			"echo": {MaxRequests: 10, Window: config.Duration{Duration: time.Minute}, Backend: "process", Cmd: "cat"},
		},
		Categories: map[string][]string{"quick": {"echo"}},
	}
	if mutate != nil {
		mutate(cfg)
	}
	mgr := config.NewManager(cfg)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	a, err := app.New(mgr, logger)
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	t.Cleanup(func() { a.Close() })

	srv := NewServer(mgr, a, logger)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.Start(ctx)

	deadline := time.Now().Add(5 * time.Second)
	for srv.Addr() == "" {
		if time.Now().After(deadline) {
			t.Fatal("server never bound")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return srv, a
}

func getJSON(t *testing.T, url string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	var doc map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
	return resp.StatusCode, doc
}

func TestStatusEndpoint(t *testing.T) {
	srv, a := testServer(t, nil)

	if _, err := a.Queue().Add(queue.TaskInput{Prompt: "what is up", Category: store.CategoryQuick}); err != nil {
		t.Fatal(err)
	}

	code, doc := getJSON(t, "http://"+srv.Addr()+"/status")
	if code != http.StatusOK {
		t.Fatalf("status code = %d", code)
	}
	for _, key := range []string{"uptime_s", "stats", "scheduler", "rate_limits"} {
		if _, ok := doc[key]; !ok {
			t.Errorf("status document missing %q", key)
		}
	}
	stats, _ := doc["stats"].(map[string]any)
	if total, _ := stats["total"].(float64); total != 1 {
		t.Errorf("stats.total = %v, want 1", stats["total"])
	}
	limits, _ := doc["rate_limits"].(map[string]any)
	if _, ok := limits["echo"]; !ok {
		t.Errorf("rate_limits = %v, want echo entry", limits)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := testServer(t, nil)

	code, doc := getJSON(t, "http://"+srv.Addr()+"/health")
	if code != http.StatusOK {
		t.Fatalf("health code = %d", code)
	}
	if healthy, _ := doc["healthy"].(bool); !healthy {
		t.Errorf("healthy = %v, want true", doc["healthy"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := testServer(t, nil)

	resp, err := http.Get("http://" + srv.Addr() + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics code = %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "relay_executor") {
		t.Error("metrics exposition lacks relay_executor collectors")
	}
}

func TestEventStream(t *testing.T) {
	srv, a := testServer(t, nil)

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+srv.Addr()+"/ws", nil)
	if err != nil {
		t.Fatalf("ws dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(5 * time.Second)
	for srv.hub.clientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	a.Events().Emit(events.Event{Type: events.TaskStart, TaskID: "task_x", Model: "echo"})

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ev events.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if ev.Type != events.TaskStart || ev.TaskID != "task_x" || ev.Model != "echo" {
		t.Errorf("event = %+v, want the emitted taskStart", ev)
	}
}

func TestConnectionCap(t *testing.T) {
	srv, a := testServer(t, func(cfg *config.Config) {
		cfg.API.MaxWSConnections = 1
	})

	first, _, err := websocket.DefaultDialer.Dial("ws://"+srv.Addr()+"/ws", nil)
	if err != nil {
		t.Fatalf("first dial: %v", err)
	}
	defer first.Close()

	deadline := time.Now().Add(5 * time.Second)
	for srv.hub.clientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("first client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	second, _, err := websocket.DefaultDialer.Dial("ws://"+srv.Addr()+"/ws", nil)
	if err == nil {
		// The upgrade succeeds; the hub closes the connection on arrival.
		second.SetReadDeadline(time.Now().Add(5 * time.Second))
		if _, _, err := second.ReadMessage(); err == nil {
			t.Error("second connection stayed open past the cap")
		}
		second.Close()
	}

	// The first client still receives events.
	a.Events().Emit(events.Event{Type: events.ExecutorPaused})
	first.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ev events.Event
	if err := first.ReadJSON(&ev); err != nil {
		t.Fatalf("read on first client: %v", err)
	}
	if ev.Type != events.ExecutorPaused {
		t.Errorf("event = %+v, want paused", ev)
	}
}
