package httpapi_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	cardream "github.com/basedlsg/Car-Dream"
	"github.com/basedlsg/Car-Dream/backend/httpapi"
	"github.com/basedlsg/Car-Dream/experiment"
	"github.com/basedlsg/Car-Dream/id"
)

func testServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestAllocateSession(t *testing.T) {
	sess := id.NewSessionID()
	srv := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/sessions" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var cfg experiment.Config
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			t.Errorf("decode config: %v", err)
		}
		if cfg.Scenario.Route != "town04_loop" {
			t.Errorf("route = %q", cfg.Scenario.Route)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"session_id": sess.String()})
	})

	c := httpapi.New(srv.URL)
	got, err := c.AllocateSession(context.Background(), experiment.Config{
		Name:     "t",
		Scenario: experiment.Scenario{Route: "town04_loop"},
		Model:    experiment.Model{Checkpoint: "ckpt/x"},
	})
	if err != nil {
		t.Fatalf("AllocateSession: %v", err)
	}
	if got.String() != sess.String() {
		t.Errorf("session = %s, want %s", got, sess)
	}
}

func TestGetStateAndMetrics(t *testing.T) {
	sess := id.NewSessionID()
	srv := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/state"):
			_ = json.NewEncoder(w).Encode(map[string]any{"speed": 10.5, "lane": "left"})
		case strings.HasSuffix(r.URL.Path, "/metrics"):
			_ = json.NewEncoder(w).Encode(map[string]float64{"speed": 10.5, "collisions": 0})
		default:
			http.NotFound(w, r)
		}
	})

	c := httpapi.New(srv.URL)
	st, err := c.GetState(context.Background(), sess)
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if st["speed"] != 10.5 {
		t.Errorf("state = %v", st)
	}

	m, err := c.GetStepMetrics(context.Background(), sess)
	if err != nil {
		t.Fatalf("GetStepMetrics: %v", err)
	}
	if m["collisions"] != 0 {
		t.Errorf("metrics = %v", m)
	}
}

func TestErrorEnvelopeMapping(t *testing.T) {
	tests := []struct {
		name   string
		kind   string
		wantIs error
	}{
		{"simulation kind", "simulation", cardream.ErrSimulation},
		{"resource kind", "resource", cardream.ErrResourceExhausted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := testServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusConflict)
				_ = json.NewEncoder(w).Encode(map[string]string{
					"error": "actor destroyed", "kind": tt.kind,
				})
			})
			c := httpapi.New(srv.URL)
			_, err := c.GetState(context.Background(), id.NewSessionID())
			if !errors.Is(err, tt.wantIs) {
				t.Fatalf("err = %v, want %v", err, tt.wantIs)
			}
		})
	}
}

func TestPingHonoursContext(t *testing.T) {
	srv := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	c := httpapi.New(srv.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := c.Ping(ctx); err == nil {
		t.Fatal("expected context error from slow health endpoint")
	}
}

func TestWaitReadyRetries(t *testing.T) {
	var calls int
	srv := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	c := httpapi.New(srv.URL)
	if err := c.WaitReady(context.Background(), 5, time.Millisecond); err != nil {
		t.Fatalf("WaitReady: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestWaitReadyExhaustsAttempts(t *testing.T) {
	srv := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	c := httpapi.New(srv.URL)
	if err := c.WaitReady(context.Background(), 2, time.Millisecond); err == nil {
		t.Fatal("expected failure after exhausted probes")
	}
}

func TestSupervisorRestart(t *testing.T) {
	var path string
	srv := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		w.WriteHeader(http.StatusOK)
	})

	sup := httpapi.NewSupervisor(map[string]string{"simulation": srv.URL})
	if err := sup.Restart(context.Background(), "simulation"); err != nil {
		t.Fatalf("Restart: %v", err)
	}
	if path != "/v1/admin/restart" {
		t.Errorf("path = %q", path)
	}

	if err := sup.Restart(context.Background(), "unknown"); err == nil {
		t.Error("expected error for unknown service")
	}
}
