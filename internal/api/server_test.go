package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/seantiz/warden/internal/check"
	"github.com/seantiz/warden/internal/engine"
	"github.com/seantiz/warden/internal/model"
	"github.com/seantiz/warden/internal/report"
	"github.com/seantiz/warden/internal/store"
)

// instantCheck always passes immediately; API tests use it so jobs reach a
// terminal state without real probing.
type instantCheck struct{ id string }

func (c instantCheck) ID() string             { return c.id }
func (c instantCheck) Timeout() time.Duration { return 0 }
func (c instantCheck) Execute(_ context.Context, _ *model.Target) (string, string, error) {
	return model.OutcomePass, "", nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	reg := check.NewRegistry()
	reg.Register(instantCheck{id: "noop.pass"})
	reg.Register(instantCheck{id: "noop.second"})
	return newTestServerWithRegistry(t, reg)
}

func newTestServerWithRegistry(t *testing.T, reg *check.Registry) *Server {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	eng := engine.New(s, reg, &report.LogHandler{Logger: logger}, logger, engine.Options{MaxConcurrent: 4})
	t.Cleanup(eng.Wait)

	return NewServer(":0", s, eng, logger)
}

// postJSON is a test helper for JSON POST requests.
func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decodeInto(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestPanicRecovery(t *testing.T) {
	srv := newTestServer(t)
	srv.Router().Get("/panic", func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	})

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/panic")
	if err != nil {
		t.Fatalf("GET /panic: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", resp.StatusCode)
	}
}

func TestCORSHeaders(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	req, _ := http.NewRequest("OPTIONS", ts.URL+"/v1/targets", nil)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS /v1/targets: %v", err)
	}
	defer resp.Body.Close()

	if v := resp.Header.Get("Access-Control-Allow-Origin"); v != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want %q", v, "*")
	}
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	var health healthResponse
	decodeInto(t, resp, &health)
	if health.Status != "ok" {
		t.Errorf("Status = %q, want %q", health.Status, "ok")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if len(body) == 0 {
		t.Error("expected metrics exposition output")
	}
}

func TestListChecks(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/checks")
	if err != nil {
		t.Fatalf("GET /v1/checks: %v", err)
	}

	var out listChecksResponse
	decodeInto(t, resp, &out)
	if len(out.Checks) != 2 {
		t.Fatalf("checks = %d, want 2", len(out.Checks))
	}
	if out.Checks[0].ID != "noop.pass" {
		t.Errorf("first check = %q, want sorted order", out.Checks[0].ID)
	}
}
