package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"dataproc/internal/app/ingest"
	"dataproc/internal/http/handlers/health"
	"dataproc/internal/http/handlers/worker"
	"dataproc/internal/logging"
)

type pinger struct{ err error }

func (p pinger) Ping(ctx context.Context) error { return p.err }

type stats struct{ snap ingest.Snapshot }

func (s stats) Snapshot() ingest.Snapshot { return s.snap }

type letters struct {
	got  int64
	list []ingest.Letter
	err  error
}

func (l *letters) Recent(ctx context.Context, n int64) ([]ingest.Letter, error) {
	l.got = n
	return l.list, l.err
}

func newTestServer(t *testing.T, checks map[string]health.Pinger, src worker.LetterSource) (*httptest.Server, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	logger := logging.NewWithCore(core)

	snap := ingest.Snapshot{Received: 3, Succeeded: 2, Acked: 3, Failed: map[string]int64{"framing": 1}}
	r := NewRouter(logger, health.NewHandler(checks), worker.NewHandler(stats{snap}, src, logger))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, logs
}

func get(t *testing.T, url string, dst any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if dst != nil {
		if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestHealthz(t *testing.T) {
	tests := []struct {
		name       string
		checks     map[string]health.Pinger
		wantStatus int
		wantBody   string
	}{
		{"all up", map[string]health.Pinger{"db": pinger{}, "redis": pinger{}}, http.StatusOK, "ok"},
		{"db down", map[string]health.Pinger{"db": pinger{errors.New("refused")}, "redis": pinger{}}, http.StatusServiceUnavailable, "degraded"},
		{"optional dependency absent", map[string]health.Pinger{"db": pinger{}, "redis": nil}, http.StatusOK, "ok"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newTestServer(t, tt.checks, nil)
			var body health.Response
			if status := get(t, srv.URL+"/healthz", &body); status != tt.wantStatus {
				t.Fatalf("status = %d, want %d", status, tt.wantStatus)
			}
			if body.Status != tt.wantBody {
				t.Fatalf("body = %+v", body)
			}
			if _, ok := body.Checks["redis"]; ok && tt.checks["redis"] == nil {
				t.Fatal("nil pinger must be skipped")
			}
		})
	}
}

func TestWorkerStats(t *testing.T) {
	srv, logs := newTestServer(t, nil, nil)

	var snap ingest.Snapshot
	if status := get(t, srv.URL+"/api/v1/worker/stats", &snap); status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if snap.Received != 3 || snap.Acked != 3 || snap.Failed["framing"] != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if logs.FilterMessage("http_request").Len() != 1 {
		t.Fatalf("request not logged")
	}
}

func TestDeadLetters(t *testing.T) {
	src := &letters{list: []ingest.Letter{{ID: "l-1", Queue: "data"}}}
	srv, _ := newTestServer(t, nil, src)

	var body struct {
		Data []ingest.Letter `json:"data"`
	}
	if status := get(t, srv.URL+"/api/v1/worker/dead-letters?limit=5", &body); status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if src.got != 5 || len(body.Data) != 1 || body.Data[0].ID != "l-1" {
		t.Fatalf("limit = %d, body = %+v", src.got, body)
	}

	if status := get(t, srv.URL+"/api/v1/worker/dead-letters?limit=0", nil); status != http.StatusBadRequest {
		t.Fatalf("limit=0 status = %d", status)
	}

	src.err = errors.New("redis down")
	if status := get(t, srv.URL+"/api/v1/worker/dead-letters", nil); status != http.StatusInternalServerError {
		t.Fatalf("error status = %d", status)
	}
	if src.got != 20 {
		t.Fatalf("default limit = %d", src.got)
	}
}

func TestDeadLettersNotConfigured(t *testing.T) {
	srv, _ := newTestServer(t, nil, nil)
	if status := get(t, srv.URL+"/api/v1/worker/dead-letters", nil); status != http.StatusNotFound {
		t.Fatalf("status = %d", status)
	}
	if status := get(t, srv.URL+"/nope", nil); status != http.StatusNotFound {
		t.Fatalf("unknown route status = %d", status)
	}
}
