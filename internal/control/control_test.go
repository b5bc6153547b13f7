package control

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/codex-helper/proxy/internal/config"
	"github.com/codex-helper/proxy/internal/state"
)

func newTestStore(t *testing.T) *config.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	snap := &config.Snapshot{
		Version: 1,
		Codex: config.Manager{
			Active: "a",
			Configs: map[string]*config.ServiceConfig{
				"a": {Name: "a", Enabled: true, Upstreams: []config.Upstream{{BaseURL: "https://a", Weight: 1}}},
			},
		},
		Retry: config.DefaultRetryPolicy(),
	}
	b, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	store, err := config.NewStore(path)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store
}

func newTestController(t *testing.T) *Controller {
	t.Helper()
	return New(state.New(50, 50, nil), newTestStore(t), nil, nil)
}

func TestHandleStatusActiveEmpty(t *testing.T) {
	c := newTestController(t)
	mux := http.NewServeMux()
	c.Register(mux)

	req := httptest.NewRequest(http.MethodGet, "/__internal/status/active", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got []state.ActiveRequest
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no active requests, got %d", len(got))
	}
}

func TestHandleStatusRecentRejectsOutOfRangeLimit(t *testing.T) {
	c := newTestController(t)
	mux := http.NewServeMux()
	c.Register(mux)

	req := httptest.NewRequest(http.MethodGet, "/__internal/status/recent?limit=500", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for out-of-range limit, got %d", rec.Code)
	}
}

func TestHandleSetSessionOverrideThenList(t *testing.T) {
	c := newTestController(t)
	mux := http.NewServeMux()
	c.Register(mux)

	body := bytes.NewBufferString(`{"session_id":"sess-1","effort":"high"}`)
	req := httptest.NewRequest(http.MethodPost, "/__internal/override/session", body)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	listReq := httptest.NewRequest(http.MethodGet, "/__internal/override/session", nil)
	listRec := httptest.NewRecorder()
	mux.ServeHTTP(listRec, listReq)

	var view sessionOverrideView
	if err := json.Unmarshal(listRec.Body.Bytes(), &view); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if view.EffortOverrides["sess-1"] != "high" {
		t.Fatalf("expected sess-1 override to be listed, got %+v", view.EffortOverrides)
	}
}

func TestHandleSetMetaOverrideRequiresServiceAndConfig(t *testing.T) {
	c := newTestController(t)
	mux := http.NewServeMux()
	c.Register(mux)

	req := httptest.NewRequest(http.MethodPost, "/__internal/override/meta", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a missing service/config_name, got %d", rec.Code)
	}
}

func TestHandleConfigReloadReportsUnchanged(t *testing.T) {
	c := newTestController(t)
	mux := http.NewServeMux()
	c.Register(mux)

	req := httptest.NewRequest(http.MethodGet, "/__internal/config/reload", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got map[string]bool
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got["reloaded"] {
		t.Fatalf("expected reloaded=false since the file did not change")
	}
}
