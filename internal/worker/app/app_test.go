package app

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/patrikpihlstrom/anna-worker/internal/worker/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Queue.Host = "http://queue.invalid"
	cfg.Queue.Token = "secret"
	cfg.JournalPath = filepath.Join(t.TempDir(), "journal.db")
	return cfg
}

func TestNewWithRuntime_Wiring(t *testing.T) {
	gw := &pruneGateway{}
	a, err := NewWithRuntime(testConfig(t), gw)
	if err != nil {
		t.Fatalf("NewWithRuntime: %v", err)
	}
	if a.Reconciler() == nil {
		t.Fatal("expected a reconciler")
	}
	if a.store == nil {
		t.Error("expected the journal to be opened")
	}
	if a.matrix != nil {
		t.Error("matrix must stay disabled without credentials")
	}

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("GET /health = %d", rec.Code)
	}

	a.Stop()
	if gw.calls != 1 {
		t.Errorf("expected Stop to prune once, got %d", gw.calls)
	}
}

func TestNewWithRuntime_ListenerDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.ListenAddr = ""
	cfg.JournalPath = ""

	a, err := NewWithRuntime(cfg, &pruneGateway{})
	if err != nil {
		t.Fatalf("NewWithRuntime: %v", err)
	}
	defer a.Stop()
	if a.Handler() != nil {
		t.Error("expected no handler when listen_addr is empty")
	}
}

func TestNewWithRuntime_BadShmSize(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sandbox.ShmSize = "lots"
	if _, err := NewWithRuntime(cfg, &pruneGateway{}); err == nil {
		t.Fatal("expected an error for an invalid shm size")
	}
}
