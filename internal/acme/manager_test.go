package acme

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/rsclarke/echohook/internal/kv"
)

func TestHTTPChallengeHandler_PassesThrough(t *testing.T) {
	m := NewManager("hooks.example.com", "ops@example.com", true, FileStorage(t.TempDir()), nil)

	var called bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	m.HTTPChallengeHandler(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/bins", nil))

	if !called {
		t.Fatal("expected next handler to be called")
	}
	if rec.Code != http.StatusTeapot {
		t.Errorf("expected status %d, got %d", http.StatusTeapot, rec.Code)
	}
}

func TestManage_RequiresDomain(t *testing.T) {
	m := NewManager("", "", true, FileStorage(t.TempDir()), nil)
	if err := m.Manage(context.Background()); err == nil {
		t.Fatal("expected error for empty domain")
	}
}

func TestTLSConfig_OffersALPNChallenge(t *testing.T) {
	m := NewManager("hooks.example.com", "", true, FileStorage(t.TempDir()), nil)

	cfg := m.TLSConfig()
	if cfg == nil {
		t.Fatal("expected TLS config")
	}
	if cfg.GetCertificate == nil {
		t.Error("expected GetCertificate to be set")
	}

	var found bool
	for _, p := range cfg.NextProtos {
		if p == "acme-tls/1" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected acme-tls/1 in NextProtos, got %v", cfg.NextProtos)
	}
}

func TestSQLiteStorage_SharesKVDatabase(t *testing.T) {
	store, err := kv.OpenSQLite(filepath.Join(t.TempDir(), "echohook.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer store.Close()

	storage, err := SQLiteStorage(store.DB())
	if err != nil {
		t.Fatalf("SQLiteStorage: %v", err)
	}

	ctx := context.Background()
	if err := storage.Store(ctx, "certificates/test/key", []byte("pem")); err != nil {
		t.Fatalf("Store: %v", err)
	}
	got, err := storage.Load(ctx, "certificates/test/key")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if string(got) != "pem" {
		t.Errorf("expected pem, got %q", got)
	}

	if err := store.Put(ctx, "bin:x", []byte("{}")); err != nil {
		t.Fatalf("kv Put after storage init: %v", err)
	}
}
