package updater

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"phishguard/internal/config"
	"phishguard/internal/repository"
)

func setupTestDB(t *testing.T) *repository.BlacklistDB {
	// Create a temp directory that automatically deletes after test
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test_phishguard.db")

	db := &repository.BlacklistDB{}

	// InitDB will create the file and set WAL mode
	if err := db.InitDB(dbPath); err != nil {
		t.Fatalf("Failed to init DB: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return db
}

func blocklist(t *testing.T, db *repository.BlacklistDB) []string {
	t.Helper()
	list, err := db.GetBlocklist(context.Background())
	if err != nil {
		t.Fatalf("DB Error: %v", err)
	}
	return list
}

func TestRun_Integration(t *testing.T) {
	mockServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Simulating ETag Logic
		if r.Header.Get("If-None-Match") == "v1.0" {
			w.WriteHeader(http.StatusNotModified)
			return
		}

		w.Header().Set("ETag", "v1.0")
		w.WriteHeader(http.StatusOK)

		// Return a fake CSV file
		w.Write([]byte(`id,phish_url
100,http://virus.test/login
101,trojan.test`))
	}))
	defer mockServer.Close()

	db := setupTestDB(t)
	ctx := context.Background()

	// Define Config pointing to Mock Server
	sources := []config.SourceConfig{
		{
			Name:         "test_feed",
			URL:          mockServer.URL, // Point to localhost mock
			Format:       "csv",
			TargetColumn: "phish_url",
		},
	}

	// --- TEST PASS 1: Initial Download ---
	t.Log("Running Pass 1 (Fresh Download)...")
	if n := Run(ctx, db, sources); n != 1 {
		t.Errorf("Pass 1: expected 1 updated source, got %d", n)
	}

	if list := blocklist(t, db); len(list) != 2 {
		t.Errorf("Pass 1: Expected 2 rules, got %d", len(list))
	}

	// Verify ETag was saved
	savedTag := db.GetETag("test_feed_" + mockServer.URL)
	if savedTag != "v1.0" {
		t.Errorf("Pass 1: Expected ETag 'v1.0', got '%s'", savedTag)
	}

	// --- TEST PASS 2: Cached (304 Not Modified) ---
	t.Log("Running Pass 2 (Should be Cached)...")

	// Server returns 304, DB is NOT touched/wiped
	if n := Run(ctx, db, sources); n != 0 {
		t.Errorf("Pass 2: expected no updated sources, got %d", n)
	}

	if list := blocklist(t, db); len(list) != 2 {
		t.Errorf("Pass 2: DB corrupted after 304. Expected 2 rules, got %d", len(list))
	}
}

// TestRun_MultiSource ensures two sources don't overwrite each other
func TestRun_MultiSource(t *testing.T) {
	// Mock Server 1 (Hosts)
	srv1 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("0.0.0.0 host1.com"))
	}))
	defer srv1.Close()

	// Mock Server 2 (JSON)
	srv2 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"url": "https://host2.com/verify"}]`))
	}))
	defer srv2.Close()

	// Mock Server 3 (Broken)
	srv3 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv3.Close()

	db := setupTestDB(t)

	sources := []config.SourceConfig{
		{Name: "source_a", URL: srv1.URL, Format: "hosts"},
		{Name: "source_b", URL: srv2.URL, Format: "json", TargetColumn: "url"},
		{Name: "source_c", URL: srv3.URL, Format: "text"},
	}

	if n := Run(context.Background(), db, sources); n != 2 {
		t.Errorf("expected 2 updated sources, got %d", n)
	}

	// We expect 2 rules total
	if list := blocklist(t, db); len(list) != 2 {
		t.Errorf("Expected 2 total rules from mixed sources, got %v", list)
	}
}

// brokenStore fails every import before reading a single rule.
type brokenStore struct{}

func (brokenStore) GetETag(string) string                  { return "" }
func (brokenStore) UpdateETag(string, string) error        { return nil }
func (brokenStore) SyncUserRules([]string, []string) error { return nil }
func (brokenStore) StreamSync(<-chan repository.Rule, string) (int, error) {
	return 0, errors.New("database is locked")
}

func TestRun_StoreFailureDoesNotHang(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Larger than the rule buffer, so the parser would block on a stalled consumer.
		for i := 0; i < 5000; i++ {
			fmt.Fprintf(w, "host%d.test\n", i)
		}
	}))
	defer srv.Close()

	sources := []config.SourceConfig{{Name: "big", URL: srv.URL, Format: "text"}}
	result := make(chan int, 1)
	go func() { result <- Run(context.Background(), brokenStore{}, sources) }()

	select {
	case n := <-result:
		if n != 0 {
			t.Errorf("a failed import should not count as updated, got %d", n)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run hung after the store failed")
	}
}

func TestSync_UserRules(t *testing.T) {
	db := setupTestDB(t)

	cfg := config.BlockingConfig{Blacklist: []string{"mine.test"}}
	if changed := Sync(context.Background(), db, cfg); changed {
		t.Error("no feeds configured, nothing should report as changed")
	}
	if list := blocklist(t, db); len(list) != 1 || list[0] != "mine.test" {
		t.Errorf("user blacklist not applied: %v", list)
	}
}

func TestLoop_ReloadsAfterUpdate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("loop.test\n"))
	}))
	defer srv.Close()

	db := setupTestDB(t)
	cfg := config.BlockingConfig{
		UpdateInterval: 10 * time.Millisecond,
		Sources:        []config.SourceConfig{{Name: "loop", URL: srv.URL, Format: "text"}},
	}

	ctx, cancel := context.WithCancel(context.Background())
	reloaded := make(chan struct{}, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		Loop(ctx, db, cfg, func(context.Context) error {
			select {
			case reloaded <- struct{}{}:
			default:
			}
			return nil
		})
	}()

	select {
	case <-reloaded:
	case <-time.After(5 * time.Second):
		t.Error("onUpdate was never called")
	}
	cancel()
	<-done
}
