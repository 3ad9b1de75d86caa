package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/changrenyuan/laicai-ETH-BTC-OKX/internal/config"
)

func TestNewSQLite_CreatesDataDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "events.db")

	st, err := NewSQLite(config.DatabaseConfig{Path: path, MaxOpenConns: 1})
	if err != nil {
		t.Fatalf("NewSQLite returned error: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	if _, err := os.Stat(filepath.Dir(path)); err != nil {
		t.Fatalf("data directory not created: %v", err)
	}

	var mode string
	if err := st.DB().QueryRow("PRAGMA journal_mode;").Scan(&mode); err != nil {
		t.Fatalf("query journal_mode returned error: %v", err)
	}
	if mode != "wal" {
		t.Fatalf("journal_mode = %q, want wal", mode)
	}
}

func TestNewSQLite_InMemory(t *testing.T) {
	st, err := NewSQLite(config.DatabaseConfig{InMemory: true, MaxOpenConns: 1})
	if err != nil {
		t.Fatalf("NewSQLite returned error: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	if _, err := st.DB().Exec("CREATE TABLE smoke (id INTEGER)"); err != nil {
		t.Fatalf("exec on in-memory store returned error: %v", err)
	}
}
