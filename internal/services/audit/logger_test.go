package audit

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/yourusername/airchainpay/internal/models"
)

func TestLoggerLogAndReadAll(t *testing.T) {
	dir := t.TempDir()
	logger, err := New(filepath.Join(dir, "nested", "audit.ndjson"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	entries := []Entry{
		{ID: "1", Chain: models.ChainID("base-sepolia"), TxID: "tx-1", Timestamp: time.Now(), Operation: "admission", Status: "success"},
		{ID: "2", Chain: models.ChainID("base-sepolia"), TxID: "tx-2", Timestamp: time.Now(), Operation: "sync_broadcast", Status: "failure", FailureReason: "rpc unavailable"},
	}
	for _, e := range entries {
		if err := logger.Log(e); err != nil {
			t.Fatalf("Log: %v", err)
		}
	}

	got, err := logger.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0].TxID != "tx-1" || got[1].TxID != "tx-2" {
		t.Fatalf("entries out of write order: %+v", got)
	}
	if got[1].FailureReason != "rpc unavailable" {
		t.Fatalf("expected failure reason preserved, got %q", got[1].FailureReason)
	}
}

func TestLoggerReadAllMissingFileIsEmpty(t *testing.T) {
	dir := t.TempDir()
	logger, err := New(filepath.Join(dir, "audit.ndjson"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got, err := logger.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll on missing file should not error: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil history for a missing log, got %+v", got)
	}
}

func TestLoggerAppendsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.ndjson")

	first, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := first.Log(Entry{ID: "1", Operation: "admission", Status: "success", Timestamp: time.Now()}); err != nil {
		t.Fatalf("Log: %v", err)
	}

	second, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := second.Log(Entry{ID: "2", Operation: "expiry", Status: "expired", Timestamp: time.Now()}); err != nil {
		t.Fatalf("Log: %v", err)
	}

	got, err := second.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected entries from both instances, got %d", len(got))
	}
}
