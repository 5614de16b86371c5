// Package audit implements an append-only NDJSON operation log for
// security-relevant events in the payment core: admission decisions, sync
// broadcasts, and expiry/cancellation outcomes. Grounded on the teacher's
// own AuditLogger (wallet-operation NDJSON logging), generalized from
// wallet-identity-scoped entries to chain/transaction-scoped ones, since
// this core mediates one wallet across many chains rather than many wallets.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/yourusername/airchainpay/internal/models"
)

// Entry is one logged operation.
type Entry struct {
	ID            string         `json:"id"`
	Chain         models.ChainID `json:"chain"`
	TxID          string         `json:"txId,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
	Operation     string         `json:"operation"` // admission, sync_broadcast, expiry, cancel
	Status        string         `json:"status"`    // success, failure
	FailureReason string         `json:"failureReason,omitempty"`
}

// Logger appends Entry values to an NDJSON file.
type Logger struct {
	filePath string
	mu       sync.Mutex
}

// New creates a Logger writing to filePath, creating its parent directory.
func New(filePath string) (*Logger, error) {
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("creating audit log directory: %w", err)
	}
	return &Logger{filePath: filePath}, nil
}

// Log appends entry to the log file, syncing to disk before returning.
func (l *Logger) Log(entry Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	file, err := os.OpenFile(l.filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
	}
	defer file.Close()

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling audit entry: %w", err)
	}
	if _, err := file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing audit entry: %w", err)
	}
	return file.Sync()
}

// ReadAll returns every entry recorded so far, in write order. A missing log
// file is not an error: it reads as an empty history.
func (l *Logger) ReadAll() ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := os.ReadFile(l.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading audit log: %w", err)
	}

	var entries []Entry
	start := 0
	for i := 0; i <= len(data); i++ {
		if i == len(data) || data[i] == '\n' {
			if i > start {
				var entry Entry
				if err := json.Unmarshal(data[start:i], &entry); err == nil {
					entries = append(entries, entry)
				}
			}
			start = i + 1
		}
	}
	return entries, nil
}
