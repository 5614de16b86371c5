package expiry

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/yourusername/airchainpay/internal/models"
	"github.com/yourusername/airchainpay/internal/services/audit"
	"github.com/yourusername/airchainpay/internal/services/txqueue"
	"github.com/yourusername/airchainpay/internal/storage"
)

const testChain = models.ChainID("base-sepolia")

func newTestQueue(t *testing.T) *txqueue.Queue {
	t.Helper()
	kv := storage.NewFileKVStore(t.TempDir())
	q, err := txqueue.Open(kv)
	if err != nil {
		t.Fatalf("txqueue.Open: %v", err)
	}
	return q
}

func newTestService(t *testing.T, q *txqueue.Queue, debit DebitFunc, auditLog *audit.Logger) *Service {
	t.Helper()
	kv := storage.NewFileKVStore(t.TempDir())
	cfg := Config{
		MaxOfflineDuration: time.Hour,
		WarningThreshold:   10 * time.Minute,
		CleanupPeriod:      time.Minute,
		MaxRetries:         3,
		RetryDelay:         time.Second,
	}
	return New(cfg, map[models.ChainID]*txqueue.Queue{testChain: q}, kv, debit, auditLog, zerolog.Nop())
}

func queueTx(t *testing.T, q *txqueue.Queue, id string, age time.Duration) models.QueuedTx {
	t.Helper()
	tx := models.QueuedTx{
		ID: id, Chain: testChain, To: "0xabc", Amount: "1.0",
		Token:     models.TokenSpec{Symbol: "ETH", Decimals: 18, IsNative: true},
		CreatedAt: time.Now().Add(-age),
		Status:    models.TxQueued,
	}
	if err := q.Add(tx); err != nil {
		t.Fatalf("queue.Add: %v", err)
	}
	return tx
}

func TestSweepCleanupExpiresStaleTx(t *testing.T) {
	q := newTestQueue(t)
	queueTx(t, q, "tx-1", 2*time.Hour)

	var debited bool
	svc := newTestService(t, q, func(chain models.ChainID, token models.TokenSpec, amount *models.BigDecimal) {
		debited = true
	}, nil)

	svc.sweepCleanup()

	tx := q.Get("tx-1")
	if tx.Status != models.TxExpired {
		t.Fatalf("expected tx to be expired, got %s", tx.Status)
	}
	if !debited {
		t.Fatal("expected debit to be called for the expired tx")
	}
	if len(svc.history) != 1 {
		t.Fatalf("expected one history record, got %d", len(svc.history))
	}
}

func TestSweepCleanupLeavesFreshTxAlone(t *testing.T) {
	q := newTestQueue(t)
	queueTx(t, q, "tx-1", 5*time.Minute)

	svc := newTestService(t, q, nil, nil)
	svc.sweepCleanup()

	tx := q.Get("tx-1")
	if tx.Status != models.TxQueued {
		t.Fatalf("expected tx to remain queued, got %s", tx.Status)
	}
}

func TestSweepWarningsEmitsApproachingExpiry(t *testing.T) {
	q := newTestQueue(t)
	queueTx(t, q, "tx-1", 55*time.Minute)

	svc := newTestService(t, q, nil, nil)
	svc.sweepWarnings()

	select {
	case w := <-svc.warnCh:
		if w.TxID != "tx-1" {
			t.Fatalf("unexpected warning: %+v", w)
		}
	default:
		t.Fatal("expected a warning to be emitted")
	}
}

func TestCancelRejectsNonQueuedStatus(t *testing.T) {
	q := newTestQueue(t)
	queueTx(t, q, "tx-1", 0)
	svc := newTestService(t, q, nil, nil)

	if err := svc.Cancel(testChain, "tx-1"); err != nil {
		t.Fatalf("first cancel should succeed: %v", err)
	}
	if err := svc.Cancel(testChain, "tx-1"); err == nil {
		t.Fatal("second cancel should fail: tx is no longer queued")
	}
}

func TestCancelDebitsTrackedAmount(t *testing.T) {
	q := newTestQueue(t)
	queueTx(t, q, "tx-1", 0)

	var gotAmount *models.BigDecimal
	svc := newTestService(t, q, func(chain models.ChainID, token models.TokenSpec, amount *models.BigDecimal) {
		gotAmount = amount
	}, nil)

	if err := svc.Cancel(testChain, "tx-1"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if gotAmount == nil {
		t.Fatal("expected debit to be invoked with a parsed amount")
	}
}

func TestExpireAndCancelWriteAuditEntries(t *testing.T) {
	dir := t.TempDir()
	auditLog, err := audit.New(filepath.Join(dir, "audit.ndjson"))
	if err != nil {
		t.Fatalf("audit.New: %v", err)
	}

	q := newTestQueue(t)
	queueTx(t, q, "tx-1", 2*time.Hour)
	svc := newTestService(t, q, nil, auditLog)
	svc.sweepCleanup()

	q2 := newTestQueue(t)
	queueTx(t, q2, "tx-2", 0)
	svc2 := newTestService(t, q2, nil, auditLog)
	if err := svc2.Cancel(testChain, "tx-2"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	entries, err := auditLog.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 audit entries, got %d", len(entries))
	}
	if entries[0].Operation != "expiry" || entries[1].Operation != "cancel" {
		t.Fatalf("unexpected audit operations: %+v", entries)
	}
}
