// Package expiry implements spec.md §4.10's ExpiryService: a durable
// sweeper that warns, cancels, and releases funds for stale queued
// transactions. It is grounded on the teacher's
// ethereum.FeeEstimator.SubscribeFeeUpdates ticker-plus-channel pattern
// (arcsign's src/chainadapter/ethereum/fee.go), generalized here from
// "poll for new blocks, push fee estimates" to "poll for stale queue
// entries, sweep them" — the same two-ticker-goroutines shape the teacher
// uses for a single poll loop, doubled for the independent warning and
// cleanup cadences spec.md §4.10 requires.
package expiry

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/yourusername/airchainpay/internal/apperr"
	"github.com/yourusername/airchainpay/internal/models"
	"github.com/yourusername/airchainpay/internal/services/audit"
	"github.com/yourusername/airchainpay/internal/services/txqueue"
	"github.com/yourusername/airchainpay/internal/storage"
	"github.com/yourusername/airchainpay/internal/utils"
)

const (
	warningInterval = 15 * time.Minute
	historyKey      = "expired_transactions_history"
	historyCap      = 100
)

// Config mirrors spec.md §6's expiry table.
type Config struct {
	MaxOfflineDuration time.Duration
	WarningThreshold   time.Duration
	CleanupPeriod      time.Duration
	MaxRetries         int
	RetryDelay         time.Duration
}

// Severity is the severity of an emitted expiry warning.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Warning is emitted for a queued tx approaching its expiry.
type Warning struct {
	TxID     string
	Chain    models.ChainID
	Age      time.Duration
	Severity Severity
}

// DebitFunc is called to release funds tracked against a chain/token when a
// tx expires, since ExpiryService does not own OfflineBalanceTracking
// directly (OfflineAdmission's Pipeline does, guarded by the same per-chain
// writer lock).
type DebitFunc func(chain models.ChainID, token models.TokenSpec, amount *models.BigDecimal)

// Service is one configured sweeper over a set of per-chain queues.
type Service struct {
	cfg    Config
	queues map[models.ChainID]*txqueue.Queue
	kv     storage.KVStore
	debit  DebitFunc
	audit  *audit.Logger
	log    zerolog.Logger
	warnCh chan Warning

	mu      sync.Mutex
	history []models.ExpiredTxRecord
}

// New constructs a Service over the given per-chain queues. audit may be nil
// to disable operation auditing.
func New(cfg Config, queues map[models.ChainID]*txqueue.Queue, kv storage.KVStore, debit DebitFunc, auditLog *audit.Logger, log zerolog.Logger) *Service {
	s := &Service{cfg: cfg, queues: queues, kv: kv, debit: debit, audit: auditLog, log: log, warnCh: make(chan Warning, 32)}
	s.loadHistory()
	return s
}

func (s *Service) logAudit(chain models.ChainID, txID, operation, status string) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Log(audit.Entry{
		ID: utils.NewID(), Chain: chain, TxID: txID, Timestamp: time.Now(),
		Operation: operation, Status: status,
	})
}

// Warnings exposes the channel TRANSACTION_EXPIRY_WARNING events are sent on.
func (s *Service) Warnings() <-chan Warning {
	return s.warnCh
}

func (s *Service) loadHistory() {
	data, err := s.kv.Get(historyKey)
	if err != nil {
		return
	}
	_ = json.Unmarshal(data, &s.history)
}

func (s *Service) saveHistory() {
	data, err := json.Marshal(s.history)
	if err != nil {
		return
	}
	_ = s.kv.Put(historyKey, data)
}

// Run starts the two sweeper goroutines and blocks until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		ticker := time.NewTicker(warningInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweepWarnings()
			}
		}
	}()

	go func() {
		defer wg.Done()
		ticker := time.NewTicker(s.cfg.CleanupPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweepCleanup()
			}
		}
	}()

	wg.Wait()
	close(s.warnCh)
}

func (s *Service) sweepWarnings() {
	now := time.Now()
	warnStart := s.cfg.MaxOfflineDuration - s.cfg.WarningThreshold
	criticalStart := s.cfg.MaxOfflineDuration - 2*time.Hour

	for chain, q := range s.queues {
		for _, tx := range q.ListByStatus(models.TxQueued) {
			age := now.Sub(tx.CreatedAt)
			if age < warnStart {
				continue
			}
			severity := SeverityWarning
			if age >= criticalStart {
				severity = SeverityCritical
			}
			s.emit(Warning{TxID: tx.ID, Chain: chain, Age: age, Severity: severity})
		}
	}
}

func (s *Service) emit(w Warning) {
	select {
	case s.warnCh <- w:
	default:
	}
}

func (s *Service) sweepCleanup() {
	now := time.Now()
	for chain, q := range s.queues {
		for _, tx := range q.ListByStatus(models.TxQueued) {
			if now.Sub(tx.CreatedAt) < s.cfg.MaxOfflineDuration {
				continue
			}
			s.expireOne(chain, q, tx, "max_offline_duration exceeded")
		}
	}
}

func (s *Service) expireOne(chain models.ChainID, q *txqueue.Queue, tx models.QueuedTx, reason string) {
	expired := models.TxExpired
	if err := q.Update(tx.ID, txqueue.Patch{Status: &expired}); err != nil {
		s.log.Error().Err(err).Str("tx_id", tx.ID).Msg("failed to mark tx expired")
		return
	}

	amount, err := models.ParseAmount(tx.Amount, tx.Token.Decimals)
	if err == nil && s.debit != nil {
		s.debit(chain, tx.Token, amount)
	}

	s.mu.Lock()
	s.history = append(s.history, models.ExpiredTxRecord{
		TxID: tx.ID, Chain: chain, Amount: tx.Amount, Reason: reason, ExpiredAt: time.Now(),
	})
	if len(s.history) > historyCap {
		s.history = s.history[len(s.history)-historyCap:]
	}
	s.saveHistory()
	s.mu.Unlock()

	s.logAudit(chain, tx.ID, "expiry", "expired")
}

// Cancel is the manual equivalent of expiry, allowed only from a terminal-
// eligible queued state. It never modifies on-chain nonce; the next
// admitted transaction reuses the freed nonce slot.
func (s *Service) Cancel(chain models.ChainID, id string) error {
	q, ok := s.queues[chain]
	if !ok {
		return apperr.Newf(apperr.ChainUnsupported, "chain %q not configured", chain)
	}
	tx := q.Get(id)
	if tx == nil {
		return apperr.Newf(apperr.PersistenceFailure, "tx %s not found", id)
	}
	if tx.Status != models.TxQueued {
		return apperr.Newf(apperr.PersistenceFailure, "tx %s is not in a cancellable state (%s)", id, tx.Status)
	}

	cancelled := models.TxCancelled
	if err := q.Update(id, txqueue.Patch{Status: &cancelled}); err != nil {
		return err
	}

	amount, err := models.ParseAmount(tx.Amount, tx.Token.Decimals)
	if err == nil && s.debit != nil {
		s.debit(chain, tx.Token, amount)
	}
	s.logAudit(chain, tx.ID, "cancel", "cancelled")
	return nil
}
