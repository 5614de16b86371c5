// Package txqueue implements spec.md §4.7's durable ordered transaction log.
// It is grounded on the teacher's
// wallet.WalletService.saveWalletMetadata / storage.AtomicWriteFile
// discipline (arcsign): encode the whole document, write to a temp file,
// rename over the target, generalized here from "one wallet's metadata" to
// "the whole queue", which is exactly what gives §4.7's crash-safety
// property — either the full updated queue is written or none.
package txqueue

import (
	"encoding/json"
	"sync"

	"github.com/yourusername/airchainpay/internal/apperr"
	"github.com/yourusername/airchainpay/internal/models"
	"github.com/yourusername/airchainpay/internal/storage"
)

const storageKey = "tx_queue"

// Queue is the in-memory-indexed, disk-persisted ordered log of QueuedTx.
type Queue struct {
	mu    sync.Mutex
	kv    storage.KVStore
	order []string
	byID  map[string]*models.QueuedTx
}

// Open loads an existing queue document from kv, or starts empty.
func Open(kv storage.KVStore) (*Queue, error) {
	q := &Queue{kv: kv, byID: make(map[string]*models.QueuedTx)}

	raw, err := kv.Get(storageKey)
	if err != nil {
		if err == storage.ErrNotFound {
			return q, nil
		}
		return nil, apperr.Newf(apperr.PersistenceFailure, "loading tx queue: %v", err)
	}

	var txs []*models.QueuedTx
	if err := json.Unmarshal(raw, &txs); err != nil {
		return nil, apperr.Newf(apperr.PersistenceFailure, "decoding tx queue: %v", err)
	}
	for _, tx := range txs {
		q.order = append(q.order, tx.ID)
		q.byID[tx.ID] = tx
	}
	return q, nil
}

// Add appends tx to the queue. It fails if tx.ID already exists.
func (q *Queue) Add(tx models.QueuedTx) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.byID[tx.ID]; exists {
		return apperr.Newf(apperr.PersistenceFailure, "tx %s already queued", tx.ID)
	}

	copied := tx
	q.order = append(q.order, tx.ID)
	q.byID[tx.ID] = &copied
	return q.flushLocked()
}

// Patch is the only mutation TxQueue.Update permits: status, error, and
// retry_count. signed_raw and every other field are immutable after Add.
type Patch struct {
	Status     *models.TxStatus
	Error      *string
	RetryCount *int
}

// Update applies patch to the tx with the given id.
func (q *Queue) Update(id string, patch Patch) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	tx, ok := q.byID[id]
	if !ok {
		return apperr.Newf(apperr.PersistenceFailure, "tx %s not found", id)
	}
	if patch.Status != nil {
		tx.Status = *patch.Status
	}
	if patch.Error != nil {
		tx.Error = *patch.Error
	}
	if patch.RetryCount != nil {
		tx.RetryCount = *patch.RetryCount
	}
	return q.flushLocked()
}

// Remove deletes the tx with the given id from the queue entirely.
func (q *Queue) Remove(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.byID[id]; !ok {
		return nil
	}
	delete(q.byID, id)
	for i, oid := range q.order {
		if oid == id {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
	return q.flushLocked()
}

// Get returns the tx with the given id, or nil.
func (q *Queue) Get(id string) *models.QueuedTx {
	q.mu.Lock()
	defer q.mu.Unlock()
	if tx, ok := q.byID[id]; ok {
		copied := *tx
		return &copied
	}
	return nil
}

// ListByStatus returns every tx with the given status, in insertion order.
func (q *Queue) ListByStatus(status models.TxStatus) []models.QueuedTx {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []models.QueuedTx
	for _, id := range q.order {
		tx := q.byID[id]
		if tx.Status == status {
			out = append(out, *tx)
		}
	}
	return out
}

// ListByChain returns every tx for the given chain, in insertion order.
func (q *Queue) ListByChain(chain models.ChainID) []models.QueuedTx {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []models.QueuedTx
	for _, id := range q.order {
		tx := q.byID[id]
		if tx.Chain == chain {
			out = append(out, *tx)
		}
	}
	return out
}

// QueueStatus returns a count of txs per state.
func (q *Queue) QueueStatus() map[models.TxStatus]int {
	q.mu.Lock()
	defer q.mu.Unlock()

	counts := make(map[models.TxStatus]int)
	for _, id := range q.order {
		counts[q.byID[id].Status]++
	}
	return counts
}

func (q *Queue) flushLocked() error {
	txs := make([]*models.QueuedTx, 0, len(q.order))
	for _, id := range q.order {
		txs = append(txs, q.byID[id])
	}
	data, err := json.Marshal(txs)
	if err != nil {
		return apperr.Newf(apperr.PersistenceFailure, "encoding tx queue: %v", err)
	}
	if err := q.kv.Put(storageKey, data); err != nil {
		return apperr.Newf(apperr.PersistenceFailure, "writing tx queue: %v", err)
	}
	return nil
}
