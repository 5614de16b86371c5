// Package syncengine implements spec.md §4.11's SyncEngine: draining the
// offline transaction queue once connectivity returns. Fan-out is bounded
// with golang.org/x/sync/errgroup and its SetLimit rather than a dedicated
// worker-pool dependency — none of the pack's repos pull one in for this
// shape of job, and the teacher favors plain sync/channels for concurrency
// throughout (src/chainadapter/rpc.HTTPRPCClient, ratelimit.RateLimiter).
package syncengine

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/yourusername/airchainpay/internal/apperr"
	"github.com/yourusername/airchainpay/internal/models"
	"github.com/yourusername/airchainpay/internal/services/audit"
	"github.com/yourusername/airchainpay/internal/services/gaspolicy"
	"github.com/yourusername/airchainpay/internal/services/metatx"
	"github.com/yourusername/airchainpay/internal/services/txqueue"
	"github.com/yourusername/airchainpay/internal/services/walletvault"
	"github.com/yourusername/airchainpay/internal/utils"
)

const (
	maxConcurrent = 2
	batchPause    = 1 * time.Second
	repriceAfter  = 6 * time.Minute
	// markerCalldataGas is gas headroom for the 4-byte signature-trailer
	// marker appended to every direct broadcast's calldata (4 non-zero
	// bytes at 16 gas each, plus margin).
	markerCalldataGas = 80
)

// Adapter is the subset of chainadapter.EVMAdapter SyncEngine depends on.
type Adapter interface {
	GasPrice(ctx context.Context) (*big.Int, error)
	BroadcastRelay(ctx context.Context, signedRaw string) (string, error)
	BroadcastRaw(ctx context.Context, signed *types.Transaction) (string, error)
}

// DebitFunc releases a chain/token's offline-committed tracking once a
// queued tx has been durably broadcast, mirroring expiry.DebitFunc's shape.
type DebitFunc func(chain models.ChainID, token models.TokenSpec, amount *models.BigDecimal)

// Deps bundles an Engine's constructor dependencies.
type Deps struct {
	Chain      models.ChainEntry
	Queue      *txqueue.Queue
	Adapter    Adapter
	Vault      *walletvault.Vault
	FromAddr   string
	MaxRetries int
	Debit      DebitFunc
	Audit      *audit.Logger // optional; nil disables operation auditing
	Log        zerolog.Logger
}

// Engine drains one chain's queue with bounded concurrency.
type Engine struct {
	chain      models.ChainEntry
	queue      *txqueue.Queue
	adapter    Adapter
	vault      *walletvault.Vault
	fromAddr   string
	maxRetries int
	debit      DebitFunc
	audit      *audit.Logger
	log        zerolog.Logger
}

// New constructs an Engine.
func New(d Deps) *Engine {
	return &Engine{
		chain: d.Chain, queue: d.Queue, adapter: d.Adapter, vault: d.Vault,
		fromAddr: d.FromAddr, maxRetries: d.MaxRetries, debit: d.Debit,
		audit: d.Audit, log: d.Log,
	}
}

func (e *Engine) logAudit(tx models.QueuedTx, status string, cause error) {
	if e.audit == nil {
		return
	}
	entry := audit.Entry{ID: utils.NewID(), Chain: e.chain.ID, TxID: tx.ID, Timestamp: time.Now(), Operation: "sync_broadcast", Status: status}
	if cause != nil {
		entry.FailureReason = cause.Error()
	}
	_ = e.audit.Log(entry)
}

// Sync drains every models.TxQueued entry, at most maxConcurrent at a time,
// pacing 1s between batches. Already pending/completed/failed/cancelled/
// expired txs are left untouched, which is what makes re-running Sync with
// no network change idempotent.
func (e *Engine) Sync(ctx context.Context) {
	pending := e.queue.ListByStatus(models.TxQueued)

	for i := 0; i < len(pending); i += maxConcurrent {
		end := i + maxConcurrent
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[i:end]

		group, groupCtx := errgroup.WithContext(ctx)
		group.SetLimit(maxConcurrent)
		for _, tx := range batch {
			group.Go(func() error {
				e.processOne(groupCtx, tx)
				return nil
			})
		}
		_ = group.Wait()

		if end < len(pending) {
			select {
			case <-ctx.Done():
				return
			case <-time.After(batchPause):
			}
		}
	}
}

func (e *Engine) processOne(ctx context.Context, tx models.QueuedTx) {
	var lastErr error

	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff(attempt)):
			}
		}

		hash, err := e.attempt(ctx, &tx)
		if err == nil {
			e.markBroadcast(tx, hash)
			return
		}
		lastErr = err
		tx.RetryCount = attempt + 1
	}

	e.markFailed(tx, lastErr)
}

func backoff(attempt int) time.Duration {
	return time.Duration(1<<uint(attempt)) * time.Second
}

// attempt tries a relay broadcast first, falling back to a direct on-chain
// broadcast signed by this wallet's own key.
func (e *Engine) attempt(ctx context.Context, tx *models.QueuedTx) (string, error) {
	age := time.Since(tx.CreatedAt)

	hash, relayErr := e.adapter.BroadcastRelay(ctx, tx.SignedRaw)
	if relayErr == nil {
		return hash, nil
	}
	e.log.Warn().Err(relayErr).Str("tx_id", tx.ID).Msg("relay broadcast failed, falling back to onchain")

	signed, err := e.buildOnChainTx(ctx, tx, age)
	if err != nil {
		return "", err
	}
	return e.adapter.BroadcastRaw(ctx, signed)
}

func (e *Engine) buildOnChainTx(ctx context.Context, tx *models.QueuedTx, age time.Duration) (*types.Transaction, error) {
	shape := gaspolicy.ShapeNativeTransfer
	if !tx.Token.IsNative {
		shape = gaspolicy.ShapeERC20Transfer
	}
	gasLimit := defaultGasLimit(shape) + markerCalldataGas

	// Re-priced here rather than before the relay attempt: a meta-tx relay
	// submission is a pre-signed typed-data payload with no gas price field
	// of its own, so there is nothing to re-price until this fallback
	// actually needs to build its own legacy transaction.
	networkWei, err := e.adapter.GasPrice(ctx)
	if err != nil {
		return nil, err
	}
	targetGwei := weiToGwei(networkWei)

	if age > repriceAfter {
		originalGwei := targetGwei
		if tx.Metadata.AdjustedGasPrice != "" {
			if parsed, perr := strconv.ParseFloat(tx.Metadata.AdjustedGasPrice, 64); perr == nil {
				originalGwei = parsed
			}
		}
		targetGwei = gaspolicy.AdjustForDelay(originalGwei, age.Hours(), targetGwei)
	}
	gasPriceWei := models.GweiToWei(targetGwei)

	amount, err := models.ParseAmount(tx.Amount, tx.Token.Decimals)
	if err != nil {
		return nil, apperr.Newf(apperr.PersistenceFailure, "tx %s: re-parsing amount: %v", tx.ID, err)
	}

	var to common.Address
	var value *big.Int
	var data []byte

	if tx.Token.IsNative {
		to = common.HexToAddress(tx.To)
		value = amount.BaseUnits
	} else {
		to = common.HexToAddress(tx.Token.Address)
		value = big.NewInt(0)
		data = erc20TransferData(common.HexToAddress(tx.To), amount.BaseUnits)
	}
	// Stamp the signature-trailer marker as trailing calldata: this is the
	// one broadcast path that puts this wallet's own address in the tx's
	// "from" field, which is what crosswallet.Monitor's RecentTxsFrom scan
	// keys off of, so it's the one place the marker needs to actually land
	// on-chain to be observed later.
	data = append(data, metatx.ReferenceMarker...)

	unsigned := types.NewTx(&types.LegacyTx{
		Nonce:    tx.Nonce,
		To:       &to,
		Value:    value,
		Gas:      gasLimit,
		GasPrice: gasPriceWei,
		Data:     data,
	})

	return e.vault.SignTx(unsigned, big.NewInt(e.chain.NumericChainID))
}

func erc20TransferData(to common.Address, amount *big.Int) []byte {
	selector := crypto.Keccak256([]byte("transfer(address,uint256)"))[:4]
	data := make([]byte, 0, 4+32+32)
	data = append(data, selector...)
	data = append(data, common.LeftPadBytes(to.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(amount.Bytes(), 32)...)
	return data
}

func defaultGasLimit(shape gaspolicy.TxShape) uint64 {
	switch shape {
	case gaspolicy.ShapeERC20Transfer:
		return 65_000
	default:
		return 21_000
	}
}

func weiToGwei(wei *big.Int) float64 {
	f := new(big.Float).SetInt(wei)
	f.Quo(f, big.NewFloat(1e9))
	out, _ := f.Float64()
	return out
}

func (e *Engine) markBroadcast(tx models.QueuedTx, hash string) {
	status := models.TxPending
	note := fmt.Sprintf("broadcast: %s", hash)
	if err := e.queue.Update(tx.ID, txqueue.Patch{Status: &status, Error: &note}); err != nil {
		e.log.Error().Err(err).Str("tx_id", tx.ID).Msg("failed to mark tx pending")
		return
	}
	if e.debit != nil {
		if amount, err := models.ParseAmount(tx.Amount, tx.Token.Decimals); err == nil {
			e.debit(tx.Chain, tx.Token, amount)
		}
	}
	e.logAudit(tx, "success", nil)
}

func (e *Engine) markFailed(tx models.QueuedTx, cause error) {
	status := models.TxFailed
	msg := "broadcast failed"
	if cause != nil {
		msg = cause.Error()
	}
	retries := tx.RetryCount
	if err := e.queue.Update(tx.ID, txqueue.Patch{Status: &status, Error: &msg, RetryCount: &retries}); err != nil {
		e.log.Error().Err(err).Str("tx_id", tx.ID).Msg("failed to mark tx failed")
	}
	e.logAudit(tx, "failure", cause)
}
