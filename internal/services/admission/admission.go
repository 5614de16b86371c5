// Package admission implements spec.md §4.8's eight-step OfflineAdmission
// pipeline: the gate every new payment must pass before it is persisted to
// TxQueue. The pipeline holds the per-chain writer lock (sync.Mutex) for its
// whole duration, per spec.md §5, and all of its dependencies
// (ChainAdapter, CrossWalletMonitor, GasPolicy, MetaTxBuilder, WalletVault,
// TxQueue) are injected via constructor rather than looked up from a
// singleton — the "process-wide singletons become explicit handles"
// redesign note in spec.md §9.
package admission

import (
	"context"
	"encoding/json"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/yourusername/airchainpay/internal/apperr"
	"github.com/yourusername/airchainpay/internal/models"
	"github.com/yourusername/airchainpay/internal/services/audit"
	"github.com/yourusername/airchainpay/internal/services/crosswallet"
	"github.com/yourusername/airchainpay/internal/services/gaspolicy"
	"github.com/yourusername/airchainpay/internal/services/metatx"
	"github.com/yourusername/airchainpay/internal/services/txqueue"
	"github.com/yourusername/airchainpay/internal/services/walletvault"
	"github.com/yourusername/airchainpay/internal/storage"
	"github.com/yourusername/airchainpay/internal/utils"
)

const (
	syncTimeout          = 10 * time.Second
	duplicateWindow      = 5 * time.Minute
	largeGapHardReject   = 100
	freshBalanceTTL      = 5 * time.Minute
)

// Adapter is the subset of chainadapter.EVMAdapter admission depends on.
type Adapter interface {
	Status(ctx context.Context) bool
	Balance(ctx context.Context, address string, token models.TokenSpec) (*big.Int, error)
	Nonce(ctx context.Context, address string) (uint64, error)
	GasPrice(ctx context.Context) (*big.Int, error)
}

// Request is the caller-supplied input to Admit.
type Request struct {
	Chain            models.ChainEntry
	To               string
	Amount           string // human decimal string, validated against Token.Decimals
	Token            models.TokenSpec
	PaymentReference string
	Transport        models.Transport
	Priority         gaspolicy.Priority
	OfflineOrigin    bool // true when the caller knows the device is currently offline
}

// Pipeline is one configured OfflineAdmission gate for a single chain.
type Pipeline struct {
	chain    models.ChainEntry
	adapter  Adapter
	monitor  *crosswallet.Monitor
	prices   *gaspolicy.PriceWindow
	metatx   *metatx.Builder
	vault    *walletvault.Vault
	queue    *txqueue.Queue
	kv       storage.KVStore
	fromAddr string
	log      zerolog.Logger
	audit    *audit.Logger

	mu       sync.Mutex // the per-chain writer lock spec.md §5 names
	balances map[string]models.SyncedBalanceSnapshot // keyed by token address ("" = native)
	nonce    models.NonceState
	tracking map[string]*models.BigDecimal // keyed by token address ("" = native)
}

// Deps bundles Pipeline's constructor dependencies.
type Deps struct {
	Chain     models.ChainEntry
	Adapter   Adapter
	Monitor   *crosswallet.Monitor
	Prices    *gaspolicy.PriceWindow
	MetaTx    *metatx.Builder
	Vault     *walletvault.Vault
	Queue     *txqueue.Queue
	KV        storage.KVStore
	FromAddr  string
	Log       zerolog.Logger
	Audit     *audit.Logger // optional; nil disables operation auditing
}

// New constructs a Pipeline for one chain.
func New(d Deps) *Pipeline {
	return &Pipeline{
		chain:    d.Chain,
		adapter:  d.Adapter,
		monitor:  d.Monitor,
		prices:   d.Prices,
		metatx:   d.MetaTx,
		vault:    d.Vault,
		queue:    d.Queue,
		kv:       d.KV,
		fromAddr: d.FromAddr,
		log:      d.Log,
		audit:    d.Audit,
		balances: make(map[string]models.SyncedBalanceSnapshot),
		tracking: make(map[string]*models.BigDecimal),
	}
}

// Admit runs the full eight-step pipeline. Either every step succeeds and
// the transaction is persisted with credited tracking, or nothing is
// persisted.
func (p *Pipeline) Admit(ctx context.Context, req Request) (tx *models.QueuedTx, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.audit != nil {
		defer func() {
			entry := audit.Entry{ID: utils.NewID(), Chain: p.chain.ID, Timestamp: time.Now(), Operation: "admission", Status: "success"}
			if err != nil {
				entry.Status = "failure"
				entry.FailureReason = err.Error()
			} else if tx != nil {
				entry.TxID = tx.ID
			}
			_ = p.audit.Log(entry)
		}()
	}

	// Step 1: force balance sync attempt (best-effort), scoped to the token
	// this request actually pays in — a fresh native snapshot says nothing
	// about an ERC20 balance, and vice versa.
	online := p.syncBalance(ctx, req.Token)
	if req.OfflineOrigin && !online && !p.balanceFor(req.Token).Fresh(time.Now(), freshBalanceTTL) {
		return nil, apperr.New(apperr.SyncRequired, "no fresh balance snapshot and sync failed")
	}

	// Step 2: cross-wallet reconciliation (soft warnings only here).
	if online && p.monitor != nil {
		if err := p.monitor.ReconcileNonce(ctx, p.chain.ID, &p.nonce); err != nil {
			p.log.Warn().Err(err).Msg("cross-wallet reconciliation failed, continuing")
		}
	}

	amount, err := models.ParseAmount(req.Amount, req.Token.Decimals)
	if err != nil {
		return nil, apperr.Newf(apperr.AmountInvalid, "%v", err)
	}

	// Step 3: balance check, against the synced balance of req.Token
	// specifically — not the chain's native balance.
	trackingKey := req.Token.Address
	pending := p.trackingFor(trackingKey, req.Token.Decimals)
	available := p.balanceFor(req.Token).Balance.Sub(pending).ClampFloor()
	if available.Cmp(amount) < 0 {
		return nil, apperr.Newf(apperr.InsufficientAvailableBalance, "required %s, available %s", amount.String(), available.String()).
			WithContext(map[string]any{"required": amount.String(), "available": available.String()})
	}

	// Step 4: duplicate check.
	if err := p.checkDuplicate(req); err != nil {
		return nil, err
	}

	// Step 5: nonce check.
	chainNonce, err := p.resolveChainNonce(ctx, online)
	if err != nil {
		return nil, err
	}
	// A failure in any later step hands the offline nonce back, so a
	// rejected admission consumes no nonce.
	nonceBefore := p.nonce
	defer func() {
		if err != nil {
			p.nonce = nonceBefore
		}
	}()
	assignedNonce, err := p.reconcileNonceForAdmission(chainNonce)
	if err != nil {
		return nil, err
	}

	// Step 6: gas validation.
	warnings, err := p.validateGas(ctx, req)
	if err != nil {
		return nil, err
	}

	// Step 7: sign.
	if err := p.vault.ValidateConsistency(); err != nil {
		return nil, err
	}
	signed, err := p.sign(req, amount.BaseUnits, assignedNonce)
	if err != nil {
		return nil, err
	}

	// Step 8: persist.
	queuedTx := models.QueuedTx{
		ID:               txID(req, assignedNonce),
		Chain:            p.chain.ID,
		To:               req.To,
		Amount:           req.Amount,
		Token:            req.Token,
		PaymentReference: signed.PaymentReference,
		SignedRaw:        common.Bytes2Hex(signed.Signature),
		Transport:        req.Transport,
		CreatedAt:        time.Now(),
		Status:           models.TxQueued,
		Nonce:            assignedNonce,
		SecurityMetadata: models.SecurityMetadata{
			BalanceValidated: true,
			DuplicateChecked: true,
			NonceValidated:   true,
			CreatedOfflineAt: offlineTimestamp(req.OfflineOrigin),
		},
		Metadata: models.TxMetadata{},
	}
	if len(warnings) > 0 {
		queuedTx.Error = warnings[0]
	}

	if err := p.queue.Add(queuedTx); err != nil {
		return nil, err
	}
	p.creditTracking(trackingKey, amount)
	p.persistState()

	return &queuedTx, nil
}

// persistState writes the per-chain tracking keys spec.md §6 names
// (offline_balance_{chain}, offline_nonce_{chain}, stored_nonce_{chain},
// synced_balance_{chain}) so a restart picks up where admission left off.
func (p *Pipeline) persistState() {
	if p.kv == nil {
		return
	}
	if data, err := json.Marshal(p.nonce); err == nil {
		_ = p.kv.Put("offline_nonce_"+string(p.chain.ID), data)
	}
	if data, err := json.Marshal(p.nonce.ChainObservedNonce); err == nil {
		_ = p.kv.Put("stored_nonce_"+string(p.chain.ID), data)
	}
	if data, err := json.Marshal(p.balances); err == nil {
		_ = p.kv.Put("synced_balance_"+string(p.chain.ID), data)
	}
	if data, err := json.Marshal(p.tracking); err == nil {
		_ = p.kv.Put("offline_balance_"+string(p.chain.ID), data)
	}
}

// RestoreState loads previously persisted nonce/balance/tracking state for
// this chain, if present. Call once after New before serving Admit requests.
func (p *Pipeline) RestoreState() {
	if p.kv == nil {
		return
	}
	if data, err := p.kv.Get("offline_nonce_" + string(p.chain.ID)); err == nil {
		_ = json.Unmarshal(data, &p.nonce)
	}
	if data, err := p.kv.Get("synced_balance_" + string(p.chain.ID)); err == nil {
		_ = json.Unmarshal(data, &p.balances)
	}
	if data, err := p.kv.Get("offline_balance_" + string(p.chain.ID)); err == nil {
		_ = json.Unmarshal(data, &p.tracking)
	}
}

// syncBalance fetches token's balance and stores it keyed by token.Address,
// leaving every other token's snapshot untouched.
func (p *Pipeline) syncBalance(ctx context.Context, token models.TokenSpec) bool {
	if !p.adapter.Status(ctx) {
		return false
	}
	syncCtx, cancel := context.WithTimeout(ctx, syncTimeout)
	defer cancel()
	bal, err := p.adapter.Balance(syncCtx, p.fromAddr, token)
	if err != nil {
		return false
	}
	p.balances[token.Address] = models.SyncedBalanceSnapshot{
		Balance:   &models.BigDecimal{BaseUnits: bal, Decimals: token.Decimals},
		FetchedAt: time.Now(),
	}
	return true
}

// balanceFor returns token's last-synced balance snapshot, or an unfresh
// zero snapshot at token's own decimals if none has been synced yet.
func (p *Pipeline) balanceFor(token models.TokenSpec) models.SyncedBalanceSnapshot {
	if snap, ok := p.balances[token.Address]; ok {
		return snap
	}
	return models.SyncedBalanceSnapshot{Balance: &models.BigDecimal{BaseUnits: big.NewInt(0), Decimals: token.Decimals}}
}

func (p *Pipeline) trackingFor(key string, decimals uint8) *models.BigDecimal {
	if t, ok := p.tracking[key]; ok {
		return t
	}
	zero := &models.BigDecimal{BaseUnits: big.NewInt(0), Decimals: decimals}
	p.tracking[key] = zero
	return zero
}

func (p *Pipeline) creditTracking(key string, amount *models.BigDecimal) {
	p.tracking[key] = p.trackingFor(key, amount.Decimals).Add(amount)
}

// DebitTracking releases amount from this chain's offline-committed tracking
// once a queued tx it funded reaches a terminal state (broadcast, expired, or
// cancelled), under the same writer lock Admit uses. Keyed the same way
// creditTracking is: "" for the native token, otherwise the token's contract
// address.
func (p *Pipeline) DebitTracking(token models.TokenSpec, amount *models.BigDecimal) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := token.Address
	if token.IsNative {
		key = ""
	}
	current := p.trackingFor(key, amount.Decimals)
	p.tracking[key] = current.Sub(amount)
	p.persistState()
}

// NonceSnapshot returns a copy of this chain's current NonceState, for
// crosswallet.Monitor's polling loop.
func (p *Pipeline) NonceSnapshot() *models.NonceState {
	p.mu.Lock()
	defer p.mu.Unlock()
	ns := p.nonce
	return &ns
}

func (p *Pipeline) checkDuplicate(req Request) error {
	queued := p.queue.ListByStatus(models.TxQueued)
	for _, existing := range queued {
		if existing.Chain != p.chain.ID {
			continue
		}
		if existing.To == req.To && existing.Amount == req.Amount {
			return apperr.New(apperr.DuplicateTransaction, "an identical transaction is already queued")
		}
	}
	for _, existing := range queued {
		if existing.Chain == p.chain.ID && existing.To == req.To && time.Since(existing.CreatedAt) < duplicateWindow {
			p.log.Warn().Str("to", req.To).Msg("similar transaction queued within the last 5 minutes")
			break
		}
	}
	return nil
}

func (p *Pipeline) resolveChainNonce(ctx context.Context, online bool) (uint64, error) {
	if online {
		n, err := p.adapter.Nonce(ctx, p.fromAddr)
		if err == nil {
			p.nonce.ChainObservedNonce = n
			return n, nil
		}
	}
	return p.nonce.ChainObservedNonce, nil
}

// reconcileNonceForAdmission heals blockchain_ahead/large_gap conflicts by
// snapping offline_nonce to chain_nonce, then assigns and consumes it. The
// assigned nonce is therefore chain_nonce itself, not chain_nonce+1 — see
// DESIGN.md open-question resolution #3 for why this reads one lower than
// spec.md §8 scenario S3's "accepted with nonce 8" narrative for a
// chain_nonce of 7.
func (p *Pipeline) reconcileNonceForAdmission(chainNonce uint64) (uint64, error) {
	kind := crosswallet.Classify(chainNonce, p.nonce.OfflineNonce)
	switch kind {
	case crosswallet.ConflictOfflineAhead:
		return 0, apperr.New(apperr.NonceOfflineAhead, "offline nonce ahead of chain; re-sync required")
	case crosswallet.ConflictLargeGap:
		gap := crosswallet.Gap(chainNonce, p.nonce.OfflineNonce)
		if gap > largeGapHardReject {
			return 0, apperr.Newf(apperr.NonceLargeGap, "nonce gap %d exceeds hard limit", gap)
		}
		p.nonce.OfflineNonce = chainNonce
	case crosswallet.ConflictBlockchainAhead:
		p.nonce.OfflineNonce = chainNonce
	}

	assigned := p.nonce.OfflineNonce
	p.nonce.OfflineNonce++
	return assigned, nil
}

func (p *Pipeline) validateGas(ctx context.Context, req Request) ([]string, error) {
	var warnings []string

	gasPrice, err := p.adapter.GasPrice(ctx)
	var networkGwei float64
	if err == nil {
		networkGwei = weiToGwei(gasPrice)
		p.prices.Observe(p.chain.ID, networkGwei)
	}

	targetGwei := gaspolicy.EstimateOptimal(networkGwei, req.Priority, p.chain)

	validation, err := gaspolicy.ValidatePrice(targetGwei, p.chain)
	if err != nil {
		return nil, err
	}
	if validation.Level == gaspolicy.LevelEmergency {
		warnings = append(warnings, "gas price at emergency level")
	} else if validation.Level == gaspolicy.LevelWarning {
		warnings = append(warnings, "gas price at warning level")
	}

	if p.prices.DetectSpike(p.chain.ID, targetGwei) {
		return nil, apperr.New(apperr.GasPriceSpike, "gas price exceeds 3x the rolling network mean")
	}

	if networkGwei > 0 {
		reasonableness := gaspolicy.ClassifyReasonableness(targetGwei, networkGwei)
		if reasonableness == gaspolicy.ReasonablenessVeryHigh {
			return nil, apperr.New(apperr.GasPriceUnreasonable, "gas price is unreasonably high versus the current network price")
		}
	}

	shape := gaspolicy.ShapeNativeTransfer
	if !req.Token.IsNative {
		shape = gaspolicy.ShapeERC20Transfer
	}
	limitValidation, err := gaspolicy.ValidateLimit(defaultGasLimit(shape), shape)
	if err != nil {
		return nil, err
	}
	if limitValidation.Efficiency == "high" {
		warnings = append(warnings, "gas limit efficiency is low")
	}

	return warnings, nil
}

func (p *Pipeline) sign(req Request, amount *big.Int, nonce uint64) (*metatx.SignedMetaTx, error) {
	if req.Token.IsNative {
		return p.metatx.BuildNativePayment(p.chain, p.fromAddr, req.To, amount, req.PaymentReference, nonce)
	}
	return p.metatx.BuildTokenPayment(p.chain, p.fromAddr, req.To, req.Token.Address, amount, req.PaymentReference, nonce)
}

func weiToGwei(wei *big.Int) float64 {
	f := new(big.Float).SetInt(wei)
	f.Quo(f, big.NewFloat(1e9))
	out, _ := f.Float64()
	return out
}

func defaultGasLimit(shape gaspolicy.TxShape) uint64 {
	switch shape {
	case gaspolicy.ShapeERC20Transfer:
		return 65_000
	default:
		return 21_000
	}
}

func offlineTimestamp(offline bool) time.Time {
	if offline {
		return time.Now()
	}
	return time.Time{}
}

func txID(req Request, nonce uint64) string {
	return utils.NewID()
}
