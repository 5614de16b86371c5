// Package gaspolicy implements spec.md §4.5: per-chain gas-price bounds,
// rolling spike detection, reasonableness classification against the live
// network price, and gas-limit bounds per transaction shape. It is pure
// computation over math/big, the same tier the teacher's own
// src/chainadapter/ethereum/fee.go uses bare; the rolling price window is
// grounded on the teacher's ratelimit.RateLimiter sliding-window technique
// (arcsign), applied here to observed gas prices instead of password
// attempts.
package gaspolicy

import (
	"sync"
	"time"

	"github.com/yourusername/airchainpay/internal/apperr"
	"github.com/yourusername/airchainpay/internal/models"
)

// Priority is the caller-selected urgency level for EstimateOptimal.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

var priorityMultiplier = map[Priority]float64{
	PriorityLow:    0.9,
	PriorityNormal: 1.0,
	PriorityHigh:   1.2,
	PriorityUrgent: 1.5,
}

// TxShape identifies the gas-limit bounds table key for ValidateLimit.
type TxShape string

const (
	ShapeNativeTransfer TxShape = "native_transfer"
	ShapeERC20Transfer  TxShape = "erc20_transfer"
	ShapeContractCall   TxShape = "contract_call"
	ShapeComplex        TxShape = "complex"
)

// gasLimitBounds is the {min, optimal, max} gas-limit table per shape.
var gasLimitBounds = map[TxShape][3]uint64{
	ShapeNativeTransfer: {21_000, 21_000, 30_000},
	ShapeERC20Transfer:  {45_000, 65_000, 120_000},
	ShapeContractCall:   {50_000, 150_000, 500_000},
	ShapeComplex:        {100_000, 400_000, 1_000_000},
}

// Level is the severity PriceValidation reports for an otherwise-valid price.
type Level string

const (
	LevelNone      Level = "none"
	LevelWarning   Level = "warning"
	LevelEmergency Level = "emergency"
)

// PriceValidation is the result of ValidatePrice.
type PriceValidation struct {
	Valid bool
	Gwei  float64
	Level Level
}

// ValidatePrice rejects p < chain.MinGasGwei or p > chain.MaxGasGwei, and
// classifies everything else into {none, warning, emergency}.
func ValidatePrice(gwei float64, chain models.ChainEntry) (PriceValidation, error) {
	if gwei < chain.MinGasGwei {
		return PriceValidation{}, apperr.Newf(apperr.GasPriceTooLow, "gas price %.2f gwei below minimum %.2f", gwei, chain.MinGasGwei)
	}
	if gwei > chain.MaxGasGwei {
		return PriceValidation{}, apperr.Newf(apperr.GasPriceTooHigh, "gas price %.2f gwei above maximum %.2f", gwei, chain.MaxGasGwei)
	}

	level := LevelNone
	if gwei >= chain.EmergencyGasGwei {
		level = LevelEmergency
	} else if gwei >= chain.WarnGasGwei {
		level = LevelWarning
	}
	return PriceValidation{Valid: true, Gwei: gwei, Level: level}, nil
}

// LimitValidation is the result of ValidateLimit.
type LimitValidation struct {
	Valid      bool
	Efficiency string // optimal | good | high
}

// ValidateLimit checks a gas limit against the bounds table for shape.
func ValidateLimit(limit uint64, shape TxShape) (LimitValidation, error) {
	bounds, ok := gasLimitBounds[shape]
	if !ok {
		return LimitValidation{}, apperr.Newf(apperr.GasLimitOutOfBounds, "unknown transaction shape %q", shape)
	}
	minLimit, optimal, maxLimit := bounds[0], bounds[1], bounds[2]
	if limit < minLimit || limit > maxLimit {
		return LimitValidation{}, apperr.Newf(apperr.GasLimitOutOfBounds, "gas limit %d outside [%d, %d] for %s", limit, minLimit, maxLimit, shape)
	}

	efficiency := "high"
	switch {
	case limit <= optimal:
		efficiency = "optimal"
	case limit <= optimal*2:
		efficiency = "good"
	}
	return LimitValidation{Valid: true, Efficiency: efficiency}, nil
}

// Reasonableness classifies gwei against the current live network price.
type Reasonableness string

const (
	ReasonablenessVeryLow   Reasonableness = "very_low"
	ReasonablenessLow       Reasonableness = "low"
	ReasonablenessOK        Reasonableness = "reasonable"
	ReasonablenessHigh      Reasonableness = "high"
	ReasonablenessVeryHigh  Reasonableness = "very_high"
)

// ClassifyReasonableness compares gwei to the current network price networkGwei.
// very_high is always a hard reject by the caller (OfflineAdmission step 6).
func ClassifyReasonableness(gwei, networkGwei float64) Reasonableness {
	if networkGwei <= 0 {
		return ReasonablenessOK
	}
	ratio := gwei / networkGwei
	switch {
	case ratio < 0.5:
		return ReasonablenessVeryLow
	case ratio < 0.8:
		return ReasonablenessLow
	case ratio <= 1.5:
		return ReasonablenessOK
	case ratio <= 3.0:
		return ReasonablenessHigh
	default:
		return ReasonablenessVeryHigh
	}
}

// EstimateOptimal returns networkGwei scaled by priority's multiplier, clamped
// to [chain.MinGasGwei, chain.MaxGasGwei].
func EstimateOptimal(networkGwei float64, priority Priority, chain models.ChainEntry) float64 {
	mult, ok := priorityMultiplier[priority]
	if !ok {
		mult = 1.0
	}
	estimate := networkGwei * mult
	if estimate < chain.MinGasGwei {
		estimate = chain.MinGasGwei
	}
	if estimate > chain.MaxGasGwei {
		estimate = chain.MaxGasGwei
	}
	return estimate
}

// AdjustForDelay re-prices originalGwei for a transaction that has sat
// hoursSinceQueued, using multiplier min(1 + 0.05*hours, 2.0), then takes
// the max of that and the current live price currentGwei.
func AdjustForDelay(originalGwei, hoursSinceQueued, currentGwei float64) float64 {
	multiplier := 1 + 0.05*hoursSinceQueued
	if multiplier > 2.0 {
		multiplier = 2.0
	}
	adjusted := originalGwei * multiplier
	if adjusted < currentGwei {
		return currentGwei
	}
	return adjusted
}

// PriceWindow is a rolling 10-minute history of observed network prices,
// grounded on ratelimit.RateLimiter's sliding-window trim-then-append shape.
type PriceWindow struct {
	mu      sync.Mutex
	window  time.Duration
	samples map[models.ChainID][]sample
}

type sample struct {
	at   time.Time
	gwei float64
}

// NewPriceWindow creates a rolling spike-detection window of the given duration.
func NewPriceWindow(window time.Duration) *PriceWindow {
	return &PriceWindow{window: window, samples: make(map[models.ChainID][]sample)}
}

// Observe records a newly observed network gas price for chain.
func (w *PriceWindow) Observe(chain models.ChainID, gwei float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := time.Now()
	w.samples[chain] = trim(append(w.samples[chain], sample{at: now, gwei: gwei}), now, w.window)
}

// DetectSpike reports whether gwei exceeds 3x the mean of the rolling
// 10-minute history for chain. With no history yet, no spike is reported.
func (w *PriceWindow) DetectSpike(chain models.ChainID, gwei float64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := time.Now()
	history := trim(w.samples[chain], now, w.window)
	w.samples[chain] = history
	if len(history) == 0 {
		return false
	}
	var sum float64
	for _, s := range history {
		sum += s.gwei
	}
	mean := sum / float64(len(history))
	return gwei > 3*mean
}

func trim(samples []sample, now time.Time, window time.Duration) []sample {
	out := samples[:0]
	for _, s := range samples {
		if now.Sub(s.at) < window {
			out = append(out, s)
		}
	}
	return out
}
