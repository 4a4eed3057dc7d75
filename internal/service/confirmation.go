package service

import (
	"context"

	"payment-settlement-core/internal/core/ports"

	"github.com/rs/zerolog"
)

// ConfirmationTracker decides how many confirmations a crypto deposit
// effectively has, combining the count reported in the callback with a live
// query against the chain.
type ConfirmationTracker struct {
	source ports.ConfirmationSource
	log    zerolog.Logger
}

// NewConfirmationTracker creates a new ConfirmationTracker. source may be nil,
// in which case the reported count is used as-is.
func NewConfirmationTracker(source ports.ConfirmationSource, log zerolog.Logger) *ConfirmationTracker {
	return &ConfirmationTracker{source: source, log: log}
}

// Effective returns the confirmation count to gate on: the maximum of the
// reported count and the chain's answer. Confirmations only grow, so taking
// the max tolerates a stale callback racing a fresh block. A source failure
// falls back to the reported count rather than blocking settlement.
func (t *ConfirmationTracker) Effective(ctx context.Context, network, txHash string, reported int) int {
	if t.source == nil || txHash == "" {
		return reported
	}

	current, err := t.source.Confirmations(ctx, network, txHash)
	if err != nil {
		t.log.Warn().Err(err).
			Str("network", network).
			Str("tx_hash", txHash).
			Msg("confirmation source unavailable, using reported count")
		return reported
	}

	if current > reported {
		return current
	}
	return reported
}
