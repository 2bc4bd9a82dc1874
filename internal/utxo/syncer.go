package utxo

import (
	"context"
	"errors"
	"fmt"

	"github.com/lotus-rank/rankwallet/pkg/logging"
)

// ErrStateMismatch is returned when the indexer answers a validation
// request with the wrong number of states.
var ErrStateMismatch = errors.New("indexer returned mismatched state count")

// Source is the subset of the indexer the syncer needs.
type Source interface {
	// ScriptUTXOs lists unspent outputs paying to a P2PKH payload (hex
	// pubkey hash).
	ScriptUTXOs(ctx context.Context, payload string) ([]Entry, error)

	// ValidateOutpoints returns one state per outpoint, in request order.
	ValidateOutpoints(ctx context.Context, outpoints []Outpoint) ([]State, error)
}

// SyncerConfig configures a Syncer.
type SyncerConfig struct {
	Cache   *Cache
	Source  Source
	Payload string
	Logger  *logging.Logger
}

// Syncer fills and prunes a Cache from the indexer. It performs no
// locking of its own; callers run it from the operation queue.
type Syncer struct {
	cache   *Cache
	source  Source
	payload string
	log     *logging.Logger
}

// NewSyncer creates a syncer for one wallet script.
func NewSyncer(cfg SyncerConfig) *Syncer {
	log := cfg.Logger
	if log == nil {
		log = logging.GetDefault().Component("utxo")
	}
	return &Syncer{
		cache:   cfg.Cache,
		source:  cfg.Source,
		payload: cfg.Payload,
		log:     log,
	}
}

// Bootstrap replaces the cache with the indexer's view of the wallet
// script. On error the cache is left untouched.
func (s *Syncer) Bootstrap(ctx context.Context) error {
	entries, err := s.source.ScriptUTXOs(ctx, s.payload)
	if err != nil {
		s.log.Warn("Bootstrap failed, keeping cached utxos", "payload", s.payload, "error", err)
		return fmt.Errorf("bootstrap: %w", err)
	}

	s.cache.Replace(entries)
	s.log.Info("Bootstrapped utxo cache", "utxos", len(entries), "balance", s.cache.Balance().String())
	return nil
}

// ReconcileResult reports what a reconcile pass changed.
type ReconcileResult struct {
	Checked int
	Removed []Entry
}

// Reconcile asks the indexer about every cached outpoint and drops the
// ones that are no longer unspent. Running it twice against an unchanged
// indexer removes nothing the second time.
func (s *Syncer) Reconcile(ctx context.Context) (*ReconcileResult, error) {
	outpoints := s.cache.Outpoints()
	result := &ReconcileResult{Checked: len(outpoints)}
	if len(outpoints) == 0 {
		return result, nil
	}

	states, err := s.source.ValidateOutpoints(ctx, outpoints)
	if err != nil {
		return nil, fmt.Errorf("reconcile: %w", err)
	}
	if len(states) != len(outpoints) {
		return nil, fmt.Errorf("reconcile: %w: sent %d, got %d", ErrStateMismatch, len(outpoints), len(states))
	}

	for i, state := range states {
		if state == StateUnspent {
			continue
		}
		if e, ok := s.cache.Remove(outpoints[i]); ok {
			result.Removed = append(result.Removed, e)
			s.log.Debug("Dropped utxo", "outpoint", outpoints[i].String(), "state", state.String())
		}
	}

	if len(result.Removed) > 0 {
		s.log.Info("Reconciled utxo cache", "checked", result.Checked, "removed", len(result.Removed),
			"balance", s.cache.Balance().String())
	}
	return result, nil
}
