package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/lightningnetwork/lnd/fn/v2"

	"github.com/lotus-rank/rankwallet/internal/storage"
	"github.com/lotus-rank/rankwallet/internal/utxo"
)

// flush persists the cache and tip once the queue has drained. Keys whose
// value has not changed since the last flush are not rewritten.
func (e *Engine) flush(ctx context.Context) error {
	e.mu.RLock()
	loaded := e.id != nil
	tip := e.tip
	persistedBalance, persistedTip := e.persistedBalance, e.persistedTip
	e.mu.RUnlock()
	if !loaded {
		return nil
	}

	values := make(map[string]string)

	if e.dirty.Swap(false) {
		data, err := json.Marshal(e.cache.Entries())
		if err != nil {
			e.dirty.Store(true)
			return fmt.Errorf("encode utxos: %w", err)
		}
		values[storage.KeyUTXOs] = string(data)

		balance := e.cache.Balance().String()
		if balance != persistedBalance {
			values[storage.KeyBalance] = balance
		}
	}

	tip.WhenSome(func(t SetTip) {
		if t.Hash != persistedTip {
			values[storage.KeyTipHash] = t.Hash
			values[storage.KeyTipHeight] = strconv.FormatInt(t.Height, 10)
		}
	})

	if len(values) == 0 {
		return nil
	}

	if err := e.cfg.Store.SetMany(values); err != nil {
		e.dirty.Store(true)
		return background("flush", err)
	}

	e.mu.Lock()
	if b, ok := values[storage.KeyBalance]; ok {
		e.persistedBalance = b
	}
	if h, ok := values[storage.KeyTipHash]; ok {
		e.persistedTip = h
	}
	e.mu.Unlock()
	return nil
}

func decodeUTXOs(raw string) ([]utxo.Entry, error) {
	if raw == "" {
		return nil, nil
	}
	var entries []utxo.Entry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, fmt.Errorf("decode utxos: %w", err)
	}
	return entries, nil
}

func decodeTip(hash, height string) fn.Option[SetTip] {
	if hash == "" {
		return fn.None[SetTip]()
	}
	h, err := strconv.ParseInt(height, 10, 64)
	if err != nil {
		return fn.None[SetTip]()
	}
	return fn.Some(SetTip{Hash: hash, Height: h})
}
