package engine

import (
	"sync"

	"github.com/lotus-rank/rankwallet/internal/storage"
	"github.com/lotus-rank/rankwallet/internal/utxo"
)

// EventType names a wallet event.
type EventType string

const (
	EventUTXOAdded      EventType = "utxo_added"
	EventUTXORemoved    EventType = "utxo_removed"
	EventBalanceChanged EventType = "balance_changed"
	EventTxBroadcast    EventType = "tx_broadcast"
)

// Event is published to subscribers after a wallet state change.
type Event struct {
	Type EventType `json:"type"`

	// Set for utxo events.
	TxID   string `json:"txid,omitempty"`
	OutIdx uint32 `json:"outIdx,omitempty"`
	Value  uint64 `json:"value,omitempty"`

	// Balance in satoshis as a decimal string, set for balance events.
	Balance string `json:"balance,omitempty"`

	// ID and Kind are set for broadcast events.
	ID   string `json:"id,omitempty"`
	Kind string `json:"kind,omitempty"`
}

const subscriberBuffer = 64

// eventHub fans events out to subscribers. A subscriber whose buffer is
// full misses the event.
type eventHub struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	closed bool
}

func newEventHub() *eventHub {
	return &eventHub{subs: make(map[int]chan Event)}
}

func (h *eventHub) subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch, func() {}
	}

	id := h.nextID
	h.nextID++
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if c, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(c)
			}
		})
	}
}

func (h *eventHub) publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (h *eventHub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}

// onCacheEvent runs on the queue goroutine after every cache mutation.
func (e *Engine) onCacheEvent(ev utxo.Event) {
	e.dirty.Store(true)
	e.cfg.Metrics.SetBalance(ev.Balance, e.cache.Len())

	switch ev.Kind {
	case utxo.EventAdded:
		e.log.Debug("UTXO added", "outpoint", ev.Entry.Outpoint.String(), "value", ev.Entry.Value)
		e.events.publish(Event{
			Type: EventUTXOAdded, TxID: ev.Entry.TxID, OutIdx: ev.Entry.OutIdx, Value: ev.Entry.Value,
		})
	case utxo.EventRemoved:
		e.log.Debug("UTXO removed", "outpoint", ev.Entry.Outpoint.String(), "value", ev.Entry.Value)
		e.events.publish(Event{
			Type: EventUTXORemoved, TxID: ev.Entry.TxID, OutIdx: ev.Entry.OutIdx, Value: ev.Entry.Value,
		})
	}
}

// watchBalance turns persisted balance writes into balance_changed events,
// so subscribers only see balances that reached the store.
func (e *Engine) watchBalance() {
	changes, cancel := e.cfg.Store.Watch(storage.KeyBalance)
	defer cancel()

	for {
		select {
		case c, ok := <-changes:
			if !ok {
				return
			}
			if c.Deleted {
				continue
			}
			e.events.publish(Event{Type: EventBalanceChanged, Balance: c.Value})
		case <-e.ctx.Done():
			return
		}
	}
}
