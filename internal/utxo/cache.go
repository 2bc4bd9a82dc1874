package utxo

import (
	"math/big"
	"sync"
)

// EventKind describes a cache mutation.
type EventKind int

const (
	EventAdded EventKind = iota
	EventRemoved
	EventReplaced
)

// Event is delivered to the cache listener after every mutation.
type Event struct {
	Kind    EventKind
	Entry   Entry
	Balance *big.Int
}

// Cache is the set of outputs the wallet believes spendable, in insertion
// order, together with their running balance. The balance always equals
// the sum of entry values.
//
// Mutations are expected to come from a single writer (the operation
// queue); the lock only guards concurrent readers.
type Cache struct {
	mu       sync.RWMutex
	order    []Outpoint
	entries  map[Outpoint]Entry
	balance  *big.Int
	listener func(Event)
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{
		entries: make(map[Outpoint]Entry),
		balance: new(big.Int),
	}
}

// SetListener registers fn to be called after each mutation. fn runs
// without the cache lock held.
func (c *Cache) SetListener(fn func(Event)) {
	c.mu.Lock()
	c.listener = fn
	c.mu.Unlock()
}

// Replace swaps the contents for entries and recomputes the balance.
// Later duplicates of an outpoint overwrite earlier ones.
func (c *Cache) Replace(entries []Entry) {
	c.mu.Lock()
	c.order = c.order[:0]
	c.entries = make(map[Outpoint]Entry, len(entries))
	c.balance = new(big.Int)
	for _, e := range entries {
		c.putLocked(e)
	}
	balance := new(big.Int).Set(c.balance)
	listener := c.listener
	c.mu.Unlock()

	if listener != nil {
		listener(Event{Kind: EventReplaced, Balance: balance})
	}
}

// Apply records an output. If the outpoint is already present its value is
// overwritten and the balance adjusted by the difference.
func (c *Cache) Apply(e Entry) {
	c.mu.Lock()
	c.putLocked(e)
	balance := new(big.Int).Set(c.balance)
	listener := c.listener
	c.mu.Unlock()

	if listener != nil {
		listener(Event{Kind: EventAdded, Entry: e, Balance: balance})
	}
}

func (c *Cache) putLocked(e Entry) {
	if old, ok := c.entries[e.Outpoint]; ok {
		c.balance.Sub(c.balance, new(big.Int).SetUint64(old.Value))
	} else {
		c.order = append(c.order, e.Outpoint)
	}
	c.entries[e.Outpoint] = e
	c.balance.Add(c.balance, new(big.Int).SetUint64(e.Value))
}

// Remove deletes an outpoint. It reports false, and changes nothing, when
// the outpoint is absent.
func (c *Cache) Remove(op Outpoint) (Entry, bool) {
	c.mu.Lock()
	e, ok := c.entries[op]
	if !ok {
		c.mu.Unlock()
		return Entry{}, false
	}
	delete(c.entries, op)
	for i, o := range c.order {
		if o == op {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.balance.Sub(c.balance, new(big.Int).SetUint64(e.Value))
	balance := new(big.Int).Set(c.balance)
	listener := c.listener
	c.mu.Unlock()

	if listener != nil {
		listener(Event{Kind: EventRemoved, Entry: e, Balance: balance})
	}
	return e, true
}

// Get returns the entry for an outpoint.
func (c *Cache) Get(op Outpoint) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[op]
	return e, ok
}

// Entries returns a snapshot of the entries in insertion order.
func (c *Cache) Entries() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Entry, 0, len(c.order))
	for _, op := range c.order {
		out = append(out, c.entries[op])
	}
	return out
}

// Outpoints returns a snapshot of the cached outpoints in insertion order.
func (c *Cache) Outpoints() []Outpoint {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Outpoint(nil), c.order...)
}

// Balance returns a copy of the running balance.
func (c *Cache) Balance() *big.Int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return new(big.Int).Set(c.balance)
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.order)
}

// Sum recomputes the total of entries from scratch.
func Sum(entries []Entry) *big.Int {
	total := new(big.Int)
	for _, e := range entries {
		total.Add(total, new(big.Int).SetUint64(e.Value))
	}
	return total
}
