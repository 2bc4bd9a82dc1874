// Package storage persists wallet state as string key/value pairs. It
// offers SQLite, Badger and in-memory backends behind one Store, optional
// at-rest encryption of secrets, and change notifications per key.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/lotus-rank/rankwallet/pkg/logging"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("storage closed")

// Backend names accepted by Config.Backend.
const (
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
	BackendMemory = "memory"
)

// Store is the persistence surface the wallet engine depends on.
type Store interface {
	// Get returns the value for key and whether it was present.
	Get(key string) (string, bool, error)

	// Set stores one value.
	Set(key, value string) error

	// GetMany returns the present subset of keys.
	GetMany(keys ...string) (map[string]string, error)

	// SetMany writes each pair. It is not atomic: on failure the pairs
	// already written stay written.
	SetMany(values map[string]string) error

	// Delete removes a key. Deleting an absent key is not an error.
	Delete(key string) error

	// Watch delivers a Change for every write to any of keys until cancel
	// is called.
	Watch(keys ...string) (<-chan Change, func())

	Close() error
}

// Change describes a write to a watched key. Deleted is set when the key
// was removed.
type Change struct {
	Key     string
	Value   string
	Deleted bool
}

// backend is a raw string key/value store.
type backend interface {
	get(key string) (string, bool, error)
	put(key, value string) error
	del(key string) error
	close() error
}

// Config holds storage configuration.
type Config struct {
	DataDir string
	Backend string

	// Cipher, when set, seals secret keys before they reach the backend.
	Cipher *Cipher

	Logger *logging.Logger
}

// KV implements Store on top of a backend.
type KV struct {
	b      backend
	cipher *Cipher
	log    *logging.Logger

	mu       sync.Mutex
	closed   bool
	watchers map[int]*watcher
	nextID   int
}

var _ Store = (*KV)(nil)

type watcher struct {
	keys map[string]bool
	ch   chan Change
}

// Open creates the configured backend under DataDir.
func Open(cfg *Config) (*KV, error) {
	log := cfg.Logger
	if log == nil {
		log = logging.GetDefault().Component("storage")
	}

	var (
		b   backend
		err error
	)
	switch cfg.Backend {
	case BackendMemory:
		b = newMemory()
	case BackendSQLite, "":
		dataDir, derr := ensureDir(cfg.DataDir)
		if derr != nil {
			return nil, derr
		}
		b, err = openSQLite(filepath.Join(dataDir, "wallet.db"))
	case BackendBadger:
		dataDir, derr := ensureDir(cfg.DataDir)
		if derr != nil {
			return nil, derr
		}
		b, err = openBadger(filepath.Join(dataDir, "badger"))
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	return &KV{
		b:        b,
		cipher:   cfg.Cipher,
		log:      log,
		watchers: make(map[int]*watcher),
	}, nil
}

// NewMemory returns an in-memory store.
func NewMemory() *KV {
	kv, _ := Open(&Config{Backend: BackendMemory, Logger: logging.Discard()})
	return kv
}

func ensureDir(dir string) (string, error) {
	dir = expandPath(dir)
	if dir == "" {
		return "", fmt.Errorf("data directory not set")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	return dir, nil
}

func (s *KV) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Get implements Store.
func (s *KV) Get(key string) (string, bool, error) {
	if s.isClosed() {
		return "", false, ErrClosed
	}

	value, ok, err := s.b.get(key)
	if err != nil || !ok {
		return "", ok, err
	}

	if s.cipher == nil && IsSealed(value) {
		return "", false, fmt.Errorf("%s is encrypted and no passphrase was given", key)
	}
	if s.cipher != nil && secretKeys[key] {
		if !IsSealed(value) {
			s.log.Warn("Secret stored unencrypted", "key", key)
			return value, true, nil
		}
		value, err = s.cipher.Open(value)
		if err != nil {
			return "", false, fmt.Errorf("open %s: %w", key, err)
		}
	}
	return value, true, nil
}

// Set implements Store.
func (s *KV) Set(key, value string) error {
	if s.isClosed() {
		return ErrClosed
	}

	stored := value
	if s.cipher != nil && secretKeys[key] {
		sealed, err := s.cipher.Seal(value)
		if err != nil {
			return fmt.Errorf("seal %s: %w", key, err)
		}
		stored = sealed
	}

	if err := s.b.put(key, stored); err != nil {
		return err
	}
	s.notify(Change{Key: key, Value: value})
	return nil
}

// GetMany implements Store.
func (s *KV) GetMany(keys ...string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	for _, key := range keys {
		value, ok, err := s.Get(key)
		if err != nil {
			return nil, err
		}
		if ok {
			out[key] = value
		}
	}
	return out, nil
}

// SetMany implements Store. Keys are written in sorted order.
func (s *KV) SetMany(values map[string]string) error {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for i, key := range keys {
		if err := s.Set(key, values[key]); err != nil {
			s.log.Error("Batch write failed", "key", key, "written", i, "total", len(keys), "error", err)
			return fmt.Errorf("batch write %s: %w", key, err)
		}
	}
	return nil
}

// Delete implements Store.
func (s *KV) Delete(key string) error {
	if s.isClosed() {
		return ErrClosed
	}
	if err := s.b.del(key); err != nil {
		return err
	}
	s.notify(Change{Key: key, Deleted: true})
	return nil
}

// Watch implements Store. Slow receivers miss changes rather than block
// writers.
func (s *KV) Watch(keys ...string) (<-chan Change, func()) {
	w := &watcher{keys: make(map[string]bool, len(keys)), ch: make(chan Change, 16)}
	for _, k := range keys {
		w.keys[k] = true
	}

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	if s.closed {
		close(w.ch)
	} else {
		s.watchers[id] = w
	}
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if _, ok := s.watchers[id]; ok {
				delete(s.watchers, id)
				close(w.ch)
			}
		})
	}
	return w.ch, cancel
}

func (s *KV) notify(c Change) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.watchers {
		if !w.keys[c.Key] {
			continue
		}
		select {
		case w.ch <- c:
		default:
			s.log.Debug("Dropped change notification", "key", c.Key)
		}
	}
}

// Close closes the backend and ends all watches.
func (s *KV) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for id, w := range s.watchers {
		close(w.ch)
		delete(s.watchers, id)
	}
	s.mu.Unlock()

	return s.b.close()
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
