package indexer

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lotus-rank/rankwallet/pkg/logging"
)

// State is the subscriber's connection state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateSubscribed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateSubscribed:
		return "subscribed"
	default:
		return "unknown"
	}
}

// MsgType is the type of a websocket message from the indexer.
type MsgType string

const (
	MsgAddedToMempool     MsgType = "AddedToMempool"
	MsgRemovedFromMempool MsgType = "RemovedFromMempool"
	MsgConfirmed          MsgType = "Confirmed"
	MsgBlockConnected     MsgType = "BlockConnected"
	MsgError              MsgType = "Error"
)

// Message is a websocket message from the indexer.
type Message struct {
	Type        MsgType `json:"type"`
	TxID        string  `json:"txid,omitempty"`
	BlockHash   string  `json:"blockHash,omitempty"`
	BlockHeight int64   `json:"blockHeight,omitempty"`
	Error       string  `json:"error,omitempty"`
}

// subscribeMsg (un)subscribes to events for one script.
type subscribeMsg struct {
	Subscribe  bool   `json:"subscribe"`
	ScriptType string `json:"scriptType"`
	Payload    string `json:"payload"`
}

// Conn is a websocket connection. *websocket.Conn satisfies it.
type Conn interface {
	ReadJSON(v interface{}) error
	WriteJSON(v interface{}) error
	Close() error
}

// Dialer opens websocket connections.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// WSDialer dials the indexer's websocket endpoint.
type WSDialer struct {
	URL    string
	Header http.Header
}

// Dial implements Dialer.
func (d *WSDialer) Dial(ctx context.Context) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, d.URL, d.Header)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// TxFetcher fetches full transactions for mempool notifications.
type TxFetcher interface {
	Tx(ctx context.Context, txid string) (*Tx, error)
}

// Handler receives the subscriber's lifecycle and wallet events. Calls are
// made from the subscriber goroutine, one at a time.
type Handler interface {
	// Bootstrap runs once, on the first successful connection, before the
	// subscription is sent.
	Bootstrap(ctx context.Context)

	// Reconnected runs after every later connection is re-subscribed.
	Reconnected(ctx context.Context)

	// IncomingOutput reports an output paying to the wallet script.
	IncomingOutput(txid string, outIdx uint32, value uint64)

	// BlockConnected reports a new chain tip.
	BlockConnected(hash string, height int64)
}

// SubscriberConfig configures a Subscriber.
type SubscriberConfig struct {
	Dialer  Dialer
	Fetcher TxFetcher
	Handler Handler

	// Payload is the hex pubkey hash and Script the full locking script
	// of the wallet.
	Payload string
	Script  string

	ReconnectMin time.Duration
	ReconnectMax time.Duration
	FetchTimeout time.Duration

	// OnState, if set, is called on every state transition.
	OnState func(State)

	Logger *logging.Logger
}

// Subscriber keeps a websocket subscription to the wallet script alive,
// reconnecting with exponential backoff.
type Subscriber struct {
	cfg SubscriberConfig
	log *logging.Logger

	state      atomic.Int32
	reconnects atomic.Int64

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSubscriber creates a disconnected subscriber.
func NewSubscriber(cfg SubscriberConfig) *Subscriber {
	if cfg.ReconnectMin <= 0 {
		cfg.ReconnectMin = time.Second
	}
	if cfg.ReconnectMax < cfg.ReconnectMin {
		cfg.ReconnectMax = 60 * time.Second
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 15 * time.Second
	}
	log := cfg.Logger
	if log == nil {
		log = logging.GetDefault().Component("indexer")
	}
	return &Subscriber{cfg: cfg, log: log}
}

// State returns the current connection state.
func (s *Subscriber) State() State {
	return State(s.state.Load())
}

// Reconnects returns how many times the connection was re-established.
func (s *Subscriber) Reconnects() int64 {
	return s.reconnects.Load()
}

func (s *Subscriber) setState(st State) {
	if State(s.state.Swap(int32(st))) == st {
		return
	}
	s.log.Debug("Indexer connection state", "state", st.String())
	if s.cfg.OnState != nil {
		s.cfg.OnState(st)
	}
}

// Start runs the subscriber in the background until Stop.
func (s *Subscriber) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		s.Run(ctx)
	}()
}

// Stop unsubscribes, closes the socket and waits for the run loop to exit.
func (s *Subscriber) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Run connects and follows events until ctx is cancelled.
func (s *Subscriber) Run(ctx context.Context) error {
	backoff := s.cfg.ReconnectMin
	first := true

	for {
		if ctx.Err() != nil {
			s.setState(StateDisconnected)
			return ctx.Err()
		}

		s.setState(StateConnecting)
		conn, err := s.cfg.Dialer.Dial(ctx)
		if err != nil {
			s.setState(StateDisconnected)
			s.log.Warn("Indexer connection failed", "error", err, "retry_in", backoff)
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			backoff = nextBackoff(backoff, s.cfg.ReconnectMax)
			continue
		}

		s.setState(StateOpen)
		backoff = s.cfg.ReconnectMin

		if first {
			s.cfg.Handler.Bootstrap(ctx)
		}

		if err := conn.WriteJSON(s.subscription(true)); err != nil {
			s.log.Warn("Subscribe failed", "error", err)
			conn.Close()
			s.setState(StateDisconnected)
			if !sleep(ctx, s.cfg.ReconnectMin) {
				return ctx.Err()
			}
			continue
		}
		s.setState(StateSubscribed)
		s.log.Info("Subscribed to wallet script", "payload", s.cfg.Payload)

		if first {
			first = false
		} else {
			s.reconnects.Add(1)
			s.cfg.Handler.Reconnected(ctx)
		}

		err = s.readLoop(ctx, conn)
		s.setState(StateDisconnected)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.log.Warn("Indexer connection lost", "error", err)
		if !sleep(ctx, s.cfg.ReconnectMin) {
			return ctx.Err()
		}
	}
}

func (s *Subscriber) subscription(subscribe bool) subscribeMsg {
	return subscribeMsg{Subscribe: subscribe, ScriptType: "p2pkh", Payload: s.cfg.Payload}
}

// readLoop handles messages until the socket fails or ctx ends. On ctx
// cancellation it unsubscribes before closing.
func (s *Subscriber) readLoop(ctx context.Context, conn Conn) error {
	stopped := make(chan struct{})
	defer close(stopped)

	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteJSON(s.subscription(false))
			conn.Close()
		case <-stopped:
			conn.Close()
		}
	}()

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}
		s.handle(ctx, msg)
	}
}

func (s *Subscriber) handle(ctx context.Context, msg Message) {
	switch msg.Type {
	case MsgAddedToMempool:
		s.addedToMempool(ctx, msg.TxID)
	case MsgBlockConnected:
		s.cfg.Handler.BlockConnected(msg.BlockHash, msg.BlockHeight)
	case MsgRemovedFromMempool, MsgConfirmed:
		s.log.Debug("Ignoring transaction event", "type", msg.Type, "txid", msg.TxID)
	case MsgError:
		s.log.Warn("Indexer reported error", "error", msg.Error)
	default:
		s.log.Debug("Unknown message type", "type", msg.Type)
	}
}

func (s *Subscriber) addedToMempool(ctx context.Context, txid string) {
	fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	defer cancel()

	tx, err := s.cfg.Fetcher.Tx(fetchCtx, txid)
	if err != nil {
		s.log.Warn("Failed to fetch mempool transaction", "txid", txid, "error", err)
		return
	}

	for i, out := range tx.Outputs {
		if out.OutputScript != s.cfg.Script {
			continue
		}
		s.cfg.Handler.IncomingOutput(txid, uint32(i), out.Value)
	}
}

func nextBackoff(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max {
		return max
	}
	return next
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
