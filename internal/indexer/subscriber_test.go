package indexer

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lotus-rank/rankwallet/pkg/logging"
)

const (
	testPayload = "00112233445566778899aabbccddeeff00112233"
	testScript  = "76a91400112233445566778899aabbccddeeff0011223388ac"
)

// events is a shared, ordered log of what the fakes observed.
type events struct {
	mu  sync.Mutex
	log []string
}

func (e *events) add(s string) {
	e.mu.Lock()
	e.log = append(e.log, s)
	e.mu.Unlock()
}

func (e *events) snapshot() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.log...)
}

type fakeConn struct {
	ev     *events
	in     chan Message
	closed chan struct{}
	once   sync.Once
}

func newFakeConn(ev *events) *fakeConn {
	return &fakeConn{ev: ev, in: make(chan Message, 8), closed: make(chan struct{})}
}

func (c *fakeConn) ReadJSON(v interface{}) error {
	select {
	case m, ok := <-c.in:
		if !ok {
			return io.EOF
		}
		*v.(*Message) = m
		return nil
	case <-c.closed:
		return errors.New("use of closed connection")
	}
}

func (c *fakeConn) WriteJSON(v interface{}) error {
	msg := v.(subscribeMsg)
	if msg.Subscribe {
		c.ev.add("subscribe:" + msg.Payload)
	} else {
		c.ev.add("unsubscribe:" + msg.Payload)
	}
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

type fakeDialer struct {
	mu    sync.Mutex
	fails int
	conns []*fakeConn
}

func (d *fakeDialer) Dial(ctx context.Context) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fails > 0 {
		d.fails--
		return nil, errors.New("connection refused")
	}
	if len(d.conns) == 0 {
		return nil, errors.New("no more connections")
	}
	c := d.conns[0]
	d.conns = d.conns[1:]
	return c, nil
}

type fakeFetcher struct {
	txs map[string]*Tx
}

func (f *fakeFetcher) Tx(ctx context.Context, txid string) (*Tx, error) {
	tx, ok := f.txs[txid]
	if !ok {
		return nil, ErrNotFound
	}
	return tx, nil
}

type fakeHandler struct {
	ev *events

	mu      sync.Mutex
	outputs []string
	tip     int64
}

func (h *fakeHandler) Bootstrap(ctx context.Context)   { h.ev.add("bootstrap") }
func (h *fakeHandler) Reconnected(ctx context.Context) { h.ev.add("reconnected") }

func (h *fakeHandler) IncomingOutput(txid string, outIdx uint32, value uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.outputs = append(h.outputs, txid)
	h.ev.add("output")
}

func (h *fakeHandler) BlockConnected(hash string, height int64) {
	h.mu.Lock()
	h.tip = height
	h.mu.Unlock()
}

func newTestSubscriber(d Dialer, f TxFetcher, h Handler) *Subscriber {
	return NewSubscriber(SubscriberConfig{
		Dialer:       d,
		Fetcher:      f,
		Handler:      h,
		Payload:      testPayload,
		Script:       testScript,
		ReconnectMin: 5 * time.Millisecond,
		ReconnectMax: 20 * time.Millisecond,
		Logger:       logging.Discard(),
	})
}

func TestSubscriberBootstrapsBeforeSubscribing(t *testing.T) {
	ev := &events{}
	conn := newFakeConn(ev)
	s := newTestSubscriber(&fakeDialer{conns: []*fakeConn{conn}}, &fakeFetcher{}, &fakeHandler{ev: ev})

	s.Start(context.Background())
	defer s.Stop()

	require.Eventually(t, func() bool { return s.State() == StateSubscribed }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, []string{"bootstrap", "subscribe:" + testPayload}, ev.snapshot())
}

func TestSubscriberIncomingOutput(t *testing.T) {
	ev := &events{}
	conn := newFakeConn(ev)
	fetcher := &fakeFetcher{txs: map[string]*Tx{
		"tx1": {TxID: "tx1", Outputs: []TxOutput{
			{Value: 1, OutputScript: "76a914ffff88ac"},
			{Value: 150_000_000, OutputScript: testScript},
		}},
	}}
	h := &fakeHandler{ev: ev}
	s := newTestSubscriber(&fakeDialer{conns: []*fakeConn{conn}}, fetcher, h)

	s.Start(context.Background())
	defer s.Stop()

	conn.in <- Message{Type: MsgAddedToMempool, TxID: "tx1"}
	conn.in <- Message{Type: MsgRemovedFromMempool, TxID: "tx1"}
	conn.in <- Message{Type: MsgAddedToMempool, TxID: "unknown"}
	conn.in <- Message{Type: MsgBlockConnected, BlockHash: "00ab", BlockHeight: 42}

	require.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.tip == 42
	}, 2*time.Second, 5*time.Millisecond)

	h.mu.Lock()
	defer h.mu.Unlock()
	require.Equal(t, []string{"tx1"}, h.outputs)
}

func TestSubscriberReconnects(t *testing.T) {
	ev := &events{}
	first, second := newFakeConn(ev), newFakeConn(ev)
	dialer := &fakeDialer{conns: []*fakeConn{first, second}}
	s := newTestSubscriber(dialer, &fakeFetcher{}, &fakeHandler{ev: ev})

	s.Start(context.Background())
	defer s.Stop()

	require.Eventually(t, func() bool { return s.State() == StateSubscribed }, 2*time.Second, 5*time.Millisecond)
	close(first.in)

	require.Eventually(t, func() bool { return s.Reconnects() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(ev.snapshot()) == 4 }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, []string{
		"bootstrap",
		"subscribe:" + testPayload,
		"subscribe:" + testPayload,
		"reconnected",
	}, ev.snapshot())
}

func TestSubscriberRetriesDial(t *testing.T) {
	ev := &events{}
	var states []State
	var mu sync.Mutex

	s := NewSubscriber(SubscriberConfig{
		Dialer:       &fakeDialer{fails: 3, conns: []*fakeConn{newFakeConn(ev)}},
		Fetcher:      &fakeFetcher{},
		Handler:      &fakeHandler{ev: ev},
		Payload:      testPayload,
		Script:       testScript,
		ReconnectMin: time.Millisecond,
		ReconnectMax: 4 * time.Millisecond,
		Logger:       logging.Discard(),
		OnState: func(st State) {
			mu.Lock()
			states = append(states, st)
			mu.Unlock()
		},
	})

	s.Start(context.Background())
	defer s.Stop()

	require.Eventually(t, func() bool { return s.State() == StateSubscribed }, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, StateConnecting, states[0])
	require.Equal(t, StateSubscribed, states[len(states)-1])
	require.Contains(t, states, StateDisconnected)
}

func TestSubscriberStopUnsubscribes(t *testing.T) {
	ev := &events{}
	conn := newFakeConn(ev)
	s := newTestSubscriber(&fakeDialer{conns: []*fakeConn{conn}}, &fakeFetcher{}, &fakeHandler{ev: ev})

	s.Start(context.Background())
	require.Eventually(t, func() bool { return s.State() == StateSubscribed }, 2*time.Second, 5*time.Millisecond)

	s.Stop()
	require.Equal(t, StateDisconnected, s.State())
	require.Contains(t, ev.snapshot(), "unsubscribe:"+testPayload)
}

func TestNextBackoff(t *testing.T) {
	require.Equal(t, 2*time.Second, nextBackoff(time.Second, time.Minute))
	require.Equal(t, time.Minute, nextBackoff(45*time.Second, time.Minute))
}
