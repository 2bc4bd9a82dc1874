// Package engine owns a wallet instance: its identity, UTXO cache,
// operation queue and indexer subscription. Every cache mutation runs as a
// queued operation; reads are served from snapshots.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/fn/v2"

	"github.com/lotus-rank/rankwallet/internal/auth"
	"github.com/lotus-rank/rankwallet/internal/chain"
	"github.com/lotus-rank/rankwallet/internal/indexer"
	"github.com/lotus-rank/rankwallet/internal/metrics"
	"github.com/lotus-rank/rankwallet/internal/queue"
	"github.com/lotus-rank/rankwallet/internal/rank"
	"github.com/lotus-rank/rankwallet/internal/storage"
	"github.com/lotus-rank/rankwallet/internal/utxo"
	"github.com/lotus-rank/rankwallet/internal/wallet"
	"github.com/lotus-rank/rankwallet/pkg/helpers"
	"github.com/lotus-rank/rankwallet/pkg/logging"
)

// Indexer is the REST surface the engine needs.
type Indexer interface {
	utxo.Source
	indexer.TxFetcher
	Broadcast(ctx context.Context, rawTxHex string) (string, error)
}

// Config configures an Engine.
type Config struct {
	Network chain.Network
	Store   storage.Store
	Indexer Indexer
	Dialer  indexer.Dialer

	Builder wallet.BuilderConfig

	// OpTimeout bounds each queued operation.
	OpTimeout time.Duration

	ReconnectMin         time.Duration
	ReconnectMax         time.Duration
	ReconcileOnReconnect bool

	Metrics *metrics.Metrics
	Logger  *logging.Logger
}

// Engine is one wallet instance.
type Engine struct {
	cfg Config
	log *logging.Logger

	cache *utxo.Cache
	queue *queue.Queue

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	id      *wallet.Identity
	builder *wallet.Builder
	syncer  *utxo.Syncer
	sub     *indexer.Subscriber
	tip     fn.Option[SetTip]

	// Last values written by flush.
	persistedBalance string
	persistedTip     string
	dirty            atomic.Bool

	events *eventHub
}

// New creates an engine with no wallet loaded.
func New(cfg Config) *Engine {
	log := cfg.Logger
	if log == nil {
		log = logging.GetDefault().Component("engine")
	}
	if cfg.Network == "" {
		cfg.Network = chain.Mainnet
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:    cfg,
		log:    log,
		cache:  utxo.NewCache(),
		ctx:    ctx,
		cancel: cancel,
		tip:    fn.None[SetTip](),
		events: newEventHub(),
	}

	e.queue = queue.New(queue.Config{
		Run:       e.run,
		Flush:     e.flush,
		OpTimeout: cfg.OpTimeout,
		OnDone:    func(op queue.Op, err error) { cfg.Metrics.QueueOp(op.Name(), err) },
		Logger:    log.Component("queue"),
	})
	cfg.Metrics.ObserveQueueDepth(e.queue.Len)

	e.cache.SetListener(e.onCacheEvent)
	go e.watchBalance()

	return e
}

// InitializeFromPhrase derives a wallet from phrase (a fresh one when
// empty), persists it with an empty cache and starts syncing. Any wallet
// already loaded is replaced.
func (e *Engine) InitializeFromPhrase(ctx context.Context, phrase string) (*wallet.Identity, error) {
	id, err := wallet.NewIdentity(phrase, e.cfg.Network)
	if err != nil {
		return nil, fatal("initialize", err)
	}

	fields, err := id.Fields()
	if err != nil {
		return nil, fatal("initialize", err)
	}

	err = e.install(ctx, &Install{
		Identity: id,
		Balance:  "0",
		Tip:      fn.None[SetTip](),
		Persist: map[string]string{
			storage.KeyMnemonic:   fields.Mnemonic,
			storage.KeyXPrv:       fields.ExtendedKey,
			storage.KeySigningKey: fields.SigningKey,
			storage.KeyAddress:    fields.Address,
			storage.KeyScript:     fields.Script,
			storage.KeyUTXOs:      "[]",
			storage.KeyBalance:    "0",
			storage.KeyTipHash:    "",
			storage.KeyTipHeight:  "",
		},
	})
	if err != nil {
		return nil, fatal("initialize", err)
	}

	e.log.Info("Wallet initialized", "address", fields.Address)
	return id, nil
}

// LoadState restores a previously initialized wallet from the store and
// starts syncing. It returns ErrNoWallet, as a recoverable error, when the
// store holds no wallet.
func (e *Engine) LoadState(ctx context.Context) error {
	values, err := e.cfg.Store.GetMany(
		storage.KeyMnemonic, storage.KeyXPrv, storage.KeySigningKey,
		storage.KeyAddress, storage.KeyScript, storage.KeyUTXOs,
		storage.KeyBalance, storage.KeyTipHeight, storage.KeyTipHash,
	)
	if err != nil {
		return fatal("load", err)
	}
	if values[storage.KeySigningKey] == "" || values[storage.KeyAddress] == "" {
		return recoverable("load", ErrNoWallet)
	}

	id, err := wallet.LoadIdentity(wallet.Fields{
		Mnemonic:    values[storage.KeyMnemonic],
		ExtendedKey: values[storage.KeyXPrv],
		SigningKey:  values[storage.KeySigningKey],
		Address:     values[storage.KeyAddress],
		Script:      values[storage.KeyScript],
	}, e.cfg.Network)
	if err != nil {
		return fatal("load", err)
	}

	entries, err := decodeUTXOs(values[storage.KeyUTXOs])
	if err != nil {
		return fatal("load", err)
	}

	if stored, ok := new(big.Int).SetString(values[storage.KeyBalance], 10); ok {
		if sum := utxo.Sum(entries); sum.Cmp(stored) != 0 {
			e.log.Warn("Persisted balance disagrees with utxos, using utxo sum",
				"balance", stored.String(), "sum", sum.String())
		}
	}

	err = e.install(ctx, &Install{
		Identity: id,
		Entries:  entries,
		Balance:  values[storage.KeyBalance],
		Tip:      decodeTip(values[storage.KeyTipHash], values[storage.KeyTipHeight]),
	})
	if err != nil {
		return fatal("load", err)
	}
	e.log.Info("Wallet loaded", "address", id.XAddress(), "utxos", len(entries),
		"balance", e.cache.Balance().String())
	return nil
}

// install stops the current subscription so no further operations arrive
// for the old wallet, then queues the swap behind everything already
// pending.
func (e *Engine) install(ctx context.Context, op *Install) error {
	e.stopSync()

	op.done = make(chan error, 1)
	if err := e.queue.Enqueue(op); err != nil {
		return err
	}

	select {
	case err := <-op.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// swap runs on the queue. Persisted identity fields are written first, then
// the identity and cache are replaced and syncing restarts.
func (e *Engine) swap(o *Install) error {
	e.stopSync()

	if len(o.Persist) > 0 {
		if err := e.cfg.Store.SetMany(o.Persist); err != nil {
			return fatal("install", err)
		}
	}

	e.mu.Lock()
	e.id = o.Identity
	e.builder = wallet.NewBuilder(o.Identity, e.cfg.Builder)
	e.syncer = utxo.NewSyncer(utxo.SyncerConfig{
		Cache:   e.cache,
		Source:  e.cfg.Indexer,
		Payload: o.Identity.ScriptPayload(),
		Logger:  e.log.Component("utxo"),
	})
	e.tip = o.Tip
	e.persistedTip = ""
	o.Tip.WhenSome(func(t SetTip) { e.persistedTip = t.Hash })
	e.persistedBalance = o.Balance
	e.mu.Unlock()

	e.cache.Replace(o.Entries)
	e.startSync(o.Identity)
	return nil
}

func (e *Engine) startSync(id *wallet.Identity) {
	if e.cfg.Dialer == nil {
		return
	}

	sub := indexer.NewSubscriber(indexer.SubscriberConfig{
		Dialer:       e.cfg.Dialer,
		Fetcher:      e.cfg.Indexer,
		Handler:      &syncHooks{e: e},
		Payload:      id.ScriptPayload(),
		Script:       id.ScriptHex(),
		ReconnectMin: e.cfg.ReconnectMin,
		ReconnectMax: e.cfg.ReconnectMax,
		OnState:      func(st indexer.State) { e.cfg.Metrics.SetIndexerState(int(st)) },
		Logger:       e.log.Component("indexer"),
	})

	e.mu.Lock()
	e.sub = sub
	e.mu.Unlock()

	sub.Start(e.ctx)
}

func (e *Engine) stopSync() {
	e.mu.Lock()
	sub := e.sub
	e.sub = nil
	e.mu.Unlock()

	if sub != nil {
		sub.Stop()
	}
}

// identity returns the loaded identity and builder.
func (e *Engine) identity() (*wallet.Identity, *wallet.Builder, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.id == nil {
		return nil, nil, ErrNoWallet
	}
	return e.id, e.builder, nil
}

// SyncState reports the indexer subscription state.
func (e *Engine) SyncState() indexer.State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.sub == nil {
		return indexer.StateDisconnected
	}
	return e.sub.State()
}

// Send pays amount satoshis to address and returns once the transaction is
// broadcast or has failed.
func (e *Engine) Send(ctx context.Context, address string, amount uint64) (*Receipt, error) {
	if _, _, err := e.identity(); err != nil {
		return nil, recoverable("send", err)
	}

	op := &SendValue{To: address, Amount: amount, reply: make(chan fn.Result[*Receipt], 1)}
	return e.submit(ctx, "send", op, op.reply)
}

// Vote submits a RANK vote and returns once it is broadcast or has failed.
func (e *Engine) Vote(ctx context.Context, v rank.Vote) (*Receipt, error) {
	if _, _, err := e.identity(); err != nil {
		return nil, recoverable("vote", err)
	}

	op := &SubmitVote{Vote: v, reply: make(chan fn.Result[*Receipt], 1)}
	return e.submit(ctx, "vote", op, op.reply)
}

func (e *Engine) submit(ctx context.Context, name string, op queue.Op, reply chan fn.Result[*Receipt]) (*Receipt, error) {
	if err := e.queue.Enqueue(op); err != nil {
		return nil, fatal(name, err)
	}

	select {
	case res := <-reply:
		return res.Unpack()
	case <-ctx.Done():
		return nil, fatal(name, ctx.Err())
	}
}

// ReceivingScript returns the wallet's locking script as hex.
func (e *Engine) ReceivingScript() (string, error) {
	id, _, err := e.identity()
	if err != nil {
		return "", recoverable("script", err)
	}
	return id.ScriptHex(), nil
}

// Address returns the wallet's receiving XAddress.
func (e *Engine) Address() (string, error) {
	id, _, err := e.identity()
	if err != nil {
		return "", recoverable("address", err)
	}
	return id.XAddress(), nil
}

// SeedPhrase returns the wallet's mnemonic.
func (e *Engine) SeedPhrase() (string, error) {
	id, _, err := e.identity()
	if err != nil {
		return "", recoverable("mnemonic", err)
	}
	return id.Mnemonic, nil
}

// Balance returns the cached balance in satoshis.
func (e *Engine) Balance() *big.Int {
	return e.cache.Balance()
}

// UTXOs returns the cached outputs in insertion order.
func (e *Engine) UTXOs() []utxo.Entry {
	return e.cache.Entries()
}

// Tip returns the last connected block, if one has been seen.
func (e *Engine) Tip() fn.Option[SetTip] {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.tip
}

// AuthRespond answers a BlockDataSig challenge header with a signed
// Authorization header value.
func (e *Engine) AuthRespond(header string) (string, error) {
	id, _, err := e.identity()
	if err != nil {
		return "", recoverable("auth", err)
	}

	resp, err := auth.Respond(header, id)
	if errors.Is(err, auth.ErrBadChallenge) {
		return "", recoverable("auth", err)
	}
	if err != nil {
		return "", fatal("auth", err)
	}
	return resp, nil
}

// Subscribe returns a channel of wallet events until cancel is called.
func (e *Engine) Subscribe() (<-chan Event, func()) {
	return e.events.subscribe()
}

// WaitIdle blocks until queued operations have run and been flushed.
func (e *Engine) WaitIdle(ctx context.Context) error {
	return e.queue.WaitIdle(ctx)
}

// Close stops syncing, drains the queue and stops background work.
func (e *Engine) Close(ctx context.Context) error {
	e.stopSync()
	err := e.queue.Close(ctx)
	e.cancel()
	e.events.close()
	return err
}

// run dispatches one queued operation.
func (e *Engine) run(ctx context.Context, op queue.Op) error {
	switch o := op.(type) {
	case *ApplyOutput:
		e.cache.Apply(utxo.Entry{
			Outpoint: utxo.Outpoint{TxID: o.TxID, OutIdx: o.OutIdx},
			Value:    o.Value,
		})
		return nil

	case *Reconcile:
		syncer, err := e.currentSyncer()
		if err != nil {
			return err
		}
		if _, err := syncer.Reconcile(ctx); err != nil {
			return background("reconcile", err)
		}
		return nil

	case *Bootstrap:
		syncer, err := e.currentSyncer()
		if err == nil {
			err = syncer.Bootstrap(ctx)
		}
		o.done <- err
		if err != nil {
			return background("bootstrap", err)
		}
		return nil

	case *Install:
		err := e.swap(o)
		o.done <- err
		return err

	case *SetTip:
		e.mu.Lock()
		e.tip = fn.Some(*o)
		e.mu.Unlock()
		return nil

	case *SendValue:
		receipt, err := e.sendValue(ctx, o)
		o.reply <- toResult(receipt, err)
		return err

	case *SubmitVote:
		receipt, err := e.submitVote(ctx, o)
		o.reply <- toResult(receipt, err)
		return err

	default:
		return fmt.Errorf("unknown operation %T", op)
	}
}

func toResult(r *Receipt, err error) fn.Result[*Receipt] {
	if err != nil {
		return fn.Err[*Receipt](err)
	}
	return fn.Ok(r)
}

func (e *Engine) currentSyncer() (*utxo.Syncer, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.syncer == nil {
		return nil, ErrNoWallet
	}
	return e.syncer, nil
}

func (e *Engine) sendValue(ctx context.Context, o *SendValue) (*Receipt, error) {
	_, builder, err := e.identity()
	if err != nil {
		return nil, recoverable("send", err)
	}

	built, err := builder.Transfer(o.To, o.Amount, e.cache.Entries())
	if err != nil {
		return nil, fatal("send", err)
	}

	txid, err := e.cfg.Indexer.Broadcast(ctx, built.Hex)
	e.cfg.Metrics.Broadcast("send", err)
	if err != nil {
		return nil, fatal("send", fmt.Errorf("broadcast of %s XPI to %s failed: %w",
			helpers.SatsToXPI(new(big.Int).SetUint64(o.Amount)), o.To, err))
	}

	return e.broadcasted("send", built, txid), nil
}

func (e *Engine) submitVote(ctx context.Context, o *SubmitVote) (*Receipt, error) {
	_, builder, err := e.identity()
	if err != nil {
		return nil, recoverable("vote", err)
	}

	built, err := builder.Vote(o.Vote, e.cache.Entries())
	if err != nil {
		return nil, fatal("vote", err)
	}

	txid, err := e.cfg.Indexer.Broadcast(ctx, built.Hex)
	e.cfg.Metrics.Broadcast("vote", err)
	if err != nil {
		return nil, fatal("vote", fmt.Errorf("broadcast of %s vote for %s/%s failed: %w",
			o.Vote.Sentiment, o.Vote.Platform.Name, o.Vote.ProfileID, err))
	}

	return e.broadcasted("vote", built, txid), nil
}

// broadcasted schedules a reconcile ahead of anything already queued so
// the spent inputs leave the cache before the next build.
func (e *Engine) broadcasted(kind string, built *wallet.BuiltTx, txid string) *Receipt {
	if txid == "" {
		txid = built.TxID
	}
	receipt := &Receipt{
		ID:     uuid.NewString(),
		TxID:   txid,
		Hex:    built.Hex,
		Fee:    built.Fee,
		Change: built.Change,
	}

	if err := e.queue.Prepend(&Reconcile{}); err != nil {
		e.log.Warn("Could not schedule reconcile", "error", err)
	}

	e.log.Info("Broadcast transaction", "kind", kind, "txid", txid, "fee", built.Fee, "id", receipt.ID)
	e.events.publish(Event{Type: EventTxBroadcast, ID: receipt.ID, Kind: kind, TxID: txid})
	return receipt
}

// syncHooks adapts subscriber callbacks into queued operations.
type syncHooks struct {
	e *Engine
}

func (h *syncHooks) Bootstrap(ctx context.Context) {
	op := &Bootstrap{done: make(chan error, 1)}
	if err := h.e.queue.Enqueue(op); err != nil {
		return
	}
	select {
	case <-op.done:
	case <-ctx.Done():
	}
}

func (h *syncHooks) Reconnected(ctx context.Context) {
	h.e.cfg.Metrics.Reconnected()
	if h.e.cfg.ReconcileOnReconnect {
		_ = h.e.queue.Enqueue(&Reconcile{})
	}
}

func (h *syncHooks) IncomingOutput(txid string, outIdx uint32, value uint64) {
	_ = h.e.queue.Enqueue(&ApplyOutput{TxID: txid, OutIdx: outIdx, Value: value})
}

func (h *syncHooks) BlockConnected(hash string, height int64) {
	_ = h.e.queue.Enqueue(&SetTip{Hash: hash, Height: height})
}
