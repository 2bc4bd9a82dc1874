package engine

import (
	"github.com/lightningnetwork/lnd/fn/v2"

	"github.com/lotus-rank/rankwallet/internal/rank"
	"github.com/lotus-rank/rankwallet/internal/utxo"
	"github.com/lotus-rank/rankwallet/internal/wallet"
)

// ApplyOutput records an output paying to the wallet.
type ApplyOutput struct {
	TxID   string
	OutIdx uint32
	Value  uint64
}

// Reconcile drops cached outputs the indexer no longer reports unspent.
type Reconcile struct{}

// Bootstrap replaces the cache with the indexer's view.
type Bootstrap struct {
	done chan error
}

// Install replaces the loaded wallet. Persist, when set, is written to the
// store before the identity and cache are swapped.
type Install struct {
	Identity *wallet.Identity
	Entries  []utxo.Entry
	Balance  string
	Tip      fn.Option[SetTip]
	Persist  map[string]string

	done chan error
}

// SetTip records the latest connected block.
type SetTip struct {
	Hash   string
	Height int64
}

// SendValue builds, signs and broadcasts a payment.
type SendValue struct {
	To     string
	Amount uint64

	reply chan fn.Result[*Receipt]
}

// SubmitVote builds, signs and broadcasts a RANK vote.
type SubmitVote struct {
	Vote rank.Vote

	reply chan fn.Result[*Receipt]
}

func (*ApplyOutput) Name() string { return "apply_output" }
func (*Reconcile) Name() string   { return "reconcile" }
func (*Bootstrap) Name() string   { return "bootstrap" }
func (*Install) Name() string     { return "install" }
func (*SetTip) Name() string      { return "set_tip" }
func (*SendValue) Name() string   { return "send_value" }
func (*SubmitVote) Name() string  { return "submit_vote" }

// Receipt describes a broadcast transaction.
type Receipt struct {
	// ID correlates the request with its log lines and websocket event.
	ID     string `json:"id"`
	TxID   string `json:"txid"`
	Hex    string `json:"hex"`
	Fee    uint64 `json:"fee"`
	Change uint64 `json:"change"`
}
