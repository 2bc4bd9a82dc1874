// Package utxo holds the wallet's spendable output cache and the logic that
// bootstraps and reconciles it against the indexer.
package utxo

import (
	"fmt"
	"strings"
)

// Outpoint identifies a transaction output.
type Outpoint struct {
	TxID   string `json:"txid"`
	OutIdx uint32 `json:"outIdx"`
}

func (o Outpoint) String() string {
	return fmt.Sprintf("%s:%d", o.TxID, o.OutIdx)
}

// Entry is one spendable output paying to the wallet.
type Entry struct {
	Outpoint
	Value uint64 `json:"value"`
}

// State is the indexer's verdict on an outpoint.
type State int

const (
	StateUnspent State = iota
	StateSpent
	StateNoSuchTx
	StateNoSuchOutput
)

func (s State) String() string {
	switch s {
	case StateUnspent:
		return "UNSPENT"
	case StateSpent:
		return "SPENT"
	case StateNoSuchTx:
		return "NO_SUCH_TX"
	case StateNoSuchOutput:
		return "NO_SUCH_OUTPUT"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ParseState parses the indexer's state names. A "UTXO_STATE_" prefix is
// tolerated.
func ParseState(s string) (State, error) {
	switch strings.TrimPrefix(strings.ToUpper(s), "UTXO_STATE_") {
	case "UNSPENT":
		return StateUnspent, nil
	case "SPENT":
		return StateSpent, nil
	case "NO_SUCH_TX":
		return StateNoSuchTx, nil
	case "NO_SUCH_OUTPUT":
		return StateNoSuchOutput, nil
	default:
		return 0, fmt.Errorf("unknown utxo state %q", s)
	}
}
