package wallet

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txsizes"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"

	"github.com/lotus-rank/rankwallet/internal/rank"
	"github.com/lotus-rank/rankwallet/internal/utxo"
)

var (
	// ErrInsufficientFunds is returned when the cached outputs cannot cover
	// a request.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrAmountBelowFee is returned when the fee would consume the entire
	// send amount.
	ErrAmountBelowFee = errors.New("amount does not cover fee")

	// ErrZeroAmount is returned for a send of nothing.
	ErrZeroAmount = errors.New("amount must be positive")
)

// TransactionBuildError reports a transaction that failed script
// verification after signing.
type TransactionBuildError struct {
	Input      int
	Diagnostic string
}

func (e *TransactionBuildError) Error() string {
	return fmt.Sprintf("transaction failed verification at input %d: %s", e.Input, e.Diagnostic)
}

// BuilderConfig configures a Builder.
type BuilderConfig struct {
	// FeeRate is the fee in satoshis per serialized byte.
	FeeRate uint64

	// VoteMinimum is the value carried by the null-data vote output.
	VoteMinimum uint64
}

// DefaultBuilderConfig returns the default fee policy.
func DefaultBuilderConfig() BuilderConfig {
	return BuilderConfig{
		FeeRate:     1,
		VoteMinimum: 1_000_000,
	}
}

// Builder assembles and signs transactions spending the identity's outputs.
type Builder struct {
	id  *Identity
	cfg BuilderConfig
}

// NewBuilder creates a builder for id.
func NewBuilder(id *Identity, cfg BuilderConfig) *Builder {
	if cfg.FeeRate == 0 {
		cfg.FeeRate = DefaultBuilderConfig().FeeRate
	}
	return &Builder{id: id, cfg: cfg}
}

// BuiltTx is a signed, verified transaction ready for broadcast.
type BuiltTx struct {
	Tx     *wire.MsgTx
	Hex    string
	TxID   string
	Inputs []utxo.Entry
	Fee    uint64
	Change uint64
}

// SelectCoins takes entries in order until their sum strictly exceeds
// threshold.
func SelectCoins(entries []utxo.Entry, threshold uint64) ([]utxo.Entry, *big.Int, error) {
	target := new(big.Int).SetUint64(threshold)
	total := new(big.Int)
	var selected []utxo.Entry

	for _, e := range entries {
		selected = append(selected, e)
		total.Add(total, new(big.Int).SetUint64(e.Value))
		if total.Cmp(target) > 0 {
			return selected, total, nil
		}
	}

	return nil, nil, fmt.Errorf("%w: have %s, need more than %d", ErrInsufficientFunds, total, threshold)
}

// EstimateSize returns the serialized size of a transaction spending
// inputCount P2PKH inputs to outputs, plus a P2PKH change output when
// addChange is set.
func EstimateSize(inputCount int, outputs []*wire.TxOut, addChange bool) int {
	outputCount := len(outputs)
	changeSize := 0
	if addChange {
		outputCount++
		changeSize = txsizes.P2PKHOutputSize
	}

	return 8 +
		wire.VarIntSerializeSize(uint64(inputCount)) +
		wire.VarIntSerializeSize(uint64(outputCount)) +
		inputCount*txsizes.RedeemP2PKHInputSize +
		txsizes.SumOutputSerializeSizes(outputs) +
		changeSize
}

// selectWithFee walks entries like SelectCoins, but the threshold grows
// with the fee for the inputs taken so far.
func (b *Builder) selectWithFee(entries []utxo.Entry, amount uint64,
	outputs []*wire.TxOut) ([]utxo.Entry, *big.Int, uint64, error) {

	total := new(big.Int)
	var selected []utxo.Entry

	for _, e := range entries {
		selected = append(selected, e)
		total.Add(total, new(big.Int).SetUint64(e.Value))

		fee := b.fee(len(selected), outputs)
		if total.Cmp(new(big.Int).SetUint64(amount+fee)) > 0 {
			return selected, total, fee, nil
		}
	}

	need := amount + b.fee(max(len(selected), 1), outputs)
	return nil, nil, 0, fmt.Errorf("%w: have %s, need more than %d", ErrInsufficientFunds, total, need)
}

func (b *Builder) fee(inputCount int, outputs []*wire.TxOut) uint64 {
	return b.cfg.FeeRate * uint64(EstimateSize(inputCount, outputs, true))
}

// Transfer builds a payment of amount to address. The fee is taken from the
// destination output; whatever the selected inputs carry beyond amount
// returns to the wallet as change unless it is dust.
func (b *Builder) Transfer(address string, amount uint64, entries []utxo.Entry) (*BuiltTx, error) {
	if amount == 0 {
		return nil, ErrZeroAmount
	}

	destScript, err := AddressToScript(address, b.id.params)
	if err != nil {
		return nil, fmt.Errorf("invalid destination address: %w", err)
	}

	selected, total, err := SelectCoins(entries, amount)
	if err != nil {
		return nil, err
	}

	dest := wire.NewTxOut(int64(amount), destScript)
	fee := b.fee(len(selected), []*wire.TxOut{dest})
	if amount <= fee {
		return nil, fmt.Errorf("%w: amount %d, fee %d", ErrAmountBelowFee, amount, fee)
	}
	dest.Value = int64(amount - fee)

	change := new(big.Int).Sub(total, new(big.Int).SetUint64(amount)).Uint64()

	return b.assemble(selected, []*wire.TxOut{dest}, change, fee)
}

// Vote builds a transaction carrying v as a null-data output worth the
// configured vote minimum. The fee comes out of change.
func (b *Builder) Vote(v rank.Vote, entries []utxo.Entry) (*BuiltTx, error) {
	fields, err := v.Encode()
	if err != nil {
		return nil, err
	}
	script, err := fields.Script()
	if err != nil {
		return nil, fmt.Errorf("failed to build vote script: %w", err)
	}

	out := wire.NewTxOut(int64(b.cfg.VoteMinimum), script)
	selected, total, fee, err := b.selectWithFee(entries, b.cfg.VoteMinimum, []*wire.TxOut{out})
	if err != nil {
		return nil, err
	}

	spent := new(big.Int).SetUint64(b.cfg.VoteMinimum + fee)
	change := new(big.Int).Sub(total, spent).Uint64()

	return b.assemble(selected, []*wire.TxOut{out}, change, fee)
}

func (b *Builder) assemble(inputs []utxo.Entry, outputs []*wire.TxOut, change, fee uint64) (*BuiltTx, error) {
	tx := wire.NewMsgTx(wire.TxVersion)

	for _, in := range inputs {
		hash, err := chainhash.NewHashFromStr(in.TxID)
		if err != nil {
			return nil, fmt.Errorf("invalid txid %s: %w", in.TxID, err)
		}
		tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(hash, in.OutIdx), nil, nil))
	}

	for _, out := range outputs {
		tx.AddTxOut(out)
	}

	if change >= b.id.params.DustThreshold {
		tx.AddTxOut(wire.NewTxOut(int64(change), b.id.Script))
	} else {
		change = 0
	}

	if err := b.sign(tx, inputs); err != nil {
		return nil, err
	}
	if err := b.verify(tx, inputs); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, fmt.Errorf("failed to serialize tx: %w", err)
	}

	return &BuiltTx{
		Tx:     tx,
		Hex:    hex.EncodeToString(buf.Bytes()),
		TxID:   tx.TxHash().String(),
		Inputs: inputs,
		Fee:    fee,
		Change: change,
	}, nil
}

// SigHashForkID marks a signature as committing to the replay protected
// digest, which covers the spent amount.
const SigHashForkID txscript.SigHashType = 0x40

// SigHashAllForkID is the hash type every wallet input is signed with.
const SigHashAllForkID = txscript.SigHashAll | SigHashForkID

// SignatureHash returns the digest input idx of tx signs when spending an
// output of value amount locked by script.
func SignatureHash(tx *wire.MsgTx, idx int, script []byte, amount int64,
	sigHashes *txscript.TxSigHashes) ([]byte, error) {

	return txscript.CalcWitnessSigHash(script, sigHashes, SigHashAllForkID, tx, idx, amount)
}

func prevOutFetcher(tx *wire.MsgTx, inputs []utxo.Entry, script []byte) *txscript.MultiPrevOutFetcher {
	prevOuts := make(map[wire.OutPoint]*wire.TxOut, len(inputs))
	for i, in := range inputs {
		prevOuts[tx.TxIn[i].PreviousOutPoint] = wire.NewTxOut(int64(in.Value), script)
	}
	return txscript.NewMultiPrevOutFetcher(prevOuts)
}

func (b *Builder) sign(tx *wire.MsgTx, inputs []utxo.Entry) error {
	sigHashes := txscript.NewTxSigHashes(tx, prevOutFetcher(tx, inputs, b.id.Script))
	pubKey := b.id.SigningKey.PubKey().SerializeCompressed()

	for i, in := range inputs {
		digest, err := SignatureHash(tx, i, b.id.Script, int64(in.Value), sigHashes)
		if err != nil {
			return fmt.Errorf("failed to hash input %d: %w", i, err)
		}
		sig := ecdsa.Sign(b.id.SigningKey, digest).Serialize()

		sigScript, err := txscript.NewScriptBuilder().
			AddData(append(sig, byte(SigHashAllForkID))).
			AddData(pubKey).
			Script()
		if err != nil {
			return fmt.Errorf("failed to sign input %d: %w", i, err)
		}
		tx.TxIn[i].SignatureScript = sigScript
	}
	return nil
}

// verify checks every input's signature against the recomputed digest and
// the wallet's locking script.
func (b *Builder) verify(tx *wire.MsgTx, inputs []utxo.Entry) error {
	sigHashes := txscript.NewTxSigHashes(tx, prevOutFetcher(tx, inputs, b.id.Script))
	wantHash := b.id.Address.Hash160()

	for i, in := range inputs {
		fail := func(format string, args ...any) error {
			return &TransactionBuildError{Input: i, Diagnostic: fmt.Sprintf(format, args...)}
		}

		pushes, err := txscript.PushedData(tx.TxIn[i].SignatureScript)
		if err != nil {
			return fail("%v", err)
		}
		if len(pushes) != 2 {
			return fail("expected 2 pushes, got %d", len(pushes))
		}
		rawSig, rawPub := pushes[0], pushes[1]

		if len(rawSig) == 0 || txscript.SigHashType(rawSig[len(rawSig)-1]) != SigHashAllForkID {
			return fail("signature hash type is not ALL|FORKID")
		}
		sig, err := ecdsa.ParseDERSignature(rawSig[:len(rawSig)-1])
		if err != nil {
			return fail("%v", err)
		}
		pub, err := btcec.ParsePubKey(rawPub)
		if err != nil {
			return fail("%v", err)
		}
		if !bytes.Equal(btcutil.Hash160(rawPub), wantHash[:]) {
			return fail("public key does not match the locking script")
		}

		digest, err := SignatureHash(tx, i, b.id.Script, int64(in.Value), sigHashes)
		if err != nil {
			return fail("%v", err)
		}
		if !sig.Verify(digest, pub) {
			return fail("signature does not verify")
		}
	}
	return nil
}
