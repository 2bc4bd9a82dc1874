// Package wallet derives the single-key wallet identity from a BIP39 phrase
// and builds, signs and verifies the transactions it spends.
package wallet

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/txscript"
	"github.com/tyler-smith/go-bip39"

	"github.com/lotus-rank/rankwallet/internal/chain"
)

// ErrInvalidMnemonic is returned when a phrase fails BIP39 validation.
var ErrInvalidMnemonic = errors.New("invalid mnemonic")

// DerivationError reports the stage at which identity derivation failed.
// Callers must treat it as fatal to wallet creation.
type DerivationError struct {
	Stage string
	Err   error
}

func (e *DerivationError) Error() string {
	return fmt.Sprintf("derivation failed at %s: %v", e.Stage, e.Err)
}

func (e *DerivationError) Unwrap() error {
	return e.Err
}

func derivationErr(stage string, err error) error {
	if err == nil {
		err = errors.New("no result")
	}
	return &DerivationError{Stage: stage, Err: err}
}

// Identity is the wallet's immutable key material: the phrase, the master
// extended key, the single signing key at m/44'/10605'/0'/0/0, its P2PKH
// address and the locking script paying to that address.
type Identity struct {
	Mnemonic    string
	ExtendedKey string
	SigningKey  *btcec.PrivateKey
	Address     *btcutil.AddressPubKeyHash
	Script      []byte
	Network     chain.Network

	params *chain.Params
}

// GenerateMnemonic generates a new 12-word BIP39 mnemonic.
func GenerateMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(128)
	if err != nil {
		return "", fmt.Errorf("failed to generate entropy: %w", err)
	}

	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("failed to generate mnemonic: %w", err)
	}

	return mnemonic, nil
}

// ValidateMnemonic checks if a mnemonic is valid.
func ValidateMnemonic(mnemonic string) bool {
	return bip39.IsMnemonicValid(mnemonic)
}

// NewIdentity derives an identity from mnemonic. An empty mnemonic generates
// a fresh phrase. The result is a pure function of the phrase and network.
func NewIdentity(mnemonic string, network chain.Network) (*Identity, error) {
	params, ok := chain.Get(network)
	if !ok {
		return nil, derivationErr("params", fmt.Errorf("unknown network %q", network))
	}

	if mnemonic == "" {
		generated, err := GenerateMnemonic()
		if err != nil {
			return nil, derivationErr("mnemonic", err)
		}
		mnemonic = generated
	}
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, derivationErr("mnemonic", ErrInvalidMnemonic)
	}

	seed := bip39.NewSeed(mnemonic, "")
	if len(seed) == 0 {
		return nil, derivationErr("seed", nil)
	}

	master, err := hdkeychain.NewMaster(seed, params.ChainCfg())
	if err != nil || master == nil {
		return nil, derivationErr("master key", err)
	}

	key := master
	for _, child := range params.DerivationPath(0, 0, 0) {
		key, err = key.Derive(child)
		if err != nil || key == nil {
			return nil, derivationErr(params.DerivationPathString(0, 0, 0), err)
		}
	}

	privKey, err := key.ECPrivKey()
	if err != nil || privKey == nil {
		return nil, derivationErr("signing key", err)
	}

	id, err := identityFromKey(privKey, params)
	if err != nil {
		return nil, err
	}
	id.Mnemonic = mnemonic
	id.ExtendedKey = master.String()
	id.Network = network

	return id, nil
}

// identityFromKey fills in the address and script for privKey.
func identityFromKey(privKey *btcec.PrivateKey, params *chain.Params) (*Identity, error) {
	pubKeyHash := btcutil.Hash160(privKey.PubKey().SerializeCompressed())
	addr, err := btcutil.NewAddressPubKeyHash(pubKeyHash, params.ChainCfg())
	if err != nil || addr == nil {
		return nil, derivationErr("address", err)
	}

	script, err := txscript.PayToAddrScript(addr)
	if err != nil || len(script) == 0 {
		return nil, derivationErr("script", err)
	}

	return &Identity{
		SigningKey: privKey,
		Address:    addr,
		Script:     script,
		params:     params,
	}, nil
}

// Fields is the persisted form of an Identity.
type Fields struct {
	Mnemonic    string
	ExtendedKey string
	SigningKey  string // WIF
	Address     string
	Script      string // hex
}

// Fields returns the identity in its persisted form.
func (id *Identity) Fields() (Fields, error) {
	wif, err := PrivateKeyToWIF(id.SigningKey, id.params)
	if err != nil {
		return Fields{}, err
	}
	return Fields{
		Mnemonic:    id.Mnemonic,
		ExtendedKey: id.ExtendedKey,
		SigningKey:  wif,
		Address:     id.XAddress(),
		Script:      id.ScriptHex(),
	}, nil
}

// LoadIdentity restores an identity verbatim from persisted fields. The
// signing key, address and script must agree with each other.
func LoadIdentity(f Fields, network chain.Network) (*Identity, error) {
	params, ok := chain.Get(network)
	if !ok {
		return nil, derivationErr("params", fmt.Errorf("unknown network %q", network))
	}

	privKey, err := WIFToPrivateKey(f.SigningKey, params)
	if err != nil {
		return nil, derivationErr("signing key", err)
	}

	id, err := identityFromKey(privKey, params)
	if err != nil {
		return nil, err
	}

	script, err := AddressToScript(f.Address, params)
	if err != nil || !bytes.Equal(script, id.Script) {
		return nil, derivationErr("load", fmt.Errorf("address %s does not match signing key", f.Address))
	}
	if id.ScriptHex() != f.Script {
		return nil, derivationErr("load", fmt.Errorf("script does not match address %s", f.Address))
	}

	id.Mnemonic = f.Mnemonic
	id.ExtendedKey = f.ExtendedKey
	id.Network = network

	return id, nil
}

// Params returns the chain parameters the identity was derived for.
func (id *Identity) Params() *chain.Params {
	return id.params
}

// XAddress returns the receiving address in XAddress form.
func (id *Identity) XAddress() string {
	return EncodeXAddress(id.Script, id.params)
}

// ScriptHex returns the locking script as hex.
func (id *Identity) ScriptHex() string {
	return fmt.Sprintf("%x", id.Script)
}

// ScriptPayload returns the hex pubkey hash the indexer keys P2PKH
// subscriptions and UTXO queries by.
func (id *Identity) ScriptPayload() string {
	return fmt.Sprintf("%x", id.Address.ScriptAddress())
}

// SignMessage signs msg with the identity's signing key.
func (id *Identity) SignMessage(msg string) (string, error) {
	return SignMessage(id.SigningKey, msg)
}
