// Package chain defines network parameters and the fixed derivation path for
// the Lotus (XPI) chain. All chain-specific values are hardcoded here.
package chain

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
)

// Network represents mainnet or testnet.
type Network string

const (
	Mainnet Network = "mainnet"
	Testnet Network = "testnet"
)

// ParseNetwork converts a config string to a Network.
func ParseNetwork(s string) (Network, error) {
	switch Network(s) {
	case Mainnet, "":
		return Mainnet, nil
	case Testnet:
		return Testnet, nil
	default:
		return "", fmt.Errorf("unknown network: %q", s)
	}
}

// Params contains all parameters for a network.
type Params struct {
	// Identity
	Symbol   string // XPI
	Name     string // Lotus
	Decimals uint8  // 6

	// BIP44 derivation
	CoinType       uint32
	DefaultPurpose uint32

	// Address encoding
	PubKeyHashAddrID byte
	ScriptHashAddrID byte
	WIF              byte

	// XAddress prefix and network character, e.g. "lotus" and '_'
	XAddressPrefix  string
	XAddressNetwork byte

	// BIP32 HD key magic bytes
	HDPrivateKeyID [4]byte
	HDPublicKeyID  [4]byte

	// DustThreshold is the smallest change output worth creating.
	DustThreshold uint64
}

// DerivationPath returns the BIP44 derivation path for this chain.
// Format: m/purpose'/coin'/account'/change/index
func (p *Params) DerivationPath(account, change, index uint32) []uint32 {
	return []uint32{
		p.DefaultPurpose + 0x80000000, // purpose' (hardened)
		p.CoinType + 0x80000000,       // coin_type' (hardened)
		account + 0x80000000,          // account' (hardened)
		change,                        // change (0=external, 1=internal)
		index,                         // address_index
	}
}

// DerivationPathString returns the derivation path as a string.
func (p *Params) DerivationPathString(account, change, index uint32) string {
	return fmt.Sprintf("m/%d'/%d'/%d'/%d/%d", p.DefaultPurpose, p.CoinType, account, change, index)
}

// ChainCfg converts Params to btcd's chaincfg.Params for address, WIF and
// extended key encoding.
func (p *Params) ChainCfg() *chaincfg.Params {
	return &chaincfg.Params{
		Name:             p.Name,
		PubKeyHashAddrID: p.PubKeyHashAddrID,
		ScriptHashAddrID: p.ScriptHashAddrID,
		PrivateKeyID:     p.WIF,
		HDPrivateKeyID:   p.HDPrivateKeyID,
		HDPublicKeyID:    p.HDPublicKeyID,
		HDCoinType:       p.CoinType,
	}
}

var registry = make(map[Network]*Params)

// Register adds network params to the registry.
func Register(network Network, params *Params) {
	registry[network] = params
}

// Get returns params for a network.
func Get(network Network) (*Params, bool) {
	params, ok := registry[network]
	return params, ok
}

// MustGet returns params for a network and panics if it was never registered.
func MustGet(network Network) *Params {
	params, ok := Get(network)
	if !ok {
		panic(fmt.Sprintf("chain: network %q not registered", network))
	}
	return params
}
