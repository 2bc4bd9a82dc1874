package wallet

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/txscript"

	"github.com/lotus-rank/rankwallet/internal/chain"
)

// ErrInvalidXAddress is returned for a malformed or foreign XAddress.
var ErrInvalidXAddress = errors.New("invalid xaddress")

// xAddressScript is the only XAddress payload type: a raw output script.
const xAddressScript byte = 0x00

const xAddressChecksumLen = 4

// EncodeXAddress renders script as a Lotus XAddress:
// prefix, network character, then base58(type || script || checksum).
func EncodeXAddress(script []byte, params *chain.Params) string {
	body := make([]byte, 0, 1+len(script)+xAddressChecksumLen)
	body = append(body, xAddressScript)
	body = append(body, script...)
	body = append(body, xAddressChecksum(body, params)...)
	return params.XAddressPrefix + string(params.XAddressNetwork) + base58.Encode(body)
}

// DecodeXAddress returns the output script an XAddress pays to.
func DecodeXAddress(address string, params *chain.Params) ([]byte, error) {
	prefix := params.XAddressPrefix
	if !strings.HasPrefix(address, prefix) || len(address) <= len(prefix)+1 {
		return nil, fmt.Errorf("%w: missing %q prefix", ErrInvalidXAddress, prefix)
	}
	if address[len(prefix)] != params.XAddressNetwork {
		return nil, fmt.Errorf("%w: network %q, want %q", ErrInvalidXAddress,
			address[len(prefix)], params.XAddressNetwork)
	}

	raw := base58.Decode(address[len(prefix)+1:])
	if len(raw) <= 1+xAddressChecksumLen {
		return nil, fmt.Errorf("%w: payload too short", ErrInvalidXAddress)
	}
	body, sum := raw[:len(raw)-xAddressChecksumLen], raw[len(raw)-xAddressChecksumLen:]
	if !bytes.Equal(xAddressChecksum(body, params), sum) {
		return nil, fmt.Errorf("%w: bad checksum", ErrInvalidXAddress)
	}
	if body[0] != xAddressScript {
		return nil, fmt.Errorf("%w: unsupported type %d", ErrInvalidXAddress, body[0])
	}

	return body[1:], nil
}

func xAddressChecksum(body []byte, params *chain.Params) []byte {
	h := sha256.New()
	h.Write([]byte(params.XAddressPrefix))
	h.Write([]byte{params.XAddressNetwork})
	h.Write(body)
	return h.Sum(nil)[:xAddressChecksumLen]
}

// ValidateAddress checks if an address is valid for the network.
func ValidateAddress(address string, params *chain.Params) bool {
	_, err := AddressToScript(address, params)
	return err == nil
}

// AddressToScript returns the output script paying to address. XAddresses
// are tried first; legacy base58 P2PKH and P2SH addresses are accepted as a
// fallback.
func AddressToScript(address string, params *chain.Params) ([]byte, error) {
	if strings.HasPrefix(address, params.XAddressPrefix) {
		script, err := DecodeXAddress(address, params)
		if err != nil {
			return nil, err
		}
		switch txscript.GetScriptClass(script) {
		case txscript.PubKeyHashTy, txscript.ScriptHashTy:
		default:
			return nil, fmt.Errorf("unsupported script in address %s", address)
		}
		return script, nil
	}

	cfg := params.ChainCfg()
	decoded, err := btcutil.DecodeAddress(address, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to decode address: %w", err)
	}
	if !decoded.IsForNet(cfg) {
		return nil, fmt.Errorf("address %s is for a different network", address)
	}

	switch decoded.(type) {
	case *btcutil.AddressPubKeyHash, *btcutil.AddressScriptHash:
	default:
		return nil, fmt.Errorf("unsupported address type %T", decoded)
	}

	return txscript.PayToAddrScript(decoded)
}

// PrivateKeyToWIF converts a private key to Wallet Import Format.
func PrivateKeyToWIF(privKey *btcec.PrivateKey, params *chain.Params) (string, error) {
	wif, err := btcutil.NewWIF(privKey, params.ChainCfg(), true)
	if err != nil {
		return "", fmt.Errorf("failed to create WIF: %w", err)
	}
	return wif.String(), nil
}

// WIFToPrivateKey converts a WIF string to a private key.
func WIFToPrivateKey(wifStr string, params *chain.Params) (*btcec.PrivateKey, error) {
	wif, err := btcutil.DecodeWIF(wifStr)
	if err != nil {
		return nil, fmt.Errorf("failed to decode WIF: %w", err)
	}

	if !wif.IsForNet(params.ChainCfg()) {
		return nil, fmt.Errorf("WIF is for different network")
	}

	return wif.PrivKey, nil
}
