package wallet

import (
	"bytes"
	"encoding/base64"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"

	"github.com/lotus-rank/rankwallet/internal/chain"
)

const messageMagic = "Lotus Signed Message:\n"

func messageHash(msg string) []byte {
	var buf bytes.Buffer
	// Writes to a bytes.Buffer do not fail.
	_ = wire.WriteVarString(&buf, 0, messageMagic)
	_ = wire.WriteVarString(&buf, 0, msg)
	return chainhash.DoubleHashB(buf.Bytes())
}

// SignMessage produces a base64 compact recoverable signature over msg
// using the signed-message envelope.
func SignMessage(key *btcec.PrivateKey, msg string) (string, error) {
	if key == nil {
		return "", fmt.Errorf("no signing key")
	}
	sig := ecdsa.SignCompact(key, messageHash(msg), true)
	return base64.StdEncoding.EncodeToString(sig), nil
}

// VerifyMessage reports whether sig is a valid signature over msg by the
// key behind address, given as an XAddress or legacy P2PKH address.
func VerifyMessage(address, sig, msg string, params *chain.Params) (bool, error) {
	want, err := AddressToScript(address, params)
	if err != nil {
		return false, err
	}

	raw, err := base64.StdEncoding.DecodeString(sig)
	if err != nil {
		return false, fmt.Errorf("malformed signature: %w", err)
	}

	pub, compressed, err := ecdsa.RecoverCompact(raw, messageHash(msg))
	if err != nil {
		return false, nil
	}

	var serialized []byte
	if compressed {
		serialized = pub.SerializeCompressed()
	} else {
		serialized = pub.SerializeUncompressed()
	}

	recovered, err := btcutil.NewAddressPubKeyHash(btcutil.Hash160(serialized), params.ChainCfg())
	if err != nil {
		return false, err
	}
	script, err := txscript.PayToAddrScript(recovered)
	if err != nil {
		return false, err
	}
	return bytes.Equal(script, want), nil
}
