package wallet

import (
	"bytes"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/lotus-rank/rankwallet/internal/chain"
	"github.com/lotus-rank/rankwallet/internal/utxo"
)

const testScriptHex = "76a914b50b86a893d80c9e2ee72b199612374b7b4c1cd888ac"

func TestEncodeXAddress(t *testing.T) {
	script, _ := hex.DecodeString(testScriptHex)

	tests := []struct {
		network chain.Network
		want    string
	}{
		{chain.Mainnet, "lotus_16PSJNf1EDEfGvaYzaXJCJZrXH4pgiTo7kyW61iGi"},
		{chain.Testnet, "lotusT16PSJNf1EDEfGvaYzaXJCJZrXH4pgiTo7kyZ3beyk"},
	}

	for _, tt := range tests {
		t.Run(string(tt.network), func(t *testing.T) {
			params := chain.MustGet(tt.network)
			if got := EncodeXAddress(script, params); got != tt.want {
				t.Errorf("EncodeXAddress() = %s, want %s", got, tt.want)
			}

			decoded, err := DecodeXAddress(tt.want, params)
			if err != nil {
				t.Fatalf("DecodeXAddress() error = %v", err)
			}
			if !bytes.Equal(decoded, script) {
				t.Errorf("DecodeXAddress() = %x, want %s", decoded, testScriptHex)
			}
		})
	}
}

func TestDecodeXAddressRejects(t *testing.T) {
	params := chain.MustGet(chain.Mainnet)

	tests := []struct {
		name    string
		address string
	}{
		{"bad checksum", "lotus_16PSJNf1EDEfGvaYzaXJCJZrXH4pgiTo7kyW61iGj"},
		{"testnet on mainnet", "lotusT16PSJNf1EDEfGvaYzaXJCJZrXH4pgiTo7kyZ3beyk"},
		{"no prefix", "16PSJNf1EDEfGvaYzaXJCJZrXH4pgiTo7kyW61iGi"},
		{"empty payload", "lotus_"},
		{"short payload", "lotus_1111"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeXAddress(tt.address, params); !errors.Is(err, ErrInvalidXAddress) {
				t.Errorf("DecodeXAddress(%q) error = %v, want ErrInvalidXAddress", tt.address, err)
			}
		})
	}
}

func TestAddressToScriptAcceptsBothForms(t *testing.T) {
	id, err := NewIdentity(testMnemonic, chain.Mainnet)
	if err != nil {
		t.Fatalf("NewIdentity() error = %v", err)
	}
	params := id.Params()

	for _, addr := range []string{id.XAddress(), id.Address.EncodeAddress()} {
		script, err := AddressToScript(addr, params)
		if err != nil {
			t.Fatalf("AddressToScript(%s) error = %v", addr, err)
		}
		if !bytes.Equal(script, id.Script) {
			t.Errorf("AddressToScript(%s) = %x, want %x", addr, script, id.Script)
		}
		if !ValidateAddress(addr, params) {
			t.Errorf("ValidateAddress(%s) = false", addr)
		}
	}

	if ValidateAddress(EncodeXAddress(id.Script, chain.MustGet(chain.Testnet)), params) {
		t.Error("ValidateAddress() accepted a testnet XAddress on mainnet")
	}
}

func TestTransferToXAddress(t *testing.T) {
	b, _ := testBuilder(t, DefaultBuilderConfig())
	to, err := NewIdentity("", chain.Mainnet)
	if err != nil {
		t.Fatalf("NewIdentity() error = %v", err)
	}

	built, err := b.Transfer(to.XAddress(), 1_000_000, []utxo.Entry{fund(fundingTxID, 0, 2_000_000)})
	if err != nil {
		t.Fatalf("Transfer() error = %v", err)
	}
	if !bytes.Equal(built.Tx.TxOut[0].PkScript, to.Script) {
		t.Errorf("destination script = %x, want %x", built.Tx.TxOut[0].PkScript, to.Script)
	}
}
