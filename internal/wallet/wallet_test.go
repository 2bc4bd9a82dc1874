package wallet

import (
	"errors"
	"strings"
	"testing"

	"github.com/lotus-rank/rankwallet/internal/chain"
)

// Test mnemonic (DO NOT USE FOR REAL FUNDS)
const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func TestGenerateMnemonic(t *testing.T) {
	mnemonic, err := GenerateMnemonic()
	if err != nil {
		t.Fatalf("GenerateMnemonic() error = %v", err)
	}

	words := strings.Fields(mnemonic)
	if len(words) != 12 {
		t.Errorf("expected 12 words, got %d", len(words))
	}

	if !ValidateMnemonic(mnemonic) {
		t.Error("generated mnemonic should be valid")
	}
}

func TestValidateMnemonic(t *testing.T) {
	tests := []struct {
		mnemonic string
		valid    bool
	}{
		{testMnemonic, true},
		{"invalid mnemonic words", false},
		{"", false},
		{"abandon", false},
	}

	for _, tt := range tests {
		if got := ValidateMnemonic(tt.mnemonic); got != tt.valid {
			t.Errorf("ValidateMnemonic(%q) = %v, want %v", tt.mnemonic, got, tt.valid)
		}
	}
}

func TestNewIdentity(t *testing.T) {
	id, err := NewIdentity(testMnemonic, chain.Mainnet)
	if err != nil {
		t.Fatalf("NewIdentity() error = %v", err)
	}

	if id.Mnemonic != testMnemonic {
		t.Error("mnemonic not preserved")
	}
	if !strings.HasPrefix(id.ExtendedKey, "xprv") {
		t.Errorf("ExtendedKey = %q, want xprv prefix", id.ExtendedKey)
	}
	if !strings.HasPrefix(id.XAddress(), "lotus_") {
		t.Errorf("XAddress() = %q, want mainnet XAddress", id.XAddress())
	}

	// OP_DUP OP_HASH160 <20> OP_EQUALVERIFY OP_CHECKSIG
	if len(id.Script) != 25 || id.Script[0] != 0x76 || id.Script[1] != 0xa9 || id.Script[24] != 0xac {
		t.Errorf("Script = %x, want P2PKH", id.Script)
	}
	if len(id.ScriptPayload()) != 40 {
		t.Errorf("ScriptPayload() = %q, want 20-byte hex", id.ScriptPayload())
	}
}

func TestNewIdentityDeterministic(t *testing.T) {
	a, err := NewIdentity(testMnemonic, chain.Mainnet)
	if err != nil {
		t.Fatalf("NewIdentity() error = %v", err)
	}
	b, err := NewIdentity(testMnemonic, chain.Mainnet)
	if err != nil {
		t.Fatalf("NewIdentity() error = %v", err)
	}

	if a.Address.EncodeAddress() != b.Address.EncodeAddress() {
		t.Error("same phrase derived different addresses")
	}
	if a.ScriptHex() != b.ScriptHex() {
		t.Error("same phrase derived different scripts")
	}
	if a.ExtendedKey != b.ExtendedKey {
		t.Error("same phrase derived different extended keys")
	}
}

func TestNewIdentityGeneratesPhrase(t *testing.T) {
	id, err := NewIdentity("", chain.Mainnet)
	if err != nil {
		t.Fatalf("NewIdentity() error = %v", err)
	}
	if !ValidateMnemonic(id.Mnemonic) {
		t.Errorf("generated phrase %q is not valid", id.Mnemonic)
	}
}

func TestNewIdentityInvalid(t *testing.T) {
	_, err := NewIdentity("not a valid phrase", chain.Mainnet)
	if err == nil {
		t.Fatal("expected error for invalid mnemonic")
	}

	var derr *DerivationError
	if !errors.As(err, &derr) {
		t.Fatalf("error = %T, want *DerivationError", err)
	}
	if !errors.Is(err, ErrInvalidMnemonic) {
		t.Errorf("error = %v, want ErrInvalidMnemonic", err)
	}
}

func TestNewIdentityTestnet(t *testing.T) {
	main, err := NewIdentity(testMnemonic, chain.Mainnet)
	if err != nil {
		t.Fatalf("NewIdentity(mainnet) error = %v", err)
	}
	test, err := NewIdentity(testMnemonic, chain.Testnet)
	if err != nil {
		t.Fatalf("NewIdentity(testnet) error = %v", err)
	}

	if main.Address.EncodeAddress() == test.Address.EncodeAddress() {
		t.Error("mainnet and testnet addresses should differ")
	}
	if !strings.HasPrefix(test.ExtendedKey, "tprv") {
		t.Errorf("testnet ExtendedKey = %q, want tprv prefix", test.ExtendedKey)
	}
	// Same key, different version byte.
	if main.ScriptHex() != test.ScriptHex() {
		t.Error("scripts should match across networks")
	}
}

func TestLoadIdentity(t *testing.T) {
	id, err := NewIdentity(testMnemonic, chain.Mainnet)
	if err != nil {
		t.Fatalf("NewIdentity() error = %v", err)
	}
	fields, err := id.Fields()
	if err != nil {
		t.Fatalf("Fields() error = %v", err)
	}

	loaded, err := LoadIdentity(fields, chain.Mainnet)
	if err != nil {
		t.Fatalf("LoadIdentity() error = %v", err)
	}
	if loaded.Address.EncodeAddress() != id.Address.EncodeAddress() {
		t.Errorf("loaded address = %s, want %s", loaded.Address.EncodeAddress(), id.Address.EncodeAddress())
	}
	if loaded.Mnemonic != testMnemonic || loaded.ExtendedKey != id.ExtendedKey {
		t.Error("loaded identity lost persisted fields")
	}

	legacy := fields
	legacy.Address = id.Address.EncodeAddress()
	if _, err := LoadIdentity(legacy, chain.Mainnet); err != nil {
		t.Errorf("LoadIdentity() with legacy address error = %v", err)
	}

	other, _ := NewIdentity("", chain.Mainnet)
	tampered := fields
	tampered.Address = other.Address.EncodeAddress()
	if _, err := LoadIdentity(tampered, chain.Mainnet); err == nil {
		t.Error("LoadIdentity() accepted mismatched address")
	}
}

func TestWIFRoundTrip(t *testing.T) {
	id, _ := NewIdentity(testMnemonic, chain.Mainnet)
	params := chain.MustGet(chain.Mainnet)

	wif, err := PrivateKeyToWIF(id.SigningKey, params)
	if err != nil {
		t.Fatalf("PrivateKeyToWIF() error = %v", err)
	}
	key, err := WIFToPrivateKey(wif, params)
	if err != nil {
		t.Fatalf("WIFToPrivateKey() error = %v", err)
	}
	if !key.Key.Equals(&id.SigningKey.Key) {
		t.Error("WIF round trip changed the key")
	}

	if _, err := WIFToPrivateKey(wif, chain.MustGet(chain.Testnet)); err == nil {
		t.Error("WIFToPrivateKey() accepted key for wrong network")
	}
}

func TestSignMessage(t *testing.T) {
	id, _ := NewIdentity(testMnemonic, chain.Mainnet)
	params := chain.MustGet(chain.Mainnet)
	msg := `{"blockhash":"00","blockheight":"1"}`

	sig, err := id.SignMessage(msg)
	if err != nil {
		t.Fatalf("SignMessage() error = %v", err)
	}

	ok, err := VerifyMessage(id.Address.EncodeAddress(), sig, msg, params)
	if err != nil {
		t.Fatalf("VerifyMessage() error = %v", err)
	}
	if !ok {
		t.Error("signature did not verify")
	}

	ok, _ = VerifyMessage(id.Address.EncodeAddress(), sig, msg+"x", params)
	if ok {
		t.Error("signature verified over a different message")
	}
}
