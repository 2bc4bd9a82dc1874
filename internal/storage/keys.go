package storage

// Keys under which wallet state is persisted.
const (
	KeyMnemonic   = "mnemonic"
	KeyXPrv       = "xprv"
	KeySigningKey = "signing_key"
	KeyAddress    = "address"
	KeyScript     = "script"
	KeyUTXOs      = "utxos"
	KeyBalance    = "balance"
	KeyTipHeight  = "tip_height"
	KeyTipHash    = "tip_hash"
)

// IdentityKeys are the keys written together when a wallet is initialized.
var IdentityKeys = []string{KeyMnemonic, KeyXPrv, KeySigningKey, KeyAddress, KeyScript}

// secretKeys are sealed with the store's cipher when one is configured.
var secretKeys = map[string]bool{
	KeyMnemonic:   true,
	KeyXPrv:       true,
	KeySigningKey: true,
}
