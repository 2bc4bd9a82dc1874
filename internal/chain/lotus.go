package chain

func init() {
	// Lotus Mainnet
	Register(Mainnet, &Params{
		Symbol:   "XPI",
		Name:     "lotus",
		Decimals: 6,

		// SLIP-44 coin type 10605
		CoinType:       10605,
		DefaultPurpose: 44,

		PubKeyHashAddrID: 0x00,
		ScriptHashAddrID: 0x05,
		WIF:              0x80,

		XAddressPrefix:  "lotus",
		XAddressNetwork: '_',

		HDPrivateKeyID: [4]byte{0x04, 0x88, 0xad, 0xe4}, // xprv
		HDPublicKeyID:  [4]byte{0x04, 0x88, 0xb2, 0x1e}, // xpub

		DustThreshold: 546,
	})

	// Lotus Testnet
	Register(Testnet, &Params{
		Symbol:   "XPI",
		Name:     "lotus-testnet",
		Decimals: 6,

		// Testnet keeps the mainnet coin type so restored phrases match
		CoinType:       10605,
		DefaultPurpose: 44,

		PubKeyHashAddrID: 0x6F,
		ScriptHashAddrID: 0xC4,
		WIF:              0xEF,

		XAddressPrefix:  "lotus",
		XAddressNetwork: 'T',

		HDPrivateKeyID: [4]byte{0x04, 0x35, 0x83, 0x94}, // tprv
		HDPublicKeyID:  [4]byte{0x04, 0x35, 0x87, 0xcf}, // tpub

		DustThreshold: 546,
	})
}
