package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lightningnetwork/lnd/fn/v2"

	"github.com/lotus-rank/rankwallet/internal/rank"
	"github.com/lotus-rank/rankwallet/pkg/helpers"
)

// decodeParams unmarshals params into v. Empty params leave v untouched.
func decodeParams(params json.RawMessage, v interface{}) error {
	if len(params) == 0 {
		return nil
	}
	if err := json.Unmarshal(params, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	return nil
}

// WalletInitializeParams is the parameters for wallet_initialize.
type WalletInitializeParams struct {
	// Mnemonic restores an existing wallet; empty generates a new one.
	Mnemonic string `json:"mnemonic"`
}

// WalletInfoResult describes the loaded wallet.
type WalletInfoResult struct {
	Address string `json:"address"`
	Script  string `json:"script"`
	Balance string `json:"balance"`
}

func (s *Server) walletInitialize(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p WalletInitializeParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}

	id, err := s.wallet.InitializeFromPhrase(ctx, p.Mnemonic)
	if err != nil {
		return nil, err
	}

	return &WalletInfoResult{
		Address: id.XAddress(),
		Script:  id.ScriptHex(),
		Balance: "0",
	}, nil
}

func (s *Server) walletLoad(ctx context.Context, params json.RawMessage) (interface{}, error) {
	if err := s.wallet.LoadState(ctx); err != nil {
		return nil, err
	}
	return s.walletInfo()
}

func (s *Server) walletInfo() (*WalletInfoResult, error) {
	address, err := s.wallet.Address()
	if err != nil {
		return nil, err
	}
	script, err := s.wallet.ReceivingScript()
	if err != nil {
		return nil, err
	}
	return &WalletInfoResult{
		Address: address,
		Script:  script,
		Balance: s.wallet.Balance().String(),
	}, nil
}

// WalletSendParams is the parameters for wallet_send. Exactly one of
// Amount (satoshis) and AmountXPI must be set.
type WalletSendParams struct {
	Address   string `json:"address"`
	Amount    uint64 `json:"amount,omitempty"`
	AmountXPI string `json:"amount_xpi,omitempty"`
}

func (p *WalletSendParams) sats() (uint64, error) {
	switch {
	case p.Amount != 0 && p.AmountXPI != "":
		return 0, fmt.Errorf("%w: amount and amount_xpi are exclusive", ErrInvalidParams)
	case p.AmountXPI != "":
		sats, err := helpers.XPIToSats(p.AmountXPI)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrInvalidParams, err)
		}
		return sats, nil
	case p.Amount != 0:
		return p.Amount, nil
	default:
		return 0, fmt.Errorf("%w: amount is required", ErrInvalidParams)
	}
}

func (s *Server) walletSend(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p WalletSendParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Address == "" {
		return nil, fmt.Errorf("%w: address is required", ErrInvalidParams)
	}

	amount, err := p.sats()
	if err != nil {
		return nil, err
	}

	return s.wallet.Send(ctx, p.Address, amount)
}

// WalletVoteParams is the parameters for wallet_vote.
type WalletVoteParams struct {
	Platform  string `json:"platform"`
	ProfileID string `json:"profile_id"`
	PostID    string `json:"post_id,omitempty"`
	Sentiment string `json:"sentiment"`
	Comment   string `json:"comment,omitempty"`
}

func (p *WalletVoteParams) vote() (rank.Vote, error) {
	platform, err := rank.ParsePlatform(p.Platform)
	if err != nil {
		return rank.Vote{}, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	sentiment, err := rank.ParseSentiment(p.Sentiment)
	if err != nil {
		return rank.Vote{}, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	if p.ProfileID == "" {
		return rank.Vote{}, fmt.Errorf("%w: profile_id is required", ErrInvalidParams)
	}

	postID := fn.None[string]()
	if p.PostID != "" {
		postID = fn.Some(p.PostID)
	}

	return rank.Vote{
		Platform:  platform,
		ProfileID: p.ProfileID,
		PostID:    postID,
		Sentiment: sentiment,
		Comment:   p.Comment,
	}, nil
}

func (s *Server) walletVote(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p WalletVoteParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}

	v, err := p.vote()
	if err != nil {
		return nil, err
	}

	return s.wallet.Vote(ctx, v)
}

func (s *Server) walletGetScript(ctx context.Context, params json.RawMessage) (interface{}, error) {
	return s.walletInfo()
}

// WalletMnemonicResult is the response for wallet_getMnemonic.
type WalletMnemonicResult struct {
	Mnemonic string `json:"mnemonic"`
}

func (s *Server) walletGetMnemonic(ctx context.Context, params json.RawMessage) (interface{}, error) {
	mnemonic, err := s.wallet.SeedPhrase()
	if err != nil {
		return nil, err
	}
	return &WalletMnemonicResult{Mnemonic: mnemonic}, nil
}

// WalletBalanceResult is the response for wallet_getBalance.
type WalletBalanceResult struct {
	Balance    string `json:"balance"`
	BalanceXPI string `json:"balance_xpi"`
	UTXOs      int    `json:"utxos"`
}

func (s *Server) walletGetBalance(ctx context.Context, params json.RawMessage) (interface{}, error) {
	if _, err := s.wallet.Address(); err != nil {
		return nil, err
	}

	balance := s.wallet.Balance()
	return &WalletBalanceResult{
		Balance:    balance.String(),
		BalanceXPI: helpers.SatsToXPI(balance),
		UTXOs:      len(s.wallet.UTXOs()),
	}, nil
}

// UTXOInfo is one cached output.
type UTXOInfo struct {
	TxID   string `json:"txid"`
	OutIdx uint32 `json:"outIdx"`
	Value  uint64 `json:"value"`
}

// WalletListUTXOsResult is the response for wallet_listUTXOs.
type WalletListUTXOsResult struct {
	UTXOs []UTXOInfo `json:"utxos"`
	Total string     `json:"total"`
}

func (s *Server) walletListUTXOs(ctx context.Context, params json.RawMessage) (interface{}, error) {
	if _, err := s.wallet.Address(); err != nil {
		return nil, err
	}

	entries := s.wallet.UTXOs()
	result := &WalletListUTXOsResult{
		UTXOs: make([]UTXOInfo, 0, len(entries)),
		Total: s.wallet.Balance().String(),
	}
	for _, e := range entries {
		result.UTXOs = append(result.UTXOs, UTXOInfo{TxID: e.TxID, OutIdx: e.OutIdx, Value: e.Value})
	}
	return result, nil
}

// WalletAuthRespondParams is the parameters for wallet_authRespond.
type WalletAuthRespondParams struct {
	// Challenge is the server's WWW-Authenticate header value.
	Challenge string `json:"challenge"`
}

// WalletAuthRespondResult is the response for wallet_authRespond.
type WalletAuthRespondResult struct {
	Authorization string `json:"authorization"`
}

func (s *Server) walletAuthRespond(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p WalletAuthRespondParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Challenge == "" {
		return nil, fmt.Errorf("%w: challenge is required", ErrInvalidParams)
	}

	header, err := s.wallet.AuthRespond(p.Challenge)
	if err != nil {
		return nil, err
	}
	return &WalletAuthRespondResult{Authorization: header}, nil
}
