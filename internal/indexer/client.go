// Package indexer talks to the chain indexer: a REST client for UTXO
// queries, validation and broadcast, and a websocket subscriber that
// follows mempool and block events for the wallet script.
package indexer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lotus-rank/rankwallet/internal/utxo"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrRateLimited     = errors.New("rate limited")
	ErrBroadcastFailed = errors.New("broadcast failed")
)

// Client is a REST client for the indexer API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

var _ utxo.Source = (*Client)(nil)

// NewClient creates a client for baseURL. A zero timeout defaults to 30s.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type outpointJSON struct {
	TxID   string `json:"txid"`
	OutIdx uint32 `json:"outIdx"`
}

type scriptUTXOsResponse struct {
	OutputScript string `json:"outputScript"`
	UTXOs        []struct {
		Outpoint    outpointJSON `json:"outpoint"`
		BlockHeight int64        `json:"blockHeight"`
		IsCoinbase  bool         `json:"isCoinbase"`
		Value       uint64       `json:"value"`
	} `json:"utxos"`
}

// ScriptUTXOs lists unspent outputs paying to a P2PKH payload. An unknown
// script yields an empty list.
func (c *Client) ScriptUTXOs(ctx context.Context, payload string) ([]utxo.Entry, error) {
	var resp scriptUTXOsResponse
	err := c.get(ctx, "/script/p2pkh/"+payload+"/utxos", &resp)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	entries := make([]utxo.Entry, 0, len(resp.UTXOs))
	for _, u := range resp.UTXOs {
		entries = append(entries, utxo.Entry{
			Outpoint: utxo.Outpoint{TxID: u.Outpoint.TxID, OutIdx: u.Outpoint.OutIdx},
			Value:    u.Value,
		})
	}
	return entries, nil
}

type validateRequest struct {
	Outpoints []outpointJSON `json:"outpoints"`
}

type validateResponse struct {
	States []struct {
		State string `json:"state"`
	} `json:"states"`
}

// ValidateOutpoints asks for the state of each outpoint, answered in
// request order.
func (c *Client) ValidateOutpoints(ctx context.Context, outpoints []utxo.Outpoint) ([]utxo.State, error) {
	req := validateRequest{Outpoints: make([]outpointJSON, len(outpoints))}
	for i, op := range outpoints {
		req.Outpoints[i] = outpointJSON{TxID: op.TxID, OutIdx: op.OutIdx}
	}

	var resp validateResponse
	if err := c.post(ctx, "/validate-utxos", req, &resp); err != nil {
		return nil, err
	}

	states := make([]utxo.State, len(resp.States))
	for i, s := range resp.States {
		state, err := utxo.ParseState(s.State)
		if err != nil {
			return nil, err
		}
		states[i] = state
	}
	return states, nil
}

type broadcastRequest struct {
	RawTx string `json:"rawTx"`
}

type broadcastResponse struct {
	TxID string `json:"txid"`
}

// Broadcast submits a raw transaction and returns its txid.
func (c *Client) Broadcast(ctx context.Context, rawTxHex string) (string, error) {
	var resp broadcastResponse
	if err := c.post(ctx, "/broadcast-tx", broadcastRequest{RawTx: rawTxHex}, &resp); err != nil {
		return "", fmt.Errorf("%w: %v", ErrBroadcastFailed, err)
	}
	return resp.TxID, nil
}

// TxOutput is one output of an indexed transaction.
type TxOutput struct {
	Value        uint64 `json:"value"`
	OutputScript string `json:"outputScript"`
}

// Tx is an indexed transaction.
type Tx struct {
	TxID    string     `json:"txid"`
	Outputs []TxOutput `json:"outputs"`
	Block   *struct {
		Height int64  `json:"height"`
		Hash   string `json:"hash"`
	} `json:"block,omitempty"`
}

// Tx fetches a transaction by id.
func (c *Client) Tx(ctx context.Context, txid string) (*Tx, error) {
	var tx Tx
	if err := c.get(ctx, "/tx/"+txid, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

// BlockchainInfo is the indexer's view of the chain tip.
type BlockchainInfo struct {
	TipHash   string `json:"tipHash"`
	TipHeight int64  `json:"tipHeight"`
}

// BlockchainInfo returns the current tip.
func (c *Client) BlockchainInfo(ctx context.Context) (*BlockchainInfo, error) {
	var info BlockchainInfo
	if err := c.get(ctx, "/blockchain-info", &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *Client) get(ctx context.Context, path string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Cache-Control", "no-cache")
	return c.do(req, result)
}

func (c *Client) post(ctx context.Context, path string, body, result interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, result)
}

func (c *Client) do(req *http.Request, result interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return json.NewDecoder(resp.Body).Decode(result)
}
