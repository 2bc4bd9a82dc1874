package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lotus-rank/rankwallet/internal/utxo"
)

func newTestServer(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/", 5*time.Second)
}

func TestScriptUTXOs(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/script/p2pkh/abcd/utxos", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		w.Write([]byte(`{"outputScript":"76a914abcd88ac","utxos":[
			{"outpoint":{"txid":"tx1","outIdx":0},"blockHeight":-1,"isCoinbase":false,"value":150000000},
			{"outpoint":{"txid":"tx2","outIdx":3},"blockHeight":100,"isCoinbase":false,"value":50000000}]}`))
	})
	c := newTestServer(t, mux)

	entries, err := c.ScriptUTXOs(context.Background(), "abcd")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, utxo.Outpoint{TxID: "tx2", OutIdx: 3}, entries[1].Outpoint)
	require.EqualValues(t, 150_000_000, entries[0].Value)
}

func TestScriptUTXOsUnknownScript(t *testing.T) {
	c := newTestServer(t, http.NewServeMux())

	entries, err := c.ScriptUTXOs(context.Background(), "ffff")
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestValidateOutpoints(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/validate-utxos", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		var req validateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Outpoints, 2)
		require.Equal(t, "b", req.Outpoints[1].TxID)

		w.Write([]byte(`{"states":[{"state":"UNSPENT"},{"state":"SPENT"}]}`))
	})
	c := newTestServer(t, mux)

	states, err := c.ValidateOutpoints(context.Background(), []utxo.Outpoint{{TxID: "a"}, {TxID: "b", OutIdx: 1}})
	require.NoError(t, err)
	require.Equal(t, []utxo.State{utxo.StateUnspent, utxo.StateSpent}, states)
}

func TestBroadcast(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/broadcast-tx", func(w http.ResponseWriter, r *http.Request) {
		var req broadcastRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.RawTx == "bad" {
			http.Error(w, "txn-mempool-conflict", http.StatusBadRequest)
			return
		}
		w.Write([]byte(`{"txid":"deadbeef"}`))
	})
	c := newTestServer(t, mux)

	txid, err := c.Broadcast(context.Background(), "0100")
	require.NoError(t, err)
	require.Equal(t, "deadbeef", txid)

	_, err = c.Broadcast(context.Background(), "bad")
	require.ErrorIs(t, err, ErrBroadcastFailed)
	require.ErrorContains(t, err, "txn-mempool-conflict")
}

func TestStatusMapping(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/blockchain-info", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	mux.HandleFunc("/tx/ok", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"txid":"ok","outputs":[{"value":5,"outputScript":"6a"}]}`))
	})
	c := newTestServer(t, mux)

	_, err := c.BlockchainInfo(context.Background())
	require.True(t, errors.Is(err, ErrRateLimited), "got %v", err)

	_, err = c.Tx(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)

	tx, err := c.Tx(context.Background(), "ok")
	require.NoError(t, err)
	require.Len(t, tx.Outputs, 1)
	require.Nil(t, tx.Block)
}
