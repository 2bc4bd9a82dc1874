package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lotus-rank/rankwallet/internal/engine"
	"github.com/lotus-rank/rankwallet/internal/rank"
	"github.com/lotus-rank/rankwallet/internal/utxo"
	"github.com/lotus-rank/rankwallet/internal/wallet"
	"github.com/lotus-rank/rankwallet/pkg/logging"
)

const testOrigin = "app://rankwallet"

type fakeWallet struct {
	mu     sync.Mutex
	calls  []string
	sent   []uint64
	votes  []rank.Vote
	noWall bool
	events chan engine.Event
}

func newFakeWallet() *fakeWallet {
	return &fakeWallet{events: make(chan engine.Event, 8)}
}

func (f *fakeWallet) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeWallet) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeWallet) noWallet(op string) error {
	if f.noWall {
		return &engine.Error{Kind: engine.KindRecoverable, Op: op, Err: engine.ErrNoWallet}
	}
	return nil
}

func (f *fakeWallet) InitializeFromPhrase(ctx context.Context, phrase string) (*wallet.Identity, error) {
	f.record("initialize")
	return nil, nil
}

func (f *fakeWallet) LoadState(ctx context.Context) error {
	f.record("load")
	return f.noWallet("load")
}

func (f *fakeWallet) Send(ctx context.Context, address string, amount uint64) (*engine.Receipt, error) {
	f.record("send")
	f.mu.Lock()
	f.sent = append(f.sent, amount)
	f.mu.Unlock()
	return &engine.Receipt{ID: "r1", TxID: "ab"}, nil
}

func (f *fakeWallet) Vote(ctx context.Context, v rank.Vote) (*engine.Receipt, error) {
	f.record("vote")
	f.mu.Lock()
	f.votes = append(f.votes, v)
	f.mu.Unlock()
	return &engine.Receipt{ID: "r2", TxID: "cd"}, nil
}

func (f *fakeWallet) ReceivingScript() (string, error) {
	if err := f.noWallet("script"); err != nil {
		return "", err
	}
	return "76a914", nil
}

func (f *fakeWallet) Address() (string, error) {
	if err := f.noWallet("address"); err != nil {
		return "", err
	}
	return "lotus_test", nil
}

func (f *fakeWallet) SeedPhrase() (string, error) {
	if err := f.noWallet("mnemonic"); err != nil {
		return "", err
	}
	return "abandon about", nil
}

func (f *fakeWallet) Balance() *big.Int { return big.NewInt(1_500_000) }

func (f *fakeWallet) UTXOs() []utxo.Entry {
	return []utxo.Entry{{Outpoint: utxo.Outpoint{TxID: "aa", OutIdx: 1}, Value: 1_500_000}}
}

func (f *fakeWallet) AuthRespond(header string) (string, error) {
	return "BlockDataSig x", nil
}

func (f *fakeWallet) Subscribe() (<-chan engine.Event, func()) {
	return f.events, func() {}
}

func newTestServer(w Wallet) *Server {
	return NewServer(w, ServerConfig{AllowedOrigin: testOrigin, Logger: logging.Discard()})
}

func call(t *testing.T, h http.Handler, origin, body string) (int, Response) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var resp Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
	return rec.Code, resp
}

func TestOriginCheck(t *testing.T) {
	tests := []struct {
		name   string
		origin string
	}{
		{"missing origin", ""},
		{"foreign origin", "https://evil.example"},
		{"prefix of allowed origin", "app://rank"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newFakeWallet()
			s := newTestServer(w)

			code, resp := call(t, s.Handler(), tt.origin,
				`{"jsonrpc":"2.0","method":"wallet_send","params":{"address":"x","amount":1000},"id":1}`)

			if code != http.StatusForbidden {
				t.Errorf("status = %d, want 403", code)
			}
			if resp.Error == nil || resp.Error.Code != ForbiddenOrigin {
				t.Fatalf("error = %+v, want code %d", resp.Error, ForbiddenOrigin)
			}
			if w.callCount() != 0 {
				t.Errorf("handler ran %d times for rejected origin", w.callCount())
			}
		})
	}
}

func TestHandleRPCErrors(t *testing.T) {
	s := newTestServer(newFakeWallet())

	tests := []struct {
		name string
		body string
		code int
	}{
		{"parse error", `{invalid`, ParseError},
		{"wrong version", `{"jsonrpc":"1.0","method":"wallet_load","id":1}`, InvalidRequest},
		{"unknown method", `{"jsonrpc":"2.0","method":"node_info","id":1}`, MethodNotFound},
		{"bad params", `{"jsonrpc":"2.0","method":"wallet_send","params":{"address":1},"id":1}`, InvalidParams},
		{"missing amount", `{"jsonrpc":"2.0","method":"wallet_send","params":{"address":"x"},"id":1}`, InvalidParams},
		{"both amounts", `{"jsonrpc":"2.0","method":"wallet_send","params":{"address":"x","amount":5,"amount_xpi":"1"},"id":1}`, InvalidParams},
		{"unknown platform", `{"jsonrpc":"2.0","method":"wallet_vote","params":{"platform":"myspace","profile_id":"a","sentiment":"up"},"id":1}`, InvalidParams},
		{"missing challenge", `{"jsonrpc":"2.0","method":"wallet_authRespond","id":1}`, InvalidParams},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, resp := call(t, s.Handler(), testOrigin, tt.body)
			if resp.Error == nil {
				t.Fatalf("expected error, got result %v", resp.Result)
			}
			if resp.Error.Code != tt.code {
				t.Errorf("code = %d, want %d (%s)", resp.Error.Code, tt.code, resp.Error.Message)
			}
		})
	}
}

func TestNoWalletIsRecoverable(t *testing.T) {
	w := newFakeWallet()
	w.noWall = true
	s := newTestServer(w)

	for _, method := range []string{"wallet_load", "wallet_getMnemonic", "wallet_getScript", "wallet_getBalance", "wallet_listUTXOs"} {
		_, resp := call(t, s.Handler(), testOrigin, `{"jsonrpc":"2.0","method":"`+method+`","id":1}`)
		if resp.Error == nil {
			t.Fatalf("%s: expected error", method)
		}
		if resp.Error.Code != WalletError {
			t.Errorf("%s: code = %d, want %d", method, resp.Error.Code, WalletError)
		}
		if !strings.Contains(resp.Error.Message, engine.ErrNoWallet.Error()) {
			t.Errorf("%s: message = %q", method, resp.Error.Message)
		}
	}
}

func TestWalletSendAmountXPI(t *testing.T) {
	w := newFakeWallet()
	s := newTestServer(w)

	_, resp := call(t, s.Handler(), testOrigin,
		`{"jsonrpc":"2.0","method":"wallet_send","params":{"address":"x","amount_xpi":"1.5"},"id":"a"}`)
	if resp.Error != nil {
		t.Fatalf("wallet_send error = %+v", resp.Error)
	}
	if resp.ID != "a" {
		t.Errorf("ID = %v, want a", resp.ID)
	}
	if len(w.sent) != 1 || w.sent[0] != 1_500_000 {
		t.Errorf("sent = %v, want [1500000]", w.sent)
	}
}

func TestWalletVoteParams(t *testing.T) {
	w := newFakeWallet()
	s := newTestServer(w)

	_, resp := call(t, s.Handler(), testOrigin,
		`{"jsonrpc":"2.0","method":"wallet_vote","params":{"platform":"Twitter","profile_id":"lotusproject","post_id":"1600000000000000000","sentiment":"down","comment":"meh"},"id":1}`)
	if resp.Error != nil {
		t.Fatalf("wallet_vote error = %+v", resp.Error)
	}

	if len(w.votes) != 1 {
		t.Fatalf("votes = %d, want 1", len(w.votes))
	}
	v := w.votes[0]
	if v.Platform.Name != rank.Twitter.Name || v.Sentiment != rank.Negative {
		t.Errorf("vote = %+v", v)
	}
	if v.PostID.UnwrapOr("") != "1600000000000000000" {
		t.Errorf("PostID = %v", v.PostID)
	}
	if v.Comment != "meh" {
		t.Errorf("Comment = %q", v.Comment)
	}
}

func TestWalletListUTXOs(t *testing.T) {
	s := newTestServer(newFakeWallet())

	_, resp := call(t, s.Handler(), testOrigin, `{"jsonrpc":"2.0","method":"wallet_listUTXOs","id":1}`)
	if resp.Error != nil {
		t.Fatalf("wallet_listUTXOs error = %+v", resp.Error)
	}

	data, _ := json.Marshal(resp.Result)
	var result WalletListUTXOsResult
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if len(result.UTXOs) != 1 || result.UTXOs[0].OutIdx != 1 || result.Total != "1500000" {
		t.Errorf("result = %+v", result)
	}
}

func TestWebSocketForwardsEvents(t *testing.T) {
	w := newFakeWallet()
	s := newTestServer(w)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.done = make(chan struct{})
	go s.wsHub.Run(ctx)
	go s.forwardEvents(ctx)

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	if _, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://evil.example"}}); err == nil {
		t.Fatal("expected foreign origin to be refused")
	}

	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {testOrigin}})
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(5 * time.Second)
	for s.wsHub.ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	w.events <- engine.Event{Type: engine.EventBalanceChanged, Balance: "200000000"}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ev struct {
		Type EventType    `json:"type"`
		Data engine.Event `json:"data"`
	}
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if ev.Type != EventBalanceChanged || ev.Data.Balance != "200000000" {
		t.Errorf("event = %+v", ev)
	}
}
