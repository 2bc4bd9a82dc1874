// Package rpc provides the JSON-RPC 2.0 server the wallet UI talks to.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lotus-rank/rankwallet/internal/engine"
	"github.com/lotus-rank/rankwallet/internal/rank"
	"github.com/lotus-rank/rankwallet/internal/utxo"
	"github.com/lotus-rank/rankwallet/internal/wallet"
	"github.com/lotus-rank/rankwallet/pkg/logging"
)

// Wallet is the engine surface exposed over RPC.
type Wallet interface {
	InitializeFromPhrase(ctx context.Context, phrase string) (*wallet.Identity, error)
	LoadState(ctx context.Context) error
	Send(ctx context.Context, address string, amount uint64) (*engine.Receipt, error)
	Vote(ctx context.Context, v rank.Vote) (*engine.Receipt, error)
	ReceivingScript() (string, error)
	Address() (string, error)
	SeedPhrase() (string, error)
	Balance() *big.Int
	UTXOs() []utxo.Entry
	AuthRespond(header string) (string, error)
	Subscribe() (<-chan engine.Event, func())
}

// ServerConfig configures a Server.
type ServerConfig struct {
	// AllowedOrigin is the only Origin header value accepted on any
	// request, including websocket upgrades.
	AllowedOrigin string

	Logger *logging.Logger
}

// Server is a JSON-RPC 2.0 server.
type Server struct {
	wallet Wallet
	origin string
	log    *logging.Logger
	wsHub  *WSHub

	server   *http.Server
	listener net.Listener

	cancel context.CancelFunc
	done   chan struct{}

	handlers map[string]Handler
	mu       sync.RWMutex
}

// Handler is a JSON-RPC method handler.
type Handler func(ctx context.Context, params json.RawMessage) (interface{}, error)

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      interface{}     `json:"id,omitempty"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// Error represents a JSON-RPC 2.0 error.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Standard error codes.
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
)

// Application error codes.
const (
	// WalletError is returned for recoverable wallet conditions, such as
	// no wallet being loaded.
	WalletError = -32000

	// ForbiddenOrigin is returned when the request's Origin is not the
	// configured one.
	ForbiddenOrigin = -32001
)

// ErrInvalidParams marks handler errors caused by the request's params.
var ErrInvalidParams = errors.New("invalid params")

// NewServer creates a new JSON-RPC server for w.
func NewServer(w Wallet, cfg ServerConfig) *Server {
	log := cfg.Logger
	if log == nil {
		log = logging.GetDefault().Component("rpc")
	}

	s := &Server{
		wallet:   w,
		origin:   cfg.AllowedOrigin,
		log:      log,
		wsHub:    NewWSHub(log.Component("ws")),
		handlers: make(map[string]Handler),
	}
	s.registerHandlers()
	return s
}

// registerHandlers registers all JSON-RPC method handlers.
func (s *Server) registerHandlers() {
	s.handlers["wallet_initialize"] = s.walletInitialize
	s.handlers["wallet_load"] = s.walletLoad
	s.handlers["wallet_send"] = s.walletSend
	s.handlers["wallet_vote"] = s.walletVote
	s.handlers["wallet_getScript"] = s.walletGetScript
	s.handlers["wallet_getMnemonic"] = s.walletGetMnemonic
	s.handlers["wallet_getBalance"] = s.walletGetBalance
	s.handlers["wallet_listUTXOs"] = s.walletListUTXOs
	s.handlers["wallet_authRespond"] = s.walletAuthRespond
}

// Handler returns the HTTP handler serving RPC and websocket requests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /", s.handleRPC)
	mux.HandleFunc("POST /{$}", s.handleRPC)
	mux.HandleFunc("OPTIONS /", s.handleCORS)
	mux.HandleFunc("OPTIONS /{$}", s.handleCORS)
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("GET /ws/", s.handleWS)
	return s.originMiddleware(mux)
}

// Start starts the RPC server and begins forwarding wallet events to
// websocket clients.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.wsHub.Run(ctx)
	go s.forwardEvents(ctx)

	s.server = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.Error("RPC server error", "error", err)
		}
	}()

	s.log.Info("RPC server started", "addr", listener.Addr().String(), "ws", "ws://"+listener.Addr().String()+"/ws")
	return nil
}

// Addr returns the listening address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop stops the RPC server.
func (s *Server) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// forwardEvents pushes engine events to websocket clients until ctx ends.
func (s *Server) forwardEvents(ctx context.Context) {
	defer close(s.done)

	events, cancel := s.wallet.Subscribe()
	defer cancel()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.wsHub.Broadcast(EventType(ev.Type), ev)
		case <-ctx.Done():
			return
		}
	}
}

// handleRPC handles incoming JSON-RPC requests.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, nil, ParseError, "Parse error", nil)
		return
	}

	if req.JSONRPC != "2.0" {
		s.writeError(w, req.ID, InvalidRequest, "Invalid Request", nil)
		return
	}

	s.mu.RLock()
	handler, ok := s.handlers[req.Method]
	s.mu.RUnlock()

	if !ok {
		s.writeError(w, req.ID, MethodNotFound, "Method not found", req.Method)
		return
	}

	requestID := uuid.NewString()
	log := s.log.With("request_id", requestID, "method", req.Method)
	start := time.Now()

	result, err := handler(r.Context(), req.Params)
	if err != nil {
		code, data := classify(err)
		log.Warn("RPC call failed", "duration", time.Since(start), "error", err)
		s.writeError(w, req.ID, code, err.Error(), data)
		return
	}

	log.Debug("RPC call done", "duration", time.Since(start))
	s.writeResult(w, req.ID, result)
}

// classify maps a handler error onto a JSON-RPC error code.
func classify(err error) (int, interface{}) {
	if errors.Is(err, ErrInvalidParams) {
		return InvalidParams, nil
	}
	kind := engine.KindOf(err)
	if kind == engine.KindRecoverable {
		return WalletError, map[string]string{"kind": kind.String()}
	}
	return InternalError, map[string]string{"kind": kind.String()}
}

// writeResult writes a successful response.
func (s *Server) writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := Response{
		JSONRPC: "2.0",
		Result:  result,
		ID:      id,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// writeError writes an error response.
func (s *Server) writeError(w http.ResponseWriter, id interface{}, code int, message string, data interface{}) {
	resp := Response{
		JSONRPC: "2.0",
		Error: &Error{
			Code:    code,
			Message: message,
			Data:    data,
		},
		ID: id,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// WSHub returns the WebSocket hub.
func (s *Server) WSHub() *WSHub {
	return s.wsHub
}

// handleCORS handles CORS preflight requests.
func (s *Server) handleCORS(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// originMiddleware rejects any request whose Origin is not the configured
// one, then adds CORS headers for the accepted origin.
func (s *Server) originMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" || origin != s.origin {
			s.log.Warn("Rejected request from foreign origin", "origin", origin, "path", r.URL.Path)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			json.NewEncoder(w).Encode(Response{
				JSONRPC: "2.0",
				Error:   &Error{Code: ForbiddenOrigin, Message: "origin not allowed"},
			})
			return
		}

		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
