package rpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"sourprotocol/native/handshake"
	"sourprotocol/native/treasury"
	"sourprotocol/state"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20

	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
	codeUnauthorized   = -32001
)

// Server exposes the handshake and treasury operations over JSON-RPC.
type Server struct {
	handshake *handshake.Engine
	treasury  *treasury.Engine
	state     *state.Manager
	authToken string
	log       *slog.Logger
}

// NewServer constructs the RPC server. Mutating methods require the bearer
// token from SOURD_RPC_TOKEN when one is configured.
func NewServer(handshakeEngine *handshake.Engine, treasuryEngine *treasury.Engine, manager *state.Manager, log *slog.Logger) *Server {
	token := strings.TrimSpace(os.Getenv("SOURD_RPC_TOKEN"))
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		handshake: handshakeEngine,
		treasury:  treasuryEngine,
		state:     manager,
		authToken: token,
		log:       log,
	}
}

// Handler returns the HTTP handler serving the JSON-RPC endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	return mux
}

// Start serves JSON-RPC on the supplied address until the listener fails.
func (s *Server) Start(addr string) error {
	s.log.Info("starting JSON-RPC server", "addr", addr)
	return http.ListenAndServe(addr, s.Handler())
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.authToken == "" {
		return nil
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return &RPCError{Code: codeUnauthorized, Message: "authorization required"}
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer"))
	if token != s.authToken {
		return &RPCError{Code: codeUnauthorized, Message: "invalid bearer token"}
	}
	return nil
}

// handle is the main request handler that routes to specific handlers.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	if mutatingMethods[req.Method] {
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
	}

	switch req.Method {
	case "handshake_initConfig":
		s.handleHandshakeInitConfig(w, req)
	case "handshake_create":
		s.handleHandshakeCreate(w, req)
	case "handshake_accept":
		s.handleHandshakeAccept(w, req)
	case "handshake_deliver":
		s.handleHandshakeDeliver(w, req)
	case "handshake_approve":
		s.handleHandshakeApprove(w, req)
	case "handshake_cancel":
		s.handleHandshakeCancel(w, req)
	case "handshake_dispute":
		s.handleHandshakeDispute(w, req)
	case "handshake_resolve":
		s.handleHandshakeResolve(w, req)
	case "handshake_get":
		s.handleHandshakeGet(w, req)
	case "handshake_getConfig":
		s.handleHandshakeGetConfig(w, req)
	case "treasury_initConfig":
		s.handleTreasuryInitConfig(w, req)
	case "treasury_deposit":
		s.handleTreasuryDeposit(w, req)
	case "treasury_executeBatch":
		s.handleTreasuryExecuteBatch(w, req)
	case "treasury_completeBatch":
		s.handleTreasuryCompleteBatch(w, req)
	case "treasury_updateConfig":
		s.handleTreasuryUpdateConfig(w, req)
	case "treasury_getBatch":
		s.handleTreasuryGetBatch(w, req)
	case "treasury_getConfig":
		s.handleTreasuryGetConfig(w, req)
	case "sour_getBalance":
		s.handleGetBalance(w, req)
	case "sour_credit":
		s.handleCredit(w, req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", req.Method)
	}
}

// mutatingMethods lists the operations gated behind bearer auth when a token
// is configured.
var mutatingMethods = map[string]bool{
	"handshake_initConfig":   true,
	"handshake_create":       true,
	"handshake_accept":       true,
	"handshake_deliver":      true,
	"handshake_approve":      true,
	"handshake_cancel":       true,
	"handshake_dispute":      true,
	"handshake_resolve":      true,
	"treasury_initConfig":    true,
	"treasury_deposit":       true,
	"treasury_executeBatch":  true,
	"treasury_completeBatch": true,
	"treasury_updateConfig":  true,
	"sour_credit":            true,
}

func singleParam(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("exactly one parameter object expected")
	}
	return json.Unmarshal(req.Params[0], out)
}
