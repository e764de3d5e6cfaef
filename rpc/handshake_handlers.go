package rpc

import (
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"sourprotocol/core/types"
	"sourprotocol/native/handshake"
	"sourprotocol/observability"
)

const (
	codeHandshakeInvalidParams = -32021
	codeHandshakeNotFound      = -32022
	codeHandshakeForbidden     = -32023
	codeHandshakeConflict      = -32024
	codeHandshakeInternal      = -32025
)

type handshakeInitConfigParams struct {
	Authority        string `json:"authority"`
	Treasury         string `json:"treasury"`
	KeepersPool      string `json:"keepersPool"`
	Commons          string `json:"commons"`
	PinchBps         uint32 `json:"pinchBps"`
	TreasuryShareBps uint32 `json:"treasuryShareBps"`
	KeepersShareBps  uint32 `json:"keepersShareBps"`
	CommonsShareBps  uint32 `json:"commonsShareBps"`
}

type handshakeCreateParams struct {
	Creator     string `json:"creator"`
	Worker      string `json:"worker"`
	Amount      string `json:"amount"`
	Description string `json:"description"`
	Deadline    int64  `json:"deadline"`
}

type handshakeActorParams struct {
	ID     uint64 `json:"id"`
	Caller string `json:"caller"`
}

type handshakeResolveParams struct {
	ID     uint64 `json:"id"`
	Caller string `json:"caller"`
	Ruling uint8  `json:"ruling"`
}

type handshakeIDParams struct {
	ID uint64 `json:"id"`
}

type handshakeJSON struct {
	ID          uint64 `json:"id"`
	Creator     string `json:"creator"`
	Worker      string `json:"worker"`
	Amount      string `json:"amount"`
	Description string `json:"description"`
	Status      string `json:"status"`
	CreatedAt   int64  `json:"createdAt"`
	Deadline    int64  `json:"deadline"`
	AcceptedAt  int64  `json:"acceptedAt,omitempty"`
	DeliveredAt int64  `json:"deliveredAt,omitempty"`
	ResolvedAt  int64  `json:"resolvedAt,omitempty"`
	DisputedBy  string `json:"disputedBy,omitempty"`
	Vault       string `json:"vault"`
}

type protocolConfigJSON struct {
	Authority        string `json:"authority"`
	Treasury         string `json:"treasury"`
	KeepersPool      string `json:"keepersPool"`
	Commons          string `json:"commons"`
	PinchBps         uint32 `json:"pinchBps"`
	TreasuryShareBps uint32 `json:"treasuryShareBps"`
	KeepersShareBps  uint32 `json:"keepersShareBps"`
	CommonsShareBps  uint32 `json:"commonsShareBps"`
	HandshakeCount   uint64 `json:"handshakeCount"`
	TotalToTreasury  string `json:"totalToTreasury"`
	TotalToKeepers   string `json:"totalToKeepers"`
	TotalToCommons   string `json:"totalToCommons"`
	TotalCompleted   uint64 `json:"totalCompleted"`
	TotalDisputed    uint64 `json:"totalDisputed"`
}

func (s *Server) handleHandshakeInitConfig(w http.ResponseWriter, req *RPCRequest) {
	started := time.Now()
	var params handshakeInitConfigParams
	if err := singleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeHandshakeInvalidParams, "invalid_params", err.Error())
		return
	}
	addrs := make([][20]byte, 4)
	for i, raw := range []string{params.Authority, params.Treasury, params.KeepersPool, params.Commons} {
		addr, err := types.ParseAddress(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeHandshakeInvalidParams, "invalid_params", err.Error())
			return
		}
		addrs[i] = addr
	}
	cfg, err := s.handshake.InitializeConfig(addrs[0], addrs[1], addrs[2], addrs[3], params.PinchBps, params.TreasuryShareBps, params.KeepersShareBps, params.CommonsShareBps)
	observability.Operations().Observe("handshake", "initConfig", err, started)
	if err != nil {
		s.writeHandshakeError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, protocolConfigToJSON(cfg))
}

func (s *Server) handleHandshakeCreate(w http.ResponseWriter, req *RPCRequest) {
	started := time.Now()
	var params handshakeCreateParams
	if err := singleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeHandshakeInvalidParams, "invalid_params", err.Error())
		return
	}
	creator, err := types.ParseAddress(params.Creator)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeHandshakeInvalidParams, "invalid_params", err.Error())
		return
	}
	worker, err := types.ParseAddress(params.Worker)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeHandshakeInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := parsePositiveBigInt(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeHandshakeInvalidParams, "invalid_params", err.Error())
		return
	}
	record, err := s.handshake.Create(creator, worker, amount, params.Description, params.Deadline)
	observability.Operations().Observe("handshake", "create", err, started)
	if err != nil {
		s.writeHandshakeError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, handshakeToJSON(record))
}

func (s *Server) handleHandshakeAccept(w http.ResponseWriter, req *RPCRequest) {
	s.handleHandshakeTransition(w, req, "accept", s.handshake.Accept)
}

func (s *Server) handleHandshakeDeliver(w http.ResponseWriter, req *RPCRequest) {
	s.handleHandshakeTransition(w, req, "deliver", s.handshake.Deliver)
}

func (s *Server) handleHandshakeApprove(w http.ResponseWriter, req *RPCRequest) {
	s.handleHandshakeTransition(w, req, "approve", s.handshake.Approve)
}

func (s *Server) handleHandshakeCancel(w http.ResponseWriter, req *RPCRequest) {
	s.handleHandshakeTransition(w, req, "cancel", s.handshake.Cancel)
}

func (s *Server) handleHandshakeDispute(w http.ResponseWriter, req *RPCRequest) {
	s.handleHandshakeTransition(w, req, "dispute", s.handshake.Dispute)
}

func (s *Server) handleHandshakeTransition(w http.ResponseWriter, req *RPCRequest, method string, op func(uint64, [20]byte) error) {
	started := time.Now()
	var params handshakeActorParams
	if err := singleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeHandshakeInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := types.ParseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeHandshakeInvalidParams, "invalid_params", err.Error())
		return
	}
	err = op(params.ID, caller)
	observability.Operations().Observe("handshake", method, err, started)
	if err != nil {
		s.writeHandshakeError(w, req.ID, err)
		return
	}
	record, err := s.handshake.Get(params.ID)
	if err != nil {
		s.writeHandshakeError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, handshakeToJSON(record))
}

func (s *Server) handleHandshakeResolve(w http.ResponseWriter, req *RPCRequest) {
	started := time.Now()
	var params handshakeResolveParams
	if err := singleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeHandshakeInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := types.ParseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeHandshakeInvalidParams, "invalid_params", err.Error())
		return
	}
	err = s.handshake.Resolve(params.ID, caller, handshake.Ruling(params.Ruling))
	observability.Operations().Observe("handshake", "resolve", err, started)
	if err != nil {
		s.writeHandshakeError(w, req.ID, err)
		return
	}
	record, err := s.handshake.Get(params.ID)
	if err != nil {
		s.writeHandshakeError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, handshakeToJSON(record))
}

func (s *Server) handleHandshakeGet(w http.ResponseWriter, req *RPCRequest) {
	var params handshakeIDParams
	if err := singleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeHandshakeInvalidParams, "invalid_params", err.Error())
		return
	}
	record, err := s.handshake.Get(params.ID)
	if err != nil {
		s.writeHandshakeError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, handshakeToJSON(record))
}

func (s *Server) handleHandshakeGetConfig(w http.ResponseWriter, req *RPCRequest) {
	cfg, err := s.handshake.Config()
	if err != nil {
		s.writeHandshakeError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, protocolConfigToJSON(cfg))
}

// writeHandshakeError maps engine sentinels onto module error codes so
// callers can distinguish kinds programmatically.
func (s *Server) writeHandshakeError(w http.ResponseWriter, id interface{}, err error) {
	switch {
	case errors.Is(err, handshake.ErrNotFound):
		writeError(w, http.StatusNotFound, id, codeHandshakeNotFound, "not_found", err.Error())
	case errors.Is(err, handshake.ErrNotCreator),
		errors.Is(err, handshake.ErrNotWorker),
		errors.Is(err, handshake.ErrNotParticipant),
		errors.Is(err, handshake.ErrNotAuthority):
		writeError(w, http.StatusForbidden, id, codeHandshakeForbidden, "forbidden", err.Error())
	case errors.Is(err, handshake.ErrInvalidStatus),
		errors.Is(err, handshake.ErrHandshakeExpired),
		errors.Is(err, handshake.ErrAlreadyInitialized):
		writeError(w, http.StatusConflict, id, codeHandshakeConflict, "conflict", err.Error())
	case errors.Is(err, handshake.ErrZeroAmount),
		errors.Is(err, handshake.ErrDescriptionTooLong),
		errors.Is(err, handshake.ErrSelfHandshake),
		errors.Is(err, handshake.ErrDeadlineInPast),
		errors.Is(err, handshake.ErrInvalidFeeShares),
		errors.Is(err, handshake.ErrInvalidPinchBps),
		errors.Is(err, handshake.ErrInvalidRuling),
		errors.Is(err, handshake.ErrMathOverflow):
		writeError(w, http.StatusBadRequest, id, codeHandshakeInvalidParams, "invalid_params", err.Error())
	default:
		s.log.Error("handshake operation failed", "err", err)
		writeError(w, http.StatusInternalServerError, id, codeHandshakeInternal, "internal_error", err.Error())
	}
}

func handshakeToJSON(h *handshake.Handshake) *handshakeJSON {
	if h == nil {
		return nil
	}
	out := &handshakeJSON{
		ID:          h.ID,
		Creator:     types.FormatAddress(h.Creator),
		Worker:      types.FormatAddress(h.Worker),
		Description: h.Description,
		Status:      h.Status.String(),
		CreatedAt:   h.CreatedAt,
		Deadline:    h.Deadline,
		AcceptedAt:  h.AcceptedAt,
		DeliveredAt: h.DeliveredAt,
		ResolvedAt:  h.ResolvedAt,
		Vault:       types.FormatAddress(h.Vault),
	}
	if h.Amount != nil {
		out.Amount = h.Amount.String()
	}
	if h.DisputedBy != ([20]byte{}) {
		out.DisputedBy = types.FormatAddress(h.DisputedBy)
	}
	return out
}

func protocolConfigToJSON(cfg *handshake.ProtocolConfig) *protocolConfigJSON {
	if cfg == nil {
		return nil
	}
	out := &protocolConfigJSON{
		Authority:        types.FormatAddress(cfg.Authority),
		Treasury:         types.FormatAddress(cfg.Treasury),
		KeepersPool:      types.FormatAddress(cfg.KeepersPool),
		Commons:          types.FormatAddress(cfg.Commons),
		PinchBps:         cfg.PinchBps,
		TreasuryShareBps: cfg.TreasuryShareBps,
		KeepersShareBps:  cfg.KeepersShareBps,
		CommonsShareBps:  cfg.CommonsShareBps,
		HandshakeCount:   cfg.HandshakeCount,
		TotalCompleted:   cfg.TotalCompleted,
		TotalDisputed:    cfg.TotalDisputed,
	}
	if cfg.TotalToTreasury != nil {
		out.TotalToTreasury = cfg.TotalToTreasury.String()
	}
	if cfg.TotalToKeepers != nil {
		out.TotalToKeepers = cfg.TotalToKeepers.String()
	}
	if cfg.TotalToCommons != nil {
		out.TotalToCommons = cfg.TotalToCommons.String()
	}
	return out
}

func parsePositiveBigInt(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	return amount, nil
}
