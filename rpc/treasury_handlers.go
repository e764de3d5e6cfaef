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
	"sourprotocol/native/treasury"
	"sourprotocol/observability"
)

const (
	codeTreasuryInvalidParams = -32031
	codeTreasuryNotFound      = -32032
	codeTreasuryForbidden     = -32033
	codeTreasuryConflict      = -32034
	codeTreasuryInternal      = -32035

	codeLedgerInvalidParams = -32041
	codeLedgerInternal      = -32042
)

type treasuryInitConfigParams struct {
	Authority       string `json:"authority"`
	BatchThreshold  string `json:"batchThreshold"`
	KeeperRewardBps uint32 `json:"keeperRewardBps"`
}

type treasuryDepositParams struct {
	From   string `json:"from"`
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

type treasuryExecuteBatchParams struct {
	Keeper string `json:"keeper"`
	Token  string `json:"token"`
}

type treasuryCompleteBatchParams struct {
	Keeper        string `json:"keeper"`
	BatchID       uint64 `json:"batchId"`
	SourBought    string `json:"sourBoughtBack"`
	LPTokensAdded string `json:"lpTokensAdded"`
}

type treasuryUpdateConfigParams struct {
	Caller          string  `json:"caller"`
	BatchThreshold  *string `json:"batchThreshold,omitempty"`
	KeeperRewardBps *uint32 `json:"keeperRewardBps,omitempty"`
}

type treasuryBatchIDParams struct {
	ID uint64 `json:"id"`
}

type balanceParams struct {
	Address string `json:"address"`
	Token   string `json:"token"`
}

type creditParams struct {
	Address string `json:"address"`
	Token   string `json:"token"`
	Amount  string `json:"amount"`
}

type treasuryConfigJSON struct {
	Authority       string `json:"authority"`
	BatchThreshold  string `json:"batchThreshold"`
	KeeperRewardBps uint32 `json:"keeperRewardBps"`
	TotalDeposited  string `json:"totalDeposited"`
	TotalBoughtBack string `json:"totalBoughtBack"`
	TotalLPAdded    string `json:"totalLpAdded"`
	BatchCount      uint64 `json:"batchCount"`
}

type batchRecordJSON struct {
	ID              uint64 `json:"id"`
	Keeper          string `json:"keeper"`
	Token           string `json:"token"`
	AmountWithdrawn string `json:"amountWithdrawn"`
	KeeperReward    string `json:"keeperReward"`
	InitiatedAt     int64  `json:"initiatedAt"`
	Completed       bool   `json:"completed"`
	SourBoughtBack  string `json:"sourBoughtBack,omitempty"`
	LPTokensAdded   string `json:"lpTokensAdded,omitempty"`
}

type balanceJSON struct {
	Address string `json:"address"`
	Token   string `json:"token"`
	Balance string `json:"balance"`
}

func (s *Server) handleTreasuryInitConfig(w http.ResponseWriter, req *RPCRequest) {
	started := time.Now()
	var params treasuryInitConfigParams
	if err := singleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeTreasuryInvalidParams, "invalid_params", err.Error())
		return
	}
	authority, err := types.ParseAddress(params.Authority)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeTreasuryInvalidParams, "invalid_params", err.Error())
		return
	}
	threshold, err := parsePositiveBigInt(params.BatchThreshold)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeTreasuryInvalidParams, "invalid_params", err.Error())
		return
	}
	cfg, err := s.treasury.InitializeConfig(authority, threshold, params.KeeperRewardBps)
	observability.Operations().Observe("treasury", "initConfig", err, started)
	if err != nil {
		s.writeTreasuryError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, treasuryConfigToJSON(cfg))
}

func (s *Server) handleTreasuryDeposit(w http.ResponseWriter, req *RPCRequest) {
	started := time.Now()
	var params treasuryDepositParams
	if err := singleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeTreasuryInvalidParams, "invalid_params", err.Error())
		return
	}
	from, err := types.ParseAddress(params.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeTreasuryInvalidParams, "invalid_params", err.Error())
		return
	}
	token := strings.TrimSpace(params.Token)
	if token == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeTreasuryInvalidParams, "invalid_params", "token required")
		return
	}
	amount, err := parsePositiveBigInt(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeTreasuryInvalidParams, "invalid_params", err.Error())
		return
	}
	err = s.treasury.Deposit(from, token, amount)
	observability.Operations().Observe("treasury", "deposit", err, started)
	if err != nil {
		s.writeTreasuryError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

func (s *Server) handleTreasuryExecuteBatch(w http.ResponseWriter, req *RPCRequest) {
	started := time.Now()
	var params treasuryExecuteBatchParams
	if err := singleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeTreasuryInvalidParams, "invalid_params", err.Error())
		return
	}
	keeper, err := types.ParseAddress(params.Keeper)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeTreasuryInvalidParams, "invalid_params", err.Error())
		return
	}
	token := strings.TrimSpace(params.Token)
	if token == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeTreasuryInvalidParams, "invalid_params", "token required")
		return
	}
	record, err := s.treasury.ExecuteBatch(keeper, token)
	observability.Operations().Observe("treasury", "executeBatch", err, started)
	if err != nil {
		s.writeTreasuryError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, batchRecordToJSON(record))
}

func (s *Server) handleTreasuryCompleteBatch(w http.ResponseWriter, req *RPCRequest) {
	started := time.Now()
	var params treasuryCompleteBatchParams
	if err := singleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeTreasuryInvalidParams, "invalid_params", err.Error())
		return
	}
	keeper, err := types.ParseAddress(params.Keeper)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeTreasuryInvalidParams, "invalid_params", err.Error())
		return
	}
	bought, err := parseNonNegativeBigInt(params.SourBought)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeTreasuryInvalidParams, "invalid_params", err.Error())
		return
	}
	lp, err := parseNonNegativeBigInt(params.LPTokensAdded)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeTreasuryInvalidParams, "invalid_params", err.Error())
		return
	}
	err = s.treasury.CompleteBatch(keeper, params.BatchID, bought, lp)
	observability.Operations().Observe("treasury", "completeBatch", err, started)
	if err != nil {
		s.writeTreasuryError(w, req.ID, err)
		return
	}
	record, err := s.treasury.GetBatch(params.BatchID)
	if err != nil {
		s.writeTreasuryError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, batchRecordToJSON(record))
}

func (s *Server) handleTreasuryUpdateConfig(w http.ResponseWriter, req *RPCRequest) {
	started := time.Now()
	var params treasuryUpdateConfigParams
	if err := singleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeTreasuryInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := types.ParseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeTreasuryInvalidParams, "invalid_params", err.Error())
		return
	}
	var threshold *big.Int
	if params.BatchThreshold != nil {
		threshold, err = parsePositiveBigInt(*params.BatchThreshold)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeTreasuryInvalidParams, "invalid_params", err.Error())
			return
		}
	}
	cfg, err := s.treasury.UpdateConfig(caller, threshold, params.KeeperRewardBps)
	observability.Operations().Observe("treasury", "updateConfig", err, started)
	if err != nil {
		s.writeTreasuryError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, treasuryConfigToJSON(cfg))
}

func (s *Server) handleTreasuryGetBatch(w http.ResponseWriter, req *RPCRequest) {
	var params treasuryBatchIDParams
	if err := singleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeTreasuryInvalidParams, "invalid_params", err.Error())
		return
	}
	record, err := s.treasury.GetBatch(params.ID)
	if err != nil {
		s.writeTreasuryError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, batchRecordToJSON(record))
}

func (s *Server) handleTreasuryGetConfig(w http.ResponseWriter, req *RPCRequest) {
	cfg, err := s.treasury.Config()
	if err != nil {
		s.writeTreasuryError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, treasuryConfigToJSON(cfg))
}

func (s *Server) handleGetBalance(w http.ResponseWriter, req *RPCRequest) {
	var params balanceParams
	if err := singleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeLedgerInvalidParams, "invalid_params", err.Error())
		return
	}
	addr, err := types.ParseAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeLedgerInvalidParams, "invalid_params", err.Error())
		return
	}
	token := strings.TrimSpace(params.Token)
	if token == "" {
		token = handshake.TokenSymbol
	}
	balance, err := s.state.BalanceOf(addr, token)
	if err != nil {
		s.log.Error("balance lookup failed", "err", err)
		writeError(w, http.StatusInternalServerError, req.ID, codeLedgerInternal, "internal_error", err.Error())
		return
	}
	writeResult(w, req.ID, &balanceJSON{Address: types.FormatAddress(addr), Token: token, Balance: balance.String()})
}

func (s *Server) handleCredit(w http.ResponseWriter, req *RPCRequest) {
	started := time.Now()
	var params creditParams
	if err := singleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeLedgerInvalidParams, "invalid_params", err.Error())
		return
	}
	addr, err := types.ParseAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeLedgerInvalidParams, "invalid_params", err.Error())
		return
	}
	token := strings.TrimSpace(params.Token)
	if token == "" {
		token = handshake.TokenSymbol
	}
	amount, err := parsePositiveBigInt(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeLedgerInvalidParams, "invalid_params", err.Error())
		return
	}
	err = s.state.Credit(addr, token, amount)
	observability.Operations().Observe("ledger", "credit", err, started)
	if err != nil {
		s.log.Error("credit failed", "err", err)
		writeError(w, http.StatusInternalServerError, req.ID, codeLedgerInternal, "internal_error", err.Error())
		return
	}
	balance, err := s.state.BalanceOf(addr, token)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeLedgerInternal, "internal_error", err.Error())
		return
	}
	writeResult(w, req.ID, &balanceJSON{Address: types.FormatAddress(addr), Token: token, Balance: balance.String()})
}

func (s *Server) writeTreasuryError(w http.ResponseWriter, id interface{}, err error) {
	switch {
	case errors.Is(err, treasury.ErrBatchNotFound):
		writeError(w, http.StatusNotFound, id, codeTreasuryNotFound, "not_found", err.Error())
	case errors.Is(err, treasury.ErrNotKeeper),
		errors.Is(err, treasury.ErrNotAuthority):
		writeError(w, http.StatusForbidden, id, codeTreasuryForbidden, "forbidden", err.Error())
	case errors.Is(err, treasury.ErrBelowThreshold),
		errors.Is(err, treasury.ErrBatchAlreadyCompleted),
		errors.Is(err, treasury.ErrAlreadyInitialized):
		writeError(w, http.StatusConflict, id, codeTreasuryConflict, "conflict", err.Error())
	case errors.Is(err, treasury.ErrZeroDeposit),
		errors.Is(err, treasury.ErrInvalidKeeperReward),
		errors.Is(err, treasury.ErrOverflow):
		writeError(w, http.StatusBadRequest, id, codeTreasuryInvalidParams, "invalid_params", err.Error())
	default:
		s.log.Error("treasury operation failed", "err", err)
		writeError(w, http.StatusInternalServerError, id, codeTreasuryInternal, "internal_error", err.Error())
	}
}

func treasuryConfigToJSON(cfg *treasury.Config) *treasuryConfigJSON {
	if cfg == nil {
		return nil
	}
	out := &treasuryConfigJSON{
		Authority:       types.FormatAddress(cfg.Authority),
		KeeperRewardBps: cfg.KeeperRewardBps,
		BatchCount:      cfg.BatchCount,
	}
	if cfg.BatchThreshold != nil {
		out.BatchThreshold = cfg.BatchThreshold.String()
	}
	if cfg.TotalDeposited != nil {
		out.TotalDeposited = cfg.TotalDeposited.String()
	}
	if cfg.TotalBoughtBack != nil {
		out.TotalBoughtBack = cfg.TotalBoughtBack.String()
	}
	if cfg.TotalLPAdded != nil {
		out.TotalLPAdded = cfg.TotalLPAdded.String()
	}
	return out
}

func batchRecordToJSON(b *treasury.BatchRecord) *batchRecordJSON {
	if b == nil {
		return nil
	}
	out := &batchRecordJSON{
		ID:          b.ID,
		Keeper:      types.FormatAddress(b.Keeper),
		Token:       b.Token,
		InitiatedAt: b.InitiatedAt,
		Completed:   b.Completed,
	}
	if b.AmountWithdrawn != nil {
		out.AmountWithdrawn = b.AmountWithdrawn.String()
	}
	if b.KeeperReward != nil {
		out.KeeperReward = b.KeeperReward.String()
	}
	if b.SourBoughtBack != nil {
		out.SourBoughtBack = b.SourBoughtBack.String()
	}
	if b.LPTokensAdded != nil {
		out.LPTokensAdded = b.LPTokensAdded.String()
	}
	return out
}

func parseNonNegativeBigInt(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative")
	}
	return amount, nil
}
