package handshake

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"sourprotocol/core/events"
	"sourprotocol/core/types"
)

var errNilState = errors.New("handshake engine: state not configured")

// engineState is the subset of state manager functionality the engine needs.
type engineState interface {
	HandshakePut(*Handshake) error
	HandshakeGet(id uint64) (*Handshake, bool, error)
	ProtocolConfigPut(*ProtocolConfig) error
	ProtocolConfigGet() (*ProtocolConfig, bool, error)
	HandshakeVaultAddress(id uint64) ([20]byte, error)
	Transfer(from, to [20]byte, token string, amount *big.Int) error
	BalanceOf(addr [20]byte, token string) (*big.Int, error)
}

// DepositSink receives the treasury share of each released pinch fee as an
// ordinary deposit. The treasury engine satisfies this interface; the
// handshake engine is otherwise decoupled from it.
type DepositSink interface {
	Deposit(from [20]byte, token string, amount *big.Int) error
}

type handshakeEvent struct {
	evt *types.Event
}

func (e handshakeEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e handshakeEvent) Event() *types.Event { return e.evt }

// Engine drives the escrow lifecycle state machine. Every operation runs
// under one lock so the status guards and the subsequent mutation are a
// single atomic unit; the protocol config singleton participates in most
// transitions, so per-record and per-config exclusion collapse into the
// engine lock. All guards are evaluated before the first balance movement.
type Engine struct {
	mu       sync.Mutex
	state    engineState
	emitter  events.Emitter
	treasury DepositSink
	nowFn    func() int64
}

// NewEngine creates a handshake engine with a no-op emitter. Callers can
// override the emitter via SetEmitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetTreasury configures the sink that receives the treasury share of each
// pinch fee. When unset the share is transferred to the configured treasury
// destination directly.
func (e *Engine) SetTreasury(sink DepositSink) { e.treasury = sink }

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(handshakeEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

// InitializeConfig creates the protocol config singleton. It can only run
// once per deployment.
func (e *Engine) InitializeConfig(authority, treasury, keepersPool, commons [20]byte, pinchBps, treasuryShareBps, keepersShareBps, commonsShareBps uint32) (*ProtocolConfig, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok, err := e.state.ProtocolConfigGet(); err != nil {
		return nil, err
	} else if ok {
		return nil, ErrAlreadyInitialized
	}
	cfg := &ProtocolConfig{
		Authority:        authority,
		Treasury:         treasury,
		KeepersPool:      keepersPool,
		Commons:          commons,
		PinchBps:         pinchBps,
		TreasuryShareBps: treasuryShareBps,
		KeepersShareBps:  keepersShareBps,
		CommonsShareBps:  commonsShareBps,
		TotalToTreasury:  big.NewInt(0),
		TotalToKeepers:   big.NewInt(0),
		TotalToCommons:   big.NewInt(0),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := e.state.ProtocolConfigPut(cfg); err != nil {
		return nil, err
	}
	e.emit(NewConfigInitializedEvent(cfg))
	return cfg.Clone(), nil
}

// Config returns a copy of the protocol config singleton.
func (e *Engine) Config() (*ProtocolConfig, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loadConfig()
}

// Create validates the deal parameters, moves the escrow amount from the
// creator into a fresh exclusive vault, and persists the new handshake under
// the next sequence number.
func (e *Engine) Create(creator, worker [20]byte, amount *big.Int, description string, deadline int64) (*Handshake, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	cfg, err := e.loadConfig()
	if err != nil {
		return nil, err
	}
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	if amt.Cmp(maxAmount) > 0 {
		return nil, fmt.Errorf("%w: amount exceeds supported range", ErrMathOverflow)
	}
	if len(description) > MaxDescriptionLen {
		return nil, fmt.Errorf("%w: %d characters", ErrDescriptionTooLong, len(description))
	}
	if worker == creator {
		return nil, ErrSelfHandshake
	}
	now := e.now()
	if deadline <= now {
		return nil, fmt.Errorf("%w: deadline %d, now %d", ErrDeadlineInPast, deadline, now)
	}

	id := cfg.HandshakeCount
	vault, err := e.state.HandshakeVaultAddress(id)
	if err != nil {
		return nil, err
	}
	if err := e.state.Transfer(creator, vault, TokenSymbol, amt); err != nil {
		return nil, err
	}
	h := &Handshake{
		ID:          id,
		Creator:     creator,
		Worker:      worker,
		Amount:      amt,
		Description: description,
		Status:      StatusCreated,
		CreatedAt:   now,
		Deadline:    deadline,
		Vault:       vault,
	}
	if err := e.state.HandshakePut(h); err != nil {
		return nil, err
	}
	cfg.HandshakeCount++
	if err := e.state.ProtocolConfigPut(cfg); err != nil {
		return nil, err
	}
	e.emit(NewCreatedEvent(h))
	return h.Clone(), nil
}

// Accept transitions a created handshake to accepted. Only the recorded
// worker may accept, and only while the deadline has not lapsed.
func (e *Engine) Accept(id uint64, caller [20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	h, err := e.loadHandshake(id)
	if err != nil {
		return err
	}
	if h.Status != StatusCreated {
		return fmt.Errorf("%w: cannot accept in status %s", ErrInvalidStatus, h.Status)
	}
	if caller != h.Worker {
		return ErrNotWorker
	}
	now := e.now()
	if now > h.Deadline {
		return fmt.Errorf("%w: deadline %d, now %d", ErrHandshakeExpired, h.Deadline, now)
	}
	h.Status = StatusAccepted
	h.AcceptedAt = now
	if err := e.state.HandshakePut(h); err != nil {
		return err
	}
	e.emit(NewAcceptedEvent(h))
	return nil
}

// Deliver marks the work as delivered, awaiting the creator's approval.
func (e *Engine) Deliver(id uint64, caller [20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	h, err := e.loadHandshake(id)
	if err != nil {
		return err
	}
	if h.Status != StatusAccepted {
		return fmt.Errorf("%w: cannot deliver in status %s", ErrInvalidStatus, h.Status)
	}
	if caller != h.Worker {
		return ErrNotWorker
	}
	h.Status = StatusDelivered
	h.DeliveredAt = e.now()
	if err := e.state.HandshakePut(h); err != nil {
		return err
	}
	e.emit(NewDeliveredEvent(h))
	return nil
}

// Approve releases the escrowed funds to the worker minus the pinch fee and
// routes the fee shares to their destinations.
func (e *Engine) Approve(id uint64, caller [20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	h, err := e.loadHandshake(id)
	if err != nil {
		return err
	}
	if h.Status != StatusDelivered {
		return fmt.Errorf("%w: cannot approve in status %s", ErrInvalidStatus, h.Status)
	}
	if caller != h.Creator {
		return ErrNotCreator
	}
	cfg, err := e.loadConfig()
	if err != nil {
		return err
	}
	split, err := e.settle(h, cfg, StatusApproved)
	if err != nil {
		return err
	}
	e.emit(NewApprovedEvent(h, split))
	return nil
}

// Cancel refunds the entire vault balance to the creator. Only valid before
// the worker has accepted.
func (e *Engine) Cancel(id uint64, caller [20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	h, err := e.loadHandshake(id)
	if err != nil {
		return err
	}
	if h.Status != StatusCreated {
		return fmt.Errorf("%w: cannot cancel in status %s", ErrInvalidStatus, h.Status)
	}
	if caller != h.Creator {
		return ErrNotCreator
	}
	if err := e.refundVault(h, h.Creator); err != nil {
		return err
	}
	h.Status = StatusCancelled
	h.ResolvedAt = e.now()
	if err := e.state.HandshakePut(h); err != nil {
		return err
	}
	e.emit(NewCancelledEvent(h))
	return nil
}

// Dispute flags the handshake as disputed. Either participant may raise a
// dispute once work is in progress or delivered.
func (e *Engine) Dispute(id uint64, caller [20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	h, err := e.loadHandshake(id)
	if err != nil {
		return err
	}
	if h.Status != StatusAccepted && h.Status != StatusDelivered {
		return fmt.Errorf("%w: cannot dispute in status %s", ErrInvalidStatus, h.Status)
	}
	if caller != h.Creator && caller != h.Worker {
		return ErrNotParticipant
	}
	cfg, err := e.loadConfig()
	if err != nil {
		return err
	}
	h.Status = StatusDisputed
	h.DisputedBy = caller
	if err := e.state.HandshakePut(h); err != nil {
		return err
	}
	cfg.TotalDisputed++
	if err := e.state.ProtocolConfigPut(cfg); err != nil {
		return err
	}
	e.emit(NewDisputedEvent(h))
	return nil
}

// Resolve settles a disputed handshake according to the authority's ruling.
// A refund returns the actual vault balance to the creator with no fee; a
// pay-worker ruling applies the identical settlement path as Approve.
func (e *Engine) Resolve(id uint64, caller [20]byte, ruling Ruling) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	h, err := e.loadHandshake(id)
	if err != nil {
		return err
	}
	cfg, err := e.loadConfig()
	if err != nil {
		return err
	}
	if caller != cfg.Authority {
		return ErrNotAuthority
	}
	if h.Status != StatusDisputed {
		return fmt.Errorf("%w: cannot resolve in status %s", ErrInvalidStatus, h.Status)
	}
	if !ruling.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidRuling, ruling)
	}

	var split SplitResult
	switch ruling {
	case RulingRefund:
		if err := e.refundVault(h, h.Creator); err != nil {
			return err
		}
		h.Status = StatusResolved
		h.ResolvedAt = e.now()
		if err := e.state.HandshakePut(h); err != nil {
			return err
		}
	case RulingPayWorker:
		split, err = e.settle(h, cfg, StatusResolved)
		if err != nil {
			return err
		}
	}
	e.emit(NewResolvedEvent(h, ruling, split))
	return nil
}

// Get returns a copy of the stored handshake.
func (e *Engine) Get(id uint64) (*Handshake, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loadHandshake(id)
}

// settle applies the pinch fee split and disburses the escrow to its final
// recipients. Approve and Resolve(pay-worker) share this routine so the two
// paths cannot drift.
func (e *Engine) settle(h *Handshake, cfg *ProtocolConfig, terminal Status) (SplitResult, error) {
	split, err := Split(h.Amount, cfg.PinchBps, cfg.TreasuryShareBps, cfg.KeepersShareBps, cfg.CommonsShareBps)
	if err != nil {
		return SplitResult{}, err
	}
	if err := e.state.Transfer(h.Vault, h.Worker, TokenSymbol, split.Worker); err != nil {
		return SplitResult{}, err
	}
	if split.Treasury.Sign() > 0 {
		if e.treasury != nil {
			if err := e.treasury.Deposit(h.Vault, TokenSymbol, split.Treasury); err != nil {
				return SplitResult{}, err
			}
		} else if err := e.state.Transfer(h.Vault, cfg.Treasury, TokenSymbol, split.Treasury); err != nil {
			return SplitResult{}, err
		}
	}
	if err := e.state.Transfer(h.Vault, cfg.KeepersPool, TokenSymbol, split.Keepers); err != nil {
		return SplitResult{}, err
	}
	if err := e.state.Transfer(h.Vault, cfg.Commons, TokenSymbol, split.Commons); err != nil {
		return SplitResult{}, err
	}

	h.Status = terminal
	h.ResolvedAt = e.now()
	if err := e.state.HandshakePut(h); err != nil {
		return SplitResult{}, err
	}
	cfg.TotalCompleted++
	cfg.TotalToTreasury = new(big.Int).Add(cloneBigInt(cfg.TotalToTreasury), split.Treasury)
	cfg.TotalToKeepers = new(big.Int).Add(cloneBigInt(cfg.TotalToKeepers), split.Keepers)
	cfg.TotalToCommons = new(big.Int).Add(cloneBigInt(cfg.TotalToCommons), split.Commons)
	if err := e.state.ProtocolConfigPut(cfg); err != nil {
		return SplitResult{}, err
	}
	return split, nil
}

// refundVault returns whatever the vault actually holds, not the nominal
// amount, so balance drift never strands funds.
func (e *Engine) refundVault(h *Handshake, recipient [20]byte) error {
	balance, err := e.state.BalanceOf(h.Vault, TokenSymbol)
	if err != nil {
		return err
	}
	return e.state.Transfer(h.Vault, recipient, TokenSymbol, balance)
}

func (e *Engine) loadHandshake(id uint64) (*Handshake, error) {
	h, ok, err := e.state.HandshakeGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return h, nil
}

func (e *Engine) loadConfig() (*ProtocolConfig, error) {
	cfg, ok, err := e.state.ProtocolConfigGet()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotInitialized
	}
	return cfg, nil
}
