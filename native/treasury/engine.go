package treasury

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"sourprotocol/core/events"
	"sourprotocol/core/types"
)

var errNilState = errors.New("treasury engine: state not configured")

// engineState is the subset of state manager functionality the engine needs.
type engineState interface {
	TreasuryConfigPut(*Config) error
	TreasuryConfigGet() (*Config, bool, error)
	BatchPut(*BatchRecord) error
	BatchGet(id uint64) (*BatchRecord, bool, error)
	TreasuryVaultAddress(token string) ([20]byte, error)
	Transfer(from, to [20]byte, token string, amount *big.Int) error
	BalanceOf(addr [20]byte, token string) (*big.Int, error)
}

type treasuryEvent struct {
	evt *types.Event
}

func (e treasuryEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e treasuryEvent) Event() *types.Event { return e.evt }

// Engine accumulates fee deposits per token and releases the pooled balance
// to a keeper once it crosses the batch threshold. One lock serializes every
// operation; the config singleton and batch counter participate in each
// mutation, so guard checks and commits are a single atomic unit.
type Engine struct {
	mu      sync.Mutex
	state   engineState
	emitter events.Emitter
	nowFn   func() int64
}

// NewEngine creates a treasury engine with a no-op emitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetNowFunc overrides the time source, primarily for deterministic tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
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
	e.emitter.Emit(treasuryEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

// InitializeConfig creates the treasury config singleton. It can only run
// once per deployment.
func (e *Engine) InitializeConfig(authority [20]byte, batchThreshold *big.Int, keeperRewardBps uint32) (*Config, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok, err := e.state.TreasuryConfigGet(); err != nil {
		return nil, err
	} else if ok {
		return nil, ErrAlreadyInitialized
	}
	cfg := &Config{
		Authority:       authority,
		BatchThreshold:  cloneBigInt(batchThreshold),
		KeeperRewardBps: keeperRewardBps,
		TotalDeposited:  big.NewInt(0),
		TotalBoughtBack: big.NewInt(0),
		TotalLPAdded:    big.NewInt(0),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := e.state.TreasuryConfigPut(cfg); err != nil {
		return nil, err
	}
	e.emit(NewConfigInitializedEvent(cfg))
	return cfg.Clone(), nil
}

// Config returns a copy of the treasury config singleton.
func (e *Engine) Config() (*Config, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loadConfig()
}

// Deposit moves tokens from the depositor into the shared treasury vault for
// that token type. Callable by any party; the escrow settlement path uses it
// for the treasury share of each pinch fee.
func (e *Engine) Deposit(from [20]byte, token string, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	cfg, err := e.loadConfig()
	if err != nil {
		return err
	}
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return ErrZeroDeposit
	}
	vault, err := e.state.TreasuryVaultAddress(token)
	if err != nil {
		return err
	}
	if err := e.state.Transfer(from, vault, token, amt); err != nil {
		return err
	}
	cfg.TotalDeposited = new(big.Int).Add(cloneBigInt(cfg.TotalDeposited), amt)
	if err := e.state.TreasuryConfigPut(cfg); err != nil {
		return err
	}
	balance, err := e.state.BalanceOf(vault, token)
	if err != nil {
		return err
	}
	e.emit(NewDepositedEvent(from, token, amt, balance))
	return nil
}

// ExecuteBatch releases the entire pooled balance for the supplied token to
// the triggering keeper: the keeper keeps the reward portion and uses the
// remainder for the off-system buyback and liquidity add. A batch record is
// created for later completion.
func (e *Engine) ExecuteBatch(keeper [20]byte, token string) (*BatchRecord, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	cfg, err := e.loadConfig()
	if err != nil {
		return nil, err
	}
	vault, err := e.state.TreasuryVaultAddress(token)
	if err != nil {
		return nil, err
	}
	balance, err := e.state.BalanceOf(vault, token)
	if err != nil {
		return nil, err
	}
	threshold := cloneBigInt(cfg.BatchThreshold)
	if balance.Cmp(threshold) < 0 {
		return nil, fmt.Errorf("%w: balance %s, threshold %s", ErrBelowThreshold, balance, threshold)
	}

	reward := new(big.Int).Mul(balance, big.NewInt(int64(cfg.KeeperRewardBps)))
	reward.Div(reward, big.NewInt(10_000))
	batchAmount := new(big.Int).Sub(balance, reward)
	if batchAmount.Sign() < 0 {
		return nil, fmt.Errorf("%w: reward exceeds balance", ErrOverflow)
	}

	// Both components leave in one transfer; the keeper is trusted to use
	// batchAmount off-system and keep only the reward.
	if err := e.state.Transfer(vault, keeper, token, balance); err != nil {
		return nil, err
	}
	batch := &BatchRecord{
		ID:              cfg.BatchCount,
		Keeper:          keeper,
		Token:           token,
		AmountWithdrawn: batchAmount,
		KeeperReward:    reward,
		InitiatedAt:     e.now(),
		SourBoughtBack:  big.NewInt(0),
		LPTokensAdded:   big.NewInt(0),
	}
	if err := e.state.BatchPut(batch); err != nil {
		return nil, err
	}
	cfg.BatchCount++
	if err := e.state.TreasuryConfigPut(cfg); err != nil {
		return nil, err
	}
	e.emit(NewBatchInitiatedEvent(batch))
	return batch.Clone(), nil
}

// CompleteBatch records the keeper-reported buyback and liquidity results.
// The figures are trusted input; accuracy is delegated to keeper selection,
// not verified here.
func (e *Engine) CompleteBatch(keeper [20]byte, batchID uint64, sourBoughtBack, lpTokensAdded *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	cfg, err := e.loadConfig()
	if err != nil {
		return err
	}
	batch, ok, err := e.state.BatchGet(batchID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: id %d", ErrBatchNotFound, batchID)
	}
	if batch.Completed {
		return ErrBatchAlreadyCompleted
	}
	if keeper != batch.Keeper {
		return ErrNotKeeper
	}
	batch.Completed = true
	batch.SourBoughtBack = cloneBigInt(sourBoughtBack)
	batch.LPTokensAdded = cloneBigInt(lpTokensAdded)
	if err := e.state.BatchPut(batch); err != nil {
		return err
	}
	cfg.TotalBoughtBack = new(big.Int).Add(cloneBigInt(cfg.TotalBoughtBack), batch.SourBoughtBack)
	cfg.TotalLPAdded = new(big.Int).Add(cloneBigInt(cfg.TotalLPAdded), batch.LPTokensAdded)
	if err := e.state.TreasuryConfigPut(cfg); err != nil {
		return err
	}
	e.emit(NewBatchCompletedEvent(batch))
	return nil
}

// UpdateConfig overwrites the supplied fields; nil fields are untouched.
// Only the treasury authority may update.
func (e *Engine) UpdateConfig(caller [20]byte, newThreshold *big.Int, newKeeperRewardBps *uint32) (*Config, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	cfg, err := e.loadConfig()
	if err != nil {
		return nil, err
	}
	if caller != cfg.Authority {
		return nil, ErrNotAuthority
	}
	previous := cfg.Clone()
	if newThreshold != nil {
		if newThreshold.Sign() < 0 {
			return nil, fmt.Errorf("treasury: batch threshold must be non-negative")
		}
		cfg.BatchThreshold = new(big.Int).Set(newThreshold)
	}
	if newKeeperRewardBps != nil {
		if *newKeeperRewardBps > MaxKeeperRewardBps {
			return nil, fmt.Errorf("%w: %d", ErrInvalidKeeperReward, *newKeeperRewardBps)
		}
		cfg.KeeperRewardBps = *newKeeperRewardBps
	}
	if err := e.state.TreasuryConfigPut(cfg); err != nil {
		return nil, err
	}
	e.emit(NewConfigUpdatedEvent(previous, cfg))
	return cfg.Clone(), nil
}

// GetBatch returns a copy of the stored batch record.
func (e *Engine) GetBatch(id uint64) (*BatchRecord, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	batch, ok, err := e.state.BatchGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrBatchNotFound, id)
	}
	return batch, nil
}

func (e *Engine) loadConfig() (*Config, error) {
	cfg, ok, err := e.state.TreasuryConfigGet()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotInitialized
	}
	return cfg, nil
}
