package state

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"math/big"
	"sort"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"sourprotocol/core/types"
	"sourprotocol/native/handshake"
	"sourprotocol/native/treasury"
	"sourprotocol/storage"
)

// ErrInsufficientBalance is returned by Transfer when the source account does
// not hold the requested amount. The transfer fails atomically; neither
// account is modified.
var ErrInsufficientBalance = errors.New("state: insufficient balance")

var (
	handshakeRecordPrefix = []byte("handshake/record/")
	handshakeConfigKey    = []byte("handshake/config")
	treasuryConfigKey     = []byte("treasury/config")
	batchRecordPrefix     = []byte("treasury/batch/")
	accountPrefix         = []byte("account/")

	handshakeVaultPrefix = []byte("handshake/vault/")
	treasuryVaultPrefix  = []byte("treasury/vault/")
)

// Manager persists protocol records in the underlying key-value store and
// implements the value-transfer capability consumed by both engines. Account
// mutations are serialized by an internal lock so concurrent transfers from
// different engines cannot interleave a read-modify-write.
type Manager struct {
	mu sync.Mutex
	db storage.Database
}

// NewManager constructs a state manager bound to the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// --- vault derivation ---

// HandshakeVaultAddress derives the exclusive vault address for a handshake
// sequence number. Only uniqueness and exclusivity matter; the derivation
// scheme itself carries no protocol meaning.
func (m *Manager) HandshakeVaultAddress(id uint64) ([20]byte, error) {
	return deriveAddress(handshakeVaultPrefix, sequenceKey(nil, id)), nil
}

// TreasuryVaultAddress derives the shared treasury vault address for a token.
func (m *Manager) TreasuryVaultAddress(token string) ([20]byte, error) {
	return deriveAddress(treasuryVaultPrefix, []byte(token)), nil
}

func deriveAddress(prefix, seed []byte) [20]byte {
	digest := ethcrypto.Keccak256(prefix, seed)
	var addr [20]byte
	copy(addr[:], digest[12:])
	return addr
}

// --- accounts ---

// GetAccount loads the account stored for the address, returning an empty
// account when none exists.
func (m *Manager) GetAccount(addr [20]byte) (*types.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getAccountLocked(addr)
}

// PutAccount stores the account for the address.
func (m *Manager) PutAccount(addr [20]byte, account *types.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putAccountLocked(addr, account)
}

// BalanceOf returns the balance the address holds for the token.
func (m *Manager) BalanceOf(addr [20]byte, token string) (*big.Int, error) {
	account, err := m.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(account.Balance(token)), nil
}

// Credit adds the amount to the address balance for the token. Used by
// genesis/tooling paths; protocol flows use Transfer.
func (m *Manager) Credit(addr [20]byte, token string, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	account, err := m.getAccountLocked(addr)
	if err != nil {
		return err
	}
	account.SetBalance(token, new(big.Int).Add(account.Balance(token), amount))
	return m.putAccountLocked(addr, account)
}

// Transfer moves balance between two holders. Zero amounts are a no-op
// success, negative amounts are rejected, and insufficient balance fails
// without touching either account.
func (m *Manager) Transfer(from, to [20]byte, token string, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("state: negative transfer amount")
	}
	if from == to {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	fromAcc, err := m.getAccountLocked(from)
	if err != nil {
		return err
	}
	toAcc, err := m.getAccountLocked(to)
	if err != nil {
		return err
	}
	balance := fromAcc.Balance(token)
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s %s", ErrInsufficientBalance, balance, amount, token)
	}
	fromAcc.SetBalance(token, new(big.Int).Sub(balance, amount))
	toAcc.SetBalance(token, new(big.Int).Add(toAcc.Balance(token), amount))
	if err := m.putAccountLocked(from, fromAcc); err != nil {
		return err
	}
	return m.putAccountLocked(to, toAcc)
}

// Burn destroys balance held by an address. Only needed when a burn-style fee
// destination is configured.
func (m *Manager) Burn(from [20]byte, token string, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("state: negative burn amount")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	account, err := m.getAccountLocked(from)
	if err != nil {
		return err
	}
	balance := account.Balance(token)
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s %s", ErrInsufficientBalance, balance, amount, token)
	}
	account.SetBalance(token, new(big.Int).Sub(balance, amount))
	return m.putAccountLocked(from, account)
}

func (m *Manager) getAccountLocked(addr [20]byte) (*types.Account, error) {
	var stored storedAccount
	ok, err := m.getRecord(accountKey(addr), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return types.NewAccount(), nil
	}
	return fromStoredAccount(&stored), nil
}

func (m *Manager) putAccountLocked(addr [20]byte, account *types.Account) error {
	return m.putRecord(accountKey(addr), toStoredAccount(account))
}

// --- handshake records ---

// HandshakePut stores a sanitized copy of the handshake.
func (m *Manager) HandshakePut(h *handshake.Handshake) error {
	sanitized, err := handshake.Sanitize(h)
	if err != nil {
		return err
	}
	return m.putRecord(sequenceKey(handshakeRecordPrefix, sanitized.ID), toStoredHandshake(sanitized))
}

// HandshakeGet retrieves a handshake by sequence number.
func (m *Manager) HandshakeGet(id uint64) (*handshake.Handshake, bool, error) {
	var stored storedHandshake
	ok, err := m.getRecord(sequenceKey(handshakeRecordPrefix, id), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	record, err := fromStoredHandshake(&stored)
	if err != nil {
		return nil, false, err
	}
	return record, true, nil
}

// ProtocolConfigPut stores the protocol config singleton.
func (m *Manager) ProtocolConfigPut(cfg *handshake.ProtocolConfig) error {
	if cfg == nil {
		return fmt.Errorf("state: nil protocol config")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	return m.putRecord(handshakeConfigKey, toStoredProtocolConfig(cfg))
}

// ProtocolConfigGet retrieves the protocol config singleton.
func (m *Manager) ProtocolConfigGet() (*handshake.ProtocolConfig, bool, error) {
	var stored storedProtocolConfig
	ok, err := m.getRecord(handshakeConfigKey, &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return fromStoredProtocolConfig(&stored), true, nil
}

// --- treasury records ---

// TreasuryConfigPut stores the treasury config singleton.
func (m *Manager) TreasuryConfigPut(cfg *treasury.Config) error {
	if cfg == nil {
		return fmt.Errorf("state: nil treasury config")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	return m.putRecord(treasuryConfigKey, toStoredTreasuryConfig(cfg))
}

// TreasuryConfigGet retrieves the treasury config singleton.
func (m *Manager) TreasuryConfigGet() (*treasury.Config, bool, error) {
	var stored storedTreasuryConfig
	ok, err := m.getRecord(treasuryConfigKey, &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return fromStoredTreasuryConfig(&stored), true, nil
}

// BatchPut stores a batch record keyed by its sequence number.
func (m *Manager) BatchPut(b *treasury.BatchRecord) error {
	if b == nil {
		return fmt.Errorf("state: nil batch record")
	}
	return m.putRecord(sequenceKey(batchRecordPrefix, b.ID), toStoredBatch(b))
}

// BatchGet retrieves a batch record by sequence number.
func (m *Manager) BatchGet(id uint64) (*treasury.BatchRecord, bool, error) {
	var stored storedBatch
	ok, err := m.getRecord(sequenceKey(batchRecordPrefix, id), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	record, err := fromStoredBatch(&stored)
	if err != nil {
		return nil, false, err
	}
	return record, true, nil
}

// --- encoding plumbing ---

func (m *Manager) putRecord(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.db.Put(key, encoded)
}

func (m *Manager) getRecord(key []byte, out interface{}) (bool, error) {
	encoded, err := m.db.Get(key)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := rlp.DecodeBytes(encoded, out); err != nil {
		return false, err
	}
	return true, nil
}

func sequenceKey(prefix []byte, id uint64) []byte {
	buf := make([]byte, len(prefix)+8)
	copy(buf, prefix)
	binary.BigEndian.PutUint64(buf[len(prefix):], id)
	return buf
}

func accountKey(addr [20]byte) []byte {
	buf := make([]byte, len(accountPrefix)+20)
	copy(buf, accountPrefix)
	copy(buf[len(accountPrefix):], addr[:])
	return buf
}

// Stored record structs keep RLP happy: unsigned timestamps, no maps.

type storedHandshake struct {
	ID          uint64
	Creator     [20]byte
	Worker      [20]byte
	Amount      *big.Int
	Description string
	Status      uint8
	CreatedAt   uint64
	Deadline    uint64
	AcceptedAt  uint64
	DeliveredAt uint64
	ResolvedAt  uint64
	DisputedBy  [20]byte
	Vault       [20]byte
}

type storedProtocolConfig struct {
	Authority        [20]byte
	Treasury         [20]byte
	KeepersPool      [20]byte
	Commons          [20]byte
	PinchBps         uint32
	TreasuryShareBps uint32
	KeepersShareBps  uint32
	CommonsShareBps  uint32
	HandshakeCount   uint64
	TotalToTreasury  *big.Int
	TotalToKeepers   *big.Int
	TotalToCommons   *big.Int
	TotalCompleted   uint64
	TotalDisputed    uint64
}

type storedTreasuryConfig struct {
	Authority       [20]byte
	BatchThreshold  *big.Int
	KeeperRewardBps uint32
	TotalDeposited  *big.Int
	TotalBoughtBack *big.Int
	TotalLPAdded    *big.Int
	BatchCount      uint64
}

type storedBatch struct {
	ID              uint64
	Keeper          [20]byte
	Token           string
	AmountWithdrawn *big.Int
	KeeperReward    *big.Int
	InitiatedAt     uint64
	Completed       bool
	SourBoughtBack  *big.Int
	LPTokensAdded   *big.Int
}

type storedBalance struct {
	Token  string
	Amount *big.Int
}

type storedAccount struct {
	Nonce    uint64
	Balances []storedBalance
}

func toStoredHandshake(h *handshake.Handshake) *storedHandshake {
	return &storedHandshake{
		ID:          h.ID,
		Creator:     h.Creator,
		Worker:      h.Worker,
		Amount:      nonNil(h.Amount),
		Description: h.Description,
		Status:      uint8(h.Status),
		CreatedAt:   clampUint64(h.CreatedAt),
		Deadline:    clampUint64(h.Deadline),
		AcceptedAt:  clampUint64(h.AcceptedAt),
		DeliveredAt: clampUint64(h.DeliveredAt),
		ResolvedAt:  clampUint64(h.ResolvedAt),
		DisputedBy:  h.DisputedBy,
		Vault:       h.Vault,
	}
}

func fromStoredHandshake(stored *storedHandshake) (*handshake.Handshake, error) {
	createdAt, err := uint64ToInt64(stored.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("state: created at overflow: %w", err)
	}
	deadline, err := uint64ToInt64(stored.Deadline)
	if err != nil {
		return nil, fmt.Errorf("state: deadline overflow: %w", err)
	}
	acceptedAt, err := uint64ToInt64(stored.AcceptedAt)
	if err != nil {
		return nil, fmt.Errorf("state: accepted at overflow: %w", err)
	}
	deliveredAt, err := uint64ToInt64(stored.DeliveredAt)
	if err != nil {
		return nil, fmt.Errorf("state: delivered at overflow: %w", err)
	}
	resolvedAt, err := uint64ToInt64(stored.ResolvedAt)
	if err != nil {
		return nil, fmt.Errorf("state: resolved at overflow: %w", err)
	}
	return &handshake.Handshake{
		ID:          stored.ID,
		Creator:     stored.Creator,
		Worker:      stored.Worker,
		Amount:      nonNil(stored.Amount),
		Description: stored.Description,
		Status:      handshake.Status(stored.Status),
		CreatedAt:   createdAt,
		Deadline:    deadline,
		AcceptedAt:  acceptedAt,
		DeliveredAt: deliveredAt,
		ResolvedAt:  resolvedAt,
		DisputedBy:  stored.DisputedBy,
		Vault:       stored.Vault,
	}, nil
}

func toStoredProtocolConfig(cfg *handshake.ProtocolConfig) *storedProtocolConfig {
	return &storedProtocolConfig{
		Authority:        cfg.Authority,
		Treasury:         cfg.Treasury,
		KeepersPool:      cfg.KeepersPool,
		Commons:          cfg.Commons,
		PinchBps:         cfg.PinchBps,
		TreasuryShareBps: cfg.TreasuryShareBps,
		KeepersShareBps:  cfg.KeepersShareBps,
		CommonsShareBps:  cfg.CommonsShareBps,
		HandshakeCount:   cfg.HandshakeCount,
		TotalToTreasury:  nonNil(cfg.TotalToTreasury),
		TotalToKeepers:   nonNil(cfg.TotalToKeepers),
		TotalToCommons:   nonNil(cfg.TotalToCommons),
		TotalCompleted:   cfg.TotalCompleted,
		TotalDisputed:    cfg.TotalDisputed,
	}
}

func fromStoredProtocolConfig(stored *storedProtocolConfig) *handshake.ProtocolConfig {
	return &handshake.ProtocolConfig{
		Authority:        stored.Authority,
		Treasury:         stored.Treasury,
		KeepersPool:      stored.KeepersPool,
		Commons:          stored.Commons,
		PinchBps:         stored.PinchBps,
		TreasuryShareBps: stored.TreasuryShareBps,
		KeepersShareBps:  stored.KeepersShareBps,
		CommonsShareBps:  stored.CommonsShareBps,
		HandshakeCount:   stored.HandshakeCount,
		TotalToTreasury:  nonNil(stored.TotalToTreasury),
		TotalToKeepers:   nonNil(stored.TotalToKeepers),
		TotalToCommons:   nonNil(stored.TotalToCommons),
		TotalCompleted:   stored.TotalCompleted,
		TotalDisputed:    stored.TotalDisputed,
	}
}

func toStoredTreasuryConfig(cfg *treasury.Config) *storedTreasuryConfig {
	return &storedTreasuryConfig{
		Authority:       cfg.Authority,
		BatchThreshold:  nonNil(cfg.BatchThreshold),
		KeeperRewardBps: cfg.KeeperRewardBps,
		TotalDeposited:  nonNil(cfg.TotalDeposited),
		TotalBoughtBack: nonNil(cfg.TotalBoughtBack),
		TotalLPAdded:    nonNil(cfg.TotalLPAdded),
		BatchCount:      cfg.BatchCount,
	}
}

func fromStoredTreasuryConfig(stored *storedTreasuryConfig) *treasury.Config {
	return &treasury.Config{
		Authority:       stored.Authority,
		BatchThreshold:  nonNil(stored.BatchThreshold),
		KeeperRewardBps: stored.KeeperRewardBps,
		TotalDeposited:  nonNil(stored.TotalDeposited),
		TotalBoughtBack: nonNil(stored.TotalBoughtBack),
		TotalLPAdded:    nonNil(stored.TotalLPAdded),
		BatchCount:      stored.BatchCount,
	}
}

func toStoredBatch(b *treasury.BatchRecord) *storedBatch {
	return &storedBatch{
		ID:              b.ID,
		Keeper:          b.Keeper,
		Token:           b.Token,
		AmountWithdrawn: nonNil(b.AmountWithdrawn),
		KeeperReward:    nonNil(b.KeeperReward),
		InitiatedAt:     clampUint64(b.InitiatedAt),
		Completed:       b.Completed,
		SourBoughtBack:  nonNil(b.SourBoughtBack),
		LPTokensAdded:   nonNil(b.LPTokensAdded),
	}
}

func fromStoredBatch(stored *storedBatch) (*treasury.BatchRecord, error) {
	initiatedAt, err := uint64ToInt64(stored.InitiatedAt)
	if err != nil {
		return nil, fmt.Errorf("state: initiated at overflow: %w", err)
	}
	return &treasury.BatchRecord{
		ID:              stored.ID,
		Keeper:          stored.Keeper,
		Token:           stored.Token,
		AmountWithdrawn: nonNil(stored.AmountWithdrawn),
		KeeperReward:    nonNil(stored.KeeperReward),
		InitiatedAt:     initiatedAt,
		Completed:       stored.Completed,
		SourBoughtBack:  nonNil(stored.SourBoughtBack),
		LPTokensAdded:   nonNil(stored.LPTokensAdded),
	}, nil
}

func toStoredAccount(account *types.Account) *storedAccount {
	stored := &storedAccount{}
	if account == nil {
		return stored
	}
	stored.Nonce = account.Nonce
	tokens := make([]string, 0, len(account.Balances))
	for token := range account.Balances {
		tokens = append(tokens, token)
	}
	sort.Strings(tokens)
	for _, token := range tokens {
		stored.Balances = append(stored.Balances, storedBalance{Token: token, Amount: nonNil(account.Balances[token])})
	}
	return stored
}

func fromStoredAccount(stored *storedAccount) *types.Account {
	account := types.NewAccount()
	if stored == nil {
		return account
	}
	account.Nonce = stored.Nonce
	for _, balance := range stored.Balances {
		account.SetBalance(balance.Token, nonNil(balance.Amount))
	}
	return account
}

func nonNil(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func clampUint64(v int64) uint64 {
	if v < 0 {
		return 0
	}
	return uint64(v)
}

func uint64ToInt64(value uint64) (int64, error) {
	if value > math.MaxInt64 {
		return 0, fmt.Errorf("value %d exceeds int64 range", value)
	}
	return int64(value), nil
}
