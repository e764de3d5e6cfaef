package state

import (
	"errors"
	"math/big"
	"testing"

	"sourprotocol/native/handshake"
	"sourprotocol/native/treasury"
	"sourprotocol/storage"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(storage.NewMemDB())
}

func addr(b byte) [20]byte {
	var out [20]byte
	out[19] = b
	return out
}

func TestTransferSemantics(t *testing.T) {
	m := newTestManager(t)
	alice := addr(0x01)
	bob := addr(0x02)

	if err := m.Credit(alice, "SOUR", big.NewInt(1_000)); err != nil {
		t.Fatalf("credit: %v", err)
	}

	if err := m.Transfer(alice, bob, "SOUR", big.NewInt(400)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	aliceBal, err := m.BalanceOf(alice, "SOUR")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	bobBal, err := m.BalanceOf(bob, "SOUR")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if aliceBal.Int64() != 600 || bobBal.Int64() != 400 {
		t.Fatalf("balances after transfer: %s/%s", aliceBal, bobBal)
	}

	// Insufficient balance leaves both accounts untouched.
	if err := m.Transfer(alice, bob, "SOUR", big.NewInt(601)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("want ErrInsufficientBalance, got %v", err)
	}
	aliceBal, _ = m.BalanceOf(alice, "SOUR")
	bobBal, _ = m.BalanceOf(bob, "SOUR")
	if aliceBal.Int64() != 600 || bobBal.Int64() != 400 {
		t.Fatalf("balances after failed transfer: %s/%s", aliceBal, bobBal)
	}

	// Zero amount and self transfer are no-op successes.
	if err := m.Transfer(alice, bob, "SOUR", big.NewInt(0)); err != nil {
		t.Fatalf("zero transfer: %v", err)
	}
	if err := m.Transfer(alice, alice, "SOUR", big.NewInt(100)); err != nil {
		t.Fatalf("self transfer: %v", err)
	}
	aliceBal, _ = m.BalanceOf(alice, "SOUR")
	if aliceBal.Int64() != 600 {
		t.Fatalf("self transfer must not change the balance, got %s", aliceBal)
	}

	if err := m.Transfer(alice, bob, "SOUR", big.NewInt(-1)); err == nil {
		t.Fatal("negative transfer must fail")
	}
}

func TestBurn(t *testing.T) {
	m := newTestManager(t)
	alice := addr(0x01)
	if err := m.Credit(alice, "SOUR", big.NewInt(100)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := m.Burn(alice, "SOUR", big.NewInt(40)); err != nil {
		t.Fatalf("burn: %v", err)
	}
	balance, _ := m.BalanceOf(alice, "SOUR")
	if balance.Int64() != 60 {
		t.Fatalf("balance after burn: want 60, got %s", balance)
	}
	if err := m.Burn(alice, "SOUR", big.NewInt(61)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("want ErrInsufficientBalance, got %v", err)
	}
}

func TestAccountMultiTokenRoundTrip(t *testing.T) {
	m := newTestManager(t)
	alice := addr(0x01)
	tokens := map[string]int64{"SOUR": 10, "USDC": 20, "DAI": 30}
	for token, amount := range tokens {
		if err := m.Credit(alice, token, big.NewInt(amount)); err != nil {
			t.Fatalf("credit %s: %v", token, err)
		}
	}
	for token, amount := range tokens {
		balance, err := m.BalanceOf(alice, token)
		if err != nil {
			t.Fatalf("balance %s: %v", token, err)
		}
		if balance.Int64() != amount {
			t.Fatalf("%s balance: want %d, got %s", token, amount, balance)
		}
	}
	if balance, _ := m.BalanceOf(alice, "UNKNOWN"); balance.Sign() != 0 {
		t.Fatalf("unknown token balance: want 0, got %s", balance)
	}
}

func TestHandshakeRoundTrip(t *testing.T) {
	m := newTestManager(t)
	vault, err := m.HandshakeVaultAddress(7)
	if err != nil {
		t.Fatalf("vault: %v", err)
	}
	record := &handshake.Handshake{
		ID:          7,
		Creator:     addr(0x10),
		Worker:      addr(0x20),
		Amount:      big.NewInt(123_456),
		Description: "port the indexer",
		Status:      handshake.StatusDisputed,
		CreatedAt:   1_700_000_000,
		Deadline:    1_700_003_600,
		AcceptedAt:  1_700_000_100,
		DeliveredAt: 1_700_000_200,
		DisputedBy:  addr(0x20),
		Vault:       vault,
	}
	if err := m.HandshakePut(record); err != nil {
		t.Fatalf("put: %v", err)
	}
	loaded, ok, err := m.HandshakeGet(7)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok {
		t.Fatal("record not found")
	}
	if loaded.ID != record.ID || loaded.Creator != record.Creator || loaded.Worker != record.Worker {
		t.Fatalf("identity fields differ: %+v", loaded)
	}
	if loaded.Amount.Cmp(record.Amount) != 0 {
		t.Fatalf("amount: want %s, got %s", record.Amount, loaded.Amount)
	}
	if loaded.Status != handshake.StatusDisputed {
		t.Fatalf("status: want disputed, got %s", loaded.Status)
	}
	if loaded.CreatedAt != record.CreatedAt || loaded.Deadline != record.Deadline ||
		loaded.AcceptedAt != record.AcceptedAt || loaded.DeliveredAt != record.DeliveredAt {
		t.Fatalf("timestamps differ: %+v", loaded)
	}
	if loaded.DisputedBy != record.DisputedBy {
		t.Fatalf("disputedBy differs: %x", loaded.DisputedBy)
	}
	if loaded.Vault != vault {
		t.Fatalf("vault differs: %x", loaded.Vault)
	}

	if _, ok, err := m.HandshakeGet(99); err != nil || ok {
		t.Fatalf("missing record: ok=%v err=%v", ok, err)
	}
}

func TestProtocolConfigRoundTrip(t *testing.T) {
	m := newTestManager(t)
	cfg := &handshake.ProtocolConfig{
		Authority:        addr(0x01),
		Treasury:         addr(0x02),
		KeepersPool:      addr(0x03),
		Commons:          addr(0x04),
		PinchBps:         200,
		TreasuryShareBps: 5000,
		KeepersShareBps:  3000,
		CommonsShareBps:  2000,
		HandshakeCount:   9,
		TotalToTreasury:  big.NewInt(111),
		TotalToKeepers:   big.NewInt(222),
		TotalToCommons:   big.NewInt(333),
		TotalCompleted:   4,
		TotalDisputed:    2,
	}
	if err := m.ProtocolConfigPut(cfg); err != nil {
		t.Fatalf("put: %v", err)
	}
	loaded, ok, err := m.ProtocolConfigGet()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok {
		t.Fatal("config not found")
	}
	if loaded.HandshakeCount != 9 || loaded.TotalCompleted != 4 || loaded.TotalDisputed != 2 {
		t.Fatalf("counters differ: %+v", loaded)
	}
	if loaded.TotalToTreasury.Int64() != 111 || loaded.TotalToKeepers.Int64() != 222 || loaded.TotalToCommons.Int64() != 333 {
		t.Fatalf("totals differ: %s/%s/%s", loaded.TotalToTreasury, loaded.TotalToKeepers, loaded.TotalToCommons)
	}
	if loaded.PinchBps != 200 || loaded.TreasuryShareBps != 5000 {
		t.Fatalf("rates differ: %+v", loaded)
	}
}

func TestProtocolConfigPutValidates(t *testing.T) {
	m := newTestManager(t)
	cfg := &handshake.ProtocolConfig{
		PinchBps:         200,
		TreasuryShareBps: 5000,
		KeepersShareBps:  3000,
		CommonsShareBps:  1000,
	}
	if err := m.ProtocolConfigPut(cfg); !errors.Is(err, handshake.ErrInvalidFeeShares) {
		t.Fatalf("want ErrInvalidFeeShares, got %v", err)
	}
}

func TestTreasuryConfigAndBatchRoundTrip(t *testing.T) {
	m := newTestManager(t)
	cfg := &treasury.Config{
		Authority:       addr(0x01),
		BatchThreshold:  big.NewInt(1_000_000),
		KeeperRewardBps: 50,
		TotalDeposited:  big.NewInt(10),
		TotalBoughtBack: big.NewInt(20),
		TotalLPAdded:    big.NewInt(30),
		BatchCount:      3,
	}
	if err := m.TreasuryConfigPut(cfg); err != nil {
		t.Fatalf("put config: %v", err)
	}
	loadedCfg, ok, err := m.TreasuryConfigGet()
	if err != nil || !ok {
		t.Fatalf("get config: ok=%v err=%v", ok, err)
	}
	if loadedCfg.BatchThreshold.Int64() != 1_000_000 || loadedCfg.BatchCount != 3 {
		t.Fatalf("config differs: %+v", loadedCfg)
	}

	batch := &treasury.BatchRecord{
		ID:              2,
		Keeper:          addr(0x05),
		Token:           "USDC",
		AmountWithdrawn: big.NewInt(1_990_000),
		KeeperReward:    big.NewInt(10_000),
		InitiatedAt:     1_700_000_000,
		Completed:       true,
		SourBoughtBack:  big.NewInt(42),
		LPTokensAdded:   big.NewInt(24),
	}
	if err := m.BatchPut(batch); err != nil {
		t.Fatalf("put batch: %v", err)
	}
	loaded, ok, err := m.BatchGet(2)
	if err != nil || !ok {
		t.Fatalf("get batch: ok=%v err=%v", ok, err)
	}
	if loaded.Keeper != batch.Keeper || loaded.Token != "USDC" {
		t.Fatalf("identity differs: %+v", loaded)
	}
	if !loaded.Completed {
		t.Fatal("completed flag lost")
	}
	if loaded.AmountWithdrawn.Int64() != 1_990_000 || loaded.KeeperReward.Int64() != 10_000 {
		t.Fatalf("amounts differ: %s/%s", loaded.AmountWithdrawn, loaded.KeeperReward)
	}
	if loaded.SourBoughtBack.Int64() != 42 || loaded.LPTokensAdded.Int64() != 24 {
		t.Fatalf("figures differ: %s/%s", loaded.SourBoughtBack, loaded.LPTokensAdded)
	}
	if loaded.InitiatedAt != batch.InitiatedAt {
		t.Fatalf("initiatedAt differs: %d", loaded.InitiatedAt)
	}

	if _, ok, err := m.BatchGet(77); err != nil || ok {
		t.Fatalf("missing batch: ok=%v err=%v", ok, err)
	}
}

func TestVaultAddressesAreDeterministicAndDistinct(t *testing.T) {
	m := newTestManager(t)

	first, err := m.HandshakeVaultAddress(1)
	if err != nil {
		t.Fatalf("vault: %v", err)
	}
	again, err := m.HandshakeVaultAddress(1)
	if err != nil {
		t.Fatalf("vault: %v", err)
	}
	if first != again {
		t.Fatal("vault derivation must be deterministic")
	}
	second, err := m.HandshakeVaultAddress(2)
	if err != nil {
		t.Fatalf("vault: %v", err)
	}
	if first == second {
		t.Fatal("distinct ids must derive distinct vaults")
	}

	usdc, err := m.TreasuryVaultAddress("USDC")
	if err != nil {
		t.Fatalf("treasury vault: %v", err)
	}
	dai, err := m.TreasuryVaultAddress("DAI")
	if err != nil {
		t.Fatalf("treasury vault: %v", err)
	}
	if usdc == dai {
		t.Fatal("distinct tokens must derive distinct vaults")
	}
	if usdc == first || usdc == second {
		t.Fatal("treasury vaults must not collide with handshake vaults")
	}
}
