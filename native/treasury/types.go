package treasury

import (
	"fmt"
	"math/big"
)

// MaxKeeperRewardBps caps the keeper incentive at 5%.
const MaxKeeperRewardBps = 500

// Config is the deployment-wide treasury singleton: batch trigger threshold,
// keeper incentive rate, lifetime totals, and the running batch counter.
type Config struct {
	Authority       [20]byte
	BatchThreshold  *big.Int
	KeeperRewardBps uint32
	TotalDeposited  *big.Int
	TotalBoughtBack *big.Int
	TotalLPAdded    *big.Int
	BatchCount      uint64
}

// Clone returns a deep copy of the config.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	clone.BatchThreshold = cloneBigInt(c.BatchThreshold)
	clone.TotalDeposited = cloneBigInt(c.TotalDeposited)
	clone.TotalBoughtBack = cloneBigInt(c.TotalBoughtBack)
	clone.TotalLPAdded = cloneBigInt(c.TotalLPAdded)
	return &clone
}

// Validate checks the config invariants.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("nil treasury config")
	}
	if c.KeeperRewardBps > MaxKeeperRewardBps {
		return fmt.Errorf("%w: %d", ErrInvalidKeeperReward, c.KeeperRewardBps)
	}
	if c.BatchThreshold != nil && c.BatchThreshold.Sign() < 0 {
		return fmt.Errorf("treasury: batch threshold must be non-negative")
	}
	return nil
}

// BatchRecord tracks one keeper-initiated batch for accountability. The
// completion flag transitions false to true exactly once, only by the
// recorded keeper; the reported buyback and LP figures are keeper-supplied
// and recorded without on-system verification.
type BatchRecord struct {
	ID              uint64
	Keeper          [20]byte
	Token           string
	AmountWithdrawn *big.Int
	KeeperReward    *big.Int
	InitiatedAt     int64
	Completed       bool
	SourBoughtBack  *big.Int
	LPTokensAdded   *big.Int
}

// Clone returns a deep copy of the batch record.
func (b *BatchRecord) Clone() *BatchRecord {
	if b == nil {
		return nil
	}
	clone := *b
	clone.AmountWithdrawn = cloneBigInt(b.AmountWithdrawn)
	clone.KeeperReward = cloneBigInt(b.KeeperReward)
	clone.SourBoughtBack = cloneBigInt(b.SourBoughtBack)
	clone.LPTokensAdded = cloneBigInt(b.LPTokensAdded)
	return &clone
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
