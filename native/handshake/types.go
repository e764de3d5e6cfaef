package handshake

import (
	"fmt"
	"math/big"
)

// TokenSymbol is the canonical symbol of the token escrowed by every
// handshake and routed through the pinch fee destinations.
const TokenSymbol = "SOUR"

// MaxDescriptionLen bounds the work agreement description.
const MaxDescriptionLen = 280

// MaxPinchBps caps the total protocol fee at 50%.
const MaxPinchBps = 5_000

// Status represents the lifecycle states of a handshake.
type Status uint8

const (
	// StatusCreated marks a funded handshake waiting for the worker to accept.
	StatusCreated Status = iota
	// StatusAccepted marks work in progress.
	StatusAccepted
	// StatusDelivered marks delivery awaiting the creator's approval.
	StatusDelivered
	// StatusApproved is terminal: funds released with the pinch fee applied.
	StatusApproved
	// StatusDisputed marks a dispute raised by either party.
	StatusDisputed
	// StatusCancelled is terminal: cancelled by the creator before acceptance.
	StatusCancelled
	// StatusResolved is terminal: dispute settled by the authority.
	StatusResolved
	// StatusExpired is terminal and policy-relevant but never assigned by any
	// operation; automatic expiry is an unimplemented future feature.
	StatusExpired
)

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	return s <= StatusExpired
}

// Terminal reports whether the status is a permanent tombstone.
func (s Status) Terminal() bool {
	switch s {
	case StatusApproved, StatusCancelled, StatusResolved, StatusExpired:
		return true
	default:
		return false
	}
}

// String returns the lowercase wire name of the status.
func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusAccepted:
		return "accepted"
	case StatusDelivered:
		return "delivered"
	case StatusApproved:
		return "approved"
	case StatusDisputed:
		return "disputed"
	case StatusCancelled:
		return "cancelled"
	case StatusResolved:
		return "resolved"
	case StatusExpired:
		return "expired"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Ruling is the binary outcome an authority applies to a disputed handshake.
type Ruling uint8

const (
	// RulingRefund returns the full vault balance to the creator, no fee.
	RulingRefund Ruling = 0
	// RulingPayWorker releases funds to the worker with the pinch fee applied.
	RulingPayWorker Ruling = 1
)

// Valid reports whether the ruling is one of the two supported outcomes.
func (r Ruling) Valid() bool {
	return r == RulingRefund || r == RulingPayWorker
}

// Handshake captures one escrow deal between a creator and a worker. The
// sequence number is assigned from the protocol config counter and is unique
// for the lifetime of the deployment. The amount never changes after
// creation; timestamps are 0 until the corresponding transition occurs.
type Handshake struct {
	ID          uint64
	Creator     [20]byte
	Worker      [20]byte
	Amount      *big.Int
	Description string
	Status      Status
	CreatedAt   int64
	Deadline    int64
	AcceptedAt  int64
	DeliveredAt int64
	ResolvedAt  int64
	DisputedBy  [20]byte
	Vault       [20]byte
}

// Clone returns a deep copy so callers can safely mutate the copy without
// affecting the stored instance.
func (h *Handshake) Clone() *Handshake {
	if h == nil {
		return nil
	}
	clone := *h
	if h.Amount != nil {
		clone.Amount = new(big.Int).Set(h.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	return &clone
}

// Sanitize validates and normalises the supplied handshake, returning a clone
// with a non-nil amount. The original value is not mutated.
func Sanitize(h *Handshake) (*Handshake, error) {
	if h == nil {
		return nil, fmt.Errorf("nil handshake")
	}
	clone := h.Clone()
	if clone.Amount.Sign() < 0 {
		return nil, fmt.Errorf("handshake amount must be non-negative")
	}
	if len(clone.Description) > MaxDescriptionLen {
		return nil, fmt.Errorf("%w: %d characters", ErrDescriptionTooLong, len(clone.Description))
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("invalid handshake status: %d", clone.Status)
	}
	return clone, nil
}

// ProtocolConfig is the deployment-wide singleton holding fee parameters,
// the running handshake counter, and lifetime totals. Share rates always sum
// to exactly 10000 bps; the counter only increases.
type ProtocolConfig struct {
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

// Clone returns a deep copy of the config.
func (c *ProtocolConfig) Clone() *ProtocolConfig {
	if c == nil {
		return nil
	}
	clone := *c
	clone.TotalToTreasury = cloneBigInt(c.TotalToTreasury)
	clone.TotalToKeepers = cloneBigInt(c.TotalToKeepers)
	clone.TotalToCommons = cloneBigInt(c.TotalToCommons)
	return &clone
}

// Validate checks the fee parameter invariants.
func (c *ProtocolConfig) Validate() error {
	if c == nil {
		return fmt.Errorf("nil protocol config")
	}
	if c.PinchBps > MaxPinchBps {
		return fmt.Errorf("%w: %d", ErrInvalidPinchBps, c.PinchBps)
	}
	sum := uint64(c.TreasuryShareBps) + uint64(c.KeepersShareBps) + uint64(c.CommonsShareBps)
	if sum != 10_000 {
		return fmt.Errorf("%w: got %d", ErrInvalidFeeShares, sum)
	}
	return nil
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func isZeroAddress(addr [20]byte) bool {
	return addr == [20]byte{}
}
