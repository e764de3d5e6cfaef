package handshake

import (
	"fmt"
	"math/big"
)

var (
	bpsDenominator = big.NewInt(10_000)
	maxAmount      = new(big.Int).SetUint64(^uint64(0))
)

// SplitResult is the four-way division of an escrow amount on release. The
// invariant Worker + Treasury + Keepers + Commons == amount holds exactly;
// the commons share absorbs all rounding dust so no unit is left unspent.
type SplitResult struct {
	Worker     *big.Int
	Treasury   *big.Int
	Keepers    *big.Int
	Commons    *big.Int
	PinchTotal *big.Int
}

// Split computes the pinch fee and its three shares for the supplied amount.
// All division is floor division. Intermediate products are exact (big.Int),
// and every component is checked against the uint64 amount domain; a result
// outside that range aborts with ErrMathOverflow rather than wrapping.
func Split(amount *big.Int, pinchBps, treasuryBps, keepersBps, commonsBps uint32) (SplitResult, error) {
	if amount == nil || amount.Sign() < 0 {
		return SplitResult{}, fmt.Errorf("%w: amount must be non-negative", ErrMathOverflow)
	}
	if amount.Cmp(maxAmount) > 0 {
		return SplitResult{}, fmt.Errorf("%w: amount exceeds supported range", ErrMathOverflow)
	}
	if pinchBps > MaxPinchBps {
		return SplitResult{}, fmt.Errorf("%w: %d", ErrInvalidPinchBps, pinchBps)
	}
	if uint64(treasuryBps)+uint64(keepersBps)+uint64(commonsBps) != 10_000 {
		return SplitResult{}, fmt.Errorf("%w", ErrInvalidFeeShares)
	}

	pinchTotal := mulDivBps(amount, pinchBps)
	treasury := mulDivBps(pinchTotal, treasuryBps)
	keepers := mulDivBps(pinchTotal, keepersBps)

	// The last share takes the remainder, keeping the sum invariant exact
	// regardless of rounding loss in the first two shares.
	commons := new(big.Int).Sub(pinchTotal, treasury)
	commons.Sub(commons, keepers)
	if commons.Sign() < 0 {
		return SplitResult{}, fmt.Errorf("%w: share remainder negative", ErrMathOverflow)
	}

	worker := new(big.Int).Sub(amount, pinchTotal)
	if worker.Sign() < 0 {
		return SplitResult{}, fmt.Errorf("%w: pinch exceeds amount", ErrMathOverflow)
	}

	result := SplitResult{
		Worker:     worker,
		Treasury:   treasury,
		Keepers:    keepers,
		Commons:    commons,
		PinchTotal: pinchTotal,
	}
	for _, part := range []*big.Int{worker, treasury, keepers, commons, pinchTotal} {
		if part.Cmp(maxAmount) > 0 {
			return SplitResult{}, fmt.Errorf("%w: split component exceeds supported range", ErrMathOverflow)
		}
	}
	return result, nil
}

// mulDivBps returns floor(value * bps / 10000) without intermediate overflow.
func mulDivBps(value *big.Int, bps uint32) *big.Int {
	out := new(big.Int).Mul(value, big.NewInt(int64(bps)))
	return out.Div(out, bpsDenominator)
}
