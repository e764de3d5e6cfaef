package handshake

import (
	"errors"
	"math/big"
	"testing"
)

func TestSplitStandardRates(t *testing.T) {
	split, err := Split(big.NewInt(1_000_000), 200, 5000, 3000, 2000)
	if err != nil {
		t.Fatalf("split failed: %v", err)
	}
	if got := split.PinchTotal.Int64(); got != 20_000 {
		t.Fatalf("pinch total: want 20000, got %d", got)
	}
	if got := split.Treasury.Int64(); got != 10_000 {
		t.Fatalf("treasury share: want 10000, got %d", got)
	}
	if got := split.Keepers.Int64(); got != 6_000 {
		t.Fatalf("keepers share: want 6000, got %d", got)
	}
	if got := split.Commons.Int64(); got != 4_000 {
		t.Fatalf("commons share: want 4000, got %d", got)
	}
	if got := split.Worker.Int64(); got != 980_000 {
		t.Fatalf("worker payout: want 980000, got %d", got)
	}
}

func TestSplitTinyAmountAllToWorker(t *testing.T) {
	split, err := Split(big.NewInt(7), 200, 5000, 3000, 2000)
	if err != nil {
		t.Fatalf("split failed: %v", err)
	}
	if split.PinchTotal.Sign() != 0 {
		t.Fatalf("pinch total: want 0, got %s", split.PinchTotal)
	}
	if split.Treasury.Sign() != 0 || split.Keepers.Sign() != 0 || split.Commons.Sign() != 0 {
		t.Fatalf("fee shares should all be zero: %s/%s/%s", split.Treasury, split.Keepers, split.Commons)
	}
	if got := split.Worker.Int64(); got != 7 {
		t.Fatalf("worker payout: want 7, got %d", got)
	}
}

func TestSplitSumInvariant(t *testing.T) {
	amounts := []int64{1, 3, 99, 10_001, 123_457, 999_999_999}
	for _, amount := range amounts {
		split, err := Split(big.NewInt(amount), 333, 4999, 3333, 1668)
		if err != nil {
			t.Fatalf("split %d failed: %v", amount, err)
		}
		sum := new(big.Int).Add(split.Worker, split.Treasury)
		sum.Add(sum, split.Keepers)
		sum.Add(sum, split.Commons)
		if sum.Cmp(big.NewInt(amount)) != 0 {
			t.Fatalf("amount %d: components sum to %s", amount, sum)
		}
		shareSum := new(big.Int).Add(split.Treasury, split.Keepers)
		shareSum.Add(shareSum, split.Commons)
		if shareSum.Cmp(split.PinchTotal) != 0 {
			t.Fatalf("amount %d: shares sum %s != pinch %s", amount, shareSum, split.PinchTotal)
		}
	}
}

func TestSplitCommonsAbsorbsDust(t *testing.T) {
	// 101 * 9999 / 10000 floors to 100; treasury and keepers each floor,
	// commons takes whatever is left.
	split, err := Split(big.NewInt(101), 5000, 3333, 3333, 3334)
	if err != nil {
		t.Fatalf("split failed: %v", err)
	}
	pinch := split.PinchTotal.Int64()
	if pinch != 50 {
		t.Fatalf("pinch total: want 50, got %d", pinch)
	}
	expectedCommons := pinch - split.Treasury.Int64() - split.Keepers.Int64()
	if got := split.Commons.Int64(); got != expectedCommons {
		t.Fatalf("commons share: want %d, got %d", expectedCommons, got)
	}
}

func TestSplitRejectsBadParameters(t *testing.T) {
	cases := []struct {
		name    string
		amount  *big.Int
		pinch   uint32
		shares  [3]uint32
		wantErr error
	}{
		{"nil amount", nil, 200, [3]uint32{5000, 3000, 2000}, ErrMathOverflow},
		{"negative amount", big.NewInt(-5), 200, [3]uint32{5000, 3000, 2000}, ErrMathOverflow},
		{"amount above range", new(big.Int).Add(new(big.Int).SetUint64(^uint64(0)), big.NewInt(1)), 200, [3]uint32{5000, 3000, 2000}, ErrMathOverflow},
		{"pinch above cap", big.NewInt(100), MaxPinchBps + 1, [3]uint32{5000, 3000, 2000}, ErrInvalidPinchBps},
		{"shares under 10000", big.NewInt(100), 200, [3]uint32{5000, 3000, 1000}, ErrInvalidFeeShares},
		{"shares over 10000", big.NewInt(100), 200, [3]uint32{5000, 3000, 3000}, ErrInvalidFeeShares},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Split(tc.amount, tc.pinch, tc.shares[0], tc.shares[1], tc.shares[2])
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("want %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestSplitMaxPinchAtCap(t *testing.T) {
	split, err := Split(big.NewInt(1000), MaxPinchBps, 5000, 3000, 2000)
	if err != nil {
		t.Fatalf("split failed: %v", err)
	}
	if got := split.PinchTotal.Int64(); got != 500 {
		t.Fatalf("pinch total at cap: want 500, got %d", got)
	}
	if got := split.Worker.Int64(); got != 500 {
		t.Fatalf("worker payout at cap: want 500, got %d", got)
	}
}

func TestSplitFullAmountAtUint64Max(t *testing.T) {
	max := new(big.Int).SetUint64(^uint64(0))
	split, err := Split(max, 200, 5000, 3000, 2000)
	if err != nil {
		t.Fatalf("split failed: %v", err)
	}
	sum := new(big.Int).Add(split.Worker, split.PinchTotal)
	if sum.Cmp(max) != 0 {
		t.Fatalf("worker + pinch != amount at boundary: %s", sum)
	}
}
