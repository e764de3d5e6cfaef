package treasury

import "errors"

var (
	// ErrBelowThreshold signals a batch trigger while the vault balance is
	// under the configured minimum.
	ErrBelowThreshold = errors.New("treasury: vault balance is below the batch threshold")

	// ErrBatchAlreadyCompleted signals a repeated completion report.
	ErrBatchAlreadyCompleted = errors.New("treasury: batch has already been completed")

	// ErrInvalidKeeperReward signals a keeper reward rate over 500 bps.
	ErrInvalidKeeperReward = errors.New("treasury: keeper reward basis points must be at most 500")

	// ErrZeroDeposit signals a deposit of zero or negative amount.
	ErrZeroDeposit = errors.New("treasury: deposit amount must be greater than zero")

	// ErrNotKeeper signals a completion report from someone other than the
	// keeper recorded on the batch.
	ErrNotKeeper = errors.New("treasury: only the initiating keeper can complete this batch")

	// ErrNotAuthority signals a config update by a caller other than the
	// treasury authority.
	ErrNotAuthority = errors.New("treasury: only the authority can perform this action")

	// ErrOverflow signals an arithmetic result outside the supported range.
	ErrOverflow = errors.New("treasury: arithmetic overflow")

	// ErrBatchNotFound signals an unknown batch identifier.
	ErrBatchNotFound = errors.New("treasury: batch not found")

	// ErrNotInitialized signals the treasury config has not been created yet.
	ErrNotInitialized = errors.New("treasury: config not initialised")

	// ErrAlreadyInitialized signals a repeated config initialisation.
	ErrAlreadyInitialized = errors.New("treasury: config already initialised")
)
