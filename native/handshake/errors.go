package handshake

import "errors"

// Lifecycle and guard errors surfaced by the engine. Callers are expected to
// programmatically distinguish kinds with errors.Is; the engine wraps these
// with contextual detail but never replaces them.
var (
	// ErrInvalidStatus signals an operation invoked against a handshake that
	// is not in the required status.
	ErrInvalidStatus = errors.New("handshake: not in the expected status for this operation")

	// ErrNotCreator signals the caller is not the recorded creator.
	ErrNotCreator = errors.New("handshake: only the creator can perform this action")

	// ErrNotWorker signals the caller is not the recorded worker.
	ErrNotWorker = errors.New("handshake: only the assigned worker can perform this action")

	// ErrNotParticipant signals the caller is neither creator nor worker.
	ErrNotParticipant = errors.New("handshake: only the creator or worker can perform this action")

	// ErrNotAuthority signals the caller is not the protocol authority.
	ErrNotAuthority = errors.New("handshake: only the protocol authority can perform this action")

	// ErrSelfHandshake signals the worker address equals the creator address.
	ErrSelfHandshake = errors.New("handshake: worker cannot be the same as the creator")

	// ErrZeroAmount signals a zero or negative escrow amount.
	ErrZeroAmount = errors.New("handshake: escrow amount must be greater than zero")

	// ErrDescriptionTooLong signals a description over the 280 character cap.
	ErrDescriptionTooLong = errors.New("handshake: description is too long")

	// ErrDeadlineInPast signals a deadline at or before the current time.
	ErrDeadlineInPast = errors.New("handshake: deadline must be in the future")

	// ErrHandshakeExpired signals an accept attempted past the deadline.
	ErrHandshakeExpired = errors.New("handshake: expired past its deadline")

	// ErrDeadlineNotReached is reserved for a deadline-based claim path; no
	// current operation returns it.
	ErrDeadlineNotReached = errors.New("handshake: deadline has not yet passed")

	// ErrInvalidFeeShares signals share rates that do not sum to 10000 bps.
	ErrInvalidFeeShares = errors.New("handshake: fee shares must sum to 10000 basis points")

	// ErrInvalidPinchBps signals a pinch fee outside 0..5000 bps.
	ErrInvalidPinchBps = errors.New("handshake: pinch fee basis points must be between 0 and 5000")

	// ErrInsufficientEscrow is reserved for vault balance shortfalls surfaced
	// by the transfer capability.
	ErrInsufficientEscrow = errors.New("handshake: insufficient escrow balance for transfer")

	// ErrInvalidRuling signals a dispute ruling other than refund or pay-worker.
	ErrInvalidRuling = errors.New("handshake: invalid dispute ruling")

	// ErrMathOverflow signals an arithmetic result outside the supported range.
	// Overflow always aborts the operation; amounts never wrap or saturate.
	ErrMathOverflow = errors.New("handshake: arithmetic overflow in fee calculation")

	// ErrNotInitialized signals the protocol config has not been created yet.
	ErrNotInitialized = errors.New("handshake: protocol config not initialised")

	// ErrAlreadyInitialized signals a repeated config initialisation.
	ErrAlreadyInitialized = errors.New("handshake: protocol config already initialised")

	// ErrNotFound signals an unknown handshake identifier.
	ErrNotFound = errors.New("handshake: not found")
)
