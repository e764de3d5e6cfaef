package treasury

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"sourprotocol/core/types"
)

const (
	EventTypeConfigInitialized = "treasury.config_initialized"
	EventTypeDeposited         = "treasury.deposited"
	EventTypeBatchInitiated    = "treasury.batch_initiated"
	EventTypeBatchCompleted    = "treasury.batch_completed"
	EventTypeConfigUpdated     = "treasury.config_updated"
)

// NewConfigInitializedEvent returns the payload emitted once at deployment.
func NewConfigInitializedEvent(cfg *Config) *types.Event {
	attrs := make(map[string]string)
	if cfg != nil {
		attrs["authority"] = hex.EncodeToString(cfg.Authority[:])
		if cfg.BatchThreshold != nil {
			attrs["batchThreshold"] = cfg.BatchThreshold.String()
		}
		attrs["keeperRewardBps"] = strconv.FormatUint(uint64(cfg.KeeperRewardBps), 10)
	}
	return &types.Event{Type: EventTypeConfigInitialized, Attributes: attrs}
}

// NewDepositedEvent returns the payload for a treasury deposit, including the
// vault balance after the deposit landed.
func NewDepositedEvent(depositor [20]byte, token string, amount, vaultBalance *big.Int) *types.Event {
	attrs := map[string]string{
		"depositor": hex.EncodeToString(depositor[:]),
		"token":     token,
	}
	if amount != nil {
		attrs["amount"] = amount.String()
	}
	if vaultBalance != nil {
		attrs["vaultBalance"] = vaultBalance.String()
	}
	return &types.Event{Type: EventTypeDeposited, Attributes: attrs}
}

// NewBatchInitiatedEvent returns the payload emitted when a keeper triggers a
// batch withdrawal.
func NewBatchInitiatedEvent(b *BatchRecord) *types.Event {
	attrs := make(map[string]string)
	if b != nil {
		attrs["batchId"] = strconv.FormatUint(b.ID, 10)
		attrs["keeper"] = hex.EncodeToString(b.Keeper[:])
		attrs["token"] = b.Token
		if b.AmountWithdrawn != nil {
			attrs["amount"] = b.AmountWithdrawn.String()
		}
		if b.KeeperReward != nil {
			attrs["keeperReward"] = b.KeeperReward.String()
		}
		attrs["initiatedAt"] = strconv.FormatInt(b.InitiatedAt, 10)
	}
	return &types.Event{Type: EventTypeBatchInitiated, Attributes: attrs}
}

// NewBatchCompletedEvent returns the payload emitted when the keeper reports
// the batch results.
func NewBatchCompletedEvent(b *BatchRecord) *types.Event {
	attrs := make(map[string]string)
	if b != nil {
		attrs["batchId"] = strconv.FormatUint(b.ID, 10)
		attrs["keeper"] = hex.EncodeToString(b.Keeper[:])
		if b.SourBoughtBack != nil {
			attrs["sourBoughtBack"] = b.SourBoughtBack.String()
		}
		if b.LPTokensAdded != nil {
			attrs["lpTokensAdded"] = b.LPTokensAdded.String()
		}
	}
	return &types.Event{Type: EventTypeBatchCompleted, Attributes: attrs}
}

// NewConfigUpdatedEvent returns the payload carrying the previous and new
// parameter values.
func NewConfigUpdatedEvent(previous, updated *Config) *types.Event {
	attrs := make(map[string]string)
	if previous != nil {
		if previous.BatchThreshold != nil {
			attrs["oldBatchThreshold"] = previous.BatchThreshold.String()
		}
		attrs["oldKeeperRewardBps"] = strconv.FormatUint(uint64(previous.KeeperRewardBps), 10)
	}
	if updated != nil {
		if updated.BatchThreshold != nil {
			attrs["newBatchThreshold"] = updated.BatchThreshold.String()
		}
		attrs["newKeeperRewardBps"] = strconv.FormatUint(uint64(updated.KeeperRewardBps), 10)
	}
	return &types.Event{Type: EventTypeConfigUpdated, Attributes: attrs}
}
