package handshake

import (
	"encoding/hex"
	"strconv"

	"sourprotocol/core/types"
)

const (
	EventTypeCreated           = "handshake.created"
	EventTypeAccepted          = "handshake.accepted"
	EventTypeDelivered         = "handshake.delivered"
	EventTypeApproved          = "handshake.approved"
	EventTypeCancelled         = "handshake.cancelled"
	EventTypeDisputed          = "handshake.disputed"
	EventTypeResolved          = "handshake.resolved"
	EventTypeConfigInitialized = "handshake.config_initialized"
)

// NewCreatedEvent returns the canonical payload for a newly created and
// funded handshake.
func NewCreatedEvent(h *Handshake) *types.Event {
	attrs := baseAttributes(h)
	if h != nil {
		attrs["description"] = h.Description
		attrs["deadline"] = strconv.FormatInt(h.Deadline, 10)
		attrs["createdAt"] = strconv.FormatInt(h.CreatedAt, 10)
	}
	return &types.Event{Type: EventTypeCreated, Attributes: attrs}
}

// NewAcceptedEvent returns the payload emitted when the worker accepts.
func NewAcceptedEvent(h *Handshake) *types.Event {
	attrs := baseAttributes(h)
	if h != nil {
		attrs["acceptedAt"] = strconv.FormatInt(h.AcceptedAt, 10)
	}
	return &types.Event{Type: EventTypeAccepted, Attributes: attrs}
}

// NewDeliveredEvent returns the payload emitted when work is delivered.
func NewDeliveredEvent(h *Handshake) *types.Event {
	attrs := baseAttributes(h)
	if h != nil {
		attrs["deliveredAt"] = strconv.FormatInt(h.DeliveredAt, 10)
	}
	return &types.Event{Type: EventTypeDelivered, Attributes: attrs}
}

// NewApprovedEvent returns the payload emitted on release, carrying the full
// pinch fee breakdown for indexers.
func NewApprovedEvent(h *Handshake, split SplitResult) *types.Event {
	attrs := baseAttributes(h)
	if h != nil {
		attrs["resolvedAt"] = strconv.FormatInt(h.ResolvedAt, 10)
	}
	addSplitAttributes(attrs, split)
	return &types.Event{Type: EventTypeApproved, Attributes: attrs}
}

// NewCancelledEvent returns the payload emitted when the creator cancels
// before acceptance.
func NewCancelledEvent(h *Handshake) *types.Event {
	attrs := baseAttributes(h)
	if h != nil {
		attrs["resolvedAt"] = strconv.FormatInt(h.ResolvedAt, 10)
	}
	return &types.Event{Type: EventTypeCancelled, Attributes: attrs}
}

// NewDisputedEvent returns the payload emitted when a dispute is raised.
func NewDisputedEvent(h *Handshake) *types.Event {
	attrs := baseAttributes(h)
	if h != nil && !isZeroAddress(h.DisputedBy) {
		attrs["disputedBy"] = hex.EncodeToString(h.DisputedBy[:])
	}
	return &types.Event{Type: EventTypeDisputed, Attributes: attrs}
}

// NewResolvedEvent returns the payload emitted when the authority settles a
// dispute. The split carries zero values for a refund ruling.
func NewResolvedEvent(h *Handshake, ruling Ruling, split SplitResult) *types.Event {
	attrs := baseAttributes(h)
	attrs["ruling"] = strconv.FormatUint(uint64(ruling), 10)
	if h != nil {
		attrs["resolvedAt"] = strconv.FormatInt(h.ResolvedAt, 10)
	}
	if ruling == RulingPayWorker {
		addSplitAttributes(attrs, split)
	}
	return &types.Event{Type: EventTypeResolved, Attributes: attrs}
}

// NewConfigInitializedEvent returns the payload emitted once at deployment
// when the protocol config is created.
func NewConfigInitializedEvent(cfg *ProtocolConfig) *types.Event {
	attrs := make(map[string]string)
	if cfg != nil {
		attrs["authority"] = hex.EncodeToString(cfg.Authority[:])
		attrs["pinchBps"] = strconv.FormatUint(uint64(cfg.PinchBps), 10)
		attrs["treasuryShareBps"] = strconv.FormatUint(uint64(cfg.TreasuryShareBps), 10)
		attrs["keepersShareBps"] = strconv.FormatUint(uint64(cfg.KeepersShareBps), 10)
		attrs["commonsShareBps"] = strconv.FormatUint(uint64(cfg.CommonsShareBps), 10)
	}
	return &types.Event{Type: EventTypeConfigInitialized, Attributes: attrs}
}

func baseAttributes(h *Handshake) map[string]string {
	attrs := make(map[string]string)
	if h == nil {
		return attrs
	}
	attrs["id"] = strconv.FormatUint(h.ID, 10)
	attrs["creator"] = hex.EncodeToString(h.Creator[:])
	attrs["worker"] = hex.EncodeToString(h.Worker[:])
	if h.Amount != nil {
		attrs["amount"] = h.Amount.String()
	}
	attrs["status"] = h.Status.String()
	return attrs
}

func addSplitAttributes(attrs map[string]string, split SplitResult) {
	if split.PinchTotal != nil {
		attrs["pinchTotal"] = split.PinchTotal.String()
	}
	if split.Worker != nil {
		attrs["toWorker"] = split.Worker.String()
	}
	if split.Treasury != nil {
		attrs["toTreasury"] = split.Treasury.String()
	}
	if split.Keepers != nil {
		attrs["toKeepers"] = split.Keepers.String()
	}
	if split.Commons != nil {
		attrs["toCommons"] = split.Commons.String()
	}
}
