// Package notification carries payout events from the state machine to
// whatever transport is listening. Delivery is fire-and-forget, at most once;
// clients reconcile through the regular query endpoints.
package notification

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vendora/payouts/pkg/models"
)

// Event types published by the payout service.
const (
	EventWithdrawalCreated  = "withdrawal.created"
	EventWithdrawalStatus   = "withdrawal.status_changed"
	EventBankChangeResolved = "bank_change.resolved"
)

// Event is a single owner-scoped notification.
type Event struct {
	Type      string                  `json:"type"`
	OwnerID   uuid.UUID               `json:"owner_id"`
	RequestID uuid.UUID               `json:"request_id"`
	Status    models.WithdrawalStatus `json:"status,omitempty"`
	Amount    string                  `json:"amount,omitempty"`
	At        time.Time               `json:"at"`
}

// Relay pushes events toward connected clients.
type Relay interface {
	Publish(ownerID uuid.UUID, event Event)
}

// Broadcaster is the part of the WebSocket hub the relay needs.
type Broadcaster interface {
	Broadcast(topic string, data []byte)
}

// OwnerTopic names the per-owner event stream.
func OwnerTopic(ownerID uuid.UUID) string {
	return "owner:" + ownerID.String()
}

// HubRelay publishes events onto the WebSocket hub, one topic per owner.
type HubRelay struct {
	hub    Broadcaster
	logger *zap.Logger
}

// NewHubRelay creates a relay backed by the given hub.
func NewHubRelay(hub Broadcaster, logger *zap.Logger) *HubRelay {
	return &HubRelay{hub: hub, logger: logger}
}

// Publish serializes the event and hands it to the hub. Errors are logged and
// dropped; a missed push never fails the ledger operation that produced it.
func (r *HubRelay) Publish(ownerID uuid.UUID, event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		r.logger.Error("Failed to marshal notification event",
			zap.String("type", event.Type), zap.Error(err))
		return
	}
	r.hub.Broadcast(OwnerTopic(ownerID), data)
}

// NopRelay discards every event. Used where no transport is wired, e.g. tests.
type NopRelay struct{}

func (NopRelay) Publish(uuid.UUID, Event) {}
