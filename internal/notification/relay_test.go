package notification

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vendora/payouts/pkg/models"
)

type fakeBroadcaster struct {
	topics   []string
	payloads [][]byte
}

func (f *fakeBroadcaster) Broadcast(topic string, data []byte) {
	f.topics = append(f.topics, topic)
	f.payloads = append(f.payloads, data)
}

func TestHubRelayPublishesToOwnerTopic(t *testing.T) {
	hub := &fakeBroadcaster{}
	relay := NewHubRelay(hub, zap.NewNop())

	owner := uuid.New()
	requestID := uuid.New()
	relay.Publish(owner, Event{
		Type:      EventWithdrawalStatus,
		OwnerID:   owner,
		RequestID: requestID,
		Status:    models.WithdrawalApproved,
		Amount:    "300",
		At:        time.Now().UTC(),
	})

	if len(hub.topics) != 1 {
		t.Fatalf("expected 1 broadcast, got %d", len(hub.topics))
	}
	if hub.topics[0] != OwnerTopic(owner) {
		t.Errorf("wrong topic: got %s want %s", hub.topics[0], OwnerTopic(owner))
	}

	var decoded Event
	if err := json.Unmarshal(hub.payloads[0], &decoded); err != nil {
		t.Fatalf("payload not valid JSON: %v", err)
	}
	if decoded.Type != EventWithdrawalStatus || decoded.RequestID != requestID {
		t.Errorf("payload wrong: %+v", decoded)
	}
	if decoded.Status != models.WithdrawalApproved || decoded.Amount != "300" {
		t.Errorf("payload wrong: %+v", decoded)
	}
}

func TestOwnerTopicIsPerOwner(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	if OwnerTopic(a) == OwnerTopic(b) {
		t.Errorf("topics must differ per owner")
	}
}
