package scratchcard

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/scoredesk/scoredesk-api/internal/pkg/logger"
)

// Routing keys on the audit exchange.
const (
	EventRedeemed = "scratchcard.redeemed"
	EventRejected = "scratchcard.rejected"
	EventIssued   = "scratchcard.issued"
	EventDisabled = "scratchcard.disabled"
	EventExpired  = "scratchcard.expired"
)

const publishTimeout = 2 * time.Second

// RedemptionEvent never carries the PIN.
type RedemptionEvent struct {
	Event        string     `json:"event"`
	CardID       *uuid.UUID `json:"card_id,omitempty"`
	SerialNumber string     `json:"serial_number,omitempty"`
	Reason       Reason     `json:"reason,omitempty"`
	UsageCount   int        `json:"usage_count,omitempty"`
	MaxUsage     int        `json:"max_usage,omitempty"`
	RequestedBy  *uuid.UUID `json:"requested_by,omitempty"`
	StudentID    *string    `json:"student_id,omitempty"`
	TermID       *string    `json:"term_id,omitempty"`
	OccurredAt   time.Time  `json:"occurred_at"`
}

type StateEvent struct {
	Event        string    `json:"event"`
	CardID       uuid.UUID `json:"card_id"`
	SerialNumber string    `json:"serial_number"`
	Reason       string    `json:"reason,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

type IssuedEvent struct {
	Event      string      `json:"event"`
	BatchID    *uuid.UUID  `json:"batch_id,omitempty"`
	CardIDs    []uuid.UUID `json:"card_ids"`
	Count      int         `json:"count"`
	OccurredAt time.Time   `json:"occurred_at"`
}

type ExpiredEvent struct {
	Event      string      `json:"event"`
	CardIDs    []uuid.UUID `json:"card_ids"`
	Count      int         `json:"count"`
	OccurredAt time.Time   `json:"occurred_at"`
}

func newRedemptionEvent(name string, card *ScratchCard, rc RedeemContext, reason Reason, now time.Time) RedemptionEvent {
	ev := RedemptionEvent{
		Event:       name,
		Reason:      reason,
		RequestedBy: rc.RequestingUserID,
		StudentID:   rc.StudentID,
		TermID:      rc.TermID,
		OccurredAt:  now,
	}
	if card != nil {
		id := card.ID
		ev.CardID = &id
		ev.SerialNumber = card.SerialNumber
		ev.UsageCount = card.UsageCount
		ev.MaxUsage = card.MaxUsage
	}
	return ev
}

// publish runs after the state change is committed. Failures are logged
// and do not change the outcome.
func (s *Service) publish(ctx context.Context, routingKey string, body interface{}) {
	if s.events == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := s.events.Publish(ctx, routingKey, body); err != nil {
		logger.LogError(ctx, err, "Failed to publish card event", "routing_key", routingKey)
	}
}
