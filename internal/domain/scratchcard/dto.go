package scratchcard

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RedeemRequest is the body of the redeem endpoint.
type RedeemRequest struct {
	Pin       string `json:"pin" validate:"notblank,max=64"`
	StudentID string `json:"student_id" validate:"max=64"`
	TermID    string `json:"term_id" validate:"max=64"`
}

// UnlockRequest is the body of the result-unlock endpoint. The student is
// required; the term defaults to the current one.
type UnlockRequest struct {
	Pin       string `json:"pin" validate:"notblank,max=64"`
	StudentID string `json:"student_id" validate:"notblank,max=64"`
	TermID    string `json:"term_id" validate:"max=64"`
}

type PeekRequest struct {
	Pin string `json:"pin" validate:"notblank,max=64"`
}

type IssueRequest struct {
	Pin          string          `json:"pin" validate:"max=64"`
	SerialNumber string          `json:"serial_number" validate:"max=64"`
	Amount       decimal.Decimal `json:"amount"`
	MaxUsage     int             `json:"max_usage" validate:"gte=0,lte=1000"`
	TermID       string          `json:"term_id" validate:"max=64"`
	ExpiresAt    *time.Time      `json:"expires_at"`
}

type IssueBatchRequest struct {
	Count        int             `json:"count" validate:"gte=1,lte=1000"`
	SerialPrefix string          `json:"serial_prefix" validate:"max=8"`
	Amount       decimal.Decimal `json:"amount"`
	MaxUsage     int             `json:"max_usage" validate:"gte=0,lte=1000"`
	TermID       string          `json:"term_id" validate:"max=64"`
	ExpiresAt    *time.Time      `json:"expires_at"`
}

type DisableRequest struct {
	Reason string `json:"reason" validate:"max=255"`
}

// NewCard describes one card to issue. Blank Pin or SerialNumber are
// generated.
type NewCard struct {
	Pin          string
	SerialNumber string
	Amount       decimal.Decimal
	MaxUsage     int
	TermID       *string
	ExpiresAt    *time.Time
}

// NewBatch describes Count cards sharing one definition.
type NewBatch struct {
	Count        int
	SerialPrefix string
	Amount       decimal.Decimal
	MaxUsage     int
	TermID       *string
	ExpiresAt    *time.Time
}

// CardFilter narrows List.
type CardFilter struct {
	Status  Status
	BatchID *uuid.UUID
	TermID  *string
	Serial  string
	Limit   int
	Offset  int
}

// CardSummary is a card without its PIN.
type CardSummary struct {
	ID               uuid.UUID       `json:"id"`
	SerialNumber     string          `json:"serial_number"`
	BatchID          *uuid.UUID      `json:"batch_id,omitempty"`
	Amount           decimal.Decimal `json:"amount"`
	Status           Status          `json:"status"`
	MaxUsage         int             `json:"max_usage"`
	UsageCount       int             `json:"usage_count"`
	RemainingUses    int             `json:"remaining_uses"`
	IsExpired        bool            `json:"is_expired"`
	TermID           *string         `json:"term_id,omitempty"`
	UsedBy           *uuid.UUID      `json:"used_by,omitempty"`
	UsedForStudentID *string         `json:"used_for_student_id,omitempty"`
	UsedAt           *time.Time      `json:"used_at,omitempty"`
	ExpiresAt        *time.Time      `json:"expires_at,omitempty"`
	DisabledReason   *string         `json:"disabled_reason,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

func Summarize(c *ScratchCard, now time.Time) CardSummary {
	s := CardSummary{
		ID:               c.ID,
		SerialNumber:     c.SerialNumber,
		Amount:           c.Amount,
		Status:           c.Status,
		MaxUsage:         c.MaxUsage,
		UsageCount:       c.UsageCount,
		RemainingUses:    c.RemainingUses(),
		IsExpired:        c.Status == StatusExpired || (c.Status == StatusActive && c.Expired(now)),
		TermID:           c.TermID,
		UsedBy:           c.UsedBy,
		UsedForStudentID: c.UsedForStudentID,
		UsedAt:           c.UsedAt,
		ExpiresAt:        c.ExpiresAt,
		DisabledReason:   c.DisabledReason,
		CreatedAt:        c.CreatedAt,
		UpdatedAt:        c.UpdatedAt,
	}
	if c.BatchID.Valid {
		id := c.BatchID.UUID
		s.BatchID = &id
	}
	return s
}

// IssuedCard is returned once, at issuance, and is the only view that
// carries the PIN.
type IssuedCard struct {
	CardSummary
	Pin string `json:"pin"`
}

type BatchResult struct {
	BatchID     uuid.UUID    `json:"batch_id"`
	Count       int          `json:"count"`
	ManifestURL string       `json:"manifest_url,omitempty"`
	Cards       []IssuedCard `json:"cards"`
}

// UnlockResult is the result-unlock response: the redemption outcome and
// the term it was evaluated against.
type UnlockResult struct {
	*RedemptionResult
	TermID string `json:"term_id"`
}

func optionalString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
