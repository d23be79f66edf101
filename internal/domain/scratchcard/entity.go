package scratchcard

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/scoredesk/scoredesk-api/internal/domain/term"
)

// Status is the lifecycle state of a card. Active is the only state that
// accepts redemptions; the rest are terminal.
type Status string

const (
	StatusActive   Status = "Active"
	StatusUsed     Status = "Used"
	StatusExpired  Status = "Expired"
	StatusDisabled Status = "Disabled"
)

func (s Status) IsTerminal() bool {
	return s == StatusUsed || s == StatusExpired || s == StatusDisabled
}

// ScratchCard is a pre-issued PIN credential.
type ScratchCard struct {
	ID               uuid.UUID       `db:"id"`
	Pin              string          `db:"pin"`
	SerialNumber     string          `db:"serial_number"`
	BatchID          uuid.NullUUID   `db:"batch_id"`
	Amount           decimal.Decimal `db:"amount"`
	Status           Status          `db:"status"`
	MaxUsage         int             `db:"max_usage"`
	UsageCount       int             `db:"usage_count"`
	TermID           *string         `db:"term_id"`
	UsedBy           *uuid.UUID      `db:"used_by"`
	UsedForStudentID *string         `db:"used_for_student_id"`
	UsedAt           *time.Time      `db:"used_at"`
	ExpiresAt        *time.Time      `db:"expires_at"`
	DisabledReason   *string         `db:"disabled_reason"`
	CreatedAt        time.Time       `db:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at"`

	// TermEndDate is the end of the bound term. Only lookups that join
	// terms fill it.
	TermEndDate *time.Time `db:"term_end_date"`
}

func (c *ScratchCard) RemainingUses() int {
	if r := c.MaxUsage - c.UsageCount; r > 0 {
		return r
	}
	return 0
}

// DateExpired reports whether the card's expiry date has passed at now.
func (c *ScratchCard) DateExpired(now time.Time) bool {
	return c.ExpiresAt != nil && !c.ExpiresAt.After(now)
}

// TermEnded reports whether the bound term finished before the day of now.
func (c *ScratchCard) TermEnded(now time.Time) bool {
	if c.TermEndDate == nil {
		return false
	}
	t := term.Term{EndDate: *c.TermEndDate}
	return t.HasEnded(now)
}

// Expired reports whether an Active card is past its expiry date or its
// term.
func (c *ScratchCard) Expired(now time.Time) bool {
	return c.DateExpired(now) || c.TermEnded(now)
}

// Redemption is one consumed use of a card.
type Redemption struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	CardID      uuid.UUID  `db:"card_id" json:"card_id"`
	UsageNumber int        `db:"usage_number" json:"usage_number"`
	RequestedBy *uuid.UUID `db:"requested_by" json:"requested_by,omitempty"`
	StudentID   *string    `db:"student_id" json:"student_id,omitempty"`
	TermID      *string    `db:"term_id" json:"term_id,omitempty"`
	RedeemedAt  time.Time  `db:"redeemed_at" json:"redeemed_at"`
}

// RedeemContext identifies who is redeeming, for whom and for which term.
// Every field is optional.
type RedeemContext struct {
	RequestingUserID *uuid.UUID
	StudentID        *string
	TermID           *string
}

// Policy settles how optional context is matched against a card.
type Policy struct {
	// AllowUnscopedTerm lets a request without a term redeem a term-bound card.
	AllowUnscopedTerm bool
	// BindStudentOnFirstUse locks a multi-use card to the first student it
	// was redeemed for. Without it the last student is recorded.
	BindStudentOnFirstUse bool
}

// DefaultPolicy is the strict policy.
func DefaultPolicy() Policy {
	return Policy{BindStudentOnFirstUse: true}
}

// Check returns the first reason the card cannot be redeemed under rc, or
// the empty Reason when it can. The order matches the documented
// precedence: status, term, student, then usage count.
func (p Policy) Check(c *ScratchCard, rc RedeemContext, now time.Time) Reason {
	switch c.Status {
	case StatusActive:
	case StatusUsed:
		return ReasonAlreadyUsed
	case StatusExpired:
		return ReasonExpired
	case StatusDisabled:
		return ReasonDisabled
	default:
		return ReasonDisabled
	}
	if c.Expired(now) {
		return ReasonExpired
	}

	if c.TermID != nil {
		if rc.TermID == nil {
			if !p.AllowUnscopedTerm {
				return ReasonTermMismatch
			}
		} else if *rc.TermID != *c.TermID {
			return ReasonTermMismatch
		}
	}

	if p.BindStudentOnFirstUse && c.UsedForStudentID != nil {
		if rc.StudentID == nil || *rc.StudentID != *c.UsedForStudentID {
			return ReasonStudentMismatch
		}
	}

	if c.UsageCount >= c.MaxUsage {
		return ReasonUsageLimitExceeded
	}
	return ""
}
