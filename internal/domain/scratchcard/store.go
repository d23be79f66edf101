package scratchcard

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RedeemParams carries everything the store needs to evaluate the
// redemption precondition itself.
type RedeemParams struct {
	Pin     string
	Context RedeemContext
	Policy  Policy
	Now     time.Time
}

// Store persists cards. Redeem must apply the precondition and the
// increment as one atomic step and return errNotRedeemable when no card
// matched; everything else about the failure is read back with FindByPin.
type Store interface {
	FindByPin(ctx context.Context, pin string) (*ScratchCard, error)
	GetByID(ctx context.Context, id uuid.UUID) (*ScratchCard, error)
	Redeem(ctx context.Context, p RedeemParams) (*ScratchCard, error)
	Create(ctx context.Context, cards []*ScratchCard) error
	Disable(ctx context.Context, id uuid.UUID, reason *string, now time.Time) (*ScratchCard, error)
	ExpireDue(ctx context.Context, now time.Time) ([]uuid.UUID, error)
	List(ctx context.Context, f CardFilter) ([]ScratchCard, int, error)
	ListRedemptions(ctx context.Context, cardID uuid.UUID) ([]Redemption, error)
}
