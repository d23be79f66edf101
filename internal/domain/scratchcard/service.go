package scratchcard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/scoredesk/scoredesk-api/internal/pkg/logger"
	"github.com/scoredesk/scoredesk-api/internal/pkg/storage"
)

const (
	defaultSerialPrefix = "SD"
	maxBatchSize        = 1000
	issueAttempts       = 3

	defaultListLimit = 50
	maxListLimit     = 200
)

// Publisher is the audit-event sink.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, body interface{}) error
}

// Service is the card redemption engine plus its administrative
// operations. It keeps no card state between calls.
type Service struct {
	store     Store
	events    Publisher
	manifests storage.Storage
	policy    Policy
	now       func() time.Time
	newPin    func() (string, error)
}

// NewService wires the engine. events and manifests may be nil.
func NewService(store Store, events Publisher, manifests storage.Storage, policy Policy) *Service {
	return &Service{
		store:     store,
		events:    events,
		manifests: manifests,
		policy:    policy,
		now:       time.Now,
		newPin:    generatePin,
	}
}

// Redeem consumes one use of the card identified by pin.
//
// Refusals are returned as a result with Success false and a nil error.
// A non-nil error wraps ErrStoreUnavailable and means the outcome is
// unknown; no card was partially changed.
func (s *Service) Redeem(ctx context.Context, pin string, rc RedeemContext) (*RedemptionResult, error) {
	pin = strings.TrimSpace(pin)
	if pin == "" {
		return rejected(ReasonNotFound), nil
	}
	now := s.now().UTC()

	card, err := s.store.Redeem(ctx, RedeemParams{Pin: pin, Context: rc, Policy: s.policy, Now: now})
	if err == nil {
		res := redeemed(card)
		logger.LogInfo(ctx, "Scratch card redeemed",
			"card_id", card.ID.String(),
			"serial_number", card.SerialNumber,
			"usage_count", card.UsageCount,
			"max_usage", card.MaxUsage,
		)
		s.publish(ctx, EventRedeemed, newRedemptionEvent(EventRedeemed, card, rc, "", now))
		return res, nil
	}
	if !errors.Is(err, errNotRedeemable) {
		logger.LogError(ctx, err, "Scratch card redemption failed")
		return nil, storeError(err)
	}

	reason, card, err := s.classify(ctx, pin, rc, now)
	if err != nil {
		logger.LogError(ctx, err, "Scratch card refusal lookup failed")
		return nil, storeError(err)
	}

	fields := []interface{}{"reason", string(reason)}
	if card != nil {
		fields = append(fields, "serial_number", card.SerialNumber, "usage_count", card.UsageCount)
	}
	logger.LogWarn(ctx, "Scratch card redemption refused", fields...)
	s.publish(ctx, EventRejected, newRedemptionEvent(EventRejected, card, rc, reason, now))

	return rejected(reason), nil
}

// classify explains a conditional update that matched nothing. The read
// only labels the refusal; it never decides whether a use is granted.
func (s *Service) classify(ctx context.Context, pin string, rc RedeemContext, now time.Time) (Reason, *ScratchCard, error) {
	card, err := s.store.FindByPin(ctx, pin)
	if errors.Is(err, ErrCardNotFound) {
		return ReasonNotFound, nil, nil
	}
	if err != nil {
		return "", nil, err
	}
	if reason := s.policy.Check(card, rc, now); reason != "" {
		return reason, card, nil
	}
	// Counts only grow and terminal states are final, so a card that reads
	// redeemable here lost a race for its last use.
	return ReasonUsageLimitExceeded, card, nil
}

func storeError(err error) error {
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

// Peek reports the card's state without changing it.
func (s *Service) Peek(ctx context.Context, pin string) (*CardSummary, error) {
	pin = strings.TrimSpace(pin)
	if pin == "" {
		return nil, ErrCardNotFound
	}
	card, err := s.store.FindByPin(ctx, pin)
	if err != nil {
		return nil, err
	}
	summary := Summarize(card, s.now().UTC())
	return &summary, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*CardSummary, error) {
	card, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	summary := Summarize(card, s.now().UTC())
	return &summary, nil
}

// CardPage is one window of List results.
type CardPage struct {
	Cards  []CardSummary
	Total  int
	Limit  int
	Offset int
}

func (s *Service) List(ctx context.Context, f CardFilter) (*CardPage, error) {
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	cards, total, err := s.store.List(ctx, f)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	page := &CardPage{Cards: make([]CardSummary, 0, len(cards)), Total: total, Limit: f.Limit, Offset: f.Offset}
	for i := range cards {
		page.Cards = append(page.Cards, Summarize(&cards[i], now))
	}
	return page, nil
}

// History lists every recorded use of the card, oldest first.
func (s *Service) History(ctx context.Context, id uuid.UUID) ([]Redemption, error) {
	if _, err := s.store.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListRedemptions(ctx, id)
}

func validateDefinition(amount decimal.Decimal, maxUsage int, expiresAt *time.Time, now time.Time) (int, error) {
	if amount.IsNegative() {
		return 0, fmt.Errorf("%w: amount must not be negative", ErrInvalidCard)
	}
	if maxUsage < 0 {
		return 0, fmt.Errorf("%w: max_usage must be positive", ErrInvalidCard)
	}
	if maxUsage == 0 {
		maxUsage = 1
	}
	if expiresAt != nil && !expiresAt.After(now) {
		return 0, fmt.Errorf("%w: expires_at must be in the future", ErrInvalidCard)
	}
	return maxUsage, nil
}

func newCard(pin, serial string, batchID uuid.NullUUID, amount decimal.Decimal, maxUsage int, termID *string, expiresAt *time.Time, now time.Time) *ScratchCard {
	return &ScratchCard{
		ID:           uuid.New(),
		Pin:          pin,
		SerialNumber: serial,
		BatchID:      batchID,
		Amount:       amount,
		Status:       StatusActive,
		MaxUsage:     maxUsage,
		TermID:       termID,
		ExpiresAt:    expiresAt,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Issue creates one Active card. A blank PIN or serial is generated.
func (s *Service) Issue(ctx context.Context, in NewCard) (*IssuedCard, error) {
	now := s.now().UTC()
	maxUsage, err := validateDefinition(in.Amount, in.MaxUsage, in.ExpiresAt, now)
	if err != nil {
		return nil, err
	}

	pin := strings.TrimSpace(in.Pin)
	generated := pin == ""

	var card *ScratchCard
	for attempt := 0; attempt < issueAttempts; attempt++ {
		if generated {
			if pin, err = s.newPin(); err != nil {
				return nil, err
			}
		}
		card = newCard(pin, strings.TrimSpace(in.SerialNumber), uuid.NullUUID{}, in.Amount, maxUsage, in.TermID, in.ExpiresAt, now)
		if card.SerialNumber == "" {
			card.SerialNumber = singleSerial(defaultSerialPrefix, card.ID)
		}

		err = s.store.Create(ctx, []*ScratchCard{card})
		if !(generated && errors.Is(err, ErrDuplicatePin)) {
			break
		}
	}
	if err != nil {
		return nil, err
	}

	issued := IssuedCard{CardSummary: Summarize(card, now), Pin: card.Pin}
	logger.LogInfo(ctx, "Scratch card issued", "serial_number", card.SerialNumber)
	s.publish(ctx, EventIssued, IssuedEvent{
		Event:      EventIssued,
		CardIDs:    []uuid.UUID{card.ID},
		Count:      1,
		OccurredAt: now,
	})
	return &issued, nil
}

// IssueBatch creates Count cards sharing a batch id in one transaction
// and stores the batch manifest.
func (s *Service) IssueBatch(ctx context.Context, in NewBatch) (*BatchResult, error) {
	if in.Count < 1 || in.Count > maxBatchSize {
		return nil, fmt.Errorf("%w: count must be between 1 and %d", ErrInvalidBatch, maxBatchSize)
	}
	prefix, ok := normalizePrefix(in.SerialPrefix)
	if !ok {
		return nil, fmt.Errorf("%w: serial_prefix must be alphanumeric", ErrInvalidBatch)
	}
	now := s.now().UTC()
	maxUsage, err := validateDefinition(in.Amount, in.MaxUsage, in.ExpiresAt, now)
	if err != nil {
		return nil, err
	}

	batchID := uuid.New()
	batch := uuid.NullUUID{UUID: batchID, Valid: true}

	var cards []*ScratchCard
	for attempt := 0; attempt < issueAttempts; attempt++ {
		cards = make([]*ScratchCard, 0, in.Count)
		for i := 1; i <= in.Count; i++ {
			pin, err := s.newPin()
			if err != nil {
				return nil, err
			}
			cards = append(cards, newCard(pin, batchSerial(prefix, batchID, i), batch, in.Amount, maxUsage, in.TermID, in.ExpiresAt, now))
		}
		err = s.store.Create(ctx, cards)
		if !errors.Is(err, ErrDuplicatePin) {
			break
		}
	}
	if err != nil {
		return nil, err
	}

	result := &BatchResult{BatchID: batchID, Count: len(cards), Cards: make([]IssuedCard, 0, len(cards))}
	ids := make([]uuid.UUID, 0, len(cards))
	for _, c := range cards {
		result.Cards = append(result.Cards, IssuedCard{CardSummary: Summarize(c, now), Pin: c.Pin})
		ids = append(ids, c.ID)
	}

	url, err := s.uploadManifest(ctx, batchID, result.Cards)
	if err != nil {
		logger.LogError(ctx, err, "Failed to store batch manifest", "batch_id", batchID.String())
	}
	result.ManifestURL = url

	logger.LogInfo(ctx, "Scratch card batch issued", "batch_id", batchID.String(), "count", len(cards))
	s.publish(ctx, EventIssued, IssuedEvent{
		Event:      EventIssued,
		BatchID:    &batchID,
		CardIDs:    ids,
		Count:      len(ids),
		OccurredAt: now,
	})
	return result, nil
}

// Disable moves an Active card to Disabled. Terminal cards are left as
// they are and ErrCardNotActive is returned.
func (s *Service) Disable(ctx context.Context, id uuid.UUID, reason string) (*CardSummary, error) {
	now := s.now().UTC()
	card, err := s.store.Disable(ctx, id, optionalString(reason), now)
	if err != nil {
		return nil, err
	}

	logger.LogInfo(ctx, "Scratch card disabled", "serial_number", card.SerialNumber)
	s.publish(ctx, EventDisabled, StateEvent{
		Event:        EventDisabled,
		CardID:       card.ID,
		SerialNumber: card.SerialNumber,
		Reason:       reason,
		OccurredAt:   now,
	})
	summary := Summarize(card, now)
	return &summary, nil
}

// ExpireDue runs the expiry sweep once and returns how many cards moved
// to Expired.
func (s *Service) ExpireDue(ctx context.Context) (int, error) {
	now := s.now().UTC()
	ids, err := s.store.ExpireDue(ctx, now)
	if err != nil {
		return 0, err
	}
	if len(ids) > 0 {
		s.publish(ctx, EventExpired, ExpiredEvent{
			Event:      EventExpired,
			CardIDs:    ids,
			Count:      len(ids),
			OccurredAt: now,
		})
	}
	return len(ids), nil
}
