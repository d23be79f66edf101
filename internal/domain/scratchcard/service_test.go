package scratchcard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var testNow = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

type recordedEvent struct {
	key  string
	body interface{}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []recordedEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, key string, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, recordedEvent{key: key, body: body})
	return p.err
}

func (p *recordingPublisher) keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.key)
	}
	return out
}

func newTestService(t *testing.T, policy Policy) (*Service, *MemoryStore, *recordingPublisher) {
	t.Helper()
	store := NewMemoryStore()
	pub := &recordingPublisher{}
	svc := NewService(store, pub, nil, policy)
	svc.now = func() time.Time { return testNow }
	return svc, store, pub
}

type cardOption func(*ScratchCard)

func withTerm(id string) cardOption {
	return func(c *ScratchCard) { c.TermID = &id }
}

func withStatus(s Status) cardOption {
	return func(c *ScratchCard) { c.Status = s }
}

func withExpiry(at time.Time) cardOption {
	return func(c *ScratchCard) { c.ExpiresAt = &at }
}

func seedCard(t *testing.T, store *MemoryStore, pin string, maxUsage int, opts ...cardOption) *ScratchCard {
	t.Helper()
	c := newCard(pin, "SN-"+pin, uuid.NullUUID{}, decimal.NewFromInt(500), maxUsage, nil, nil, testNow.Add(-time.Hour))
	for _, opt := range opts {
		opt(c)
	}
	if err := store.Create(context.Background(), []*ScratchCard{c}); err != nil {
		t.Fatalf("seed card: %v", err)
	}
	return c
}

func strPtr(s string) *string { return &s }

func mustRedeem(t *testing.T, svc *Service, pin string, rc RedeemContext) *RedemptionResult {
	t.Helper()
	res, err := svc.Redeem(context.Background(), pin, rc)
	if err != nil {
		t.Fatalf("redeem %q: unexpected error: %v", pin, err)
	}
	return res
}

func TestRedeemSingleUseEndToEnd(t *testing.T) {
	svc, store, pub := newTestService(t, DefaultPolicy())
	card := seedCard(t, store, "ABCD-1234", 1)

	first := mustRedeem(t, svc, "ABCD-1234", RedeemContext{StudentID: strPtr("STU001")})
	if !first.Success {
		t.Fatalf("expected success, got %+v", first)
	}
	if *first.UsageCount != 1 || *first.MaxUsage != 1 || *first.RemainingUses != 0 || *first.IsExpired {
		t.Fatalf("unexpected counters: %+v", first)
	}

	stored, _ := store.GetByID(context.Background(), card.ID)
	if stored.Status != StatusUsed {
		t.Fatalf("expected status Used, got %s", stored.Status)
	}
	if stored.UsedForStudentID == nil || *stored.UsedForStudentID != "STU001" {
		t.Fatalf("expected student to be recorded, got %v", stored.UsedForStudentID)
	}

	second := mustRedeem(t, svc, "ABCD-1234", RedeemContext{StudentID: strPtr("STU001")})
	if second.Success || second.Reason != ReasonAlreadyUsed {
		t.Fatalf("expected AlreadyUsed, got %+v", second)
	}
	if second.Message != "This card has already been used." {
		t.Fatalf("unexpected message %q", second.Message)
	}

	keys := pub.keys()
	if len(keys) != 2 || keys[0] != EventRedeemed || keys[1] != EventRejected {
		t.Fatalf("unexpected events: %v", keys)
	}
}

func TestRedeemConcurrentSingleUse(t *testing.T) {
	svc, store, _ := newTestService(t, DefaultPolicy())
	card := seedCard(t, store, "RACE-0001", 1)

	const goroutines = 20

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.Redeem(context.Background(), "RACE-0001", RedeemContext{})
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if res.Success {
				mu.Lock()
				success++
				mu.Unlock()
				return
			}
			if res.Reason != ReasonAlreadyUsed && res.Reason != ReasonUsageLimitExceeded {
				t.Errorf("unexpected refusal: %s", res.Reason)
			}
		}()
	}
	wg.Wait()

	if success != 1 {
		t.Fatalf("expected exactly one success, got %d", success)
	}
	stored, _ := store.GetByID(context.Background(), card.ID)
	if stored.UsageCount != 1 {
		t.Fatalf("expected usage_count 1, got %d", stored.UsageCount)
	}
}

func TestRedeemConcurrentMultiUse(t *testing.T) {
	svc, store, _ := newTestService(t, Policy{})
	card := seedCard(t, store, "MULTI-CONC", 5)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.Redeem(context.Background(), "MULTI-CONC", RedeemContext{})
			if err == nil && res.Success {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	stored, _ := store.GetByID(context.Background(), card.ID)
	if success != 5 || stored.UsageCount != 5 || stored.Status != StatusUsed {
		t.Fatalf("expected 5 uses and Used, got success=%d count=%d status=%s", success, stored.UsageCount, stored.Status)
	}
	history, _ := store.ListRedemptions(context.Background(), card.ID)
	if len(history) != 5 {
		t.Fatalf("expected 5 redemption records, got %d", len(history))
	}
}

func TestRedeemMultiUseCounting(t *testing.T) {
	svc, store, _ := newTestService(t, DefaultPolicy())
	card := seedCard(t, store, "MULTI-3", 3)
	rc := RedeemContext{StudentID: strPtr("STU002")}

	for i, want := range []int{2, 1, 0} {
		res := mustRedeem(t, svc, "MULTI-3", rc)
		if !res.Success || *res.RemainingUses != want {
			t.Fatalf("use %d: expected remaining %d, got %+v", i+1, want, res)
		}

		stored, _ := store.GetByID(context.Background(), card.ID)
		wantStatus := StatusActive
		if want == 0 {
			wantStatus = StatusUsed
		}
		if stored.Status != wantStatus {
			t.Fatalf("use %d: expected status %s, got %s", i+1, wantStatus, stored.Status)
		}
	}
}

func TestRedeemRejectionIsIdempotent(t *testing.T) {
	svc, store, _ := newTestService(t, DefaultPolicy())
	card := seedCard(t, store, "USED-0001", 1)
	mustRedeem(t, svc, "USED-0001", RedeemContext{})

	before, _ := store.GetByID(context.Background(), card.ID)
	svc.now = func() time.Time { return testNow.Add(time.Hour) }

	for i := 0; i < 5; i++ {
		res := mustRedeem(t, svc, "USED-0001", RedeemContext{})
		if res.Success || res.Reason != ReasonAlreadyUsed {
			t.Fatalf("attempt %d: expected AlreadyUsed, got %+v", i+1, res)
		}
	}

	after, _ := store.GetByID(context.Background(), card.ID)
	if after.UsageCount != before.UsageCount || !after.UsedAt.Equal(*before.UsedAt) {
		t.Fatalf("refusals must not mutate the card: before=%+v after=%+v", before, after)
	}
}

func TestRedeemTermBinding(t *testing.T) {
	svc, store, _ := newTestService(t, DefaultPolicy())
	card := seedCard(t, store, "TERM-0001", 1, withTerm("T1"))

	res := mustRedeem(t, svc, "TERM-0001", RedeemContext{TermID: strPtr("T2")})
	if res.Success || res.Reason != ReasonTermMismatch {
		t.Fatalf("expected TermMismatch, got %+v", res)
	}
	if res.Message != "This card is not valid for the selected term." {
		t.Fatalf("unexpected message %q", res.Message)
	}

	res = mustRedeem(t, svc, "TERM-0001", RedeemContext{})
	if res.Success || res.Reason != ReasonTermMismatch {
		t.Fatalf("expected unscoped request to be refused by default, got %+v", res)
	}

	stored, _ := store.GetByID(context.Background(), card.ID)
	if stored.UsageCount != 0 {
		t.Fatalf("refused term attempts must not count, got %d", stored.UsageCount)
	}

	res = mustRedeem(t, svc, "TERM-0001", RedeemContext{TermID: strPtr("T1")})
	if !res.Success {
		t.Fatalf("expected matching term to succeed, got %+v", res)
	}
}

func TestRedeemUnscopedTermWhenAllowed(t *testing.T) {
	svc, store, _ := newTestService(t, Policy{AllowUnscopedTerm: true})
	seedCard(t, store, "TERM-0002", 1, withTerm("T1"))

	if res := mustRedeem(t, svc, "TERM-0002", RedeemContext{TermID: strPtr("T2")}); res.Reason != ReasonTermMismatch {
		t.Fatalf("a different term must still be refused, got %+v", res)
	}
	if res := mustRedeem(t, svc, "TERM-0002", RedeemContext{}); !res.Success {
		t.Fatalf("expected unscoped redemption to succeed, got %+v", res)
	}
}

func TestRedeemUnknownPin(t *testing.T) {
	svc, store, pub := newTestService(t, DefaultPolicy())
	seedCard(t, store, "REAL-0001", 1)

	for _, pin := range []string{"NOPE-0000", "   "} {
		res := mustRedeem(t, svc, pin, RedeemContext{})
		if res.Success || res.Reason != ReasonNotFound || res.Message != "Invalid PIN." {
			t.Fatalf("pin %q: expected NotFound, got %+v", pin, res)
		}
	}

	cards, _, _ := store.List(context.Background(), CardFilter{})
	for _, c := range cards {
		if c.UsageCount != 0 {
			t.Fatalf("unknown pin must not write, got %+v", c)
		}
	}
	if keys := pub.keys(); len(keys) != 1 || keys[0] != EventRejected {
		t.Fatalf("expected a single rejection event for the looked-up pin, got %v", keys)
	}
}

func TestRedeemTerminalStatuses(t *testing.T) {
	svc, store, _ := newTestService(t, DefaultPolicy())
	seedCard(t, store, "EXP-0001", 1, withStatus(StatusExpired))
	seedCard(t, store, "DIS-0001", 1, withStatus(StatusDisabled))
	seedCard(t, store, "DATE-0001", 1, withExpiry(testNow.Add(-time.Minute)))

	tests := []struct {
		pin     string
		reason  Reason
		expired bool
	}{
		{pin: "EXP-0001", reason: ReasonExpired, expired: true},
		{pin: "DIS-0001", reason: ReasonDisabled},
		{pin: "DATE-0001", reason: ReasonExpired, expired: true},
	}

	for _, tt := range tests {
		res := mustRedeem(t, svc, tt.pin, RedeemContext{})
		if res.Success || res.Reason != tt.reason {
			t.Fatalf("%s: expected %s, got %+v", tt.pin, tt.reason, res)
		}
		if tt.expired && (res.IsExpired == nil || !*res.IsExpired) {
			t.Fatalf("%s: expected is_expired", tt.pin)
		}
	}
}

func TestRedeemStudentBinding(t *testing.T) {
	svc, store, _ := newTestService(t, DefaultPolicy())
	seedCard(t, store, "BIND-0001", 3)

	if res := mustRedeem(t, svc, "BIND-0001", RedeemContext{StudentID: strPtr("STU001")}); !res.Success {
		t.Fatalf("expected first use to succeed, got %+v", res)
	}
	if res := mustRedeem(t, svc, "BIND-0001", RedeemContext{StudentID: strPtr("STU999")}); res.Reason != ReasonStudentMismatch {
		t.Fatalf("expected StudentMismatch, got %+v", res)
	}
	if res := mustRedeem(t, svc, "BIND-0001", RedeemContext{StudentID: strPtr("STU001")}); !res.Success || *res.RemainingUses != 1 {
		t.Fatalf("expected same student to succeed, got %+v", res)
	}
}

func TestRedeemLastStudentWinsWithoutBinding(t *testing.T) {
	svc, store, _ := newTestService(t, Policy{})
	card := seedCard(t, store, "FREE-0001", 2)

	mustRedeem(t, svc, "FREE-0001", RedeemContext{StudentID: strPtr("STU001")})
	mustRedeem(t, svc, "FREE-0001", RedeemContext{StudentID: strPtr("STU002")})

	stored, _ := store.GetByID(context.Background(), card.ID)
	if *stored.UsedForStudentID != "STU002" {
		t.Fatalf("expected last student to be recorded, got %s", *stored.UsedForStudentID)
	}
	history, _ := svc.History(context.Background(), card.ID)
	if len(history) != 2 || *history[0].StudentID != "STU001" || history[1].UsageNumber != 2 {
		t.Fatalf("expected full history, got %+v", history)
	}
}

type failingStore struct {
	*MemoryStore
	err error
}

func (f failingStore) Redeem(context.Context, RedeemParams) (*ScratchCard, error) {
	return nil, f.err
}

func TestRedeemStoreUnavailable(t *testing.T) {
	store := failingStore{MemoryStore: NewMemoryStore(), err: errors.New("connection refused")}
	svc := NewService(store, nil, nil, DefaultPolicy())

	res, err := svc.Redeem(context.Background(), "ANY-PIN", RedeemContext{})
	if res != nil {
		t.Fatalf("expected no result, got %+v", res)
	}
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestRedeemCancelledContext(t *testing.T) {
	svc, store, _ := newTestService(t, DefaultPolicy())
	card := seedCard(t, store, "CANCEL-01", 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := svc.Redeem(ctx, "CANCEL-01", RedeemContext{}); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	stored, _ := store.GetByID(context.Background(), card.ID)
	if stored.UsageCount != 0 || stored.Status != StatusActive {
		t.Fatalf("cancelled redemption must leave the card untouched, got %+v", stored)
	}
}

func TestRedeemPublishFailureDoesNotChangeOutcome(t *testing.T) {
	svc, store, pub := newTestService(t, DefaultPolicy())
	pub.err = errors.New("broker down")
	seedCard(t, store, "PUB-0001", 1)

	if res := mustRedeem(t, svc, "PUB-0001", RedeemContext{}); !res.Success {
		t.Fatalf("expected success despite publish failure, got %+v", res)
	}
}

func TestPeekDoesNotMutate(t *testing.T) {
	svc, store, _ := newTestService(t, DefaultPolicy())
	seedCard(t, store, "PEEK-0001", 2)

	summary, err := svc.Peek(context.Background(), " PEEK-0001 ")
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	if summary.Status != StatusActive || summary.RemainingUses != 2 {
		t.Fatalf("unexpected summary %+v", summary)
	}

	if _, err := svc.Peek(context.Background(), "MISSING"); !errors.Is(err, ErrCardNotFound) {
		t.Fatalf("expected ErrCardNotFound, got %v", err)
	}

	res := mustRedeem(t, svc, "PEEK-0001", RedeemContext{})
	if *res.UsageCount != 1 {
		t.Fatalf("peek must not consume a use, got %+v", res)
	}
}

func TestIssueGeneratesPinAndSerial(t *testing.T) {
	svc, store, pub := newTestService(t, DefaultPolicy())

	card, err := svc.Issue(context.Background(), NewCard{Amount: decimal.NewFromInt(1000)})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if card.Pin == "" || card.SerialNumber == "" || card.MaxUsage != 1 || card.Status != StatusActive {
		t.Fatalf("unexpected card %+v", card)
	}

	if _, err := store.FindByPin(context.Background(), card.Pin); err != nil {
		t.Fatalf("issued card not stored: %v", err)
	}
	if keys := pub.keys(); len(keys) != 1 || keys[0] != EventIssued {
		t.Fatalf("expected issued event, got %v", keys)
	}
}

func TestIssueRejectsDuplicateExplicitPin(t *testing.T) {
	svc, store, _ := newTestService(t, DefaultPolicy())
	seedCard(t, store, "DUP-0001", 1)

	if _, err := svc.Issue(context.Background(), NewCard{Pin: "DUP-0001"}); !errors.Is(err, ErrDuplicatePin) {
		t.Fatalf("expected ErrDuplicatePin, got %v", err)
	}
}

func TestIssueRetriesGeneratedPinCollision(t *testing.T) {
	svc, store, _ := newTestService(t, DefaultPolicy())
	seedCard(t, store, "TAKEN-PIN", 1)

	pins := []string{"TAKEN-PIN", "FRESH-PIN"}
	svc.newPin = func() (string, error) {
		p := pins[0]
		pins = pins[1:]
		return p, nil
	}

	card, err := svc.Issue(context.Background(), NewCard{})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if card.Pin != "FRESH-PIN" {
		t.Fatalf("expected regenerated pin, got %s", card.Pin)
	}
}

func TestIssueValidation(t *testing.T) {
	svc, _, _ := newTestService(t, DefaultPolicy())
	past := testNow.Add(-time.Hour)

	for name, in := range map[string]NewCard{
		"negative amount": {Amount: decimal.NewFromInt(-1)},
		"negative uses":   {MaxUsage: -2},
		"past expiry":     {ExpiresAt: &past},
	} {
		if _, err := svc.Issue(context.Background(), in); !errors.Is(err, ErrInvalidCard) {
			t.Fatalf("%s: expected ErrInvalidCard, got %v", name, err)
		}
	}
}

func TestIssueBatch(t *testing.T) {
	svc, store, _ := newTestService(t, DefaultPolicy())

	batch, err := svc.IssueBatch(context.Background(), NewBatch{
		Count:        25,
		SerialPrefix: "t2",
		Amount:       decimal.RequireFromString("250.00"),
		MaxUsage:     5,
		TermID:       strPtr("T2"),
	})
	if err != nil {
		t.Fatalf("issue batch: %v", err)
	}
	if batch.Count != 25 || len(batch.Cards) != 25 {
		t.Fatalf("expected 25 cards, got %d", len(batch.Cards))
	}
	if batch.ManifestURL != "" {
		t.Fatalf("expected no manifest without storage, got %q", batch.ManifestURL)
	}

	seen := make(map[string]bool)
	for _, c := range batch.Cards {
		if seen[c.Pin] {
			t.Fatalf("duplicate pin %s", c.Pin)
		}
		seen[c.Pin] = true
		if c.BatchID == nil || *c.BatchID != batch.BatchID || c.MaxUsage != 5 {
			t.Fatalf("unexpected card %+v", c)
		}
	}
	if batch.Cards[0].SerialNumber[:3] != "T2-" {
		t.Fatalf("expected upper-cased prefix, got %s", batch.Cards[0].SerialNumber)
	}

	page, _, _ := store.List(context.Background(), CardFilter{BatchID: &batch.BatchID})
	if len(page) != 25 {
		t.Fatalf("expected 25 stored cards, got %d", len(page))
	}
}

func TestIssueBatchValidation(t *testing.T) {
	svc, _, _ := newTestService(t, DefaultPolicy())

	for _, in := range []NewBatch{{Count: 0}, {Count: 1001}, {Count: 5, SerialPrefix: "A-B"}} {
		if _, err := svc.IssueBatch(context.Background(), in); !errors.Is(err, ErrInvalidBatch) {
			t.Fatalf("%+v: expected ErrInvalidBatch, got %v", in, err)
		}
	}
}

func TestDisable(t *testing.T) {
	svc, store, pub := newTestService(t, DefaultPolicy())
	card := seedCard(t, store, "OFF-0001", 2)

	summary, err := svc.Disable(context.Background(), card.ID, "reported stolen")
	if err != nil {
		t.Fatalf("disable: %v", err)
	}
	if summary.Status != StatusDisabled || *summary.DisabledReason != "reported stolen" {
		t.Fatalf("unexpected summary %+v", summary)
	}

	if res := mustRedeem(t, svc, "OFF-0001", RedeemContext{}); res.Reason != ReasonDisabled {
		t.Fatalf("expected Disabled, got %+v", res)
	}
	if _, err := svc.Disable(context.Background(), card.ID, ""); !errors.Is(err, ErrCardNotActive) {
		t.Fatalf("terminal card must stay put, got %v", err)
	}
	if _, err := svc.Disable(context.Background(), uuid.New(), ""); !errors.Is(err, ErrCardNotFound) {
		t.Fatalf("expected ErrCardNotFound, got %v", err)
	}

	keys := pub.keys()
	if keys[0] != EventDisabled {
		t.Fatalf("expected disabled event first, got %v", keys)
	}
}

func TestExpireDue(t *testing.T) {
	svc, store, pub := newTestService(t, DefaultPolicy())
	dated := seedCard(t, store, "EXP-DATE", 1, withExpiry(testNow.Add(-time.Second)))
	termed := seedCard(t, store, "EXP-TERM", 1, withTerm("2024-T3"))
	open := seedCard(t, store, "OPEN-0001", 1, withTerm("2025-T1"), withExpiry(testNow.Add(24*time.Hour)))
	used := seedCard(t, store, "USED-EXP", 1, withExpiry(testNow.Add(-time.Second)), withStatus(StatusUsed))

	store.SetTermEnd("2024-T3", time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC))
	store.SetTermEnd("2025-T1", time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC))

	count, err := svc.ExpireDue(context.Background())
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 expired cards, got %d", count)
	}

	for id, want := range map[uuid.UUID]Status{
		dated.ID:  StatusExpired,
		termed.ID: StatusExpired,
		open.ID:   StatusActive,
		used.ID:   StatusUsed,
	} {
		c, _ := store.GetByID(context.Background(), id)
		if c.Status != want {
			t.Fatalf("card %s: expected %s, got %s", c.Pin, want, c.Status)
		}
	}

	if keys := pub.keys(); len(keys) != 1 || keys[0] != EventExpired {
		t.Fatalf("expected one expired event, got %v", keys)
	}

	count, _ = svc.ExpireDue(context.Background())
	if count != 0 {
		t.Fatalf("second sweep must be a no-op, got %d", count)
	}
}

func TestRedeemEndedTermIsExpired(t *testing.T) {
	svc, store, pub := newTestService(t, DefaultPolicy())
	ended := seedCard(t, store, "OLD-TERM", 1, withTerm("2024-T3"))
	lastDay := seedCard(t, store, "LAST-DAY", 1, withTerm("2025-T0"))
	store.SetTermEnd("2024-T3", time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	store.SetTermEnd("2025-T0", time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC))

	res := mustRedeem(t, svc, "OLD-TERM", RedeemContext{TermID: strPtr("2024-T3")})
	if res.Success || res.Reason != ReasonExpired || res.IsExpired == nil || !*res.IsExpired {
		t.Fatalf("expected Expired for an ended term, got %+v", res)
	}
	if c, _ := store.GetByID(context.Background(), ended.ID); c.UsageCount != 0 || c.Status != StatusActive {
		t.Fatalf("refusal must not mutate the card: %+v", c)
	}

	summary, err := svc.Peek(context.Background(), "OLD-TERM")
	if err != nil || !summary.IsExpired {
		t.Fatalf("expected peek to report expiry, got %+v %v", summary, err)
	}

	if res := mustRedeem(t, svc, "LAST-DAY", RedeemContext{TermID: strPtr("2025-T0")}); !res.Success {
		t.Fatalf("a term is open through its last day, got %+v", res)
	}

	if keys := pub.keys(); len(keys) != 2 || keys[0] != EventRejected || keys[1] != EventRedeemed {
		t.Fatalf("unexpected events %v", keys)
	}

	count, err := svc.ExpireDue(context.Background())
	if err != nil || count != 1 {
		t.Fatalf("expected the sweep to persist one expiry, got %d %v", count, err)
	}
	if c, _ := store.GetByID(context.Background(), ended.ID); c.Status != StatusExpired {
		t.Fatalf("expected Expired after sweep, got %s", c.Status)
	}
	if c, _ := store.GetByID(context.Background(), lastDay.ID); c.Status != StatusUsed {
		t.Fatalf("expected Used, got %s", c.Status)
	}
}

func TestListPagination(t *testing.T) {
	svc, _, _ := newTestService(t, DefaultPolicy())
	if _, err := svc.IssueBatch(context.Background(), NewBatch{Count: 7}); err != nil {
		t.Fatalf("issue batch: %v", err)
	}

	page, err := svc.List(context.Background(), CardFilter{Limit: 5, Offset: 5})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Total != 7 || len(page.Cards) != 2 || page.Limit != 5 {
		t.Fatalf("unexpected page %+v", page)
	}

	page, _ = svc.List(context.Background(), CardFilter{Limit: 10_000})
	if page.Limit != maxListLimit {
		t.Fatalf("expected limit clamp, got %d", page.Limit)
	}
}

func TestHistoryUnknownCard(t *testing.T) {
	svc, _, _ := newTestService(t, DefaultPolicy())
	if _, err := svc.History(context.Background(), uuid.New()); !errors.Is(err, ErrCardNotFound) {
		t.Fatalf("expected ErrCardNotFound, got %v", err)
	}
}
