package scratchcard

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a Store held in process memory. A single mutex makes each
// Redeem one atomic check-and-increment, matching the guarantee the
// database gives the conditional update. Used by the harness and tests.
type MemoryStore struct {
	mu          sync.Mutex
	cards       map[uuid.UUID]*ScratchCard
	byPin       map[string]uuid.UUID
	bySerial    map[string]uuid.UUID
	redemptions map[uuid.UUID][]Redemption
	termEnds    map[string]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cards:       make(map[uuid.UUID]*ScratchCard),
		byPin:       make(map[string]uuid.UUID),
		bySerial:    make(map[string]uuid.UUID),
		redemptions: make(map[uuid.UUID][]Redemption),
		termEnds:    make(map[string]time.Time),
	}
}

// SetTermEnd records the end date of a term for ExpireDue.
func (m *MemoryStore) SetTermEnd(termID string, end time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.termEnds[termID] = end
}

// withTermEnd fills TermEndDate the way the database join does.
func (m *MemoryStore) withTermEnd(c *ScratchCard) {
	c.TermEndDate = nil
	if c.TermID == nil {
		return
	}
	if end, ok := m.termEnds[*c.TermID]; ok {
		c.TermEndDate = &end
	}
}

func (m *MemoryStore) FindByPin(_ context.Context, pin string) (*ScratchCard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byPin[pin]
	if !ok {
		return nil, ErrCardNotFound
	}
	c := *m.cards[id]
	m.withTermEnd(&c)
	return &c, nil
}

func (m *MemoryStore) GetByID(_ context.Context, id uuid.UUID) (*ScratchCard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.cards[id]
	if !ok {
		return nil, ErrCardNotFound
	}
	cp := *c
	m.withTermEnd(&cp)
	return &cp, nil
}

func (m *MemoryStore) Redeem(ctx context.Context, p RedeemParams) (*ScratchCard, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("redeem", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byPin[p.Pin]
	if !ok {
		return nil, errNotRedeemable
	}
	c := m.cards[id]
	m.withTermEnd(c)
	if p.Policy.Check(c, p.Context, p.Now) != "" {
		return nil, errNotRedeemable
	}

	c.UsageCount++
	now := p.Now
	c.UsedAt = &now
	c.UpdatedAt = now
	if p.Context.RequestingUserID != nil {
		u := *p.Context.RequestingUserID
		c.UsedBy = &u
	}
	if s := p.Context.StudentID; s != nil && (c.UsedForStudentID == nil || !p.Policy.BindStudentOnFirstUse) {
		v := *s
		c.UsedForStudentID = &v
	}
	if c.UsageCount >= c.MaxUsage {
		c.Status = StatusUsed
	}

	m.redemptions[c.ID] = append(m.redemptions[c.ID], Redemption{
		ID:          uuid.New(),
		CardID:      c.ID,
		UsageNumber: c.UsageCount,
		RequestedBy: p.Context.RequestingUserID,
		StudentID:   p.Context.StudentID,
		TermID:      p.Context.TermID,
		RedeemedAt:  now,
	})

	cp := *c
	return &cp, nil
}

func (m *MemoryStore) Create(_ context.Context, cards []*ScratchCard) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pins := make(map[string]bool, len(cards))
	serials := make(map[string]bool, len(cards))
	for _, c := range cards {
		if _, dup := m.byPin[c.Pin]; dup || pins[c.Pin] {
			return ErrDuplicatePin
		}
		if _, dup := m.bySerial[c.SerialNumber]; dup || serials[c.SerialNumber] {
			return ErrDuplicateSerial
		}
		pins[c.Pin] = true
		serials[c.SerialNumber] = true
	}

	for _, c := range cards {
		cp := *c
		m.cards[cp.ID] = &cp
		m.byPin[cp.Pin] = cp.ID
		m.bySerial[cp.SerialNumber] = cp.ID
	}
	return nil
}

func (m *MemoryStore) Disable(_ context.Context, id uuid.UUID, reason *string, now time.Time) (*ScratchCard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.cards[id]
	if !ok {
		return nil, ErrCardNotFound
	}
	if c.Status != StatusActive {
		return nil, ErrCardNotActive
	}
	c.Status = StatusDisabled
	c.DisabledReason = reason
	c.UpdatedAt = now

	cp := *c
	return &cp, nil
}

func (m *MemoryStore) ExpireDue(_ context.Context, now time.Time) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []uuid.UUID
	for _, c := range m.cards {
		if c.Status != StatusActive {
			continue
		}
		m.withTermEnd(c)
		if c.Expired(now) {
			c.Status = StatusExpired
			c.UpdatedAt = now
			ids = append(ids, c.ID)
		}
	}
	return ids, nil
}

func (m *MemoryStore) List(_ context.Context, f CardFilter) ([]ScratchCard, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []ScratchCard
	for _, c := range m.cards {
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		if f.BatchID != nil && (!c.BatchID.Valid || c.BatchID.UUID != *f.BatchID) {
			continue
		}
		if f.TermID != nil && (c.TermID == nil || *c.TermID != *f.TermID) {
			continue
		}
		if f.Serial != "" && !strings.Contains(strings.ToLower(c.SerialNumber), strings.ToLower(f.Serial)) {
			continue
		}
		cp := *c
		m.withTermEnd(&cp)
		matched = append(matched, cp)
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].SerialNumber < matched[j].SerialNumber
	})

	total := len(matched)
	if f.Offset >= total {
		return []ScratchCard{}, total, nil
	}
	end := total
	if f.Limit > 0 && f.Offset+f.Limit < total {
		end = f.Offset + f.Limit
	}
	return matched[f.Offset:end], total, nil
}

func (m *MemoryStore) ListRedemptions(_ context.Context, cardID uuid.UUID) ([]Redemption, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Redemption, len(m.redemptions[cardID]))
	copy(out, m.redemptions[cardID])
	return out, nil
}
