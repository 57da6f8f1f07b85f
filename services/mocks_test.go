package services_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"abandonment-service/models"
	"abandonment-service/sender"

	"github.com/google/uuid"
)

type memAbandonmentRepo struct {
	mu        sync.Mutex
	entries   []*models.AbandonmentLog
	nextID    int64
	createErr error
	sentErr   error
}

func (m *memAbandonmentRepo) Create(ctx context.Context, entry *models.AbandonmentLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.nextID++
	entry.ID = m.nextID
	cp := *entry
	m.entries = append(m.entries, &cp)
	return nil
}

func (m *memAbandonmentRepo) find(match func(*models.AbandonmentLog) bool) *models.AbandonmentLog {
	var best *models.AbandonmentLog
	for _, e := range m.entries {
		if match(e) && (best == nil || !e.CreatedAt.Before(best.CreatedAt)) {
			best = e
		}
	}
	if best == nil {
		return nil
	}
	cp := *best
	return &cp
}

func (m *memAbandonmentRepo) FindLatest(ctx context.Context, userID uuid.UUID, fp string, since time.Time) (*models.AbandonmentLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.find(func(e *models.AbandonmentLog) bool {
		return e.UserID == userID && e.CartFingerprint == fp && e.CreatedAt.After(since)
	}), nil
}

func (m *memAbandonmentRepo) byID(id int64) *models.AbandonmentLog {
	for _, e := range m.entries {
		if e.ID == id {
			return e
		}
	}
	return nil
}

func (m *memAbandonmentRepo) MarkSent(ctx context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sentErr != nil {
		return m.sentErr
	}
	e := m.byID(id)
	if e == nil {
		return errors.New("not found")
	}
	e.EmailSent = true
	e.SentAt = &at
	return nil
}

func (m *memAbandonmentRepo) MarkOpened(ctx context.Context, id int64, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.byID(id)
	if e == nil || e.EmailOpened {
		return false, nil
	}
	e.EmailOpened = true
	e.OpenedAt = &at
	return true, nil
}

func (m *memAbandonmentRepo) MarkClicked(ctx context.Context, id int64, userID uuid.UUID, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.byID(id)
	if e == nil || e.UserID != userID {
		return false, nil
	}
	e.LinkClicked = true
	e.ClickedAt = &at
	e.ClickCount++
	return true, nil
}

func (m *memAbandonmentRepo) FindLatestUnconverted(ctx context.Context, userID uuid.UUID, since time.Time) (*models.AbandonmentLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.find(func(e *models.AbandonmentLog) bool {
		return e.UserID == userID && e.EmailSent && !e.PurchaseCompleted && e.CreatedAt.After(since)
	}), nil
}

func (m *memAbandonmentRepo) MarkConverted(ctx context.Context, id int64, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.byID(id)
	if e == nil || e.PurchaseCompleted {
		return false, nil
	}
	e.PurchaseCompleted = true
	e.CompletedAt = &at
	return true, nil
}

func (m *memAbandonmentRepo) List(ctx context.Context, filter models.AbandonmentFilter) ([]models.AbandonmentLog, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.AbandonmentLog
	for _, e := range m.entries {
		if filter.UserID != uuid.Nil && e.UserID != filter.UserID {
			continue
		}
		if filter.SentOnly && !e.EmailSent {
			continue
		}
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, int64(len(out)), nil
}

func (m *memAbandonmentRepo) all() []models.AbandonmentLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.AbandonmentLog, len(m.entries))
	for i, e := range m.entries {
		out[i] = *e
	}
	return out
}

type memCartRepo struct {
	customers []models.Customer
	items     map[uuid.UUID][]models.CartItem
	err       error
}

func (m *memCartRepo) IdleCustomers(ctx context.Context, threshold time.Time) ([]models.Customer, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []models.Customer
	for _, c := range m.customers {
		if c.LastActivity != nil && !c.LastActivity.After(threshold) && len(m.items[c.ID]) > 0 {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memCartRepo) CartItems(ctx context.Context, userID uuid.UUID) ([]models.CartItem, error) {
	return m.items[userID], nil
}

type memActivity struct {
	seen map[uuid.UUID]time.Time
	err  error
}

func (m *memActivity) Touch(ctx context.Context, userID uuid.UUID, at time.Time) error {
	m.seen[userID] = at
	return nil
}

func (m *memActivity) LastSeen(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]time.Time, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := map[uuid.UUID]time.Time{}
	for _, id := range ids {
		if at, ok := m.seen[id]; ok {
			out[id] = at
		}
	}
	return out, nil
}

type stubGenerator struct {
	text    string
	err     error
	prompts []string
}

func (s *stubGenerator) Generate(ctx context.Context, system, prompt string) (string, error) {
	s.prompts = append(s.prompts, prompt)
	return s.text, s.err
}

type stubRecommender struct {
	recs []models.RecommendationCandidate
}

func (s *stubRecommender) Recommend(items []models.CartItem, k int) []models.RecommendationCandidate {
	if len(s.recs) > k {
		return s.recs[:k]
	}
	return s.recs
}

type captureSender struct {
	mu    sync.Mutex
	sent  []models.Email
	fails int
}

func (c *captureSender) SendEmail(ctx context.Context, email models.Email) (sender.SendResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fails > 0 {
		c.fails--
		return sender.SendResult{}, errors.New("smtp unavailable")
	}
	c.sent = append(c.sent, email)
	return sender.SendResult{MessageID: "test-1", SentAt: time.Now()}, nil
}

func (c *captureSender) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

type noopCatalog struct{}

func (noopCatalog) EnsureLoaded(ctx context.Context) error { return nil }

func ptr[T any](v T) *T { return &v }

func line(name string, qty int, price float64) models.CartItem {
	return models.CartItem{
		ProductID: uuid.New(),
		Quantity:  qty,
		Name:      name,
		Category:  "General",
		Price:     price,
		LineTotal: price * float64(qty),
	}
}
