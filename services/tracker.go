package services

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"abandonment-service/models"
	"abandonment-service/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Decision is the outcome of AbandonmentTracker.Begin.
type Decision string

const (
	DecisionProceed         Decision = "proceed"
	DecisionAlreadyHandled  Decision = "already_handled"
	DecisionAlreadyNotified Decision = "already_notified"
	DecisionInFlight        Decision = "in_flight"
)

type TrackerConfig struct {
	IdleThreshold    time.Duration
	DedupWindow      time.Duration
	InFlightWindow   time.Duration
	ConversionWindow time.Duration
}

func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		IdleThreshold:    time.Minute,
		DedupWindow:      24 * time.Hour,
		InFlightWindow:   2 * time.Minute,
		ConversionWindow: 7 * 24 * time.Hour,
	}
}

// Attempt is one pass of a (user, fingerprint) pair through the tracker.
// Entry is set only when Decision is DecisionProceed.
type Attempt struct {
	UserID      uuid.UUID
	Fingerprint string
	Decision    Decision
	Entry       *models.AbandonmentLog
}

func (a *Attempt) key() string {
	return a.UserID.String() + "_" + a.Fingerprint
}

// AbandonmentTracker decides when a cart gets a notification and records
// what happened to it. The processed set is a per-process cache in front of
// the abandonment log, which stays the source of truth.
type AbandonmentTracker struct {
	repo     repository.AbandonmentRepository
	carts    repository.CartRepository
	activity repository.ActivityStore
	cfg      TrackerConfig
	now      func() time.Time
	logger   *zap.Logger

	mu        sync.Mutex
	processed map[string]struct{}
}

// NewAbandonmentTracker wires the tracker. activity may be nil.
func NewAbandonmentTracker(
	repo repository.AbandonmentRepository,
	carts repository.CartRepository,
	activity repository.ActivityStore,
	cfg TrackerConfig,
	logger *zap.Logger,
) *AbandonmentTracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AbandonmentTracker{
		repo:      repo,
		carts:     carts,
		activity:  activity,
		cfg:       cfg,
		now:       time.Now,
		logger:    logger,
		processed: make(map[string]struct{}),
	}
}

// WithClock replaces the time source.
func (t *AbandonmentTracker) WithClock(now func() time.Time) *AbandonmentTracker {
	t.now = now
	return t
}

// Candidates returns idle customers with a cart. A newer timestamp in the
// activity cache than in the users table takes them out of the list.
func (t *AbandonmentTracker) Candidates(ctx context.Context) ([]models.Customer, error) {
	threshold := t.now().Add(-t.cfg.IdleThreshold)

	customers, err := t.carts.IdleCustomers(ctx, threshold)
	if err != nil {
		return nil, fmt.Errorf("query idle customers: %w", err)
	}
	if t.activity == nil || len(customers) == 0 {
		return customers, nil
	}

	ids := make([]uuid.UUID, len(customers))
	for i, c := range customers {
		ids[i] = c.ID
	}
	seen, err := t.activity.LastSeen(ctx, ids)
	if err != nil {
		t.logger.Warn("activity cache unavailable, using database timestamps", zap.Error(err))
		return customers, nil
	}

	idle := customers[:0]
	for _, c := range customers {
		if at, ok := seen[c.ID]; ok && at.After(threshold) {
			t.logger.Debug("customer active according to cache", zap.String("user_id", c.ID.String()))
			continue
		}
		idle = append(idle, c)
	}
	return idle, nil
}

// CartItems loads the cart of a user.
func (t *AbandonmentTracker) CartItems(ctx context.Context, userID uuid.UUID) ([]models.CartItem, error) {
	return t.carts.CartItems(ctx, userID)
}

// Begin runs the two-tier duplicate check for the cart and, when the cart
// needs a notification, claims it and creates the unsent log entry.
func (t *AbandonmentTracker) Begin(ctx context.Context, userID uuid.UUID, items []models.CartItem, total, discount float64) (*Attempt, error) {
	a := &Attempt{UserID: userID, Fingerprint: Fingerprint(items)}
	key := a.key()
	now := t.now()

	if t.isProcessed(key) {
		a.Decision = DecisionAlreadyHandled
		return a, nil
	}

	existing, err := t.repo.FindLatest(ctx, userID, a.Fingerprint, now.Add(-t.cfg.DedupWindow))
	if err != nil {
		return nil, fmt.Errorf("look up abandonment log: %w", err)
	}
	if existing != nil {
		if existing.EmailSent {
			t.markProcessed(key)
			a.Decision = DecisionAlreadyNotified
			return a, nil
		}
		if now.Sub(existing.CreatedAt) < t.cfg.InFlightWindow {
			a.Decision = DecisionInFlight
			return a, nil
		}
	}

	if !t.claim(key) {
		a.Decision = DecisionAlreadyHandled
		return a, nil
	}

	entry := &models.AbandonmentLog{
		UserID:          userID,
		CartFingerprint: a.Fingerprint,
		CartTotal:       round2(total),
		DiscountOffered: discount,
		CreatedAt:       now,
	}
	if err := t.repo.Create(ctx, entry); err != nil {
		t.Release(a)
		return nil, fmt.Errorf("create abandonment log: %w", err)
	}

	a.Decision = DecisionProceed
	a.Entry = entry
	t.logger.Info("logged abandonment event",
		zap.String("user_id", userID.String()),
		zap.String("cart_fingerprint", shortFingerprint(a.Fingerprint)),
		zap.Float64("discount", discount),
		zap.Int64("log_id", entry.ID),
	)
	return a, nil
}

// MarkSent flips the attempt's entry to sent. The pair stays claimed even if
// the update fails, since the message has already gone out.
func (t *AbandonmentTracker) MarkSent(ctx context.Context, a *Attempt) error {
	if a == nil || a.Entry == nil {
		return fmt.Errorf("attempt has no log entry")
	}
	at := t.now()
	if err := t.repo.MarkSent(ctx, a.Entry.ID, at); err != nil {
		return fmt.Errorf("mark log %d sent: %w", a.Entry.ID, err)
	}
	a.Entry.EmailSent = true
	a.Entry.SentAt = &at
	return nil
}

// Release makes the pair eligible again on the next scan.
func (t *AbandonmentTracker) Release(a *Attempt) {
	t.mu.Lock()
	delete(t.processed, a.key())
	t.mu.Unlock()
}

// RecordOpen marks the entry opened. Only the first open sets opened_at.
func (t *AbandonmentTracker) RecordOpen(ctx context.Context, logID int64) (bool, error) {
	return t.repo.MarkOpened(ctx, logID, t.now())
}

// RecordClick bumps the click counter of an entry owned by userID.
func (t *AbandonmentTracker) RecordClick(ctx context.Context, logID int64, userID uuid.UUID) (bool, error) {
	return t.repo.MarkClicked(ctx, logID, userID, t.now())
}

// RecordConversion closes the newest sent, unconverted entry of the user
// inside the conversion window. It returns nil when there is none.
func (t *AbandonmentTracker) RecordConversion(ctx context.Context, userID uuid.UUID) (*models.AbandonmentLog, error) {
	now := t.now()
	entry, err := t.repo.FindLatestUnconverted(ctx, userID, now.Add(-t.cfg.ConversionWindow))
	if err != nil {
		return nil, fmt.Errorf("find unconverted entry: %w", err)
	}
	if entry == nil {
		return nil, nil
	}

	ok, err := t.repo.MarkConverted(ctx, entry.ID, now)
	if err != nil {
		return nil, fmt.Errorf("mark log %d converted: %w", entry.ID, err)
	}
	if !ok {
		return nil, nil
	}
	entry.PurchaseCompleted = true
	entry.CompletedAt = &now

	t.logger.Info("purchase attributed to abandonment email",
		zap.String("user_id", userID.String()),
		zap.Int64("log_id", entry.ID),
	)
	return entry, nil
}

// Logs lists abandonment log entries.
func (t *AbandonmentTracker) Logs(ctx context.Context, filter models.AbandonmentFilter) ([]models.AbandonmentLog, int64, error) {
	return t.repo.List(ctx, filter)
}

func (t *AbandonmentTracker) isProcessed(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.processed[key]
	return ok
}

func (t *AbandonmentTracker) markProcessed(key string) {
	t.mu.Lock()
	t.processed[key] = struct{}{}
	t.mu.Unlock()
}

// claim adds key to the processed set and reports whether it was absent.
func (t *AbandonmentTracker) claim(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.processed[key]; ok {
		return false
	}
	t.processed[key] = struct{}{}
	return true
}

func shortFingerprint(fp string) string {
	if len(fp) > 8 {
		return fp[:8]
	}
	return fp
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
