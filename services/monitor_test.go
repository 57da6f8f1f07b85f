package services_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"abandonment-service/models"
	"abandonment-service/recommender"
	"abandonment-service/services"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticCatalog struct {
	products []models.Product
}

func (s *staticCatalog) InStockProducts(ctx context.Context) ([]models.Product, error) {
	return s.products, nil
}

type recordedMetrics struct {
	mu     sync.Mutex
	values map[string]float64
}

func (r *recordedMetrics) RecordValue(ctx context.Context, name string, v float64, dims map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[name] = v
	return nil
}

func (r *recordedMetrics) RecordLatency(ctx context.Context, name string, d time.Duration, dims map[string]string) error {
	return nil
}

type fixture struct {
	clk      *clock
	repo     *memAbandonmentRepo
	carts    *memCartRepo
	sender   *captureSender
	metrics  *recordedMetrics
	monitor  *services.Monitor
	customer models.Customer
	items    []models.CartItem
}

func catalogProduct(name, category, desc string, price float64) models.Product {
	return models.Product{ID: uuid.New(), Name: name, Category: ptr(category), Description: ptr(desc), Price: price, Stock: 10}
}

func newFixture(t *testing.T, gen services.TextGenerator) *fixture {
	t.Helper()
	clk := &clock{now: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)}

	shoes := catalogProduct("Running Shoes", "Footwear", "Lightweight running shoes for daily training.", 60)
	jacket := catalogProduct("Rain Jacket", "Outerwear", "Waterproof jacket for wet runs.", 50)
	socks := catalogProduct("Running Socks", "Footwear",
		"Breathable running socks. Questions? Mail orders@shop.example or see https://shop.example/socks ref 0b9e6a52-6c1f-4d8e-9b7a-2f4c6d8e0a1c", 12)
	shell := catalogProduct("Trail Shell Jacket", "Outerwear", "Light shell jacket for trail runs.", 80)
	lamp := catalogProduct("Desk Lamp", "Home", "Bright LED lamp.", 25)

	index := recommender.NewIndex(&staticCatalog{products: []models.Product{shoes, jacket, socks, shell, lamp}}, nil, recommender.DefaultPolicy(), nil)

	customer := models.Customer{ID: uuid.New(), Name: "Alex", Email: "alex@example.com", LastActivity: ptr(clk.now.Add(-5 * time.Minute))}
	items := []models.CartItem{
		{ProductID: shoes.ID, Quantity: 1, Name: shoes.Name, Category: "Footwear", Description: shoes.DescriptionText(), Price: 60, LineTotal: 60},
		{ProductID: jacket.ID, Quantity: 1, Name: jacket.Name, Category: "Outerwear", Description: jacket.DescriptionText(), Price: 50, LineTotal: 50},
	}

	repo := &memAbandonmentRepo{}
	carts := &memCartRepo{customers: []models.Customer{customer}, items: map[uuid.UUID][]models.CartItem{customer.ID: items}}
	tracker := services.NewAbandonmentTracker(repo, carts, nil, services.DefaultTrackerConfig(), nil).WithClock(clk.Now)

	composer, err := services.NewMessageComposer(index, gen, nil, services.ComposerConfig{
		BaseURL:   "https://shop.example",
		StoreName: "Shop",
		Discounts: services.DefaultDiscountPolicy(),
	}, nil)
	require.NoError(t, err)

	snd := &captureSender{}
	metrics := &recordedMetrics{values: map[string]float64{}}
	mon := services.NewMonitor(index, tracker, composer, snd, metrics, services.MonitorConfig{Interval: 10 * time.Millisecond}, nil)

	return &fixture{clk: clk, repo: repo, carts: carts, sender: snd, metrics: metrics, monitor: mon, customer: customer, items: items}
}

func TestRunCycle_SendsOnceForAbandonedCart(t *testing.T) {
	f := newFixture(t, &stubGenerator{text: "Your running shoes and rain jacket are saved for you, Alex."})
	ctx := context.Background()

	stats, err := f.monitor.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, services.CycleStats{Scanned: 1, Sent: 1}, stats)

	entries := f.repo.all()
	require.Len(t, entries, 1)
	assert.True(t, entries[0].EmailSent)
	assert.NotNil(t, entries[0].SentAt)
	assert.Equal(t, 110.0, entries[0].CartTotal)
	assert.Equal(t, 10.0, entries[0].DiscountOffered)
	assert.Equal(t, services.Fingerprint(f.items), entries[0].CartFingerprint)

	require.Equal(t, 1, f.sender.count())
	mail := f.sender.sent[0]
	assert.Equal(t, "alex@example.com", mail.To)
	assert.Equal(t, "Alex, you left something in your cart! + 10% OFF!", mail.Subject)
	assert.Contains(t, mail.HTMLBody, "Running Socks")
	for _, leaked := range []string{"orders@shop.example", "https://shop.example/socks", "0b9e6a52-6c1f-4d8e-9b7a-2f4c6d8e0a1c"} {
		assert.NotContains(t, mail.HTMLBody, leaked)
		assert.NotContains(t, mail.TextBody, leaked)
	}
	assert.NotContains(t, mail.HTMLBody, "Desk Lamp")
	assert.Equal(t, 1.0, f.metrics.values["AbandonmentEmailsSent"])

	// nothing changed, nothing sent
	f.clk.Advance(time.Minute)
	stats, err = f.monitor.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, services.CycleStats{Scanned: 1, Skipped: 1}, stats)
	assert.Equal(t, 1, f.sender.count())
	assert.Len(t, f.repo.all(), 1)
}

func TestRunCycle_SendFailureRetriesNextCycle(t *testing.T) {
	f := newFixture(t, &stubGenerator{text: "Your cart is saved."})
	f.sender.fails = 1
	ctx := context.Background()

	stats, err := f.monitor.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
	assert.Zero(t, f.sender.count())
	require.Len(t, f.repo.all(), 1)
	assert.False(t, f.repo.all()[0].EmailSent)

	// unsent entry is still fresh
	f.clk.Advance(time.Minute)
	stats, err = f.monitor.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Skipped)
	assert.Zero(t, f.sender.count())

	f.clk.Advance(2 * time.Minute)
	stats, err = f.monitor.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Sent)
	assert.Equal(t, 1, f.sender.count())

	entries := f.repo.all()
	require.Len(t, entries, 2)
	assert.False(t, entries[0].EmailSent)
	assert.True(t, entries[1].EmailSent)
}

func TestRunCycle_MissingEmailStaysClaimed(t *testing.T) {
	f := newFixture(t, nil)
	f.carts.customers[0].Email = ""
	ctx := context.Background()

	stats, err := f.monitor.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)

	stats, err = f.monitor.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Skipped)
	assert.Zero(t, f.sender.count())
}

func TestRunCycle_GeneratorFailureStillSends(t *testing.T) {
	f := newFixture(t, &stubGenerator{err: context.DeadlineExceeded})

	stats, err := f.monitor.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Sent)
	require.Equal(t, 1, f.sender.count())
	assert.True(t, strings.Contains(f.sender.sent[0].TextBody, "Running Shoes"))
}

func TestServe_SingleInstanceAndStop(t *testing.T) {
	f := newFixture(t, &stubGenerator{text: "Your cart is saved."})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- f.monitor.Serve(ctx) }()

	require.Eventually(t, func() bool { return f.sender.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, f.monitor.Serve(ctx), services.ErrMonitorRunning)

	f.monitor.Stop()
	f.monitor.Stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not stop")
	}
}

func TestServe_ReturnsOnCancel(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, f.monitor.Serve(ctx), context.Canceled)
}
