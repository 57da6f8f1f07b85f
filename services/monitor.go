package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"abandonment-service/models"
	awspkg "abandonment-service/pkg/aws"
	"abandonment-service/sender"

	"go.uber.org/zap"
)

// ErrMonitorRunning is returned by Serve when the monitor is already polling.
var ErrMonitorRunning = errors.New("abandonment monitor already running")

type CatalogLoader interface {
	EnsureLoaded(ctx context.Context) error
}

type MetricsRecorder interface {
	RecordValue(ctx context.Context, metricName string, value float64, dimensions map[string]string) error
	RecordLatency(ctx context.Context, metricName string, duration time.Duration, dimensions map[string]string) error
}

type MonitorConfig struct {
	Interval    time.Duration
	SendTimeout time.Duration
}

// CycleStats counts what one scan did.
type CycleStats struct {
	Scanned int
	Sent    int
	Failed  int
	Skipped int
}

// Monitor is the polling loop. Construct one per process and hand it to
// the supervisor; a second concurrent Serve on the same Monitor is refused.
type Monitor struct {
	catalog  CatalogLoader
	tracker  *AbandonmentTracker
	composer *MessageComposer
	sender   sender.EmailSender
	metrics  MetricsRecorder
	cfg      MonitorConfig
	logger   *zap.Logger

	running  atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
}

// NewMonitor wires the loop. metrics may be nil.
func NewMonitor(
	catalog CatalogLoader,
	tracker *AbandonmentTracker,
	composer *MessageComposer,
	emailSender sender.EmailSender,
	metrics MetricsRecorder,
	cfg MonitorConfig,
	logger *zap.Logger,
) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 30 * time.Second
	}
	return &Monitor{
		catalog:  catalog,
		tracker:  tracker,
		composer: composer,
		sender:   emailSender,
		metrics:  metrics,
		cfg:      cfg,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Serve runs cycles until ctx is done or Stop is called. A running cycle is
// always allowed to finish.
func (m *Monitor) Serve(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return ErrMonitorRunning
	}
	defer m.running.Store(false)

	m.logger.Info("cart abandonment monitor started", zap.Duration("interval", m.cfg.Interval))
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("cart abandonment monitor stopped")
			return ctx.Err()
		case <-m.stop:
			m.logger.Info("cart abandonment monitor stopped")
			return nil
		case <-timer.C:
		}

		m.safeCycle(context.WithoutCancel(ctx))
		timer.Reset(m.cfg.Interval)
	}
}

// Stop ends Serve after the current cycle.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

func (m *Monitor) safeCycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("panic in monitoring cycle", zap.Any("panic", r))
		}
	}()
	if _, err := m.RunCycle(ctx); err != nil {
		m.logger.Error("error checking abandoned carts", zap.Error(err))
	}
}

// RunCycle performs one scan over idle carts.
func (m *Monitor) RunCycle(ctx context.Context) (CycleStats, error) {
	var stats CycleStats
	start := time.Now()
	defer func() { m.record(ctx, stats, time.Since(start)) }()

	if err := m.catalog.EnsureLoaded(ctx); err != nil {
		m.logger.Warn("catalog not available for recommendations", zap.Error(err))
	}

	customers, err := m.tracker.Candidates(ctx)
	if err != nil {
		return stats, fmt.Errorf("scan idle carts: %w", err)
	}
	m.logger.Info("checking for abandoned carts", zap.Int("idle_customers", len(customers)))

	for _, c := range customers {
		stats.Scanned++
		m.process(ctx, c, &stats)
	}

	m.logger.Info("abandonment cycle finished",
		zap.Int("scanned", stats.Scanned),
		zap.Int("sent", stats.Sent),
		zap.Int("failed", stats.Failed),
		zap.Int("skipped", stats.Skipped),
		zap.Duration("took", time.Since(start)),
	)
	return stats, nil
}

func (m *Monitor) process(ctx context.Context, c models.Customer, stats *CycleStats) {
	log := m.logger.With(zap.String("user_id", c.ID.String()))

	items, err := m.tracker.CartItems(ctx, c.ID)
	if err != nil {
		log.Warn("failed to load cart", zap.Error(err))
		stats.Failed++
		return
	}
	if len(items) == 0 {
		log.Debug("idle customer has no cart items")
		stats.Skipped++
		return
	}

	total := models.CartTotal(items)
	attempt, err := m.tracker.Begin(ctx, c.ID, items, total, m.composer.Discount(total))
	if err != nil {
		log.Warn("failed to start abandonment attempt", zap.Error(err))
		stats.Failed++
		return
	}
	if attempt.Decision != DecisionProceed {
		log.Info("skipping cart",
			zap.String("reason", string(attempt.Decision)),
			zap.String("cart_fingerprint", shortFingerprint(attempt.Fingerprint)),
		)
		stats.Skipped++
		return
	}

	defer func() {
		if r := recover(); r != nil {
			m.tracker.Release(attempt)
			log.Error("panic while processing cart", zap.Any("panic", r))
			stats.Failed++
		}
	}()

	msg, err := m.composer.Compose(ctx, c, items, total, attempt.Entry.ID)
	if err != nil {
		// A customer without an address stays claimed; retrying cannot help.
		if !errors.Is(err, ErrMissingIdentity) {
			m.tracker.Release(attempt)
		}
		log.Error("failed to compose abandonment email", zap.Error(err))
		stats.Failed++
		return
	}

	sctx, cancel := context.WithTimeout(ctx, m.cfg.SendTimeout)
	res, err := m.sender.SendEmail(sctx, models.Email{
		To:       c.Email,
		ToName:   c.Name,
		Subject:  msg.Subject,
		HTMLBody: msg.HTMLBody,
		TextBody: msg.TextBody,
	})
	cancel()
	if err != nil {
		m.tracker.Release(attempt)
		log.Warn("failed to send abandonment email, will retry next cycle", zap.Error(err))
		stats.Failed++
		return
	}

	if err := m.tracker.MarkSent(ctx, attempt); err != nil {
		log.Error("email sent but log update failed", zap.Error(err))
	}
	stats.Sent++
	log.Info("sent abandonment email",
		zap.Float64("cart_total", total),
		zap.Float64("discount", msg.Discount),
		zap.Int64("log_id", attempt.Entry.ID),
		zap.String("message_id", res.MessageID),
	)
}

func (m *Monitor) record(ctx context.Context, stats CycleStats, took time.Duration) {
	if m.metrics == nil {
		return
	}
	mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	dims := map[string]string{"Service": "abandonment-service"}
	values := map[string]int{
		awspkg.MetricCartsScanned:  stats.Scanned,
		awspkg.MetricEmailsSent:    stats.Sent,
		awspkg.MetricEmailFailures: stats.Failed,
		awspkg.MetricCartsSkipped:  stats.Skipped,
	}
	for name, v := range values {
		if err := m.metrics.RecordValue(mctx, name, float64(v), dims); err != nil {
			m.logger.Debug("failed to record metric", zap.String("metric", name), zap.Error(err))
		}
	}
	if err := m.metrics.RecordLatency(mctx, awspkg.MetricCycleLatency, took, dims); err != nil {
		m.logger.Debug("failed to record metric", zap.String("metric", awspkg.MetricCycleLatency), zap.Error(err))
	}
}
