// Package relay publishes outbox jobs to kafka after the transactions that wrote them commit.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/ParcelBox/internal/broker/messages"
	"github.com/BearBump/ParcelBox/internal/models"
	"github.com/pkg/errors"
	"github.com/sony/gobreaker"
)

type Repository interface {
	ClaimDueJobs(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.OutboxJob, error)
	MarkJobPublished(ctx context.Context, id string, at time.Time) error
	MarkJobFailed(ctx context.Context, id string, lastErr string, nextAttemptAt *time.Time) error
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

type Settings struct {
	PollInterval       time.Duration
	BatchSize          int
	Concurrency        int
	Lease              time.Duration
	RateLimitPerMinute int64
	// Topics maps a job kind to its kafka topic.
	Topics map[string]string
	// BreakerFailures is how many consecutive publish failures open the breaker.
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

func DefaultSettings() Settings {
	return Settings{
		PollInterval:       2 * time.Second,
		BatchSize:          100,
		Concurrency:        10,
		Lease:              2 * time.Minute,
		RateLimitPerMinute: 600,
		Topics: map[string]string{
			"statusUpdate":    "parcelbox.status-updates",
			"videoExtraction": "parcelbox.video-extractions",
		},
		BreakerFailures: 5,
		BreakerTimeout:  30 * time.Second,
	}
}

type Relay struct {
	repo     Repository
	producer Producer
	rl       RateLimiter
	planner  *Planner
	breaker  *gobreaker.CircuitBreaker
	metrics  *Metrics
	logger   *slog.Logger
	now      func() time.Time

	cfg Settings

	triggerCh chan struct{}

	startedAt           time.Time
	lastCycleUnixNano   atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalClaimed        atomic.Int64
	totalPublished      atomic.Int64
	totalFailed         atomic.Int64
	totalParked         atomic.Int64
	totalDeferred       atomic.Int64
	inFlight            atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

func New(repo Repository, producer Producer, rl RateLimiter, cfg Settings, metrics *Metrics, logger *slog.Logger) *Relay {
	def := DefaultSettings()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.Lease <= 0 {
		cfg.Lease = def.Lease
	}
	if len(cfg.Topics) == 0 {
		cfg.Topics = def.Topics
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = def.BreakerFailures
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = def.BreakerTimeout
	}
	if metrics == nil {
		metrics = NewMetrics("")
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "relay")

	r := &Relay{
		repo:      repo,
		producer:  producer,
		rl:        rl,
		planner:   NewPlanner(DefaultBackoffConfig(), nil),
		metrics:   metrics,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		cfg:       cfg,
		triggerCh: make(chan struct{}, 1),
		startedAt: time.Now().UTC(),
	}
	r.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "kafka-publish",
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
			metrics.BreakerState.Set(float64(to))
		},
	})
	return r
}

func (r *Relay) WithPlanner(p *Planner) *Relay {
	r.planner = p
	return r
}

func (r *Relay) WithClock(now func() time.Time) *Relay {
	r.now = now
	return r
}

func (r *Relay) Settings() Settings {
	return r.cfg
}

// Trigger forces an immediate cycle (best-effort, non-blocking).
func (r *Relay) Trigger() {
	r.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case r.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt      time.Time  `json:"startedAt"`
	LastCycleAt    *time.Time `json:"lastCycleAt,omitempty"`
	LastTriggerAt  *time.Time `json:"lastTriggerAt,omitempty"`
	TotalClaimed   int64      `json:"totalClaimed"`
	TotalPublished int64      `json:"totalPublished"`
	TotalFailed    int64      `json:"totalFailed"`
	TotalParked    int64      `json:"totalParked"`
	TotalDeferred  int64      `json:"totalDeferred"`
	InFlight       int64      `json:"inFlight"`
	BreakerState   string     `json:"breakerState"`
	LastError      string     `json:"lastError,omitempty"`
}

func (r *Relay) Stats() Stats {
	st := Stats{
		StartedAt:      r.startedAt,
		TotalClaimed:   r.totalClaimed.Load(),
		TotalPublished: r.totalPublished.Load(),
		TotalFailed:    r.totalFailed.Load(),
		TotalParked:    r.totalParked.Load(),
		TotalDeferred:  r.totalDeferred.Load(),
		InFlight:       r.inFlight.Load(),
		BreakerState:   r.breaker.State().String(),
	}
	if n := r.lastCycleUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastCycleAt = &t
	}
	if n := r.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	r.lastErrorMu.Lock()
	st.LastError = r.lastError
	r.lastErrorMu.Unlock()
	return st
}

func (r *Relay) Run(ctx context.Context) error {
	t := time.NewTicker(r.cfg.PollInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			r.runOnce(ctx)
		case <-r.triggerCh:
			r.runOnce(ctx)
		}
	}
}

func (r *Relay) setLastError(err error) {
	r.lastErrorMu.Lock()
	r.lastError = err.Error()
	r.lastErrorMu.Unlock()
}

func (r *Relay) runOnce(ctx context.Context) {
	now := r.now()
	r.lastCycleUnixNano.Store(now.UnixNano())

	items, err := r.repo.ClaimDueJobs(ctx, now, r.cfg.BatchSize, r.cfg.Lease)
	if err != nil {
		r.logger.Error("claim due jobs", "error", err.Error())
		r.setLastError(err)
		return
	}
	r.totalClaimed.Add(int64(len(items)))

	sem := make(chan struct{}, r.cfg.Concurrency)
	var wg sync.WaitGroup
	for _, j := range items {
		sem <- struct{}{}
		wg.Add(1)
		r.inFlight.Add(1)
		go func(j *models.OutboxJob) {
			defer func() {
				r.inFlight.Add(-1)
				<-sem
				wg.Done()
			}()
			if err := r.processOne(ctx, j); err != nil {
				r.setLastError(err)
				r.logger.Error("relay job", "job_id", j.ID, "kind", j.Kind, "error", err.Error())
			}
		}(j)
	}
	wg.Wait()
}

// errDeferred marks a job left under its lease without spending an attempt.
var errDeferred = errors.New("deferred")

func (r *Relay) processOne(ctx context.Context, j *models.OutboxJob) error {
	topic, ok := r.cfg.Topics[j.Kind]
	if !ok {
		// неизвестный тип не опубликуется никогда, паркуем сразу
		r.totalParked.Add(1)
		r.metrics.Parked.WithLabelValues(j.Kind).Inc()
		return r.repo.MarkJobFailed(ctx, j.ID, fmt.Sprintf("no topic for job kind %q", j.Kind), nil)
	}

	if err := r.throttle(ctx, j); err != nil {
		if errors.Is(err, errDeferred) {
			return nil
		}
		return err
	}

	value, err := json.Marshal(messages.JobEnvelope{
		ID:         j.ID,
		Kind:       j.Kind,
		Attempt:    j.Attempts + 1,
		MaxRetries: j.MaxRetries,
		CreatedAt:  j.CreatedAt,
		Payload:    j.Payload,
	})
	if err != nil {
		return errors.Wrap(err, "marshal job envelope")
	}

	_, pubErr := r.breaker.Execute(func() (interface{}, error) {
		return nil, r.producer.Publish(ctx, topic, []byte(j.Key), value)
	})
	if errors.Is(pubErr, gobreaker.ErrOpenState) || errors.Is(pubErr, gobreaker.ErrTooManyRequests) {
		r.deferJob(j, "breaker")
		return nil
	}
	now := r.now()
	if pubErr == nil {
		if err := r.repo.MarkJobPublished(ctx, j.ID, now); err != nil {
			return errors.Wrap(err, "mark job published")
		}
		r.totalPublished.Add(1)
		r.metrics.Published.WithLabelValues(j.Kind).Inc()
		return nil
	}

	r.totalFailed.Add(1)
	r.metrics.Failed.WithLabelValues(j.Kind).Inc()
	next := r.planner.Next(now, j.Attempts+1, j.MaxRetries)
	if next == nil {
		r.totalParked.Add(1)
		r.metrics.Parked.WithLabelValues(j.Kind).Inc()
		r.logger.Error("job parked", "job_id", j.ID, "kind", j.Kind, "attempts", j.Attempts+1)
	}
	if err := r.repo.MarkJobFailed(ctx, j.ID, pubErr.Error(), next); err != nil {
		return errors.Wrap(err, "mark job failed")
	}
	return pubErr
}

// throttle spends one unit of the per-kind minute budget.
func (r *Relay) throttle(ctx context.Context, j *models.OutboxJob) error {
	if r.rl == nil || r.cfg.RateLimitPerMinute <= 0 {
		return nil
	}
	key := fmt.Sprintf("rl:relay:%s:%s", j.Kind, r.now().Format("200601021504"))
	allowed, n, err := r.rl.Allow(ctx, key, r.cfg.RateLimitPerMinute, 70*time.Second)
	if err != nil {
		// лимитер недоступен: публикуем без него
		r.logger.Warn("rate limiter", "error", err.Error())
		return nil
	}
	if !allowed {
		r.logger.Warn("rate limit exceeded", "kind", j.Kind, "count", n)
		r.deferJob(j, "rate_limit")
		return errDeferred
	}
	return nil
}

func (r *Relay) deferJob(j *models.OutboxJob, reason string) {
	r.totalDeferred.Add(1)
	r.metrics.Deferred.WithLabelValues(j.Kind, reason).Inc()
}
