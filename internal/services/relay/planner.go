package relay

import (
	"math/rand"
	"time"
)

type Rand interface {
	Int63n(n int64) int64
}

// BackoffConfig is the retry schedule of a failed publish. Attempts past the last step reuse it.
type BackoffConfig struct {
	Steps  []time.Duration
	Jitter float64 // доля от шага, 0.1 = ±10%
}

func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Steps:  []time.Duration{5 * time.Second, 30 * time.Second, 2 * time.Minute, 10 * time.Minute},
		Jitter: 0.1,
	}
}

type Planner struct {
	cfg BackoffConfig
	r   Rand
}

func NewPlanner(cfg BackoffConfig, r Rand) *Planner {
	if len(cfg.Steps) == 0 {
		cfg.Steps = DefaultBackoffConfig().Steps
	}
	if cfg.Jitter < 0 || cfg.Jitter >= 1 {
		cfg.Jitter = 0
	}
	if r == nil {
		r = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Planner{cfg: cfg, r: r}
}

// Delay is the wait before retry number attempt (1-based).
func (p *Planner) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	i := attempt - 1
	if i >= len(p.cfg.Steps) {
		i = len(p.cfg.Steps) - 1
	}
	d := p.cfg.Steps[i]
	span := int64(float64(d) * p.cfg.Jitter)
	if span <= 0 {
		return d
	}
	return d - time.Duration(span) + time.Duration(p.r.Int63n(2*span+1))
}

// Next returns when a job that has failed attempts times should run again, or nil once the
// job has used up maxRetries and must be parked.
func (p *Planner) Next(now time.Time, attempts, maxRetries int) *time.Time {
	if maxRetries > 0 && attempts >= maxRetries {
		return nil
	}
	t := now.Add(p.Delay(attempts))
	return &t
}
