package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/BearBump/ParcelBox/config"
	"github.com/BearBump/ParcelBox/internal/broker/kafka"
	"github.com/BearBump/ParcelBox/internal/cache/rediscache"
	"github.com/BearBump/ParcelBox/internal/services/relay"
	"github.com/BearBump/ParcelBox/internal/storage/pgparcels"
)

type outboxStore interface {
	relay.Repository
	relay.Purger
}

type pinger interface {
	Ping(ctx context.Context) error
}

type workerFactories struct {
	newStorage     func(cfg *config.Config) (repo outboxStore, closeFn func(), err error)
	newProducer    func(cfg *config.Config) (relay.Producer, func())
	newRateLimiter func(cfg *config.Config) relay.RateLimiter
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStorage: func(cfg *config.Config) (outboxStore, func(), error) {
			st, err := pgparcels.New(cfg.Database.ConnString())
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newProducer: func(cfg *config.Config) (relay.Producer, func()) {
			p := kafka.NewProducer(cfg.Kafka.Brokers())
			return p, func() { _ = p.Close() }
		},
		newRateLimiter: func(cfg *config.Config) relay.RateLimiter {
			return rediscache.NewRateLimiter(cfg.Redis.Addr())
		},
	}
}

func relaySettings(cfg *config.Config) relay.Settings {
	s := relay.DefaultSettings()
	pb := cfg.ParcelBox
	if pb.WorkerPollIntervalSeconds > 0 {
		s.PollInterval = time.Duration(pb.WorkerPollIntervalSeconds) * time.Second
	}
	if pb.WorkerBatchSize > 0 {
		s.BatchSize = pb.WorkerBatchSize
	}
	if pb.WorkerConcurrency > 0 {
		s.Concurrency = pb.WorkerConcurrency
	}
	if pb.WorkerLeaseSeconds > 0 {
		s.Lease = time.Duration(pb.WorkerLeaseSeconds) * time.Second
	}
	if pb.WorkerRateLimitPerMinute > 0 {
		s.RateLimitPerMinute = int64(pb.WorkerRateLimitPerMinute)
	}
	if pb.BreakerFailures > 0 {
		s.BreakerFailures = uint32(pb.BreakerFailures)
	}
	if pb.BreakerTimeoutSeconds > 0 {
		s.BreakerTimeout = time.Duration(pb.BreakerTimeoutSeconds) * time.Second
	}
	if t := cfg.Kafka.StatusUpdateTopicName; t != "" {
		s.Topics["statusUpdate"] = t
	}
	if t := cfg.Kafka.VideoExtractionTopicName; t != "" {
		s.Topics["videoExtraction"] = t
	}
	return s
}

// RunParcelWorker relays the outbox until ctx is done. The HTTP server is started when
// opts.httpAddr is set.
func RunParcelWorker(ctx context.Context, cfg *config.Config, f workerFactories, opts workerHTTPOpts) error {
	repo, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	producer, closeProducer := f.newProducer(cfg)
	if closeProducer != nil {
		defer closeProducer()
	}
	rl := f.newRateLimiter(cfg)

	metrics := relay.NewMetrics("parcelbox")
	r := relay.New(repo, producer, rl, relaySettings(cfg), metrics, slog.Default())

	cleanup := relay.NewCleanupJob(repo, cfg.ParcelBox.CleanupScheduleOrDefault(), cfg.ParcelBox.OutboxRetention(), metrics, slog.Default())
	if err := cleanup.Start(); err != nil {
		return err
	}
	defer cleanup.Stop()

	httpErr := make(chan error, 1)
	if opts.httpAddr != "" {
		opts.relay = r
		opts.metrics = metrics
		opts.cfg = cfg
		if p, ok := repo.(pinger); ok {
			opts.ready = p.Ping
		}
		go func() { httpErr <- runWorkerHTTPServer(ctx, opts) }()
	}

	relayErr := make(chan error, 1)
	go func() { relayErr <- r.Run(ctx) }()

	select {
	case err := <-relayErr:
		return err
	case err := <-httpErr:
		return err
	}
}
