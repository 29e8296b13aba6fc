package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/BearBump/ParcelBox/internal/api/parcels_api"
	"github.com/BearBump/ParcelBox/internal/apperr"
	"github.com/BearBump/ParcelBox/internal/broker/kafka"
	"github.com/BearBump/ParcelBox/internal/broker/messages"
	"github.com/BearBump/ParcelBox/internal/models"
	"github.com/BearBump/ParcelBox/internal/services/parcels"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	httpSwagger "github.com/swaggo/http-swagger"
)

type parcelAPIOpts struct {
	httpAddr    string
	swaggerPath string

	topic         string
	consumerGroup string

	onListen func(httpAddr string)
}

type kafkaConsumer interface {
	Consume(ctx context.Context, handler kafka.Handler) error
}

type scanApplier interface {
	ApplyWarehouseScan(ctx context.Context, actor models.Actor, msg messages.WarehouseScan) (*models.Parcel, error)
}

var scanActor = models.SystemAgent("warehouse-scanner")

func runParcelAPI(ctx context.Context, opts parcelAPIOpts, svc *parcels.Service, consumer kafkaConsumer) error {
	if opts.swaggerPath == "" {
		return fmt.Errorf("swaggerPath env var is required")
	}
	if _, err := os.Stat(opts.swaggerPath); os.IsNotExist(err) {
		return fmt.Errorf("swagger file not found: %s", opts.swaggerPath)
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- runHTTPServer(ctx, lis, parcels_api.New(svc, slog.Default()), opts.swaggerPath)
	}()

	if consumer != nil {
		go func() {
			slog.Info("kafka consumer started", "topic", opts.topic, "group", opts.consumerGroup)
			if err := consumer.Consume(ctx, scanHandler(svc, slog.Default())); err != nil {
				slog.Error("kafka consumer stopped", "topic", opts.topic, "err", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-httpErr:
		return err
	}
}

// scanHandler applies warehouse scans. Malformed or rejected scans are logged and committed,
// infrastructure errors stop the consumer so the message is redelivered.
func scanHandler(svc scanApplier, logger *slog.Logger) kafka.Handler {
	return func(ctx context.Context, key, value []byte) error {
		var m messages.WarehouseScan
		if err := json.Unmarshal(value, &m); err != nil {
			logger.Warn("skip malformed warehouse scan", "key", string(key), "err", err)
			return nil
		}
		_, err := svc.ApplyWarehouseScan(ctx, scanActor, m)
		if err == nil {
			return nil
		}
		if apperr.KindOf(err) != 0 {
			logger.Warn("warehouse scan rejected", "tracking_number", m.TrackingNumber, "station", m.Station, "err", err)
			return nil
		}
		return err
	}
}

func runHTTPServer(ctx context.Context, lis net.Listener, api *parcels_api.ParcelsAPI, swaggerPath string) error {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		http.ServeFile(w, r, swaggerPath)
	})
	r.Get("/docs/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger.json"),
	))
	r.Mount("/", api.Routes())

	srv := &http.Server{Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("HTTP server listening", "addr", lis.Addr().String())
	err := srv.Serve(lis)
	if err == http.ErrServerClosed {
		return ctx.Err()
	}
	return err
}
