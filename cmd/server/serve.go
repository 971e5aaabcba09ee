package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rl1809/registration/internal/adapter/catalog"
	"github.com/rl1809/registration/internal/adapter/handler"
	"github.com/rl1809/registration/internal/adapter/metrics"
	"github.com/rl1809/registration/internal/adapter/storage"
	"github.com/rl1809/registration/internal/adapter/tracing"
	"github.com/rl1809/registration/internal/core/service"
	"github.com/rl1809/registration/internal/port"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve HTTP and gRPC and run the outbox relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.cfg.ValidateServe(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	tp, err := tracing.NewProvider(ctx, a.cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			a.log.Warn("tracer shutdown", slog.Any("error", err))
		}
	}()

	db, store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	rdb, leases, err := a.openRedis(ctx)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
	}

	publisher, err := a.newPublisher()
	if err != nil {
		return fmt.Errorf("failed to connect nats: %w", err)
	}
	defer publisher.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewPrometheus(reg)

	relay := a.newRelay(store, publisher, leases, m)

	opts := []service.Option{
		service.WithNotifier(relay),
		service.WithMetrics(m),
		service.WithTracer(tp.Tracer()),
		service.WithLogger(a.log),
	}
	if a.cfg.Catalog.BaseURL != "" {
		source := catalog.NewHTTPClient(catalog.ClientConfig{
			BaseURL:   a.cfg.Catalog.BaseURL,
			RateLimit: a.cfg.Catalog.RateLimit,
		})
		opts = append(opts, service.WithCatalog(catalog.NewCachedClient(source, a.cfg.Catalog.CacheTTL, a.cfg.Catalog.PageSize, a.log)))
	}
	svc := service.NewRegistrationService(store, a.cfg.ServiceName, opts...)

	auth := handler.NewAuthenticator(a.cfg.Auth.HMACSecret, a.cfg.Auth.Issuer)
	httpServer := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           handler.NewHTTPHandler(svc, a.log).Routes(auth, promhttp.HandlerFor(reg, promhttp.HandlerOpts{})),
		ReadHeaderTimeout: 10 * time.Second,
	}
	grpcServer := handler.NewGRPCServer(handler.NewGRPCHandler(svc), auth)
	lis, err := net.Listen("tcp", a.cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.Info("gRPC server listening", slog.String("addr", a.cfg.GRPCAddr))
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		a.log.Info("HTTP server listening", slog.String("addr", a.cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return relay.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			a.log.Warn("HTTP shutdown", slog.Any("error", err))
		}
		a.log.Info("HTTP server stopped")
		grpcServer.GracefulStop()
		a.log.Info("gRPC server stopped")
		return nil
	})

	err = g.Wait()
	a.log.Info("connections closed")
	return err
}

func (a *app) newRelay(store *storage.SQLStore, publisher port.EventPublisher, leases *storage.RedisAdapter, m port.Metrics) *service.OutboxRelay {
	opts := []service.RelayOption{service.WithRelayMetrics(m), service.WithRelayLogger(a.log)}
	if leases != nil {
		opts = append(opts, service.WithLeases(leases))
	}
	return service.NewOutboxRelay(store, publisher, service.RelayConfig{
		BatchSize:    a.cfg.Outbox.BatchSize,
		PollInterval: a.cfg.Outbox.PollInterval,
		LeaseTTL:     a.cfg.Redis.LeaseTTL,
		MaxBackoff:   a.cfg.Outbox.MaxBackoff,
	}, opts...)
}
