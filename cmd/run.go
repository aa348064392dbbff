package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/desertthunder/feedbridge/internal/relay"
	"github.com/desertthunder/feedbridge/internal/repositories"
	"github.com/desertthunder/feedbridge/internal/server"
	"github.com/desertthunder/feedbridge/internal/shared"
	"github.com/desertthunder/feedbridge/internal/telemetry"
	"github.com/desertthunder/feedbridge/internal/transport"
	"github.com/urfave/cli/v3"
)

const shutdownTimeout = 10 * time.Second

// Run starts the relay: store, HTTP surface, event loop and component link.
//
// It blocks until SIGINT/SIGTERM, or until the chat server rejects the component.
func (r *Runner) Run(ctx context.Context, cmd *cli.Command) error {
	config, err := r.loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetry.Init()
	shutdownTracing, err := telemetry.InitTracing(ctx, config.Telemetry.OTLPEndpoint, config.Telemetry.ServiceName, r.logger)
	if err != nil {
		r.logger.Warn("tracing disabled", "error", err)
	} else {
		defer shutdownTracing()
	}

	store, closeDB, err := r.openStore(config)
	if err != nil {
		return err
	}
	defer closeDB()

	if _, err := r.reconcile(ctx, store, config); err != nil {
		return err
	}

	loop := transport.NewLoop(r.logger)
	component := transport.NewComponent(transport.ComponentOptions{
		URL:    config.Component.Server,
		Name:   config.Component.JID,
		Secret: config.Component.Secret,
		Logger: r.logger,
	}, loop)
	rel := relay.New(relay.Options{
		Transport: component,
		Store:     store,
		Config:    config,
		Logger:    r.logger,
	})

	var srv *http.Server
	if config.Server.Port > 0 {
		router := server.NewRouter(rel, r.logger)
		srv = server.NewHTTPServer(config.Server.Host, config.Server.Port, router)
		go func() {
			r.logger.Info("http server listening", "addr", srv.Addr, "routes", router.Routes())
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				r.logger.Error("http server exited", "error", err)
			}
		}()
	}

	errs := make(chan error, 1)
	go loop.Run(ctx)
	go func() { errs <- component.Run(ctx, rel) }()

	r.logger.Info("relay started", "component", config.Component.JID, "services", len(config.Services))

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errs:
	}
	stop()

	r.logger.Info("shutting down")
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			r.logger.Warn("failed to shut down http server", "error", err)
		}
	}
	<-loop.Done()

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

// reconcile applies the declared services to the store and logs what changed.
func (r *Runner) reconcile(ctx context.Context, store *repositories.Store, config *shared.Config) (*repositories.ReconcileReport, error) {
	telemetry.Init()

	var report *repositories.ReconcileReport
	err := store.WithSession(ctx, func(s *repositories.Session) error {
		var err error
		report, err = s.ReconcileServices(ctx, config.Services)
		return err
	})
	if err != nil {
		return nil, err
	}

	for change, names := range map[string][]string{
		"removed":      report.Removed,
		"created_type": report.CreatedTypes,
		"created":      report.Created,
		"retyped":      report.Retyped,
	} {
		if len(names) > 0 {
			telemetry.ReconcileChanges.WithLabelValues(change).Add(float64(len(names)))
			r.logger.Info("services reconciled", "change", change, "names", names)
		}
	}
	if len(report.OrphanTypes) > 0 || len(report.OrphanUsers) > 0 {
		r.logger.Warn("orphaned rows found", "account_types", report.OrphanTypes, "users", report.OrphanUsers)
	}
	return report, nil
}
