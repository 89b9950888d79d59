package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"fleetroute/internal/api"
	"fleetroute/internal/config"
	"fleetroute/internal/metrics"
	"fleetroute/internal/store"
)

func main() {
	log := zerolog.New(os.Stdout).With().Timestamp().Str("service", "fleetroute").Logger()
	if os.Getenv("LOG_PRETTY") == "1" {
		log = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	cfgPath := os.Getenv("CONFIG_FILE")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	srv, err := api.NewServer(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("init server")
	}

	if pg, ok := srv.Store.(*store.Postgres); ok {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		if err := pg.Migrate(ctx); err != nil {
			cancel()
			log.Fatal().Err(err).Msg("migrate schema")
		}
		cancel()
	}

	metrics.RegisterDefault()

	mux := http.NewServeMux()

	// Planning
	mux.HandleFunc("/v1/plan", srv.PlanHandler)
	mux.HandleFunc("/v1/plan/jobs/", srv.PlanJobHandler)
	mux.HandleFunc("/v1/clusters/preview", srv.ClustersPreviewHandler)
	mux.HandleFunc("/v1/points/import", srv.PointsImportHandler)

	// Routes
	mux.HandleFunc("/v1/routes", srv.RoutesIndexHandler)
	mux.HandleFunc("/v1/routes/", srv.RouteByIDHandler) // includes /optimize, /emissions, /events/stream

	// Tracking
	mux.HandleFunc("/v1/positions", srv.PositionsHandler)
	mux.HandleFunc("/v1/vehicles/", srv.VehiclePositionsHandler)
	mux.HandleFunc("/v1/tracking/fleet", srv.FleetHandler)
	mux.HandleFunc("/v1/tracking/ws", srv.TrackingWSHandler)

	// Health and metrics
	mux.HandleFunc("/healthz", srv.HealthHandler)
	mux.HandleFunc("/readyz", srv.ReadyHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	// Docs and debug
	mux.HandleFunc("/openapi.yaml", srv.OpenAPIHandler)
	mux.HandleFunc("/docs", srv.DocsHandler)
	mux.HandleFunc("/debug/info", srv.DebugHandler)

	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           srv.Instrumented(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	purger := srv.NewPurger()
	purger.Start()

	go func() {
		log.Info().Str("addr", cfg.HTTP.Addr).Msg("API listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	close(purger.Stop)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("shutdown")
	}
}
