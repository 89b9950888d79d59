package api

import (
	"github.com/rs/zerolog"

	"fleetroute/internal/config"
	"fleetroute/internal/planner"
	"fleetroute/internal/routing"
	"fleetroute/internal/store"
	"fleetroute/internal/tracking"
)

// Server bundles the engines behind the HTTP surface.
type Server struct {
	Store     store.Store
	Broker    EventBroker
	Provider  routing.Provider
	Planner   *planner.Service
	Jobs      *planner.Jobs
	Optimizer *planner.Optimizer
	Tracker   *tracking.Engine
	Locations *LocationCache
	Cfg       config.Config
	Log       zerolog.Logger
}

// NewServer wires a Server from configuration. With no database URL the
// in-memory store is used; with no Redis URL the in-process broker; with no
// routing base URL the offline great-circle provider.
func NewServer(cfg config.Config, log zerolog.Logger) (*Server, error) {
	var s store.Store
	if cfg.Database.URL == "" {
		s = store.NewMemory()
	} else {
		pg, err := store.NewPostgres(cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		s = pg
	}

	var broker EventBroker
	if cfg.Redis.URL != "" {
		rb, err := NewRedisBroker(cfg.Redis.URL)
		if err != nil {
			log.Warn().Err(err).Msg("redis broker unavailable, using in-process broker")
			broker = NewBroker()
		} else {
			broker = rb
		}
	} else {
		broker = NewBroker()
	}

	var provider routing.Provider
	if cfg.Routing.BaseURL != "" {
		p, err := routing.NewOSRMProvider(cfg.Routing.BaseURL, cfg.Routing.Timeout.Duration, cfg.Routing.Attempts)
		if err != nil {
			return nil, err
		}
		provider = p
	} else {
		provider = &routing.LocalProvider{}
	}

	svc := &planner.Service{Store: s, Log: log}
	srv := &Server{
		Store:     s,
		Broker:    broker,
		Provider:  provider,
		Planner:   svc,
		Jobs:      planner.NewJobs(svc, s, log),
		Optimizer: &planner.Optimizer{Store: s, Provider: provider, Timeout: cfg.Routing.Timeout.Duration, Log: log},
		Tracker: tracking.NewEngine(s, tracking.Config{
			RadiusM:       cfg.Tracking.GeofenceRadiusM,
			DwellAfter:    cfg.Tracking.DwellAfter.Duration,
			MinInterval:   cfg.Tracking.MinInterval.Duration,
			RetentionDays: cfg.Tracking.RetentionDays,
		}, log),
		Locations: NewLocationCache(),
		Cfg:       cfg,
		Log:       log,
	}
	return srv, nil
}

// NewPurger creates the background position retention worker.
func (s *Server) NewPurger() *tracking.Purger {
	return tracking.NewPurger(s.Store, s.Tracker, s.Log)
}
