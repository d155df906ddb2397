// Package app wires configuration, the Freshservice client, storage and the
// sync trigger into one service.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"servicetag/internal/config"
	"servicetag/internal/db"
	"servicetag/internal/engine"
	"servicetag/internal/fetch"
	"servicetag/internal/freshservice"
	"servicetag/internal/logging"
	"servicetag/internal/migrate"
	"servicetag/internal/repo"
	"servicetag/internal/scheduler"
	"servicetag/internal/trigger"
)

// FirstRunDelay is how long after install the first scheduled sync fires.
const FirstRunDelay = time.Minute

// Service bundles the collaborators of a running installation.
type Service struct {
	Config  *config.Config
	DB      *sql.DB
	Repo    repo.Repo
	Client  *freshservice.Client
	Fetcher fetch.Fetcher
	Trigger *trigger.Trigger
	Logger  *zap.Logger
}

// Open opens the workspace database, applies migrations and builds the
// service from cfg.
func Open(ctx context.Context, workspace string, cfg *config.Config, logger *zap.Logger) (*Service, error) {
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := migrate.MigrateContext(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return New(cfg, conn, logger), nil
}

// New builds the service on an already migrated database.
func New(cfg *config.Config, conn *sql.DB, logger *zap.Logger) *Service {
	logger = logging.OrNop(logger)
	client := NewClient(cfg)
	f := fetch.New(client, logger.Named("fetch"))
	r := engine.New(client, cfg.Sync.Workers, logger.Named("engine"))
	store := repo.New(conn)
	return &Service{
		Config:  cfg,
		DB:      conn,
		Repo:    store,
		Client:  client,
		Fetcher: f,
		Trigger: trigger.New(cfg.SyncConfiguration(), f, r, store, logger.Named("trigger")),
		Logger:  logger,
	}
}

// NewClient builds a Freshservice client from the configuration.
func NewClient(cfg *config.Config) *freshservice.Client {
	c := freshservice.New(cfg.BaseURL(), cfg.Freshservice.APIKey)
	if t := time.Duration(cfg.Freshservice.Timeout); t > 0 {
		c.Timeout = t
	}
	return c
}

// Close releases the database.
func (s *Service) Close() error {
	if s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// Install registers the recurring sync: first run one minute after now, then
// every sync_schedule hours.
func Install(s *scheduler.Scheduler, cfg *config.Config, now time.Time) (scheduler.Job, error) {
	job := scheduler.Job{
		Name:    config.JobName,
		StartAt: now.Add(FirstRunDelay),
		Every:   time.Duration(cfg.IntervalHours()) * time.Hour,
	}
	if err := s.Create(job); err != nil {
		return scheduler.Job{}, fmt.Errorf("install %s: %w", config.JobName, err)
	}
	return job, nil
}

// NewScheduler returns a scheduler dispatching due jobs to the service's trigger.
func (s *Service) NewScheduler() *scheduler.Scheduler {
	return scheduler.New(s.Trigger.HandleScheduled, s.Logger.Named("scheduler"))
}
