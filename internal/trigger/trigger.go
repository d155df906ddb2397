// Package trigger runs the sync workflow for manual and scheduled requests,
// one run at a time.
package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"servicetag/internal/config"
	"servicetag/internal/domain"
	"servicetag/internal/fetch"
	"servicetag/internal/logging"
)

// ErrAlreadyRunning rejects a trigger received while a run is in progress.
var ErrAlreadyRunning = errors.New("sync already running")

type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Fetcher discovers the assets of a run.
type Fetcher interface {
	Candidates(ctx context.Context, cfg domain.SyncConfiguration) (fetch.Result, error)
}

// Reconciler processes fetched assets.
type Reconciler interface {
	Reconcile(ctx context.Context, assets []domain.Asset) domain.RunSummary
}

// Store persists run results.
type Store interface {
	RecordRun(ctx context.Context, s domain.RunSummary) error
	RecordFailure(ctx context.Context, source string, cause error) error
}

// JobRequest is the manual invocation payload.
type JobRequest struct {
	Name string `json:"name"`
}

// JobResult is returned to manual and scheduled callers.
type JobResult struct {
	Success       bool   `json:"success"`
	UpdatedAssets int    `json:"updatedAssets"`
	TotalAssets   int    `json:"totalAssets"`
	Error         string `json:"error,omitempty"`
}

// Status is a snapshot of the trigger.
type Status struct {
	State       State              `json:"state" enum:"idle,running,completed,failed"`
	StartedAt   string             `json:"started_at,omitempty" format:"date-time"`
	FinishedAt  string             `json:"finished_at,omitempty" format:"date-time"`
	LastError   string             `json:"last_error,omitempty"`
	LastSummary *domain.RunSummary `json:"last_summary,omitempty"`
}

type Trigger struct {
	Config     domain.SyncConfiguration
	Fetcher    Fetcher
	Reconciler Reconciler
	Store      Store
	Logger     *zap.Logger
	Now        func() time.Time

	mu     sync.Mutex
	status Status
}

func New(cfg domain.SyncConfiguration, f Fetcher, r Reconciler, s Store, logger *zap.Logger) *Trigger {
	return &Trigger{
		Config:     cfg,
		Fetcher:    f,
		Reconciler: r,
		Store:      s,
		Logger:     logging.OrNop(logger),
		Now:        time.Now,
		status:     Status{State: StateIdle},
	}
}

// DecodeJobRequest parses a raw job payload.
func DecodeJobRequest(data []byte) (JobRequest, error) {
	var req JobRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return JobRequest{}, config.ConfigurationError{Field: "payload", Reason: fmt.Sprintf("invalid job payload: %v", err)}
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return JobRequest{}, config.ConfigurationError{Field: "name", Reason: "job name is required"}
	}
	return req, nil
}

// ExecuteJob is the manual entry point.
func (t *Trigger) ExecuteJob(ctx context.Context, name string) JobResult {
	if name != config.JobName {
		return JobResult{Error: "Unknown job name"}
	}
	return ResultOf(t.Run(ctx, domain.SourceManual))
}

// HandleScheduled is the scheduler's entry point. Unknown jobs are logged and ignored.
func (t *Trigger) HandleScheduled(ctx context.Context, name string) {
	t.log().Info("scheduled event triggered", zap.String("job", name))
	if name != config.JobName {
		t.log().Warn("unknown scheduled job", zap.String("job", name))
		return
	}
	res := ResultOf(t.Run(ctx, domain.SourceScheduled))
	if !res.Success {
		t.log().Error("scheduled sync failed", zap.String("error", res.Error))
	}
}

// Run executes one complete sync. It fails with ErrAlreadyRunning when a run
// is in progress, or when discovery could not produce any candidates.
func (t *Trigger) Run(ctx context.Context, source string) (domain.RunSummary, error) {
	if err := t.begin(); err != nil {
		return domain.RunSummary{}, err
	}
	t.log().Info("starting dell asset sync", zap.String("source", source))
	summary, err := t.run(ctx, source)
	if err != nil {
		t.log().Error("dell asset sync failed", zap.String("source", source), zap.Error(err))
		if serr := t.Store.RecordFailure(context.WithoutCancel(ctx), source, err); serr != nil {
			t.log().Warn("record sync failure", zap.Error(serr))
		}
		t.finish(nil, err)
		return domain.RunSummary{}, err
	}
	t.log().Info("dell asset sync completed",
		zap.String("run_id", summary.ID),
		zap.Int("updated", summary.UpdatedAssets),
		zap.Int("total", summary.TotalAssets))
	if serr := t.Store.RecordRun(context.WithoutCancel(ctx), summary); serr != nil {
		t.log().Warn("record sync activity", zap.Error(serr))
	}
	t.finish(&summary, nil)
	return summary, nil
}

func (t *Trigger) run(ctx context.Context, source string) (summary domain.RunSummary, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("sync panicked: %v", p)
		}
	}()
	res, err := t.Fetcher.Candidates(ctx, t.Config)
	if err != nil {
		return domain.RunSummary{}, err
	}
	t.log().Info("found dell assets to process", zap.Int("assets", len(res.Assets)))
	summary = t.Reconciler.Reconcile(ctx, res.Assets)
	summary.Strategy = res.Strategy
	summary.Source = source
	return summary, nil
}

// Status returns the current state and the last run's result.
func (t *Trigger) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

func (t *Trigger) begin() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.State == StateRunning {
		return ErrAlreadyRunning
	}
	t.status.State = StateRunning
	t.status.StartedAt = t.now().UTC().Format(time.RFC3339)
	t.status.FinishedAt = ""
	return nil
}

func (t *Trigger) finish(summary *domain.RunSummary, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.FinishedAt = t.now().UTC().Format(time.RFC3339)
	if err != nil {
		t.status.State = StateFailed
		t.status.LastError = err.Error()
		return
	}
	t.status.State = StateCompleted
	t.status.LastError = ""
	t.status.LastSummary = summary
}

// ResultOf converts a run's return values to the job result shape.
func ResultOf(s domain.RunSummary, err error) JobResult {
	if err != nil {
		return JobResult{Error: err.Error()}
	}
	return JobResult{Success: true, UpdatedAssets: s.UpdatedAssets, TotalAssets: s.TotalAssets}
}

func (t *Trigger) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}

func (t *Trigger) log() *zap.Logger {
	return logging.OrNop(t.Logger)
}
