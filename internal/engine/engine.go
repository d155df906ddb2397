package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"servicetag/internal/activity"
	"servicetag/internal/domain"
	"servicetag/internal/freshservice"
	"servicetag/internal/logging"
	"servicetag/internal/serial"
)

// Updater applies a tag update to one asset.
type Updater interface {
	UpdateAsset(ctx context.Context, id int64, update freshservice.AssetUpdate) error
}

// Reconciler decides and applies per-asset tag updates.
type Reconciler struct {
	Updater Updater
	// Workers bounds concurrent updates; values below 1 mean sequential.
	Workers int
	Logger  *zap.Logger
	Now     func() time.Time
}

func New(u Updater, workers int, logger *zap.Logger) Reconciler {
	return Reconciler{Updater: u, Workers: workers, Logger: logging.OrNop(logger), Now: time.Now}
}

// Reconcile processes assets and summarizes the run.
func (r Reconciler) Reconcile(ctx context.Context, assets []domain.Asset) domain.RunSummary {
	return activity.Summarize(r.Process(ctx, assets), r.now())
}

// Process returns one outcome per asset, in input order. Update failures are
// recorded on the asset's outcome and never stop the batch.
func (r Reconciler) Process(ctx context.Context, assets []domain.Asset) []domain.AssetOutcome {
	outcomes := make([]domain.AssetOutcome, len(assets))
	workers := r.Workers
	if workers < 1 {
		workers = 1
	}
	// Plain Group: a failed asset must not cancel its siblings.
	var g errgroup.Group
	g.SetLimit(workers)
	for i := range assets {
		i := i
		g.Go(func() error {
			defer func() {
				if p := recover(); p != nil {
					a := assets[i]
					outcomes[i] = domain.AssetOutcome{AssetID: a.ID, AssetName: a.Name, CategoryID: a.CategoryID,
						Outcome: domain.OutcomeError, Error: fmt.Sprintf("panic: %v", p)}
				}
			}()
			outcomes[i] = r.process(ctx, assets[i])
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (r Reconciler) process(ctx context.Context, a domain.Asset) domain.AssetOutcome {
	out := domain.AssetOutcome{AssetID: a.ID, AssetName: a.Name, CategoryID: a.CategoryID}
	tag, ok := Decide(a)
	if !ok {
		out.Outcome = tag
		r.log().Debug("skipped asset", zap.Int64("asset_id", a.ID), zap.String("outcome", string(tag)))
		return out
	}
	update := freshservice.AssetUpdate{
		AssetTag:    a.SerialNumber,
		Description: ProvenanceDescription(a.Description, a.SerialNumber),
	}
	if err := ctx.Err(); err != nil {
		out.Outcome = domain.OutcomeError
		out.Error = err.Error()
		return out
	}
	if err := r.Updater.UpdateAsset(ctx, a.ID, update); err != nil {
		out.Outcome = domain.OutcomeError
		out.Error = errorDetail(err)
		r.log().Warn("failed to update asset", zap.Int64("asset_id", a.ID), zap.String("error", out.Error))
		return out
	}
	out.Outcome = domain.OutcomeUpdated
	out.NewTag = a.SerialNumber
	r.log().Info("updated asset with service tag", zap.Int64("asset_id", a.ID), zap.String("service_tag", a.SerialNumber))
	return out
}

// Decide walks the skip ladder. It returns OutcomeUpdated and true when the
// asset needs an update, or the skip outcome and false.
func Decide(a domain.Asset) (domain.OutcomeTag, bool) {
	switch {
	case strings.TrimSpace(a.SerialNumber) == "":
		return domain.OutcomeSkippedNoSerial, false
	case a.AssetTag == a.SerialNumber:
		return domain.OutcomeSkippedAlreadyMatching, false
	case !serial.IsVendorSerial(a.SerialNumber):
		return domain.OutcomeSkippedNotVendorFormat, false
	}
	return domain.OutcomeUpdated, true
}

// ProvenanceDescription appends the service tag line to an existing description.
func ProvenanceDescription(existing, tag string) string {
	line := "Service Tag: " + tag
	if existing == "" {
		return line
	}
	return existing + "\n\n" + line
}

func errorDetail(err error) string {
	var ue *freshservice.UpdateError
	if errors.As(err, &ue) {
		return ue.Detail
	}
	return err.Error()
}

func (r Reconciler) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r Reconciler) log() *zap.Logger {
	return logging.OrNop(r.Logger)
}
