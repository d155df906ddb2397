// Package fetch discovers candidate assets using one of three strategies:
// auto-detect by serial format, explicit asset type filter, or an unfiltered page.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"servicetag/internal/domain"
	"servicetag/internal/freshservice"
	"servicetag/internal/logging"
	"servicetag/internal/serial"
)

// Strategy names.
const (
	StrategyAutoDetect = "auto_detect"
	StrategyCategory   = "asset_type_filter"
	StrategyUnfiltered = "unfiltered"
)

// ErrNoCandidates means every request issued by the strategy failed.
var ErrNoCandidates = errors.New("no assets could be fetched")

// Lister is the paginated-list capability of the remote service.
type Lister interface {
	ListAssets(ctx context.Context, opts freshservice.ListOptions) ([]domain.Asset, error)
}

// Result is the outcome of a fetch.
type Result struct {
	Strategy string
	Assets   []domain.Asset
	// Pages counts successful requests.
	Pages int
	// Errors holds the per-page or per-category failures that were skipped.
	Errors []error
}

type Fetcher struct {
	Lister   Lister
	PageSize int
	// MaxPages caps auto-detect pagination; zero means unbounded.
	MaxPages int
	Logger   *zap.Logger
}

func New(l Lister, logger *zap.Logger) Fetcher {
	return Fetcher{Lister: l, PageSize: freshservice.PageSize, Logger: logging.OrNop(logger)}
}

// StrategyFor reports which strategy a configuration selects.
func StrategyFor(cfg domain.SyncConfiguration) string {
	switch {
	case cfg.AutoDetect:
		return StrategyAutoDetect
	case len(cfg.CategoryIDs) > 0:
		return StrategyCategory
	default:
		return StrategyUnfiltered
	}
}

// Candidates returns the assets a run should consider, in fetch order.
func (f Fetcher) Candidates(ctx context.Context, cfg domain.SyncConfiguration) (Result, error) {
	var (
		res Result
		err error
	)
	switch StrategyFor(cfg) {
	case StrategyAutoDetect:
		f.log().Info("auto-detecting dell assets across all asset types")
		res, err = f.autoDetect(ctx)
	case StrategyCategory:
		f.log().Info("fetching dell assets by asset type", zap.Strings("asset_type_ids", cfg.CategoryIDs))
		res, err = f.byCategory(ctx, cfg.CategoryIDs)
	default:
		f.log().Info("fetching all assets (no dell asset types configured)")
		res, err = f.unfiltered(ctx)
	}
	if err != nil {
		return res, err
	}
	f.log().Info("fetched candidate assets",
		zap.String("strategy", res.Strategy),
		zap.Int("assets", len(res.Assets)),
		zap.Int("pages", res.Pages),
		zap.Int("failed_requests", len(res.Errors)))
	return res, nil
}

func (f Fetcher) autoDetect(ctx context.Context) (Result, error) {
	res := Result{Strategy: StrategyAutoDetect}
	size := f.pageSize()
	for page := 1; f.MaxPages == 0 || page <= f.MaxPages; page++ {
		assets, err := f.Lister.ListAssets(ctx, freshservice.ListOptions{Page: page, PerPage: size})
		if err != nil {
			f.log().Warn("fetch assets page failed; stopping pagination", zap.Int("page", page), zap.Error(err))
			res.Errors = append(res.Errors, fmt.Errorf("page %d: %w", page, err))
			break
		}
		res.Pages++
		for _, a := range assets {
			if serial.IsVendorSerial(a.SerialNumber) {
				res.Assets = append(res.Assets, a)
			}
		}
		if len(assets) < size {
			break
		}
	}
	if res.Pages == 0 && len(res.Errors) > 0 {
		return res, noCandidates(res.Errors)
	}
	return res, nil
}

func (f Fetcher) byCategory(ctx context.Context, ids []string) (Result, error) {
	res := Result{Strategy: StrategyCategory}
	for _, id := range ids {
		assets, err := f.Lister.ListAssets(ctx, freshservice.ListOptions{PerPage: f.pageSize(), Filter: categoryFilter(id)})
		if err != nil {
			f.log().Warn("fetch assets for asset type failed", zap.String("asset_type_id", id), zap.Error(err))
			res.Errors = append(res.Errors, fmt.Errorf("asset type %s: %w", id, err))
			continue
		}
		res.Pages++
		res.Assets = append(res.Assets, assets...)
	}
	if res.Pages == 0 && len(res.Errors) > 0 {
		return res, noCandidates(res.Errors)
	}
	return res, nil
}

func (f Fetcher) unfiltered(ctx context.Context) (Result, error) {
	res := Result{Strategy: StrategyUnfiltered}
	assets, err := f.Lister.ListAssets(ctx, freshservice.ListOptions{PerPage: f.pageSize()})
	if err != nil {
		res.Errors = append(res.Errors, err)
		return res, noCandidates(res.Errors)
	}
	res.Pages = 1
	res.Assets = assets
	return res, nil
}

// Estimate is the dashboard's single-page count of vendor assets.
type Estimate struct {
	Strategy string `json:"strategy"`
	Sampled  int    `json:"sampled"`
	Count    int    `json:"count"`
}

// Estimate issues one request and counts matching assets. In auto-detect mode
// only vendor-format serials are counted; otherwise every returned asset is.
func (f Fetcher) Estimate(ctx context.Context, cfg domain.SyncConfiguration) (Estimate, error) {
	strategy := StrategyFor(cfg)
	opts := freshservice.ListOptions{PerPage: f.pageSize()}
	if strategy == StrategyCategory {
		opts.Filter = CombinedFilter(cfg.CategoryIDs)
	}
	assets, err := f.Lister.ListAssets(ctx, opts)
	if err != nil {
		return Estimate{Strategy: strategy}, fmt.Errorf("estimate assets: %w", err)
	}
	est := Estimate{Strategy: strategy, Sampled: len(assets)}
	if strategy != StrategyAutoDetect {
		est.Count = len(assets)
		return est, nil
	}
	for _, a := range assets {
		if serial.IsVendorSerial(a.SerialNumber) {
			est.Count++
		}
	}
	return est, nil
}

// CombinedFilter joins asset type ids into a single OR query.
func CombinedFilter(ids []string) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, categoryFilter(id))
	}
	return strings.Join(parts, " OR ")
}

func categoryFilter(id string) string {
	return "asset_type_id:" + id
}

func noCandidates(errs []error) error {
	return fmt.Errorf("%w: %w", ErrNoCandidates, errors.Join(errs...))
}

func (f Fetcher) pageSize() int {
	if f.PageSize > 0 {
		return f.PageSize
	}
	return freshservice.PageSize
}

func (f Fetcher) log() *zap.Logger {
	return logging.OrNop(f.Logger)
}
