package fetch

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"servicetag/internal/domain"
	"servicetag/internal/freshservice"
)

type fakeLister struct {
	pages  map[int][]domain.Asset
	byType map[string][]domain.Asset
	fail   map[string]error
	calls  []freshservice.ListOptions
}

func (f *fakeLister) ListAssets(_ context.Context, opts freshservice.ListOptions) ([]domain.Asset, error) {
	f.calls = append(f.calls, opts)
	key := fmt.Sprintf("page:%d", opts.Page)
	if opts.Filter != "" {
		key = opts.Filter
	}
	if err, ok := f.fail[key]; ok {
		return nil, err
	}
	if opts.Filter != "" {
		return f.byType[opts.Filter], nil
	}
	return f.pages[opts.Page], nil
}

// page builds n assets starting at id, alternating vendor and non-vendor serials.
func page(start, n int) []domain.Asset {
	out := make([]domain.Asset, 0, n)
	for i := 0; i < n; i++ {
		id := int64(start + i)
		sn := fmt.Sprintf("ABC%04d", id%10000)
		if i%2 == 1 {
			sn = "NOT-A-TAG"
		}
		out = append(out, domain.Asset{ID: id, SerialNumber: sn})
	}
	return out
}

func vendorIDs(assets []domain.Asset) []int64 {
	var ids []int64
	for _, a := range assets {
		ids = append(ids, a.ID)
	}
	return ids
}

func TestAutoDetectPaginatesUntilShortPage(t *testing.T) {
	l := &fakeLister{pages: map[int][]domain.Asset{
		1: page(1, 100),
		2: page(101, 100),
		3: page(201, 37),
		4: page(301, 100),
	}}
	res, err := New(l, nil).Candidates(context.Background(), domain.SyncConfiguration{AutoDetect: true})
	if err != nil {
		t.Fatalf("candidates: %v", err)
	}
	if len(l.calls) != 3 {
		t.Fatalf("expected 3 page requests, got %d", len(l.calls))
	}
	for i, c := range l.calls {
		if c.Page != i+1 || c.PerPage != 100 || c.Filter != "" {
			t.Fatalf("call %d unexpected options %+v", i, c)
		}
	}
	var want []int64
	for _, p := range [][]domain.Asset{l.pages[1], l.pages[2], l.pages[3]} {
		for i, a := range p {
			if i%2 == 0 {
				want = append(want, a.ID)
			}
		}
	}
	if diff := cmp.Diff(want, vendorIDs(res.Assets)); diff != "" {
		t.Fatalf("assets (-want +got):\n%s", diff)
	}
	if res.Strategy != StrategyAutoDetect || res.Pages != 3 {
		t.Fatalf("unexpected result meta %+v", res)
	}
}

func TestAutoDetectPartialOnPageError(t *testing.T) {
	l := &fakeLister{
		pages: map[int][]domain.Asset{1: page(1, 100), 3: page(201, 10)},
		fail:  map[string]error{"page:2": errors.New("boom")},
	}
	res, err := New(l, nil).Candidates(context.Background(), domain.SyncConfiguration{AutoDetect: true})
	if err != nil {
		t.Fatalf("partial result should not fail: %v", err)
	}
	if len(res.Assets) != 50 {
		t.Fatalf("expected 50 vendor assets from page 1, got %d", len(res.Assets))
	}
	if len(res.Errors) != 1 || len(l.calls) != 2 {
		t.Fatalf("expected pagination to stop after failed page: errors=%d calls=%d", len(res.Errors), len(l.calls))
	}
}

func TestAutoDetectFirstPageFailure(t *testing.T) {
	l := &fakeLister{fail: map[string]error{"page:1": errors.New("down")}}
	_, err := New(l, nil).Candidates(context.Background(), domain.SyncConfiguration{AutoDetect: true})
	if !errors.Is(err, ErrNoCandidates) {
		t.Fatalf("expected ErrNoCandidates, got %v", err)
	}
}

func TestAutoDetectMaxPages(t *testing.T) {
	l := &fakeLister{pages: map[int][]domain.Asset{1: page(1, 100), 2: page(101, 100), 3: page(201, 100)}}
	f := New(l, nil)
	f.MaxPages = 2
	if _, err := f.Candidates(context.Background(), domain.SyncConfiguration{AutoDetect: true}); err != nil {
		t.Fatal(err)
	}
	if len(l.calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(l.calls))
	}
}

func TestCategoryFilterSkipsFailedType(t *testing.T) {
	l := &fakeLister{
		byType: map[string][]domain.Asset{
			"asset_type_id:10": {{ID: 1}, {ID: 2}},
			"asset_type_id:30": {{ID: 3}},
		},
		fail: map[string]error{"asset_type_id:20": errors.New("timeout")},
	}
	res, err := New(l, nil).Candidates(context.Background(), domain.SyncConfiguration{CategoryIDs: []string{"10", "20", "30"}})
	if err != nil {
		t.Fatalf("candidates: %v", err)
	}
	if diff := cmp.Diff([]int64{1, 2, 3}, vendorIDs(res.Assets)); diff != "" {
		t.Fatalf("assets (-want +got):\n%s", diff)
	}
	if len(res.Errors) != 1 || res.Strategy != StrategyCategory {
		t.Fatalf("unexpected result %+v", res)
	}
	for _, c := range l.calls {
		if c.Page != 0 || c.PerPage != 100 {
			t.Fatalf("category request should be single page: %+v", c)
		}
	}
}

func TestCategoryFilterAllFailed(t *testing.T) {
	l := &fakeLister{fail: map[string]error{"asset_type_id:10": errors.New("x")}}
	_, err := New(l, nil).Candidates(context.Background(), domain.SyncConfiguration{CategoryIDs: []string{"10"}})
	if !errors.Is(err, ErrNoCandidates) {
		t.Fatalf("expected ErrNoCandidates, got %v", err)
	}
}

func TestUnfilteredFallback(t *testing.T) {
	l := &fakeLister{pages: map[int][]domain.Asset{0: {{ID: 5, SerialNumber: "nope"}}}}
	res, err := New(l, nil).Candidates(context.Background(), domain.SyncConfiguration{})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Assets) != 1 || res.Strategy != StrategyUnfiltered {
		t.Fatalf("fallback must not pre-filter: %+v", res)
	}
	if len(l.calls) != 1 {
		t.Fatalf("expected a single request")
	}

	failing := &fakeLister{fail: map[string]error{"page:0": errors.New("x")}}
	if _, err := New(failing, nil).Candidates(context.Background(), domain.SyncConfiguration{}); !errors.Is(err, ErrNoCandidates) {
		t.Fatalf("expected ErrNoCandidates, got %v", err)
	}
}

func TestEstimate(t *testing.T) {
	l := &fakeLister{
		pages:  map[int][]domain.Asset{0: page(1, 10)},
		byType: map[string][]domain.Asset{"asset_type_id:1 OR asset_type_id:2": {{ID: 1}, {ID: 2}, {ID: 3}}},
	}
	f := New(l, nil)
	est, err := f.Estimate(context.Background(), domain.SyncConfiguration{AutoDetect: true})
	if err != nil || est.Count != 5 || est.Sampled != 10 {
		t.Fatalf("auto-detect estimate = %+v, %v", est, err)
	}
	est, err = f.Estimate(context.Background(), domain.SyncConfiguration{CategoryIDs: []string{"1", "2"}})
	if err != nil || est.Count != 3 {
		t.Fatalf("category estimate = %+v, %v", est, err)
	}
	est, err = f.Estimate(context.Background(), domain.SyncConfiguration{})
	if err != nil || est.Count != 10 || est.Strategy != StrategyUnfiltered {
		t.Fatalf("unfiltered estimate = %+v, %v", est, err)
	}
}
