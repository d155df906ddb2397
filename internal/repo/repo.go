package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"servicetag/internal/activity"
	"servicetag/internal/domain"
	"servicetag/internal/events"
)

// Keys of the dashboard key-value entries.
const (
	KeyLastSyncTime   = "lastSyncTime"
	KeyRecentActivity = "recentActivity"
)

type Repo struct {
	DB     *sql.DB
	Events events.Writer
	Now    func() time.Time
}

var ErrNotFound = errors.New("not found")

func New(db *sql.DB) Repo {
	return Repo{DB: db, Events: events.Writer{}, Now: time.Now}
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type activityDoc struct {
	Activities []domain.ActivityEntry `json:"activities"`
}

func (r Repo) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// GetValue reads a key-value entry.
func (r Repo) GetValue(ctx context.Context, key string) (string, error) {
	return getValue(ctx, r.DB, key)
}

// SetValue upserts a key-value entry.
func (r Repo) SetValue(ctx context.Context, key, value string) error {
	return r.setValue(ctx, r.DB, key, value)
}

func getValue(ctx context.Context, q querier, key string) (string, error) {
	var v string
	err := q.QueryRowContext(ctx, `SELECT value FROM kv WHERE key=?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return v, err
}

func (r Repo) setValue(ctx context.Context, q querier, key, value string) error {
	_, err := q.ExecContext(ctx, `INSERT INTO kv(key,value,updated_at) VALUES (?,?,?)
ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		key, value, r.now().UTC().Format(time.RFC3339))
	return err
}

// LastSyncTime returns the RFC 3339 timestamp of the last completed run.
func (r Repo) LastSyncTime(ctx context.Context) (string, error) {
	return r.GetValue(ctx, KeyLastSyncTime)
}

// RecentActivity returns the activity history, newest first.
func (r Repo) RecentActivity(ctx context.Context) ([]domain.ActivityEntry, error) {
	return recentActivity(ctx, r.DB)
}

func recentActivity(ctx context.Context, q querier) ([]domain.ActivityEntry, error) {
	raw, err := getValue(ctx, q, KeyRecentActivity)
	if errors.Is(err, ErrNotFound) {
		return []domain.ActivityEntry{}, nil
	}
	if err != nil {
		return nil, err
	}
	var doc activityDoc
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", KeyRecentActivity, err)
	}
	if doc.Activities == nil {
		doc.Activities = []domain.ActivityEntry{}
	}
	return doc.Activities, nil
}

// RecordRun persists a completed run: the activity history entry, the last
// sync time, the run row and the audit events, in one transaction.
func (r Repo) RecordRun(ctx context.Context, s domain.RunSummary) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	history, err := recentActivity(ctx, tx)
	if err != nil {
		return err
	}
	history = activity.Record(history, activity.NewEntry(s))
	doc, err := json.Marshal(activityDoc{Activities: history})
	if err != nil {
		return fmt.Errorf("encode activity: %w", err)
	}
	if err := r.setValue(ctx, tx, KeyRecentActivity, string(doc)); err != nil {
		return fmt.Errorf("save activity: %w", err)
	}
	if err := r.setValue(ctx, tx, KeyLastSyncTime, s.Timestamp); err != nil {
		return fmt.Errorf("save last sync time: %w", err)
	}
	summaryJSON, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO runs(id,ts,source,strategy,total_assets,updated_assets,summary_json) VALUES (?,?,?,?,?,?,?)`,
		s.ID, s.Timestamp, s.Source, s.Strategy, s.TotalAssets, s.UpdatedAssets, string(summaryJSON)); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	w := r.eventWriter()
	for _, o := range s.Results {
		assetID := strconv.FormatInt(o.AssetID, 10)
		switch o.Outcome {
		case domain.OutcomeUpdated:
			err = w.Append(ctx, tx, events.TypeAssetUpdated, "asset", assetID, events.EventPayload{
				"run_id": s.ID, "asset_name": o.AssetName, "asset_tag": o.NewTag,
			})
		case domain.OutcomeError:
			err = w.Append(ctx, tx, events.TypeAssetUpdateFailed, "asset", assetID, events.EventPayload{
				"run_id": s.ID, "asset_name": o.AssetName, "error": o.Error,
			})
		default:
			continue
		}
		if err != nil {
			return fmt.Errorf("append asset event: %w", err)
		}
	}
	counts := activity.Counts(s)
	payload := events.EventPayload{
		"source":         s.Source,
		"strategy":       s.Strategy,
		"total_assets":   s.TotalAssets,
		"updated_assets": s.UpdatedAssets,
	}
	for tag, n := range counts {
		payload[string(tag)] = n
	}
	if err := w.Append(ctx, tx, events.TypeSyncCompleted, "run", s.ID, payload); err != nil {
		return fmt.Errorf("append run event: %w", err)
	}
	return tx.Commit()
}

// RecordFailure appends a sync.failed event.
func (r Repo) RecordFailure(ctx context.Context, source string, cause error) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := r.eventWriter().Append(ctx, tx, events.TypeSyncFailed, "run", "", events.EventPayload{
		"source": source, "error": cause.Error(),
	}); err != nil {
		return err
	}
	return tx.Commit()
}

func (r Repo) eventWriter() events.Writer {
	w := r.Events
	if w.Now == nil {
		w.Now = r.now
	}
	return w
}

// GetRun returns a stored run summary.
func (r Repo) GetRun(ctx context.Context, id string) (domain.RunSummary, error) {
	var raw string
	err := r.DB.QueryRowContext(ctx, `SELECT summary_json FROM runs WHERE id=?`, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return domain.RunSummary{}, ErrNotFound
	}
	if err != nil {
		return domain.RunSummary{}, err
	}
	var s domain.RunSummary
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return domain.RunSummary{}, fmt.Errorf("decode run %s: %w", id, err)
	}
	return s, nil
}

// ListRuns returns the newest runs without their per-asset results.
func (r Repo) ListRuns(ctx context.Context, limit int) ([]domain.RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ts,source,strategy,total_assets,updated_assets FROM runs ORDER BY ts DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.RunSummary{}
	for rows.Next() {
		var s domain.RunSummary
		if err := rows.Scan(&s.ID, &s.Timestamp, &s.Source, &s.Strategy, &s.TotalAssets, &s.UpdatedAssets); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// LatestEvents returns events newest first, optionally filtered.
func (r Repo) LatestEvents(ctx context.Context, limit int, evtType, entityKind, entityID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 20
	}
	clauses := []string{"1=1"}
	var args []any
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,entity_kind,COALESCE(entity_id,''),payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Event{}
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
