package server

import (
	"encoding/json"

	"servicetag/internal/domain"
	"servicetag/internal/fetch"
	"servicetag/internal/trigger"
)

// Request payloads

type ExecuteJobRequest struct {
	Name string `json:"name" example:"dell_asset_sync" minLength:"1"`
}

// Response payloads

type StatusResponse struct {
	State         trigger.State      `json:"state" enum:"idle,running,completed,failed"`
	LastSyncTime  string             `json:"last_sync_time,omitempty" format:"date-time"`
	StartedAt     string             `json:"started_at,omitempty" format:"date-time"`
	FinishedAt    string             `json:"finished_at,omitempty" format:"date-time"`
	LastError     string             `json:"last_error,omitempty"`
	Strategy      string             `json:"strategy" enum:"auto_detect,asset_type_filter,unfiltered"`
	AssetTypeIDs  []string           `json:"asset_type_ids"`
	ScheduleHours int                `json:"schedule_hours"`
	LastSummary   *domain.RunSummary `json:"last_summary,omitempty"`
}

type ActivityResponse struct {
	Items []domain.ActivityEntry `json:"items"`
}

type RunsResponse struct {
	Items []domain.RunSummary `json:"items"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	Payload    map[string]any `json:"payload"`
}

type EventsResponse struct {
	Items []EventResponse `json:"items"`
}

// Conversion helpers

func statusResponse(st trigger.Status, lastSync string, cfg domain.SyncConfiguration) StatusResponse {
	ids := cfg.CategoryIDs
	if ids == nil {
		ids = []string{}
	}
	return StatusResponse{
		State:         st.State,
		LastSyncTime:  lastSync,
		StartedAt:     st.StartedAt,
		FinishedAt:    st.FinishedAt,
		LastError:     st.LastError,
		Strategy:      fetch.StrategyFor(cfg),
		AssetTypeIDs:  ids,
		ScheduleHours: cfg.IntervalHours,
		LastSummary:   st.LastSummary,
	}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func decodeJSONMap(raw string) map[string]any {
	out := map[string]any{}
	if raw == "" {
		return out
	}
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}
