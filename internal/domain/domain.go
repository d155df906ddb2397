package domain

// Asset is the subset of a Freshservice asset record the sync touches.
type Asset struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	AssetTag     string `json:"asset_tag"`
	SerialNumber string `json:"serial_number"`
	CategoryID   int64  `json:"asset_type_id"`
	Description  string `json:"description,omitempty"`
}

// SyncConfiguration selects the discovery strategy for one run.
type SyncConfiguration struct {
	AutoDetect    bool     `json:"auto_detect"`
	CategoryIDs   []string `json:"category_ids,omitempty"`
	IntervalHours int      `json:"interval_hours"`
}

type OutcomeTag string

const (
	OutcomeUpdated                OutcomeTag = "updated"
	OutcomeSkippedNoSerial        OutcomeTag = "skipped_no_serial"
	OutcomeSkippedAlreadyMatching OutcomeTag = "skipped_already_matching"
	OutcomeSkippedNotVendorFormat OutcomeTag = "skipped_not_vendor_format"
	OutcomeError                  OutcomeTag = "error"
)

// Skipped reports whether the tag is one of the skip outcomes.
func (t OutcomeTag) Skipped() bool {
	switch t {
	case OutcomeSkippedNoSerial, OutcomeSkippedAlreadyMatching, OutcomeSkippedNotVendorFormat:
		return true
	}
	return false
}

type AssetOutcome struct {
	AssetID    int64      `json:"asset_id"`
	AssetName  string     `json:"asset_name"`
	CategoryID int64      `json:"asset_type_id"`
	Outcome    OutcomeTag `json:"outcome" enum:"updated,skipped_no_serial,skipped_already_matching,skipped_not_vendor_format,error"`
	NewTag     string     `json:"new_asset_tag,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Reason is the human-readable explanation shown in the activity log.
func (o AssetOutcome) Reason() string {
	switch o.Outcome {
	case OutcomeUpdated:
		return "Asset tag updated to " + o.NewTag
	case OutcomeSkippedNoSerial:
		return "No serial number found"
	case OutcomeSkippedAlreadyMatching:
		return "Asset tag already matches serial number"
	case OutcomeSkippedNotVendorFormat:
		return "Serial number does not match Dell service tag format"
	case OutcomeError:
		return o.Error
	}
	return ""
}

// Run trigger sources.
const (
	SourceManual    = "manual"
	SourceScheduled = "scheduled"
)

type RunSummary struct {
	ID            string         `json:"id"`
	Timestamp     string         `json:"timestamp" format:"date-time"`
	Strategy      string         `json:"strategy,omitempty"`
	Source        string         `json:"source,omitempty"`
	TotalAssets   int            `json:"totalAssets"`
	UpdatedAssets int            `json:"updatedAssets"`
	Results       []AssetOutcome `json:"results"`
}

type ActivityEntry struct {
	Timestamp string      `json:"timestamp" format:"date-time"`
	Message   string      `json:"message"`
	Details   *RunSummary `json:"details,omitempty"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	Payload    string `json:"payload_json"`
}
