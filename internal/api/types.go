package api

import "assetlib/internal/registry"

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Checkin describes a check-in saga in a transport-friendly format.
type Checkin struct {
	ID         string            `json:"id"`
	Asset      string            `json:"asset"`
	Holder     string            `json:"holder,omitempty"`
	Version    string            `json:"version"`
	Filename   string            `json:"filename,omitempty"`
	Status     string            `json:"status"`
	Resumable  bool              `json:"resumable"`
	VersionMap map[string]string `json:"versionMap,omitempty"`
	LastError  string            `json:"lastError,omitempty"`
	Attempts   int               `json:"attempts"`
	CreatedAt  string            `json:"createdAt,omitempty"`
	UpdatedAt  string            `json:"updatedAt,omitempty"`
}

// Outcome mirrors how one spawned process ended.
type Outcome struct {
	Step       string   `json:"step"`
	Binary     string   `json:"binary,omitempty"`
	Args       []string `json:"args,omitempty"`
	PID        int      `json:"pid,omitempty"`
	ExitCode   int      `json:"exitCode"`
	DurationMs int64    `json:"durationMs"`
	Skipped    bool     `json:"skipped"`
	Error      string   `json:"error,omitempty"`
}

// Job describes a launch job.
type Job struct {
	ID          string    `json:"id"`
	Asset       string    `json:"asset"`
	State       string    `json:"state"`
	Done        bool      `json:"done"`
	CheckedOut  bool      `json:"checkedOut"`
	Holder      string    `json:"holder,omitempty"`
	Degraded    bool      `json:"degraded"`
	ScenePath   string    `json:"scenePath,omitempty"`
	ScriptPath  string    `json:"scriptPath,omitempty"`
	Interactive string    `json:"interactive,omitempty"`
	Headless    string    `json:"headless,omitempty"`
	CreatedAt   string    `json:"createdAt,omitempty"`
	Outcomes    []Outcome `json:"outcomes"`
}

// DependencyStatus captures availability of an external dependency.
type DependencyStatus struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
}

// Fetch reports a completed archive download.
type Fetch struct {
	Asset   string `json:"asset"`
	Archive string `json:"archive"`
	Bytes   int64  `json:"bytes"`
	Stale   bool   `json:"stale"`
}

// CheckoutRequest is the body of POST /api/assets/{name}/checkout.
type CheckoutRequest struct {
	Holder string `json:"holder"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error  string `json:"error"`
	Kind   string `json:"kind,omitempty"`
	Hint   string `json:"hint,omitempty"`
	SagaID string `json:"sagaId,omitempty"`
}

// AssetListResponse wraps a collection of assets.
type AssetListResponse struct {
	Assets []registry.Asset `json:"assets"`
}

// AssetResponse wraps a single asset.
type AssetResponse struct {
	Asset registry.Asset `json:"asset"`
}

// CheckinResponse wraps a single check-in.
type CheckinResponse struct {
	Checkin Checkin `json:"checkin"`
}

// CheckinListResponse wraps recorded check-ins, newest first.
type CheckinListResponse struct {
	Checkins []Checkin `json:"checkins"`
}

// JobResponse wraps a single launch job.
type JobResponse struct {
	Job Job `json:"job"`
}

// JobListResponse wraps retained launch jobs, newest first.
type JobListResponse struct {
	Jobs []Job `json:"jobs"`
}

// ToolsResponse lists DCC runtime availability.
type ToolsResponse struct {
	Tools []DependencyStatus `json:"tools"`
}

// FetchResponse wraps a completed fetch.
type FetchResponse struct {
	Fetch Fetch `json:"fetch"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool               `json:"running"`
	PID          int                `json:"pid"`
	Address      string             `json:"address"`
	LockFilePath string             `json:"lockFilePath"`
	JournalPath  string             `json:"journalPath"`
	StartedAt    string             `json:"startedAt,omitempty"`
	Dependencies []DependencyStatus `json:"dependencies"`
}
