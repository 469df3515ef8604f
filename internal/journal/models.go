package journal

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle state of a check-in saga.
type Status string

const (
	// StatusPending means nothing has been committed to the registry yet.
	StatusPending Status = "pending"
	// StatusContentCommitted means content was uploaded; metadata is outstanding.
	StatusContentCommitted Status = "content_committed"
	// StatusMetadataCommitted means both phases completed.
	StatusMetadataCommitted Status = "metadata_committed"
	// StatusFailed means the content phase failed and nothing was committed.
	StatusFailed Status = "failed"
)

// Resumable reports whether the saga can be completed by retrying the
// metadata commit.
func (s Status) Resumable() bool {
	return s == StatusContentCommitted
}

// Saga records one two-phase check-in.
type Saga struct {
	ID         string
	Asset      string
	Holder     string
	Version    string
	Filename   string
	Metadata   json.RawMessage
	VersionMap map[string]string
	Status     Status
	LastError  string
	Attempts   int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
