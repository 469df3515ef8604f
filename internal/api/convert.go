package api

import (
	"errors"

	"assetlib/internal/checkout"
	"assetlib/internal/deps"
	"assetlib/internal/journal"
	"assetlib/internal/launch"
	"assetlib/internal/services"
	"assetlib/internal/staging"
)

// FromSaga converts a journal record to its API representation.
func FromSaga(saga journal.Saga) Checkin {
	dto := Checkin{
		ID:         saga.ID,
		Asset:      saga.Asset,
		Holder:     saga.Holder,
		Version:    saga.Version,
		Filename:   saga.Filename,
		Status:     string(saga.Status),
		Resumable:  saga.Status.Resumable(),
		VersionMap: saga.VersionMap,
		LastError:  saga.LastError,
		Attempts:   saga.Attempts,
	}
	if !saga.CreatedAt.IsZero() {
		dto.CreatedAt = saga.CreatedAt.UTC().Format(dateTimeFormat)
	}
	if !saga.UpdatedAt.IsZero() {
		dto.UpdatedAt = saga.UpdatedAt.UTC().Format(dateTimeFormat)
	}
	return dto
}

// FromSagas converts a slice of journal records, preserving order.
func FromSagas(sagas []journal.Saga) []Checkin {
	out := make([]Checkin, 0, len(sagas))
	for _, saga := range sagas {
		out = append(out, FromSaga(saga))
	}
	return out
}

// FromCheckinResult converts a completed check-in.
func FromCheckinResult(result *checkout.CheckinResult) Checkin {
	if result == nil {
		return Checkin{}
	}
	return Checkin{
		ID:         result.SagaID,
		Asset:      result.Asset,
		Holder:     result.Holder,
		Version:    result.Version,
		Filename:   result.Filename,
		Status:     string(journal.StatusMetadataCommitted),
		VersionMap: result.VersionMap,
	}
}

// FromJob snapshots a launch job.
func FromJob(job *launch.Job) Job {
	if job == nil {
		return Job{}
	}
	dto := Job{
		ID:          job.ID,
		Asset:       job.Asset,
		State:       string(job.State()),
		CheckedOut:  job.CheckedOut,
		Holder:      job.Holder,
		Degraded:    job.Degraded,
		ScenePath:   job.ScenePath,
		ScriptPath:  job.ScriptPath,
		Interactive: job.Interactive,
		Headless:    job.Headless,
		Outcomes:    []Outcome{},
	}
	select {
	case <-job.Done():
		dto.Done = true
	default:
	}
	if !job.CreatedAt.IsZero() {
		dto.CreatedAt = job.CreatedAt.UTC().Format(dateTimeFormat)
	}
	for _, outcome := range job.Outcomes() {
		o := Outcome{
			Step:       string(outcome.Step),
			Binary:     outcome.Binary,
			Args:       outcome.Args,
			PID:        outcome.PID,
			ExitCode:   outcome.ExitCode,
			DurationMs: outcome.Duration.Milliseconds(),
			Skipped:    outcome.Skipped,
		}
		if outcome.Err != nil {
			o.Error = outcome.Err.Error()
		}
		dto.Outcomes = append(dto.Outcomes, o)
	}
	return dto
}

// FromJobs snapshots a slice of jobs, preserving order.
func FromJobs(jobs []*launch.Job) []Job {
	out := make([]Job, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, FromJob(job))
	}
	return out
}

// FromDependencies converts tool discovery results.
func FromDependencies(statuses []deps.Status) []DependencyStatus {
	out := make([]DependencyStatus, len(statuses))
	for i, dep := range statuses {
		out[i] = DependencyStatus{
			Name:        dep.Name,
			Command:     dep.Command,
			Description: dep.Description,
			Optional:    dep.Optional,
			Available:   dep.Available,
			Detail:      dep.Detail,
		}
	}
	return out
}

// FromFetch converts a completed download.
func FromFetch(result staging.FetchResult) Fetch {
	return Fetch{
		Asset:   result.Asset,
		Archive: result.Archive,
		Bytes:   result.Bytes,
		Stale:   result.Stale,
	}
}

// NewErrorResponse builds the error envelope for err.
func NewErrorResponse(err error) ErrorResponse {
	if err == nil {
		return ErrorResponse{}
	}
	resp := ErrorResponse{
		Error: err.Error(),
		Kind:  services.Kind(err),
		Hint:  services.Hint(err),
	}
	var partial *checkout.PartialCheckinError
	if errors.As(err, &partial) {
		resp.SagaID = partial.SagaID
	}
	return resp
}
