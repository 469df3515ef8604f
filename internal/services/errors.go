package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrUnavailable       = errors.New("unavailable")
	ErrMissingArchive    = errors.New("missing archive")
	ErrScriptWriteFailed = errors.New("script write failed")
	ErrToolNotFound      = errors.New("tool not found")
	ErrProcessFailed     = errors.New("process failed")
	ErrPartialCheckin    = errors.New("partial checkin")
	ErrValidation        = errors.New("validation error")
	ErrConfiguration     = errors.New("configuration error")
)

// Wrap builds an error message that includes component context while tagging
// it with the provided marker for later classification. The marker should be
// one of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrUnavailable
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Kind returns the short taxonomy label for err, or "internal" when err does
// not carry one of the exported markers.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPartialCheckin):
		return "partial_checkin"
	case errors.Is(err, ErrMissingArchive):
		return "missing_archive"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrScriptWriteFailed):
		return "script_write_failed"
	case errors.Is(err, ErrToolNotFound):
		return "tool_not_found"
	case errors.Is(err, ErrProcessFailed):
		return "process_failed"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	default:
		return "internal"
	}
}

// Hint returns actionable guidance for errors a user can resolve themselves.
func Hint(err error) string {
	switch {
	case errors.Is(err, ErrMissingArchive):
		return "fetch the asset first (assetlib fetch <asset>), then retry the launch"
	case errors.Is(err, ErrPartialCheckin):
		return "content was uploaded; retry the metadata commit with 'assetlib checkin resume <id>'"
	case errors.Is(err, ErrConflict):
		return "the asset is checked out by someone else; ask them to check it in"
	case errors.Is(err, ErrToolNotFound):
		return "install Houdini or set dcc.install_roots / HFS in the config"
	case errors.Is(err, ErrUnavailable):
		return "check registry.base_url and network connectivity"
	default:
		return ""
	}
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
