package registry

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"assetlib/internal/services"
)

// StatusError records a non-2xx registry response.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("registry returned %d", e.Status)
	}
	return fmt.Sprintf("registry returned %d: %s", e.Status, e.Message)
}

// classify maps an HTTP status to the services error taxonomy. The reference
// service rejects a held lock with 400 rather than 409, so the body text is
// inspected as well.
func classify(status int, message string) error {
	lower := strings.ToLower(message)
	switch {
	case status == http.StatusNotFound:
		return services.ErrNotFound
	case status == http.StatusConflict:
		return services.ErrConflict
	case status == http.StatusBadRequest && strings.Contains(lower, "already checked out"):
		return services.ErrConflict
	case status >= 500:
		return services.ErrUnavailable
	case status >= 400:
		return services.ErrValidation
	default:
		return services.ErrUnavailable
	}
}

func statusFailure(operation string, resp *http.Response, body []byte) error {
	message := strings.TrimSpace(string(body))
	var envelope errorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != "" {
		message = envelope.Error
	}
	if len(message) > 512 {
		message = message[:512]
	}
	cause := &StatusError{Status: resp.StatusCode, Message: message}
	return services.Wrap(classify(resp.StatusCode, message), component, operation, http.StatusText(resp.StatusCode), cause)
}
