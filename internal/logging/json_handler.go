package logging

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"
)

// Attributes whose values never reach JSON output.
var redactedKeys = map[string]struct{}{
	"api_token":     {},
	"authorization": {},
	"token":         {},
}

func newJSONHandler(w io.Writer, lvl *slog.LevelVar, addSource bool) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       lvl,
		AddSource:   addSource,
		ReplaceAttr: jsonAttr,
	})
}

// jsonAttr shapes records for log shippers: RFC3339 UTC timestamps under ts,
// durations as integer milliseconds under <key>_ms, and headless stderr as a
// line array so multi-line build output stays one record.
func jsonAttr(groups []string, attr slog.Attr) slog.Attr {
	if len(groups) == 0 {
		switch attr.Key {
		case slog.TimeKey:
			if attr.Value.Kind() == slog.KindTime {
				return slog.String("ts", attr.Value.Time().UTC().Format(time.RFC3339))
			}
			attr.Key = "ts"
			return attr
		case slog.LevelKey:
			return slog.String(slog.LevelKey, strings.ToLower(attr.Value.String()))
		case slog.SourceKey:
			if src, ok := attr.Value.Any().(*slog.Source); ok && src != nil {
				return slog.String(slog.SourceKey, fmt.Sprintf("%s:%d", filepath.Base(src.File), src.Line))
			}
			return attr
		}
	}

	if _, secret := redactedKeys[strings.ToLower(attr.Key)]; secret {
		return slog.String(attr.Key, "[redacted]")
	}
	switch attr.Value.Kind() {
	case slog.KindDuration:
		return slog.Int64(attr.Key+"_ms", attr.Value.Duration().Milliseconds())
	case slog.KindString:
		if attr.Key == "stderr" {
			return slog.Any("stderr_lines", stderrLines(attr.Value.String()))
		}
	}
	return attr
}

func stderrLines(value string) []string {
	value = strings.TrimRight(value, "\n")
	if value == "" {
		return []string{}
	}
	return strings.Split(value, "\n")
}
