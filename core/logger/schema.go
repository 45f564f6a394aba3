package logger

import "strings"

const (
	// LevelDebug represents the debug severity level name.
	LevelDebug = "DEBUG"
	// LevelInfo represents the info severity level name.
	LevelInfo = "INFO"
	// LevelWarn represents the warning severity level name.
	LevelWarn = "WARN"
	// LevelError represents the error severity level name.
	LevelError = "ERROR"
)

var levelNames = map[string]string{
	"debug":   LevelDebug,
	"info":    LevelInfo,
	"warn":    LevelWarn,
	"warning": LevelWarn,
	"error":   LevelError,
}

// enumField restricts the values a field may carry. Unknown values are kept
// lower-cased unless strict is set, in which case the field is dropped.
type enumField struct {
	values map[string]struct{}
	strict bool
}

func newEnum(strict bool, values ...string) enumField {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return enumField{values: set, strict: strict}
}

func (e enumField) normalize(v string) (string, bool) {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return "", false
	}
	if _, ok := e.values[v]; ok || !e.strict {
		return v, true
	}
	return "", false
}

var enumFields = map[string]enumField{
	"status": newEnum(false, "ok", "fail", "skip", "ignored", "cancelled"),
	// Routing outcomes of an inbound message.
	"outcome": newEnum(true, "welcome", "keyword", "default", "inactive", "silent", "fail", "cancelled"),
}

func normalizeLevel(level string) string {
	if level == "" {
		return LevelInfo
	}
	if mapped, ok := levelNames[strings.ToLower(level)]; ok {
		return mapped
	}
	return strings.ToUpper(level)
}

// defaultKeyOrder puts the envelope first, then message identity, then the
// fields of the responder, reaper and transport events.
var defaultKeyOrder = []string{
	"ts", "level", "component", "event", "status",
	"rid", "rid_full", "ts_unix_nano",
	"phone", "message_id", "handler", "outcome", "duration_ms",
	"chatbot_id", "flow_id", "keyword", "messages", "media", "mime", "bytes", "sent_id",
	"tick_id", "cutoff", "deleted", "session_duration_ms",
	"workers", "queue", "queue_len",
	"driver", "db", "host", "port", "listen", "device", "jid", "count",
	"err", "err_code", "cause",
}
