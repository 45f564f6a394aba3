package logger

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"
)

type logFormat string

const (
	formatJSON logFormat = "json"
	formatKV   logFormat = "kv"

	timeFormatMillis = "2006-01-02T15:04:05.000Z07:00"
)

type handlerConfig struct {
	level    slog.Leveler
	writer   *asyncWriter
	format   logFormat
	keyOrder []string
}

// structuredHandler renders every record as one flat line. Groups become
// dotted keys and context metadata fills in missing message fields.
type structuredHandler struct {
	cfg    handlerConfig
	enc    encoder
	attrs  []slog.Attr
	groups []string
}

func newStructuredHandler(cfg handlerConfig) *structuredHandler {
	if cfg.level == nil {
		cfg.level = slog.LevelInfo
	}
	if cfg.keyOrder == nil {
		cfg.keyOrder = append([]string(nil), defaultKeyOrder...)
	}
	return &structuredHandler{cfg: cfg, enc: newEncoder(cfg.format, cfg.keyOrder)}
}

func (h *structuredHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.cfg.level.Level()
}

func (h *structuredHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.cfg.writer == nil {
		return fmt.Errorf("logger: writer not initialized")
	}

	rec := make(record, 16)
	ts := r.Time.UTC()
	rec["ts"] = ts.Truncate(time.Millisecond).Format(timeFormatMillis)
	rec["level"] = normalizeLevel(r.Level.String())
	if h.cfg.format == formatJSON {
		rec["ts_unix_nano"] = ts.UnixNano()
	}

	prefix := strings.Join(h.groups, ".")
	for _, a := range h.attrs {
		rec.add(prefix, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		rec.add(prefix, a)
		return true
	})

	rec.fromContext(ctx)
	rec.compactRID(h.cfg.format == formatJSON)
	rec.setDefault("event", r.Message, "unknown")
	rec.setDefault("component", "app")
	rec.sanitize()

	line, err := h.enc.encode(rec)
	if err != nil {
		return err
	}
	if len(line) == 0 || line[len(line)-1] != '\n' {
		line = append(line, '\n')
	}
	return h.cfg.writer.Write(line)
}

func (h *structuredHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &clone
}

func (h *structuredHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.groups = append(append([]string(nil), h.groups...), name)
	return &clone
}

// record holds the flattened fields of one log line.
type record map[string]any

func (rec record) add(prefix string, a slog.Attr) {
	key := a.Key
	switch {
	case key == "":
		key = prefix
	case prefix != "":
		key = prefix + "." + key
	}
	if a.Value.Kind() == slog.KindGroup {
		for _, child := range a.Value.Group() {
			rec.add(key, child)
		}
		return
	}
	if key == "" {
		return
	}
	if k, v, ok := fieldValue(key, a.Value.Resolve()); ok {
		rec[k] = v
	}
}

// str returns the field as a string; missing fields report false.
func (rec record) str(key string) (string, bool) {
	v, ok := rec[key]
	if !ok {
		return "", false
	}
	switch val := v.(type) {
	case string:
		return val, true
	case fmt.Stringer:
		return val.String(), true
	default:
		return fmt.Sprint(val), true
	}
}

// setDefault assigns the first non-empty candidate when key is empty.
func (rec record) setDefault(key string, candidates ...string) {
	if s, ok := rec.str(key); ok && s != "" {
		return
	}
	for _, c := range candidates {
		if c != "" {
			rec[key] = c
			return
		}
	}
}

func (rec record) fromContext(ctx context.Context) {
	if ctx == nil {
		return
	}
	for key, val := range map[string]string{
		"rid":        RIDFrom(ctx),
		"phone":      MaskPhone(PhoneFrom(ctx)),
		"message_id": MessageIDFrom(ctx),
		"handler":    HandlerFrom(ctx),
	} {
		if _, ok := rec[key]; !ok && val != "" {
			rec[key] = val
		}
	}
}

// compactRID shortens the request id; JSON lines keep the full form too.
func (rec record) compactRID(keepFull bool) {
	rid, ok := rec.str("rid")
	if !ok || rid == "" {
		return
	}
	compact := CompactRID(rid)
	if compact == "" || compact == rid {
		return
	}
	if _, seen := rec["rid_full"]; keepFull && !seen {
		rec["rid_full"] = rid
	}
	rec["rid"] = compact
}

func (rec record) sanitize() {
	if level, ok := rec.str("level"); ok {
		rec["level"] = normalizeLevel(level)
	}
	for key, enum := range enumFields {
		raw, ok := rec.str(key)
		if !ok {
			continue
		}
		if v, valid := enum.normalize(raw); valid {
			rec[key] = v
		} else {
			delete(rec, key)
		}
	}
	for k, v := range rec {
		switch val := v.(type) {
		case nil:
			delete(rec, k)
		case string:
			if val == "" {
				delete(rec, k)
			}
		case fmt.Stringer:
			if val.String() == "" {
				delete(rec, k)
			}
		}
	}
}

// fieldValue converts an attribute to a JSON friendly value. Durations are
// reported in milliseconds under a key that says so.
func fieldValue(key string, val slog.Value) (string, any, bool) {
	switch val.Kind() {
	case slog.KindString:
		return key, strings.TrimSpace(val.String()), true
	case slog.KindBool:
		return key, val.Bool(), true
	case slog.KindInt64:
		return key, val.Int64(), true
	case slog.KindUint64:
		if u := val.Uint64(); u <= math.MaxInt64 {
			return key, int64(u), true
		}
		return key, val.Uint64(), true
	case slog.KindFloat64:
		return key, val.Float64(), true
	case slog.KindDuration:
		return durationKey(key), RoundMS(val.Duration()).Milliseconds(), true
	case slog.KindTime:
		return key, val.Time().UTC().Format(time.RFC3339Nano), true
	}

	switch x := val.Any().(type) {
	case nil:
		return key, nil, false
	case error:
		return key, x.Error(), true
	case string:
		return key, strings.TrimSpace(x), true
	case time.Duration:
		return durationKey(key), RoundMS(x).Milliseconds(), true
	case fmt.Stringer:
		return key, x.String(), true
	default:
		return key, fmt.Sprint(x), true
	}
}

func durationKey(key string) string {
	switch {
	case key == "duration":
		return "duration_ms"
	case strings.HasSuffix(key, "_ms"):
		return key
	}
	return key + "_ms"
}
