package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

// prettyHandler renders one human-readable line per record:
//
//	09:00:00.000 INFO  [bot] upload.accepted user_id=42 count=3 src=uploads.go:41
//
// A "component" attribute added through With becomes the bracketed tag. Attributes
// added through With are rendered once, under the groups open at that time.
type prettyHandler struct {
	w         io.Writer
	level     slog.Leveler
	addSource bool
	color     bool

	component string
	prefix    string // preformatted With attrs, each with a leading space
	groups    []string

	mu *sync.Mutex
}

func newPrettyHandler(w io.Writer, opts *slog.HandlerOptions, color bool) slog.Handler {
	h := &prettyHandler{w: w, level: slog.LevelInfo, color: color, mu: &sync.Mutex{}}
	if opts != nil {
		if opts.Level != nil {
			h.level = opts.Level
		}
		h.addSource = opts.AddSource
	}
	return h
}

func (h *prettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *prettyHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder

	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	b.WriteString(h.paint(ansiDim, ts.Format("15:04:05.000")))
	b.WriteByte(' ')
	b.WriteString(levelTag(r.Level, h.color))
	if h.component != "" {
		b.WriteString(" [")
		b.WriteString(h.paint(ansiCyan, h.component))
		b.WriteByte(']')
	}
	b.WriteByte(' ')
	b.WriteString(h.paint(ansiBright, r.Message))

	b.WriteString(h.prefix)
	r.Attrs(func(a slog.Attr) bool {
		h.writeAttr(&b, a, h.groups)
		return true
	})

	if h.addSource && r.PC != 0 {
		frame, _ := runtime.CallersFrames([]uintptr{r.PC}).Next()
		if frame.File != "" {
			b.WriteString(" src=")
			b.WriteString(h.paint(ansiDim, filepath.Base(frame.File)+":"+strconv.Itoa(frame.Line)))
		}
	}
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

func (h *prettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	cp := *h
	var b strings.Builder
	b.WriteString(h.prefix)
	for _, a := range attrs {
		if len(h.groups) == 0 && a.Key == "component" {
			cp.component = a.Value.Resolve().String()
			continue
		}
		h.writeAttr(&b, a, h.groups)
	}
	cp.prefix = b.String()
	return &cp
}

func (h *prettyHandler) WithGroup(name string) slog.Handler {
	if strings.TrimSpace(name) == "" {
		return h
	}
	cp := *h
	cp.groups = append(append([]string{}, h.groups...), name)
	return &cp
}

func (h *prettyHandler) writeAttr(b *strings.Builder, a slog.Attr, groups []string) {
	a.Value = a.Value.Resolve()
	key := strings.TrimSpace(a.Key)

	if a.Value.Kind() == slog.KindGroup {
		inner := groups
		if key != "" {
			inner = append(append([]string{}, groups...), key)
		}
		for _, ga := range a.Value.Group() {
			h.writeAttr(b, ga, inner)
		}
		return
	}
	if key == "" {
		return
	}

	label, format := key, formatPlain
	if f, ok := prettyFormatters[key]; ok {
		label, format = f.label, f.format
	}
	if len(groups) > 0 {
		label = strings.Join(groups, ".") + "." + label
	}

	b.WriteByte(' ')
	b.WriteString(label)
	b.WriteByte('=')
	b.WriteString(format(a.Value, h.color))
}

func (h *prettyHandler) paint(code, s string) string {
	if !h.color {
		return s
	}
	return code + s + ansiReset
}

type prettyFormatter struct {
	label  string
	format func(slog.Value, bool) string
}

// prettyFormatters renders well-known keys; everything else goes through formatPlain.
var prettyFormatters = map[string]prettyFormatter{
	"method": {"method", func(v slog.Value, color bool) string {
		return colorizeHTTPMethod(strings.ToUpper(strings.TrimSpace(v.String())), color)
	}},
	"path": {"path", func(v slog.Value, color bool) string {
		if !color {
			return v.String()
		}
		return ansiCyan + v.String() + ansiReset
	}},
	"status": {"status", func(v slog.Value, color bool) string {
		if n, ok := valueToInt64(v); ok {
			return colorizeStatusCode(int(n), color)
		}
		return formatPlain(v, color)
	}},
	"status_class": {"class", func(v slog.Value, color bool) string {
		return colorizeStatusClass(strings.TrimSpace(v.String()), color)
	}},
	"duration_ms": {"duration", func(v slog.Value, color bool) string {
		if n, ok := valueToInt64(v); ok {
			return colorizeDurationMS(n, color)
		}
		return formatPlain(v, color)
	}},
	"result":   {"result", formatResult},
	"outcome":  {"outcome", formatResult},
	"decision": {"decision", formatResult},
	"err":      {"err", formatError},
	"error":    {"error", formatError},
}

func formatResult(v slog.Value, color bool) string {
	return colorizeResult(strings.ToLower(strings.TrimSpace(v.String())), color)
}

func formatError(v slog.Value, color bool) string {
	s := quoteIfNeeded(valueToString(v))
	if !color {
		return s
	}
	return ansiRed + s + ansiReset
}

func formatPlain(v slog.Value, _ bool) string {
	return quoteIfNeeded(valueToString(v))
}

func valueToString(v slog.Value) string {
	switch v.Kind() {
	case slog.KindTime:
		return v.Time().Format(time.RFC3339)
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return err.Error()
		}
		return fmt.Sprint(v.Any())
	default:
		return v.String()
	}
}

func quoteIfNeeded(s string) string {
	if s == "" {
		return `""`
	}
	if strings.ContainsAny(s, " \t\r\n\"=") {
		return strconv.Quote(s)
	}
	return s
}

// levelTag pads to five columns so messages line up.
func levelTag(level slog.Level, color bool) string {
	var name, code string
	switch {
	case level >= slog.LevelError:
		name, code = "ERROR", ansiRed
	case level >= slog.LevelWarn:
		name, code = "WARN ", ansiYellow
	case level < slog.LevelInfo:
		name, code = "DEBUG", ansiMagenta
	default:
		name, code = "INFO ", ansiBlue
	}
	if !color {
		return name
	}
	return code + name + ansiReset
}
