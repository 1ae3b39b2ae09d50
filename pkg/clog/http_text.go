package clog

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/fatih/color"
)

// defaultColumns are printed inline after the level, in this order, instead
// of on their own lines.
var defaultColumns = []string{"proto", "method", "path", "status"}

// HTTPTextHandler is a human-oriented handler for local development: one
// colored summary line followed by the remaining attributes, one per line.
type HTTPTextHandler struct {
	cfg    TextHandlerConfig
	groups []string
	attrs  []slog.Attr
	mu     *sync.Mutex
	w      io.Writer
}

type TextHandlerConfig struct {
	Color   bool
	Level   *slog.Level
	Columns []string
}

type TextHandlerOption func(*TextHandlerConfig)

func WithColor(c bool) TextHandlerOption {
	return func(cfg *TextHandlerConfig) { cfg.Color = c }
}

func WithLevel(level slog.Level) TextHandlerOption {
	return func(cfg *TextHandlerConfig) { cfg.Level = &level }
}

// WithColumns replaces the attributes printed inline on the summary line.
func WithColumns(keys ...string) TextHandlerOption {
	return func(cfg *TextHandlerConfig) { cfg.Columns = keys }
}

func NewHTTPTextHandler(w io.Writer, opts ...TextHandlerOption) *HTTPTextHandler {
	cfg := TextHandlerConfig{Color: true, Columns: defaultColumns}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &HTTPTextHandler{cfg: cfg, mu: &sync.Mutex{}, w: w}
}

func (h *HTTPTextHandler) clone() *HTTPTextHandler {
	nh := *h
	nh.groups = slices.Clone(h.groups)
	nh.attrs = slices.Clone(h.attrs)
	return &nh
}

func (h *HTTPTextHandler) Enabled(_ context.Context, l slog.Level) bool {
	minLevel := slog.LevelInfo
	if h.cfg.Level != nil {
		minLevel = *h.cfg.Level
	}
	return l >= minLevel
}

func (h *HTTPTextHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	nh := h.clone()
	nh.groups = append(nh.groups, name)
	return nh
}

func (h *HTTPTextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := h.clone()
	nh.attrs = append(nh.attrs, attrs...)
	return nh
}

var levelColors = map[slog.Level]color.Attribute{
	slog.LevelDebug: color.FgCyan,
	slog.LevelInfo:  color.FgBlue,
	slog.LevelWarn:  color.FgYellow,
	slog.LevelError: color.FgRed,
}

func (h *HTTPTextHandler) Handle(_ context.Context, record slog.Record) error {
	kv := make(map[string]slog.Value, len(h.attrs)+record.NumAttrs())
	for _, attr := range h.attrs {
		kv[attr.Key] = attr.Value
	}
	record.Attrs(func(attr slog.Attr) bool {
		kv[attr.Key] = attr.Value
		return true
	})

	var buf bytes.Buffer
	paint := func(attr color.Attribute, format string, args ...any) {
		c := color.New(attr)
		if h.cfg.Color {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
		c.Fprintf(&buf, format, args...)
	}

	paint(color.Reset, "%s ", record.Time.Format(time.RFC3339))
	lc, ok := levelColors[record.Level]
	if !ok {
		lc = color.Reset
	}
	paint(lc, "%s ", record.Level)
	for _, key := range h.cfg.Columns {
		if v, ok := kv[key]; ok {
			paint(color.Reset, "%s ", v)
			delete(kv, key)
		}
	}
	paint(color.FgGreen, "%s", record.Message)
	if e, ok := kv[ErrorAttributeKey]; ok {
		delete(kv, ErrorAttributeKey)
		paint(color.FgRed, " %s", e)
	}
	buf.WriteByte('\n')
	for _, k := range slices.Sorted(maps.Keys(kv)) {
		paint(color.Reset, "    %s=%s\n", k, kv[k])
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf.Bytes())
	return err
}
