package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/fatih/color"
)

const consoleTimeFormat = "2006-01-02T15:04:05.000"

// ConsoleHandler is a slog.Handler that writes one coloured line per record:
//
//	2026-01-02T15:04:05.000 | INFO  | connected to blynk server=host:8080
//
// Colour is disabled automatically when the output is not a terminal
// (see color.NoColor).
type ConsoleHandler struct {
	mu     *sync.Mutex
	out    io.Writer
	level  slog.Leveler
	attrs  []slog.Attr
	prefix string
}

// NewConsoleHandler creates a ConsoleHandler writing records at or above level.
func NewConsoleHandler(out io.Writer, level slog.Leveler) *ConsoleHandler {
	return &ConsoleHandler{
		mu:    &sync.Mutex{},
		out:   out,
		level: level,
	}
}

// Enabled reports whether records at level are written.
func (h *ConsoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle formats and writes a single record.
func (h *ConsoleHandler) Handle(_ context.Context, r slog.Record) error {
	var sb strings.Builder

	sb.WriteString(color.GreenString(r.Time.Format(consoleTimeFormat)))
	sb.WriteString(" | ")
	sb.WriteString(levelString(r.Level))
	sb.WriteString(" | ")
	sb.WriteString(r.Message)

	for _, a := range h.attrs {
		writeAttr(&sb, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(&sb, h.prefix, a)
		return true
	})
	sb.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, sb.String())
	return err
}

// WithAttrs returns a handler that prepends attrs to every record.
func (h *ConsoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	for _, a := range attrs {
		if h.prefix != "" {
			a.Key = h.prefix + a.Key
		}
		merged = append(merged, a)
	}
	clone := *h
	clone.attrs = merged
	return &clone
}

// WithGroup returns a handler that qualifies later attribute keys with name.
func (h *ConsoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.prefix = h.prefix + name + "."
	return &clone
}

func levelString(level slog.Level) string {
	s := fmt.Sprintf("%-5s", level.String())
	switch {
	case level >= slog.LevelError:
		return color.RedString(s)
	case level >= slog.LevelWarn:
		return color.YellowString(s)
	case level >= slog.LevelInfo:
		return color.BlueString(s)
	default:
		return color.MagentaString(s)
	}
}

func writeAttr(sb *strings.Builder, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			writeAttr(sb, prefix+a.Key+".", ga)
		}
		return
	}
	sb.WriteByte(' ')
	sb.WriteString(color.CyanString("%s%s=", prefix, a.Key))
	sb.WriteString(fmt.Sprintf("%v", a.Value.Any()))
}
