package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"

	"vidpipe/internal/config"
)

// Options describes logger construction parameters.
type Options struct {
	Level  string
	Format string
	// Stdout mirrors records to standard output.
	Stdout bool
	// File, when set, is opened for append and receives every record.
	File string
}

// New constructs a slog logger writing to the destinations in opts. Console
// output is colored only when stdout is the sole destination and a terminal.
func New(opts Options) (*slog.Logger, error) {
	level := new(slog.LevelVar)
	level.Set(parseLevel(opts.Level))

	var writers []io.Writer
	if opts.Stdout {
		writers = append(writers, os.Stdout)
	}
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return nil, fmt.Errorf("ensure log directory: %w", err)
		}
		file, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o664)
		if err != nil {
			return nil, fmt.Errorf("open log file %s: %w", opts.File, err)
		}
		writers = append(writers, file)
	}
	if len(writers) == 0 {
		writers = append(writers, os.Stdout)
		opts.Stdout = true
	}
	out := io.MultiWriter(writers...)

	switch strings.ToLower(strings.TrimSpace(opts.Format)) {
	case "json":
		return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level, ReplaceAttr: jsonAttr})), nil
	case "", "console":
		color := opts.Stdout && len(writers) == 1 && colorTerminal()
		return slog.New(&consoleHandler{out: out, mu: &sync.Mutex{}, level: level, color: color}), nil
	default:
		return nil, fmt.Errorf("log format: unsupported value %q", opts.Format)
	}
}

// NewFromConfig builds the daemon logger: stdout plus vidpipe.log in the log
// directory. A non-empty level overrides the configured one.
func NewFromConfig(cfg *config.Config, level string) (*slog.Logger, error) {
	if strings.TrimSpace(level) == "" {
		level = cfg.Logging.Level
	}
	opts := Options{Level: level, Format: cfg.Logging.Format, Stdout: true}
	if cfg.Paths.LogDir != "" {
		opts.File = filepath.Join(cfg.Paths.LogDir, "vidpipe.log")
	}
	return New(opts)
}

func parseLevel(level string) slog.Level {
	var parsed slog.Level
	name := strings.ToLower(strings.TrimSpace(level))
	if name == "warning" {
		name = "warn"
	}
	if err := parsed.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo
	}
	return parsed
}

func colorTerminal() bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	return isatty.IsTerminal(os.Stdout.Fd())
}

// jsonAttr renames the time key to ts, renders it as UTC RFC 3339 and
// lowercases levels.
func jsonAttr(groups []string, attr slog.Attr) slog.Attr {
	if len(groups) > 0 {
		return attr
	}
	switch attr.Key {
	case slog.TimeKey:
		return slog.String("ts", attr.Value.Time().UTC().Format(time.RFC3339))
	case slog.LevelKey:
		attr.Value = slog.StringValue(strings.ToLower(attr.Value.String()))
	}
	return attr
}

var levelColors = map[slog.Level]string{
	slog.LevelDebug: "\x1b[90m",
	slog.LevelInfo:  "\x1b[34m",
	slog.LevelWarn:  "\x1b[33m",
	slog.LevelError: "\x1b[31m",
}

// consoleHandler writes one line per record:
//
//	2024-05-01T10:00:00Z INFO worker: job claimed entity_id=42 kind=720p
//
// Attributes bound with WithAttrs are rendered once and reused.
type consoleHandler struct {
	out       io.Writer
	mu        *sync.Mutex
	level     *slog.LevelVar
	color     bool
	component string
	bound     string
	prefix    string
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *consoleHandler) Handle(_ context.Context, record slog.Record) error {
	ts := record.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	component := h.component
	var attrs strings.Builder
	attrs.WriteString(h.bound)
	record.Attrs(func(attr slog.Attr) bool {
		if h.prefix == "" && attr.Key == FieldComponent {
			component = attr.Value.String()
			return true
		}
		writeAttr(&attrs, h.prefix, attr)
		return true
	})

	label := record.Level.String()
	if h.color {
		base := record.Level
		switch {
		case base >= slog.LevelError:
			base = slog.LevelError
		case base >= slog.LevelWarn:
			base = slog.LevelWarn
		case base >= slog.LevelInfo:
			base = slog.LevelInfo
		default:
			base = slog.LevelDebug
		}
		label = levelColors[base] + label + "\x1b[0m"
	}

	msg := strings.TrimSpace(record.Message)
	if msg == "" {
		msg = "(no message)"
	}
	if component != "" {
		msg = component + ": " + msg
	}
	line := ts.UTC().Format(time.RFC3339) + " " + label + " " + msg + attrs.String() + "\n"

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, line)
	return err
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	var bound strings.Builder
	bound.WriteString(h.bound)
	for _, attr := range attrs {
		if h.prefix == "" && attr.Key == FieldComponent {
			clone.component = attr.Value.String()
			continue
		}
		writeAttr(&bound, h.prefix, attr)
	}
	clone.bound = bound.String()
	return &clone
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.prefix = h.prefix + name + "."
	return &clone
}

func writeAttr(b *strings.Builder, prefix string, attr slog.Attr) {
	attr.Value = attr.Value.Resolve()
	if attr.Equal(slog.Attr{}) {
		return
	}
	if attr.Value.Kind() == slog.KindGroup {
		if attr.Key != "" {
			prefix += attr.Key + "."
		}
		for _, member := range attr.Value.Group() {
			writeAttr(b, prefix, member)
		}
		return
	}
	b.WriteByte(' ')
	b.WriteString(prefix)
	b.WriteString(attr.Key)
	b.WriteByte('=')
	b.WriteString(formatValue(attr.Value))
}

func formatValue(v slog.Value) string {
	var s string
	switch v.Kind() {
	case slog.KindTime:
		s = v.Time().UTC().Format(time.RFC3339)
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			s = err.Error()
		} else {
			s = fmt.Sprint(v.Any())
		}
	default:
		s = v.String()
	}
	if s == "" || strings.ContainsAny(s, " \t\n\"=") {
		return strconv.Quote(s)
	}
	return s
}
