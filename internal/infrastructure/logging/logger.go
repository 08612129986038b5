package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/dhpke/nmos-core/internal/infrastructure/config"
)

// ServiceName is attached to every record.
const ServiceName = "nmos-core"

const redacted = "[REDACTED]"

// sensitiveKeys are attribute-key fragments whose values never reach the
// output: registry bearer tokens, broker passwords, JWT secrets.
var sensitiveKeys = []string{"password", "secret", "token", "authorization"}

// Logger is a slog.Logger carrying the service and version attributes.
// *Logger satisfies the narrow Logger interfaces the registrar, connection
// manager, reconciler, event bridge and API server declare. Safe for
// concurrent use.
type Logger struct {
	*slog.Logger
}

// New writes to stderr when cfg.Output says so and to stdout otherwise.
func New(cfg config.LoggingConfig, version string) *Logger {
	var w io.Writer = os.Stdout
	if strings.EqualFold(cfg.Output, "stderr") {
		w = os.Stderr
	}
	return NewWithWriter(cfg, version, w)
}

// NewWithWriter builds a Logger on w: text handler for format "text",
// JSON for anything else.
func NewWithWriter(cfg config.LoggingConfig, version string, w io.Writer) *Logger {
	opts := &slog.HandlerOptions{
		Level:       parseLevel(cfg.Level),
		ReplaceAttr: redact,
	}

	var h slog.Handler = slog.NewJSONHandler(w, opts)
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(w, opts)
	}

	return &Logger{slog.New(h).With(
		slog.String("service", ServiceName),
		slog.String("version", version),
	)}
}

// parseLevel accepts slog's level names (case-insensitive, with offsets
// such as "debug-4") plus "warning". Anything unparseable is info.
func parseLevel(s string) slog.Level {
	if strings.EqualFold(s, "warning") {
		return slog.LevelWarn
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// redact masks string values under credential-like keys.
func redact(_ []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() != slog.KindString || a.Value.String() == "" {
		return a
	}
	key := strings.ToLower(a.Key)
	for _, s := range sensitiveKeys {
		if strings.Contains(key, s) {
			return slog.String(a.Key, redacted)
		}
	}
	return a
}

func (l *Logger) With(args ...any) *Logger {
	return &Logger{l.Logger.With(args...)}
}

// Component tags every record from the child with component=name.
//
//	reg := logger.Component("registration")
//	reg.Info("registered", "node_id", id)
func (l *Logger) Component(name string) *Logger {
	return l.With("component", name)
}

// Default is the bootstrap logger used until configuration is loaded.
func Default() *Logger {
	return NewWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, "dev", os.Stdout)
}
