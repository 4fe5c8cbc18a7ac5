// Package logging configures the process-wide zerolog logger and carries
// request-scoped fields (request, signup session, tenant) on contexts.
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/rs/zerolog/pkgerrors"
	"golang.org/x/term"
)

// Output formats.
const (
	FormatAuto    = "auto"
	FormatJSON    = "json"
	FormatConsole = "console"
)

// Config controls logger initialization.
type Config struct {
	Format    string    // json, console or auto (console on a terminal)
	Level     string    // trace, debug, info, warn, error, disabled
	Component string    // stamped on every line when set
	Output    io.Writer // defaults to os.Stderr
}

type fieldKey int

const (
	requestIDKey fieldKey = iota
	signupSessionKey
	tenantKey
)

// contextFields lists the context values FromContext attaches, in order.
var contextFields = []struct {
	key  fieldKey
	name string
}{
	{requestIDKey, "request_id"},
	{signupSessionKey, "signup_session_id"},
	{tenantKey, "tenant_id"},
}

var (
	mu         sync.RWMutex
	baseLogger = zerolog.New(os.Stderr).With().Timestamp().Logger()
)

var isTerminalFn = term.IsTerminal

func init() {
	log.Logger = baseLogger
}

// Init installs a new global logger. Unknown levels or formats are rejected
// so a typo in LOG_LEVEL fails startup instead of silently logging at info.
func Init(cfg Config) error {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return err
	}
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	writer, err := selectWriter(cfg.Format, out)
	if err != nil {
		return err
	}

	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack
	zerolog.SetGlobalLevel(level)

	builder := zerolog.New(writer).With().Timestamp()
	if c := strings.TrimSpace(cfg.Component); c != "" {
		builder = builder.Str("component", c)
	}

	mu.Lock()
	baseLogger = builder.Logger()
	log.Logger = baseLogger
	mu.Unlock()
	return nil
}

// ParseLevel maps a level name to a zerolog level. Empty means info.
func ParseLevel(level string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return zerolog.InfoLevel, nil
	case "trace":
		return zerolog.TraceLevel, nil
	case "debug":
		return zerolog.DebugLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	case "disabled", "off":
		return zerolog.Disabled, nil
	default:
		return zerolog.NoLevel, fmt.Errorf("logging: unknown level %q", level)
	}
}

func selectWriter(format string, out io.Writer) (io.Writer, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case FormatJSON:
		return out, nil
	case FormatConsole:
		return zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}, nil
	case FormatAuto, "":
		if f, ok := out.(*os.File); ok && isTerminalFn(int(f.Fd())) {
			return zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}, nil
		}
		return out, nil
	default:
		return nil, fmt.Errorf("logging: unknown format %q", format)
	}
}

// WithRequestID stores requestID on ctx, generating one when it is blank.
func WithRequestID(ctx context.Context, requestID string) (context.Context, string) {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	return withField(ctx, requestIDKey, requestID), requestID
}

// RequestIDFromContext returns the request ID stored by WithRequestID, if any.
func RequestIDFromContext(ctx context.Context) string {
	return fieldFromContext(ctx, requestIDKey)
}

// WithSignupSession tags ctx with the signup session being worked on.
func WithSignupSession(ctx context.Context, sessionID string) context.Context {
	return withField(ctx, signupSessionKey, strings.TrimSpace(sessionID))
}

// WithTenant tags ctx with the tenant being worked on.
func WithTenant(ctx context.Context, tenantID string) context.Context {
	return withField(ctx, tenantKey, strings.TrimSpace(tenantID))
}

// FromContext returns the global logger enriched with every field carried by ctx.
func FromContext(ctx context.Context) *zerolog.Logger {
	mu.RLock()
	logger := baseLogger
	mu.RUnlock()

	if ctx == nil {
		return &logger
	}
	lc := logger.With()
	for _, f := range contextFields {
		if v := fieldFromContext(ctx, f.key); v != "" {
			lc = lc.Str(f.name, v)
		}
	}
	logger = lc.Logger()
	return &logger
}

func withField(ctx context.Context, key fieldKey, value string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if value == "" {
		return ctx
	}
	return context.WithValue(ctx, key, value)
}

func fieldFromContext(ctx context.Context, key fieldKey) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(key).(string)
	return v
}
