package orchestrator

import (
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/ShayCichocki/taskloom/internal/planner"
	"github.com/ShayCichocki/taskloom/internal/session"
	"github.com/ShayCichocki/taskloom/pkg/models"
)

// Defaults applied when an option is not given.
const (
	DefaultToolTimeout         = 30 * time.Second
	DefaultConfirmationTimeout = 300 * time.Second
	DefaultEventBufferSize     = 100
)

// RequiredConfig contains the minimal required configuration for an Engine.
// All fields are required and have no defaults.
type RequiredConfig struct {
	// Tools invokes capabilities by name.
	Tools ToolInvoker
	// Sessions holds per-user state across runs.
	Sessions session.Store
}

// Option configures an Engine. Use With* functions to create Options.
type Option func(*engineOptions)

// engineOptions holds all optional configuration.
type engineOptions struct {
	planner             planner.Planner
	emitter             *EventEmitter
	logger              *DebugLogger
	tracer              trace.Tracer
	toolTimeout         time.Duration
	confirmationTimeout time.Duration
	maxConcurrency      int
	historySize         int
	now                 func() time.Time
	newID               func() string
}

func defaultOptions() *engineOptions {
	return &engineOptions{
		toolTimeout:         DefaultToolTimeout,
		confirmationTimeout: DefaultConfirmationTimeout,
		historySize:         models.DefaultHistorySize,
		now:                 time.Now,
	}
}

// WithPlanner sets the planner used by Run. Without one, only Execute works.
func WithPlanner(p planner.Planner) Option {
	return func(o *engineOptions) { o.planner = p }
}

// WithEventEmitter sets where progress events go. Without one, events are discarded.
func WithEventEmitter(e *EventEmitter) Option {
	return func(o *engineOptions) { o.emitter = e }
}

// WithLogger sets the debug logger.
func WithLogger(l *DebugLogger) Option {
	return func(o *engineOptions) { o.logger = l }
}

// WithTracer sets the OpenTelemetry tracer. Defaults to the global provider's.
func WithTracer(t trace.Tracer) Option {
	return func(o *engineOptions) { o.tracer = t }
}

// WithToolTimeout bounds every single tool invocation. Zero disables the bound.
func WithToolTimeout(d time.Duration) Option {
	return func(o *engineOptions) { o.toolTimeout = d }
}

// WithConfirmationTimeout sets how long a suspended run may wait for an answer.
// Zero means forever.
func WithConfirmationTimeout(d time.Duration) Option {
	return func(o *engineOptions) { o.confirmationTimeout = d }
}

// WithMaxConcurrency caps in-flight invocations within a group. Zero means unbounded.
func WithMaxConcurrency(n int) Option {
	return func(o *engineOptions) { o.maxConcurrency = n }
}

// WithHistorySize sets the per-session operation history capacity.
func WithHistorySize(n int) Option {
	return func(o *engineOptions) {
		if n > 0 {
			o.historySize = n
		}
	}
}

// WithClock overrides time.Now (mainly for testing).
func WithClock(now func() time.Time) Option {
	return func(o *engineOptions) { o.now = now }
}

// WithIDGenerator overrides run and operation ID generation (mainly for testing).
func WithIDGenerator(fn func() string) Option {
	return func(o *engineOptions) { o.newID = fn }
}
