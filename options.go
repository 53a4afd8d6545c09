package structstore

import (
	"log/slog"
	"time"

	"github.com/hupe1980/structstore/internal/compress"
	"github.com/hupe1980/structstore/internal/lock"
	"github.com/hupe1980/structstore/internal/shm"
	"github.com/hupe1980/structstore/resource"
)

// Cleanup decides whether closing a shared handle removes the segment.
type Cleanup = shm.Cleanup

// Cleanup policies.
const (
	// CleanupOnOwnerExit removes the segment when the handle that created it closes.
	CleanupOnOwnerExit = shm.CleanupOnOwnerExit
	// CleanupAlways removes the segment when any handle closes.
	CleanupAlways = shm.CleanupAlways
	// CleanupNever leaves the segment until it is removed explicitly.
	CleanupNever = shm.CleanupNever
	// CleanupIfLast removes the segment when the last attached handle closes.
	CleanupIfLast = shm.CleanupIfLast
)

// ParseCleanup parses "on-owner-exit", "always", "never" or "if-last".
func ParseCleanup(s string) (Cleanup, error) { return shm.ParseCleanup(s) }

// Compression selects the codec for serialized frames.
type Compression = compress.Type

// Frame compression codecs.
const (
	CompressionNone = compress.None
	CompressionLZ4  = compress.LZ4
	CompressionZstd = compress.Zstd
)

// ParseCompression maps a codec name ("none", "lz4", "zstd") to its Compression.
func ParseCompression(s string) (Compression, error) {
	c, err := compress.Parse(s)
	if err != nil {
		return c, newError("ParseCompression", ErrInvalidArgument, "unknown compression %q", s)
	}
	return c, nil
}

type options struct {
	logger           *Logger
	metricsCollector MetricsCollector
	lockTimeout      time.Duration
	controller       *resource.Controller
	reinit           bool
	cleanup          Cleanup
	targetAddr       uintptr
	dir              string
	readyTimeout     time.Duration
	compression      Compression
	capacity         int
}

// Option configures store construction, shared segments and serialization.
//
// Options that do not apply to a call are ignored: WithReinit means nothing
// to New, WithCompression means nothing to OpenShared.
type Option func(*options)

// WithLogger configures structured logging.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := structstore.NewJSONLogger(slog.LevelInfo)
//	s, _ := structstore.OpenShared("/state", 1<<20, structstore.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithMetricsCollector configures a metrics collector for lock, allocation
// and serializer metrics. Pass nil to disable metrics collection.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		o.metricsCollector = mc
	}
}

// WithLockTimeout bounds how long lock acquisitions wait. Values <= 0 select
// the default of 100ms.
func WithLockTimeout(d time.Duration) Option {
	return func(o *options) {
		o.lockTimeout = d
	}
}

// WithResourceController charges private arenas against the controller's
// memory budget and routes WriteTo/ReadFrom through its IO limiter.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) {
		o.controller = rc
	}
}

// WithReinit makes OpenShared discard an existing segment of the same name
// and create a fresh one. Handles still attached to the old segment see it
// as invalidated and can move over with Revalidate.
func WithReinit(reinit bool) Option {
	return func(o *options) {
		o.reinit = reinit
	}
}

// WithCleanup sets the cleanup policy of a shared handle. The default is
// CleanupIfLast.
func WithCleanup(c Cleanup) Option {
	return func(o *options) {
		o.cleanup = c
	}
}

// WithTargetAddr asks OpenShared to map the segment at addr. Opening fails
// with ErrInvalidArgument if the kernel cannot place the mapping there.
func WithTargetAddr(addr uintptr) Option {
	return func(o *options) {
		o.targetAddr = addr
	}
}

// WithFileBacking places the segment file in dir instead of /dev/shm.
func WithFileBacking(dir string) Option {
	return func(o *options) {
		o.dir = dir
	}
}

// WithReadyTimeout bounds how long OpenShared waits for another process to
// finish initializing the segment.
func WithReadyTimeout(d time.Duration) Option {
	return func(o *options) {
		o.readyTimeout = d
	}
}

// WithCompression selects the codec ToBytes and WriteTo use for frame bodies.
func WithCompression(c Compression) Option {
	return func(o *options) {
		o.compression = c
	}
}

// WithCapacity overrides the arena capacity FromBytes and ReadFrom allocate.
// By default the capacity of the serialized store is reused.
func WithCapacity(n int) Option {
	return func(o *options) {
		o.capacity = n
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
		lockTimeout:      lock.DefaultTimeout,
		cleanup:          CleanupIfLast,
		readyTimeout:     shm.DefaultReadyTimeout,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.logger == nil {
		o.logger = NoopLogger()
	}
	if o.metricsCollector == nil {
		o.metricsCollector = NoopMetricsCollector{}
	}
	if o.lockTimeout <= 0 {
		o.lockTimeout = lock.DefaultTimeout
	}
	return o
}
