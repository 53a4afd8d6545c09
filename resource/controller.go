// Package resource governs the process-wide resources stores draw on.
//
// A Controller tracks three things:
//
//   - Memory: the bytes of private arenas mapped by New and FromBytes,
//     optionally capped by a hard limit (fail-fast).
//   - Serialization slots: how many ToBytes/WriteTo walks may run at once.
//   - IO: a token bucket applied to WriteTo and ReadFrom streams.
//
// Every method is safe on a nil *Controller, which imposes no limits.
package resource

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// ErrMemoryLimitExceeded is returned when an arena would exceed the memory limit.
var ErrMemoryLimitExceeded = errors.New("resource: memory limit exceeded")

// Config holds resource limits.
type Config struct {
	// MemoryLimitBytes is the hard limit for private arena memory.
	// If 0, usage is only tracked.
	MemoryLimitBytes int64

	// MaxConcurrentEncodes bounds concurrent serialization walks.
	// If 0, defaults to 4.
	MaxConcurrentEncodes int64

	// IOLimitBytesPerSec caps streamed serialization throughput.
	// If 0, unlimited.
	IOLimitBytesPerSec int64
}

// Controller manages memory, serialization concurrency and IO bandwidth.
type Controller struct {
	cfg Config

	memSem  *semaphore.Weighted // nil if unlimited
	memUsed atomic.Int64

	encSem *semaphore.Weighted

	ioLimiter *rate.Limiter
}

// NewController creates a new resource controller.
func NewController(cfg Config) *Controller {
	if cfg.MaxConcurrentEncodes <= 0 {
		cfg.MaxConcurrentEncodes = 4
	}

	c := &Controller{
		cfg:    cfg,
		encSem: semaphore.NewWeighted(cfg.MaxConcurrentEncodes),
	}

	if cfg.MemoryLimitBytes > 0 {
		c.memSem = semaphore.NewWeighted(cfg.MemoryLimitBytes)
	}

	if cfg.IOLimitBytesPerSec > 0 {
		c.ioLimiter = rate.NewLimiter(rate.Limit(cfg.IOLimitBytesPerSec), int(cfg.IOLimitBytesPerSec))
	}

	return c
}

// Config returns the limits the controller was built with.
func (c *Controller) Config() Config {
	if c == nil {
		return Config{}
	}
	return c.cfg
}

// AcquireMemory reserves bytes without blocking. It fails with
// ErrMemoryLimitExceeded when the reservation would exceed the limit.
func (c *Controller) AcquireMemory(bytes int64) error {
	if c == nil || bytes <= 0 {
		return nil
	}

	if c.memSem != nil && !c.memSem.TryAcquire(bytes) {
		return fmt.Errorf("%w: requested %d, in use %d of %d",
			ErrMemoryLimitExceeded, bytes, c.memUsed.Load(), c.cfg.MemoryLimitBytes)
	}

	c.memUsed.Add(bytes)
	return nil
}

// ReleaseMemory releases reserved memory.
func (c *Controller) ReleaseMemory(bytes int64) {
	if c == nil || bytes <= 0 {
		return
	}

	if c.memSem != nil {
		c.memSem.Release(bytes)
	}
	c.memUsed.Add(-bytes)
}

// MemoryUsage returns the current reserved memory in bytes.
func (c *Controller) MemoryUsage() int64 {
	if c == nil {
		return 0
	}
	return c.memUsed.Load()
}

// AcquireEncode reserves a serialization slot, blocking until one is free
// or ctx is done.
func (c *Controller) AcquireEncode(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.encSem.Acquire(ctx, 1)
}

// TryAcquireEncode reserves a serialization slot without blocking.
func (c *Controller) TryAcquireEncode() bool {
	if c == nil {
		return true
	}
	return c.encSem.TryAcquire(1)
}

// ReleaseEncode releases a serialization slot.
func (c *Controller) ReleaseEncode() {
	if c == nil {
		return
	}
	c.encSem.Release(1)
}

// AcquireIO waits until the IO limit allows n bytes.
func (c *Controller) AcquireIO(ctx context.Context, n int) error {
	if c == nil || c.ioLimiter == nil {
		return nil
	}
	return c.ioLimiter.WaitN(ctx, n)
}

// ioChunk returns the largest single request AcquireIO accepts.
func (c *Controller) ioChunk() int {
	if c == nil || c.ioLimiter == nil {
		return 0
	}
	return c.ioLimiter.Burst()
}
