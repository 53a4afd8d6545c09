package structstore

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems; the
// promcollector package provides a Prometheus implementation.
//
// Example:
//
//	type countingCollector struct {
//	    structstore.NoopMetricsCollector
//	    timeouts atomic.Int64
//	}
//
//	func (c *countingCollector) RecordLockWait(write bool, d time.Duration, err error) {
//	    if errors.Is(err, structstore.ErrLockTimeout) {
//	        c.timeouts.Add(1)
//	    }
//	}
type MetricsCollector interface {
	// RecordLockWait is called after each explicit or implicit lock
	// acquisition. d is the time spent acquiring, err is nil on success.
	RecordLockWait(write bool, d time.Duration, err error)

	// RecordAlloc is called after each payload allocation in the arena.
	RecordAlloc(bytes int, err error)

	// RecordEncode is called after each ToBytes/WriteTo. bytes is the frame size.
	RecordEncode(bytes int, d time.Duration, err error)

	// RecordDecode is called after each FromBytes/LoadBytes/ReadFrom.
	RecordDecode(bytes int, d time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordLockWait(bool, time.Duration, error) {}
func (NoopMetricsCollector) RecordAlloc(int, error)                    {}
func (NoopMetricsCollector) RecordEncode(int, time.Duration, error)    {}
func (NoopMetricsCollector) RecordDecode(int, time.Duration, error)    {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	ReadLocks        atomic.Int64
	WriteLocks       atomic.Int64
	LockErrors       atomic.Int64
	LockWaitNanos    atomic.Int64
	AllocCount       atomic.Int64
	AllocBytes       atomic.Int64
	AllocErrors      atomic.Int64
	EncodeCount      atomic.Int64
	EncodeBytes      atomic.Int64
	EncodeErrors     atomic.Int64
	EncodeTotalNanos atomic.Int64
	DecodeCount      atomic.Int64
	DecodeBytes      atomic.Int64
	DecodeErrors     atomic.Int64
	DecodeTotalNanos atomic.Int64
}

// RecordLockWait implements MetricsCollector.
func (b *BasicMetricsCollector) RecordLockWait(write bool, d time.Duration, err error) {
	if write {
		b.WriteLocks.Add(1)
	} else {
		b.ReadLocks.Add(1)
	}
	b.LockWaitNanos.Add(d.Nanoseconds())
	if err != nil {
		b.LockErrors.Add(1)
	}
}

// RecordAlloc implements MetricsCollector.
func (b *BasicMetricsCollector) RecordAlloc(bytes int, err error) {
	b.AllocCount.Add(1)
	if err != nil {
		b.AllocErrors.Add(1)
		return
	}
	b.AllocBytes.Add(int64(bytes))
}

// RecordEncode implements MetricsCollector.
func (b *BasicMetricsCollector) RecordEncode(bytes int, d time.Duration, err error) {
	b.EncodeCount.Add(1)
	b.EncodeTotalNanos.Add(d.Nanoseconds())
	if err != nil {
		b.EncodeErrors.Add(1)
		return
	}
	b.EncodeBytes.Add(int64(bytes))
}

// RecordDecode implements MetricsCollector.
func (b *BasicMetricsCollector) RecordDecode(bytes int, d time.Duration, err error) {
	b.DecodeCount.Add(1)
	b.DecodeTotalNanos.Add(d.Nanoseconds())
	if err != nil {
		b.DecodeErrors.Add(1)
		return
	}
	b.DecodeBytes.Add(int64(bytes))
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		ReadLocks:      b.ReadLocks.Load(),
		WriteLocks:     b.WriteLocks.Load(),
		LockErrors:     b.LockErrors.Load(),
		LockWaitNanos:  b.LockWaitNanos.Load(),
		AllocCount:     b.AllocCount.Load(),
		AllocBytes:     b.AllocBytes.Load(),
		AllocErrors:    b.AllocErrors.Load(),
		EncodeCount:    b.EncodeCount.Load(),
		EncodeBytes:    b.EncodeBytes.Load(),
		EncodeErrors:   b.EncodeErrors.Load(),
		EncodeAvgNanos: avg(b.EncodeTotalNanos.Load(), b.EncodeCount.Load()),
		DecodeCount:    b.DecodeCount.Load(),
		DecodeBytes:    b.DecodeBytes.Load(),
		DecodeErrors:   b.DecodeErrors.Load(),
		DecodeAvgNanos: avg(b.DecodeTotalNanos.Load(), b.DecodeCount.Load()),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	ReadLocks      int64
	WriteLocks     int64
	LockErrors     int64
	LockWaitNanos  int64
	AllocCount     int64
	AllocBytes     int64
	AllocErrors    int64
	EncodeCount    int64
	EncodeBytes    int64
	EncodeErrors   int64
	EncodeAvgNanos int64
	DecodeCount    int64
	DecodeBytes    int64
	DecodeErrors   int64
	DecodeAvgNanos int64
}
