// Package envcfg manages the process environment
// variables that configure the collective communication
// backend.
//
// The environment is process-wide state. It is meant to
// be written once, while the process initializes and
// before any worker Goroutines start; later reads by the
// backend see whatever the last writer set.
package envcfg

import (
	"os"
	"sync"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Backend settings written during initialization.
const (
	// TraceBufferSize is the number of collective
	// operations the flight recorder keeps.
	TraceBufferSize = "TORCH_NCCL_TRACE_BUFFER_SIZE"

	// DebugInfoTempFile is the path prefix for flight
	// recorder dumps. The rank is appended to it.
	DebugInfoTempFile = "TORCH_NCCL_DEBUG_INFO_TEMP_FILE"

	// DumpOnTimeout makes the backend dump the flight
	// recorder when a collective times out.
	DumpOnTimeout = "TORCH_NCCL_DUMP_ON_TIMEOUT"

	// AsyncErrorHandling selects what the watchdog does
	// with failed collectives.
	AsyncErrorHandling = "TORCH_NCCL_ASYNC_ERROR_HANDLING"

	// AvoidRecordStreams trades allocator reuse for lower
	// peak memory.
	AvoidRecordStreams = "TORCH_NCCL_AVOID_RECORD_STREAMS"
)

// Keys lists every variable written by initialization.
func Keys() []string {
	return []string{
		TraceBufferSize,
		DebugInfoTempFile,
		DumpOnTimeout,
		AsyncErrorHandling,
		AvoidRecordStreams,
	}
}

// Env writes environment variables, warning whenever a
// write replaces a different existing value.
//
// The function fields default to the os package and
// klog. They must not be changed once the Env is in use.
type Env struct {
	Lookup func(key string) (string, bool)
	Setenv func(key, value string) error
	Warnf  func(format string, args ...interface{})

	lock       sync.Mutex
	overwrites int
}

// Default is the Env backed by the real process
// environment.
var Default = New()

// New creates an Env backed by the process environment.
func New() *Env {
	return &Env{
		Lookup: os.LookupEnv,
		Setenv: os.Setenv,
		Warnf:  klog.Warningf,
	}
}

// Set assigns value to key.
//
// If key already holds a different value, a warning
// naming both values is logged first. The new value is
// always written.
func (e *Env) Set(key, value string) error {
	e.lock.Lock()
	defer e.lock.Unlock()

	if old, ok := e.Lookup(key); ok && old != value {
		e.overwrites++
		e.Warnf("ENV[%s] = %s will be overridden to %s based on job config", key, old, value)
	}
	if err := e.Setenv(key, value); err != nil {
		return errors.Wrapf(err, "set %s", key)
	}
	return nil
}

// Get returns the current value of key, or "" if it is
// unset.
func (e *Env) Get(key string) string {
	e.lock.Lock()
	defer e.lock.Unlock()
	v, _ := e.Lookup(key)
	return v
}

// Overwrites counts the writes that replaced a different
// value.
func (e *Env) Overwrites() int {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.overwrites
}
