// Package dist provides process groups, device meshes
// and the small distributed helpers a training job
// needs: scalar reductions, timeout adjustment and
// backend initialization.
//
// Processes run on a simulated Cluster. Every collective
// blocks the calling Process until all members of the
// group have called it, or until the group's timeout
// runs out in virtual time.
package dist

import (
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Errors about process group lifecycle and membership.
var (
	ErrNotInitialized     = errors.New("default process group is not initialized")
	ErrAlreadyInitialized = errors.New("default process group is already initialized")
	ErrNotMember          = errors.New("process is not a member of the group")
)

// ReduceOp selects how values are combined by a
// collective reduction.
type ReduceOp int

const (
	ReduceSum ReduceOp = iota
	ReduceMax
	ReduceAvg
)

// String returns the upper-case name of the op.
func (r ReduceOp) String() string {
	switch r {
	case ReduceSum:
		return "SUM"
	case ReduceMax:
		return "MAX"
	case ReduceAvg:
		return "AVG"
	}
	return "UNKNOWN"
}

// A Device is the accelerator attached to a Process.
type Device interface {
	// Synchronize blocks until all work queued on the
	// device has finished.
	Synchronize() error
}

type nopDevice struct{}

func (nopDevice) Synchronize() error {
	return nil
}

// A Runtime can start the default process group.
type Runtime interface {
	InitProcessGroup(backend string, timeout time.Duration) error
}

// ParseBackend splits a backend string such as
// "cpu:gloo,cuda:nccl" into a map from device type to
// backend name. An entry without a device type applies
// to every device and is stored under "".
func ParseBackend(backend string) (map[string]string, error) {
	res := map[string]string{}
	for _, entry := range strings.Split(backend, ",") {
		entry = strings.TrimSpace(entry)
		device, name := "", entry
		if i := strings.Index(entry, ":"); i >= 0 {
			device, name = entry[:i], entry[i+1:]
			if device == "" {
				return nil, errors.Errorf("backend %q: empty device type", backend)
			}
		}
		if name == "" {
			return nil, errors.Errorf("backend %q: empty backend name", backend)
		}
		if _, ok := res[device]; ok {
			return nil, errors.Errorf("backend %q: device %q listed twice", backend, device)
		}
		res[device] = name
	}
	return res, nil
}
