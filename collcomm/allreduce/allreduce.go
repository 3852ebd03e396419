// Package allreduce implements algorithms for reducing
// vectors across every node of a group, leaving the
// result on all of them.
package allreduce

import "github.com/unixpickle/distrain/collcomm"

// Allreducer is an algorithm that applies a ReduceFn to
// vectors distributed across the nodes of a Comms.
//
// Every node must call Allreduce with a vector of the
// same length. An Allreducer starts a new operation on
// the Comms, so it may be called repeatedly on the same
// Comms.
type Allreducer interface {
	Allreduce(c *collcomm.Comms, data []float64, fn collcomm.ReduceFn) ([]float64, error)
}
