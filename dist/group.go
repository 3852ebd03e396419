package dist

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/unixpickle/distrain/collcomm"
	"github.com/unixpickle/distrain/collcomm/allreduce"
)

// A Group is one Process's handle on a process group.
type Group struct {
	name    string
	id      uuid.UUID
	ranks   []int
	comms   *collcomm.Comms
	reducer allreduce.Allreducer
}

// Name returns the name the group was created with.
func (g *Group) Name() string {
	return g.name
}

// ID is shared by every member's handle on the group.
func (g *Group) ID() uuid.UUID {
	return g.id
}

// Rank is the Process's index within the group.
func (g *Group) Rank() int {
	return g.comms.Index()
}

// Size is the number of members.
func (g *Group) Size() int {
	return g.comms.Size()
}

// Ranks returns the members' global ranks, in group
// order.
func (g *Group) Ranks() []int {
	return append([]int{}, g.ranks...)
}

// Timeout is how long a collective on this group waits
// for missing members. Zero means forever.
func (g *Group) Timeout() time.Duration {
	return time.Duration(g.comms.Timeout * float64(time.Second))
}

// SetTimeout changes this member's timeout for later
// collectives. Zero disables the timeout and negative
// values are rejected.
func (g *Group) SetTimeout(timeout time.Duration) error {
	if err := checkTimeout(timeout); err != nil {
		return err
	}
	g.comms.Timeout = timeout.Seconds()
	return nil
}

func checkTimeout(timeout time.Duration) error {
	if timeout < 0 {
		return errors.Errorf("invalid timeout %s: must not be negative", timeout)
	}
	return nil
}

// AllReduce reduces data across every member and returns
// the result to all of them.
//
// Errors from the underlying allreduce are returned as
// they are.
func (g *Group) AllReduce(data []float64, op ReduceOp) ([]float64, error) {
	var fn collcomm.ReduceFn
	switch op {
	case ReduceSum, ReduceAvg:
		fn = collcomm.Sum
	case ReduceMax:
		fn = collcomm.Max
	default:
		return nil, errors.Errorf("unsupported reduce op %s", op)
	}
	res, err := g.reducer.Allreduce(g.comms, data, fn)
	if err != nil {
		return nil, err
	}
	// Simulated peers may hand back the same slice.
	out := append([]float64{}, res...)
	if op == ReduceAvg {
		for i := range out {
			out[i] /= float64(g.Size())
		}
	}
	return out, nil
}

// Barrier blocks until every member reaches it.
func (g *Group) Barrier() error {
	_, err := g.reducer.Allreduce(g.comms, []float64{0}, collcomm.Sum)
	return err
}
