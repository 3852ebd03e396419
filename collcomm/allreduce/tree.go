package allreduce

import (
	"github.com/unixpickle/distrain/collcomm"
	"github.com/unixpickle/distrain/simulator"
)

// A TreeAllreducer arranges the nodes in a binary tree,
// reduces up to the root, and then broadcasts the result
// back down to the leaves.
type TreeAllreducer struct{}

// Allreduce calls fn on vectors along a tree and returns
// the resulting reduced vector.
func (t TreeAllreducer) Allreduce(c *collcomm.Comms, data []float64,
	fn collcomm.ReduceFn) ([]float64, error) {
	c.NextOp()
	parent, children := positionInTree(c)

	messages := [][]float64{data}
	for range children {
		msg, _, err := c.Recv()
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}

	finalVector := fn(c.Handle, messages...)
	if parent != nil {
		c.Send(parent, finalVector)
		var err error
		finalVector, _, err = c.Recv()
		if err != nil {
			return nil, err
		}
	}

	for _, child := range children {
		c.Send(child, finalVector)
	}

	return finalVector, nil
}

// positionInTree finds the parent and children of the
// current node in a heap-ordered binary tree.
//
// The root has no parent, and leaves have no children.
func positionInTree(c *collcomm.Comms) (parent *simulator.Port, children []*simulator.Port) {
	idx := c.Index()
	if idx > 0 {
		parent = c.Ports[(idx-1)/2]
	}
	for _, child := range []int{2*idx + 1, 2*idx + 2} {
		if child < len(c.Ports) {
			children = append(children, c.Ports[child])
		}
	}
	return
}
