package allreduce

import "github.com/unixpickle/distrain/collcomm"

// A NaiveAllreducer sends every vector from every node
// to every other node.
type NaiveAllreducer struct{}

// Allreduce runs fn() on all of the nodes' vectors on
// every node.
func (n NaiveAllreducer) Allreduce(c *collcomm.Comms, data []float64,
	fn collcomm.ReduceFn) ([]float64, error) {
	c.NextOp()

	gatheredVecs := make([][]float64, len(c.Ports))
	c.Bcast(data)
	for i := 0; i < len(gatheredVecs)-1; i++ {
		incoming, source, err := c.Recv()
		if err != nil {
			return nil, err
		}
		gatheredVecs[c.IndexOf(source)] = incoming
	}
	gatheredVecs[c.Index()] = data

	return fn(c.Handle, gatheredVecs...), nil
}
