package collcomm

import (
	"math"

	"github.com/pkg/errors"
	"github.com/unixpickle/distrain/simulator"
	"github.com/unixpickle/essentials"
)

// ErrTimeout is wrapped by errors returned when a peer
// does not show up before the Comms timeout.
var ErrTimeout = errors.New("collective operation timed out")

// Comms is one node's view of a group of connected
// nodes.
//
// A Comms can be reused for any number of collective
// operations, as long as every node in the group runs the
// same operations in the same order. Each operation must
// start with NextOp, which tags outgoing messages so that
// traffic from a fast node's next operation is never
// confused with the current one.
type Comms struct {
	// Handle is the node's Goroutine handle on the event
	// loop.
	Handle *simulator.Handle

	// Port is the current node's port in this group.
	Port *simulator.Port

	// Ports contains the ports of every node in the group,
	// including the current node, in rank order.
	Ports []*simulator.Port

	// Network connects the nodes.
	Network simulator.Network

	// Timeout bounds each collective operation, in virtual
	// time. Every Recv of an operation fails with ErrTimeout
	// once Timeout has passed since its NextOp call. Zero
	// waits forever.
	Timeout float64

	op       uint64
	deadline float64
	stashed  []*simulator.Message
}

// packet is the payload of every message sent through a
// Comms.
type packet struct {
	op   uint64
	data []float64
}

// SpawnComms opens a fresh port on every node and calls f
// for each node in its own Goroutine.
func SpawnComms(loop *simulator.EventLoop, network simulator.Network, nodes []*simulator.Node,
	f func(c *Comms)) {
	ports := make([]*simulator.Port, len(nodes))
	for i, node := range nodes {
		ports[i] = node.Port(loop)
	}
	for i := range nodes {
		port := ports[i]
		loop.Go(func(h *simulator.Handle) {
			f(&Comms{
				Handle:  h,
				Port:    port,
				Ports:   ports,
				Network: network,
			})
		})
	}
}

// Size gets the number of nodes.
func (c *Comms) Size() int {
	return len(c.Ports)
}

// Op returns the sequence number of the current
// operation.
func (c *Comms) Op() uint64 {
	return c.op
}

// NextOp starts a new collective operation and fixes its
// deadline from the current Timeout.
func (c *Comms) NextOp() {
	c.op++
	c.deadline = math.Inf(1)
	if c.Timeout > 0 {
		c.deadline = c.Handle.Time() + c.Timeout
	}
}

// Bcast sends a vector to every other node.
func (c *Comms) Bcast(vec []float64) {
	messages := make([]*simulator.Message, 0, len(c.Ports)-1)
	for _, port := range c.Ports {
		if port == c.Port {
			continue
		}
		messages = append(messages, c.message(port, vec))
	}
	c.Network.Send(c.Handle, messages...)
}

// Send schedules a vector to be sent to dst.
func (c *Comms) Send(dst *simulator.Port, vec []float64) {
	c.Network.Send(c.Handle, c.message(dst, vec))
}

// Recv receives the next vector of the current
// operation.
//
// Vectors belonging to later operations are kept for
// later calls. Messages from earlier operations can only
// come from a peer that timed out, and are dropped.
func (c *Comms) Recv() ([]float64, *simulator.Port, error) {
	for i, msg := range c.stashed {
		if msg.Message.(*packet).op == c.op {
			essentials.OrderedDelete(&c.stashed, i)
			return msg.Message.(*packet).data, msg.Source, nil
		}
	}
	for {
		var msg *simulator.Message
		if !math.IsInf(c.deadline, 1) {
			msg = c.Port.RecvTimeout(c.Handle, c.deadline-c.Handle.Time())
			if msg == nil {
				return nil, nil, errors.Wrapf(ErrTimeout, "node %d, op %d, deadline %g",
					c.Index(), c.op, c.deadline)
			}
		} else {
			msg = c.Port.Recv(c.Handle)
		}
		p := msg.Message.(*packet)
		if p.op == c.op {
			return p.data, msg.Source, nil
		} else if p.op > c.op {
			c.stashed = append(c.stashed, msg)
		}
	}
}

// Index returns the current node's index in the group.
func (c *Comms) Index() int {
	return c.IndexOf(c.Port)
}

// IndexOf returns any node's index in the group.
func (c *Comms) IndexOf(p *simulator.Port) int {
	for i, port := range c.Ports {
		if port == p {
			return i
		}
	}
	panic("port is not part of the group")
}

func (c *Comms) message(dst *simulator.Port, vec []float64) *simulator.Message {
	return &simulator.Message{
		Source:  c.Port,
		Dest:    dst,
		Message: &packet{op: c.op, data: vec},
		Size:    float64(len(vec)*8) + 8,
	}
}
