package simulator

import (
	"math/rand"
	"sync"

	"github.com/unixpickle/essentials"
)

// A Node is one machine in a simulated cluster.
type Node struct {
	unused int
}

// NewNode creates a new, unique Node.
func NewNode() *Node {
	return &Node{}
}

// NewNodes creates n unique Nodes.
func NewNodes(n int) []*Node {
	nodes := make([]*Node, n)
	for i := range nodes {
		nodes[i] = NewNode()
	}
	return nodes
}

// Port opens a new Port on the Node.
//
// Every Port has its own incoming stream, so traffic on
// different Ports of the same Node never mixes.
func (n *Node) Port(loop *EventLoop) *Port {
	return &Port{Node: n, Incoming: loop.Stream()}
}

// A Port is an endpoint on a Node that messages are sent
// from and delivered to.
type Port struct {
	Node *Node

	// Incoming carries *Message values.
	Incoming *EventStream
}

// Recv blocks until the next message arrives.
func (p *Port) Recv(h *Handle) *Message {
	return h.Poll(p.Incoming).Message.(*Message)
}

// RecvTimeout is like Recv, but returns nil if nothing
// arrives within timeout units of virtual time.
func (p *Port) RecvTimeout(h *Handle, timeout float64) *Message {
	event := h.PollTimeout(timeout, p.Incoming)
	if event == nil {
		return nil
	}
	return event.Message.(*Message)
}

// A Message is a payload travelling between two Ports.
type Message struct {
	Source  *Port
	Dest    *Port
	Message interface{}

	// Size is the payload size in bytes.
	Size float64
}

// A Network moves messages between Ports.
type Network interface {
	// Send queues messages for delivery to their
	// destination Port's Incoming stream.
	//
	// Send does not block.
	Send(h *Handle, msgs ...*Message)
}

// A RandomNetwork delivers every message after a uniform
// random delay in [0, 1).
type RandomNetwork struct{}

// Send schedules every message with a random delay.
func (r RandomNetwork) Send(h *Handle, msgs ...*Message) {
	for _, msg := range msgs {
		h.Schedule(msg.Dest.Incoming, msg, rand.Float64())
	}
}

// An OrderedNetwork delivers messages to each Node in the
// order they were sent, with a fixed transfer rate and a
// bounded random latency.
//
// Nodes can be taken down with SetDown, which drops all
// traffic to and from them. This is how tests simulate a
// participant that stops responding.
type OrderedNetwork struct {
	// Rate is the transfer rate in bytes per unit of
	// virtual time.
	Rate float64

	// MaxRandomLatency bounds the random latency added to
	// every message.
	MaxRandomLatency float64

	lock      sync.Mutex
	nextTimes map[*Node]float64
	downNodes map[*Node]bool
	timers    map[*Node][]*Timer
}

// NewOrderedNetwork creates an OrderedNetwork with all
// Nodes up.
func NewOrderedNetwork(rate float64, maxRandomLatency float64) *OrderedNetwork {
	return &OrderedNetwork{
		Rate:             rate,
		MaxRandomLatency: maxRandomLatency,
		nextTimes:        map[*Node]float64{},
		downNodes:        map[*Node]bool{},
		timers:           map[*Node][]*Timer{},
	}
}

// Send sends the messages over the network in order.
// Messages touching a down Node are dropped.
func (o *OrderedNetwork) Send(h *Handle, msgs ...*Message) {
	o.lock.Lock()
	defer o.lock.Unlock()

	o.cleanupTimers(h)

	curTime := h.Time()

	for _, msg := range msgs {
		src := msg.Source.Node
		dest := msg.Dest.Node
		if o.downNodes[src] || o.downNodes[dest] {
			continue
		}
		delay := rand.Float64()*o.MaxRandomLatency + msg.Size/o.Rate

		var timer *Timer
		if t, ok := o.nextTimes[dest]; !ok || t <= curTime {
			timer = h.Schedule(msg.Dest.Incoming, msg, delay)
			o.nextTimes[dest] = curTime + delay
		} else {
			timer = h.Schedule(msg.Dest.Incoming, msg, delay+(t-curTime))
			o.nextTimes[dest] = delay + t
		}
		o.timers[dest] = append(o.timers[dest], timer)
		o.timers[src] = append(o.timers[src], timer)
	}
}

// IsDown reports whether the node was taken down.
func (o *OrderedNetwork) IsDown(node *Node) bool {
	o.lock.Lock()
	defer o.lock.Unlock()
	return o.downNodes[node]
}

// SetDown takes a node down or brings it back up.
//
// Taking a node down cancels every in-flight message to
// or from it.
func (o *OrderedNetwork) SetDown(h *Handle, node *Node, down bool) {
	o.lock.Lock()
	defer o.lock.Unlock()

	o.downNodes[node] = down

	if !down {
		return
	}

	delete(o.nextTimes, node)

	o.cleanupTimers(h)
	canceled := map[*Timer]bool{}
	for _, t := range o.timers[node] {
		canceled[t] = true
		h.Cancel(t)
	}
	delete(o.timers, node)
	o.filterTimers(func(t *Timer) bool {
		return !canceled[t]
	})
}

func (o *OrderedNetwork) cleanupTimers(h *Handle) {
	now := h.Time()
	o.filterTimers(func(t *Timer) bool {
		return t.Time() >= now
	})
}

func (o *OrderedNetwork) filterTimers(keep func(t *Timer) bool) {
	for node, timers := range o.timers {
		for i := 0; i < len(timers); i++ {
			if !keep(timers[i]) {
				essentials.UnorderedDelete(&timers, i)
				i--
			}
		}
		o.timers[node] = timers
	}
}
