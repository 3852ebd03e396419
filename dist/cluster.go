package dist

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/unixpickle/distrain/collcomm"
	"github.com/unixpickle/distrain/collcomm/allreduce"
	"github.com/unixpickle/distrain/simulator"
	"k8s.io/klog/v2"
)

// DefaultGroupName is the name of the group containing
// every Process of a Cluster.
const DefaultGroupName = "default"

// A Cluster is a set of simulated machines, one Process
// per machine, connected by a network.
type Cluster struct {
	loop    *simulator.EventLoop
	network simulator.Network
	nodes   []*simulator.Node
	reducer allreduce.Allreducer

	lock   sync.Mutex
	groups map[string]*groupPorts
}

// groupPorts is the shared wiring of a named group: one
// port per member, in member order.
type groupPorts struct {
	id    uuid.UUID
	ranks []int
	ports []*simulator.Port
}

// NewCluster creates a Cluster with one Process per node.
//
// If reducer is nil, a TreeAllreducer is used.
func NewCluster(loop *simulator.EventLoop, network simulator.Network, nodes []*simulator.Node,
	reducer allreduce.Allreducer) *Cluster {
	if reducer == nil {
		reducer = allreduce.TreeAllreducer{}
	}
	return &Cluster{
		loop:    loop,
		network: network,
		nodes:   nodes,
		reducer: reducer,
		groups:  map[string]*groupPorts{},
	}
}

// Size is the number of Processes.
func (c *Cluster) Size() int {
	return len(c.nodes)
}

// Loop returns the event loop the Cluster runs on.
func (c *Cluster) Loop() *simulator.EventLoop {
	return c.loop
}

// Spawn calls f for every Process, each in its own
// Goroutine on the event loop.
func (c *Cluster) Spawn(f func(p *Process)) {
	for rank := range c.nodes {
		rank := rank
		c.loop.Go(func(h *simulator.Handle) {
			f(&Process{
				cluster: c,
				rank:    rank,
				handle:  h,
				Device:  nopDevice{},
			})
		})
	}
}

// Run runs the event loop until every spawned Process
// returns.
func (c *Cluster) Run() error {
	return c.loop.Run()
}

// join returns the wiring of a group, creating it if this
// is the first member to ask for it.
func (c *Cluster) join(name string, ranks []int) (*groupPorts, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if g, ok := c.groups[name]; ok {
		if !sameRanks(g.ranks, ranks) {
			return nil, errors.Errorf("group %q already exists with ranks %v, not %v",
				name, g.ranks, ranks)
		}
		return g, nil
	}

	seen := map[int]bool{}
	ports := make([]*simulator.Port, len(ranks))
	for i, rank := range ranks {
		if rank < 0 || rank >= len(c.nodes) {
			return nil, errors.Errorf("group %q: rank %d out of range [0, %d)", name, rank, len(c.nodes))
		}
		if seen[rank] {
			return nil, errors.Errorf("group %q: rank %d listed twice", name, rank)
		}
		seen[rank] = true
		ports[i] = c.nodes[rank].Port(c.loop)
	}
	g := &groupPorts{
		id:    uuid.New(),
		ranks: append([]int{}, ranks...),
		ports: ports,
	}
	c.groups[name] = g
	return g, nil
}

func sameRanks(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i, x := range a {
		if b[i] != x {
			return false
		}
	}
	return true
}

// A Process is one rank's view of the Cluster.
//
// A Process must only be used from the Goroutine that
// Spawn started it on.
type Process struct {
	// Device is synchronized by SynchronizeDevice. It
	// defaults to a device with no queued work.
	Device Device

	cluster *Cluster
	rank    int
	handle  *simulator.Handle

	backend      map[string]string
	defaultGroup *Group
}

// Rank is the Process's global rank.
func (p *Process) Rank() int {
	return p.rank
}

// WorldSize is the number of Processes in the Cluster.
func (p *Process) WorldSize() int {
	return p.cluster.Size()
}

// Handle returns the Process's handle on the event loop.
func (p *Process) Handle() *simulator.Handle {
	return p.handle
}

// InitProcessGroup starts the default group over every
// rank.
//
// Like a rendezvous, it blocks until every rank has
// joined or timeout runs out.
func (p *Process) InitProcessGroup(backend string, timeout time.Duration) error {
	if p.defaultGroup != nil {
		return ErrAlreadyInitialized
	}
	if err := checkTimeout(timeout); err != nil {
		return err
	}
	parsed, err := ParseBackend(backend)
	if err != nil {
		return err
	}
	ranks := make([]int, p.WorldSize())
	for i := range ranks {
		ranks[i] = i
	}
	g, err := p.newGroup(DefaultGroupName, ranks, timeout)
	if err != nil {
		return err
	}
	if err := g.Barrier(); err != nil {
		return errors.Wrapf(err, "rendezvous of rank %d", p.rank)
	}
	p.backend = parsed
	p.defaultGroup = g
	klog.V(1).Infof("rank %d: initialized default group %s (backend %s, timeout %s)",
		p.rank, g.ID(), backend, timeout)
	return nil
}

// IsInitialized reports whether InitProcessGroup has
// succeeded.
func (p *Process) IsInitialized() bool {
	return p.defaultGroup != nil
}

// Backend returns the backend name used for a device
// type, falling back to the catch-all entry.
func (p *Process) Backend(device string) (string, bool) {
	if name, ok := p.backend[device]; ok {
		return name, true
	}
	name, ok := p.backend[""]
	return name, ok
}

// DefaultGroup returns the group of all ranks.
func (p *Process) DefaultGroup() (*Group, error) {
	if p.defaultGroup == nil {
		return nil, ErrNotInitialized
	}
	return p.defaultGroup, nil
}

// NewGroup joins a named group made of the given global
// ranks, which must include this Process. The group
// starts with the default group's timeout.
//
// Every member must call NewGroup with the same name and
// ranks.
func (p *Process) NewGroup(name string, ranks []int) (*Group, error) {
	def, err := p.DefaultGroup()
	if err != nil {
		return nil, err
	}
	return p.newGroup(name, ranks, def.Timeout())
}

func (p *Process) newGroup(name string, ranks []int, timeout time.Duration) (*Group, error) {
	wiring, err := p.cluster.join(name, ranks)
	if err != nil {
		return nil, err
	}
	idx := -1
	for i, rank := range wiring.ranks {
		if rank == p.rank {
			idx = i
		}
	}
	if idx < 0 {
		return nil, errors.Wrapf(ErrNotMember, "rank %d, group %q", p.rank, name)
	}
	g := &Group{
		name:  name,
		id:    wiring.id,
		ranks: wiring.ranks,
		comms: &collcomm.Comms{
			Handle:  p.handle,
			Port:    wiring.ports[idx],
			Ports:   wiring.ports,
			Network: p.cluster.network,
		},
		reducer: p.cluster.reducer,
	}
	if err := g.SetTimeout(timeout); err != nil {
		return nil, err
	}
	return g, nil
}

// SynchronizeDevice waits for the Process's device.
func (p *Process) SynchronizeDevice() error {
	return p.Device.Synchronize()
}
