package dist

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unixpickle/distrain/collcomm"
	"github.com/unixpickle/distrain/collcomm/allreduce"
	"github.com/unixpickle/distrain/simulator"
)

var reducers = map[string]allreduce.Allreducer{
	"Naive": allreduce.NaiveAllreducer{},
	"Tree":  allreduce.TreeAllreducer{},
}

// runCluster spawns n Processes running f and waits for
// all of them.
func runCluster(t *testing.T, n int, reducer allreduce.Allreducer, f func(p *Process)) {
	loop := simulator.NewEventLoop()
	cluster := NewCluster(loop, simulator.RandomNetwork{}, simulator.NewNodes(n), reducer)
	cluster.Spawn(f)
	require.NoError(t, cluster.Run())
}

func TestMaxMean(t *testing.T) {
	for name, reducer := range reducers {
		t.Run(name, func(t *testing.T) {
			runCluster(t, 4, reducer, func(p *Process) {
				if !assert.NoError(t, p.InitProcessGroup(DefaultBackend, time.Minute)) {
					return
				}
				g, err := p.DefaultGroup()
				if !assert.NoError(t, err) {
					return
				}
				max, err := Max(float64(p.Rank()), g)
				assert.NoError(t, err)
				assert.Equal(t, 3.0, max)

				mean, err := Mean(float64(p.Rank()), g)
				assert.NoError(t, err)
				assert.Equal(t, 1.5, mean)
			})
		})
	}
}

func TestAllReduceVector(t *testing.T) {
	runCluster(t, 3, nil, func(p *Process) {
		if !assert.NoError(t, p.InitProcessGroup("gloo", 0)) {
			return
		}
		g, _ := p.DefaultGroup()
		data := []float64{float64(p.Rank()), 1}
		sum, err := g.AllReduce(data, ReduceSum)
		assert.NoError(t, err)
		assert.Equal(t, []float64{3, 3}, sum)

		sum[0] = -1
		again, err := g.AllReduce(data, ReduceSum)
		assert.NoError(t, err)
		assert.Equal(t, []float64{3, 3}, again)

		_, err = g.AllReduce(data, ReduceOp(42))
		assert.Error(t, err)
	})
}

func TestInitProcessGroupErrors(t *testing.T) {
	runCluster(t, 2, nil, func(p *Process) {
		_, err := p.DefaultGroup()
		assert.True(t, errors.Is(err, ErrNotInitialized))
		_, err = p.NewGroup("early", []int{0, 1})
		assert.True(t, errors.Is(err, ErrNotInitialized))
		assert.False(t, p.IsInitialized())

		if !assert.NoError(t, p.InitProcessGroup(DefaultBackend, time.Minute)) {
			return
		}
		assert.True(t, p.IsInitialized())
		err = p.InitProcessGroup(DefaultBackend, time.Minute)
		assert.True(t, errors.Is(err, ErrAlreadyInitialized))

		backend, ok := p.Backend("cuda")
		assert.True(t, ok)
		assert.Equal(t, "nccl", backend)
		backend, _ = p.Backend("cpu")
		assert.Equal(t, "gloo", backend)
		_, ok = p.Backend("xpu")
		assert.False(t, ok)
	})
}

func TestInitProcessGroupMissingRank(t *testing.T) {
	var timedOut int32
	runCluster(t, 3, nil, func(p *Process) {
		if p.Rank() == 2 {
			return
		}
		err := p.InitProcessGroup(DefaultBackend, 30*time.Second)
		if errors.Is(err, collcomm.ErrTimeout) {
			atomic.AddInt32(&timedOut, 1)
		} else {
			assert.NoError(t, err)
		}
		assert.False(t, p.IsInitialized())
	})
	assert.Equal(t, int32(2), timedOut)
}

func TestNewGroup(t *testing.T) {
	runCluster(t, 4, nil, func(p *Process) {
		if !assert.NoError(t, p.InitProcessGroup(DefaultBackend, time.Minute)) {
			return
		}
		ranks := []int{1, 3}
		if p.Rank()%2 == 0 {
			ranks = []int{0, 2}
		}
		g, err := p.NewGroup(fmt.Sprintf("parity%d", p.Rank()%2), ranks)
		if !assert.NoError(t, err) {
			return
		}
		assert.Equal(t, time.Minute, g.Timeout())
		assert.Equal(t, 2, g.Size())
		assert.Equal(t, ranks, g.Ranks())
		assert.Equal(t, p.Rank()/2, g.Rank())

		max, err := Max(float64(p.Rank()), g)
		assert.NoError(t, err)
		assert.Equal(t, float64(ranks[1]), max)

		// Both parity groups exist once everyone is past this.
		def, _ := p.DefaultGroup()
		assert.NoError(t, def.Barrier())
		_, err = p.NewGroup("parity0", []int{0, 1})
		assert.Error(t, err)
		_, err = p.NewGroup(fmt.Sprintf("others%d", p.Rank()), []int{(p.Rank() + 1) % 4})
		assert.True(t, errors.Is(err, ErrNotMember))
	})
}

func TestMesh(t *testing.T) {
	runCluster(t, 6, nil, func(p *Process) {
		if !assert.NoError(t, p.InitProcessGroup(DefaultBackend, time.Minute)) {
			return
		}
		mesh, err := p.InitDeviceMesh([]int{2, 3}, []string{"dp", "tp"})
		if !assert.NoError(t, err) {
			return
		}
		assert.Equal(t, 2, mesh.NDim())
		assert.Equal(t, []int{p.Rank() / 3, p.Rank() % 3}, mesh.Coordinate())

		dp, err := mesh.GroupByName("dp")
		if !assert.NoError(t, err) {
			return
		}
		tp := mesh.Group(1)
		assert.Equal(t, []int{p.Rank() % 3, p.Rank()%3 + 3}, dp.Ranks())
		assert.Equal(t, 3, tp.Size())

		rowMax, err := Max(float64(p.Rank()), tp)
		assert.NoError(t, err)
		assert.Equal(t, float64(p.Rank()/3*3+2), rowMax)

		colMean, err := Mean(float64(p.Rank()), dp)
		assert.NoError(t, err)
		assert.Equal(t, float64(p.Rank()%3)+1.5, colMean)

		_, err = mesh.GroupByName("pp")
		assert.Error(t, err)
	})
}

func TestMeshErrors(t *testing.T) {
	runCluster(t, 4, nil, func(p *Process) {
		_, err := p.InitDeviceMesh([]int{4}, nil)
		assert.True(t, errors.Is(err, ErrNotInitialized))
		if !assert.NoError(t, p.InitProcessGroup(DefaultBackend, time.Minute)) {
			return
		}
		_, err = p.InitDeviceMesh([]int{3}, nil)
		assert.Error(t, err)
		_, err = p.InitDeviceMesh([]int{2, 2}, []string{"dp"})
		assert.Error(t, err)
		_, err = p.InitDeviceMesh(nil, nil)
		assert.Error(t, err)

		mesh, err := p.InitDeviceMesh([]int{4}, nil)
		if assert.NoError(t, err) {
			assert.Equal(t, []string{"dim0"}, mesh.Names())
		}
	})
}

type countingDevice struct {
	syncs *int32
}

func (c countingDevice) Synchronize() error {
	atomic.AddInt32(c.syncs, 1)
	return nil
}

// TestSetGroupTimeouts has one rank arrive long after the
// others. The barrier keeps the fast ranks from switching
// to the short timeout before the slow rank is there.
func TestSetGroupTimeouts(t *testing.T) {
	for name, reducer := range reducers {
		t.Run(name, func(t *testing.T) {
			var syncs int32
			runCluster(t, 4, reducer, func(p *Process) {
				p.Device = countingDevice{syncs: &syncs}
				if !assert.NoError(t, p.InitProcessGroup(DefaultBackend, 100*time.Second)) {
					return
				}
				mesh, err := p.InitDeviceMesh([]int{2, 2}, []string{"dp", "tp"})
				if !assert.NoError(t, err) {
					return
				}
				if p.Rank() == 3 {
					p.Handle().Sleep(50)
				}
				if !assert.NoError(t, SetGroupTimeouts(p, 10*time.Second, mesh)) {
					return
				}
				def, _ := p.DefaultGroup()
				for _, g := range append(mesh.Groups(), def) {
					assert.Equal(t, 10*time.Second, g.Timeout(), g.Name())
				}
				mean, err := Mean(1, def)
				assert.NoError(t, err)
				assert.Equal(t, 1.0, mean)
			})
			assert.Equal(t, int32(4), syncs)
		})
	}
}

// TestTimeoutWithoutBarrier shows the failure the barrier
// in SetGroupTimeouts prevents.
func TestTimeoutWithoutBarrier(t *testing.T) {
	var lock sync.Mutex
	var timeouts int
	runCluster(t, 4, nil, func(p *Process) {
		if !assert.NoError(t, p.InitProcessGroup(DefaultBackend, 100*time.Second)) {
			return
		}
		def, _ := p.DefaultGroup()
		if p.Rank() == 3 {
			p.Handle().Sleep(50)
		}
		if !assert.NoError(t, def.SetTimeout(10*time.Second)) {
			return
		}
		if _, err := Mean(1, def); errors.Is(err, collcomm.ErrTimeout) {
			lock.Lock()
			timeouts++
			lock.Unlock()
		}
	})
	assert.NotZero(t, timeouts)
}

func TestSetGroupTimeoutsNoMesh(t *testing.T) {
	runCluster(t, 2, nil, func(p *Process) {
		assert.True(t, errors.Is(SetGroupTimeouts(p, time.Second, nil), ErrNotInitialized))
		if !assert.NoError(t, p.InitProcessGroup(DefaultBackend, time.Minute)) {
			return
		}
		assert.NoError(t, SetGroupTimeouts(p, time.Second, nil))
		def, _ := p.DefaultGroup()
		assert.Equal(t, time.Second, def.Timeout())
	})
}

func TestParseBackend(t *testing.T) {
	res, err := ParseBackend(DefaultBackend)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"cpu": "gloo", "cuda": "nccl"}, res)

	res, err = ParseBackend("nccl")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"": "nccl"}, res)

	for _, bad := range []string{"", "cuda:", ":nccl", "cuda:nccl,cuda:gloo"} {
		_, err := ParseBackend(bad)
		assert.Error(t, err, bad)
	}
}

func TestReduceOpString(t *testing.T) {
	assert.Equal(t, "MAX", ReduceMax.String())
	assert.Equal(t, "AVG", ReduceAvg.String())
	assert.Equal(t, "SUM", ReduceSum.String())
	assert.Equal(t, "UNKNOWN", ReduceOp(9).String())
}

// TestNodeDown takes one rank's node off the network
// between two reductions. Every rank then gives up within
// the group timeout.
func TestNodeDown(t *testing.T) {
	for name, reducer := range reducers {
		t.Run(name, func(t *testing.T) {
			const maxLatency = 0.1
			loop := simulator.NewEventLoop()
			nodes := simulator.NewNodes(4)
			network := simulator.NewOrderedNetwork(1e6, maxLatency)
			cluster := NewCluster(loop, network, nodes, reducer)

			var timedOut int32
			cluster.Spawn(func(p *Process) {
				if !assert.NoError(t, p.InitProcessGroup(DefaultBackend, 10*time.Second)) {
					return
				}
				def, _ := p.DefaultGroup()
				max, err := Max(float64(p.Rank()), def)
				if !assert.NoError(t, err) || !assert.Equal(t, 3.0, max) {
					return
				}
				if p.Rank() == 3 {
					p.Handle().Sleep(1)
					network.SetDown(p.Handle(), nodes[3], true)
					assert.True(t, network.IsDown(nodes[3]))
				} else {
					p.Handle().Sleep(2)
				}

				start := p.Handle().Time()
				_, err = Mean(1, def)
				if errors.Is(err, collcomm.ErrTimeout) {
					atomic.AddInt32(&timedOut, 1)
				} else {
					t.Errorf("rank %d: expected timeout but got %v", p.Rank(), err)
				}
				assert.LessOrEqual(t, p.Handle().Time()-start, 10+maxLatency)
			})
			require.NoError(t, cluster.Run())
			assert.Equal(t, int32(4), timedOut)
		})
	}
}

func TestNegativeTimeout(t *testing.T) {
	runCluster(t, 2, nil, func(p *Process) {
		assert.Error(t, p.InitProcessGroup(DefaultBackend, -time.Second))
		assert.False(t, p.IsInitialized())

		if !assert.NoError(t, p.InitProcessGroup(DefaultBackend, time.Minute)) {
			return
		}
		def, _ := p.DefaultGroup()
		assert.Error(t, def.SetTimeout(-time.Second))
		assert.Equal(t, time.Minute, def.Timeout())

		assert.Error(t, SetGroupTimeouts(p, -time.Second, nil))
		assert.Equal(t, time.Minute, def.Timeout())

		assert.NoError(t, def.SetTimeout(0))
		assert.Equal(t, time.Duration(0), def.Timeout())
	})
}
