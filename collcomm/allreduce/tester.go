package allreduce

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/unixpickle/distrain/collcomm"
	"github.com/unixpickle/distrain/simulator"
)

// RunAllreducerTests runs a battery of tests on an
// Allreducer.
func RunAllreducerTests(t *testing.T, reducer Allreducer) {
	for _, numNodes := range []int{1, 2, 5, 15, 16, 17} {
		for _, size := range []int{0, 1, 1337} {
			for _, ordered := range []bool{false, true} {
				testName := fmt.Sprintf("Nodes=%d,Size=%d,Ordered=%v", numNodes, size, ordered)
				t.Run(testName, func(t *testing.T) {
					runReductionTest(t, reducer, numNodes, size, ordered)
				})
			}
		}
	}
	t.Run("Timeout", func(t *testing.T) {
		runTimeoutTest(t, reducer)
	})
}

// runReductionTest runs a Sum and then a Max on the same
// Comms objects.
func runReductionTest(t *testing.T, reducer Allreducer, numNodes, size int, ordered bool) {
	loop := simulator.NewEventLoop()
	nodes := simulator.NewNodes(numNodes)
	vectors := make([][]float64, numNodes)
	sum := make([]float64, size)
	max := make([]float64, size)
	for j := range max {
		max[j] = math.Inf(-1)
	}
	for i := range vectors {
		vectors[i] = make([]float64, size)
		for j := range vectors[i] {
			vectors[i][j] = rand.NormFloat64()
			sum[j] += vectors[i][j]
			max[j] = math.Max(max[j], vectors[i][j])
		}
	}

	var network simulator.Network = simulator.RandomNetwork{}
	if ordered {
		network = simulator.NewOrderedNetwork(1e6, 0.1)
	}

	sums := make([][]float64, numNodes)
	maxes := make([][]float64, numNodes)
	collcomm.SpawnComms(loop, network, nodes, func(c *collcomm.Comms) {
		var err error
		sums[c.Index()], err = reducer.Allreduce(c, vectors[c.Index()], collcomm.Sum)
		if err != nil {
			t.Error(err)
			return
		}
		maxes[c.Index()], err = reducer.Allreduce(c, vectors[c.Index()], collcomm.Max)
		if err != nil {
			t.Error(err)
		}
	})

	if err := loop.Run(); err != nil {
		t.Fatal(err)
	}

	verifyReductionResults(t, sums, sum)
	verifyReductionResults(t, maxes, max)
}

// runTimeoutTest has one node skip the reduction and
// checks that every other node fails with ErrTimeout
// within one timeout of starting, no matter how many
// messages it waited for along the way.
func runTimeoutTest(t *testing.T, reducer Allreducer) {
	const (
		numNodes   = 15
		timeout    = 10.0
		maxLatency = 0.1
	)
	loop := simulator.NewEventLoop()
	nodes := simulator.NewNodes(numNodes)
	network := simulator.NewOrderedNetwork(1e6, maxLatency)
	errs := make([]error, numNodes)
	elapsed := make([]float64, numNodes)
	collcomm.SpawnComms(loop, network, nodes, func(c *collcomm.Comms) {
		c.Timeout = timeout
		if c.Index() == numNodes-1 {
			return
		}
		start := c.Handle.Time()
		_, errs[c.Index()] = reducer.Allreduce(c, []float64{1}, collcomm.Sum)
		elapsed[c.Index()] = c.Handle.Time() - start
	})
	if err := loop.Run(); err != nil {
		t.Fatal(err)
	}
	for i, err := range errs[:numNodes-1] {
		if !errors.Is(err, collcomm.ErrTimeout) {
			t.Errorf("node %d: expected timeout but got %v", i, err)
		}
		if elapsed[i] > timeout+maxLatency {
			t.Errorf("node %d: timed out after %f (timeout is %f)", i, elapsed[i], timeout)
		}
	}
}

func verifyReductionResults(t *testing.T, results [][]float64, expected []float64) {
	for i, res := range results[1:] {
		if len(res) != len(expected) {
			t.Errorf("result %d has length %d but expected %d", i+1, len(res), len(expected))
			continue
		}
		for j, actual := range res {
			if actual != results[0][j] {
				t.Errorf("result %d is not identical to result 0", i+1)
				break
			}
		}
	}

	for i, x := range expected {
		if math.Abs(x-results[0][i]) > 1e-5 {
			t.Errorf("reduction is incorrect (expected %f but got %f at component %d)",
				x, results[0][i], i)
			break
		}
	}
}
