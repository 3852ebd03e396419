// Command bench_allreduce measures, in virtual time, how
// long process group reductions take with each allreduce
// algorithm, and prints a markdown table.
package main

import (
	"flag"
	"fmt"
	"strconv"
	"time"

	"github.com/unixpickle/distrain/collcomm/allreduce"
	"github.com/unixpickle/distrain/dist"
	"github.com/unixpickle/distrain/simulator"
	"github.com/unixpickle/essentials"
	"k8s.io/klog/v2"
)

// RunInfo describes a specific network configuration.
type RunInfo struct {
	NumNodes int
	Latency  float64
	Rate     float64
}

// Run creates a cluster, initializes its default group
// and runs f on every rank. It returns the virtual time
// spent in f on rank 0.
func (r *RunInfo) Run(reducer allreduce.Allreducer, f func(g *dist.Group) error) float64 {
	loop := simulator.NewEventLoop()
	network := simulator.NewOrderedNetwork(r.Rate, r.Latency)
	cluster := dist.NewCluster(loop, network, simulator.NewNodes(r.NumNodes), reducer)
	var elapsed float64
	cluster.Spawn(func(p *dist.Process) {
		essentials.Must(p.InitProcessGroup(dist.DefaultBackend, time.Hour))
		g, err := p.DefaultGroup()
		essentials.Must(err)
		start := p.Handle().Time()
		essentials.Must(f(g))
		if p.Rank() == 0 {
			elapsed = p.Handle().Time() - start
		}
	})
	essentials.Must(cluster.Run())
	return elapsed
}

type benchmark struct {
	Name string
	Fn   func(g *dist.Group) error
}

func main() {
	klog.InitFlags(nil)
	vecSize := flag.Int("vec_size", 1000000, "Vector length for the SUM benchmark")
	flag.Parse()

	reducers := []allreduce.Allreducer{
		allreduce.NaiveAllreducer{},
		allreduce.TreeAllreducer{},
	}
	reducerNames := []string{"Naive", "Tree"}
	runs := []RunInfo{
		{NumNodes: 2, Latency: 0.1, Rate: 1e6},
		{NumNodes: 16, Latency: 1e-3, Rate: 1e6},
		{NumNodes: 32, Latency: 0.1, Rate: 1e9},
		{NumNodes: 32, Latency: 1e-4, Rate: 1e9},
	}
	benchmarks := []benchmark{
		{"scalar MAX", func(g *dist.Group) error {
			_, err := dist.Max(float64(g.Rank()), g)
			return err
		}},
		{"scalar AVG", func(g *dist.Group) error {
			_, err := dist.Mean(float64(g.Rank()), g)
			return err
		}},
		{"barrier", func(g *dist.Group) error {
			return g.Barrier()
		}},
		{fmt.Sprintf("SUM x%d", *vecSize), func(g *dist.Group) error {
			_, err := g.AllReduce(make([]float64, *vecSize), dist.ReduceSum)
			return err
		}},
	}

	fmt.Print("| Nodes | Latency | NIC rate | Op ")
	for _, reducerName := range reducerNames {
		fmt.Printf("| %s ", reducerName)
	}
	fmt.Println("|")
	for i := 0; i < 4+len(reducers); i++ {
		fmt.Print("|:--")
	}
	fmt.Println("|")

	for _, runInfo := range runs {
		for _, bench := range benchmarks {
			fmt.Printf(
				"| %d | %s | %s | %s ",
				runInfo.NumNodes,
				strconv.FormatFloat(runInfo.Latency, 'f', -1, 64),
				strconv.FormatFloat(runInfo.Rate, 'E', -1, 64),
				bench.Name,
			)
			for _, reducer := range reducers {
				fmt.Printf("| %f ", runInfo.Run(reducer, bench.Fn))
			}
			fmt.Println("|")
		}
	}
}
