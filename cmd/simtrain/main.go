// Command simtrain runs the start of a data/tensor
// parallel training job on a simulated cluster: backend
// initialization, a 2-D device mesh, loss reductions,
// and the switch to the training timeout after the first
// step.
package main

import (
	"flag"
	"fmt"
	"math"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/unixpickle/distrain/collcomm/allreduce"
	"github.com/unixpickle/distrain/colors"
	"github.com/unixpickle/distrain/config"
	"github.com/unixpickle/distrain/dist"
	"github.com/unixpickle/distrain/envcfg"
	"github.com/unixpickle/distrain/perf"
	"github.com/unixpickle/distrain/simulator"
	"github.com/unixpickle/essentials"
	"k8s.io/klog/v2"
)

var (
	flagConfig   = flag.String("config", "", "YAML job config; defaults are used if empty")
	flagRanks    = flag.Int("ranks", 8, "Number of simulated ranks")
	flagDP       = flag.Int("dp", 2, "Data parallel degree; the rest of the ranks form tensor parallel groups")
	flagParams   = flag.Int64("params", 125_000_000, "Model parameters, for MFU")
	flagDevice   = flag.String("device", "NVIDIA A100-SXM4-80GB", "Device name, for MFU")
	flagStepTime = flag.Float64("step_time", 2.5, "Virtual seconds of compute per step")
	flagSlowRank = flag.Int("slow_rank", -1, "Rank that starts late, or -1")
	flagSlowBy   = flag.Float64("slow_by", 30, "Virtual seconds the slow rank is late")
	flagTree     = flag.Bool("tree", true, "Use tree allreduce instead of all-to-all")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	cfg := config.Default()
	if *flagConfig != "" {
		var err error
		cfg, err = config.Load(*flagConfig)
		if err != nil {
			klog.Exitf("%+v", err)
		}
	}
	if *flagRanks <= 0 || *flagDP <= 0 || *flagRanks%*flagDP != 0 {
		klog.Exitf("-ranks (%d) must be a positive multiple of -dp (%d)", *flagRanks, *flagDP)
	}

	var reducer allreduce.Allreducer = allreduce.NaiveAllreducer{}
	if *flagTree {
		reducer = allreduce.TreeAllreducer{}
	}
	loop := simulator.NewEventLoop()
	network := simulator.NewOrderedNetwork(1e9, 1e-3)
	cluster := dist.NewCluster(loop, network, simulator.NewNodes(*flagRanks), reducer)

	palette := colors.ForOutput(os.Stdout)
	flopPerToken := perf.NumFlopPerToken(*flagParams, cfg.Model, cfg.Training.SeqLen)
	peak := perf.PeakFlops(*flagDevice)
	tokensPerStep := float64(cfg.Training.BatchSize * cfg.Training.SeqLen)

	cluster.Spawn(func(p *dist.Process) {
		if p.Rank() == *flagSlowRank {
			p.Handle().Sleep(*flagSlowBy)
		}
		if err := trainRank(p, cfg, func(step int, maxLoss, meanLoss, elapsed float64) {
			tps := tokensPerStep / elapsed
			fmt.Printf("%sstep: %2d  %sloss: %7.4f (max %7.4f)  %stps: %s  %smfu: %.2f%%%s\n",
				palette.Red, step,
				palette.Green, meanLoss, maxLoss,
				palette.Blue, humanize.SIWithDigits(tps, 1, ""),
				palette.Magenta, perf.MFU(tps, flopPerToken, peak),
				palette.Reset)
		}); err != nil {
			klog.Errorf("rank %d: %+v", p.Rank(), err)
		}
	})
	essentials.Must(cluster.Run())
	klog.Infof("finished at virtual time %.3f", loop.Time())
}

// trainRank runs the training steps of one rank. Rank 0
// reports every step.
func trainRank(p *dist.Process, cfg *config.JobConfig,
	report func(step int, maxLoss, meanLoss, elapsed float64)) error {
	if err := dist.InitDistributed(cfg, envcfg.Default, p); err != nil {
		return err
	}
	mesh, err := p.InitDeviceMesh([]int{*flagDP, p.WorldSize() / *flagDP}, []string{"dp", "tp"})
	if err != nil {
		return err
	}
	dp, err := mesh.GroupByName("dp")
	if err != nil {
		return err
	}

	for step := 1; step <= cfg.Training.Steps; step++ {
		start := p.Handle().Time()
		p.Handle().Sleep(*flagStepTime)
		loss := fakeLoss(p.Rank(), step)

		maxLoss, err := dist.Max(loss, dp)
		if err != nil {
			return err
		}
		meanLoss, err := dist.Mean(loss, dp)
		if err != nil {
			return err
		}
		if p.Rank() == 0 {
			report(step, maxLoss, meanLoss, p.Handle().Time()-start)
		}

		if step == 1 {
			// Startup is over, so hangs can be caught sooner.
			if err := dist.SetGroupTimeouts(p, cfg.Comm.TrainTimeout(), mesh); err != nil {
				return err
			}
		}
	}
	return nil
}

func fakeLoss(rank, step int) float64 {
	return 8*math.Exp(-0.3*float64(step)) + 0.05*float64(rank%3) + 2
}
