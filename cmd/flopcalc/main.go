// Command flopcalc reports the FLOPs per token of a model
// and, given a measured throughput, its FLOPs utilization.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/unixpickle/distrain/colors"
	"github.com/unixpickle/distrain/config"
	"github.com/unixpickle/distrain/perf"
	"k8s.io/klog/v2"
)

var (
	flagConfig = flag.String("config", "", "YAML job config; defaults are used if empty")
	flagParams = flag.Int64("params", 0, "Number of model parameters")
	flagDevice = flag.String("device", "NVIDIA H100 80GB HBM3", "Device name used to look up peak FLOPs")
	flagTPS    = flag.Float64("tps", 0, "Measured tokens per second per device, for MFU")
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
	if *flagParams <= 0 {
		klog.Exitf("-params must be positive")
	}

	flopPerToken := perf.NumFlopPerToken(*flagParams, cfg.Model, cfg.Training.SeqLen)
	peak := perf.PeakFlops(*flagDevice)

	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	table := lgtable.New().
		Border(lipgloss.RoundedBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			if col == 0 {
				return cellStyle.Align(lipgloss.Right)
			}
			return cellStyle
		})
	table.Row("Model", fmt.Sprintf("%s (%d layers, %d heads, dim %d)",
		cfg.Model.Name, cfg.Model.NLayers, cfg.Model.NHeads, cfg.Model.Dim))
	table.Row("Parameters", humanize.Comma(*flagParams))
	table.Row("Sequence length", humanize.Comma(int64(cfg.Training.SeqLen)))
	table.Row("FLOPs / token", humanize.SIWithDigits(float64(flopPerToken), 2, "FLOP"))
	table.Row("Peak", fmt.Sprintf("%s (%s)", humanize.SIWithDigits(peak, 0, "FLOP/s"), *flagDevice))
	if *flagTPS > 0 {
		table.Row("Throughput", humanize.SIWithDigits(*flagTPS, 1, "tok/s"))
		table.Row("MFU", fmt.Sprintf("%.2f%%", perf.MFU(*flagTPS, flopPerToken, peak)))
	}

	palette := colors.ForOutput(os.Stdout)
	fmt.Printf("%s%s%s\n", palette.Cyan, cfg.Job.Description, palette.Reset)
	fmt.Println(table.String())
}
