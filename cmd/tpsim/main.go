// Package main runs the trajectory planner offline: it loads a planner
// configuration, enqueues a small demo program, drives the cycle driver tick
// by tick (flat out, or paced at the configured servo period with
// -realtime) and prints a histogram of the commanded
// velocity. It doubles as an executable example of the producer/consumer
// contract between the Add* path and RunCycle.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/aybabtme/uniplot/histogram"
	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
	"go.uber.org/zap"
	"go.viam.com/utils"

	"github.com/opencnc/traject/config"
	"github.com/opencnc/traject/logging"
	"github.com/opencnc/traject/posemath"
	"github.com/opencnc/traject/tp"
)

var logger = logging.NewDebugLogger("tpsim")

func main() {
	utils.ContextualMain(mainWithArgs, logger.AsZap())
}

func mainWithArgs(ctx context.Context, args []string, _ *zap.SugaredLogger) error {
	flags := flag.NewFlagSet("tpsim", flag.ContinueOnError)
	configPath := flags.String("config", "", "planner config document (defaults apply when empty)")
	realtime := flags.Bool("realtime", false, "tick at the configured servo period instead of flat out")
	maxTicks := flags.Int("ticks", 200000, "tick budget before giving up")
	if err := flags.Parse(args[1:]); err != nil {
		return err
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Read(ctx, *configPath, logger); err != nil {
			return err
		}
	}

	planner, err := tp.New(cfg.TPConfig(), tp.NopHardware(), logger)
	if err != nil {
		return err
	}

	if err := enqueueDemoProgram(planner); err != nil {
		return err
	}

	clk := clock.New()
	var ticker *clock.Ticker
	if *realtime {
		ticker = clk.Ticker(time.Duration(cfg.CycleTime * float64(time.Second)))
		defer ticker.Stop()
	}

	vels := make([]float64, 0, *maxTicks)
	ticks := 0
	for !planner.IsDone() && ticks < *maxTicks {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if ticker != nil {
			<-ticker.C
		}
		planner.RunCycle()
		vels = append(vels, planner.Status().CurrentVel)
		ticks++
	}

	st := planner.Status()
	logger.Infow("program finished",
		"ticks", ticks,
		"done", planner.IsDone(),
		"pos", st.Pos.Tran,
	)

	fmt.Printf("commanded velocity over %d ticks:\n", ticks)
	hist := histogram.Hist(9, vels)
	return histogram.Fprint(os.Stdout, hist, histogram.Linear(40))
}

// enqueueDemoProgram programs a small square with a helical exit so line
// blending, arc profiling and the lookahead all get exercised.
func enqueueDemoProgram(planner *tp.Planner) error {
	if err := planner.SetTermCond(tp.TermParabolic, 0.5); err != nil {
		return err
	}
	corners := []r3.Vector{
		{X: 50, Y: 0, Z: 0},
		{X: 50, Y: 50, Z: 0},
		{X: 0, Y: 50, Z: 0},
		{X: 0, Y: 0, Z: 0},
	}
	for _, c := range corners {
		end := posemath.Pose{Tran: c}
		if err := planner.AddLine(end, tp.MotionFeed, 40, 80, 800, 0, false, -1); err != nil {
			return err
		}
	}
	// helical exit: one full turn rising 5 units
	end := posemath.Pose{Tran: r3.Vector{X: 0, Y: 0, Z: 5}}
	center := r3.Vector{X: 10, Y: 0, Z: 0}
	normal := r3.Vector{X: 0, Y: 0, Z: 1}
	return planner.AddCircle(end, center, normal, 0, tp.MotionFeed, 40, 80, 800, 0, false)
}
