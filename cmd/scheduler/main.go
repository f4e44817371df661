// Package main runs the parameter-server scheduler.
//
// The scheduler waits for -num_masters masters, partitions the iterate of the
// synthetic problem across them, routes workers to shards and broadcasts the
// run's progress until -generations master updates have been applied.
//
// Configuration comes from PROX_* environment variables (see
// cluster.Settings) and can be overridden by flags.
//
// Example usage:
//
//	scheduler -num_masters=2 -cols=100 -generations=20000
//	master -gamma=0.5 &
//	master -gamma=0.5 &
//	worker -rows=5000 -cols=100 -encoder=topk -k=10
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/dreamware/proxima/internal/cluster"
	"github.com/dreamware/proxima/internal/problem"
	"github.com/dreamware/proxima/internal/scheduler"
)

// logFatal is a variable so tests can intercept fatal errors.
var logFatal = klog.Fatalf

type config struct {
	Settings       cluster.Settings
	Problem        problem.SyntheticConfig
	Generations    int
	HealthInterval time.Duration
}

func (c *config) registerFlags(fs *flag.FlagSet) {
	c.Settings.RegisterFlags(fs)
	c.Problem.RegisterFlags(fs)
	fs.IntVar(&c.Generations, "generations", c.Generations, "stop the run after this many master updates")
	fs.DurationVar(&c.HealthInterval, "health_interval", c.HealthInterval, "master health probe period, 0 disables probing")
}

func main() {
	klog.InitFlags(nil)
	cfg := config{
		Settings:       must.M1(cluster.LoadSettings()),
		Problem:        problem.SyntheticConfig{Rows: 1000, Cols: 50, Seed: 1},
		Generations:    10000,
		HealthInterval: time.Second,
	}
	cfg.registerFlags(flag.CommandLine)
	flag.Parse()
	defer klog.Flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sched, err := newScheduler(cfg)
	if err != nil {
		logFatal("scheduler: %+v", err)
	}
	if _, err := run(ctx, sched); err != nil {
		logFatal("scheduler: %+v", err)
	}
}

// newScheduler binds the scheduler's ports for a run over the synthetic
// problem's dimension, starting from x = 0.
func newScheduler(cfg config) (*scheduler.Scheduler, error) {
	if cfg.Problem.Cols <= 0 {
		return nil, errors.Errorf("problem dimension must be positive, got %d", cfg.Problem.Cols)
	}
	if cfg.Generations <= 0 {
		return nil, errors.Errorf("generations must be positive, got %d", cfg.Generations)
	}
	return scheduler.New(scheduler.Config{
		Settings:       cfg.Settings,
		X0:             make([]float64, cfg.Problem.Cols),
		Terminate:      scheduler.MaxGeneration(cfg.Generations),
		HealthInterval: cfg.HealthInterval,
	})
}

func run(ctx context.Context, sched *scheduler.Scheduler) (scheduler.Result, error) {
	s := sched.Settings()
	klog.Infof("scheduler waiting for %d masters on %s", s.NumMasters, s.MasterURL())
	res, err := sched.Run(ctx)
	if err != nil {
		return res, err
	}
	for _, a := range res.Shards {
		klog.Infof("shard %d %s served by %s (%s)", a.ShardID, a.ShardRange, a.MasterID, a.Addr)
	}
	klog.Infof("run finished after %d updates", res.Generation)
	return res, nil
}
