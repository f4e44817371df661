// Package main runs a parameter-server worker.
//
// The worker regenerates the synthetic least-squares problem from -seed, so
// every worker of a run must be started with the same -rows, -cols and -seed.
// It then loops: fetch the shards of x from the masters, evaluate the loss,
// encode the gradient and send each master its slice, until the scheduler
// ends the run.
//
// Example usage:
//
//	worker -rows=5000 -cols=100 -encoder=ternary -batch=64
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"

	"github.com/dreamware/proxima/internal/cluster"
	"github.com/dreamware/proxima/internal/encoder"
	"github.com/dreamware/proxima/internal/problem"
	"github.com/dreamware/proxima/internal/worker"
)

// logFatal is a variable so tests can intercept fatal errors.
var logFatal = klog.Fatalf

type config struct {
	Settings      cluster.Settings
	Problem       problem.SyntheticConfig
	Encoder       string
	K             int
	BatchSize     int
	MaxIterations int
	MaxRetries    int
	Seed          uint64
}

func (c *config) registerFlags(fs *flag.FlagSet) {
	c.Settings.RegisterFlags(fs)
	c.Problem.RegisterFlags(fs)
	fs.StringVar(&c.Encoder, "encoder", c.Encoder, fmt.Sprintf("gradient encoder, one of %q", encoder.Names))
	fs.IntVar(&c.K, "k", c.K, "coordinates kept by the topk and randomk encoders")
	fs.IntVar(&c.BatchSize, "batch", c.BatchSize, "rows per stochastic mini-batch, 0 uses every row")
	fs.IntVar(&c.MaxIterations, "max_iterations", c.MaxIterations, "stop after this many rounds, 0 runs until the scheduler ends the run")
	fs.IntVar(&c.MaxRetries, "retries", c.MaxRetries, "attempts per shard request")
	fs.Uint64Var(&c.Seed, "worker_seed", c.Seed, "seed of the mini-batch sampler and randomized encoders")
}

func main() {
	klog.InitFlags(nil)
	cfg := config{
		Settings:   must.M1(cluster.LoadSettings()),
		Problem:    problem.SyntheticConfig{Rows: 1000, Cols: 50, Seed: 1},
		Encoder:    "dense",
		MaxRetries: worker.DefaultMaxRetries,
	}
	cfg.registerFlags(flag.CommandLine)
	flag.Parse()
	defer klog.Flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w, err := newWorker(cfg)
	if err != nil {
		logFatal("worker: %+v", err)
	}
	res, err := w.Run(ctx)
	if err != nil {
		logFatal("worker: %+v", err)
	}
	klog.Infof("worker %d finished: %d rounds, f=%.6g, %s of gradients sent",
		res.ID, res.Iterations, res.FVal, humanize.IBytes(res.BytesSent))
}

func newWorker(cfg config) (*worker.Worker, error) {
	loss, err := cfg.Problem.Build()
	if err != nil {
		return nil, err
	}
	enc, err := encoder.ByName(cfg.Encoder, cfg.K, cfg.Seed)
	if err != nil {
		return nil, err
	}
	return worker.New(worker.Config{
		Settings:      cfg.Settings,
		Loss:          loss,
		Encoder:       enc,
		MaxRetries:    cfg.MaxRetries,
		MaxIterations: cfg.MaxIterations,
		BatchSize:     cfg.BatchSize,
		Seed:          cfg.Seed,
	})
}
