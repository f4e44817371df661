// Package main runs one of the shared-memory engines (serial, consistent or
// inconsistent) on a synthetic least-squares problem and prints the result.
//
// Example usage:
//
//	# Lock-free engine on 8 goroutines
//	solve -engine=inconsistent -threads=8 -rows=20000 -cols=200 -iters=5000 -gamma=0.5
//
//	# Reference run with per-iteration traces
//	solve -engine=serial -iters=100 -progress=false -v=1 -log_every=10
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"gonum.org/v1/gonum/floats"
	"k8s.io/klog/v2"

	"github.com/dreamware/proxima/internal/engine"
	"github.com/dreamware/proxima/internal/policy"
	"github.com/dreamware/proxima/internal/problem"
)

// logFatal is a variable so tests can intercept fatal errors.
var logFatal = klog.Fatalf

type options struct {
	Engine     string
	Threads    int
	Problem    problem.SyntheticConfig
	Policy     policy.Config
	Iterations int
	Tolerance  float64
	LogEvery   int
	Progress   bool
}

func defaultOptions() options {
	return options{
		Engine:     "serial",
		Problem:    problem.SyntheticConfig{Rows: 1000, Cols: 50, Seed: 1},
		Policy:     policy.DefaultConfig(),
		Iterations: 1000,
		LogEvery:   100,
		Progress:   true,
	}
}

func (o *options) registerFlags(fs *flag.FlagSet) {
	fs.StringVar(&o.Engine, "engine", o.Engine, "engine: serial, consistent or inconsistent")
	fs.IntVar(&o.Threads, "threads", o.Threads, "goroutines of the multithreaded engines, 0 for one per CPU")
	fs.IntVar(&o.Iterations, "iters", o.Iterations, "maximum number of iterations")
	fs.Float64Var(&o.Tolerance, "tol", o.Tolerance, "stop once the gradient norm drops to tol, 0 disables")
	fs.IntVar(&o.LogEvery, "log_every", o.LogEvery, "log the objective every n iterations at -v=1")
	fs.BoolVar(&o.Progress, "progress", o.Progress, "show a progress bar on stderr")
	o.Problem.RegisterFlags(fs)
	o.Policy.RegisterFlags(fs)
}

func main() {
	klog.InitFlags(nil)
	opts := defaultOptions()
	opts.registerFlags(flag.CommandLine)
	flag.Parse()
	defer klog.Flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var bar io.Writer
	if opts.Progress {
		bar = os.Stderr
	}
	res, err := run(ctx, opts, bar)
	if err != nil {
		logFatal("solve: %+v", err)
	}
	fmt.Printf("iterations=%d f=%.9g |x|=%.6g\n", res.Iterations, res.FVal, floats.Norm(res.X, 2))
}

// run solves the configured problem from x = 0. A progress bar is drawn on
// progress when it is not nil.
func run(ctx context.Context, opts options, progress io.Writer) (engine.Result, error) {
	if opts.Iterations <= 0 {
		return engine.Result{}, errors.Errorf("iterations must be positive, got %d", opts.Iterations)
	}
	loss, err := opts.Problem.Build()
	if err != nil {
		return engine.Result{}, err
	}
	pol, err := opts.Policy.Build()
	if err != nil {
		return engine.Result{}, err
	}
	eng, err := engine.New(opts.Engine, pol, engine.Options{Threads: opts.Threads})
	if err != nil {
		return engine.Result{}, err
	}
	eng.Initialize(make([]float64, loss.Dim()))

	terminate := engine.Any(engine.MaxIterations(opts.Iterations), engine.Diverged())
	if opts.Tolerance > 0 {
		terminate = engine.Any(terminate, engine.GradientNormTolerance(opts.Tolerance))
	}
	logger := engine.ValueLogger(opts.LogEvery)
	if progress != nil {
		bar := newProgressBar(opts.Iterations, opts.Engine, progress)
		defer func() { _ = bar.Finish() }()
		logger = withProgress(logger, bar)
	}

	klog.Infof("solving %dx%d least squares with the %s engine", opts.Problem.Rows, opts.Problem.Cols, opts.Engine)
	start := time.Now()
	res, err := eng.Solve(ctx, loss, terminate, logger)
	if err != nil {
		return res, errors.WithMessagef(err, "%s engine stopped after %d iterations", opts.Engine, res.Iterations)
	}
	klog.Infof("%d iterations in %s, f=%.6g", res.Iterations, time.Since(start).Round(time.Millisecond), res.FVal)
	return res, nil
}

func newProgressBar(iterations int, name string, w io.Writer) *progressbar.ProgressBar {
	return progressbar.NewOptions(iterations,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(name),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("it"),
		progressbar.OptionSetTheme(progressbar.ThemeASCII),
		progressbar.OptionThrottle(100*time.Millisecond),
	)
}

// withProgress advances bar on every iteration and shows the objective.
func withProgress(logger engine.Logger, bar *progressbar.ProgressBar) engine.Logger {
	return func(k int, fval float64, x, g []float64) {
		logger(k, fval, x, g)
		bar.Describe(fmt.Sprintf("f=%.4g", fval))
		_ = bar.Set(k + 1)
	}
}
