package main

import (
	"context"
	"flag"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/proxima/internal/cluster"
	"github.com/dreamware/proxima/internal/master"
	"github.com/dreamware/proxima/internal/policy"
	"github.com/dreamware/proxima/internal/problem"
	"github.com/dreamware/proxima/internal/scheduler"
)

func testConfig() config {
	s := cluster.DefaultSettings()
	s.BroadcastPort, s.MasterPort, s.WorkerPort, s.AdvertisedPort = 0, 0, 0, 0
	s.Linger = 500 * time.Millisecond
	s.MasterTimeout = 2 * time.Second
	s.WorkerTimeout = 2 * time.Second
	s.SchedulerTimeout = 3 * time.Second
	return config{
		Settings:   s,
		Problem:    problem.SyntheticConfig{Rows: 30, Cols: 4, Seed: 5},
		Encoder:    "dense",
		MaxRetries: 3,
	}
}

func TestNewWorkerValidation(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*config)
	}{
		{"unknown encoder", func(c *config) { c.Encoder = "zip" }},
		{"topk without k", func(c *config) { c.Encoder = "topk" }},
		{"empty problem", func(c *config) { c.Problem.Rows = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.modify(&cfg)
			_, err := newWorker(cfg)
			assert.Error(t, err)
		})
	}
}

func TestWorkerRunsRounds(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	cfg := testConfig()
	sched, err := scheduler.New(scheduler.Config{Settings: cfg.Settings, X0: make([]float64, cfg.Problem.Cols), Terminate: scheduler.MaxGeneration(1000)})
	require.NoError(t, err)
	go func() { _, _ = sched.Run(ctx) }()
	m, err := master.New(master.Config{Settings: sched.Settings(), Policy: policy.Policy{Stepper: policy.ConstantStep{Gamma: 0.5}}})
	require.NoError(t, err)
	go func() { _ = m.Run(ctx) }()

	cfg.Settings = sched.Settings()
	cfg.Encoder, cfg.K = "topk", 2
	cfg.BatchSize = 10
	cfg.MaxIterations = 3
	w, err := newWorker(cfg)
	require.NoError(t, err)
	res, err := w.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.ID)
	assert.Equal(t, 3, res.Iterations)
	assert.Len(t, res.X, 4)
	assert.Positive(t, res.BytesSent)
}

func TestRegisterFlags(t *testing.T) {
	cfg := testConfig()
	fs := flag.NewFlagSet("worker", flag.ContinueOnError)
	cfg.registerFlags(fs)
	require.NoError(t, fs.Parse([]string{"-encoder=ternary", "-k=5", "-batch=16", "-max_iterations=7", "-retries=2", "-worker_seed=11", "-rows=99"}))
	assert.Equal(t, "ternary", cfg.Encoder)
	assert.Equal(t, 5, cfg.K)
	assert.Equal(t, 16, cfg.BatchSize)
	assert.Equal(t, 7, cfg.MaxIterations)
	assert.Equal(t, 2, cfg.MaxRetries)
	assert.Equal(t, uint64(11), cfg.Seed)
	assert.Equal(t, 99, cfg.Problem.Rows)
}
