// Package main runs a parameter-server master.
//
// A master registers with the scheduler, receives one contiguous shard of
// the iterate and applies the policy to every gradient a worker sends for
// it. When the scheduler ends the run the final shard is written to
// -store_dir, if set, one file per shard.
//
// Example usage:
//
//	master -gamma=0.5 -momentum=0.9 -store_dir=/tmp/proxima
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"

	"github.com/dreamware/proxima/internal/cluster"
	"github.com/dreamware/proxima/internal/master"
	"github.com/dreamware/proxima/internal/policy"
	"github.com/dreamware/proxima/internal/storage"
)

// logFatal is a variable so tests can intercept fatal errors.
var logFatal = klog.Fatalf

type config struct {
	Settings  cluster.Settings
	Policy    policy.Config
	ID        string
	Host      string
	StoreDir  string
	QueueSize int
}

func (c *config) registerFlags(fs *flag.FlagSet) {
	c.Settings.RegisterFlags(fs)
	c.Policy.RegisterFlags(fs)
	fs.StringVar(&c.ID, "id", c.ID, "master identity, random when empty")
	fs.StringVar(&c.Host, "host", c.Host, "host workers use to reach this master")
	fs.StringVar(&c.StoreDir, "store_dir", c.StoreDir, "directory receiving the final shard, disabled when empty")
	fs.IntVar(&c.QueueSize, "queue", c.QueueSize, "pending worker requests before new ones are turned away")
}

func main() {
	klog.InitFlags(nil)
	cfg := config{
		Settings:  must.M1(cluster.LoadSettings()),
		Policy:    policy.DefaultConfig(),
		Host:      "127.0.0.1",
		QueueSize: master.DefaultQueueSize,
	}
	cfg.registerFlags(flag.CommandLine)
	flag.Parse()
	defer klog.Flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m, store, err := newMaster(cfg)
	if err != nil {
		logFatal("master: %+v", err)
	}
	if err := run(ctx, m, store); err != nil {
		logFatal("master %s: %+v", m.ID(), err)
	}
}

// newMaster binds the master's port. store is nil when no directory is
// configured.
func newMaster(cfg config) (*master.Master, storage.Store, error) {
	pol, err := cfg.Policy.Build()
	if err != nil {
		return nil, nil, err
	}
	var store storage.Store
	if cfg.StoreDir != "" {
		if store, err = storage.NewDirStore(cfg.StoreDir); err != nil {
			return nil, nil, err
		}
	}
	m, err := master.New(master.Config{
		Settings:  cfg.Settings,
		ID:        cfg.ID,
		Host:      cfg.Host,
		Policy:    pol,
		Store:     store,
		QueueSize: cfg.QueueSize,
	})
	if err != nil {
		return nil, nil, err
	}
	return m, store, nil
}

func run(ctx context.Context, m *master.Master, store storage.Store) error {
	klog.Infof("master %s listening on %s", m.ID(), m.Addr())
	if err := m.Run(ctx); err != nil {
		return err
	}
	if sh := m.Shard(); sh != nil {
		info := sh.Info()
		klog.Infof("shard %d [%d, %d) finished at k=%d", info.ID, info.Start, info.End, info.K)
	}
	if store != nil {
		klog.Infof("store holds %s", store.Stats())
	}
	return nil
}
