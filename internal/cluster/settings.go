package cluster

import (
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// Settings is the configuration shared by the scheduler, masters and workers.
//
// Environment variables (all optional):
//   - PROX_LINGER: time the scheduler keeps serving after termination (default 1s)
//   - PROX_MASTER_TIMEOUT: master registration and poll timeout (default 5s)
//   - PROX_WORKER_TIMEOUT: per-RPC timeout at a worker (default 5s)
//   - PROX_SCHEDULER_TIMEOUT: scheduler setup and idle timeout (default 10s)
//   - PROX_NUM_MASTERS: number of masters the scheduler waits for (default 1)
//   - PROX_SCHEDULER_HOST: host of the scheduler (default 127.0.0.1)
//   - PROX_BROADCAST_PORT, PROX_MASTER_PORT, PROX_WORKER_PORT: scheduler
//     ports (default 9700, 9701, 9702)
//   - PROX_ADVERTISED_PORT: first port a master tries to bind (default 9710)
//   - PROX_MAX_BIND_ATTEMPTS: ports a master tries before giving up (default 32)
type Settings struct {
	Linger           time.Duration
	MasterTimeout    time.Duration
	WorkerTimeout    time.Duration
	SchedulerTimeout time.Duration

	NumMasters int

	SchedulerHost string
	BroadcastPort int
	MasterPort    int
	WorkerPort    int

	// AdvertisedPort is the master's own port, incremented on bind conflicts
	// up to MaxBindAttempts times.
	AdvertisedPort  int
	MaxBindAttempts int
}

// DefaultSettings returns the built-in defaults.
func DefaultSettings() Settings {
	return Settings{
		Linger:           time.Second,
		MasterTimeout:    5 * time.Second,
		WorkerTimeout:    5 * time.Second,
		SchedulerTimeout: 10 * time.Second,
		NumMasters:       1,
		SchedulerHost:    "127.0.0.1",
		BroadcastPort:    9700,
		MasterPort:       9701,
		WorkerPort:       9702,
		AdvertisedPort:   9710,
		MaxBindAttempts:  32,
	}
}

// LoadSettings applies environment overrides to the defaults.
func LoadSettings() (Settings, error) {
	s := DefaultSettings()
	durations := []struct {
		env string
		dst *time.Duration
	}{
		{"PROX_LINGER", &s.Linger},
		{"PROX_MASTER_TIMEOUT", &s.MasterTimeout},
		{"PROX_WORKER_TIMEOUT", &s.WorkerTimeout},
		{"PROX_SCHEDULER_TIMEOUT", &s.SchedulerTimeout},
	}
	for _, d := range durations {
		if v := os.Getenv(d.env); v != "" {
			parsed, err := time.ParseDuration(v)
			if err != nil {
				return s, errors.Wrapf(err, "invalid %s", d.env)
			}
			*d.dst = parsed
		}
	}
	ints := []struct {
		env string
		dst *int
	}{
		{"PROX_NUM_MASTERS", &s.NumMasters},
		{"PROX_BROADCAST_PORT", &s.BroadcastPort},
		{"PROX_MASTER_PORT", &s.MasterPort},
		{"PROX_WORKER_PORT", &s.WorkerPort},
		{"PROX_ADVERTISED_PORT", &s.AdvertisedPort},
		{"PROX_MAX_BIND_ATTEMPTS", &s.MaxBindAttempts},
	}
	for _, i := range ints {
		if v := os.Getenv(i.env); v != "" {
			parsed, err := strconv.Atoi(v)
			if err != nil {
				return s, errors.Wrapf(err, "invalid %s", i.env)
			}
			*i.dst = parsed
		}
	}
	s.SchedulerHost = getenv("PROX_SCHEDULER_HOST", s.SchedulerHost)
	return s, s.Validate()
}

// RegisterFlags binds every setting to a command line flag, using the
// current values as defaults.
func (s *Settings) RegisterFlags(fs *flag.FlagSet) {
	fs.DurationVar(&s.Linger, "linger", s.Linger, "time the scheduler keeps serving after termination")
	fs.DurationVar(&s.MasterTimeout, "master_timeout", s.MasterTimeout, "master registration and poll timeout")
	fs.DurationVar(&s.WorkerTimeout, "worker_timeout", s.WorkerTimeout, "per-RPC timeout at a worker")
	fs.DurationVar(&s.SchedulerTimeout, "scheduler_timeout", s.SchedulerTimeout, "scheduler setup and idle timeout")
	fs.IntVar(&s.NumMasters, "num_masters", s.NumMasters, "number of masters (shards)")
	fs.StringVar(&s.SchedulerHost, "scheduler_host", s.SchedulerHost, "scheduler host")
	fs.IntVar(&s.BroadcastPort, "broadcast_port", s.BroadcastPort, "scheduler broadcast port")
	fs.IntVar(&s.MasterPort, "master_port", s.MasterPort, "scheduler port for masters")
	fs.IntVar(&s.WorkerPort, "worker_port", s.WorkerPort, "scheduler port for workers")
	fs.IntVar(&s.AdvertisedPort, "port", s.AdvertisedPort, "master's own port, incremented on conflict")
	fs.IntVar(&s.MaxBindAttempts, "bind_attempts", s.MaxBindAttempts, "ports a master tries, starting at -port")
}

// Validate rejects settings no role can run with.
func (s Settings) Validate() error {
	for name, d := range map[string]time.Duration{
		"master timeout":    s.MasterTimeout,
		"worker timeout":    s.WorkerTimeout,
		"scheduler timeout": s.SchedulerTimeout,
	} {
		if d <= 0 {
			return errors.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if s.Linger < 0 {
		return errors.Errorf("linger must not be negative, got %s", s.Linger)
	}
	if s.NumMasters < 1 {
		return errors.Errorf("need at least one master, got %d", s.NumMasters)
	}
	if s.SchedulerHost == "" {
		return errors.New("scheduler host is empty")
	}
	ports := []int{s.BroadcastPort, s.MasterPort, s.WorkerPort}
	for i, p := range ports {
		if p < 0 || p > 65535 {
			return errors.Errorf("port %d out of range", p)
		}
		for _, q := range ports[:i] {
			if p != 0 && p == q {
				return errors.Errorf("scheduler ports must differ, %d is used twice", p)
			}
		}
	}
	if s.AdvertisedPort < 0 || s.AdvertisedPort > 65535 {
		return errors.Errorf("advertised port %d out of range", s.AdvertisedPort)
	}
	if s.MaxBindAttempts < 1 {
		return errors.Errorf("need at least one bind attempt, got %d", s.MaxBindAttempts)
	}
	return nil
}

// BroadcastURL is the scheduler's long-poll endpoint.
func (s Settings) BroadcastURL() string {
	return URL(s.hostPort(s.BroadcastPort), SubscribePath)
}

// MasterURL is the scheduler's RPC endpoint for masters.
func (s Settings) MasterURL() string {
	return URL(s.hostPort(s.MasterPort), RPCPath)
}

// WorkerURL is the scheduler's RPC endpoint for workers.
func (s Settings) WorkerURL() string {
	return URL(s.hostPort(s.WorkerPort), RPCPath)
}

func (s Settings) hostPort(port int) string {
	return net.JoinHostPort(s.SchedulerHost, fmt.Sprint(port))
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
