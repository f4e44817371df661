package coordinator

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/dreamware/proxima/internal/cluster"
)

// Health states reported by MasterHealth.Status.
const (
	StatusUnknown   = "unknown"
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// MasterHealth tracks the health of one registered master.
// Protected by HealthMonitor's mutex.
type MasterHealth struct {
	LastCheck        time.Time // last probe attempt
	LastHealthy      time.Time // last successful probe
	MasterID         string
	Status           string
	ConsecutiveFails int
}

// HealthMonitor periodically probes every registered master's /health
// endpoint. A master that misses maxFailures probes in a row is reported
// through the unhealthy callback; the scheduler treats that as fatal since
// the run cannot continue without the master's shard.
// Thread-safe: All methods are safe for concurrent access.
type HealthMonitor struct {
	masters     map[string]*MasterHealth
	httpClient  *http.Client
	checkFunc   func(addr string) error
	onUnhealthy func(masterID string)
	ctx         context.Context
	cancel      context.CancelFunc
	interval    time.Duration
	mu          sync.RWMutex
	wg          sync.WaitGroup
	maxFailures int
}

// NewHealthMonitor creates a monitor that probes every interval. Each probe
// times out after timeout, and a master is unhealthy after 3 consecutive
// failed probes.
//
// Example:
//
//	monitor := NewHealthMonitor(time.Second, settings.MasterTimeout)
//	monitor.SetOnUnhealthy(func(id string) { cancel() })
//	monitor.Start(ctx, directory.Masters)
//	defer monitor.Stop()
func NewHealthMonitor(interval, timeout time.Duration) *HealthMonitor {
	ctx, cancel := context.WithCancel(context.Background())
	return &HealthMonitor{
		interval:    interval,
		maxFailures: 3,
		masters:     make(map[string]*MasterHealth),
		httpClient:  &http.Client{Timeout: timeout},
		ctx:         ctx,
		cancel:      cancel,
	}
}

// SetOnUnhealthy sets the callback invoked once when a master turns unhealthy.
// Must be called before Start.
func (h *HealthMonitor) SetOnUnhealthy(callback func(masterID string)) {
	h.onUnhealthy = callback
}

// SetCheckFunction replaces the HTTP probe. Must be called before Start.
func (h *HealthMonitor) SetCheckFunction(checkFunc func(addr string) error) {
	h.checkFunc = checkFunc
}

// SetMaxFailures sets how many consecutive failed probes mark a master
// unhealthy. Must be called before Start.
func (h *HealthMonitor) SetMaxFailures(n int) {
	if n > 0 {
		h.maxFailures = n
	}
}

// Start launches a goroutine checking the masters returned by provider until
// ctx is canceled or Stop is called. Call it once.
func (h *HealthMonitor) Start(ctx context.Context, provider func() []cluster.NodeInfo) {
	if ctx == nil {
		ctx = h.ctx
	}
	if h.checkFunc == nil {
		h.checkFunc = h.defaultHealthCheck
	}
	h.wg.Add(1)
	go h.run(ctx, provider)
}

func (h *HealthMonitor) run(ctx context.Context, provider func() []cluster.NodeInfo) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	klog.V(1).Infof("Health monitor started with interval %v", h.interval)
	h.checkAll(provider())

	for {
		select {
		case <-ticker.C:
			h.checkAll(provider())
		case <-ctx.Done():
			klog.V(1).Info("Health monitor stopping: context canceled")
			return
		case <-h.ctx.Done():
			klog.V(1).Info("Health monitor stopping")
			return
		}
	}
}

// Stop cancels the monitor and waits for its check loop to exit.
func (h *HealthMonitor) Stop() {
	h.cancel()
	h.wg.Wait()
}

func (h *HealthMonitor) checkAll(masters []cluster.NodeInfo) {
	current := make(map[string]bool, len(masters))
	for _, m := range masters {
		current[m.ID] = true
		h.check(m)
	}

	h.mu.Lock()
	for id := range h.masters {
		if !current[id] {
			delete(h.masters, id)
			klog.V(1).Infof("Removed master %s from health monitoring", id)
		}
	}
	h.mu.Unlock()
}

func (h *HealthMonitor) check(m cluster.NodeInfo) {
	h.mu.Lock()
	health, exists := h.masters[m.ID]
	if !exists {
		now := time.Now()
		health = &MasterHealth{MasterID: m.ID, Status: StatusUnknown, LastCheck: now, LastHealthy: now}
		h.masters[m.ID] = health
	}
	h.mu.Unlock()

	err := h.checkFunc(m.Addr)

	h.mu.Lock()
	defer h.mu.Unlock()
	health.LastCheck = time.Now()

	if err != nil {
		health.ConsecutiveFails++
		klog.Warningf("Health check failed for master %s (attempt %d/%d): %v",
			m.ID, health.ConsecutiveFails, h.maxFailures, err)
		if health.ConsecutiveFails >= h.maxFailures && health.Status != StatusUnhealthy {
			health.Status = StatusUnhealthy
			klog.Errorf("Master %s marked unhealthy after %d failures", m.ID, health.ConsecutiveFails)
			if h.onUnhealthy != nil {
				go h.onUnhealthy(m.ID)
			}
		}
		return
	}
	if health.Status == StatusUnhealthy {
		klog.Infof("Master %s recovered", m.ID)
	}
	health.Status = StatusHealthy
	health.ConsecutiveFails = 0
	health.LastHealthy = time.Now()
}

func (h *HealthMonitor) defaultHealthCheck(addr string) error {
	resp, err := h.httpClient.Get(cluster.URL(addr, cluster.HealthPath))
	if err != nil {
		return errors.Wrap(err, "health check request failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

// GetAllMasterHealth returns copies of every tracked master's health.
func (h *HealthMonitor) GetAllMasterHealth() map[string]*MasterHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]*MasterHealth, len(h.masters))
	for id, health := range h.masters {
		c := *health
		out[id] = &c
	}
	return out
}
