// Package worker implements a parameter-server worker: a stateless compute
// node that repeatedly fetches the iterate from the masters, evaluates the
// loss, encodes the gradient and ships each shard's slice to its owner.
//
//	INIT → REQUEST_X → COMPUTE → ENCODE → SEND_G ─┐
//	          ▲                                   │
//	          └───────────────────────────────────┘   (until terminate)
//
// Fetches and sends to different masters run in parallel. A failed RPC to
// one master is retried on its own; it never restarts the whole round.
package worker

import (
	"context"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"github.com/dreamware/proxima/internal/cluster"
	"github.com/dreamware/proxima/internal/encoder"
	"github.com/dreamware/proxima/internal/problem"
	"github.com/dreamware/proxima/internal/wire"
)

// ErrRegistration is returned when the scheduler does not hand out a worker
// id within WorkerTimeout.
var ErrRegistration = errors.New("worker registration failed")

// DefaultMaxRetries is the per-shard retry budget of one RPC.
const DefaultMaxRetries = 5

// State of a worker.
type State int32

const (
	StateInit State = iota
	StateRequestX
	StateCompute
	StateEncode
	StateSendG
	StateStopped
)

func (s State) String() string {
	return [...]string{"INIT", "REQUEST_X", "COMPUTE", "ENCODE", "SEND_G", "STOPPED"}[s]
}

// Config configures a Worker.
type Config struct {
	Settings cluster.Settings
	Loss     problem.Loss
	// Encoder compresses gradients; dense when nil.
	Encoder encoder.Encoder
	// MaxRetries bounds the attempts of each per-shard RPC.
	MaxRetries int
	// MaxIterations stops the worker after that many rounds; 0 runs until
	// the scheduler terminates.
	MaxIterations int
	// BatchSize > 0 evaluates random mini-batches of that many components
	// when Loss is a problem.BatchLoss.
	BatchSize int
	Seed      uint64
}

// Result summarizes a worker's run.
type Result struct {
	ID         int
	Iterations int
	FVal       float64
	// X is the last assembled iterate.
	X []float64
	// BytesSent counts encoded gradient bytes shipped to masters.
	BytesSent uint64
}

// Worker is a parameter-server worker. Run it once.
type Worker struct {
	cfg   Config
	name  string
	id    int
	dim   int
	state atomic.Int32

	kLocal    int
	kGlobal   map[int]int // by shard start
	rng       *rand.Rand
	bytesSent atomic.Uint64

	fetchRoute, sendRoute []wire.ShardRoute
}

// New returns a worker for cfg.
func New(cfg Config) (*Worker, error) {
	if cfg.Loss == nil {
		return nil, errors.New("worker needs a loss")
	}
	if cfg.Encoder == nil {
		cfg.Encoder = encoder.DenseEncoder{}
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	return &Worker{cfg: cfg, name: uuid.NewString(), kGlobal: make(map[int]int)}, nil
}

// ID returns the id assigned by the scheduler, -1 before registration.
func (w *Worker) ID() int {
	if w.State() == StateInit {
		return -1
	}
	return w.id
}

// State returns the current lifecycle state.
func (w *Worker) State() State { return State(w.state.Load()) }

func (w *Worker) enter(s State) { w.state.Store(int32(s)) }

// Run registers and loops until the scheduler terminates the run,
// MaxIterations rounds are done, or ctx is canceled. Termination by the
// scheduler and reaching MaxIterations both return a nil error.
func (w *Worker) Run(ctx context.Context) (Result, error) {
	defer w.enter(StateStopped)
	if err := w.register(ctx); err != nil {
		klog.Errorf("worker %s: %v", w.name, err)
		return w.result(0, nil), err
	}
	w.rng = rand.New(rand.NewPCG(w.cfg.Seed, uint64(w.id)))

	parent := ctx
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	settings := w.cfg.Settings
	sub := cluster.NewSubscriber(settings.BroadcastURL(), w.name, cluster.Backoff(1), settings.WorkerTimeout)
	go sub.Run(ctx)

	var stopErr atomic.Pointer[error]
	terminated := make(chan struct{})
	go func() {
		defer close(terminated)
		for e := range sub.Events() {
			switch {
			case e.Terminated:
				klog.V(1).Infof("worker %d: termination at generation %d", w.id, e.Generation)
			case e.Lost:
				err := errors.Wrapf(cluster.ErrSchedulerLost, "worker %d", w.id)
				stopErr.Store(&err)
			default:
				continue
			}
			cancel()
			return
		}
	}()

	x := make([]float64, w.dim)
	g := make([]float64, w.dim)
	fval := 0.0
	for w.cfg.MaxIterations == 0 || w.kLocal < w.cfg.MaxIterations {
		if ctx.Err() != nil {
			break
		}
		f, err := w.round(ctx, x, g)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			klog.Warningf("worker %d: round %d abandoned: %v", w.id, w.kLocal, err)
			continue
		}
		fval = f
		w.kLocal++
	}
	cancel()
	<-terminated

	res := w.result(fval, x)
	if p := stopErr.Load(); p != nil {
		return res, *p
	}
	if err := parent.Err(); err != nil {
		return res, errors.Wrapf(err, "worker %d canceled", w.id)
	}
	klog.Infof("worker %d: stopped after %d iterations, sent %s", w.id, res.Iterations, humanize.Bytes(res.BytesSent))
	return res, nil
}

func (w *Worker) result(fval float64, x []float64) Result {
	return Result{ID: w.id, Iterations: w.kLocal, FVal: fval, X: x, BytesSent: w.bytesSent.Load()}
}

// register retries until the scheduler assigns an id or WorkerTimeout
// elapses.
func (w *Worker) register(ctx context.Context) error {
	settings := w.cfg.Settings
	deadline := time.Now().Add(settings.WorkerTimeout)
	req := &wire.Register{Role: wire.RoleWorker, ID: w.name}
	var lastErr error
	for attempt := 1; time.Now().Before(deadline) && ctx.Err() == nil; attempt++ {
		reply, err := cluster.CallTimeout(ctx, time.Until(deadline), settings.WorkerURL(), req)
		if err == nil {
			if a, ok := reply.(*wire.Assignment); ok {
				if a.Dim != w.cfg.Loss.Dim() {
					return errors.Wrapf(ErrRegistration, "problem dimension %d does not match loss dimension %d", a.Dim, w.cfg.Loss.Dim())
				}
				w.id, w.dim = a.ID, a.Dim
				w.enter(StateRequestX)
				klog.Infof("worker %s: registered as %d (dim=%d, encoder=%s)", w.name, w.id, w.dim, w.cfg.Encoder.Name())
				return nil
			}
			err = errors.Errorf("scheduler answered %q", reply.Tag())
		}
		lastErr = err
		cluster.Sleep(ctx, cluster.Backoff(attempt))
	}
	return errors.Wrapf(ErrRegistration, "worker %s: %v", w.name, lastErr)
}

// round runs one REQUEST_X → COMPUTE → ENCODE → SEND_G pass.
func (w *Worker) round(ctx context.Context, x, g []float64) (float64, error) {
	w.enter(StateRequestX)
	routes, err := w.route(ctx, wire.TagFetch, &w.fetchRoute)
	if err != nil {
		return 0, err
	}
	if err := w.fetch(ctx, routes, x); err != nil {
		return 0, err
	}

	w.enter(StateCompute)
	fval := w.evaluate(x, g)

	w.enter(StateEncode)
	encoded := w.cfg.Encoder.Encode(g, 0)

	w.enter(StateSendG)
	routes, err = w.route(ctx, wire.TagGradient, &w.sendRoute)
	if err != nil {
		return 0, err
	}
	if err := w.send(ctx, routes, fval, encoded); err != nil {
		return 0, err
	}
	klog.V(1).Infof("worker %d: k=%d fval=%g", w.id, w.kLocal, fval)
	return fval, nil
}

func (w *Worker) evaluate(x, g []float64) float64 {
	batchLoss, ok := w.cfg.Loss.(problem.BatchLoss)
	if !ok || w.cfg.BatchSize <= 0 || w.cfg.BatchSize >= batchLoss.NumComponents() {
		return w.cfg.Loss.Evaluate(x, g)
	}
	batch := make([]int, w.cfg.BatchSize)
	for i := range batch {
		batch[i] = w.rng.IntN(batchLoss.NumComponents())
	}
	return batchLoss.EvaluateBatch(x, g, batch)
}

// route asks the scheduler who owns [0, dim). The directory is immutable
// once the scheduler answers, so the reply is kept in cache.
func (w *Worker) route(ctx context.Context, kind wire.Tag, cache *[]wire.ShardRoute) ([]wire.ShardRoute, error) {
	if *cache != nil {
		return *cache, nil
	}
	settings := w.cfg.Settings
	deadline := time.Now().Add(settings.WorkerTimeout)
	for attempt := 1; ; attempt++ {
		reply, err := cluster.CallTimeout(ctx, settings.WorkerTimeout, settings.WorkerURL(), &wire.Route{Kind: kind, Lo: 0, Hi: w.dim})
		if err == nil {
			if d, ok := reply.(*wire.Directory); ok && covers(d.Shards, w.dim) {
				*cache = d.Shards
				return d.Shards, nil
			}
			err = errors.Errorf("directory not ready (%q)", reply.Tag())
		}
		if ctx.Err() != nil || time.Now().After(deadline) {
			return nil, errors.Wrapf(err, "routing %q", kind)
		}
		cluster.Sleep(ctx, cluster.Backoff(attempt))
	}
}

// covers reports whether routes tile [0, dim) in order.
func covers(routes []wire.ShardRoute, dim int) bool {
	next := 0
	for _, r := range routes {
		if r.Start != next || r.End <= r.Start || r.Addr == "" {
			return false
		}
		next = r.End
	}
	return next == dim
}

// fetch assembles x from every shard in parallel.
func (w *Worker) fetch(ctx context.Context, routes []wire.ShardRoute, x []float64) error {
	var eg errgroup.Group
	kGlobal := make([]int, len(routes))
	for i, r := range routes {
		eg.Go(func() error {
			reply, err := w.call(ctx, r, &wire.Fetch{Lo: r.Start, Hi: r.End}, func(m wire.Message) bool {
				v, ok := m.(*wire.ShardValues)
				return ok && v.Start == r.Start && len(v.Values) == r.End-r.Start
			})
			if err != nil {
				return err
			}
			v := reply.(*wire.ShardValues)
			copy(x[r.Start:r.End], v.Values)
			kGlobal[i] = v.K
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}
	for i, r := range routes {
		w.kGlobal[r.Start] = kGlobal[i]
	}
	return nil
}

// send ships each shard's slice of the encoded gradient in parallel.
func (w *Worker) send(ctx context.Context, routes []wire.ShardRoute, fval float64, encoded encoder.Encoded) error {
	var eg errgroup.Group
	var total atomic.Uint64
	for _, r := range routes {
		update := &wire.GradientUpdate{
			WorkerID: w.id,
			KLocal:   w.kLocal,
			KGlobal:  w.kGlobal[r.Start],
			FVal:     fval,
			Gradient: encoded.Slice(r.Start, r.End),
		}
		eg.Go(func() error {
			_, err := w.call(ctx, r, update, func(m wire.Message) bool {
				ack, ok := m.(*wire.Ack)
				return ok && !ack.Empty
			})
			if err == nil {
				total.Add(uint64(encoder.Size(update.Gradient)))
			}
			return err
		})
	}
	err := eg.Wait()
	w.bytesSent.Add(total.Load())
	klog.V(2).Infof("worker %d: sent %s for %d of %d coordinates",
		w.id, humanize.Bytes(total.Load()), encoded.Selected(), w.dim)
	return err
}

// call sends m to the master behind r, retrying up to MaxRetries times
// within WorkerTimeout until accept approves the reply. Empty Acks mean
// the master was busy.
func (w *Worker) call(ctx context.Context, r wire.ShardRoute, m wire.Message, accept func(wire.Message) bool) (wire.Message, error) {
	settings := w.cfg.Settings
	url := cluster.URL(r.Addr, cluster.RPCPath)
	deadline := time.Now().Add(settings.WorkerTimeout)
	var lastErr error
	for attempt := 1; attempt <= w.cfg.MaxRetries; attempt++ {
		reply, err := cluster.CallTimeout(ctx, time.Until(deadline), url, m)
		if err == nil {
			if accept(reply) {
				return reply, nil
			}
			err = errors.Errorf("master answered %q", reply.Tag())
		}
		lastErr = err
		if ctx.Err() != nil || !time.Now().Before(deadline) {
			break
		}
		klog.V(2).Infof("worker %d: %q to [%d, %d) retry %d: %v", w.id, m.Tag(), r.Start, r.End, attempt, err)
		cluster.Sleep(ctx, cluster.Backoff(attempt))
	}
	return nil, errors.Wrapf(lastErr, "worker %d: %q to shard [%d, %d) at %s", w.id, m.Tag(), r.Start, r.End, r.Addr)
}
