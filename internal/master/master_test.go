package master

import (
	"context"
	"net"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/proxima/internal/cluster"
	"github.com/dreamware/proxima/internal/encoder"
	"github.com/dreamware/proxima/internal/policy"
	"github.com/dreamware/proxima/internal/scheduler"
	"github.com/dreamware/proxima/internal/shard"
	"github.com/dreamware/proxima/internal/storage"
	"github.com/dreamware/proxima/internal/wire"
)

func testSettings() cluster.Settings {
	s := cluster.DefaultSettings()
	s.BroadcastPort, s.MasterPort, s.WorkerPort, s.AdvertisedPort = 0, 0, 0, 0
	s.Linger = time.Second
	s.MasterTimeout = 2 * time.Second
	s.WorkerTimeout = 2 * time.Second
	s.SchedulerTimeout = 3 * time.Second
	return s
}

func call(t *testing.T, addr string, m wire.Message) wire.Message {
	t.Helper()
	reply, err := cluster.CallTimeout(context.Background(), 2*time.Second, cluster.URL(addr, cluster.RPCPath), m)
	require.NoError(t, err)
	return reply
}

func TestMasterRegistrationTimeout(t *testing.T) {
	dead := httptest.NewServer(nil)
	port := dead.Listener.Addr().(*net.TCPAddr).Port
	dead.Close()

	settings := testSettings()
	settings.MasterPort = port
	settings.MasterTimeout = 200 * time.Millisecond
	m, err := New(Config{Settings: settings})
	require.NoError(t, err)
	assert.NotEmpty(t, m.ID(), "a random id is generated")

	err = m.Run(context.Background())
	assert.ErrorIs(t, err, ErrRegistration)
	assert.Equal(t, StateStopped, m.State())
	assert.Nil(t, m.Shard())
}

// TestMasterServesShard runs one master against a real scheduler.
func TestMasterServesShard(t *testing.T) {
	sched, err := scheduler.New(scheduler.Config{
		Settings:  testSettings(),
		X0:        []float64{0, 1, 2, 3},
		Terminate: scheduler.MaxGeneration(2),
	})
	require.NoError(t, err)
	schedDone := make(chan error, 1)
	go func() {
		_, err := sched.Run(context.Background())
		schedDone <- err
	}()

	store := storage.NewMemoryStore()
	m, err := New(Config{Settings: sched.Settings(), ID: "m-test", Store: store})
	require.NoError(t, err)
	masterDone := make(chan error, 1)
	go func() { masterDone <- m.Run(context.Background()) }()

	require.Eventually(t, func() bool { return m.State() == StateServing }, 3*time.Second, 5*time.Millisecond)
	assert.Equal(t, "m-test", m.ID())

	values, ok := call(t, m.Addr(), &wire.Fetch{Lo: 0, Hi: 4}).(*wire.ShardValues)
	require.True(t, ok)
	assert.Equal(t, &wire.ShardValues{Start: 0, K: 0, Values: []float64{0, 1, 2, 3}}, values)

	update := &wire.GradientUpdate{WorkerID: 3, KLocal: 0, KGlobal: 0, FVal: 1,
		Gradient: encoder.DenseEncoder{}.Encode([]float64{1, 1, 1, 1}, 0)}
	ack, ok := call(t, m.Addr(), update).(*wire.Ack)
	require.True(t, ok)
	assert.Equal(t, &wire.Ack{K: 1}, ack)

	values = call(t, m.Addr(), &wire.Fetch{Lo: 0, Hi: 4}).(*wire.ShardValues)
	assert.Equal(t, []float64{-1, 0, 1, 2}, values.Values)
	assert.Equal(t, 1, values.K)

	// A gradient that does not fit the shard is discarded and retried.
	misrouted := &wire.GradientUpdate{Gradient: encoder.DenseEncoder{}.Encode([]float64{9, 9, 9, 9}, 2)}
	ack = call(t, m.Addr(), misrouted).(*wire.Ack)
	assert.True(t, ack.Empty)
	assert.Equal(t, uint64(1), m.Shard().GetStats().Discarded)

	ack = call(t, m.Addr(), update).(*wire.Ack)
	assert.Equal(t, 2, ack.K)

	// The second notice reaches the scheduler's predicate.
	select {
	case err := <-masterDone:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("master did not stop")
	}
	assert.Equal(t, StateStopped, m.State())
	require.NoError(t, <-schedDone)

	final, err := storage.GetVector(store, storage.ShardKey(0, 4))
	require.NoError(t, err)
	assert.Equal(t, []float64{-2, -1, 0, 1}, final)
}

func TestMasterHandleOutsideServing(t *testing.T) {
	m, err := New(Config{Settings: testSettings(), QueueSize: 1})
	require.NoError(t, err)
	defer m.listener.Close()

	assert.Nil(t, m.handle(context.Background(), &wire.Fetch{}), "INIT answers with an empty ack")

	m.state.Store(int32(StateServing))
	m.queue <- request{}
	assert.Nil(t, m.handle(context.Background(), &wire.Fetch{}), "a full queue answers with an empty ack")
}

// TestMasterDropsAbandonedUpdate cancels the caller while its update waits in
// the queue; the loop must not apply it, or the worker's resend would count
// twice.
func TestMasterDropsAbandonedUpdate(t *testing.T) {
	m, err := New(Config{Settings: testSettings(), QueueSize: 1})
	require.NoError(t, err)
	defer m.listener.Close()
	m.state.Store(int32(StateServing))

	ctx, cancel := context.WithCancel(context.Background())
	update := &wire.GradientUpdate{Gradient: encoder.DenseEncoder{}.Encode([]float64{1, 1}, 0)}
	replied := make(chan wire.Message, 1)
	go func() { replied <- m.handle(ctx, update) }()

	var req request
	select {
	case req = <-m.queue:
	case <-time.After(2 * time.Second):
		t.Fatal("update was not queued")
	}
	cancel()
	assert.Nil(t, <-replied)
	require.True(t, req.abandoned())

	s := shard.NewShard(0, 0, []float64{3, 4}, policy.Policy{})
	m.serve(s, req)
	assert.Nil(t, <-req.reply)
	assert.Equal(t, 0, s.K())
	assert.Equal(t, []float64{3, 4}, s.Values())
	assert.Equal(t, uint64(1), s.GetStats().Discarded)

	// A caller still waiting gets its update applied.
	live := request{msg: update, reply: make(chan wire.Message, 1), cancelled: new(atomic.Bool)}
	m.serve(s, live)
	assert.Equal(t, &wire.Ack{K: 1}, <-live.reply)
}

func TestMasterResumesFromStore(t *testing.T) {
	store := storage.NewMemoryStore()
	require.NoError(t, storage.PutVector(store, storage.ShardKey(2, 4), []float64{7, 8}))
	m, err := New(Config{Settings: testSettings(), Store: store})
	require.NoError(t, err)
	defer m.listener.Close()

	s := shard.NewShard(1, 2, []float64{0, 0}, policy.Policy{})
	m.resume(s)
	assert.Equal(t, []float64{7, 8}, s.Values())

	fresh := shard.NewShard(0, 0, []float64{1, 2}, policy.Policy{})
	m.resume(fresh)
	assert.Equal(t, []float64{1, 2}, fresh.Values(), "nothing stored for [0, 2)")

	require.NoError(t, storage.PutVector(store, storage.ShardKey(0, 2), []float64{5}))
	m.resume(fresh)
	assert.Equal(t, []float64{1, 2}, fresh.Values(), "a record of the wrong length is ignored")
}

func TestMasterApplyUnexpectedMessage(t *testing.T) {
	m, err := New(Config{Settings: testSettings()})
	require.NoError(t, err)
	defer m.listener.Close()

	s := shard.NewShard(0, 0, []float64{1}, policy.Policy{})
	assert.Nil(t, m.apply(s, &wire.Subscribe{}))
	assert.Equal(t, uint64(1), s.GetStats().Discarded)
}

func TestMasterBindMovesToNextPort(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	taken := l.Addr().(*net.TCPAddr).Port

	settings := testSettings()
	settings.AdvertisedPort = taken
	settings.MaxBindAttempts = 8
	m, err := New(Config{Settings: settings})
	require.NoError(t, err)
	defer m.listener.Close()

	_, port, err := net.SplitHostPort(m.Addr())
	require.NoError(t, err)
	assert.NotEqual(t, strconv.Itoa(taken), port)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "INIT", StateInit.String())
	assert.Equal(t, "SERVING", StateServing.String())
	assert.Equal(t, "STOPPED", StateStopped.String())
	assert.Equal(t, "UNKNOWN", State(9).String())
}
