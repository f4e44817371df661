package cluster

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/proxima/internal/wire"
)

func TestURL(t *testing.T) {
	assert.Equal(t, "http://127.0.0.1:80/rpc", URL("127.0.0.1:80", RPCPath))
	assert.Equal(t, "http://h:1/rpc", URL("http://h:1/", RPCPath))
	assert.Equal(t, "https://h/health", URL("https://h", HealthPath))
}

func TestCallRoundTrip(t *testing.T) {
	srv := httptest.NewServer(NewMux(func(_ context.Context, m wire.Message) wire.Message {
		f, ok := m.(*wire.Fetch)
		if !ok {
			return nil
		}
		return &wire.ShardValues{Start: f.Lo, K: 3, Values: []float64{1, 2}}
	}))
	defer srv.Close()

	reply, err := CallTimeout(context.Background(), time.Second, URL(srv.URL, RPCPath), &wire.Fetch{Lo: 4, Hi: 6})
	require.NoError(t, err)
	assert.Equal(t, &wire.ShardValues{Start: 4, K: 3, Values: []float64{1, 2}}, reply)

	// Handlers returning nil produce an empty ack.
	reply, err = Call(context.Background(), URL(srv.URL, RPCPath), &wire.Subscribe{})
	require.NoError(t, err)
	assert.Equal(t, &wire.Ack{Empty: true}, reply)
}

func TestFrameHandlerGarbageGetsEmptyAck(t *testing.T) {
	called := false
	h := FrameHandler(func(context.Context, wire.Message) wire.Message {
		called = true
		return &wire.Ack{K: 1}
	})
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodPost, RPCPath, strings.NewReader("not a frame")))

	assert.False(t, called)
	got, err := wire.Unmarshal(rec.Body.Bytes())
	require.NoError(t, err)
	assert.Equal(t, &wire.Ack{Empty: true}, got)

	rec = httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, RPCPath, nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestCallErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/bad" {
			_, _ = w.Write([]byte{0})
			return
		}
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := Call(context.Background(), srv.URL+"/fail", &wire.Ack{})
	assert.Error(t, err)
	_, err = Call(context.Background(), srv.URL+"/bad", &wire.Ack{})
	assert.ErrorIs(t, err, wire.ErrMalformed)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Call(ctx, srv.URL, &wire.Ack{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHealthAndStatus(t *testing.T) {
	mux := NewMux(func(context.Context, wire.Message) wire.Message { return nil })
	mux.HandleFunc(StatusPath, StatusHandler(func() any { return map[string]int{"generation": 4} }))
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Get(URL(srv.URL, HealthPath))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var status map[string]int
	require.NoError(t, GetJSON(context.Background(), URL(srv.URL, StatusPath), &status))
	assert.Equal(t, 4, status["generation"])
}

func TestListenIncrementsPortOnConflict(t *testing.T) {
	first, port, err := Listen("127.0.0.1", 0, 1)
	require.NoError(t, err)
	defer first.Close()

	second, got, err := Listen("127.0.0.1", port, 8)
	if err != nil {
		t.Skipf("no free port after %d: %v", port, err)
	}
	defer second.Close()
	assert.Greater(t, got, port)
	assert.Equal(t, got, second.Addr().(*net.TCPAddr).Port)

	_, _, err = Listen("127.0.0.1", port, 1)
	assert.Error(t, err)
}
