package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/dreamware/proxima/internal/wire"
)

// Paths served by every role.
const (
	RPCPath       = "/rpc"
	SubscribePath = "/subscribe"
	HealthPath    = "/health"
	StatusPath    = "/status"
)

// maxFrameBytes bounds request and response bodies.
const maxFrameBytes = 256 << 20

// NodeInfo identifies a registered peer.
type NodeInfo struct {
	ID   string `json:"id"`
	Addr string `json:"addr"`
}

var httpClient = &http.Client{
	Transport: &http.Transport{
		MaxIdleConnsPerHost: 64,
		IdleConnTimeout:     90 * time.Second,
	},
}

// URL joins a base address ("host:port" or "http://host:port") and a path.
func URL(addr, path string) string {
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		addr = "http://" + addr
	}
	return strings.TrimRight(addr, "/") + path
}

// Call posts one frame to url and decodes the reply frame. The deadline
// comes from ctx; callers bound every call with context.WithTimeout.
func Call(ctx context.Context, url string, m wire.Message) (wire.Message, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(wire.Marshal(m)))
	if err != nil {
		return nil, errors.Wrapf(err, "building %q request to %s", m.Tag(), url)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "%q request to %s", m.Tag(), url)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, errors.Errorf("%q request to %s: http %d", m.Tag(), url, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFrameBytes))
	if err != nil {
		return nil, errors.Wrapf(err, "reading %q reply from %s", m.Tag(), url)
	}
	reply, err := wire.Unmarshal(body)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding %q reply from %s", m.Tag(), url)
	}
	return reply, nil
}

// CallTimeout is Call bounded by timeout.
func CallTimeout(ctx context.Context, timeout time.Duration, url string, m wire.Message) (wire.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return Call(ctx, url, m)
}

// HandlerFunc answers one decoded frame. Returning nil sends an empty Ack.
type HandlerFunc func(ctx context.Context, m wire.Message) wire.Message

// FrameHandler adapts h to HTTP. A body that cannot be read or decoded is
// answered with an empty Ack so the sender re-issues the request.
func FrameHandler(h HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var reply wire.Message
		body, err := io.ReadAll(io.LimitReader(r.Body, maxFrameBytes))
		if err == nil {
			var m wire.Message
			if m, err = wire.Unmarshal(body); err == nil {
				reply = h(r.Context(), m)
			}
		}
		if err != nil {
			klog.Warningf("discarding request from %s: %v", r.RemoteAddr, err)
		}
		if reply == nil {
			reply = &wire.Ack{Empty: true}
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		if _, err := w.Write(wire.Marshal(reply)); err != nil {
			klog.V(1).Infof("writing %q reply to %s: %v", reply.Tag(), r.RemoteAddr, err)
		}
	}
}

// NewMux returns a mux serving h on RPCPath plus a HealthPath probe.
func NewMux(h HandlerFunc) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc(RPCPath, FrameHandler(h))
	mux.HandleFunc(HealthPath, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// StatusHandler serves the JSON encoding of whatever status returns.
func StatusHandler(status func() any) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(status())
	}
}

// GetJSON fetches url and decodes the JSON body into out.
func GetJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "GET %s", url)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return errors.Errorf("GET %s: status %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Listen binds host:port. When the port is taken it tries the following
// ports, up to attempts binds in total. Port 0 binds an ephemeral port.
// It returns the listener and the port actually bound.
func Listen(host string, port, attempts int) (net.Listener, int, error) {
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		candidate := port
		if port != 0 {
			candidate = port + i
		}
		l, err := net.Listen("tcp", net.JoinHostPort(host, fmt.Sprint(candidate)))
		if err == nil {
			return l, l.Addr().(*net.TCPAddr).Port, nil
		}
		lastErr = err
		klog.V(1).Infof("bind %s:%d failed, trying next port: %v", host, candidate, err)
		if port == 0 {
			break
		}
	}
	return nil, 0, errors.Wrapf(lastErr, "binding %s after %d attempts from port %d", host, attempts, port)
}

// Serve runs handler on l in a background goroutine and returns the server
// so the caller can Shutdown it.
func Serve(l net.Listener, handler http.Handler) *http.Server {
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.Serve(l); err != nil && err != http.ErrServerClosed {
			klog.Errorf("serve %s: %v", l.Addr(), err)
		}
	}()
	return srv
}

// Shutdown stops srv, waiting at most timeout for in-flight requests.
func Shutdown(srv *http.Server, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		klog.Warningf("shutdown %s: %v", srv.Addr, err)
	}
}
