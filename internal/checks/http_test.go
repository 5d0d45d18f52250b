package checks

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/svchecks/internal/supervisor"
)

func serverPort(t *testing.T, ts *httptest.Server) int {
	t.Helper()
	_, p, err := net.SplitHostPort(ts.Listener.Addr().String())
	require.NoError(t, err)
	n, err := strconv.Atoi(p)
	require.NoError(t, err)
	return n
}

func TestHTTPCheckPassesOn200(t *testing.T) {
	var agent atomic.Value
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agent.Store(r.UserAgent())
		if r.URL.Path != "/ping" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte("pong"))
	}))
	defer ts.Close()

	c, err := New(KindHTTP, Params{"url": "/ping", "port": serverPort(t, ts)}, testOptions()...)
	require.NoError(t, err)
	assert.True(t, c.Check(context.Background(), web8080))
	assert.Equal(t, "http_check", agent.Load())
}

func TestHTTPCheckBadStatusIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	c, err := New(KindHTTP, Params{"url": "/", "port": serverPort(t, ts), "num_retries": 2}, testOptions()...)
	require.NoError(t, err)
	assert.False(t, c.Check(context.Background(), web8080))
	assert.Equal(t, int32(1), hits.Load())
}

func TestHTTPCheckDoesNotFollowRedirects(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ok" {
			return
		}
		http.Redirect(w, r, "/ok", http.StatusFound)
	}))
	defer ts.Close()

	c, err := New(KindHTTP, Params{"url": "/old", "port": serverPort(t, ts)}, testOptions()...)
	require.NoError(t, err)
	assert.False(t, c.Check(context.Background(), web8080))
}

func TestHTTPCheckBasicAuth(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if u, p, ok := r.BasicAuth(); !ok || u != "probe" || p != "s3cret" {
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	defer ts.Close()
	port := serverPort(t, ts)

	with, err := New(KindHTTP, Params{"url": "/", "port": port, "username": "probe", "password": "s3cret"}, testOptions()...)
	require.NoError(t, err)
	assert.True(t, with.Check(context.Background(), web8080))

	without, err := New(KindHTTP, Params{"url": "/", "port": port}, testOptions()...)
	require.NoError(t, err)
	assert.False(t, without.Check(context.Background(), web8080))
}

func TestHTTPCheckRetriesConnectionErrors(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	port := serverPort(t, ts)
	ts.Close()

	c, err := New(KindHTTP, Params{"url": "/", "port": port, "num_retries": 1, "timeout": 1}, testOptions()...)
	require.NoError(t, err)
	assert.False(t, c.Check(context.Background(), web8080))
}

func TestHTTPCheckPortFromName(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	defer ts.Close()
	port := serverPort(t, ts)

	c, err := New(KindHTTP, Params{"url": "/", "port": `^.*_(\d+)$`}, testOptions()...)
	require.NoError(t, err)

	named := supervisor.ProcessInfo{Name: "api_" + strconv.Itoa(port), Group: "api", PID: 1}
	assert.True(t, c.Check(context.Background(), named))

	// A name that carries no port means the check does not apply.
	assert.True(t, c.Check(context.Background(), supervisor.ProcessInfo{Name: "api", Group: "api", PID: 1}))

	// A name that carries something that is not a port is a failure.
	bad, err := New(KindHTTP, Params{"url": "/", "port": `^api_(\w+)$`}, testOptions()...)
	require.NoError(t, err)
	assert.False(t, bad.Check(context.Background(), supervisor.ProcessInfo{Name: "api_main", Group: "api", PID: 1}))
}

func TestHTTPCheckHonoursTimeout(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { <-release }))
	defer ts.Close()
	defer close(release)

	c, err := New(KindHTTP, Params{"url": "/", "port": serverPort(t, ts), "timeout": 0.05, "num_retries": 0}, testOptions()...)
	require.NoError(t, err)

	start := time.Now()
	assert.False(t, c.Check(context.Background(), web8080))
	assert.Less(t, time.Since(start), 5*time.Second)
}
