package httpclient

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_BasicAuth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || u != "admin" || p != "admin" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.NotEmpty(t, r.Header.Get(HeaderUserAgent))
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	cfg := DefaultPoolConfig()
	cfg.Username = "admin"
	cfg.Password = "admin"
	pool := NewPool(cfg)

	client, release := pool.Acquire()
	resp, err := client.Get(server.URL)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	release()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))
}

func TestPool_CustomTransport(t *testing.T) {
	mock := httpmock.NewMockTransport()
	mock.RegisterResponder(http.MethodGet, "http://camera.test/snap",
		func(req *http.Request) (*http.Response, error) {
			u, _, _ := req.BasicAuth()
			return httpmock.NewStringResponse(http.StatusOK, u), nil
		})

	cfg := DefaultPoolConfig()
	cfg.Username = "viewer"
	cfg.Transport = mock
	pool := NewPool(cfg)

	client, release := pool.Acquire()
	defer release()
	resp, err := client.Get("http://camera.test/snap")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "viewer", string(body))
	assert.Equal(t, 1, mock.GetTotalCallCount())
}

func TestPool_ResetWaitsForInFlight(t *testing.T) {
	pool := NewPool(DefaultPoolConfig())
	gen := pool.Generation()
	assert.EqualValues(t, 1, gen)

	_, release := pool.Acquire()

	var resetDone atomic.Bool
	go func() {
		pool.Reset()
		resetDone.Store(true)
	}()

	time.Sleep(50 * time.Millisecond)
	assert.False(t, resetDone.Load(), "reset must wait for the in-flight fetch")

	release()
	require.Eventually(t, resetDone.Load, time.Second, 5*time.Millisecond)
	assert.Equal(t, gen+1, pool.Generation())
}

func TestPool_StreamClientDoesNotBlockReset(t *testing.T) {
	pool := NewPool(DefaultPoolConfig())
	before := pool.StreamClient()

	done := make(chan struct{})
	go func() {
		pool.Reset()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reset blocked by stream client")
	}
	assert.NotSame(t, before, pool.StreamClient())
}

func TestPool_StreamClientNotBlockedByPendingReset(t *testing.T) {
	pool := NewPool(DefaultPoolConfig())
	before := pool.StreamClient()

	_, release := pool.Acquire()

	resetDone := make(chan struct{})
	go func() {
		pool.Reset()
		close(resetDone)
	}()
	time.Sleep(50 * time.Millisecond)

	got := make(chan *http.Client, 1)
	go func() { got <- pool.StreamClient() }()

	select {
	case c := <-got:
		assert.Same(t, before, c, "current client until the reset completes")
	case <-time.After(time.Second):
		t.Fatal("stream client blocked behind a pending reset")
	}

	release()
	select {
	case <-resetDone:
	case <-time.After(time.Second):
		t.Fatal("reset did not complete")
	}
	assert.NotSame(t, before, pool.StreamClient())
}
