package publish

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/camgate/internal/testutil"
)

type receiver struct {
	mu       sync.Mutex
	payloads []payload
	status   int
	// statuses are answered first, one per request, before status.
	statuses []int
}

func (r *receiver) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "/receive_image", req.URL.Path)
		assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
		var p payload
		require.NoError(t, json.NewDecoder(req.Body).Decode(&p))

		r.mu.Lock()
		r.payloads = append(r.payloads, p)
		status := r.status
		if len(r.statuses) > 0 {
			status, r.statuses = r.statuses[0], r.statuses[1:]
		}
		r.mu.Unlock()

		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
	}
}

func (r *receiver) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.payloads)
}

func TestForwarder_SendsAtMostOncePerInterval(t *testing.T) {
	rcv := &receiver{}
	srv := httptest.NewServer(rcv.handler(t))
	defer srv.Close()

	f, err := New(Config{URL: srv.URL + "/", Interval: time.Hour})
	require.NoError(t, err)
	require.NoError(t, f.Start(context.Background()))
	assert.Error(t, f.Start(context.Background()))

	frame := testutil.TinyJPEG(7)
	for i := 0; i < 5; i++ {
		f.Offer(frame)
	}

	require.Eventually(t, func() bool { return rcv.count() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, rcv.count())

	rcv.mu.Lock()
	got := rcv.payloads[0]
	rcv.mu.Unlock()
	decoded, err := base64.StdEncoding.DecodeString(got.Image)
	require.NoError(t, err)
	assert.Equal(t, frame, decoded)
	assert.Greater(t, got.Timestamp, float64(0))

	sent, failed := f.Stats()
	assert.EqualValues(t, 1, sent)
	assert.EqualValues(t, 0, failed)

	f.Stop()
}

func TestForwarder_CountsFailures(t *testing.T) {
	rcv := &receiver{status: http.StatusInternalServerError}
	srv := httptest.NewServer(rcv.handler(t))
	defer srv.Close()

	f, err := New(Config{URL: srv.URL, Interval: time.Millisecond})
	require.NoError(t, err)
	require.NoError(t, f.Start(context.Background()))
	defer f.Stop()

	f.Offer(testutil.TinyJPEG(1))
	require.Eventually(t, func() bool {
		_, failed := f.Stats()
		return failed == 1
	}, time.Second, 5*time.Millisecond)
}

func TestForwarder_RetriesUnavailableReceiver(t *testing.T) {
	rcv := &receiver{statuses: []int{http.StatusServiceUnavailable, http.StatusBadGateway}}
	srv := httptest.NewServer(rcv.handler(t))
	defer srv.Close()

	f, err := New(Config{URL: srv.URL, Interval: time.Hour, RetryAttempts: 2, RetryDelay: time.Millisecond})
	require.NoError(t, err)
	require.NoError(t, f.Start(context.Background()))
	defer f.Stop()

	frame := testutil.TinyJPEG(3)
	f.Offer(frame)
	require.Eventually(t, func() bool {
		sent, _ := f.Stats()
		return sent == 1
	}, time.Second, 5*time.Millisecond)

	_, failed := f.Stats()
	assert.EqualValues(t, 0, failed)
	require.Equal(t, 3, rcv.count())

	rcv.mu.Lock()
	defer rcv.mu.Unlock()
	for _, p := range rcv.payloads {
		decoded, err := base64.StdEncoding.DecodeString(p.Image)
		require.NoError(t, err)
		assert.Equal(t, frame, decoded, "body is resent intact")
	}
}

func TestForwarder_NoRetriesByDefault(t *testing.T) {
	rcv := &receiver{status: http.StatusServiceUnavailable}
	srv := httptest.NewServer(rcv.handler(t))
	defer srv.Close()

	f, err := New(Config{URL: srv.URL, Interval: time.Hour})
	require.NoError(t, err)
	require.NoError(t, f.Start(context.Background()))
	defer f.Stop()

	f.Offer(testutil.TinyJPEG(4))
	require.Eventually(t, func() bool {
		_, failed := f.Stats()
		return failed == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, rcv.count())
}

func TestNew_RequiresURL(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}
