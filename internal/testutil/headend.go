package testutil

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// SnapshotResponse describes how the fake head-end answers one channel.
type SnapshotResponse struct {
	Status int
	Body   []byte
	Delay  time.Duration
	// Hang blocks until the request context ends.
	Hang bool
}

// HeadEnd is an httptest server that mimics the camera CGI.
type HeadEnd struct {
	Server *httptest.Server

	mu        sync.Mutex
	responses map[int]SnapshotResponse
	requests  map[int]int
	gate      chan struct{}

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	user, pass  string
}

// NewHeadEnd starts a fake head-end requiring the given Basic credentials.
// Channels without a configured response return a sample JPEG.
func NewHeadEnd(user, pass string) *HeadEnd {
	h := &HeadEnd{
		responses: make(map[int]SnapshotResponse),
		requests:  make(map[int]int),
		user:      user,
		pass:      pass,
	}
	h.Server = httptest.NewServer(http.HandlerFunc(h.serve))
	return h
}

// URL returns the base URL of the fake head-end.
func (h *HeadEnd) URL() string {
	return h.Server.URL
}

// Close shuts the server down.
func (h *HeadEnd) Close() {
	h.mu.Lock()
	if h.gate != nil {
		close(h.gate)
		h.gate = nil
	}
	h.mu.Unlock()
	h.Server.CloseClientConnections()
	h.Server.Close()
}

// Set configures the response for a channel.
func (h *HeadEnd) Set(channel int, r SnapshotResponse) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.responses[channel] = r
}

// Hold makes every request block until Release is called.
func (h *HeadEnd) Hold() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.gate == nil {
		h.gate = make(chan struct{})
	}
}

// Release unblocks requests parked by Hold.
func (h *HeadEnd) Release() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.gate != nil {
		close(h.gate)
		h.gate = nil
	}
}

// Requests returns how many snapshot requests a channel has received.
func (h *HeadEnd) Requests(channel int) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.requests[channel]
}

// TotalRequests returns the number of snapshot requests across channels.
func (h *HeadEnd) TotalRequests() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	total := 0
	for _, n := range h.requests {
		total += n
	}
	return total
}

// MaxInFlight returns the highest observed number of concurrent requests.
func (h *HeadEnd) MaxInFlight() int {
	return int(h.maxInFlight.Load())
}

func (h *HeadEnd) serve(w http.ResponseWriter, r *http.Request) {
	cur := h.inFlight.Add(1)
	defer h.inFlight.Add(-1)
	for {
		prev := h.maxInFlight.Load()
		if cur <= prev || h.maxInFlight.CompareAndSwap(prev, cur) {
			break
		}
	}

	if u, p, ok := r.BasicAuth(); !ok || u != h.user || p != h.pass {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	channel, _ := strconv.Atoi(r.URL.Query().Get("channel"))

	h.mu.Lock()
	h.requests[channel]++
	resp, configured := h.responses[channel]
	gate := h.gate
	h.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
	}

	if !configured {
		resp = SnapshotResponse{Status: http.StatusOK, Body: SampleJPEG(8, 8, channel)}
	}
	if resp.Hang {
		<-r.Context().Done()
		return
	}
	if resp.Delay > 0 {
		select {
		case <-time.After(resp.Delay):
		case <-r.Context().Done():
			return
		}
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}
