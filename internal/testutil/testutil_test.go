package testutil

import (
	"bytes"
	"image/jpeg"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClock(t *testing.T) {
	c := NewClock()
	start := c.Now()
	c.Advance(3 * time.Second)
	assert.Equal(t, 3*time.Second, c.Now().Sub(start))
}

func TestSampleJPEG_Decodes(t *testing.T) {
	b := SampleJPEG(16, 8, 3)
	img, err := jpeg.Decode(bytes.NewReader(b))
	require.NoError(t, err)
	assert.Equal(t, 16, img.Bounds().Dx())
	assert.NotEqual(t, b, SampleJPEG(16, 8, 4))
}

func TestHeadEnd(t *testing.T) {
	h := NewHeadEnd("admin", "admin")
	defer h.Close()
	h.Set(7, SnapshotResponse{Status: http.StatusServiceUnavailable})

	get := func(channel string, auth bool) *http.Response {
		req, err := http.NewRequest(http.MethodGet, h.URL()+"/cgi-bin/guest/Video.cgi?media=JPEG&channel="+channel, nil)
		require.NoError(t, err)
		if auth {
			req.SetBasicAuth("admin", "admin")
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		return resp
	}

	resp := get("2", false)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = get("2", true)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []byte{0xFF, 0xD8}, body[:2])

	resp = get("7", true)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	assert.Equal(t, 1, h.Requests(2))
	assert.Equal(t, 1, h.Requests(7))
	assert.Equal(t, 2, h.TotalRequests())
	assert.GreaterOrEqual(t, h.MaxInFlight(), 1)
}
