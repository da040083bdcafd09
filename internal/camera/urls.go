package camera

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const videoCGIPath = "/cgi-bin/guest/Video.cgi"

// Endpoints builds head-end URLs relative to a base such as
// "http://192.168.0.98:18080".
type Endpoints struct {
	base string
}

// NewEndpoints validates base and returns an Endpoints builder.
func NewEndpoints(base string) (*Endpoints, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parsing camera base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("camera base url must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("camera base url %q has no host", base)
	}
	return &Endpoints{base: strings.TrimRight(base, "/")}, nil
}

// Base returns the normalised base URL.
func (e *Endpoints) Base() string {
	return e.base
}

// Snapshot returns the single-JPEG URL for a channel.
func (e *Endpoints) Snapshot(ch ChannelID) string {
	return e.channelURL("JPEG", ch)
}

// ChannelStream returns the per-channel MJPEG URL.
func (e *Endpoints) ChannelStream(ch ChannelID) string {
	return e.channelURL("MJPEG", ch)
}

// MainStream returns the primary MJPEG URL. The nocache parameter defeats
// intermediate caches on the head-end.
func (e *Endpoints) MainStream(now time.Time) string {
	q := url.Values{}
	q.Set("media", "MJPEG")
	q.Set("live", "1")
	q.Set("realtime", "1")
	q.Set("nocache", strconv.FormatInt(now.Unix(), 10))
	return e.base + videoCGIPath + "?" + q.Encode()
}

func (e *Endpoints) channelURL(media string, ch ChannelID) string {
	// Parameter order matches what the head-end firmware expects.
	return fmt.Sprintf("%s%s?media=%s&channel=%d&resolution=1&live=1&realtime=1",
		e.base, videoCGIPath, media, int(ch))
}
