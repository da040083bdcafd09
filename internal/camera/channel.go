// Package camera describes the head-end's channel space, its CGI endpoints,
// and the JPEG framing rules shared by the snapshot and stream readers.
package camera

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// MaxChannels is the number of snapshot channels on the head-end.
const MaxChannels = 16

// ChannelID identifies a camera channel. Valid snapshot channels are 1..16;
// MainChannel is the sentinel used for the primary MJPEG stream.
type ChannelID int

// MainChannel is the cache key for frames demuxed from the primary stream.
const MainChannel ChannelID = 0

// ErrInvalidChannel is returned when a channel number is outside 1..16.
var ErrInvalidChannel = errors.New("invalid channel")

// String returns "main" for MainChannel and the decimal channel number otherwise.
func (c ChannelID) String() string {
	if c == MainChannel {
		return "main"
	}
	return strconv.Itoa(int(c))
}

// Valid reports whether c is a fetchable snapshot channel.
func (c ChannelID) Valid() bool {
	return c >= 1 && c <= MaxChannels
}

// ParseChannel parses a single channel number.
func ParseChannel(s string) (ChannelID, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidChannel, s)
	}
	ch := ChannelID(n)
	if !ch.Valid() {
		return 0, fmt.Errorf("%w: %d", ErrInvalidChannel, n)
	}
	return ch, nil
}

// ParseChannelList parses a comma separated channel list such as "2,3,4".
// Empty items are skipped and duplicates are dropped, keeping first-seen order.
func ParseChannelList(s string) ([]ChannelID, error) {
	parts := strings.Split(s, ",")
	out := make([]ChannelID, 0, len(parts))
	seen := make(map[ChannelID]struct{}, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			continue
		}
		ch, err := ParseChannel(p)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[ch]; dup {
			continue
		}
		seen[ch] = struct{}{}
		out = append(out, ch)
	}
	return out, nil
}

// FirstN returns channels 1..n, clamped to MaxChannels.
func FirstN(n int) []ChannelID {
	if n > MaxChannels {
		n = MaxChannels
	}
	if n < 0 {
		n = 0
	}
	out := make([]ChannelID, n)
	for i := range out {
		out[i] = ChannelID(i + 1)
	}
	return out
}
