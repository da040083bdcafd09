package camera

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jpegOf(payload ...byte) []byte {
	b := []byte{0xFF, 0xD8}
	b = append(b, payload...)
	return append(b, 0xFF, 0xD9)
}

func TestChannelID_String(t *testing.T) {
	assert.Equal(t, "main", MainChannel.String())
	assert.Equal(t, "7", ChannelID(7).String())
}

func TestParseChannel(t *testing.T) {
	tests := []struct {
		in      string
		want    ChannelID
		wantErr bool
	}{
		{"1", 1, false},
		{" 16 ", 16, false},
		{"0", 0, true},
		{"17", 0, true},
		{"abc", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseChannel(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidChannel)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseChannelList(t *testing.T) {
	t.Run("keeps order and drops duplicates", func(t *testing.T) {
		got, err := ParseChannelList("2,3,,4,3,14")
		require.NoError(t, err)
		assert.Equal(t, []ChannelID{2, 3, 4, 14}, got)
	})

	t.Run("rejects out of range", func(t *testing.T) {
		_, err := ParseChannelList("2,99")
		assert.ErrorIs(t, err, ErrInvalidChannel)
	})
}

func TestFirstN(t *testing.T) {
	assert.Equal(t, []ChannelID{1, 2, 3, 4}, FirstN(4))
	assert.Len(t, FirstN(40), MaxChannels)
	assert.Empty(t, FirstN(-1))
}

func TestEndpoints(t *testing.T) {
	e, err := NewEndpoints("http://192.168.0.98:18080/")
	require.NoError(t, err)

	assert.Equal(t,
		"http://192.168.0.98:18080/cgi-bin/guest/Video.cgi?media=JPEG&channel=7&resolution=1&live=1&realtime=1",
		e.Snapshot(7))
	assert.Equal(t,
		"http://192.168.0.98:18080/cgi-bin/guest/Video.cgi?media=MJPEG&channel=3&resolution=1&live=1&realtime=1",
		e.ChannelStream(3))

	mainURL := e.MainStream(time.Unix(1700000000, 0))
	assert.Contains(t, mainURL, "media=MJPEG")
	assert.Contains(t, mainURL, "nocache=1700000000")
	assert.NotContains(t, mainURL, "channel=")

	_, err = NewEndpoints("ftp://example")
	assert.Error(t, err)
	_, err = NewEndpoints("http://")
	assert.Error(t, err)
}

func TestValidJPEG(t *testing.T) {
	assert.True(t, ValidJPEG(jpegOf(1, 2, 3, 4, 5, 6, 7)))
	assert.False(t, ValidJPEG(jpegOf(1)), "too short")
	assert.False(t, ValidJPEG([]byte("<html>service unavailable</html>")))

	truncated := jpegOf(1, 2, 3, 4, 5, 6, 7, 8, 9)
	assert.False(t, ValidJPEG(truncated[:len(truncated)-1]))
}

func TestNextFrame(t *testing.T) {
	t.Run("extracts consecutive frames", func(t *testing.T) {
		a := jpegOf(0x01, 0x02)
		b := jpegOf(0x03)
		buf := append([]byte("--boundary\r\n"), a...)
		buf = append(buf, []byte("\r\n--boundary\r\n")...)
		buf = append(buf, b...)

		frame, rest, ok := NextFrame(buf)
		require.True(t, ok)
		assert.Equal(t, a, frame)

		frame, rest, ok = NextFrame(rest)
		require.True(t, ok)
		assert.Equal(t, b, frame)

		_, _, ok = NextFrame(rest)
		assert.False(t, ok)
	})

	t.Run("keeps partial frame", func(t *testing.T) {
		buf := append([]byte("junk"), 0xFF, 0xD8, 0x01, 0x02)
		_, rest, ok := NextFrame(buf)
		assert.False(t, ok)
		assert.Equal(t, []byte{0xFF, 0xD8, 0x01, 0x02}, rest)
	})

	t.Run("keeps split marker", func(t *testing.T) {
		_, rest, ok := NextFrame([]byte{0x00, 0x00, 0xFF})
		assert.False(t, ok)
		assert.Equal(t, []byte{0xFF}, rest)
	})

	t.Run("frame is a copy", func(t *testing.T) {
		buf := jpegOf(0x10)
		frame, _, ok := NextFrame(buf)
		require.True(t, ok)
		buf[2] = 0x99
		assert.Equal(t, byte(0x10), frame[2])
	})
}
