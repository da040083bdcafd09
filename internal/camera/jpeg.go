package camera

import "bytes"

var (
	soi = []byte{0xFF, 0xD8}
	eoi = []byte{0xFF, 0xD9}
)

// minJPEGSize is the smallest payload accepted as a frame.
const minJPEGSize = 10

// ValidJPEG reports whether b looks like a complete JPEG: longer than ten
// bytes, starting with SOI and ending with EOI.
func ValidJPEG(b []byte) bool {
	return len(b) > minJPEGSize && bytes.HasPrefix(b, soi) && bytes.HasSuffix(b, eoi)
}

// NextFrame scans buf for an SOI marker followed by an EOI marker. When both
// are present it returns a copy of the frame and the remainder of buf after
// the EOI. Bytes before the SOI are discarded. When no complete frame is
// present, ok is false and rest is buf trimmed to start at the last SOI
// (or left intact if no SOI was seen).
func NextFrame(buf []byte) (frame, rest []byte, ok bool) {
	start := bytes.Index(buf, soi)
	if start < 0 {
		// Keep a trailing 0xFF in case the marker straddles two reads.
		if n := len(buf); n > 0 && buf[n-1] == 0xFF {
			return nil, buf[n-1:], false
		}
		return nil, buf[:0], false
	}
	end := bytes.Index(buf[start+len(soi):], eoi)
	if end < 0 {
		return nil, buf[start:], false
	}
	end += start + len(soi) + len(eoi)

	frame = make([]byte, end-start)
	copy(frame, buf[start:end])
	return frame, buf[end:], true
}
