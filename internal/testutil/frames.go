package testutil

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
)

// SampleJPEG encodes a w x h JPEG filled with a colour derived from seed so
// that frames for different channels differ byte-wise.
func SampleJPEG(w, h int, seed int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	c := color.RGBA{R: uint8(seed * 37), G: uint8(seed * 91), B: uint8(seed * 13), A: 255}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 75}); err != nil {
		panic(fmt.Sprintf("encoding sample jpeg: %v", err))
	}
	return buf.Bytes()
}

// TinyJPEG returns a syntactically framed payload (SOI ... EOI) that passes
// length and marker validation without being decodable.
func TinyJPEG(tag byte) []byte {
	return []byte{0xFF, 0xD8, 0xFF, 0xE0, tag, tag, tag, tag, tag, tag, tag, 0xFF, 0xD9}
}

// MJPEGPart wraps a frame as one part of a multipart/x-mixed-replace body.
func MJPEGPart(boundary string, frame []byte) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", boundary, len(frame))
	buf.Write(frame)
	buf.WriteString("\r\n")
	return buf.Bytes()
}
