// Package detector talks to an external object detection service and
// draws its results onto JPEG frames.
package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jmylchreest/camgate/pkg/httpclient"
)

// ErrUnavailable is returned while the detection service is considered down.
var ErrUnavailable = errors.New("detector unavailable")

// Box is an axis-aligned bounding box in pixel coordinates.
type Box struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Detection is one object found in a frame.
type Detection struct {
	ClassID    int     `json:"class_id"`
	ClassName  string  `json:"class_name"`
	Confidence float64 `json:"confidence"`
	Box        Box     `json:"bbox"`
}

// Detector finds objects in an encoded image.
type Detector interface {
	Detect(ctx context.Context, jpegData []byte) ([]Detection, error)
}

// wireDetection is the service's JSON shape for one detection.
type wireDetection struct {
	Class      string    `json:"class"`
	ClassID    int       `json:"class_id"`
	Confidence float32   `json:"confidence"`
	BBox       []float32 `json:"bbox"` // [x1, y1, x2, y2]
}

type wireResult struct {
	Detections      []wireDetection `json:"detections"`
	Count           int             `json:"count"`
	InferenceTimeMs float32         `json:"inference_time_ms"`
}

// ClientConfig configures the HTTP detection client.
type ClientConfig struct {
	Endpoint string
	Timeout  time.Duration
	// ConfThreshold is sent to the service as the lowest confidence it
	// should report. Per-class filtering happens locally.
	ConfThreshold float64
	Logger        *slog.Logger
	// HTTPClient replaces the underlying client, mainly for tests.
	HTTPClient *http.Client
}

// Client calls a YOLO-style service: multipart POST of the frame to
// {endpoint}/detect, JSON detections back.
type Client struct {
	endpoint  string
	threshold float64
	http      *httpclient.Client
	logger    *slog.Logger
}

// NewClient creates a detection client. The circuit breaker opens after
// three consecutive failures and tries again after 30 seconds.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("detector endpoint is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	hc := httpclient.DefaultConfig()
	hc.Timeout = cfg.Timeout
	hc.CircuitThreshold = 3
	hc.Logger = cfg.Logger
	hc.BaseClient = cfg.HTTPClient
	if hc.BaseClient == nil {
		hc.BaseClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		endpoint:  strings.TrimRight(cfg.Endpoint, "/"),
		threshold: cfg.ConfThreshold,
		http:      httpclient.New(hc),
		logger:    cfg.Logger.With(slog.String("component", "detector")),
	}, nil
}

// CircuitState reports the state of the client's circuit breaker.
func (c *Client) CircuitState() httpclient.CircuitState {
	return c.http.CircuitState()
}

// Detect sends jpegData to the service and returns every detection it reports.
func (c *Client) Detect(ctx context.Context, jpegData []byte) ([]Detection, error) {
	var b bytes.Buffer
	w := multipart.NewWriter(&b)

	fw, err := w.CreateFormFile("file", "frame.jpg")
	if err != nil {
		return nil, fmt.Errorf("creating form file: %w", err)
	}
	if _, err := fw.Write(jpegData); err != nil {
		return nil, fmt.Errorf("writing form file: %w", err)
	}
	if c.threshold > 0 {
		if err := w.WriteField("conf_threshold", strconv.FormatFloat(c.threshold, 'f', 3, 64)); err != nil {
			return nil, fmt.Errorf("writing conf_threshold: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("closing multipart writer: %w", err)
	}

	body := b.Bytes()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/detect", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, httpclient.ErrCircuitOpen) {
			return nil, ErrUnavailable
		}
		return nil, fmt.Errorf("calling detector: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("detector returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var result wireResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding detector response: %w", err)
	}

	out := make([]Detection, 0, len(result.Detections))
	for _, d := range result.Detections {
		if len(d.BBox) < 4 {
			continue
		}
		out = append(out, Detection{
			ClassID:    d.ClassID,
			ClassName:  d.Class,
			Confidence: float64(d.Confidence),
			Box: Box{
				X1: float64(d.BBox[0]),
				Y1: float64(d.BBox[1]),
				X2: float64(d.BBox[2]),
				Y2: float64(d.BBox[3]),
			},
		})
	}

	c.logger.Debug("detection completed",
		slog.Int("count", len(out)),
		slog.Float64("inference_ms", float64(result.InferenceTimeMs)),
	)
	return out, nil
}

var _ Detector = (*Client)(nil)
