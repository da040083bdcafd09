package handlers

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	"github.com/jmylchreest/camgate/internal/camera"
	"github.com/jmylchreest/camgate/internal/detector"
)

const (
	proxyChunkSize     = 4096
	defaultMJPEGHeader = "multipart/x-mixed-replace; boundary=--myboundary"
)

// StreamControl is the main stream and session surface of the gateway.
type StreamControl interface {
	StartStream() bool
	StopStream()
	Relogin()
	MainFrame() ([]byte, []detector.Detection, bool)
	OpenChannelStream(ctx context.Context, ch camera.ChannelID) (*http.Response, error)
}

// StreamHandler serves the main stream lifecycle, the latest main frame
// and raw per-channel MJPEG pass-through.
type StreamHandler struct {
	gateway StreamControl
	logger  *slog.Logger
}

// NewStreamHandler creates a stream handler.
func NewStreamHandler(gateway StreamControl) *StreamHandler {
	return &StreamHandler{gateway: gateway, logger: slog.Default()}
}

// WithLogger sets the logger.
func (h *StreamHandler) WithLogger(logger *slog.Logger) *StreamHandler {
	h.logger = logger
	return h
}

// Register registers the JSON stream routes with the API.
func (h *StreamHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "startStream",
		Method:      http.MethodPost,
		Path:        "/start_stream",
		Summary:     "Start the main stream",
		Description: "Starts reading the main MJPEG stream. A healthy running stream is left alone; a stalled one is restarted on a fresh session.",
		Tags:        []string{"Stream"},
	}, h.StartStream)

	huma.Register(api, huma.Operation{
		OperationID: "stopStream",
		Method:      http.MethodPost,
		Path:        "/stop_stream",
		Summary:     "Stop the main stream",
		Tags:        []string{"Stream"},
	}, h.StopStream)

	huma.Register(api, huma.Operation{
		OperationID: "getFrame",
		Method:      http.MethodGet,
		Path:        "/get_frame",
		Summary:     "Get the latest main stream frame",
		Tags:        []string{"Stream"},
	}, h.GetFrame)

	huma.Register(api, huma.Operation{
		OperationID: "relogin",
		Method:      http.MethodPost,
		Path:        "/relogin",
		Summary:     "Reset the head-end session",
		Tags:        []string{"Stream"},
	}, h.Relogin)
}

// RegisterProxy registers the raw MJPEG pass-through on the router. It is
// not a huma operation because the body is an unbounded byte stream.
func (h *StreamHandler) RegisterProxy(router chi.Router) {
	router.Get("/single_stream", h.ServeSingleStream)
}

// EmptyInput is the input for endpoints without parameters.
type EmptyInput struct{}

// SuccessOutput is the bare success envelope.
type SuccessOutput struct {
	Body struct {
		Success bool `json:"success"`
	}
}

// FrameOutput carries the latest main frame.
type FrameOutput struct {
	Body struct {
		Success    bool                 `json:"success"`
		Frame      string               `json:"frame,omitempty" doc:"Base64 JPEG"`
		Detections []detector.Detection `json:"detections"`
	}
}

// StartStream starts the main stream. Success is true whether a new
// reader was started or a healthy one was already running.
func (h *StreamHandler) StartStream(_ context.Context, _ *EmptyInput) (*SuccessOutput, error) {
	started := h.gateway.StartStream()
	h.logger.Info("start stream requested", slog.Bool("started", started))

	out := &SuccessOutput{}
	out.Body.Success = true
	return out, nil
}

// StopStream stops the main stream.
func (h *StreamHandler) StopStream(_ context.Context, _ *EmptyInput) (*SuccessOutput, error) {
	h.gateway.StopStream()

	out := &SuccessOutput{}
	out.Body.Success = true
	return out, nil
}

// GetFrame returns the latest main frame, or success false when none is cached.
func (h *StreamHandler) GetFrame(_ context.Context, _ *EmptyInput) (*FrameOutput, error) {
	out := &FrameOutput{}
	data, dets, ok := h.gateway.MainFrame()
	if !ok {
		return out, nil
	}
	out.Body.Success = true
	out.Body.Frame = base64.StdEncoding.EncodeToString(data)
	out.Body.Detections = dets
	if out.Body.Detections == nil {
		out.Body.Detections = []detector.Detection{}
	}
	return out, nil
}

// Relogin resets the head-end session.
func (h *StreamHandler) Relogin(_ context.Context, _ *EmptyInput) (*SuccessOutput, error) {
	h.gateway.Relogin()

	out := &SuccessOutput{}
	out.Body.Success = true
	return out, nil
}

// ServeSingleStream proxies one channel's MJPEG stream byte for byte until
// the client or the head-end goes away.
func (h *StreamHandler) ServeSingleStream(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("channel")
	if q == "" {
		q = "1"
	}
	ch, err := camera.ParseChannel(q)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	logger := h.logger.With(slog.String("channel", ch.String()))

	resp, err := h.gateway.OpenChannelStream(r.Context(), ch)
	if err != nil {
		logger.Warn("opening channel stream failed", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		logger.Warn("channel stream refused", slog.Int("status", resp.StatusCode))
		w.WriteHeader(http.StatusBadGateway)
		return
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "multipart/") {
		contentType = defaultMJPEGHeader
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	buf := make([]byte, proxyChunkSize)
	var written int64
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				logger.Debug("client went away", slog.Int64("bytes", written))
				return
			}
			written += int64(n)
			_ = rc.Flush()
		}
		if readErr != nil {
			if !errors.Is(readErr, io.EOF) && r.Context().Err() == nil {
				logger.Warn("channel stream ended", slog.String("error", readErr.Error()))
			}
			return
		}
	}
}
