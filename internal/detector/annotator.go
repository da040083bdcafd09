package detector

import (
	"context"
	"fmt"
	"log/slog"
)

// Annotator runs detection on a frame and draws the filtered results.
type Annotator struct {
	detector Detector
	filter   *Filter
	quality  int
	logger   *slog.Logger
}

// NewAnnotator wraps d with class filtering and overlay drawing.
func NewAnnotator(d Detector, f *Filter, quality int) *Annotator {
	return &Annotator{
		detector: d,
		filter:   f,
		quality:  quality,
		logger:   slog.Default(),
	}
}

// WithLogger sets the logger.
func (a *Annotator) WithLogger(logger *slog.Logger) *Annotator {
	a.logger = logger
	return a
}

// Annotate returns the frame with overlays and the detections drawn on it.
// When nothing passes the filter the original bytes are returned unchanged.
// On error the caller should fall back to the raw frame.
func (a *Annotator) Annotate(ctx context.Context, jpegData []byte) ([]byte, []Detection, error) {
	dets, err := a.detector.Detect(ctx, jpegData)
	if err != nil {
		return nil, nil, err
	}
	if a.filter != nil {
		dets = a.filter.Apply(dets)
	}
	if len(dets) == 0 {
		return jpegData, dets, nil
	}

	out, err := DrawOverlays(jpegData, dets, a.quality)
	if err != nil {
		return nil, nil, fmt.Errorf("drawing overlays: %w", err)
	}
	a.logger.Debug("frame annotated", slog.Int("detections", len(dets)))
	return out, dets, nil
}
