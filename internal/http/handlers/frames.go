package handlers

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/camgate/internal/camera"
	"github.com/jmylchreest/camgate/internal/detector"
	"github.com/jmylchreest/camgate/internal/orchestrator"
	"github.com/jmylchreest/camgate/internal/viewstate"
)

// FrameSource serves multi-channel fetch requests.
type FrameSource interface {
	FetchMany(ctx context.Context, req orchestrator.Request) orchestrator.Response
}

// ChannelSelector records the channel shown in single view.
type ChannelSelector interface {
	SelectChannel(ch camera.ChannelID) (viewstate.State, error)
}

// FramesHandler serves snapshot batches for the grid, cycle and single views.
type FramesHandler struct {
	source   FrameSource
	selector ChannelSelector
	logger   *slog.Logger
}

// NewFramesHandler creates a frames handler.
func NewFramesHandler(source FrameSource, selector ChannelSelector) *FramesHandler {
	return &FramesHandler{source: source, selector: selector, logger: slog.Default()}
}

// WithLogger sets the logger.
func (h *FramesHandler) WithLogger(logger *slog.Logger) *FramesHandler {
	h.logger = logger
	return h
}

// Register registers the frames route with the API.
func (h *FramesHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getMultiFrames",
		Method:      http.MethodGet,
		Path:        "/get_multi_frames/{n}",
		Summary:     "Get snapshots for several channels",
		Description: "Serves one channel (n=1 with channel), an explicit list (channels) or the first n channels. " +
			"Channels that are backed off or fail are omitted.",
		Tags: []string{"Frames"},
	}, h.GetMultiFrames)
}

// MultiFramesInput is the input for a snapshot batch.
type MultiFramesInput struct {
	N        int    `path:"n" minimum:"1" doc:"Number of channels"`
	Channel  string `query:"channel" doc:"Single channel, used when n is 1"`
	Channels string `query:"channels" doc:"Comma separated channel list, e.g. 2,3,4,7,11,14"`

	// withDetections is set when the dets query parameter is present,
	// with or without a value.
	withDetections bool
}

// Resolve reads the dets presence flag.
func (i *MultiFramesInput) Resolve(ctx huma.Context) []error {
	u := ctx.URL()
	_, i.withDetections = u.Query()["dets"]
	return nil
}

// MultiFramesBody is the snapshot batch envelope.
type MultiFramesBody struct {
	Success       bool                 `json:"success"`
	Error         string               `json:"error,omitempty"`
	Frames        map[string]string    `json:"frames" doc:"Base64 JPEG keyed by channel number"`
	Channels      []int                `json:"channels"`
	TotalChannels int                  `json:"total_channels"`
	IsCombined    bool                 `json:"is_combined"`
	Detections    []detector.Detection `json:"detections"`
}

// MultiFramesOutput is the output for a snapshot batch.
type MultiFramesOutput struct {
	Body MultiFramesBody
}

// GetMultiFrames fetches a batch of channels. Zero frames is reported as
// success false rather than an HTTP error.
func (h *FramesHandler) GetMultiFrames(ctx context.Context, input *MultiFramesInput) (*MultiFramesOutput, error) {
	req := orchestrator.Request{WithDetection: input.withDetections}
	single := false

	switch {
	case input.N == 1 && input.Channel != "":
		ch, err := camera.ParseChannel(input.Channel)
		if err != nil {
			return nil, huma.Error400BadRequest(err.Error())
		}
		if h.selector != nil {
			if _, err := h.selector.SelectChannel(ch); err != nil {
				return nil, huma.Error400BadRequest(err.Error())
			}
		}
		req.Channels = []camera.ChannelID{ch}
		req.Intent = orchestrator.IntentInteractive
		single = true
	case input.Channels != "":
		list, err := camera.ParseChannelList(input.Channels)
		if err != nil {
			return nil, huma.Error400BadRequest(err.Error())
		}
		if len(list) == 0 {
			return nil, huma.Error400BadRequest("channels must name at least one channel")
		}
		req.Channels = list
		req.Intent = orchestrator.IntentCycle
	default:
		req.Channels = camera.FirstN(input.N)
		req.Intent = orchestrator.IntentGrid
	}

	resp := h.source.FetchMany(ctx, req)

	body := MultiFramesBody{
		Frames:     make(map[string]string, len(resp.Frames)),
		Channels:   make([]int, 0, len(resp.Frames)),
		Detections: []detector.Detection{},
	}
	for ch, data := range resp.Frames {
		body.Frames[strconv.Itoa(int(ch))] = base64.StdEncoding.EncodeToString(data)
		body.Channels = append(body.Channels, int(ch))
	}
	slices.Sort(body.Channels)
	body.TotalChannels = len(body.Channels)

	if single && input.withDetections {
		if dets := resp.Detections[req.Channels[0]]; len(dets) > 0 {
			body.Detections = dets
		}
	}

	if body.TotalChannels == 0 {
		body.Error = fmt.Sprintf("no frames from %d requested channels", len(req.Channels))
		h.logger.Debug("batch produced no frames",
			slog.String("campaign", resp.Campaign),
			slog.String("intent", req.Intent.String()),
			slog.Int("requested", len(req.Channels)),
		)
		return &MultiFramesOutput{Body: body}, nil
	}

	body.Success = true
	return &MultiFramesOutput{Body: body}, nil
}
