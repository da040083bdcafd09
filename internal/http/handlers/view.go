package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/camgate/internal/camera"
	"github.com/jmylchreest/camgate/internal/viewstate"
)

// ViewController is the part of the view state controller the handlers use.
type ViewController interface {
	Get() viewstate.State
	Replace(next viewstate.State) (viewstate.State, error)
	ChangeView(m viewstate.Mode) viewstate.State
}

// ViewHandler serves the UI state and view mode endpoints.
type ViewHandler struct {
	view   ViewController
	logger *slog.Logger
}

// NewViewHandler creates a view handler.
func NewViewHandler(view ViewController) *ViewHandler {
	return &ViewHandler{view: view, logger: slog.Default()}
}

// WithLogger sets the logger.
func (h *ViewHandler) WithLogger(logger *slog.Logger) *ViewHandler {
	h.logger = logger
	return h
}

// Register registers the view routes with the API.
func (h *ViewHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getUIState",
		Method:      http.MethodGet,
		Path:        "/get_ui_state",
		Summary:     "Get UI state",
		Tags:        []string{"View"},
	}, h.GetUIState)

	huma.Register(api, huma.Operation{
		OperationID: "setUIState",
		Method:      http.MethodPost,
		Path:        "/set_ui_state",
		Summary:     "Update UI state",
		Description: "Replaces the view state with the given fields; absent fields keep their current value",
		Tags:        []string{"View"},
	}, h.SetUIState)

	huma.Register(api, huma.Operation{
		OperationID: "changeView",
		Method:      http.MethodPost,
		Path:        "/change_view/{mode}",
		Summary:     "Change view mode",
		Description: "Interrupts the current fetch campaign and switches the display mode",
		Tags:        []string{"View"},
	}, h.ChangeView)
}

// GetUIStateInput is the input for reading the UI state.
type GetUIStateInput struct{}

// UIStateOutput wraps the UI state in the success envelope.
type UIStateOutput struct {
	Body struct {
		Success bool    `json:"success"`
		UIState UIState `json:"ui_state"`
	}
}

// SetUIStateInput is the input for updating the UI state.
type SetUIStateInput struct {
	Body UIStateRequest
}

// ChangeViewInput is the input for changing the view mode.
type ChangeViewInput struct {
	Mode string `path:"mode" doc:"1, 4, 9, 16, cycle or cycle_expanded"`
}

// ChangeViewOutput reports the new mode.
type ChangeViewOutput struct {
	Body struct {
		Success  bool     `json:"success"`
		ViewMode ViewMode `json:"view_mode"`
		ViewName string   `json:"view_name"`
		Message  string   `json:"message"`
	}
}

// GetUIState returns the current UI state.
func (h *ViewHandler) GetUIState(_ context.Context, _ *GetUIStateInput) (*UIStateOutput, error) {
	out := &UIStateOutput{}
	out.Body.Success = true
	out.Body.UIState = uiFromState(h.view.Get())
	return out, nil
}

// SetUIState replaces the view state with the one described by the request.
func (h *ViewHandler) SetUIState(_ context.Context, input *SetUIStateInput) (*UIStateOutput, error) {
	next := input.Body.uiState()

	s, err := h.view.Replace(next.state())
	if err != nil {
		if errors.Is(err, camera.ErrInvalidChannel) {
			return nil, huma.Error400BadRequest(fmt.Sprintf("invalid selected_channel %d", next.SelectedChannel))
		}
		return nil, huma.Error500InternalServerError("updating ui state", err)
	}

	h.logger.Debug("ui state updated",
		slog.String("mode", s.Mode.String()),
		slog.Int("selected_channel", int(s.SelectedChannel)),
	)

	out := &UIStateOutput{}
	out.Body.Success = true
	out.Body.UIState = uiFromState(s)
	return out, nil
}

// ChangeView interrupts the current campaign and switches to the requested
// mode.
func (h *ViewHandler) ChangeView(_ context.Context, input *ChangeViewInput) (*ChangeViewOutput, error) {
	m, err := viewstate.ParseMode(input.Mode)
	if err != nil {
		return nil, huma.Error400BadRequest(err.Error())
	}

	s := h.view.ChangeView(m)

	out := &ChangeViewOutput{}
	out.Body.Success = true
	out.Body.ViewMode = ViewMode{Mode: s.Mode}
	out.Body.ViewName = s.Mode.Name()
	out.Body.Message = fmt.Sprintf("view changed to %s", s.Mode.Name())
	return out, nil
}
