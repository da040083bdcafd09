package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/camgate/internal/camera"
	"github.com/jmylchreest/camgate/internal/viewstate"
)

// ViewMode is the wire form of a display mode: the integers 1, 4, 9 and 16
// for single and grid views, or the strings "cycle" and "cycle_expanded".
type ViewMode struct {
	Mode viewstate.Mode
}

// MarshalJSON encodes grid views as numbers and cycle views as strings.
func (v ViewMode) MarshalJSON() ([]byte, error) {
	if n := v.Mode.GridSize(); n > 0 {
		return json.Marshal(n)
	}
	return json.Marshal(v.Mode.Token())
}

// UnmarshalJSON accepts either form. Numeric strings such as "4" are
// accepted too.
func (v *ViewMode) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		m, err := viewstate.ParseMode(s)
		if err != nil {
			return err
		}
		v.Mode = m
		return nil
	}

	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("%w: %s", viewstate.ErrInvalidMode, data)
	}
	m, err := viewstate.GridMode(n)
	if err != nil {
		return err
	}
	v.Mode = m
	return nil
}

// Schema describes ViewMode as integer-or-string for the OpenAPI document.
func (ViewMode) Schema(huma.Registry) *huma.Schema {
	return &huma.Schema{
		Description: "1, 4, 9 or 16 for single and grid views; \"cycle\" or \"cycle_expanded\"",
		OneOf: []*huma.Schema{
			{Type: huma.TypeInteger},
			{Type: huma.TypeString},
		},
	}
}

// UIState is the browser's view of the display state.
type UIState struct {
	ViewMode          ViewMode `json:"view_mode"`
	SingleChannelMode bool     `json:"single_channel_mode"`
	SelectedChannel   int      `json:"selected_channel"`
	IsCycling         bool     `json:"is_cycling"`
	CycleIndex        int      `json:"cycle_index" doc:"Current cycle group (0 = A, 1 = B)"`
}

// UIStateRequest is the body of set_ui_state. It describes the complete
// next state: absent fields take their defaults, never the current value.
type UIStateRequest struct {
	ViewMode          *ViewMode `json:"view_mode,omitempty"`
	SingleChannelMode *bool     `json:"single_channel_mode,omitempty"`
	SelectedChannel   *int      `json:"selected_channel,omitempty"`
	IsCycling         *bool     `json:"is_cycling,omitempty"`
}

func uiFromState(s viewstate.State) UIState {
	return UIState{
		ViewMode:          ViewMode{Mode: s.Mode},
		SingleChannelMode: s.Mode == viewstate.ModeSingle,
		SelectedChannel:   int(s.SelectedChannel),
		IsCycling:         s.Mode.Cycling(),
		CycleIndex:        s.CycleIndex,
	}
}

// uiState builds the requested state on top of the defaults. The flags
// default to what view_mode implies; flags given explicitly win.
func (r UIStateRequest) uiState() UIState {
	next := uiFromState(viewstate.DefaultState())
	if r.ViewMode != nil {
		next.ViewMode = *r.ViewMode
		next.SingleChannelMode = r.ViewMode.Mode == viewstate.ModeSingle
		next.IsCycling = r.ViewMode.Mode.Cycling()
	}
	if r.SingleChannelMode != nil {
		next.SingleChannelMode = *r.SingleChannelMode
	}
	if r.IsCycling != nil {
		next.IsCycling = *r.IsCycling
	}
	if r.SelectedChannel != nil {
		next.SelectedChannel = *r.SelectedChannel
	}
	return next
}

// state resolves the flags into a single mode. Cycling wins over single
// view, which wins over the grid size.
func (u UIState) state() viewstate.State {
	s := viewstate.State{SelectedChannel: camera.ChannelID(u.SelectedChannel)}
	switch {
	case u.IsCycling && u.ViewMode.Mode == viewstate.ModeCycleExpanded:
		s.Mode = viewstate.ModeCycleExpanded
	case u.IsCycling:
		s.Mode = viewstate.ModeCycle
	case u.SingleChannelMode, u.ViewMode.Mode.Cycling():
		s.Mode = viewstate.ModeSingle
	default:
		s.Mode = u.ViewMode.Mode
	}
	return s
}
