// Package viewstate holds the display mode state machine and the single
// acquisition loop that follows it.
package viewstate

import (
	"errors"
	"fmt"
	"strings"
)

// Mode is the display arrangement.
type Mode int

const (
	ModeSingle Mode = iota
	ModeGrid4
	ModeGrid9
	ModeGrid16
	ModeCycle
	ModeCycleExpanded
)

// ErrInvalidMode is returned for unknown mode tokens or grid sizes.
var ErrInvalidMode = errors.New("invalid view mode")

// ParseMode accepts the tokens used on the wire: "1", "4", "9", "16",
// "cycle" and "cycle_expanded".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "single":
		return ModeSingle, nil
	case "4":
		return ModeGrid4, nil
	case "9":
		return ModeGrid9, nil
	case "16":
		return ModeGrid16, nil
	case "cycle":
		return ModeCycle, nil
	case "cycle_expanded":
		return ModeCycleExpanded, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
}

// GridMode returns the mode for an n-up grid; n == 1 is single view.
func GridMode(n int) (Mode, error) {
	switch n {
	case 1:
		return ModeSingle, nil
	case 4:
		return ModeGrid4, nil
	case 9:
		return ModeGrid9, nil
	case 16:
		return ModeGrid16, nil
	default:
		return 0, fmt.Errorf("%w: grid of %d", ErrInvalidMode, n)
	}
}

// Token is the wire form accepted by ParseMode.
func (m Mode) Token() string {
	switch m {
	case ModeSingle:
		return "1"
	case ModeGrid4:
		return "4"
	case ModeGrid9:
		return "9"
	case ModeGrid16:
		return "16"
	case ModeCycle:
		return "cycle"
	case ModeCycleExpanded:
		return "cycle_expanded"
	default:
		return "unknown"
	}
}

func (m Mode) String() string {
	switch m {
	case ModeSingle:
		return "single"
	case ModeGrid4:
		return "grid4"
	case ModeGrid9:
		return "grid9"
	case ModeGrid16:
		return "grid16"
	case ModeCycle:
		return "cycle"
	case ModeCycleExpanded:
		return "cycle_expanded"
	default:
		return "unknown"
	}
}

// Name is a human readable label.
func (m Mode) Name() string {
	switch m {
	case ModeSingle:
		return "Single view"
	case ModeGrid4:
		return "4-up grid"
	case ModeGrid9:
		return "9-up grid"
	case ModeGrid16:
		return "16-up grid"
	case ModeCycle:
		return "Cycle"
	case ModeCycleExpanded:
		return "Cycle (expanded)"
	default:
		return "Unknown"
	}
}

// GridSize returns the number of tiles: 1 for single, N for grids and 0
// for the cycle modes, whose channels come from the cycle scheduler.
func (m Mode) GridSize() int {
	switch m {
	case ModeSingle:
		return 1
	case ModeGrid4:
		return 4
	case ModeGrid9:
		return 9
	case ModeGrid16:
		return 16
	case ModeCycle, ModeCycleExpanded:
		return 0
	default:
		return 0
	}
}

// Cycling reports whether m is one of the cycle modes.
func (m Mode) Cycling() bool {
	switch m {
	case ModeCycle, ModeCycleExpanded:
		return true
	case ModeSingle, ModeGrid4, ModeGrid9, ModeGrid16:
		return false
	default:
		return false
	}
}
