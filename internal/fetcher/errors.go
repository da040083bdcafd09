package fetcher

import (
	"errors"
	"fmt"
	"time"

	"github.com/jmylchreest/camgate/internal/camera"
	"github.com/jmylchreest/camgate/internal/observability"
)

// Kind classifies why a fetch did not produce a frame.
type Kind int

const (
	// KindBackoff means the channel was skipped without a request.
	KindBackoff Kind = iota + 1
	KindTimeout
	KindConnection
	KindHTTPStatus
	KindMalformed
)

func (k Kind) String() string {
	switch k {
	case KindBackoff:
		return "backoff"
	case KindTimeout:
		return "timeout"
	case KindConnection:
		return "connection"
	case KindHTTPStatus:
		return "http_status"
	case KindMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// outcome maps a kind to its metrics label.
func (k Kind) outcome() string {
	switch k {
	case KindBackoff:
		return observability.OutcomeBackoff
	case KindTimeout:
		return observability.OutcomeTimeout
	case KindConnection:
		return observability.OutcomeConnection
	case KindHTTPStatus:
		return observability.OutcomeHTTPStatus
	case KindMalformed:
		return observability.OutcomeMalformed
	default:
		return "unknown"
	}
}

// Error is returned by Fetch for every failed attempt.
type Error struct {
	Kind    Kind
	Channel camera.ChannelID
	// Status is set for KindHTTPStatus.
	Status int
	// Backoff is the remaining or newly applied backoff, if any.
	Backoff time.Duration
	Err     error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindBackoff:
		return fmt.Sprintf("channel %s backed off for %s", e.Channel, e.Backoff.Round(time.Second))
	case KindHTTPStatus:
		return fmt.Sprintf("channel %s: http status %d", e.Channel, e.Status)
	}
	if e.Err != nil {
		return fmt.Sprintf("channel %s: %s: %v", e.Channel, e.Kind, e.Err)
	}
	return fmt.Sprintf("channel %s: %s", e.Channel, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is a fetch error of kind k.
func IsKind(err error, k Kind) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Kind == k
}
