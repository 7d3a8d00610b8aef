// Package negotiation drives one side of a two-party call: acquire local media,
// wait for the counterpart, exchange offer, answer and candidates through the
// relay, and tear everything down exactly once.
package negotiation

import (
	"errors"
	"fmt"
)

// State is the negotiation state of one participant
type State int

const (
	Idle State = iota
	AwaitingMedia
	Negotiating
	Connected
	Ended
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingMedia:
		return "awaiting_media"
	case Negotiating:
		return "negotiating"
	case Connected:
		return "connected"
	case Ended:
		return "ended"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transition can happen
func (s State) Terminal() bool {
	return s == Ended || s == Failed
}

// Reason explains a transition into Failed
type Reason string

const (
	ReasonNone        Reason = ""
	ReasonCamera      Reason = "camera_error"
	ReasonNegotiation Reason = "negotiation_error"
	ReasonTransport   Reason = "transport_error"
)

// Transition is one state change, reported for status display
type Transition struct {
	From   State
	To     State
	Reason Reason
	Err    error
}

// Media acquisition errors. Only ErrMediaNotReady is retried.
var (
	ErrMediaNotReady    = errors.New("media device not ready")
	ErrPermissionDenied = errors.New("media permission denied")
	ErrDeviceBusy       = errors.New("media device busy")
)
