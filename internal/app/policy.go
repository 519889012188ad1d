package app

import (
	"fmt"

	"github.com/dkeye/Relay/internal/config"
	"github.com/dkeye/Relay/internal/core"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropFrame
	KickMember
)

// Policy decides what happens to a recipient whose outbound queue is full.
type Policy interface {
	OnBackPressure(member *core.Session) BackpressureAction
}

// DropPolicy skips the frame for that recipient only.
type DropPolicy struct{}

func (DropPolicy) OnBackPressure(*core.Session) BackpressureAction { return DropFrame }

// KickPolicy closes recipients that cannot keep up.
type KickPolicy struct{}

func (KickPolicy) OnBackPressure(*core.Session) BackpressureAction { return KickMember }

func PolicyFor(slowConsumer string) (Policy, error) {
	switch slowConsumer {
	case config.SlowDrop, "":
		return DropPolicy{}, nil
	case config.SlowKick:
		return KickPolicy{}, nil
	}
	return nil, fmt.Errorf("unknown slow consumer policy %q", slowConsumer)
}

// ClaimMode decides how a control message from a non-controller is handled.
type ClaimMode int

const (
	// ClaimImplicit promotes the sender to controller.
	ClaimImplicit ClaimMode = iota
	// ClaimStrict replies with an error and drops the message.
	ClaimStrict
)

func ParseClaimMode(s string) (ClaimMode, error) {
	switch s {
	case config.ClaimImplicit, "":
		return ClaimImplicit, nil
	case config.ClaimStrict:
		return ClaimStrict, nil
	}
	return 0, fmt.Errorf("unknown claim policy %q", s)
}

// Scope decides whether the controller claim is server-wide or per room.
type Scope int

const (
	ScopeGlobal Scope = iota
	ScopeRoom
)

func ParseScope(s string) (Scope, error) {
	switch s {
	case config.ScopeGlobal, "":
		return ScopeGlobal, nil
	case config.ScopeRoom:
		return ScopeRoom, nil
	}
	return 0, fmt.Errorf("unknown controller scope %q", s)
}
