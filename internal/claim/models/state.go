package models

import (
	"fmt"

	eventmodels "eventlens/internal/event/models"
	dErrors "eventlens/pkg/domain-errors"
)

// State is a claim run's position in the issuance machine.
//
//	Requested → TokenValidated → NotYetClaimed → AssetTransferred → Frozen → Recorded
//
// Rejected and PartiallyIssued are the failure exits. A PartiallyIssued run
// re-enters at Frozen once the reconciler lands the freeze.
type State string

const (
	StateRequested        State = "Requested"
	StateTokenValidated   State = "TokenValidated"
	StateNotYetClaimed    State = "NotYetClaimed"
	StateAssetTransferred State = "AssetTransferred"
	StateFrozen           State = "Frozen"
	StateRecorded         State = "Recorded"
	StateRejected         State = "Rejected"
	StatePartiallyIssued  State = "PartiallyIssued"
)

var transitions = map[State][]State{
	StateRequested:        {StateTokenValidated, StateRejected},
	StateTokenValidated:   {StateNotYetClaimed, StateRejected},
	StateNotYetClaimed:    {StateAssetTransferred, StateRejected},
	StateAssetTransferred: {StateFrozen, StatePartiallyIssued},
	StatePartiallyIssued:  {StateFrozen},
	StateFrozen:           {StateRecorded},
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s State) CanTransitionTo(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal is true for Recorded and Rejected.
func (s State) IsTerminal() bool {
	return s == StateRecorded || s == StateRejected
}

// StateFromIssuance maps a journal state back onto the machine.
func StateFromIssuance(s eventmodels.IssuanceState) State {
	switch s {
	case eventmodels.IssuanceAssetTransferred:
		return StateAssetTransferred
	case eventmodels.IssuanceFrozen:
		return StateFrozen
	case eventmodels.IssuancePartiallyIssued:
		return StatePartiallyIssued
	default:
		return StateNotYetClaimed
	}
}

// Run tracks one claim through the machine. Not safe for concurrent use;
// a run is owned by the goroutine holding the pair lock.
type Run struct {
	state   State
	history []State
}

func NewRun() *Run {
	return &Run{state: StateRequested, history: []State{StateRequested}}
}

// ResumeRun starts a run at a journaled state.
func ResumeRun(s eventmodels.IssuanceState) *Run {
	st := StateFromIssuance(s)
	return &Run{state: st, history: []State{st}}
}

func (r *Run) State() State { return r.state }

func (r *Run) History() []State {
	return append([]State(nil), r.history...)
}

// Visited reports whether the run has been in s.
func (r *Run) Visited(s State) bool {
	for _, h := range r.history {
		if h == s {
			return true
		}
	}
	return false
}

// Advance moves the run to next. An illegal transition is a programming error.
func (r *Run) Advance(next State) error {
	if !r.state.CanTransitionTo(next) {
		return dErrors.New(dErrors.CodeInvariantViolation,
			fmt.Sprintf("illegal claim transition %s -> %s", r.state, next))
	}
	r.state = next
	r.history = append(r.history, next)
	return nil
}
