package maskmail

import (
	goerrors "github.com/goliatone/go-errors"
)

const (
	textCodeInvalidTransition = "INVALID_PHASE_TRANSITION"
)

// ErrInvalidTransition is returned when an action is not legal for the
// current phase. Go has no closed sum types, so the per-phase action sets are
// enforced by the transition table plus an exhaustive test rather than by the
// compiler; hitting this error from library code is a programming error.
var ErrInvalidTransition = goerrors.New("action not legal for phase", goerrors.CategoryConflict).
	WithTextCode(textCodeInvalidTransition).
	WithCode(goerrors.CodeConflict)

// Phase is the coarse authentication state gating which operations are
// available to a surface.
type Phase string

const (
	// PhaseSignedOut is the initial and rest state. A non-empty persisted
	// session with PhaseSignedOut is the "remembered but unverified" state.
	PhaseSignedOut Phase = "signed_out"

	// PhaseSignedIn means primary credentials were accepted and the second
	// factor is pending.
	PhaseSignedIn Phase = "signed_in"

	// PhaseVerified means the second factor completed and the session carries
	// the authenticated markers.
	PhaseVerified Phase = "verified"

	// PhaseManaging is PhaseVerified with the alias management sub-view
	// active.
	PhaseManaging Phase = "verified_managing"
)

// Valid reports whether p is one of the known phases.
func (p Phase) Valid() bool {
	switch p {
	case PhaseSignedOut, PhaseSignedIn, PhaseVerified, PhaseManaging:
		return true
	}
	return false
}

// RequiresAuthenticated reports whether the phase is only meaningful with an
// authenticated session payload behind it.
func (p Phase) RequiresAuthenticated() bool {
	return p == PhaseVerified || p == PhaseManaging
}

// Action is a named user or system triggered event that may advance the
// phase.
type Action string

const (
	ActionSignIn   Action = "SUCCESSFUL_SIGN_IN"
	ActionVerify   Action = "SUCCESSFUL_VERIFICATION"
	ActionSignOut  Action = "SUCCESSFUL_SIGN_OUT"
	ActionManage   Action = "MANAGE"
	ActionGenerate Action = "GENERATE"
)

// transitions is the whole state machine: outer key is the current phase,
// inner key the action legal in that phase, value the resulting phase.
var transitions = map[Phase]map[Action]Phase{
	PhaseSignedOut: {
		ActionSignIn: PhaseSignedIn,
	},
	PhaseSignedIn: {
		ActionVerify:  PhaseVerified,
		ActionSignOut: PhaseSignedOut,
	},
	PhaseVerified: {
		ActionManage:  PhaseManaging,
		ActionSignOut: PhaseSignedOut,
	},
	PhaseManaging: {
		ActionGenerate: PhaseVerified,
		ActionSignOut:  PhaseSignedOut,
	},
}

// Transition computes the phase that follows applying action in phase. It is
// a pure lookup: no I/O, no side effects, same inputs always yield the same
// output. Illegal pairs return ErrInvalidTransition.
func Transition(phase Phase, action Action) (Phase, error) {
	legal, ok := transitions[phase]
	if !ok {
		return phase, metaError(ErrInvalidTransition, map[string]any{
			"phase":  phase,
			"action": action,
			"reason": "unknown phase",
		})
	}

	next, ok := legal[action]
	if !ok {
		return phase, metaError(ErrInvalidTransition, map[string]any{
			"phase":  phase,
			"action": action,
		})
	}

	return next, nil
}

// LegalActions returns the actions accepted in the given phase. The result is
// a copy; callers can use it to drive which affordances a surface renders.
func LegalActions(phase Phase) []Action {
	legal, ok := transitions[phase]
	if !ok {
		return nil
	}

	actions := make([]Action, 0, len(legal))
	for action := range legal {
		actions = append(actions, action)
	}
	return actions
}

// CanApply reports whether action is legal in phase without computing the
// result.
func CanApply(phase Phase, action Action) bool {
	legal, ok := transitions[phase]
	if !ok {
		return false
	}
	_, ok = legal[action]
	return ok
}
