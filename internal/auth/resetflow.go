package auth

import (
	"errors"
	"fmt"
)

// ErrIllegalTransition is returned when an event does not apply to the
// current reset flow state.
var ErrIllegalTransition = errors.New("auth: illegal password reset transition")

// ResetState enumerates the password reset dialog states.
type ResetState int

const (
	ResetIdle ResetState = iota
	ResetShowingGenerated
	ResetEnteringCustom
	ResetSubmitting
)

func (s ResetState) String() string {
	switch s {
	case ResetIdle:
		return "idle"
	case ResetShowingGenerated:
		return "showing_generated"
	case ResetEnteringCustom:
		return "entering_custom"
	case ResetSubmitting:
		return "submitting"
	}
	return fmt.Sprintf("ResetState(%d)", int(s))
}

// ResetFlow is the state of a password reset dialog. The password is only
// held in ShowingGenerated and Submitting. Transitions return a new value.
type ResetFlow struct {
	state     ResetState
	password  string
	generated bool
}

// State returns the current state.
func (f ResetFlow) State() ResetState {
	return f.state
}

// Password returns the pending password, if any.
func (f ResetFlow) Password() (string, bool) {
	if f.state == ResetShowingGenerated || f.state == ResetSubmitting {
		return f.password, true
	}
	return "", false
}

// Generated reports whether the pending password was generated.
func (f ResetFlow) Generated() bool {
	return f.generated
}

// ShowGenerated moves Idle to ShowingGenerated with password.
func (f ResetFlow) ShowGenerated(password string) (ResetFlow, error) {
	if f.state != ResetIdle || password == "" {
		return f, f.illegal("show generated")
	}
	return ResetFlow{state: ResetShowingGenerated, password: password, generated: true}, nil
}

// ChooseCustom switches to custom entry from Idle or ShowingGenerated.
func (f ResetFlow) ChooseCustom() (ResetFlow, error) {
	if f.state != ResetIdle && f.state != ResetShowingGenerated {
		return f, f.illegal("choose custom")
	}
	return ResetFlow{state: ResetEnteringCustom}, nil
}

// Submit sends the shown generated password, or password when entering a
// custom one.
func (f ResetFlow) Submit(password string) (ResetFlow, error) {
	switch f.state {
	case ResetShowingGenerated:
		return ResetFlow{state: ResetSubmitting, password: f.password, generated: true}, nil
	case ResetEnteringCustom:
		if password == "" {
			return f, f.illegal("submit empty password")
		}
		return ResetFlow{state: ResetSubmitting, password: password}, nil
	}
	return f, f.illegal("submit")
}

// Finish leaves Submitting. On failure a custom entry returns to
// EnteringCustom and a generated one to ShowingGenerated.
func (f ResetFlow) Finish(err error) (ResetFlow, error) {
	if f.state != ResetSubmitting {
		return f, f.illegal("finish")
	}
	if err == nil {
		return ResetFlow{}, nil
	}
	if f.generated {
		return ResetFlow{state: ResetShowingGenerated, password: f.password, generated: true}, nil
	}
	return ResetFlow{state: ResetEnteringCustom}, nil
}

// Cancel returns to Idle from any state but Submitting.
func (f ResetFlow) Cancel() (ResetFlow, error) {
	if f.state == ResetSubmitting {
		return f, f.illegal("cancel")
	}
	return ResetFlow{}, nil
}

func (f ResetFlow) illegal(event string) error {
	return fmt.Errorf("%w: %s from %s", ErrIllegalTransition, event, f.state)
}
