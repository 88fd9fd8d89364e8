package session

import (
	"fmt"
	"time"
)

// State is the phase of a verification attempt.
type State int

const (
	Pending State = iota
	WaitingForCode
	Authenticated
	Failed
)

var stateNames = map[State]string{
	Pending:        "pending",
	WaitingForCode: "waiting_for_code",
	Authenticated:  "authenticated",
	Failed:         "failed",
}

var stateDescriptions = map[State]string{
	Pending:        "Starting authentication",
	WaitingForCode: "Waiting for verification code",
	Authenticated:  "Authentication successful",
	Failed:         "Authentication failed",
}

// String returns the wire name of the state.
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Description returns the human-readable status text shown in the browser.
func (s State) Description() string {
	if d, ok := stateDescriptions[s]; ok {
		return d
	}
	return "Unknown"
}

// Terminal reports whether no further transition is allowed within the attempt.
func (s State) Terminal() bool {
	return s == Authenticated || s == Failed
}

// MarshalText implements [encoding.TextMarshaler].
func (s State) MarshalText() ([]byte, error) {
	if _, ok := stateNames[s]; !ok {
		return nil, fmt.Errorf("unknown state %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements [encoding.TextUnmarshaler].
func (s *State) UnmarshalText(text []byte) error {
	for st, name := range stateNames {
		if name == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", string(text))
}

// Status is a read-only snapshot of the session for the polling UI.
type Status struct {
	State   State   `json:"state"`
	Status  string  `json:"status"`
	Message *string `json:"message"`
}

// Transition describes one state change, for audit logging and history.
type Transition struct {
	SessionID string    `json:"session_id"`
	From      State     `json:"from"`
	To        State     `json:"to"`
	Trigger   string    `json:"trigger"`
	Message   string    `json:"message,omitempty"`
	At        time.Time `json:"at"`
}
