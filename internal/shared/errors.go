package shared

import "fmt"

var (
	// Configuration errors
	ErrInvalidConfig = fmt.Errorf("invalid configuration")

	// Gateway errors
	ErrBindFailed     = fmt.Errorf("no free port in range")
	ErrNotStarted     = fmt.Errorf("gateway not started")
	ErrAlreadyStarted = fmt.Errorf("gateway already started")

	// Returned by the prompt command when no code was accepted
	ErrAuthFailed = fmt.Errorf("authentication failed")

	// Collaborator errors
	ErrNotifyFailed  = fmt.Errorf("notification failed")
	ErrBrowserFailed = fmt.Errorf("failed to open browser")

	// Input validation errors
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
)
