package session

import "context"

// Validator checks a well-formed code against the identity provider.
type Validator interface {
	ValidateCode(ctx context.Context, code string) bool
}

// CodeRequester asks the identity provider to send a fresh code.
type CodeRequester interface {
	RequestNewCode(ctx context.Context) bool
}

// Recorder persists transitions. Errors are logged and otherwise ignored.
type Recorder interface {
	RecordTransition(ctx context.Context, t Transition) error
}

// ValidatorFunc adapts a function to [Validator].
type ValidatorFunc func(ctx context.Context, code string) bool

func (f ValidatorFunc) ValidateCode(ctx context.Context, code string) bool { return f(ctx, code) }

// RequesterFunc adapts a function to [CodeRequester].
type RequesterFunc func(ctx context.Context) bool

func (f RequesterFunc) RequestNewCode(ctx context.Context) bool { return f(ctx) }
