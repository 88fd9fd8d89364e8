// package services defines the out-of-band collaborators of the verification gateway.
//
// A [Notifier] tells the human that a code is needed, with a link to the gateway, and
// later that verification succeeded. Every method is best effort: failures are
// logged by the implementation and reported as false, never as an error.
package services

import (
	"context"
)

// Notifier delivers push notifications to the human completing verification.
type Notifier interface {
	// SendTwoFactorNotification announces that a code is needed at url.
	SendTwoFactorNotification(ctx context.Context, url string) bool

	// SendSuccessNotification announces that verification completed.
	SendSuccessNotification(ctx context.Context) bool

	// Name returns the name of the notifier (e.g., "ntfy", "noop")
	Name() string
}

// NoopNotifier is used when notifications are disabled.
type NoopNotifier struct{}

func (NoopNotifier) SendTwoFactorNotification(context.Context, string) bool { return false }
func (NoopNotifier) SendSuccessNotification(context.Context) bool           { return false }
func (NoopNotifier) Name() string                                           { return "noop" }
