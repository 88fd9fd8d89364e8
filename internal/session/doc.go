// Package session owns the state machine of a single verification attempt.
//
// # States
//
// A [Controller] starts in [Pending]. The waiting side moves it to [WaitingForCode]
// through [Controller.WaitForCode] or [Controller.RequestNewCode]. A submission from an
// HTTP handler moves it to [Authenticated] or [Failed]; a malformed submission returns
// it to [WaitingForCode] with a message. [Authenticated] and [Failed] are terminal: a
// retry needs a new Controller.
//
// # Rendezvous
//
// The waiting goroutine does not hold the controller lock while it sleeps. Handlers
// commit the code and the resulting state under the lock, release it, then signal a
// single-slot channel. A woken waiter therefore always sees a consistent (code, state)
// pair. The channel is drained at the start of every wait, so a stale signal from an
// earlier submission is never consumed.
//
// # Extension points
//
// Callers plug in a [Validator] and a [CodeRequester]. Both are optional; when no
// validator is registered every well-formed code is accepted unless the controller was
// built with RequireValidator.
package session
