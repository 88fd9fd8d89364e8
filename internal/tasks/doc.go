// Package tasks sequences one verification attempt from start to teardown.
//
// # Flow
//
// [Prompt.Run] drives a single attempt:
//
//  1. Creates a fresh [session.Controller] with the caller's validator and new-code requester
//  2. Starts a [server.Gateway] on the first free port in the configured range
//  3. Prints a banner with the URL (and a QR code) to the configured output
//  4. Notifies the human through a [services.Notifier] and opens a browser (both best effort)
//  5. Blocks in [session.Controller.WaitForCode] until a code arrives or the wait ends
//  6. Sends a success notification when the code was accepted
//  7. Lingers briefly so the browser can show the final status, then stops the gateway
//
// # Failure Handling
//
// Expected failures (bind failure, timeout, rejection, cancellation) never surface as errors:
// Run returns ok false and the reason is logged. A panic anywhere in the sequence moves the
// session to [session.Failed] with the panic text and is also reported as ok false.
package tasks
