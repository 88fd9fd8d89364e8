// Package server provides the HTTP side of the verification gateway.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support.
//
// [Middleware] wraps handlers in reverse order (last added executes first), following the standard Go pattern.
//
// The [BasicRouter] implementation uses [http.ServeMux] internally with method filtering
// and answers unknown paths with a plain "Not Found".
//
// # Gateway
//
// [Gateway] binds the first free port in a configured range on the local IPv4 address,
// serves a small polling page plus a JSON API, and delegates every decision to a
// [session.Controller] and a [ratelimit.Limiter]:
//
//	GET  /                 interactive page
//	GET  /status           JSON status snapshot
//	GET  /success          confirmation page
//	GET  /styles.css       stylesheet
//	POST /submit_2fa       form field "code"
//	POST /request_new_2fa  ask the provider for another code
//
// Handlers never block on the waiting side: they commit to the controller and return.
// Every failure is reported as a JSON body so the page's polling loop never stalls.
//
// Expired or rate-limited submissions are rejected before the controller is touched.
// The rate-limit key is the client's network address; there is one user and one
// session per gateway, so no cookie or token is issued.
package server
