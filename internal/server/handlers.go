package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/otpgate/internal/ratelimit"
	"github.com/desertthunder/otpgate/internal/session"
)

const (
	MsgTooManyAttempts  = "Too many attempts. Please wait %s before trying again."
	MsgInvalidForm      = "Invalid form submission"
	MsgVerifyFailed     = "Verification failed"
	MsgNewCodeSent      = "A new code has been requested"
	MsgNewCodeFailed    = "Failed to request a new code"
	MsgNewCodeThrottled = "Please wait before requesting another code"
)

// submitResponse is the body of POST /submit_2fa.
type submitResponse struct {
	Success       bool   `json:"success"`
	Authenticated bool   `json:"authenticated,omitempty"`
	Message       string `json:"message"`
	Redirect      string `json:"redirect,omitempty"`
}

// simpleResponse is the body of POST /request_new_2fa and of generic failures.
type simpleResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

func failure(message string) simpleResponse {
	return simpleResponse{Success: false, Message: message}
}

// pageData feeds the HTML templates.
type pageData struct {
	State     session.State
	Status    string
	Message   *string
	SessionID string
}

// gatewayHandlers holds the collaborators shared by every request goroutine.
type gatewayHandlers struct {
	ctrl     *session.Controller
	limiter  *ratelimit.Limiter
	throttle *ratelimit.Throttle
	lockout  time.Duration
	logger   *log.Logger
}

func (h *gatewayHandlers) page(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := h.ctrl.Status()
		data := pageData{State: st.State, Status: st.Status, Message: st.Message, SessionID: h.ctrl.ID()}
		if err := renderPage(w, name, data); err != nil {
			h.logger.Error("failed to render page", "page", name, "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
		}
	}
}

func (h *gatewayHandlers) styles(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/css; charset=utf-8")
	w.Write(stylesheet)
}

func (h *gatewayHandlers) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctrl.Status())
}

// submit handles POST /submit_2fa. Expiry and rate limits are checked before the controller sees the code.
func (h *gatewayHandlers) submit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, failure(MsgInvalidForm))
		return
	}

	key := clientKey(r)

	if h.ctrl.IsSessionExpired() {
		h.logger.Warn("submission on expired session", "remote", key)
		writeJSON(w, http.StatusGone, failure(session.MsgSessionExpired))
		return
	}

	if !h.limiter.Allow(key) {
		h.logger.Warn("submission rate limited", "remote", key)
		w.Header().Set("Retry-After", retryAfter(h.lockout))
		writeJSON(w, http.StatusTooManyRequests, failure(fmt.Sprintf(MsgTooManyAttempts, humanDuration(h.lockout))))
		return
	}

	if h.ctrl.State().Terminal() {
		writeJSON(w, http.StatusOK, submitResponse{Success: false, Message: session.MsgAlreadyFinished})
		return
	}

	// Validation must finish even if the browser goes away mid-request.
	ctx := context.WithoutCancel(r.Context())
	if h.ctrl.SubmitCode(ctx, r.PostFormValue("code")) {
		writeJSON(w, http.StatusOK, submitResponse{
			Success:       true,
			Authenticated: true,
			Message:       session.MsgAccepted,
			Redirect:      "/success",
		})
		return
	}

	msg := MsgVerifyFailed
	switch st := h.ctrl.Status(); {
	case st.State == session.Authenticated:
		// Another submission settled the attempt first.
		msg = session.MsgAlreadyFinished
	case st.Message != nil:
		msg = *st.Message
	}
	writeJSON(w, http.StatusOK, submitResponse{Success: false, Message: msg})
}

// requestNew handles POST /request_new_2fa.
func (h *gatewayHandlers) requestNew(w http.ResponseWriter, r *http.Request) {
	if !h.throttle.Allow() {
		writeJSON(w, http.StatusTooManyRequests, failure(MsgNewCodeThrottled))
		return
	}

	if !h.ctrl.RequestNewCode(context.WithoutCancel(r.Context())) {
		writeJSON(w, http.StatusOK, failure(MsgNewCodeFailed))
		return
	}
	writeJSON(w, http.StatusOK, simpleResponse{Success: true, Message: MsgNewCodeSent})
}

// writeJSON encodes v before touching w so an encoding error still yields a well-formed body.
func writeJSON(w http.ResponseWriter, status int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		buf.Reset()
		buf.WriteString(`{"success":false,"message":"Internal server error"}` + "\n")
		status = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

// clientKey returns the host part of the peer address.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func retryAfter(d time.Duration) string {
	secs := int(d.Seconds())
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

// humanDuration renders whole minutes as "5 minutes" and shorter spans in seconds.
func humanDuration(d time.Duration) string {
	switch {
	case d >= time.Minute && d%time.Minute == 0:
		if n := int(d / time.Minute); n != 1 {
			return fmt.Sprintf("%d minutes", n)
		}
		return "1 minute"
	case d >= time.Minute:
		return d.Round(time.Second).String()
	default:
		if n := int(d.Round(time.Second) / time.Second); n != 1 {
			return fmt.Sprintf("%d seconds", n)
		}
		return "1 second"
	}
}
