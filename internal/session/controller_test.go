package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/otpgate/internal/shared"
)

type recorderStub struct {
	mu          sync.Mutex
	transitions []Transition
	err         error
}

func (r *recorderStub) RecordTransition(_ context.Context, t Transition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, t)
	return r.err
}

func (r *recorderStub) all() []Transition {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Transition(nil), r.transitions...)
}

func newTestController(opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(&bytes.Buffer{})
	}
	return NewController(opts)
}

func TestValidCode(t *testing.T) {
	tc := []struct {
		code string
		want bool
	}{
		{"123456", true},
		{"000000", true},
		{"999999", true},
		{"12345", false},
		{"1234567", false},
		{"12a456", false},
		{" 123456", false},
		{"12345 ", false},
		{"", false},
		{"١٢٣٤٥٦", false},
		{"12-456", false},
	}

	for _, tt := range tc {
		if got := ValidCode(tt.code); got != tt.want {
			t.Errorf("ValidCode(%q) = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestState(t *testing.T) {
	t.Run("String and Description", func(t *testing.T) {
		for st, name := range stateNames {
			if st.String() != name {
				t.Errorf("expected %s, got %s", name, st.String())
			}
			if st.Description() == "Unknown" {
				t.Errorf("state %s has no description", name)
			}
		}
	})

	t.Run("Terminal", func(t *testing.T) {
		if Pending.Terminal() || WaitingForCode.Terminal() {
			t.Error("pending and waiting_for_code are not terminal")
		}
		if !Authenticated.Terminal() || !Failed.Terminal() {
			t.Error("authenticated and failed are terminal")
		}
	})

	t.Run("text round trip", func(t *testing.T) {
		var st State
		if err := st.UnmarshalText([]byte("waiting_for_code")); err != nil || st != WaitingForCode {
			t.Errorf("expected waiting_for_code, got %v (%v)", st, err)
		}
		if err := st.UnmarshalText([]byte("bogus")); err == nil {
			t.Error("expected error for unknown state")
		}
		if _, err := State(42).MarshalText(); err == nil {
			t.Error("expected error marshalling unknown state")
		}
	})
}

func TestController(t *testing.T) {
	ctx := context.Background()

	t.Run("initial state is pending", func(t *testing.T) {
		c := newTestController(Options{})
		st := c.Status()
		if st.State != Pending || st.Message != nil {
			t.Errorf("unexpected initial status %+v", st)
		}
	})

	t.Run("SubmitCode without validator accepts six digits", func(t *testing.T) {
		for _, code := range []string{"123456", "000000", "987654"} {
			c := newTestController(Options{})
			if !c.SubmitCode(ctx, code) {
				t.Errorf("expected %s to be accepted", code)
			}
			if c.State() != Authenticated {
				t.Errorf("expected authenticated, got %s", c.State())
			}
		}
	})

	t.Run("SubmitCode rejects malformed codes", func(t *testing.T) {
		for _, code := range []string{"12345", "abcdef", "1234567", ""} {
			c := newTestController(Options{})
			if c.SubmitCode(ctx, code) {
				t.Errorf("expected %q to be rejected", code)
			}
			st := c.Status()
			if st.State != WaitingForCode {
				t.Errorf("expected waiting_for_code, got %s", st.State)
			}
			if st.Message == nil || *st.Message != MsgInvalidFormat {
				t.Errorf("expected format message, got %v", st.Message)
			}
		}
	})

	t.Run("malformed code does not signal the waiter", func(t *testing.T) {
		c := newTestController(Options{})
		c.SubmitCode(ctx, "bad")

		select {
		case <-c.signal:
			t.Error("signal should not be set by a malformed code")
		default:
		}
	})

	t.Run("validator decides the outcome", func(t *testing.T) {
		var calls []string
		v := ValidatorFunc(func(_ context.Context, code string) bool {
			calls = append(calls, code)
			return code == "654321"
		})

		c := newTestController(Options{Validator: v})
		if c.SubmitCode(ctx, "000000") {
			t.Error("expected rejection")
		}
		if c.State() != Failed {
			t.Errorf("expected failed, got %s", c.State())
		}

		c = newTestController(Options{Validator: v})
		if !c.SubmitCode(ctx, "654321") {
			t.Error("expected acceptance")
		}
		if c.State() != Authenticated {
			t.Errorf("expected authenticated, got %s", c.State())
		}

		if len(calls) != 2 {
			t.Errorf("expected 2 validator calls, got %d", len(calls))
		}
	})

	t.Run("panicking validator counts as rejection", func(t *testing.T) {
		v := ValidatorFunc(func(context.Context, string) bool { panic("boom") })
		c := newTestController(Options{Validator: v})

		if c.SubmitCode(ctx, "123456") {
			t.Error("expected rejection")
		}
		if c.State() != Failed {
			t.Errorf("expected failed, got %s", c.State())
		}
	})

	t.Run("RequireValidator without validator rejects", func(t *testing.T) {
		c := newTestController(Options{RequireValidator: true})
		if c.SubmitCode(ctx, "123456") {
			t.Error("expected rejection when a validator is required")
		}
		st := c.Status()
		if st.State != Failed || st.Message == nil || *st.Message != MsgNoValidator {
			t.Errorf("unexpected status %+v", st)
		}
	})

	t.Run("terminal states refuse further submissions", func(t *testing.T) {
		c := newTestController(Options{})
		c.SubmitCode(ctx, "123456")

		if c.SubmitCode(ctx, "654321") {
			t.Error("expected second submission to be refused")
		}
		if c.SubmitCode(ctx, "bad") {
			t.Error("expected malformed submission to be refused")
		}
		if c.State() != Authenticated {
			t.Errorf("terminal state must not change, got %s", c.State())
		}
	})

	t.Run("WaitForCode keeps a code submitted before the wait", func(t *testing.T) {
		rec := &recorderStub{}
		c := newTestController(Options{Recorder: rec})
		if !c.SubmitCode(ctx, "123456") {
			t.Fatal("expected early submission to be accepted")
		}

		start := time.Now()
		code, ok := c.WaitForCode(ctx, time.Minute)
		if !ok || code != "123456" {
			t.Fatalf("expected early code, got %q ok=%v", code, ok)
		}
		if time.Since(start) > time.Second {
			t.Error("expected WaitForCode to return without blocking")
		}
		if c.State() != Authenticated {
			t.Errorf("terminal state must stand, got %s", c.State())
		}
		if n := len(rec.all()); n != 1 {
			t.Errorf("expected only the submission transition, got %d", n)
		}
	})

	t.Run("WaitForCode keeps an early rejection", func(t *testing.T) {
		c := newTestController(Options{Validator: ValidatorFunc(func(context.Context, string) bool { return false })})
		c.SubmitCode(ctx, "111111")

		code, ok := c.WaitForCode(ctx, time.Minute)
		if !ok || code != "111111" || c.State() != Failed {
			t.Errorf("expected rejected code with failed state, got %q ok=%v state=%s", code, ok, c.State())
		}
	})

	t.Run("WaitForCode returns the submitted code", func(t *testing.T) {
		c := newTestController(Options{})

		go func() {
			for c.State() != WaitingForCode {
				time.Sleep(time.Millisecond)
			}
			c.SubmitCode(ctx, "424242")
		}()

		code, ok := c.WaitForCode(ctx, 5*time.Second)
		if !ok || code != "424242" {
			t.Errorf("expected 424242, got %q (%v)", code, ok)
		}
		if c.State() != Authenticated {
			t.Errorf("expected authenticated, got %s", c.State())
		}
	})

	t.Run("WaitForCode returns rejected code with failed state", func(t *testing.T) {
		c := newTestController(Options{Validator: ValidatorFunc(func(context.Context, string) bool { return false })})

		go func() {
			for c.State() != WaitingForCode {
				time.Sleep(time.Millisecond)
			}
			c.SubmitCode(ctx, "111111")
		}()

		code, ok := c.WaitForCode(ctx, 5*time.Second)
		if !ok || code != "111111" {
			t.Errorf("expected woken wait with code, got %q (%v)", code, ok)
		}
		if c.State() != Failed {
			t.Errorf("expected failed, got %s", c.State())
		}
	})

	t.Run("WaitForCode times out", func(t *testing.T) {
		c := newTestController(Options{})

		start := time.Now()
		code, ok := c.WaitForCode(ctx, time.Second)
		elapsed := time.Since(start)

		if ok || code != "" {
			t.Errorf("expected no code, got %q", code)
		}
		if elapsed < 900*time.Millisecond || elapsed > 3*time.Second {
			t.Errorf("expected roughly 1s wait, got %v", elapsed)
		}

		st := c.Status()
		if st.State != Failed || st.Message == nil || *st.Message != MsgTimeout {
			t.Errorf("unexpected status %+v", st)
		}
	})

	t.Run("WaitForCode is bounded by remaining session time", func(t *testing.T) {
		c := newTestController(Options{SessionTimeout: 200 * time.Millisecond})

		start := time.Now()
		_, ok := c.WaitForCode(ctx, 10*time.Second)
		elapsed := time.Since(start)

		if ok {
			t.Error("expected no code")
		}
		if elapsed > 2*time.Second {
			t.Errorf("wait exceeded session bound: %v", elapsed)
		}

		st := c.Status()
		if st.State != Failed || *st.Message != MsgSessionExpired {
			t.Errorf("expected session expiry message, got %+v", st)
		}
	})

	t.Run("WaitForCode on expired session returns immediately", func(t *testing.T) {
		now := time.Now()
		clock := func() time.Time { return now }
		c := newTestController(Options{SessionTimeout: time.Minute, Now: clock})
		now = now.Add(2 * time.Minute)

		if !c.IsSessionExpired() {
			t.Fatal("expected session to be expired")
		}

		start := time.Now()
		_, ok := c.WaitForCode(ctx, time.Minute)
		if ok {
			t.Error("expected no code")
		}
		if time.Since(start) > 100*time.Millisecond {
			t.Error("expected immediate return")
		}
		if c.State() != Failed {
			t.Errorf("expected failed, got %s", c.State())
		}
	})

	t.Run("WaitForCode honours context cancellation", func(t *testing.T) {
		c := newTestController(Options{})
		cctx, cancel := context.WithCancel(ctx)
		time.AfterFunc(50*time.Millisecond, cancel)

		if _, ok := c.WaitForCode(cctx, time.Minute); ok {
			t.Error("expected no code")
		}
		if st := c.Status(); st.State != Failed || *st.Message != MsgCancelled {
			t.Errorf("unexpected status %+v", st)
		}
	})

	t.Run("WaitForCode clears a stale signal", func(t *testing.T) {
		c := newTestController(Options{Validator: ValidatorFunc(func(context.Context, string) bool { return false })})
		c.wake()

		if _, ok := c.WaitForCode(ctx, 100*time.Millisecond); ok {
			t.Error("stale signal should have been discarded")
		}
	})

	t.Run("RefreshSession restarts the clock", func(t *testing.T) {
		now := time.Now()
		c := newTestController(Options{SessionTimeout: time.Minute, Now: func() time.Time { return now }})
		now = now.Add(2 * time.Minute)
		if !c.IsSessionExpired() {
			t.Fatal("expected expiry")
		}

		c.RefreshSession()
		if c.IsSessionExpired() {
			t.Error("expected refreshed session to be live")
		}
	})

	t.Run("RequestNewCode", func(t *testing.T) {
		t.Run("default accepts", func(t *testing.T) {
			c := newTestController(Options{})
			if !c.RequestNewCode(ctx) {
				t.Error("expected default request to succeed")
			}
			st := c.Status()
			if st.State != WaitingForCode || *st.Message != MsgNewCode {
				t.Errorf("unexpected status %+v", st)
			}
		})

		t.Run("requester result is returned", func(t *testing.T) {
			c := newTestController(Options{Requester: RequesterFunc(func(context.Context) bool { return false })})
			if c.RequestNewCode(ctx) {
				t.Error("expected requester failure to propagate")
			}
			st := c.Status()
			if st.State != WaitingForCode || *st.Message != MsgNewCode {
				t.Errorf("state should still reflect the request, got %+v", st)
			}
		})

		t.Run("refused after the attempt finished", func(t *testing.T) {
			c := newTestController(Options{})
			c.SubmitCode(ctx, "123456")
			if c.RequestNewCode(ctx) {
				t.Error("expected refusal")
			}
			if c.State() != Authenticated {
				t.Errorf("expected authenticated to stick, got %s", c.State())
			}
		})
	})

	t.Run("Status is stable without mutation", func(t *testing.T) {
		c := newTestController(Options{})
		c.SubmitCode(ctx, "bad")

		first, _ := json.Marshal(c.Status())
		for i := 0; i < 5; i++ {
			next, _ := json.Marshal(c.Status())
			if !bytes.Equal(first, next) {
				t.Fatalf("snapshot changed: %s vs %s", first, next)
			}
		}
	})

	t.Run("Status JSON shape", func(t *testing.T) {
		c := newTestController(Options{})
		data, err := json.Marshal(c.Status())
		if err != nil {
			t.Fatalf("marshal failed: %v", err)
		}
		want := `{"state":"pending","status":"Starting authentication","message":null}`
		if string(data) != want {
			t.Errorf("expected %s, got %s", want, data)
		}
	})

	t.Run("transitions are recorded", func(t *testing.T) {
		rec := &recorderStub{err: errors.New("disk full")}
		c := newTestController(Options{ID: "sess-1", Recorder: rec})
		c.SetState(WaitingForCode, "hello")
		c.SubmitCode(ctx, "123456")

		got := rec.all()
		if len(got) != 2 {
			t.Fatalf("expected 2 transitions, got %d", len(got))
		}
		if got[0].From != Pending || got[0].To != WaitingForCode || got[0].SessionID != "sess-1" {
			t.Errorf("unexpected first transition %+v", got[0])
		}
		if got[1].To != Authenticated {
			t.Errorf("unexpected second transition %+v", got[1])
		}
	})

	t.Run("concurrent submissions settle once", func(t *testing.T) {
		var mu sync.Mutex
		calls := 0
		v := ValidatorFunc(func(context.Context, string) bool {
			mu.Lock()
			calls++
			mu.Unlock()
			return true
		})
		c := newTestController(Options{Validator: v})

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				c.SubmitCode(ctx, "123456")
			}()
		}
		wg.Wait()

		if calls != 1 {
			t.Errorf("expected the validator to run once, ran %d times", calls)
		}
		if c.State() != Authenticated {
			t.Errorf("expected authenticated, got %s", c.State())
		}
	})
}
