package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/otpgate/internal/session"
	"github.com/desertthunder/otpgate/internal/shared"
	tu "github.com/desertthunder/otpgate/internal/testing"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to find a free port: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func testConfig(t *testing.T) *shared.GatewayConfig {
	t.Helper()
	cfg := shared.DefaultConfig().Gateway
	port := freePort(t)
	cfg.Host = "127.0.0.1"
	cfg.PortStart, cfg.PortEnd = port, port+10
	cfg.Linger = shared.Duration{}
	cfg.OpenBrowser = true
	return &cfg
}

// browserStub records the URLs it was asked to open.
type browserStub struct {
	mu   sync.Mutex
	urls []string
	err  error
}

func (b *browserStub) open(u string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.urls = append(b.urls, u)
	return b.err
}

func (b *browserStub) opened() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.urls...)
}

type panicNotifier struct{}

func (panicNotifier) SendTwoFactorNotification(context.Context, string) bool { panic("notifier exploded") }
func (panicNotifier) SendSuccessNotification(context.Context) bool           { return false }
func (panicNotifier) Name() string                                           { return "panic" }

// eagerNotifier submits a code the moment it is told where the gateway lives,
// before the prompt has started waiting.
type eagerNotifier struct {
	code string

	mu      sync.Mutex
	success bool
	err     error
}

func (n *eagerNotifier) SendTwoFactorNotification(ctx context.Context, base string) bool {
	var out struct {
		Success bool `json:"success"`
	}
	resp, err := http.PostForm(base+"/submit_2fa", url.Values{"code": {n.code}})
	if err == nil {
		err = json.NewDecoder(resp.Body).Decode(&out)
		resp.Body.Close()
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	n.success, n.err = out.Success, err
	return true
}

func (n *eagerNotifier) SendSuccessNotification(context.Context) bool { return true }
func (n *eagerNotifier) Name() string                                 { return "eager" }

func (n *eagerNotifier) result() (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.success, n.err
}

// waitForURL polls the notifier until the gateway URL has been announced.
func waitForURL(t *testing.T, n *tu.MockNotifier) string {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if urls, _ := n.Calls(); len(urls) > 0 {
			return urls[0]
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Errorf("gateway URL was never announced")
	return ""
}

// waitForState polls GET /status like the browser does until the session reaches want.
func waitForState(base, want string) bool {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(base + "/status")
		if err == nil {
			var st struct {
				State string `json:"state"`
			}
			json.NewDecoder(resp.Body).Decode(&st)
			resp.Body.Close()
			if st.State == want {
				return true
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

// submitAsHuman posts code to the running gateway once it is waiting for one.
func submitAsHuman(t *testing.T, n *tu.MockNotifier, code string) <-chan error {
	t.Helper()
	errc := make(chan error, 1)
	go func() {
		base := waitForURL(t, n)
		if base == "" {
			errc <- errors.New("no url")
			return
		}
		if !waitForState(base, "waiting_for_code") {
			errc <- errors.New("gateway never waited for a code")
			return
		}
		resp, err := http.PostForm(base+"/submit_2fa", url.Values{"code": {code}})
		if err != nil {
			errc <- err
			return
		}
		resp.Body.Close()
		errc <- nil
	}()
	return errc
}

type runResult struct {
	code string
	ok   bool
}

func TestPromptRun(t *testing.T) {
	logger := shared.NewLogger(io.Discard)

	t.Run("returns accepted code", func(t *testing.T) {
		notifier := &tu.MockNotifier{Result: true}
		browser := &browserStub{}
		recorder := &tu.MockRecorder{}
		var out bytes.Buffer

		p := NewPrompt(PromptOpts{
			Config:      testConfig(t),
			Validator:   &tu.MockValidator{Accept: "246810"},
			Notifier:    notifier,
			Recorder:    recorder,
			Logger:      logger,
			Output:      &out,
			OpenBrowser: browser.open,
		})

		errc := submitAsHuman(t, notifier, "246810")
		code, ok := p.Run(context.Background(), 5*time.Second)

		if err := <-errc; err != nil {
			t.Fatalf("submission failed: %v", err)
		}
		if !ok || code != "246810" {
			t.Fatalf("expected code 246810, got %q ok=%v", code, ok)
		}

		urls, successes := notifier.Calls()
		if successes != 1 {
			t.Errorf("expected one success notification, got %d", successes)
		}
		if opened := browser.opened(); len(opened) != 1 || opened[0] != urls[0] {
			t.Errorf("expected browser to open %q, got %v", urls[0], opened)
		}
		if !strings.HasPrefix(urls[0], "http://127.0.0.1:") {
			t.Errorf("unexpected gateway URL %q", urls[0])
		}
		if !strings.Contains(out.String(), urls[0]) {
			t.Errorf("expected banner to contain URL, got %q", out.String())
		}
		if !strings.Contains(out.String(), "Verification successful") {
			t.Errorf("expected success outcome, got %q", out.String())
		}

		states := recorder.States()
		if len(states) == 0 || states[len(states)-1] != session.Authenticated {
			t.Errorf("expected final state authenticated, got %v", states)
		}
	})

	t.Run("code submitted during notification is kept", func(t *testing.T) {
		notifier := &eagerNotifier{code: "314159"}
		recorder := &tu.MockRecorder{}
		p := NewPrompt(PromptOpts{
			Config:      testConfig(t),
			Validator:   &tu.MockValidator{Accept: "314159"},
			Notifier:    notifier,
			Recorder:    recorder,
			Logger:      logger,
			OpenBrowser: (&browserStub{}).open,
		})

		done := make(chan runResult, 1)
		go func() {
			code, ok := p.Run(context.Background(), 5*time.Second)
			done <- runResult{code, ok}
		}()

		var r runResult
		select {
		case r = <-done:
		case <-time.After(10 * time.Second):
			t.Fatal("run did not return")
		}

		accepted, err := notifier.result()
		if err != nil || !accepted {
			t.Fatalf("expected the early submission to be accepted, got %v %v", accepted, err)
		}
		if !r.ok || r.code != "314159" {
			t.Errorf("expected code 314159, got %q ok=%v", r.code, r.ok)
		}
		if last := recorder.Last(); last.To != session.Authenticated {
			t.Errorf("expected final state authenticated, got %+v", last)
		}
	})

	t.Run("partial config keeps submissions open", func(t *testing.T) {
		port := freePort(t)
		notifier := &tu.MockNotifier{}
		p := NewPrompt(PromptOpts{
			Config:      &shared.GatewayConfig{Host: "127.0.0.1", PortStart: port, PortEnd: port + 10},
			Notifier:    notifier,
			Logger:      logger,
			OpenBrowser: (&browserStub{}).open,
		})

		errc := submitAsHuman(t, notifier, "271828")
		code, ok := p.Run(context.Background(), 5*time.Second)
		if err := <-errc; err != nil {
			t.Fatalf("submission failed: %v", err)
		}

		if !ok || code != "271828" {
			t.Errorf("expected code 271828, got %q ok=%v", code, ok)
		}
	})

	t.Run("rejected code returns nothing", func(t *testing.T) {
		notifier := &tu.MockNotifier{}
		p := NewPrompt(PromptOpts{
			Config:      testConfig(t),
			Validator:   &tu.MockValidator{Accept: "111111"},
			Notifier:    notifier,
			Logger:      logger,
			OpenBrowser: (&browserStub{}).open,
		})

		errc := submitAsHuman(t, notifier, "222222")
		code, ok := p.Run(context.Background(), 5*time.Second)
		<-errc

		if ok || code != "" {
			t.Errorf("expected failure, got %q ok=%v", code, ok)
		}
		if _, successes := notifier.Calls(); successes != 0 {
			t.Errorf("expected no success notification, got %d", successes)
		}
	})

	t.Run("times out without a submission", func(t *testing.T) {
		recorder := &tu.MockRecorder{}
		p := NewPrompt(PromptOpts{
			Config:      testConfig(t),
			Recorder:    recorder,
			Logger:      logger,
			OpenBrowser: (&browserStub{}).open,
		})

		start := time.Now()
		code, ok := p.Run(context.Background(), 200*time.Millisecond)
		if ok || code != "" {
			t.Errorf("expected timeout, got %q ok=%v", code, ok)
		}
		if elapsed := time.Since(start); elapsed > 5*time.Second {
			t.Errorf("run took too long: %v", elapsed)
		}

		states := recorder.States()
		if len(states) == 0 || states[len(states)-1] != session.Failed {
			t.Errorf("expected final state failed, got %v", states)
		}
	})

	t.Run("bind failure returns immediately", func(t *testing.T) {
		ln, err := net.Listen("tcp4", "127.0.0.1:0")
		if err != nil {
			t.Fatalf("failed to listen: %v", err)
		}
		defer ln.Close()

		cfg := testConfig(t)
		port := ln.Addr().(*net.TCPAddr).Port
		cfg.PortStart, cfg.PortEnd = port, port

		notifier := &tu.MockNotifier{}
		browser := &browserStub{}
		p := NewPrompt(PromptOpts{Config: cfg, Notifier: notifier, Logger: logger, OpenBrowser: browser.open})

		code, ok := p.Run(context.Background(), time.Minute)
		if ok || code != "" {
			t.Errorf("expected failure, got %q ok=%v", code, ok)
		}
		if urls, _ := notifier.Calls(); len(urls) != 0 {
			t.Errorf("expected no notification, got %v", urls)
		}
		if len(browser.opened()) != 0 {
			t.Error("expected browser not to be opened")
		}
	})

	t.Run("cancellation ends the wait", func(t *testing.T) {
		p := NewPrompt(PromptOpts{Config: testConfig(t), Logger: logger, OpenBrowser: (&browserStub{}).open})

		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(100*time.Millisecond, cancel)

		done := make(chan runResult, 1)
		go func() {
			code, ok := p.Run(ctx, time.Minute)
			done <- runResult{code, ok}
		}()

		select {
		case r := <-done:
			if r.ok {
				t.Errorf("expected failure after cancel, got %q", r.code)
			}
		case <-time.After(10 * time.Second):
			t.Fatal("run did not return after cancellation")
		}
	})

	t.Run("browser failure is not fatal", func(t *testing.T) {
		notifier := &tu.MockNotifier{}
		p := NewPrompt(PromptOpts{
			Config:      testConfig(t),
			Notifier:    notifier,
			Logger:      logger,
			OpenBrowser: (&browserStub{err: shared.ErrBrowserFailed}).open,
		})

		errc := submitAsHuman(t, notifier, "135790")
		code, ok := p.Run(context.Background(), 5*time.Second)
		<-errc

		if !ok || code != "135790" {
			t.Errorf("expected success, got %q ok=%v", code, ok)
		}
	})

	t.Run("browser disabled", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.OpenBrowser = false
		browser := &browserStub{}
		p := NewPrompt(PromptOpts{Config: cfg, Logger: logger, OpenBrowser: browser.open})

		p.Run(context.Background(), 50*time.Millisecond)
		if len(browser.opened()) != 0 {
			t.Errorf("expected no browser launch, got %v", browser.opened())
		}
	})

	t.Run("panic becomes failure", func(t *testing.T) {
		recorder := &tu.MockRecorder{}
		var out bytes.Buffer
		p := NewPrompt(PromptOpts{
			Config:      testConfig(t),
			Notifier:    panicNotifier{},
			Recorder:    recorder,
			Logger:      logger,
			Output:      &out,
			OpenBrowser: (&browserStub{}).open,
		})

		code, ok := p.Run(context.Background(), time.Minute)
		if ok || code != "" {
			t.Errorf("expected failure, got %q ok=%v", code, ok)
		}

		if last := recorder.Last(); last.To != session.Failed || last.Message != "notifier exploded" {
			t.Errorf("expected failed with panic text, got %+v", last)
		}
		if !strings.Contains(out.String(), "notifier exploded") {
			t.Errorf("expected outcome to mention panic, got %q", out.String())
		}
	})
}
