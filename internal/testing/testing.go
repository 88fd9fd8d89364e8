// package testing contains shared testing utilities
package testing

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/desertthunder/otpgate/internal/session"
)

// MockNotifier is a test double for [services.Notifier] that records calls.
type MockNotifier struct {
	mu          sync.Mutex
	Result      bool
	URLs        []string
	Successes   int
}

func (m *MockNotifier) SendTwoFactorNotification(ctx context.Context, url string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.URLs = append(m.URLs, url)
	return m.Result
}

func (m *MockNotifier) SendSuccessNotification(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Successes++
	return m.Result
}

func (m *MockNotifier) Name() string { return "mock" }

// Calls returns the URLs notified so far and the number of success notifications.
func (m *MockNotifier) Calls() ([]string, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.URLs...), m.Successes
}

// MockValidator accepts exactly one code and counts invocations.
type MockValidator struct {
	mu     sync.Mutex
	Accept string
	calls  int
}

func (m *MockValidator) ValidateCode(ctx context.Context, code string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return code == m.Accept
}

func (m *MockValidator) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// MockRequester returns Result from every new code request.
type MockRequester struct {
	mu     sync.Mutex
	Result bool
	calls  int
}

func (m *MockRequester) RequestNewCode(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.Result
}

func (m *MockRequester) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// MockRecorder keeps transitions in memory.
type MockRecorder struct {
	mu          sync.Mutex
	Transitions []session.Transition
}

func (m *MockRecorder) RecordTransition(ctx context.Context, t session.Transition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Transitions = append(m.Transitions, t)
	return nil
}

// States returns the destination state of every recorded transition, in order.
func (m *MockRecorder) States() []session.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]session.State, 0, len(m.Transitions))
	for _, t := range m.Transitions {
		out = append(out, t.To)
	}
	return out
}

// Last returns the most recent transition, or the zero value if none was recorded.
func (m *MockRecorder) Last() session.Transition {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Transitions) == 0 {
		return session.Transition{}
	}
	return m.Transitions[len(m.Transitions)-1]
}

// MockRoundTripper allows custom HTTP responses for testing
type MockRoundTripper struct {
	response *http.Response
	err      error
}

func NewMockRoundTripper(r *http.Response, e error) *MockRoundTripper {
	return &MockRoundTripper{response: r, err: e}
}

func (m *MockRoundTripper) RoundTrip(*http.Request) (*http.Response, error) {
	return m.response, m.err
}

// FWriter simulates a failing writer
type FWriter struct{}

func (f *FWriter) Write(p []byte) (n int, err error) {
	return 0, errors.New("write failed")
}

// FCloser simulates a failure when reading response body
type FCloser struct{}

func (f *FCloser) Read(p []byte) (n int, err error) {
	return 0, errors.New("read failed")
}

func (f *FCloser) Close() error {
	return nil
}
