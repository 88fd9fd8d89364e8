// Push notifier for ntfy-compatible topic URLs
package services

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/otpgate/internal/shared"
)

const defaultPushTimeout = 10 * time.Second

// PushNotifier publishes plain-text messages to an ntfy-style topic.
//
// The gateway URL travels in the Click header so tapping the notification opens the page.
type PushNotifier struct {
	topicURL   string
	token      string
	title      string
	priority   string
	httpClient *http.Client
	logger     *log.Logger
}

// PushOpts contains configuration options for creating a PushNotifier.
type PushOpts struct {
	URL        string
	Token      string
	Title      string
	Priority   string
	HTTPClient *http.Client
	Logger     *log.Logger
}

// NewPushNotifier creates a new push notifier for the given topic URL.
func NewPushNotifier(opts PushOpts) (*PushNotifier, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("%w: push notifier requires a topic url", shared.ErrMissingArgument)
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: defaultPushTimeout}
	}
	if opts.Title == "" {
		opts.Title = "Verification code needed"
	}
	if opts.Priority == "" {
		opts.Priority = "high"
	}

	return &PushNotifier{
		topicURL:   opts.URL,
		token:      opts.Token,
		title:      opts.Title,
		priority:   opts.Priority,
		httpClient: opts.HTTPClient,
		logger:     shared.WithLogger(opts.Logger, "component", "notifier"),
	}, nil
}

// NewNotifier builds the notifier described by cfg, falling back to [NoopNotifier].
func NewNotifier(cfg shared.NotifyConfig, logger *log.Logger) Notifier {
	if !cfg.Enabled {
		return NoopNotifier{}
	}

	n, err := NewPushNotifier(PushOpts{
		URL:      cfg.URL,
		Token:    cfg.Token,
		Title:    cfg.Title,
		Priority: cfg.Priority,
		Logger:   logger,
	})
	if err != nil {
		shared.WithLogger(logger, "component", "notifier").Warn("push notifications disabled", "error", err)
		return NoopNotifier{}
	}
	return n
}

// Name implements [Notifier].
func (p *PushNotifier) Name() string { return "ntfy" }

// SendTwoFactorNotification implements [Notifier].
func (p *PushNotifier) SendTwoFactorNotification(ctx context.Context, url string) bool {
	msg := fmt.Sprintf("Enter your 6-digit verification code at %s", url)
	if err := p.publish(ctx, p.title, msg, url, "key"); err != nil {
		p.logger.Warn("failed to send verification notification", "error", err)
		return false
	}
	p.logger.Info("verification notification sent")
	return true
}

// SendSuccessNotification implements [Notifier].
func (p *PushNotifier) SendSuccessNotification(ctx context.Context) bool {
	if err := p.publish(ctx, "Verification complete", "Verification succeeded. You can close the page.", "", "white_check_mark"); err != nil {
		p.logger.Warn("failed to send success notification", "error", err)
		return false
	}
	p.logger.Info("success notification sent")
	return true
}

func (p *PushNotifier) publish(ctx context.Context, title, body, click, tags string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.topicURL, strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: failed to create request: %v", shared.ErrNotifyFailed, err)
	}

	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	req.Header.Set("Title", title)
	req.Header.Set("Priority", p.priority)
	req.Header.Set("Tags", tags)
	if click != "" {
		req.Header.Set("Click", click)
	}
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: request failed: %v", shared.ErrNotifyFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: status %d: %s", shared.ErrNotifyFailed, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}
