package tasks

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/otpgate/internal/ratelimit"
	"github.com/desertthunder/otpgate/internal/server"
	"github.com/desertthunder/otpgate/internal/services"
	"github.com/desertthunder/otpgate/internal/session"
	"github.com/desertthunder/otpgate/internal/shared"
	"github.com/desertthunder/otpgate/internal/ui"
)

// PromptOpts contains the collaborators of a [Prompt]. Nil fields fall back to defaults.
type PromptOpts struct {
	Config      *shared.GatewayConfig // nil: embedded defaults
	Validator   session.Validator
	Requester   session.CodeRequester
	Notifier    services.Notifier
	Recorder    session.Recorder
	Logger      *log.Logger
	Output      io.Writer // banner and outcome; nil disables terminal output
	OpenBrowser shared.BrowserLauncher
	ShowQR      bool
}

// Prompt runs verification attempts with a fixed configuration.
type Prompt struct {
	cfg         shared.GatewayConfig
	validator   session.Validator
	requester   session.CodeRequester
	notifier    services.Notifier
	recorder    session.Recorder
	base        *log.Logger
	logger      *log.Logger
	out         io.Writer
	openBrowser shared.BrowserLauncher
	showQR      bool
}

// NewPrompt creates a [Prompt] from opts.
func NewPrompt(opts PromptOpts) *Prompt {
	cfg := shared.DefaultConfig().Gateway
	if opts.Config != nil {
		cfg = *opts.Config
	}
	if opts.Notifier == nil {
		opts.Notifier = services.NoopNotifier{}
	}
	if opts.OpenBrowser == nil {
		opts.OpenBrowser = shared.OpenBrowser
	}

	return &Prompt{
		cfg:         cfg,
		validator:   opts.Validator,
		requester:   opts.Requester,
		notifier:    opts.Notifier,
		recorder:    opts.Recorder,
		base:        opts.Logger,
		logger:      shared.WithLogger(opts.Logger, "component", "prompt"),
		out:         opts.Output,
		openBrowser: opts.OpenBrowser,
		showQR:      opts.ShowQR,
	}
}

// Run performs one verification attempt and returns the accepted code.
//
// A non-positive timeout uses the configured code timeout. ok is false on bind failure,
// timeout, session expiry, rejection, cancellation of ctx or any internal panic.
func (p *Prompt) Run(ctx context.Context, timeout time.Duration) (code string, ok bool) {
	ctrl := session.NewController(session.Options{
		SessionTimeout:   p.cfg.SessionTimeout.Duration,
		CodeTimeout:      p.cfg.CodeTimeout.Duration,
		RequireValidator: p.cfg.RequireValidator,
		Validator:        p.validator,
		Requester:        p.requester,
		Recorder:         p.recorder,
		Logger:           p.base,
	})
	logger := p.logger.With("session", ctrl.ID())

	gw := server.NewGateway(ctrl, server.GatewayOpts{
		Host:          p.cfg.Host,
		PortStart:     p.cfg.PortStart,
		PortEnd:       p.cfg.PortEnd,
		Limiter:       ratelimit.New(p.cfg.MaxPerMinute, p.cfg.MaxPerHour),
		Throttle:      ratelimit.NewThrottle(p.cfg.NewCodeInterval.Duration),
		LockoutWindow: p.cfg.LockoutWindow.Duration,
		Logger:        p.base,
	})

	if err := gw.Start(); err != nil {
		logger.Error("could not start verification gateway", "error", err)
		ctrl.SetState(session.Failed, err.Error())
		ui.Print(p.out, ui.Outcome(false, err.Error()))
		return "", false
	}

	defer func() {
		p.linger(ctx)
		if err := gw.Stop(server.DefaultStopDeadline); err != nil {
			logger.Warn("gateway stop", "error", err)
		}
	}()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("verification aborted", "panic", r)
			ctrl.SetState(session.Failed, fmt.Sprint(r))
			code, ok = "", false
		}
		ui.Print(p.out, ui.Outcome(ok, outcomeDetail(ctrl)))
	}()

	url := gw.URL()
	ui.Print(p.out, ui.Banner(url, p.showQR))

	if !p.notifier.SendTwoFactorNotification(ctx, url) {
		logger.Debug("verification request not delivered", "notifier", p.notifier.Name())
	}

	logger.Info("verification page ready", "url", url)
	if p.cfg.OpenBrowser {
		if err := p.openBrowser(url); err != nil {
			logger.Warn("could not open browser; visit the URL manually", "url", url, "error", err)
		}
	}

	submitted, woke := ctrl.WaitForCode(ctx, timeout)
	if !woke {
		logger.Warn("no verification code received", "status", ctrl.Status().Status)
		return "", false
	}

	if ctrl.State() != session.Authenticated {
		logger.Warn("verification code rejected")
		return "", false
	}

	if !p.notifier.SendSuccessNotification(ctx) {
		logger.Debug("success notification not delivered", "notifier", p.notifier.Name())
	}
	logger.Info("verification complete")
	return submitted, true
}

// linger keeps the gateway up long enough for one more status poll.
func (p *Prompt) linger(ctx context.Context) {
	d := p.cfg.Linger.Duration
	if d <= 0 {
		return
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

func outcomeDetail(ctrl *session.Controller) string {
	st := ctrl.Status()
	if st.Message != nil {
		return *st.Message
	}
	return ""
}
