package main

import (
	"context"
	"fmt"

	"github.com/desertthunder/otpgate/internal/repositories"
	"github.com/desertthunder/otpgate/internal/services"
	"github.com/desertthunder/otpgate/internal/session"
	"github.com/desertthunder/otpgate/internal/shared"
	"github.com/desertthunder/otpgate/internal/tasks"
	"github.com/urfave/cli/v3"
)

// Prompt serves the verification page and writes the accepted code to stdout.
//
// A failed attempt returns [shared.ErrAuthFailed] so main can exit with status 1.
func (r *Runner) Prompt(ctx context.Context, cmd *cli.Command) error {
	config, err := r.configure(cmd)
	if err != nil {
		return err
	}

	gateway := config.Gateway
	if cmd.IsSet("port-start") {
		gateway.PortStart = cmd.Int("port-start")
	}
	if cmd.IsSet("port-end") {
		gateway.PortEnd = cmd.Int("port-end")
	}
	if gateway.PortEnd < gateway.PortStart {
		return fmt.Errorf("%w: port range %d-%d", shared.ErrInvalidArgument, gateway.PortStart, gateway.PortEnd)
	}
	if cmd.Bool("no-browser") {
		gateway.OpenBrowser = false
	}

	notify := config.Notify
	switch {
	case cmd.Bool("no-notify"):
		notify.Enabled = false
	case cmd.Bool("notify"):
		notify.Enabled = true
	}

	notifier := r.notifier
	if notifier == nil {
		notifier = services.NewNotifier(notify, r.logger)
	}

	var recorder session.Recorder
	if cmd.Bool("history") {
		db, err := shared.OpenHistory(config.Database)
		if err != nil {
			r.logger.Warn("history disabled", "path", config.Database.Path, "error", err)
		} else {
			defer db.Close()
			recorder = repositories.NewTransitionRepository(db)
		}
	}

	prompt := tasks.NewPrompt(tasks.PromptOpts{
		Config:      &gateway,
		Notifier:    notifier,
		Recorder:    recorder,
		Logger:      r.logger,
		Output:      r.errOutput,
		OpenBrowser: r.openBrowser,
		ShowQR:      cmd.Bool("qr"),
	})

	code, ok := prompt.Run(ctx, cmd.Duration("timeout"))
	if !ok {
		return fmt.Errorf("%w: no verification code accepted", shared.ErrAuthFailed)
	}
	return r.writePlain("%s\n", code)
}
