// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to configuration file",
		Value:   defaultConfigPath,
	}
}

// promptCommand runs one verification attempt
func promptCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "prompt",
		Usage: "Serve a verification page and print the submitted code to stdout",
		Flags: []cli.Flag{
			configFlag(),
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Usage:   "How long to wait for a code (default: gateway.code_timeout)",
			},
			&cli.IntFlag{
				Name:  "port-start",
				Usage: "First port to try",
			},
			&cli.IntFlag{
				Name:  "port-end",
				Usage: "Last port to try",
			},
			&cli.BoolFlag{
				Name:  "no-browser",
				Usage: "Do not open the verification page in a browser",
			},
			&cli.BoolFlag{
				Name:  "notify",
				Usage: "Send push notifications even if disabled in config",
			},
			&cli.BoolFlag{
				Name:  "no-notify",
				Usage: "Do not send push notifications",
			},
			&cli.BoolFlag{
				Name:  "history",
				Usage: "Record state transitions in the history database",
			},
			&cli.BoolFlag{
				Name:  "qr",
				Usage: "Print a QR code of the verification URL",
				Value: true,
			},
		},
		Action: r.Prompt,
	}
}

// setupCommand writes the config file and prepares the history database
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "setup",
		Usage:  "Create a config file and initialize the history database",
		Flags:  []cli.Flag{configFlag()},
		Action: r.Setup,
	}
}

// historyCommand lists recorded verification attempts
func historyCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "List recent verification attempts",
		Flags: []cli.Flag{
			configFlag(),
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of sessions to list",
				Value: 20,
			},
			&cli.StringFlag{
				Name:  "session",
				Usage: "Show every transition of one session",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output raw JSON",
			},
			&cli.BoolFlag{
				Name:  "pretty",
				Usage: "Pretty-print output",
				Value: true,
			},
		},
		Action: r.History,
	}
}
