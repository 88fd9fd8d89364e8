package main

import (
	"context"
	"fmt"
	"time"

	"github.com/desertthunder/otpgate/internal/repositories"
	"github.com/desertthunder/otpgate/internal/shared"
	"github.com/urfave/cli/v3"
)

// History lists recent sessions, or the transitions of one session with --session.
func (r *Runner) History(ctx context.Context, cmd *cli.Command) error {
	useJSON := cmd.Bool("json")
	pretty := cmd.Bool("pretty")

	config, err := r.configure(cmd)
	if err != nil {
		return err
	}

	db, err := shared.OpenHistory(config.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	repo := repositories.NewTransitionRepository(db)

	if id := cmd.String("session"); id != "" {
		transitions, err := repo.ListTransitions(ctx, id)
		if err != nil {
			return err
		}
		if len(transitions) == 0 {
			return fmt.Errorf("%w: no session %s", shared.ErrInvalidArgument, id)
		}
		if useJSON {
			return r.writeJSON(transitions, pretty)
		}

		r.writePlainHeader("Session " + id)
		for _, t := range transitions {
			r.writePlain("%s  %-16s -> %-16s %s", t.At.Local().Format(time.DateTime), t.From, t.To, t.Trigger)
			if t.Message != "" {
				r.writePlain(" (%s)", t.Message)
			}
			r.writePlain("\n")
		}
		return nil
	}

	sessions, err := repo.ListSessions(ctx, cmd.Int("limit"))
	if err != nil {
		return err
	}
	if useJSON {
		return r.writeJSON(sessions, pretty)
	}

	if len(sessions) == 0 {
		return r.writePlain("No verification attempts recorded.\n")
	}

	r.writePlainHeader(fmt.Sprintf("Recent verification attempts (%d)", len(sessions)))
	for _, s := range sessions {
		r.writePlain("%s  %s  %-16s %3d transitions  %s\n",
			s.StartedAt.Local().Format(time.DateTime),
			s.SessionID,
			s.FinalState,
			s.Transitions,
			s.EndedAt.Sub(s.StartedAt).Round(time.Second),
		)
		if s.Message != "" {
			r.writePlain("    %s\n", s.Message)
		}
	}
	return nil
}
