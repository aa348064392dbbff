package main

import (
	"context"
	"fmt"

	"github.com/desertthunder/feedbridge/internal/repositories"
	"github.com/desertthunder/feedbridge/internal/shared"
	"github.com/urfave/cli/v3"
)

// UsersList prints every user.
func (r *Runner) UsersList(ctx context.Context, cmd *cli.Command) error {
	return r.withStore(ctx, cmd, func(_ *shared.Config, s *repositories.Session) error {
		users, err := s.ListUsers(ctx)
		if err != nil {
			return err
		}

		if cmd.Bool("json") {
			return r.writeJSON(users, cmd.Bool("pretty"))
		}

		r.writePlain("Found %d users:\n\n", len(users))
		for _, u := range users {
			r.writePlain("#%d %s\n", u.Sequence, u.JID)
		}
		return nil
	})
}

// UsersRemove deletes a user; their accounts go with them.
func (r *Runner) UsersRemove(ctx context.Context, cmd *cli.Command) error {
	if err := requireFlags(cmd, "jid"); err != nil {
		return err
	}
	jid := cmd.String("jid")

	return r.withStore(ctx, cmd, func(_ *shared.Config, s *repositories.Session) error {
		user, err := s.FindUser(ctx, jid)
		if err != nil {
			return err
		}
		if err := s.Remove(ctx, user); err != nil {
			return fmt.Errorf("failed to remove user: %w", err)
		}
		return r.writePlain("✓ Removed %s and their accounts\n", jid)
	})
}
