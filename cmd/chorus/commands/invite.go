package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"chorus/internal/domain"
)

// invite <group> <user>: reserve one of the user's published credentials,
// advance the group and deliver the join ticket.
func inviteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "invite <group> <user>",
		Short: "Add a user to a group",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, _, g, err := loadServices()
			if err != nil {
				return err
			}
			sess, ok, err := g.SessionByName(args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("unknown group %q", args[0])
			}
			if err := g.Invite(cmd.Context(), sess.ID(), domain.Username(args[1])); err != nil {
				return err
			}
			fmt.Printf("Invited %s to %q (generation %d)\n", args[1], args[0], sess.Generation())
			return nil
		},
	}
}
