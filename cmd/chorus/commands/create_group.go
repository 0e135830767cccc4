package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func createGroupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create-group <name>",
		Short: "Found a new group with yourself as sole member",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, _, g, err := loadServices()
			if err != nil {
				return err
			}
			sess, err := g.Create(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Created group %q (%s)\n", sess.Name(), sess.ID())
			return nil
		},
	}
}
