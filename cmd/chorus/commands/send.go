package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// send <group> <message>: encrypt under the group's current generation and
// broadcast.
func sendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <group> <message>",
		Short: "Encrypt and broadcast a message to a group",
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
			if err := g.SendMessage(cmd.Context(), sess.ID(), []byte(args[1])); err != nil {
				return err
			}
			fmt.Println("sent")
			return nil
		},
	}
}
