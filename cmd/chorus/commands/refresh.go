package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// refresh reconciles the local credential pool against the registry, minting
// and uploading fresh credentials when the registry count is below the
// watermark.
func refreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Reconcile the credential pool against the registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, p, _, err := loadServices()
			if err != nil {
				return err
			}
			if err := p.Refresh(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("pool refreshed")
			return nil
		},
	}
}
