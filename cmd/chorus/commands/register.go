package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"chorus/internal/domain"
)

// register publishes the identity's first batch of prekey credentials so
// others can invite it. Subsequent top-ups happen via refresh or the recv
// loop.
func registerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "register",
		Short: "Publish your prekey credentials to the relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, p, _, err := loadServices()
			if err != nil {
				return err
			}
			if err := p.Refresh(cmd.Context()); err != nil {
				return err
			}
			pairs, err := wire.Pool.ListCredentials()
			if err != nil {
				return err
			}
			published := 0
			for _, pair := range pairs {
				if pair.Status == domain.CredentialAvailable {
					published++
				}
			}
			fmt.Printf("Registered with relay; %d credentials available\n", published)
			return nil
		},
	}
}
