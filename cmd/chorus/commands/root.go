package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"chorus/internal/app"
	"chorus/internal/domain"
	groupsvc "chorus/internal/services/group"
	poolsvc "chorus/internal/services/pool"
)

var (
	home       string
	passphrase string
	relayURL   string
	logLevel   string

	wire *app.Wire
)

func Execute() error {
	root := &cobra.Command{
		Use:   "chorus",
		Short: "Encrypted group messaging CLI",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if home == "" {
				dir, err := os.UserHomeDir()
				if err != nil {
					return err
				}
				home = filepath.Join(dir, ".chorus")
			}
			if err := os.MkdirAll(home, 0o700); err != nil {
				return err
			}
			var err error
			wire, err = app.NewWire(app.Config{
				Home:     home,
				RelayURL: relayURL,
				LogLevel: logLevel,
			})
			return err
		},
	}

	root.PersistentFlags().StringVar(&home, "home", "", "config dir (default ~/.chorus)")
	root.PersistentFlags().StringVarP(&passphrase, "passphrase", "p", "", "passphrase protecting local keys")
	root.PersistentFlags().StringVar(&relayURL, "relay", "http://127.0.0.1:8080", "relay base URL")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "INFO", "log level (DEBUG, INFO, WARNING, ERROR)")

	root.AddCommand(
		initCmd(), fingerprintCmd(), registerCmd(), refreshCmd(),
		createGroupCmd(), inviteCmd(), sendCmd(), recvCmd(), groupsCmd(),
	)
	return root.Execute()
}

// loadServices loads the identity and builds the passphrase-bound services,
// restoring persisted sessions. Shared by every command past init.
func loadServices() (domain.Identity, *poolsvc.Service, *groupsvc.Service, error) {
	if passphrase == "" {
		return domain.Identity{}, nil, nil, fmt.Errorf("passphrase required (-p)")
	}
	id, err := wire.Identity.Load(passphrase)
	if err != nil {
		return domain.Identity{}, nil, nil, err
	}
	p, g, err := wire.UserServices(id, passphrase)
	if err != nil {
		return domain.Identity{}, nil, nil, err
	}
	return id, p, g, nil
}
