package commands

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"chorus/internal/client"
	"chorus/internal/domain"
)

// recv: run the event loop until interrupted, printing decrypted application
// messages as they arrive.
func recvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recv",
		Short: "Run the event loop and print incoming messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, p, g, err := loadServices()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			deliver := func(m domain.IncomingMessage) {
				ts := time.Unix(m.Timestamp, 0).Format(time.TimeOnly)
				fmt.Printf("%s [%s] %s: %s\n", ts, m.GroupID, m.From, m.Plaintext)
			}
			r := client.New(id.Name, wire.Relay, p, g, 0, 0, deliver,
				wire.Log.GetLogger("client"))

			fmt.Println("listening; press Ctrl-C to stop")
			if err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}
