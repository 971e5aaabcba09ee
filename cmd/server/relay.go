package main

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rl1809/registration/internal/port"
)

func newRelayCmd(a *app) *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Publish pending outbox events without serving requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			db, store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			rdb, leases, err := a.openRedis(ctx)
			if err != nil {
				return err
			}
			if rdb != nil {
				defer rdb.Close()
			}

			publisher, err := a.newPublisher()
			if err != nil {
				return fmt.Errorf("failed to connect nats: %w", err)
			}
			defer publisher.Close()

			relay := a.newRelay(store, publisher, leases, port.NopMetrics{})
			if once {
				n, err := relay.Drain(ctx)
				a.log.Info("outbox drained", slog.Int("published", n))
				return err
			}
			return relay.Run(ctx)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "drain the outbox once and exit")
	return cmd
}
