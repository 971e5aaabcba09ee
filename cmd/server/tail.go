package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rl1809/registration/internal/adapter/messaging"
	"github.com/rl1809/registration/internal/core/domain"
)

func newTailCmd(a *app) *cobra.Command {
	var (
		durable string
		events  []string
	)
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print registration events from the bus, one per line",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rdb, dedupe, err := a.openRedis(ctx)
			if err != nil {
				return err
			}
			cfg := messaging.SubscriberConfig{
				Connect:       messaging.ConnectURL(a.cfg.NATS.URL, a.cfg.ServiceName+"-tail"),
				Log:           a.log,
				StreamName:    a.cfg.NATS.Stream,
				SubjectPrefix: a.cfg.NATS.SubjectPrefix,
				Durable:       durable,
			}
			if rdb != nil {
				defer rdb.Close()
				cfg.Dedupe = dedupe
			}
			for _, e := range events {
				cfg.Events = append(cfg.Events, domain.EventName(e))
			}

			sub, err := messaging.NewSubscriber(cfg)
			if err != nil {
				return fmt.Errorf("failed to connect nats: %w", err)
			}
			defer sub.Close()

			out := cmd.OutOrStdout()
			return sub.Consume(ctx, func(_ context.Context, ev domain.Event) error {
				_, err := fmt.Fprintf(out, "%s\t%s\n", ev.MsgID(), ev.Payload)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&durable, "durable", "", "durable consumer name (default: ephemeral, new events only)")
	cmd.Flags().StringSliceVar(&events, "event", nil, "only these event names, e.g. part-created")
	return cmd
}
