package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/rl1809/registration/internal/adapter/handler"
	"github.com/rl1809/registration/internal/core/domain"
)

func newTokenCmd(a *app) *cobra.Command {
	var (
		subject  string
		supplier string
		admin    bool
		ttl      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign a bearer token for local testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.Auth.HMACSecret == "" {
				return errors.New("auth.hmac_secret is required")
			}
			caller := domain.Caller{Subject: subject, Admin: admin}
			if supplier != "" {
				id, err := uuid.Parse(supplier)
				if err != nil {
					return fmt.Errorf("invalid --supplier: %w", err)
				}
				caller.SupplierID = id
			}
			if caller.SupplierID == uuid.Nil && !caller.Admin {
				return errors.New("one of --supplier or --admin is required")
			}

			token, err := handler.NewAuthenticator(a.cfg.Auth.HMACSecret, a.cfg.Auth.Issuer).Issue(caller, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "cli", "token subject, recorded as createdBy/updatedBy")
	cmd.Flags().StringVar(&supplier, "supplier", "", "supplier id the caller acts for")
	cmd.Flags().BoolVar(&admin, "admin", false, "grant admin rights")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}
