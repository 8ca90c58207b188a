package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/puppals/mediastore/internal/config"
	"github.com/puppals/mediastore/internal/service"
	"github.com/spf13/cobra"
)

func TokenCmd() *cobra.Command {
	var (
		userID string
		expiry time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for a user id",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return errors.New("--user is required")
			}

			cfg := config.Load()
			if !cmd.Flags().Changed("expiry") {
				expiry = cfg.JWTExpiry
			}

			token, err := service.NewAuthService(cfg.JWTSecret, expiry).GenerateJWT(userID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "user id placed in the sub claim")
	cmd.Flags().DurationVar(&expiry, "expiry", 24*time.Hour, "token lifetime (default JWT_EXPIRY)")
	return cmd
}
