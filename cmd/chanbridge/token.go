package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/chanbridge/chanbridge/internal/auth"
	"github.com/chanbridge/chanbridge/internal/config"
)

func tokenCmd() *cobra.Command {
	var expiresIn time.Duration
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Mint an admin API JWT for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			signed, expiresAt, err := auth.GenerateToken(args[0], cfg.Auth.JWTSecret, expiresIn)
			if err != nil {
				return fmt.Errorf("generate token: %w", err)
			}
			cmd.Printf("%s\n", signed)
			cmd.Printf("expires at %s\n", expiresAt.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().DurationVar(&expiresIn, "expires-in", 24*time.Hour, "token lifetime")
	return cmd
}
