package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"NeoLink-Agent/internal/api"
	"NeoLink-Agent/internal/auth"
)

func newTokenCommand(opts *rootOptions) *cobra.Command {
	var scopes []string
	cmd := &cobra.Command{
		Use:   "token <subject>",
		Short: "Issue a bearer token for the JSON API",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			svc, err := auth.NewService(auth.Config{
				Mode:       auth.ModeJWT,
				Secret:     cfg.Auth.Secret,
				Issuer:     cfg.Auth.Issuer,
				TTLSeconds: cfg.Auth.TTLSeconds,
			})
			if err != nil {
				return err
			}
			token, err := svc.Issue(args[0], scopes...)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringSliceVar(&scopes, "scope", []string{api.ScopeMessagesWrite, api.ScopeTurnsRead}, "scopes granted to the token")
	return cmd
}
