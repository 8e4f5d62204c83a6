package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"NeoLink-Agent/internal/session"
)

func newClassifyCommand(opts *rootOptions) *cobra.Command {
	var (
		asJSON bool
		wallet string
	)
	cmd := &cobra.Command{
		Use:   "classify <message>",
		Short: "Print the intent a message would be routed to",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			classifier, err := buildClassifier(cfg)
			if err != nil {
				return err
			}
			result := classifier.Classify(strings.Join(args, " "), session.Session{WalletAddress: wallet})
			out := cmd.OutOrStdout()
			if asJSON {
				return json.NewEncoder(out).Encode(result)
			}
			_, err = fmt.Fprintln(out, result.String())
			return err
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the intent as JSON")
	cmd.Flags().StringVar(&wallet, "wallet", "", "pretend the sender already registered this wallet")
	return cmd
}
