package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	log "carpool/cloudlog"
)

func newSearchCmd() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "search QUERY...",
		Short: "Search users by name",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			cfg, err := setup(ctx)
			if err != nil {
				return err
			}
			defer log.Close()

			b, err := openBackend(ctx, cfg)
			if err != nil {
				return err
			}
			defer b.Close()

			api := b.newAPI()
			if email != "" {
				if _, err := api.SignIn(ctx, email, password); err != nil {
					return err
				}
			} else if password != "" {
				return errors.New("--password needs --email")
			}
			users, err := api.Search(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, u := range users {
				fmt.Fprintf(out, "%s\t%s\n", u.Key, u.DisplayName())
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "sign in as this user instead of anonymously")
	cmd.Flags().StringVarP(&password, "password", "p", "", "password for --email")
	return cmd
}
