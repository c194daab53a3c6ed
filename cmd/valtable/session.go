package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nomidot/valtable/pkg/retry"
)

func newSessionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "session",
		Short: "Print the latest indexed session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel, e, err := setup(cmd)
			if err != nil {
				return err
			}
			defer cancel()
			defer func() { _ = e.logger.Sync() }()

			var latest uint32
			err = retry.WithBackoff(ctx, e.retry, e.logger, "fetch latest session", func() error {
				var ferr error
				latest, ferr = e.client.LatestSession(ctx)
				return ferr
			})
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), latest)
			return err
		},
	}
}
