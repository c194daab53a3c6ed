package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nomidot/valtable/pkg/render"
	"github.com/nomidot/valtable/pkg/session"
	"github.com/nomidot/valtable/pkg/utils"
	"github.com/nomidot/valtable/pkg/validators"
	"github.com/nomidot/valtable/pkg/view"
)

type tableOutput struct {
	Session  uint32                               `json:"session"`
	Complete bool                                 `json:"complete"`
	Queries  map[session.Query]session.QueryState `json:"queries"`
	Stats    validators.JoinStats                 `json:"stats"`
	Rows     []view.Row                           `json:"rows"`
}

func newTableCmd() *cobra.Command {
	var (
		sessionIdx     uint32
		decimals       uint8
		unit           string
		jsonOut        bool
		withNominators bool
	)

	cmd := &cobra.Command{
		Use:   "table",
		Short: "Fetch, join and print the validators table of a session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel, e, err := setup(cmd)
			if err != nil {
				return err
			}
			defer cancel()
			defer func() { _ = e.logger.Sync() }()

			manager, err := session.NewManager(e.client, e.logger, session.Config{
				Tracker: session.TrackerConfig{Retry: e.retry},
			})
			if err != nil {
				return err
			}
			defer manager.Close()

			if !cmd.Flags().Changed("session") {
				sessionIdx, err = manager.LatestSession(ctx)
				if err != nil {
					return err
				}
			}

			table, err := manager.Refresh(ctx, sessionIdx)
			if err != nil {
				return fmt.Errorf("session %d: %w", sessionIdx, err)
			}

			rows := view.FromTable(table, view.Options{
				Decimals:       decimals,
				Unit:           unit,
				WithNominators: withNominators,
			})

			out := cmd.OutOrStdout()
			if jsonOut {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(tableOutput{
					Session:  table.Session,
					Complete: table.Complete,
					Queries:  table.Queries,
					Stats:    table.Stats,
					Rows:     rows,
				})
			}
			return render.Write(out, fmt.Sprintf("Session %d", table.Session), rows, table.Stats)
		},
	}

	cmd.Flags().Uint32Var(&sessionIdx, "session", 0, "Session index (default: latest)")
	cmd.Flags().Uint8Var(&decimals, "decimals", uint8(utils.EnvInt("TOKEN_DECIMALS", 10)), "Token decimals")
	cmd.Flags().StringVar(&unit, "unit", utils.Env("TOKEN_UNIT", "DOT"), "Token unit")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output JSON")
	cmd.Flags().BoolVar(&withNominators, "nominators", false, "Include nominator stashes (JSON only)")
	return cmd
}
