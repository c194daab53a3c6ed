package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nomidot/valtable/pkg/logging"
	"github.com/nomidot/valtable/pkg/retry"
	"github.com/nomidot/valtable/pkg/rpc"
	"github.com/nomidot/valtable/pkg/utils"
)

// rootCmd wires the CLI surface. Persistent flags pick the indexer and
// logging; subcommands query it.
var rootCmd = &cobra.Command{
	Use:           "valtable",
	Short:         "Validators table for staking sessions",
	Long:          "Query a staking indexer and print the per-validator table of a session: stake, nominators, commission and offline reports.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var (
	flagEndpoint string
	flagTimeout  time.Duration
	flagLogLevel string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&flagEndpoint, "endpoint", utils.Env("GRAPHQL_ENDPOINTS", ""), "GraphQL endpoint(s), comma separated (env GRAPHQL_ENDPOINTS)")
	rootCmd.PersistentFlags().DurationVar(&flagTimeout, "timeout", 30*time.Second, "Overall timeout")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", utils.Env("LOG_LEVEL", "warn"), "Log level: debug|info|warn|error")

	rootCmd.AddCommand(newTableCmd(), newSessionCmd())
}

type env struct {
	client rpc.Client
	logger *zap.Logger
	retry  retry.Config
}

func setup(cmd *cobra.Command) (context.Context, context.CancelFunc, *env, error) {
	logger, err := logging.NewConsole(flagLogLevel)
	if err != nil {
		return nil, nil, nil, err
	}

	opts := rpc.OptsFromEnv()
	opts.Endpoints = rpc.SplitEndpoints(flagEndpoint)
	if len(opts.Endpoints) == 0 {
		return nil, nil, nil, fmt.Errorf("--endpoint is required: %w", rpc.ErrNoEndpoints)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), flagTimeout)
	return ctx, cancel, &env{
		client: rpc.NewHTTPWithOpts(opts),
		logger: logger,
		retry:  retry.ConfigFromEnv(),
	}, nil
}
