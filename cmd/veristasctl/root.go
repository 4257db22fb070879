package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/0gfoundation/veristas-relay/internal/app"
	"github.com/0gfoundation/veristas-relay/internal/chain"
	"github.com/0gfoundation/veristas-relay/internal/config"
	"github.com/0gfoundation/veristas-relay/internal/operator"
)

var (
	cmdTimeout = 3 * time.Minute
	verbose    bool

	rootCmd = &cobra.Command{
		Use:           "veristasctl",
		Short:         "Operator CLI for the review relay",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	rootCmd.PersistentFlags().DurationVar(&cmdTimeout, "timeout", cmdTimeout, "overall deadline for ledger commands")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log pipeline activity to stderr")
}

// connect dials the configured ledger and assembles the pipeline. Commands
// that only read the ledger set needKey=false and run under an ephemeral
// account when PRIVATE_KEY is unset.
func connect(ctx context.Context, needKey bool) (*app.App, *chain.Client, error) {
	cfg, err := config.LoadPartial()
	if err != nil {
		return nil, nil, err
	}
	if cfg.Chain.RPCURL == "" {
		return nil, nil, fmt.Errorf("required config missing: RPC_URL")
	}

	log := zap.NewNop()
	if verbose {
		cfg.Log.Format = "console"
		if log, err = config.NewLogger(cfg.Log); err != nil {
			return nil, nil, err
		}
	}

	var acct *operator.Account
	switch {
	case cfg.Chain.PrivateKey != "":
		acct, err = operator.FromHex(cfg.Chain.PrivateKey)
	case needKey:
		err = fmt.Errorf("required config missing: PRIVATE_KEY")
	default:
		acct, err = operator.Generate()
	}
	if err != nil {
		return nil, nil, err
	}

	ledger, err := chain.Dial(ctx, cfg.Chain, acct, log.Named("chain"))
	if err != nil {
		return nil, nil, err
	}
	pipeline, err := app.New(cfg, ledger, app.Extras{}, log)
	if err != nil {
		return nil, nil, err
	}
	return pipeline, ledger, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
