package main

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	priceCmd = &cobra.Command{
		Use:   "price",
		Short: "Read the FLR/USD reference price",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), cmdTimeout)
			defer cancel()
			p, _, err := connect(ctx, false)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), p.Prices.GetPrice(ctx))
		},
	}

	commitCmd = &cobra.Command{
		Use:   "commit <review text>",
		Short: "Commit a review hash on the ledger and print the attestation request",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			if strings.TrimSpace(text) == "" {
				return fmt.Errorf("review text is required")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), cmdTimeout)
			defer cancel()
			p, _, err := connect(ctx, true)
			if err != nil {
				return err
			}
			c, err := p.Committer.Commit(ctx, text)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), c)
		},
	}

	nonceKey int64
	nonceCmd = &cobra.Command{
		Use:   "nonce <sender>",
		Short: "Read a smart account's entry point nonce",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sender, err := parseSender(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), cmdTimeout)
			defer cancel()
			p, _, err := connect(ctx, false)
			if err != nil {
				return err
			}
			n, err := p.Resolver.GetNonce(ctx, sender, big.NewInt(nonceKey))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), n.String())
			return nil
		},
	}

	prepSender   string
	prepCallData string
	prepInitCode string
	prepareCmd   = &cobra.Command{
		Use:   "prepare",
		Short: "Build an unsigned user operation and print it with its hash",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sender, err := parseSender(prepSender)
			if err != nil {
				return err
			}
			callData, err := decodeHex("call-data", prepCallData)
			if err != nil {
				return err
			}
			initCode, err := decodeHex("init-code", prepInitCode)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), cmdTimeout)
			defer cancel()
			p, _, err := connect(ctx, false)
			if err != nil {
				return err
			}
			op, err := p.Assembler.Prepare(ctx, sender, callData, initCode)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"userOp":     op,
				"userOpHash": op.Hash(p.EntryPoint, p.ChainID),
			})
		},
	}

	balanceCmd = &cobra.Command{
		Use:   "balance",
		Short: "Show the operating account and its balance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), cmdTimeout)
			defer cancel()
			_, ledger, err := connect(ctx, true)
			if err != nil {
				return err
			}
			bal, err := ledger.Balance(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "address:  %s\nchain id: %s\nbalance:  %s\n",
				ledger.Address().Hex(), ledger.ChainID(), decimal.NewFromBigInt(bal, -18).String())
			return nil
		},
	}
)

func init() {
	nonceCmd.Flags().Int64Var(&nonceKey, "key", 0, "nonce key (uint192 lane)")
	prepareCmd.Flags().StringVar(&prepSender, "sender", "", "smart account address")
	prepareCmd.Flags().StringVar(&prepCallData, "call-data", "0x", "hex call data")
	prepareCmd.Flags().StringVar(&prepInitCode, "init-code", "0x", "hex init code")
	_ = prepareCmd.MarkFlagRequired("sender")

	rootCmd.AddCommand(priceCmd, commitCmd, nonceCmd, prepareCmd, balanceCmd)
}

func parseSender(raw string) (common.Address, error) {
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("sender must be a 20-byte hex address, got %q", raw)
	}
	return common.HexToAddress(raw), nil
}

func decodeHex(flag, raw string) ([]byte, error) {
	if raw == "" || raw == "0x" {
		return []byte{}, nil
	}
	b, err := hexutil.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("--%s: %w", flag, err)
	}
	return b, nil
}
