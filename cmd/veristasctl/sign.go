package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"

	"github.com/0gfoundation/veristas-relay/internal/auth"
	"github.com/0gfoundation/veristas-relay/internal/operator"
)

var (
	signKey    string
	signAction string
	signTTL    time.Duration
	signCmd    = &cobra.Command{
		Use:   "sign-request <body-file|->",
		Short: "Print EIP-191 auth headers for a request body",
		Long: `Sign a request body the way a reviewer wallet does when the relay runs
with REQUIRE_SIGNATURE. The headers are printed one per line, ready for curl -H.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := readBody(cmd, args[0])
			if err != nil {
				return err
			}
			if signKey == "" {
				signKey = os.Getenv("REVIEWER_PRIVATE_KEY")
			}
			acct, err := operator.FromHex(signKey)
			if err != nil {
				return err
			}
			headers, err := auth.BuildHeaders(body, signAction, ulid.Make().String(), signTTL,
				func(msg []byte) ([]byte, error) { return auth.Sign(msg, acct.Key) },
				acct.Address.Hex())
			if err != nil {
				return err
			}
			names := make([]string, 0, len(headers))
			for k := range headers {
				names = append(names, k)
			}
			sort.Strings(names)
			for _, k := range names {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", k, headers[k])
			}
			return nil
		},
	}
)

func init() {
	signCmd.Flags().StringVar(&signKey, "key", "", "reviewer private key (default $REVIEWER_PRIVATE_KEY)")
	signCmd.Flags().StringVar(&signAction, "action", "verify-and-reward", "signed action name")
	signCmd.Flags().DurationVar(&signTTL, "ttl", 2*time.Minute, "signature lifetime (max 5m)")
	rootCmd.AddCommand(signCmd)
}

func readBody(cmd *cobra.Command, src string) ([]byte, error) {
	if src == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(src)
}
