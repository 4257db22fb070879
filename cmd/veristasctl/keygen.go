package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/0gfoundation/veristas-relay/internal/operator"
)

var (
	envFile   string
	keygenCmd = &cobra.Command{
		Use:   "keygen",
		Short: "Generate an operating account",
		Long: `Generate a fresh operating key. With --env-file the key is written
into the file as PRIVATE_KEY and WALLET_ADDRESS, replacing existing entries
and keeping every other line.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			acct, err := operator.Generate()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if envFile == "" {
				fmt.Fprintf(out, "PRIVATE_KEY=%s\nWALLET_ADDRESS=%s\n", acct.PrivateKeyHex(), acct.Address.Hex())
				return nil
			}
			if err := writeEnvFile(envFile, acct); err != nil {
				return err
			}
			fmt.Fprintf(out, "wrote %s\naddress: %s\nfund this address before starting the relay\n", envFile, acct.Address.Hex())
			return nil
		},
	}
)

func init() {
	keygenCmd.Flags().StringVar(&envFile, "env-file", "", "write PRIVATE_KEY and WALLET_ADDRESS into this .env file")
	rootCmd.AddCommand(keygenCmd)
}

func writeEnvFile(path string, acct *operator.Account) error {
	existing, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("read %s: %w", path, err)
	}
	updated := upsertEnv(string(existing), [][2]string{
		{"PRIVATE_KEY", acct.PrivateKeyHex()},
		{"WALLET_ADDRESS", acct.Address.Hex()},
	})
	return os.WriteFile(path, []byte(updated), 0o600)
}

// upsertEnv replaces KEY=... lines for each pair, appending pairs not
// present. Other lines, comments included, are kept in order.
func upsertEnv(contents string, pairs [][2]string) string {
	var lines []string
	if contents != "" {
		lines = strings.Split(strings.TrimRight(contents, "\n"), "\n")
	}
	for _, kv := range pairs {
		entry := kv[0] + "=" + kv[1]
		found := false
		for i, line := range lines {
			if strings.HasPrefix(strings.TrimSpace(line), kv[0]+"=") {
				lines[i] = entry
				found = true
			}
		}
		if !found {
			lines = append(lines, entry)
		}
	}
	return strings.Join(lines, "\n") + "\n"
}
