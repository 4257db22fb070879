// veristasctl is the operator CLI for the review relay: key generation,
// one-off price reads, commitments and user operation helpers.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
