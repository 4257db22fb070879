package main

import (
	"bytes"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/0gfoundation/veristas-relay/internal/auth"
	"github.com/0gfoundation/veristas-relay/internal/operator"
)

func TestSignRequest(t *testing.T) {
	acct, err := operator.Generate()
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "body.json")
	if err := os.WriteFile(path, []byte(`{"reviewText":"ok"}`), 0o600); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"sign-request", "--key", acct.PrivateKeyHex(), path})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}

	headers := map[string]string{}
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		k, v, ok := strings.Cut(line, ": ")
		if !ok {
			t.Fatalf("bad line %q", line)
		}
		headers[k] = v
	}
	if headers["X-Wallet-Address"] != acct.Address.Hex() {
		t.Fatalf("wallet = %q", headers["X-Wallet-Address"])
	}
	msg, err := base64.StdEncoding.DecodeString(headers["X-Signed-Message"])
	if err != nil {
		t.Fatal(err)
	}
	sig, err := hexutil.Decode(headers["X-Wallet-Signature"])
	if err != nil {
		t.Fatal(err)
	}
	signer, err := auth.Recover(msg, sig)
	if err != nil || signer != acct.Address {
		t.Errorf("signature recovers %s (%v), want %s", signer.Hex(), err, acct.Address.Hex())
	}
}
