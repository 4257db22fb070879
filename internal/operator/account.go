// Package operator holds the relay's own operating account.
//
// The account pays for commitment transactions and for handleOps
// submissions. It is built once from configuration and handed to the ledger
// client; nothing else in the process sees the key.
package operator

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Account is the operating key and its derived address.
type Account struct {
	Key     *ecdsa.PrivateKey
	Address common.Address
}

// FromHex parses a 32-byte hex private key, with or without the "0x" prefix.
func FromHex(raw string) (*Account, error) {
	keyHex := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if len(keyHex) != 64 {
		return nil, fmt.Errorf("operator: private key must be a 32-byte hex string (got %d chars)", len(keyHex))
	}
	key, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("operator: parse private key: %w", err)
	}
	return fromKey(key), nil
}

// Generate creates a fresh random account.
func Generate() (*Account, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("operator: generate key: %w", err)
	}
	return fromKey(key), nil
}

func fromKey(key *ecdsa.PrivateKey) *Account {
	return &Account{Key: key, Address: crypto.PubkeyToAddress(key.PublicKey)}
}

// PrivateKeyHex returns the key as "0x"-prefixed lowercase hex.
func (a *Account) PrivateKeyHex() string {
	return "0x" + hex.EncodeToString(crypto.FromECDSA(a.Key))
}
