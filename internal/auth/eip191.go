package auth

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Wallets emit personal_sign signatures as R || S || V with V in {27,28};
// go-ethereum's secp256k1 code wants V in {0,1}.
const walletVOffset = 27

// HashMessage is the EIP-191 personal_sign digest of msg.
func HashMessage(msg []byte) []byte {
	return accounts.TextHash(msg)
}

// Sign produces a wallet-form personal_sign signature over msg.
func Sign(msg []byte, key *ecdsa.PrivateKey) ([]byte, error) {
	sig, err := crypto.Sign(HashMessage(msg), key)
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += walletVOffset
	return sig, nil
}

// Recover returns the address that signed msg. Both wallet-form and raw
// recovery ids are accepted.
func Recover(msg []byte, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("invalid signature length %d", len(sig))
	}
	rsv := append([]byte(nil), sig...)
	switch v := rsv[crypto.RecoveryIDOffset]; v {
	case 0, 1:
	case walletVOffset, walletVOffset + 1:
		rsv[crypto.RecoveryIDOffset] = v - walletVOffset
	default:
		return common.Address{}, fmt.Errorf("invalid recovery id %d", v)
	}

	pub, err := crypto.SigToPub(HashMessage(msg), rsv)
	if err != nil {
		return common.Address{}, fmt.Errorf("ecrecover: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
