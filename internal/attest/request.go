package attest

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// VerificationType is the FDC attestation type tag, "EVMTransaction"
// right-padded to 32 bytes.
var VerificationType = func() (out [32]byte) {
	copy(out[:], "EVMTransaction")
	return out
}()

const hubABIJSON = `[
  {"type":"function","name":"requestAttestation","stateMutability":"payable",
   "inputs":[{"name":"data","type":"bytes"}],"outputs":[]}
]`

var hubABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(hubABIJSON))
	if err != nil {
		panic(fmt.Sprintf("attest: parse hub abi: %v", err))
	}
	return parsed
}()

// ReviewHash is keccak256 of the UTF-8 bytes of text.
func ReviewHash(text string) common.Hash {
	return crypto.Keccak256Hash([]byte(text))
}

// EncodeRequest returns abi.encode(bytes32 type, bytes32 txHash, bytes32 reviewHash).
func EncodeRequest(commitmentTx, reviewHash common.Hash) []byte {
	encoded := make([]byte, 3*32)
	copy(encoded[0:32], VerificationType[:])
	copy(encoded[32:64], commitmentTx[:])
	copy(encoded[64:96], reviewHash[:])
	return encoded
}

func packRequestAttestation(request []byte) ([]byte, error) {
	return hubABI.Pack("requestAttestation", request)
}
