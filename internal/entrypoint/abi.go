// Package entrypoint talks to the ERC-4337 v0.6 EntryPoint contract: nonce
// reads and handleOps relay submissions.
package entrypoint

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/0gfoundation/veristas-relay/internal/userop"
)

// DefaultAddress is the canonical v0.6 EntryPoint deployment.
var DefaultAddress = common.HexToAddress("0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789")

// Only the members the relay uses.
const entryPointABIJSON = `[
  {"type":"function","name":"getNonce","stateMutability":"view",
   "inputs":[{"name":"sender","type":"address"},{"name":"key","type":"uint192"}],
   "outputs":[{"name":"nonce","type":"uint256"}]},
  {"type":"function","name":"handleOps","stateMutability":"nonpayable",
   "inputs":[
     {"name":"ops","type":"tuple[]","internalType":"struct UserOperation[]","components":[
       {"name":"sender","type":"address"},
       {"name":"nonce","type":"uint256"},
       {"name":"initCode","type":"bytes"},
       {"name":"callData","type":"bytes"},
       {"name":"callGasLimit","type":"uint256"},
       {"name":"verificationGasLimit","type":"uint256"},
       {"name":"preVerificationGas","type":"uint256"},
       {"name":"maxFeePerGas","type":"uint256"},
       {"name":"maxPriorityFeePerGas","type":"uint256"},
       {"name":"paymasterAndData","type":"bytes"},
       {"name":"signature","type":"bytes"}]},
     {"name":"beneficiary","type":"address"}],
   "outputs":[]},
  {"type":"event","name":"UserOperationEvent","anonymous":false,
   "inputs":[
     {"name":"userOpHash","type":"bytes32","indexed":true},
     {"name":"sender","type":"address","indexed":true},
     {"name":"paymaster","type":"address","indexed":true},
     {"name":"nonce","type":"uint256","indexed":false},
     {"name":"success","type":"bool","indexed":false},
     {"name":"actualGasCost","type":"uint256","indexed":false},
     {"name":"actualGasUsed","type":"uint256","indexed":false}]},
  {"type":"error","name":"FailedOp",
   "inputs":[{"name":"opIndex","type":"uint256"},{"name":"reason","type":"string"}]}
]`

var entryPointABI = mustParseABI(entryPointABIJSON)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(fmt.Sprintf("entrypoint: parse abi: %v", err))
	}
	return parsed
}

// abiUserOp mirrors the handleOps tuple. Field names follow the ABI
// component names.
type abiUserOp struct {
	Sender               common.Address
	Nonce                *big.Int
	InitCode             []byte
	CallData             []byte
	CallGasLimit         *big.Int
	VerificationGasLimit *big.Int
	PreVerificationGas   *big.Int
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	PaymasterAndData     []byte
	Signature            []byte
}

func toABIOps(ops []*userop.UserOperation) []abiUserOp {
	out := make([]abiUserOp, len(ops))
	for i, op := range ops {
		out[i] = abiUserOp{
			Sender:               op.Sender,
			Nonce:                op.Nonce,
			InitCode:             nonNil(op.InitCode),
			CallData:             nonNil(op.CallData),
			CallGasLimit:         op.CallGasLimit,
			VerificationGasLimit: op.VerificationGasLimit,
			PreVerificationGas:   op.PreVerificationGas,
			MaxFeePerGas:         op.MaxFeePerGas,
			MaxPriorityFeePerGas: op.MaxPriorityFeePerGas,
			PaymasterAndData:     nonNil(op.PaymasterAndData),
			Signature:            nonNil(op.Signature),
		}
	}
	return out
}

// PackHandleOps encodes handleOps(ops, beneficiary).
func PackHandleOps(ops []*userop.UserOperation, beneficiary common.Address) ([]byte, error) {
	return entryPointABI.Pack("handleOps", toABIOps(ops), beneficiary)
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
