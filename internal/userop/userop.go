// Package userop models ERC-4337 (EntryPoint v0.6) user operations and
// assembles them under the relay's default gas and fee policy.
package userop

import (
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
)

// UserOperation is the v0.6 user operation. Treat a value as immutable once
// it has been handed to the submitter; use Clone to derive a modified copy.
type UserOperation struct {
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

// Clone returns a deep copy.
func (op *UserOperation) Clone() *UserOperation {
	return &UserOperation{
		Sender:               op.Sender,
		Nonce:                cloneInt(op.Nonce),
		InitCode:             cloneBytes(op.InitCode),
		CallData:             cloneBytes(op.CallData),
		CallGasLimit:         cloneInt(op.CallGasLimit),
		VerificationGasLimit: cloneInt(op.VerificationGasLimit),
		PreVerificationGas:   cloneInt(op.PreVerificationGas),
		MaxFeePerGas:         cloneInt(op.MaxFeePerGas),
		MaxPriorityFeePerGas: cloneInt(op.MaxPriorityFeePerGas),
		PaymasterAndData:     cloneBytes(op.PaymasterAndData),
		Signature:            cloneBytes(op.Signature),
	}
}

// Complete reports whether every quantity is set and fits in a uint256.
func (op *UserOperation) Complete() bool {
	for _, v := range []*big.Int{
		op.Nonce, op.CallGasLimit, op.VerificationGasLimit,
		op.PreVerificationGas, op.MaxFeePerGas, op.MaxPriorityFeePerGas,
	} {
		if v == nil || !fitsUint256(v) {
			return false
		}
	}
	return true
}

// Hash returns the v0.6 userOpHash the sender account must sign:
//
//	keccak256(abi.encode(keccak256(pack(op)), entryPoint, chainId))
//
// pack(op) abi-encodes every field except the signature, with the three
// dynamic byte fields replaced by their keccak256.
func (op *UserOperation) Hash(entryPoint common.Address, chainID *big.Int) common.Hash {
	initHash := crypto.Keccak256Hash(op.InitCode)
	callHash := crypto.Keccak256Hash(op.CallData)
	pmHash := crypto.Keccak256Hash(op.PaymasterAndData)

	// ABI-encode: (address, uint256, bytes32, bytes32, uint256 x5, bytes32)
	packed := make([]byte, 10*32)
	copy(packed[12:32], op.Sender.Bytes()) // addr is right-aligned in 32-byte slot
	fill(packed[32:64], op.Nonce)
	copy(packed[64:96], initHash[:])
	copy(packed[96:128], callHash[:])
	fill(packed[128:160], op.CallGasLimit)
	fill(packed[160:192], op.VerificationGasLimit)
	fill(packed[192:224], op.PreVerificationGas)
	fill(packed[224:256], op.MaxFeePerGas)
	fill(packed[256:288], op.MaxPriorityFeePerGas)
	copy(packed[288:320], pmHash[:])
	inner := crypto.Keccak256Hash(packed)

	// (bytes32, address, uint256)
	outer := make([]byte, 3*32)
	copy(outer[0:32], inner[:])
	copy(outer[44:64], entryPoint.Bytes())
	fill(outer[64:96], chainID)
	return crypto.Keccak256Hash(outer)
}

// PaymasterAddress returns the first 20 bytes of PaymasterAndData, or the
// zero address when the sender pays its own fees.
func (op *UserOperation) PaymasterAddress() common.Address {
	if len(op.PaymasterAndData) < common.AddressLength {
		return common.Address{}
	}
	return common.BytesToAddress(op.PaymasterAndData[:common.AddressLength])
}

// wireOp is the JSON form used by bundlers and ethers.js: quantities and
// bytes as 0x-prefixed hex strings.
type wireOp struct {
	Sender               common.Address `json:"sender"`
	Nonce                *hexutil.Big   `json:"nonce"`
	InitCode             hexutil.Bytes  `json:"initCode"`
	CallData             hexutil.Bytes  `json:"callData"`
	CallGasLimit         *hexutil.Big   `json:"callGasLimit"`
	VerificationGasLimit *hexutil.Big   `json:"verificationGasLimit"`
	PreVerificationGas   *hexutil.Big   `json:"preVerificationGas"`
	MaxFeePerGas         *hexutil.Big   `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *hexutil.Big   `json:"maxPriorityFeePerGas"`
	PaymasterAndData     hexutil.Bytes  `json:"paymasterAndData"`
	Signature            hexutil.Bytes  `json:"signature"`
}

func (op UserOperation) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireOp{
		Sender:               op.Sender,
		Nonce:                (*hexutil.Big)(orZero(op.Nonce)),
		InitCode:             nonNil(op.InitCode),
		CallData:             nonNil(op.CallData),
		CallGasLimit:         (*hexutil.Big)(orZero(op.CallGasLimit)),
		VerificationGasLimit: (*hexutil.Big)(orZero(op.VerificationGasLimit)),
		PreVerificationGas:   (*hexutil.Big)(orZero(op.PreVerificationGas)),
		MaxFeePerGas:         (*hexutil.Big)(orZero(op.MaxFeePerGas)),
		MaxPriorityFeePerGas: (*hexutil.Big)(orZero(op.MaxPriorityFeePerGas)),
		PaymasterAndData:     nonNil(op.PaymasterAndData),
		Signature:            nonNil(op.Signature),
	})
}

// fill writes v into a 32-byte slot as a uint256. Values outside the range
// are reduced mod 2^256, as the EVM would see them; Complete rejects them
// before submission.
func fill(slot []byte, v *big.Int) {
	if v == nil {
		return
	}
	if !fitsUint256(v) {
		v = math.U256(new(big.Int).Set(v))
	}
	v.FillBytes(slot)
}

func fitsUint256(v *big.Int) bool {
	return v.Sign() >= 0 && v.BitLen() <= 256
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte{}, b...)
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

func nonNil(b []byte) hexutil.Bytes {
	if b == nil {
		return hexutil.Bytes{}
	}
	return b
}
