package userop

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Partial is a user operation as a caller submits it. Only Sender is
// required; the assembler fills whatever else is missing.
type Partial struct {
	Sender               string    `json:"sender" validate:"required,eth_addr"`
	Nonce                *Quantity `json:"nonce,omitempty"`
	InitCode             *Bytes    `json:"initCode,omitempty"`
	CallData             *Bytes    `json:"callData,omitempty"`
	CallGasLimit         *Quantity `json:"callGasLimit,omitempty"`
	VerificationGasLimit *Quantity `json:"verificationGasLimit,omitempty"`
	PreVerificationGas   *Quantity `json:"preVerificationGas,omitempty"`
	MaxFeePerGas         *Quantity `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas *Quantity `json:"maxPriorityFeePerGas,omitempty"`
	PaymasterAndData     *Bytes    `json:"paymasterAndData,omitempty"`
	Signature            *Bytes    `json:"signature,omitempty"`
}

// Validate checks the structural shape of the partial operation. Every
// quantity must fit in a uint256.
func (p *Partial) Validate() error {
	if err := validate.Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("userOp.%s: failed %q check", lowerFirst(fe.Field()), fe.Tag())
		}
		return err
	}
	for _, f := range []struct {
		name string
		q    *Quantity
	}{
		{"nonce", p.Nonce},
		{"callGasLimit", p.CallGasLimit},
		{"verificationGasLimit", p.VerificationGasLimit},
		{"preVerificationGas", p.PreVerificationGas},
		{"maxFeePerGas", p.MaxFeePerGas},
		{"maxPriorityFeePerGas", p.MaxPriorityFeePerGas},
	} {
		if f.q != nil && !fitsUint256(&f.q.v) {
			return fmt.Errorf("userOp.%s: out of uint256 range", f.name)
		}
	}
	return nil
}

// SenderAddress returns the parsed sender. Call Validate first.
func (p *Partial) SenderAddress() common.Address {
	return common.HexToAddress(p.Sender)
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

// Quantity is a non-negative integer that decodes from a JSON number, a
// decimal string or a 0x-prefixed hex string.
type Quantity struct {
	v big.Int
}

// NewQuantity wraps a non-negative integer.
func NewQuantity(v *big.Int) *Quantity {
	q := &Quantity{}
	q.v.Set(v)
	return q
}

// Int returns a copy of the value.
func (q *Quantity) Int() *big.Int {
	return new(big.Int).Set(&q.v)
}

func (q *Quantity) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	s := string(data)
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
	}
	s = strings.TrimSpace(s)

	var (
		v  *big.Int
		ok bool
	)
	switch {
	case s == "":
		return fmt.Errorf("empty quantity")
	case strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X"):
		if len(s) == 2 {
			return fmt.Errorf("invalid hex quantity %q", s)
		}
		v, ok = new(big.Int).SetString(s[2:], 16)
	default:
		v, ok = new(big.Int).SetString(s, 10)
	}
	if !ok {
		return fmt.Errorf("invalid quantity %q", s)
	}
	if v.Sign() < 0 {
		return fmt.Errorf("negative quantity %q", s)
	}
	if v.BitLen() > 256 {
		return fmt.Errorf("quantity %q exceeds 256 bits", s)
	}
	q.v.Set(v)
	return nil
}

func (q Quantity) MarshalJSON() ([]byte, error) {
	return json.Marshal(hexutil.EncodeBig(&q.v))
}

// Bytes decodes from a 0x-prefixed hex string. An empty string or "0x"
// yields empty bytes.
type Bytes []byte

func (b *Bytes) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("bytes must be a hex string: %w", err)
	}
	if s == "" || s == "0x" {
		*b = Bytes{}
		return nil
	}
	raw, err := hexutil.Decode(s)
	if err != nil {
		return fmt.Errorf("invalid hex bytes %q: %w", s, err)
	}
	*b = raw
	return nil
}

func (b Bytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(hexutil.Encode(b))
}

func (b *Bytes) bytes() []byte {
	if b == nil {
		return nil
	}
	return append([]byte{}, (*b)...)
}
