package chain

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ReadError is a failed read-only contract call.
type ReadError struct {
	Contract common.Address
	Method   string
	Err      error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read %s on %s: %v", e.Method, e.Contract.Hex(), e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// TimeoutError means a broadcast transaction was not included within the
// configured wait. The transaction may still land later.
type TimeoutError struct {
	TxHash  common.Hash
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("tx %s not included after %s", e.TxHash.Hex(), e.Timeout)
}
