package entrypoint

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/0gfoundation/veristas-relay/internal/chain"
)

// Caller performs read-only contract calls.
type Caller interface {
	Call(ctx context.Context, to common.Address, data []byte) ([]byte, error)
}

// Resolver reads per-sender nonces from the entry point.
type Resolver struct {
	ledger     Caller
	entryPoint common.Address
}

func NewResolver(ledger Caller, entryPoint common.Address) *Resolver {
	return &Resolver{ledger: ledger, entryPoint: entryPoint}
}

// GetNonce returns getNonce(sender, key). Any failure comes back as a
// *chain.ReadError; callers must not fall back to zero.
func (r *Resolver) GetNonce(ctx context.Context, sender common.Address, key *big.Int) (*big.Int, error) {
	if key == nil {
		key = new(big.Int)
	}
	data, err := entryPointABI.Pack("getNonce", sender, key)
	if err != nil {
		return nil, r.readErr(fmt.Errorf("pack: %w", err))
	}
	out, err := r.ledger.Call(ctx, r.entryPoint, data)
	if err != nil {
		return nil, r.readErr(err)
	}
	vals, err := entryPointABI.Unpack("getNonce", out)
	if err != nil {
		return nil, r.readErr(fmt.Errorf("unpack: %w", err))
	}
	nonce, ok := vals[0].(*big.Int)
	if !ok {
		return nil, r.readErr(fmt.Errorf("unexpected output type %T", vals[0]))
	}
	return nonce, nil
}

func (r *Resolver) readErr(err error) error {
	return &chain.ReadError{Contract: r.entryPoint, Method: "getNonce", Err: err}
}
