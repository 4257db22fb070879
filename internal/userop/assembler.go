package userop

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/params"
	"go.uber.org/zap"
)

// Default gas and fee policy. Fixed constants; nothing is estimated.
var (
	DefaultCallGasLimit         = big.NewInt(100_000)
	DefaultVerificationGasLimit = big.NewInt(150_000)
	DefaultPreVerificationGas   = big.NewInt(50_000)
	DefaultMaxFeePerGas         = new(big.Int).Mul(big.NewInt(300), big.NewInt(params.GWei))
	DefaultMaxPriorityFeePerGas = new(big.Int).Mul(big.NewInt(50), big.NewInt(params.GWei))
)

// NonceSource reads the entry point's nonce for sender under key.
type NonceSource interface {
	GetNonce(ctx context.Context, sender common.Address, key *big.Int) (*big.Int, error)
}

// Assembler builds complete user operations from partial ones.
type Assembler struct {
	nonces    NonceSource
	paymaster []byte
	log       *zap.Logger

	mu    sync.Mutex
	floor map[common.Address]*big.Int // lowest nonce still allowed per sender
}

// NewAssembler returns an assembler. A zero paymaster address leaves
// paymasterAndData empty.
func NewAssembler(nonces NonceSource, paymaster common.Address, log *zap.Logger) *Assembler {
	a := &Assembler{
		nonces: nonces,
		log:    log,
		floor:  make(map[common.Address]*big.Int),
	}
	if paymaster != (common.Address{}) {
		a.paymaster = paymaster.Bytes()
	}
	return a
}

// Prepare returns an unsigned operation for sender with the resolved nonce
// and the default policy applied. initCode may be nil.
func (a *Assembler) Prepare(ctx context.Context, sender common.Address, callData, initCode []byte) (*UserOperation, error) {
	nonce, err := a.resolveNonce(ctx, sender)
	if err != nil {
		return nil, err
	}
	return &UserOperation{
		Sender:               sender,
		Nonce:                nonce,
		InitCode:             cloneBytes(orEmpty(initCode)),
		CallData:             cloneBytes(orEmpty(callData)),
		CallGasLimit:         new(big.Int).Set(DefaultCallGasLimit),
		VerificationGasLimit: new(big.Int).Set(DefaultVerificationGasLimit),
		PreVerificationGas:   new(big.Int).Set(DefaultPreVerificationGas),
		MaxFeePerGas:         new(big.Int).Set(DefaultMaxFeePerGas),
		MaxPriorityFeePerGas: new(big.Int).Set(DefaultMaxPriorityFeePerGas),
		PaymasterAndData:     cloneBytes(orEmpty(a.paymaster)),
		Signature:            []byte{},
	}, nil
}

// Complete fills every field p leaves out. Values the caller supplied,
// including nonce and signature, are kept as given. p must have passed
// Validate.
func (a *Assembler) Complete(ctx context.Context, p *Partial) (*UserOperation, error) {
	sender := p.SenderAddress()

	var nonce *big.Int
	if p.Nonce != nil {
		nonce = p.Nonce.Int()
	} else {
		n, err := a.resolveNonce(ctx, sender)
		if err != nil {
			return nil, err
		}
		nonce = n
	}

	op := &UserOperation{
		Sender:               sender,
		Nonce:                nonce,
		InitCode:             orEmpty(p.InitCode.bytes()),
		CallData:             orEmpty(p.CallData.bytes()),
		CallGasLimit:         quantityOr(p.CallGasLimit, DefaultCallGasLimit),
		VerificationGasLimit: quantityOr(p.VerificationGasLimit, DefaultVerificationGasLimit),
		PreVerificationGas:   quantityOr(p.PreVerificationGas, DefaultPreVerificationGas),
		MaxFeePerGas:         quantityOr(p.MaxFeePerGas, DefaultMaxFeePerGas),
		MaxPriorityFeePerGas: quantityOr(p.MaxPriorityFeePerGas, DefaultMaxPriorityFeePerGas),
		PaymasterAndData:     orEmpty(p.PaymasterAndData.bytes()),
		Signature:            orEmpty(p.Signature.bytes()),
	}
	if p.PaymasterAndData == nil {
		op.PaymasterAndData = cloneBytes(orEmpty(a.paymaster))
	}
	return op, nil
}

// Advance records that nonce has been included for sender, so later
// resolutions never hand it out again even if the node lags behind.
func (a *Assembler) Advance(sender common.Address, nonce *big.Int) {
	next := new(big.Int).Add(nonce, big.NewInt(1))

	a.mu.Lock()
	defer a.mu.Unlock()
	if cur, ok := a.floor[sender]; !ok || next.Cmp(cur) > 0 {
		a.floor[sender] = next
	}
}

// resolveNonce returns max(on-chain nonce, floor) and raises the floor to
// the value handed out. Read errors are returned unchanged.
func (a *Assembler) resolveNonce(ctx context.Context, sender common.Address) (*big.Int, error) {
	onchain, err := a.nonces.GetNonce(ctx, sender, new(big.Int))
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	nonce := new(big.Int).Set(onchain)
	if cur, ok := a.floor[sender]; ok && cur.Cmp(nonce) > 0 {
		a.log.Debug("on-chain nonce behind local floor",
			zap.String("sender", sender.Hex()),
			zap.String("onchain", onchain.String()),
			zap.String("floor", cur.String()),
		)
		nonce.Set(cur)
	}
	a.floor[sender] = new(big.Int).Set(nonce)
	return nonce, nil
}

func quantityOr(q *Quantity, def *big.Int) *big.Int {
	if q == nil {
		return new(big.Int).Set(def)
	}
	return q.Int()
}

func orEmpty(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
