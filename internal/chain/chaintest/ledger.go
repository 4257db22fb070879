// Package chaintest provides a scripted in-memory ledger for unit tests.
//
// Ledger has the same method set as chain.Client so it can stand in for it
// wherever a component accepts an interface. Every call is recorded.
package chaintest

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Call is one recorded read-only call.
type Call struct {
	To   common.Address
	Data []byte
}

// Ledger is a stub ledger. Zero value is usable; set the exported hooks
// before use to script behaviour.
type Ledger struct {
	From common.Address

	// CallFunc answers Call. Nil returns empty output.
	CallFunc func(to common.Address, data []byte) ([]byte, error)
	// BroadcastErr rejects broadcasts addressed to the given contract.
	BroadcastErr map[common.Address]error
	// Revert marks receipts of transactions sent to the given address as failed.
	Revert map[common.Address]bool
	// WaitErr is returned by WaitIncluded when set.
	WaitErr error
	// LogsFunc supplies receipt logs for an included transaction.
	LogsFunc func(tx *types.Transaction) []*types.Log

	mu       sync.Mutex
	calls    []Call
	sent     []*types.Transaction
	waits    int
	rejected int
	nonce    uint64
	block    uint64
}

// New returns a ledger whose operating account is from.
func New(from common.Address) *Ledger {
	return &Ledger{From: from}
}

func (l *Ledger) Address() common.Address { return l.From }

func (l *Ledger) ChainID() *big.Int { return big.NewInt(1337) }

func (l *Ledger) Balance(context.Context) (*big.Int, error) {
	return big.NewInt(1e18), nil
}

func (l *Ledger) Call(_ context.Context, to common.Address, data []byte) ([]byte, error) {
	l.mu.Lock()
	l.calls = append(l.calls, Call{To: to, Data: append([]byte(nil), data...)})
	fn := l.CallFunc
	l.mu.Unlock()

	if fn == nil {
		return nil, nil
	}
	return fn(to, data)
}

// Broadcast records an unsigned legacy transaction. Each one carries a fresh
// sequence number so hashes are distinct.
func (l *Ledger) Broadcast(_ context.Context, to common.Address, value *big.Int, data []byte) (*types.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.BroadcastErr[to]; err != nil {
		l.rejected++
		return nil, err
	}
	if value == nil {
		value = new(big.Int)
	}
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    l.nonce,
		To:       &to,
		Value:    value,
		Gas:      21_000,
		GasPrice: big.NewInt(1),
		Data:     append([]byte(nil), data...),
	})
	l.nonce++
	l.sent = append(l.sent, tx)
	return tx, nil
}

func (l *Ledger) WaitIncluded(_ context.Context, tx *types.Transaction) (*types.Receipt, error) {
	l.mu.Lock()
	l.waits++
	if l.WaitErr != nil {
		err := l.WaitErr
		l.mu.Unlock()
		return nil, err
	}
	l.block++
	block := l.block
	status := types.ReceiptStatusSuccessful
	if to := tx.To(); to != nil && l.Revert[*to] {
		status = types.ReceiptStatusFailed
	}
	logsFn := l.LogsFunc
	l.mu.Unlock()

	r := &types.Receipt{
		Status:      status,
		TxHash:      tx.Hash(),
		BlockNumber: new(big.Int).SetUint64(block),
	}
	if logsFn != nil && status == types.ReceiptStatusSuccessful {
		r.Logs = logsFn(tx)
	}
	return r, nil
}

// Calls returns the recorded read-only calls.
func (l *Ledger) Calls() []Call {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Call(nil), l.calls...)
}

// Sent returns the recorded broadcasts.
func (l *Ledger) Sent() []*types.Transaction {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*types.Transaction(nil), l.sent...)
}

// Interactions counts every call, broadcast attempt and wait.
func (l *Ledger) Interactions() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.calls) + len(l.sent) + l.rejected + l.waits
}
