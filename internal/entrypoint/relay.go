package entrypoint

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"

	"github.com/0gfoundation/veristas-relay/internal/chain"
	"github.com/0gfoundation/veristas-relay/internal/userop"
)

var (
	// ErrDuplicateOperation means the (sender, nonce) pair was already
	// submitted through this relay.
	ErrDuplicateOperation = errors.New("duplicate user operation")
	// ErrReverted means handleOps was included but reverted.
	ErrReverted = errors.New("handleOps reverted")
	// ErrMalformed means an operation failed the structural shape check.
	ErrMalformed = errors.New("malformed user operation")
)

// SubmissionError is a failed relay submission. TxHash is zero when nothing
// was broadcast.
type SubmissionError struct {
	TxHash common.Hash
	Err    error
}

func (e *SubmissionError) Error() string {
	if e.TxHash != (common.Hash{}) {
		return fmt.Sprintf("relay submission failed (tx %s): %v", e.TxHash.Hex(), e.Err)
	}
	return fmt.Sprintf("relay submission failed: %v", e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// Ledger is what the submitter needs from the ledger client.
type Ledger interface {
	Address() common.Address
	Broadcast(ctx context.Context, to common.Address, value *big.Int, data []byte) (*types.Transaction, error)
	WaitIncluded(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)
}

// OpResult is one UserOperationEvent from the handleOps receipt.
type OpResult struct {
	UserOpHash    common.Hash    `json:"userOpHash"`
	Sender        common.Address `json:"sender"`
	Paymaster     common.Address `json:"paymaster"`
	Nonce         *big.Int       `json:"nonce"`
	Success       bool           `json:"success"`
	ActualGasCost *big.Int       `json:"actualGasCost"`
	ActualGasUsed *big.Int       `json:"actualGasUsed"`
}

// Receipt is the confirmed outcome of one handleOps submission. Success is
// the transaction status; per-operation outcomes are in Ops.
type Receipt struct {
	TxHash      common.Hash `json:"txHash"`
	BlockNumber uint64      `json:"blockNumber"`
	Success     bool        `json:"success"`
	Ops         []OpResult  `json:"ops,omitempty"`
}

// Submitter relays signed user operations through handleOps. The operating
// account is the beneficiary.
type Submitter struct {
	ledger     Ledger
	entryPoint common.Address
	guard      Guard
	log        *zap.Logger
}

// NewSubmitter returns a submitter. A nil guard selects an in-memory one.
func NewSubmitter(ledger Ledger, entryPoint common.Address, guard Guard, log *zap.Logger) *Submitter {
	if guard == nil {
		guard = NewMemoryGuard(DefaultClaimTTL)
	}
	return &Submitter{ledger: ledger, entryPoint: entryPoint, guard: guard, log: log}
}

// EntryPoint returns the contract this submitter targets.
func (s *Submitter) EntryPoint() common.Address { return s.entryPoint }

// Submit relays a single operation.
func (s *Submitter) Submit(ctx context.Context, op *userop.UserOperation) (*Receipt, error) {
	return s.SubmitBatch(ctx, []*userop.UserOperation{op})
}

// SubmitBatch relays ops in one handleOps call. Exactly one transaction is
// broadcast; there is no retry. An inclusion timeout is returned as
// *chain.TimeoutError, every other failure as *SubmissionError.
func (s *Submitter) SubmitBatch(ctx context.Context, ops []*userop.UserOperation) (*Receipt, error) {
	if len(ops) == 0 {
		return nil, &SubmissionError{Err: fmt.Errorf("%w: empty batch", ErrMalformed)}
	}
	for i, op := range ops {
		if op == nil || op.Sender == (common.Address{}) || !op.Complete() {
			return nil, &SubmissionError{Err: fmt.Errorf("%w: op %d", ErrMalformed, i)}
		}
	}

	claimed, err := s.claim(ctx, ops)
	if err != nil {
		return nil, &SubmissionError{Err: err}
	}

	data, err := PackHandleOps(ops, s.ledger.Address())
	if err != nil {
		s.release(ctx, claimed)
		return nil, &SubmissionError{Err: fmt.Errorf("pack handleOps: %w", err)}
	}

	tx, err := s.ledger.Broadcast(ctx, s.entryPoint, nil, data)
	if err != nil {
		s.release(ctx, claimed)
		return nil, &SubmissionError{Err: withRevertReason(err)}
	}
	s.log.Info("handleOps broadcast",
		zap.String("tx", tx.Hash().Hex()),
		zap.Int("ops", len(ops)),
		zap.String("sender", ops[0].Sender.Hex()),
		zap.String("nonce", ops[0].Nonce.String()),
	)

	receipt, err := s.ledger.WaitIncluded(ctx, tx)
	if err != nil {
		// The tx may still land, so the claims stay until they expire.
		var te *chain.TimeoutError
		if errors.As(err, &te) {
			return nil, err
		}
		return nil, &SubmissionError{TxHash: tx.Hash(), Err: err}
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		s.release(ctx, claimed)
		return nil, &SubmissionError{TxHash: tx.Hash(), Err: ErrReverted}
	}

	out := &Receipt{
		TxHash:      receipt.TxHash,
		BlockNumber: receipt.BlockNumber.Uint64(),
		Success:     true,
		Ops:         s.decodeEvents(receipt.Logs),
	}
	for _, r := range out.Ops {
		if !r.Success {
			s.log.Warn("user operation execution failed",
				zap.String("userOpHash", r.UserOpHash.Hex()),
				zap.String("sender", r.Sender.Hex()),
				zap.String("nonce", r.Nonce.String()),
			)
		}
	}
	return out, nil
}

// claim reserves every (sender, nonce) in ops, releasing the ones already
// taken if any pair is a duplicate.
func (s *Submitter) claim(ctx context.Context, ops []*userop.UserOperation) ([]*userop.UserOperation, error) {
	claimed := make([]*userop.UserOperation, 0, len(ops))
	for _, op := range ops {
		ok, err := s.guard.Claim(ctx, op.Sender, op.Nonce)
		if err != nil {
			s.release(ctx, claimed)
			return nil, fmt.Errorf("claim %s/%s: %w", op.Sender.Hex(), op.Nonce, err)
		}
		if !ok {
			s.release(ctx, claimed)
			return nil, fmt.Errorf("%w: sender %s nonce %s", ErrDuplicateOperation, op.Sender.Hex(), op.Nonce)
		}
		claimed = append(claimed, op)
	}
	return claimed, nil
}

func (s *Submitter) release(ctx context.Context, ops []*userop.UserOperation) {
	for _, op := range ops {
		if err := s.guard.Release(ctx, op.Sender, op.Nonce); err != nil {
			s.log.Warn("release claim failed",
				zap.String("sender", op.Sender.Hex()),
				zap.String("nonce", op.Nonce.String()),
				zap.Error(err),
			)
		}
	}
}

func (s *Submitter) decodeEvents(logs []*types.Log) []OpResult {
	ev := entryPointABI.Events["UserOperationEvent"]
	var out []OpResult
	for _, l := range logs {
		if l.Address != s.entryPoint || len(l.Topics) != 4 || l.Topics[0] != ev.ID {
			continue
		}
		var fields struct {
			Nonce         *big.Int
			Success       bool
			ActualGasCost *big.Int
			ActualGasUsed *big.Int
		}
		if err := entryPointABI.UnpackIntoInterface(&fields, "UserOperationEvent", l.Data); err != nil {
			s.log.Warn("decode UserOperationEvent", zap.Error(err))
			continue
		}
		out = append(out, OpResult{
			UserOpHash:    l.Topics[1],
			Sender:        common.BytesToAddress(l.Topics[2].Bytes()),
			Paymaster:     common.BytesToAddress(l.Topics[3].Bytes()),
			Nonce:         fields.Nonce,
			Success:       fields.Success,
			ActualGasCost: fields.ActualGasCost,
			ActualGasUsed: fields.ActualGasUsed,
		})
	}
	return out
}

// withRevertReason appends the decoded FailedOp or Error(string) reason when
// the node returned revert data with the error.
func withRevertReason(err error) error {
	var de rpc.DataError
	if !errors.As(err, &de) {
		return err
	}
	s, ok := de.ErrorData().(string)
	if !ok {
		return err
	}
	data, decErr := hexutil.Decode(s)
	if decErr != nil || len(data) < 4 {
		return err
	}
	if reason, ok := revertReason(data); ok {
		return fmt.Errorf("%w: %s", err, reason)
	}
	return err
}

func revertReason(data []byte) (string, bool) {
	failedOp := entryPointABI.Errors["FailedOp"]
	if len(data) >= 4 && bytes.Equal(data[:4], failedOp.ID[:4]) {
		vals, err := failedOp.Inputs.Unpack(data[4:])
		if err == nil && len(vals) == 2 {
			return fmt.Sprintf("FailedOp(%v, %v)", vals[0], vals[1]), true
		}
	}
	if reason, err := abi.UnpackRevert(data); err == nil {
		return reason, true
	}
	return "", false
}
