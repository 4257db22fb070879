// Package attest commits review text to the ledger and builds the FDC
// attestation request that references the commitment.
package attest

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/0gfoundation/veristas-relay/internal/chain"
)

// Status is the commitment lifecycle marker.
type Status string

const (
	StatusRequested Status = "Attestation Requested"
	// StatusConfirmed is reserved for when the hub round trip is tracked.
	StatusConfirmed Status = "Attestation Confirmed"
)

// Commitment is evidence that a review text existed at a point in ledger time.
type Commitment struct {
	ReviewHash   common.Hash   `json:"reviewHash"`
	CommitmentTx common.Hash   `json:"commitmentTx"`
	BlockNumber  uint64        `json:"blockNumber"`
	Status       Status        `json:"status"`
	Request      hexutil.Bytes `json:"request"`
	HubTx        *common.Hash  `json:"hubTx,omitempty"`
	HubError     string        `json:"hubError,omitempty"`
}

// CommitError means the commitment transaction was not sent or not included.
type CommitError struct {
	TxHash common.Hash
	Err    error
}

func (e *CommitError) Error() string {
	if e.TxHash != (common.Hash{}) {
		return fmt.Sprintf("commitment failed (tx %s): %v", e.TxHash.Hex(), e.Err)
	}
	return fmt.Sprintf("commitment failed: %v", e.Err)
}

func (e *CommitError) Unwrap() error { return e.Err }

// HubSubmissionError is a failed attestation hub round trip. It never fails
// a commitment; Commit logs it and records it on the result.
type HubSubmissionError struct {
	Hub common.Address
	Err error
}

func (e *HubSubmissionError) Error() string {
	return fmt.Sprintf("attestation hub %s: %v", e.Hub.Hex(), e.Err)
}

func (e *HubSubmissionError) Unwrap() error { return e.Err }

// Ledger is what the committer needs from the ledger client.
type Ledger interface {
	Address() common.Address
	Broadcast(ctx context.Context, to common.Address, value *big.Int, data []byte) (*types.Transaction, error)
	WaitIncluded(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)
}

// Options configures the hub step. The hub is only contacted when Submit is
// true and Hub is non-zero.
type Options struct {
	Hub    common.Address
	Submit bool
	Fee    *big.Int
}

type Committer struct {
	ledger Ledger
	opts   Options
	log    *zap.Logger
}

func NewCommitter(ledger Ledger, opts Options, log *zap.Logger) *Committer {
	if opts.Fee == nil {
		opts.Fee = new(big.Int)
	}
	return &Committer{ledger: ledger, opts: opts, log: log}
}

// Commit hashes text, records the hash in a zero-value self transaction and
// encodes the attestation request. Identical text yields the same hash but
// a fresh commitment transaction on every call.
func (c *Committer) Commit(ctx context.Context, text string) (*Commitment, error) {
	reviewHash := ReviewHash(text)
	self := c.ledger.Address()

	tx, err := c.ledger.Broadcast(ctx, self, big.NewInt(0), reviewHash.Bytes())
	if err != nil {
		return nil, &CommitError{Err: err}
	}

	receipt, err := c.ledger.WaitIncluded(ctx, tx)
	if err != nil {
		var te *chain.TimeoutError
		if errors.As(err, &te) {
			return nil, err
		}
		return nil, &CommitError{TxHash: tx.Hash(), Err: err}
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, &CommitError{TxHash: tx.Hash(), Err: errors.New("commitment tx reverted")}
	}

	out := &Commitment{
		ReviewHash:   reviewHash,
		CommitmentTx: tx.Hash(),
		BlockNumber:  receipt.BlockNumber.Uint64(),
		Status:       StatusRequested,
		Request:      EncodeRequest(tx.Hash(), reviewHash),
	}
	c.log.Info("review committed",
		zap.String("reviewHash", reviewHash.Hex()),
		zap.String("tx", tx.Hash().Hex()),
		zap.Uint64("block", out.BlockNumber),
	)

	if !c.opts.Submit || c.opts.Hub == (common.Address{}) {
		c.log.Info("attestation hub submission skipped",
			zap.String("reviewHash", reviewHash.Hex()),
			zap.String("request", hexutil.Encode(out.Request)),
		)
		return out, nil
	}

	hubTx, err := c.submitToHub(ctx, out.Request)
	if err != nil {
		c.log.Warn("attestation hub submission failed", zap.Error(err))
		out.HubError = err.Error()
		return out, nil
	}
	out.HubTx = &hubTx
	return out, nil
}

func (c *Committer) submitToHub(ctx context.Context, request []byte) (common.Hash, error) {
	fail := func(err error) (common.Hash, error) {
		return common.Hash{}, &HubSubmissionError{Hub: c.opts.Hub, Err: err}
	}

	data, err := packRequestAttestation(request)
	if err != nil {
		return fail(fmt.Errorf("pack requestAttestation: %w", err))
	}
	tx, err := c.ledger.Broadcast(ctx, c.opts.Hub, c.opts.Fee, data)
	if err != nil {
		return fail(err)
	}
	receipt, err := c.ledger.WaitIncluded(ctx, tx)
	if err != nil {
		return fail(err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fail(fmt.Errorf("requestAttestation reverted: %s", tx.Hash().Hex()))
	}
	return tx.Hash(), nil
}
