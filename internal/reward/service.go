// Package reward sequences a review submission: commit the review, read the
// reference price and relay the caller's user operation when one is given.
package reward

import (
	"context"
	"encoding/json"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/0gfoundation/veristas-relay/internal/attest"
	"github.com/0gfoundation/veristas-relay/internal/entrypoint"
	"github.com/0gfoundation/veristas-relay/internal/events"
	"github.com/0gfoundation/veristas-relay/internal/ftso"
	"github.com/0gfoundation/veristas-relay/internal/metrics"
	"github.com/0gfoundation/veristas-relay/internal/userop"
)

// DefaultAmount is the fixed reward quoted per review.
const DefaultAmount = 10

const MessageVerificationOnly = "Review Verified. No UserOp provided."

type Committer interface {
	Commit(ctx context.Context, text string) (*attest.Commitment, error)
}

type PriceSource interface {
	GetPrice(ctx context.Context) ftso.Quote
}

type Assembler interface {
	Complete(ctx context.Context, p *userop.Partial) (*userop.UserOperation, error)
	Advance(sender common.Address, nonce *big.Int)
}

type Submitter interface {
	Submit(ctx context.Context, op *userop.UserOperation) (*entrypoint.Receipt, error)
	EntryPoint() common.Address
}

// Deps are the collaborators of Service. Publisher and Metrics are optional.
type Deps struct {
	Committer Committer
	Prices    PriceSource
	Assembler Assembler
	Submitter Submitter
	Publisher events.Publisher
	Metrics   *metrics.Metrics
	ChainID   *big.Int
}

type Service struct {
	deps   Deps
	amount int64
	log    *zap.Logger
}

func NewService(deps Deps, amount int64, log *zap.Logger) *Service {
	if deps.Publisher == nil {
		deps.Publisher = events.Nop{}
	}
	if amount <= 0 {
		amount = DefaultAmount
	}
	return &Service{deps: deps, amount: amount, log: log}
}

// Result is the aggregate of one verified review.
type Result struct {
	Success          bool                `json:"success"`
	Message          string              `json:"message,omitempty"`
	VerificationOnly bool                `json:"verificationOnly,omitempty"`
	Attestation      *attest.Commitment  `json:"attestation"`
	PriceData        ftso.Quote          `json:"priceData"`
	UserOpHash       *common.Hash        `json:"userOpHash,omitempty"`
	TxHash           *common.Hash        `json:"txHash,omitempty"`
	Receipt          *entrypoint.Receipt `json:"receipt,omitempty"`
}

// Quote is the reward offer. Amount does not depend on the price.
type Quote struct {
	RewardAmount int64
	FLRPrice     decimal.Decimal
	PriceSource  string
}

func (q Quote) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		RewardAmount int64       `json:"rewardAmount"`
		FLRPrice     json.Number `json:"flrPrice"`
		PriceSource  string      `json:"priceSource"`
	}{q.RewardAmount, json.Number(q.FLRPrice.String()), q.PriceSource})
}

// Meta carries request-scoped context for logs and events.
type Meta struct {
	RequestID string
	Reviewer  string
}

// Quote reads the price and returns the fixed reward amount.
func (s *Service) Quote(ctx context.Context) Quote {
	q := s.deps.Prices.GetPrice(ctx)
	if q.Source == ftso.SourceFallback {
		s.deps.Metrics.IncPriceFallback()
	}
	return Quote{RewardAmount: s.amount, FLRPrice: q.Price, PriceSource: q.Source}
}

// VerifyAndReward runs commit, price and (when op is non-nil) submit in that
// order. The first failing stage aborts the call with a *StageError; bad
// input fails with *ValidationError before the ledger is touched.
func (s *Service) VerifyAndReward(ctx context.Context, text string, op *userop.Partial, meta Meta) (*Result, error) {
	log := s.log.With(zap.String("request_id", meta.RequestID))
	if meta.Reviewer != "" {
		log = log.With(zap.String("reviewer", meta.Reviewer))
	}

	if err := validate(text, op); err != nil {
		s.deps.Metrics.Observe(metrics.StageValidate, time.Now(), err)
		return nil, err
	}

	// 1. Commitment
	start := time.Now()
	commitment, err := s.deps.Committer.Commit(ctx, text)
	s.deps.Metrics.Observe(metrics.StageCommit, start, err)
	if err != nil {
		log.Error("commit failed", zap.Error(err))
		return nil, &StageError{Stage: metrics.StageCommit, Err: err}
	}
	if commitment.HubError != "" {
		s.deps.Metrics.IncHubFailure()
	}

	// 2. Price (advisory, never fails)
	start = time.Now()
	price := s.deps.Prices.GetPrice(ctx)
	s.deps.Metrics.Observe(metrics.StagePrice, start, nil)
	if price.Source == ftso.SourceFallback {
		s.deps.Metrics.IncPriceFallback()
	}

	res := &Result{
		Success:     true,
		Attestation: commitment,
		PriceData:   price,
	}

	// 3. Relay
	if op == nil {
		res.Message = MessageVerificationOnly
		res.VerificationOnly = true
		log.Info("review verified", zap.String("reviewHash", commitment.ReviewHash.Hex()))
		s.publish(ctx, log, meta, res, "")
		return res, nil
	}

	start = time.Now()
	full, err := s.deps.Assembler.Complete(ctx, op)
	s.deps.Metrics.Observe(metrics.StageAssemble, start, err)
	if err != nil {
		log.Error("assemble user operation failed", zap.Error(err))
		return nil, &StageError{Stage: metrics.StageAssemble, Err: err}
	}
	if s.deps.ChainID != nil {
		h := full.Hash(s.deps.Submitter.EntryPoint(), s.deps.ChainID)
		res.UserOpHash = &h
	}

	start = time.Now()
	receipt, err := s.deps.Submitter.Submit(ctx, full)
	s.deps.Metrics.Observe(metrics.StageSubmit, start, err)
	if err != nil {
		log.Error("relay submission failed",
			zap.String("sender", full.Sender.Hex()),
			zap.String("nonce", full.Nonce.String()),
			zap.Error(err),
		)
		return nil, &StageError{Stage: metrics.StageSubmit, Err: err}
	}
	s.deps.Assembler.Advance(full.Sender, full.Nonce)

	res.TxHash = &receipt.TxHash
	res.Receipt = receipt
	log.Info("review verified and user operation relayed",
		zap.String("reviewHash", commitment.ReviewHash.Hex()),
		zap.String("tx", receipt.TxHash.Hex()),
		zap.Uint64("block", receipt.BlockNumber),
	)
	s.publish(ctx, log, meta, res, full.Sender.Hex())
	return res, nil
}

func validate(text string, op *userop.Partial) error {
	if strings.TrimSpace(text) == "" {
		return &ValidationError{Field: "reviewText", Reason: "review text is required"}
	}
	if op != nil {
		if err := op.Validate(); err != nil {
			return &ValidationError{Reason: err.Error()}
		}
	}
	return nil
}

// publish emits review.verified. Failures are logged, never returned.
func (s *Service) publish(ctx context.Context, log *zap.Logger, meta Meta, res *Result, sender string) {
	ev := events.ReviewVerified{
		RequestID:    meta.RequestID,
		Reviewer:     meta.Reviewer,
		ReviewHash:   res.Attestation.ReviewHash,
		CommitmentTx: res.Attestation.CommitmentTx,
		BlockNumber:  res.Attestation.BlockNumber,
		UserOpTx:     res.TxHash,
		Sender:       sender,
		Price:        res.PriceData.Price.String(),
		PriceSource:  res.PriceData.Source,
	}
	if err := s.deps.Publisher.PublishReviewVerified(ctx, ev); err != nil {
		log.Warn("publish review event failed", zap.Error(err))
	}
}
