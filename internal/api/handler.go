// Package api exposes the review pipeline over HTTP.
package api

import (
	"context"
	"errors"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/0gfoundation/veristas-relay/internal/auth"
	"github.com/0gfoundation/veristas-relay/internal/chain"
	"github.com/0gfoundation/veristas-relay/internal/reward"
	"github.com/0gfoundation/veristas-relay/internal/userop"
)

// Rewarder is satisfied by reward.Service.
type Rewarder interface {
	Quote(ctx context.Context) reward.Quote
	VerifyAndReward(ctx context.Context, text string, op *userop.Partial, meta reward.Meta) (*reward.Result, error)
}

// Preparer is satisfied by userop.Assembler.
type Preparer interface {
	Prepare(ctx context.Context, sender common.Address, callData, initCode []byte) (*userop.UserOperation, error)
}

// NonceReader is satisfied by entrypoint.Resolver.
type NonceReader interface {
	GetNonce(ctx context.Context, sender common.Address, key *big.Int) (*big.Int, error)
}

type Options struct {
	Rewards    Rewarder
	Preparer   Preparer
	Nonces     NonceReader
	EntryPoint common.Address
	ChainID    *big.Int
	// Auth, when set, guards POST /verify-and-reward.
	Auth gin.HandlerFunc
}

// Handler wires up the review routes onto a Gin router group.
type Handler struct {
	opts Options
	log  *zap.Logger
}

func NewHandler(opts Options, log *zap.Logger) *Handler {
	return &Handler{opts: opts, log: log}
}

// Register mounts all routes under rg.
func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.GET("/quote-reward", h.handleQuote)

	verify := []gin.HandlerFunc{h.handleVerify}
	if h.opts.Auth != nil {
		verify = append([]gin.HandlerFunc{h.opts.Auth}, verify...)
	}
	rg.POST("/verify-and-reward", verify...)

	rg.POST("/userop/prepare", h.handlePrepare)
	rg.GET("/userop/nonce/:sender", h.handleNonce)
}

// ── Quote ─────────────────────────────────────────────────────────────────────

func (h *Handler) handleQuote(c *gin.Context) {
	c.JSON(http.StatusOK, h.opts.Rewards.Quote(c.Request.Context()))
}

// ── Verify and reward ─────────────────────────────────────────────────────────

type verifyRequest struct {
	ReviewText string          `json:"reviewText"`
	UserOp     *userop.Partial `json:"userOp"`
}

func (h *Handler) handleVerify(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	meta := reward.Meta{
		RequestID: c.GetString(ContextKeyRequestID),
		Reviewer:  c.GetString(auth.ContextKeyReviewer),
	}
	res, err := h.opts.Rewards.VerifyAndReward(c.Request.Context(), req.ReviewText, req.UserOp, meta)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}

// statusFor maps pipeline errors onto HTTP status codes.
func statusFor(err error) int {
	var ve *reward.ValidationError
	var te *chain.TimeoutError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.As(err, &te), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// ── User operation helpers ────────────────────────────────────────────────────

type prepareRequest struct {
	Sender   string        `json:"sender"`
	CallData userop.Bytes  `json:"callData"`
	InitCode *userop.Bytes `json:"initCode"`
}

type prepareResponse struct {
	UserOp     *userop.UserOperation `json:"userOp"`
	UserOpHash *common.Hash          `json:"userOpHash,omitempty"`
}

func (h *Handler) handlePrepare(c *gin.Context) {
	var req prepareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if !common.IsHexAddress(req.Sender) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sender must be a 20-byte hex address"})
		return
	}
	var initCode []byte
	if req.InitCode != nil {
		initCode = *req.InitCode
	}

	op, err := h.opts.Preparer.Prepare(c.Request.Context(), common.HexToAddress(req.Sender), req.CallData, initCode)
	if err != nil {
		h.log.Warn("prepare user operation failed", zap.String("sender", req.Sender), zap.Error(err))
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	resp := prepareResponse{UserOp: op}
	if h.opts.ChainID != nil {
		hash := op.Hash(h.opts.EntryPoint, h.opts.ChainID)
		resp.UserOpHash = &hash
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) handleNonce(c *gin.Context) {
	raw := c.Param("sender")
	if !common.IsHexAddress(raw) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sender must be a 20-byte hex address"})
		return
	}
	sender := common.HexToAddress(raw)
	nonce, err := h.opts.Nonces.GetNonce(c.Request.Context(), sender, big.NewInt(0))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sender": sender.Hex(), "nonce": nonce.String()})
}
