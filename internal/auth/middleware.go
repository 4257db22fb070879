// Package auth verifies EIP-191 wallet signatures on incoming review
// submissions and binds the signer as the reviewer of the request.
package auth

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// SignedRequest is the JSON payload inside X-Signed-Message (fields sorted).
// BodyHash is the 0x-prefixed keccak256 of the raw request body.
type SignedRequest struct {
	Action    string `json:"action"`
	BodyHash  string `json:"body_hash"`
	ExpiresAt int64  `json:"expires_at"`
	Nonce     string `json:"nonce"`
}

// ContextKeyReviewer is the gin context key holding the recovered signer.
const ContextKeyReviewer = "reviewer_address"

const (
	maxFutureWindow = 5 * time.Minute
	maxBodyBytes    = 1 << 20
)

// NonceStore records signed-request nonces. Use reports false when the nonce
// was already seen within its ttl.
type NonceStore interface {
	Use(ctx context.Context, nonce string, ttl time.Duration) (bool, error)
}

type RedisNonces struct{ rdb *redis.Client }

func NewRedisNonces(rdb *redis.Client) *RedisNonces { return &RedisNonces{rdb: rdb} }

func (r *RedisNonces) Use(ctx context.Context, nonce string, ttl time.Duration) (bool, error) {
	return r.rdb.SetNX(ctx, "nonce:"+nonce, 1, ttl).Result()
}

// MemoryNonces is the single-process NonceStore used when Redis is not configured.
type MemoryNonces struct {
	mu   sync.Mutex
	seen map[string]time.Time
	now  func() time.Time
}

func NewMemoryNonces() *MemoryNonces {
	return &MemoryNonces{seen: make(map[string]time.Time), now: time.Now}
}

func (m *MemoryNonces) Use(_ context.Context, nonce string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for k, exp := range m.seen {
		if !now.Before(exp) {
			delete(m.seen, k)
		}
	}
	if _, ok := m.seen[nonce]; ok {
		return false, nil
	}
	m.seen[nonce] = now.Add(ttl)
	return true, nil
}

// BuildHeaders signs body for action and returns the three auth headers.
func BuildHeaders(body []byte, action, nonce string, ttl time.Duration, sign func([]byte) ([]byte, error), wallet string) (map[string]string, error) {
	sr := SignedRequest{
		Action:    action,
		BodyHash:  hexutil.Encode(crypto.Keccak256(body)),
		ExpiresAt: time.Now().Add(ttl).Unix(),
		Nonce:     nonce,
	}
	msg, err := json.Marshal(sr)
	if err != nil {
		return nil, err
	}
	sig, err := sign(msg)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"X-Wallet-Address":   wallet,
		"X-Signed-Message":   base64.StdEncoding.EncodeToString(msg),
		"X-Wallet-Signature": hexutil.Encode(sig),
	}, nil
}

// Middleware returns a Gin handler that validates EIP-191 wallet signatures
// over the request body. action must match the signed action field.
func Middleware(nonces NonceStore, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		walletAddr := c.GetHeader("X-Wallet-Address")
		signedMsgB64 := c.GetHeader("X-Signed-Message")
		sigHex := c.GetHeader("X-Wallet-Signature")

		if walletAddr == "" || signedMsgB64 == "" || sigHex == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing auth headers"})
			return
		}

		msgBytes, err := base64.StdEncoding.DecodeString(signedMsgB64)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid X-Signed-Message encoding"})
			return
		}

		var req SignedRequest
		if err := json.Unmarshal(msgBytes, &req); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid signed message JSON"})
			return
		}
		if req.Action != action {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "action mismatch"})
			return
		}

		now := time.Now().Unix()
		if req.ExpiresAt <= now {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "request expired"})
			return
		}
		if req.ExpiresAt > now+int64(maxFutureWindow.Seconds()) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "expires_at too far in future"})
			return
		}

		sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid signature hex"})
			return
		}
		recovered, err := Recover(msgBytes, sig)
		if err != nil || !strings.EqualFold(recovered.Hex(), walletAddr) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
			return
		}

		// Body is read once and restored for the handler.
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		if !strings.EqualFold(req.BodyHash, hexutil.Encode(crypto.Keccak256(body))) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "body hash mismatch"})
			return
		}

		ttl := time.Duration(req.ExpiresAt-now) * time.Second
		fresh, err := nonces.Use(c.Request.Context(), req.Nonce, ttl)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		if !fresh {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "nonce already used"})
			return
		}

		c.Set(ContextKeyReviewer, recovered.Hex())
		c.Next()
	}
}
