package entrypoint

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
)

// DefaultClaimTTL is how long a (sender, nonce) claim outlives its submission.
const DefaultClaimTTL = 24 * time.Hour

// Guard rejects a second submission of the same (sender, nonce) while the
// first is in flight or has been included.
type Guard interface {
	// Claim returns false when the pair is already claimed.
	Claim(ctx context.Context, sender common.Address, nonce *big.Int) (bool, error)
	// Release drops a claim after a failed submission.
	Release(ctx context.Context, sender common.Address, nonce *big.Int) error
}

func claimKey(sender common.Address, nonce *big.Int) string {
	return fmt.Sprintf("relay:op:%s:%s", strings.ToLower(sender.Hex()), nonce.String())
}

// ── in-memory ─────────────────────────────────────────────────────────────────

// MemoryGuard keeps claims in process memory. Used when Redis is not configured.
type MemoryGuard struct {
	ttl time.Duration
	now func() time.Time

	mu     sync.Mutex
	claims map[string]time.Time // key → expiry
}

func NewMemoryGuard(ttl time.Duration) *MemoryGuard {
	if ttl <= 0 {
		ttl = DefaultClaimTTL
	}
	return &MemoryGuard{ttl: ttl, now: time.Now, claims: make(map[string]time.Time)}
}

func (g *MemoryGuard) Claim(_ context.Context, sender common.Address, nonce *big.Int) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	for k, exp := range g.claims {
		if now.After(exp) {
			delete(g.claims, k)
		}
	}
	key := claimKey(sender, nonce)
	if _, ok := g.claims[key]; ok {
		return false, nil
	}
	g.claims[key] = now.Add(g.ttl)
	return true, nil
}

func (g *MemoryGuard) Release(_ context.Context, sender common.Address, nonce *big.Int) error {
	g.mu.Lock()
	delete(g.claims, claimKey(sender, nonce))
	g.mu.Unlock()
	return nil
}

// ── redis ─────────────────────────────────────────────────────────────────────

// RedisGuard shares claims across relay replicas via SET NX.
type RedisGuard struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisGuard(rdb *redis.Client, ttl time.Duration) *RedisGuard {
	if ttl <= 0 {
		ttl = DefaultClaimTTL
	}
	return &RedisGuard{rdb: rdb, ttl: ttl}
}

func (g *RedisGuard) Claim(ctx context.Context, sender common.Address, nonce *big.Int) (bool, error) {
	set, err := g.rdb.SetNX(ctx, claimKey(sender, nonce), 1, g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return set, nil
}

func (g *RedisGuard) Release(ctx context.Context, sender common.Address, nonce *big.Int) error {
	if err := g.rdb.Del(ctx, claimKey(sender, nonce)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
