package entitlements

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ManuelReschke/ForumFox/internal/pkg/cache"
)

const DefaultGateTimeout = 10 * time.Second

// Evaluator answers whether a user currently holds a subscription.
type Evaluator interface {
	IsEntitled(ctx context.Context, userID uint) (bool, error)
}

// Gate decides premium access for a request. Answers are cached per user
// and any evaluation error counts as not entitled.
type Gate struct {
	Evaluator Evaluator
	Cache     cache.EntitlementCache
	Timeout   time.Duration
	Log       *zap.Logger

	mu   sync.Mutex
	gens map[uint]uint64
}

func NewGate(ev Evaluator, c cache.EntitlementCache, log *zap.Logger) *Gate {
	if c == nil {
		c = cache.NewEntitlementCache(nil)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Gate{Evaluator: ev, Cache: c, Timeout: DefaultGateTimeout, Log: log}
}

// Allowed reports whether the user may see premium content.
func (g *Gate) Allowed(ctx context.Context, userID uint, isAdmin bool) bool {
	if isAdmin {
		return true
	}
	if userID == 0 || g == nil || g.Evaluator == nil {
		return false
	}
	return CanAccessPremium(false, g.entitled(ctx, userID))
}

func (g *Gate) entitled(ctx context.Context, userID uint) bool {
	if v, ok := g.Cache.Get(ctx, userID); ok {
		return v
	}

	if g.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.Timeout)
		defer cancel()
	}
	gen := g.generation(userID)
	ok, err := g.Evaluator.IsEntitled(ctx, userID)
	if err != nil {
		g.Log.Warn("entitlement check failed", zap.Uint("user_id", userID), zap.Error(err))
		return false
	}
	// an Invalidate during the evaluation means the answer may predate a
	// billing write; serve it once but keep it out of the cache.
	// Invalidations from other processes are only bounded by the cache TTL.
	if g.generation(userID) == gen {
		g.Cache.Set(ctx, userID, ok)
	}
	return ok
}

func (g *Gate) generation(userID uint) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.gens[userID]
}

// Invalidate drops the cached answer for userID.
func (g *Gate) Invalidate(ctx context.Context, userID uint) {
	if g == nil {
		return
	}
	g.mu.Lock()
	if g.gens == nil {
		g.gens = map[uint]uint64{}
	}
	g.gens[userID]++
	g.mu.Unlock()

	if g.Cache != nil {
		g.Cache.Invalidate(ctx, userID)
	}
}
