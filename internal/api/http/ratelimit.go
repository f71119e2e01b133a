package http

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/time/rate"

	"github.com/spec-kit/clinic-chat/internal/auth"
	"github.com/spec-kit/clinic-chat/internal/config"
	apperrors "github.com/spec-kit/clinic-chat/pkg/util/errorutil"
)

const limiterTTL = 10 * time.Minute

type limiterEntry struct {
	l        *rate.Limiter
	lastSeen time.Time
}

// limiterPool holds one token bucket per principal.
type limiterPool struct {
	mu        sync.Mutex
	m         map[string]*limiterEntry
	cfg       config.RateLimitConfig
	lastPrune time.Time
	now       func() time.Time
}

func newLimiterPool(cfg config.RateLimitConfig) *limiterPool {
	return &limiterPool{m: make(map[string]*limiterEntry), cfg: cfg, now: time.Now}
}

func (p *limiterPool) allow(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if now.Sub(p.lastPrune) > time.Minute {
		cutoff := now.Add(-limiterTTL)
		for k, e := range p.m {
			if e.lastSeen.Before(cutoff) {
				delete(p.m, k)
			}
		}
		p.lastPrune = now
	}

	e, ok := p.m[key]
	if !ok {
		e = &limiterEntry{l: rate.NewLimiter(rate.Limit(p.cfg.SendRPS), p.cfg.SendBurst)}
		p.m[key] = e
	}
	e.lastSeen = now
	return e.l.AllowN(now, 1)
}

// SendRateLimiter bounds message writes per authenticated principal. A
// non-positive rate disables the limit.
func SendRateLimiter(cfg config.RateLimitConfig) fiber.Handler {
	if cfg.SendRPS <= 0 {
		return func(c *fiber.Ctx) error { return c.Next() }
	}
	if cfg.SendBurst <= 0 {
		cfg.SendBurst = 1
	}
	pool := newLimiterPool(cfg)
	return func(c *fiber.Ctx) error {
		principal, ok := auth.PrincipalFromContext(c)
		if !ok {
			return apperrors.NewUnauthorized("authentication required")
		}
		if !pool.allow(principal.String()) {
			return apperrors.NewRateLimited("too many messages, slow down")
		}
		return c.Next()
	}
}
