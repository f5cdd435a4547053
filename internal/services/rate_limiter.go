package services

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// MessageRateLimiter paces inbound chat messages per identity so one client
// cannot monopolize the credential budget. Wait blocks cooperatively; a
// cancelled context (client disconnect) unblocks it.
type MessageRateLimiter struct {
	perIdentity *sync.Map // map[string]*rate.Limiter
	msgRate     rate.Limit
	burst       int
}

// NewMessageRateLimiter creates a limiter allowing msgRate messages per
// second with the given burst per identity.
func NewMessageRateLimiter(msgRate float64, burst int) *MessageRateLimiter {
	return &MessageRateLimiter{
		perIdentity: &sync.Map{},
		msgRate:     rate.Limit(msgRate),
		burst:       burst,
	}
}

// Wait applies the identity's rate limit.
func (rl *MessageRateLimiter) Wait(ctx context.Context, identity string) error {
	return rl.limiterFor(identity).Wait(ctx)
}

func (rl *MessageRateLimiter) limiterFor(identity string) *rate.Limiter {
	if limiter, ok := rl.perIdentity.Load(identity); ok {
		return limiter.(*rate.Limiter)
	}
	limiter, _ := rl.perIdentity.LoadOrStore(identity, rate.NewLimiter(rl.msgRate, rl.burst))
	return limiter.(*rate.Limiter)
}

// Forget drops the limiter state for an identity (reaped session).
func (rl *MessageRateLimiter) Forget(identity string) {
	rl.perIdentity.Delete(identity)
}
