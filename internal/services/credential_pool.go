package services

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

// CredentialPool bounds concurrent upstream calls per credential. Each
// credential gets an independent weighted semaphore: exhausting one never
// blocks callers of another.
type CredentialPool struct {
	limit      int64
	mu         sync.RWMutex
	semaphores map[string]*semaphore.Weighted
}

// Permit is a scoped admission ticket. Release exactly once; callers defer
// it immediately after a successful Acquire so the permit cannot leak
// across a failed or cancelled call.
type Permit struct {
	sem      *semaphore.Weighted
	released bool
}

// Release returns the permit to its credential's budget. Idempotent.
func (p *Permit) Release() {
	if p == nil || p.released {
		return
	}
	p.released = true
	p.sem.Release(1)
}

// NewCredentialPool creates a pool with the given per-credential limit.
func NewCredentialPool(credentialKeys []string, limit int64) *CredentialPool {
	sems := make(map[string]*semaphore.Weighted, len(credentialKeys))
	for _, key := range credentialKeys {
		sems[key] = semaphore.NewWeighted(limit)
	}
	return &CredentialPool{limit: limit, semaphores: sems}
}

// Acquire blocks cooperatively until the credential has a free slot or ctx
// is cancelled. An unknown key is a configuration bug, reported as an error
// rather than a deadlock.
func (p *CredentialPool) Acquire(ctx context.Context, credentialKey string) (*Permit, error) {
	p.mu.RLock()
	sem, ok := p.semaphores[credentialKey]
	p.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCredential, credentialKey)
	}
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("credential %s acquire cancelled: %w", credentialKey, err)
	}
	return &Permit{sem: sem}, nil
}

// EnsureKeys adds semaphores for any credentials introduced by a config
// reload. Existing semaphores keep their in-flight state; removed keys stay
// in the map so running turns can still release.
func (p *CredentialPool) EnsureKeys(credentialKeys []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, key := range credentialKeys {
		if _, ok := p.semaphores[key]; !ok {
			p.semaphores[key] = semaphore.NewWeighted(p.limit)
		}
	}
}

// Limit returns the per-credential concurrency cap.
func (p *CredentialPool) Limit() int64 {
	return p.limit
}
