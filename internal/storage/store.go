package storage

import "context"

// PairLocker serializes message-gate checks for one user pair. The gate
// performs a read-then-write over the request ledger; holding the pair
// lock for the whole decision keeps simultaneous first-contact sends
// from both sides from each creating their own pending request.
//
// Implementations: redis.Client (multi-instance deployments),
// memory.Client (-dev and tests).
type PairLocker interface {
	// Acquire blocks until the lock for key is held or ctx is done.
	// The returned release function is safe to call once.
	Acquire(ctx context.Context, key string) (release func(), err error)
	Close() error
}
