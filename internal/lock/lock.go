package lock

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ForceOwner is the privileged owner that can release any lock.
const ForceOwner = "force"

// pollInterval is how often a blocked Acquire re-checks the lock table.
const pollInterval = 100 * time.Millisecond

// Info describes one held lock.
type Info struct {
	Resource   string
	Owner      string
	AcquiredAt time.Time
	Version    int
}

// DocumentLock serializes writes to a shared mutable artifact. A single
// table maps resource id to its holder; versions survive release so
// callers observe a monotonic document revision per resource.
type DocumentLock struct {
	locks    map[string]*Info
	versions map[string]int
	mu       sync.Mutex
	logger   *zap.Logger
}

// New creates a document lock manager.
func New(logger *zap.Logger) *DocumentLock {
	return &DocumentLock{
		locks:    make(map[string]*Info),
		versions: make(map[string]int),
		logger:   logger,
	}
}

// Acquire blocks until the lock for resource is obtained or the timeout
// elapses. Re-acquiring a lock already held by the same owner succeeds
// immediately. Returns false on timeout or context cancellation.
func (l *DocumentLock) Acquire(ctx context.Context, resource, owner string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)

	for {
		if l.tryAcquire(resource, owner) {
			return true
		}

		if time.Now().After(deadline) {
			l.logger.Warn("timeout acquiring document lock",
				zap.String("resource", resource),
				zap.String("owner", owner))
			return false
		}

		select {
		case <-ctx.Done():
			return false
		case <-time.After(pollInterval):
		}
	}
}

// tryAcquire attempts a single non-blocking acquisition.
func (l *DocumentLock) tryAcquire(resource, owner string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if info, held := l.locks[resource]; held {
		// Reentrant: same owner may re-acquire.
		return info.Owner == owner
	}

	l.locks[resource] = &Info{
		Resource:   resource,
		Owner:      owner,
		AcquiredAt: time.Now(),
		Version:    l.versions[resource],
	}

	l.logger.Debug("document lock acquired",
		zap.String("resource", resource),
		zap.String("owner", owner))
	return true
}

// Release deletes the lock entry if owner matches the holder, or if the
// privileged force owner is used. Releasing an unheld lock succeeds.
func (l *DocumentLock) Release(resource, owner string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	info, held := l.locks[resource]
	if !held {
		return true
	}

	if info.Owner != owner && owner != ForceOwner {
		l.logger.Warn("cannot release document lock: not owner",
			zap.String("resource", resource),
			zap.String("owner", owner),
			zap.String("holder", info.Owner))
		return false
	}

	delete(l.locks, resource)
	l.logger.Debug("document lock released",
		zap.String("resource", resource),
		zap.String("owner", owner))
	return true
}

// IsLocked reports whether a resource is currently held.
func (l *DocumentLock) IsLocked(resource string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, held := l.locks[resource]
	return held
}

// GetInfo returns a copy of the lock info for a resource, if held.
func (l *DocumentLock) GetInfo(resource string) (Info, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	info, held := l.locks[resource]
	if !held {
		return Info{}, false
	}
	return *info, true
}

// IncrementVersion bumps the document revision after a successful write
// and returns the new version.
func (l *DocumentLock) IncrementVersion(resource string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.versions[resource]++
	if info, held := l.locks[resource]; held {
		info.Version = l.versions[resource]
	}
	return l.versions[resource]
}

// Version returns the current document revision for a resource.
func (l *DocumentLock) Version(resource string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.versions[resource]
}
