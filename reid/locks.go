package reid

import "sync"

// DefaultLockThreshold is the number of consecutive successful
// revalidations after which an identity is locked
const DefaultLockThreshold = 10

// LockBook counts consecutive revalidations per identity.  Once an identity
// reaches the threshold it is locked for the life of the process
type LockBook struct {
	threshold int

	mu     sync.Mutex
	counts map[int]int
	locked map[int]struct{}
}

// NewLockBook returns a LockBook with the given threshold
func NewLockBook(threshold int) *LockBook {

	if threshold <= 0 {
		threshold = DefaultLockThreshold
	}

	return &LockBook{
		threshold: threshold,
		counts:    make(map[int]int),
		locked:    make(map[int]struct{}),
	}
}

// Verify records a revalidation result for an identity and reports whether
// this call locked it.  A mismatch resets the count of unlocked identities
// only
func (b *LockBook) Verify(id int, match bool) (lockedNow bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, locked := b.locked[id]

	if !match {
		if !locked {
			b.counts[id] = 0
		}
		return false
	}

	b.counts[id]++

	if !locked && b.counts[id] >= b.threshold {
		b.locked[id] = struct{}{}
		return true
	}

	return false
}

// IsLocked reports whether an identity is locked
func (b *LockBook) IsLocked(id int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, ok := b.locked[id]
	return ok
}

// Count returns the consecutive revalidation count of an identity
func (b *LockBook) Count(id int) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.counts[id]
}

// Locked returns the number of locked identities
func (b *LockBook) Locked() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.locked)
}
