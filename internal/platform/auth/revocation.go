package auth

import (
	"sync"
	"time"
)

// RevocationList remembers ended session ids until the tokens bound to them
// would have expired anyway. Expired entries are pruned on every write.
// The list is per process.
type RevocationList struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

// NewRevocationList creates an empty list.
func NewRevocationList() *RevocationList {
	return &RevocationList{entries: make(map[string]time.Time), now: time.Now}
}

// Revoke marks id as ended until the given time. Empty ids are ignored.
func (l *RevocationList) Revoke(id string, until time.Time) {
	if id == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for k, exp := range l.entries {
		if !exp.After(now) {
			delete(l.entries, k)
		}
	}
	if until.After(now) {
		l.entries[id] = until
	}
}

// IsRevoked reports whether id was revoked and the revocation still applies.
func (l *RevocationList) IsRevoked(id string) bool {
	if id == "" {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	exp, ok := l.entries[id]
	return ok && l.now().Before(exp)
}

// Len returns the number of tracked entries, expired ones included until the
// next write.
func (l *RevocationList) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
