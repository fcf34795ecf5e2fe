package notifier

import "sync"

// Guard serializes work per key. Different keys run in parallel.
type Guard struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// NewGuard creates an empty guard
func NewGuard() *Guard {
	return &Guard{locks: make(map[string]*keyLock)}
}

// Do runs fn while holding the lock for key
func (g *Guard) Do(key string, fn func() error) error {
	g.mu.Lock()
	l, ok := g.locks[key]
	if !ok {
		l = &keyLock{}
		g.locks[key] = l
	}
	l.refs++
	g.mu.Unlock()

	l.mu.Lock()
	defer func() {
		l.mu.Unlock()
		g.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(g.locks, key)
		}
		g.mu.Unlock()
	}()

	return fn()
}

// Ledger remembers the last terminal status notified per job. It is only
// read and written under the job's Guard lock.
type Ledger struct {
	mu      sync.Mutex
	entries map[string]string
}

// NewLedger creates an empty ledger
func NewLedger() *Ledger {
	return &Ledger{entries: make(map[string]string)}
}

// Notified reports whether status was already notified for job
func (l *Ledger) Notified(job, status string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.entries[job] == status
}

// Record marks status as notified for job
func (l *Ledger) Record(job, status string) {
	l.mu.Lock()
	l.entries[job] = status
	l.mu.Unlock()
}

// Prune drops every job not in keep and returns how many were dropped
func (l *Ledger) Prune(keep map[string]struct{}) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	dropped := 0
	for job := range l.entries {
		if _, ok := keep[job]; !ok {
			delete(l.entries, job)
			dropped++
		}
	}
	return dropped
}

// Len returns the number of jobs held
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
