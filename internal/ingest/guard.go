package ingest

import (
	"sync"
)

// RunGuard serializes invocations per subject within this process. Two
// concurrent runs for the same subject would race on the downloaded
// file name; the second caller gets ErrRunActive instead of queueing.
// Cross-process coordination is out of scope.
type RunGuard struct {
	mu     sync.Mutex
	active map[string]bool
}

// NewRunGuard creates an empty guard.
func NewRunGuard() *RunGuard {
	return &RunGuard{active: make(map[string]bool)}
}

// Acquire claims the subject. The returned release function must be
// called on every exit path.
func (g *RunGuard) Acquire(subjectID string) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.active[subjectID] {
		return nil, ErrRunActive
	}
	g.active[subjectID] = true

	var once sync.Once
	release := func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.active, subjectID)
			g.mu.Unlock()
		})
	}
	return release, nil
}
