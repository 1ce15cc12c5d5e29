package backup

import "sync/atomic"

// Gate is the process-wide advisory lock shared by backup and restore.
// There is deliberately no queue: a second concurrent job is an
// operator error and fails fast with ErrAlreadyRunning. The gate is
// held in-process only, so a process restart naturally releases it.
type Gate struct {
	held atomic.Bool
}

// TryAcquire takes the gate without blocking.
func (g *Gate) TryAcquire() bool {
	return g.held.CompareAndSwap(false, true)
}

// Release frees the gate. Callers release on every exit path.
func (g *Gate) Release() {
	g.held.Store(false)
}

// Held reports whether a job currently holds the gate.
func (g *Gate) Held() bool {
	return g.held.Load()
}
