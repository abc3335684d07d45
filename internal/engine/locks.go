package engine

import (
	"fmt"
	"sync"

	"github.com/keenbench/engine/internal/errinfo"
)

// workbenchLocks provides acquire-or-fail exclusivity for operations that
// mutate a workbench's directories. Reads never take the lock; a mutation that
// finds the lock held fails fast with BUSY instead of queueing, so a stuck
// operation can never deadlock the engine.
type workbenchLocks struct {
	mu   sync.Mutex
	held map[string]string
}

func newWorkbenchLocks() *workbenchLocks {
	return &workbenchLocks{held: make(map[string]string)}
}

func (l *workbenchLocks) tryAcquire(workbenchID, op string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if holder, ok := l.held[workbenchID]; ok {
		return holder, false
	}
	l.held[workbenchID] = op
	return op, true
}

func (l *workbenchLocks) release(workbenchID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, workbenchID)
}

// lockWorkbenchMutation acquires the exclusive mutation lock for workbenchID.
// The caller must defer the returned release func on success.
func (e *Engine) lockWorkbenchMutation(workbenchID, op string) (func(), *errinfo.ErrorInfo) {
	holder, ok := e.wbLocks.tryAcquire(workbenchID, op)
	if !ok {
		return nil, errinfo.Busy(errinfo.PhaseWorkbench, fmt.Sprintf("workbench busy: %s in progress", holder))
	}
	return func() { e.wbLocks.release(workbenchID) }, nil
}
