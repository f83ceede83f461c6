package runner

import (
	"context"
	"sync"
)

// Registry holds one runner per user, created on first use.
type Registry struct {
	mu      sync.Mutex
	runners map[uint]*Runner
	// retired holds dropped runners that were still busy.
	retired []*Runner
	factory func(ownerID uint) *Runner
}

// NewRegistry creates a registry that builds runners with factory.
func NewRegistry(factory func(ownerID uint) *Runner) *Registry {
	return &Registry{runners: make(map[uint]*Runner), factory: factory}
}

// For returns the runner of a user.
func (reg *Registry) For(ownerID uint) *Runner {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	r, ok := reg.runners[ownerID]
	if !ok {
		r = reg.factory(ownerID)
		reg.runners[ownerID] = r
	}
	return r
}

// Drop stops and forgets a user's runner. Its in-flight calls still finish.
func (reg *Registry) Drop(ownerID uint) {
	reg.mu.Lock()
	r, ok := reg.runners[ownerID]
	delete(reg.runners, ownerID)
	if ok && r.Busy() {
		reg.retired = append(reg.retired, r)
	}
	reg.mu.Unlock()
	if ok {
		r.Stop()
	}
}

// StopAll stops every running batch.
func (reg *Registry) StopAll() {
	for _, r := range reg.all() {
		r.Stop()
	}
}

// Wait blocks until no runner, dropped ones included, is busy, or ctx is done.
func (reg *Registry) Wait(ctx context.Context) error {
	for _, r := range reg.all() {
		if err := r.Wait(ctx); err != nil {
			return err
		}
	}
	reg.mu.Lock()
	kept := reg.retired[:0]
	for _, r := range reg.retired {
		if r.Busy() {
			kept = append(kept, r)
		}
	}
	reg.retired = kept
	reg.mu.Unlock()
	return nil
}

func (reg *Registry) all() []*Runner {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	runners := make([]*Runner, 0, len(reg.runners)+len(reg.retired))
	for _, r := range reg.runners {
		runners = append(runners, r)
	}
	return append(runners, reg.retired...)
}
