package service

import (
	"sync"

	"github.com/google/uuid"

	"docmeta/internal/domain"
)

// DefaultRunHistory is how many runs the registry keeps.
const DefaultRunHistory = 50

// runRegistry keeps the most recent runs in memory; the oldest is evicted
// once the limit is reached.
type runRegistry struct {
	mu    sync.RWMutex
	limit int
	runs  map[uuid.UUID]*Run
	order []uuid.UUID
}

func newRunRegistry(limit int) *runRegistry {
	if limit <= 0 {
		limit = DefaultRunHistory
	}
	return &runRegistry{limit: limit, runs: make(map[uuid.UUID]*Run)}
}

func (r *runRegistry) add(run *Run) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.runs[run.ID]; !ok {
		r.order = append(r.order, run.ID)
	}
	r.runs[run.ID] = run
	for len(r.order) > r.limit {
		delete(r.runs, r.order[0])
		r.order = r.order[1:]
	}
}

func (r *runRegistry) get(id uuid.UUID) (*Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[id]
	if !ok {
		return nil, domain.ErrRunNotFound
	}
	return run, nil
}

// list returns runs newest first.
func (r *runRegistry) list() []*Run {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Run, 0, len(r.order))
	for i := len(r.order) - 1; i >= 0; i-- {
		out = append(out, r.runs[r.order[i]])
	}
	return out
}
