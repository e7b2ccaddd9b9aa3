package transfer

import (
	"slices"
	"sync"

	"stylizer/internal/services"
)

// record is the owned, mutable state of one job. Supervision goroutines write
// through update; everyone else reads snapshots.
type record struct {
	key  string
	mu   sync.Mutex
	job  Job
	done chan struct{}
}

func newRecord(job Job) *record {
	rec := &record{key: job.Key, job: job, done: make(chan struct{})}
	if job.Status.Terminal() {
		close(rec.done)
	}
	return rec
}

func (r *record) snapshot() Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.job.clone()
}

func (r *record) update(fn func(*Job) error) (Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	wasTerminal := r.job.Status.Terminal()
	if err := fn(&r.job); err != nil {
		return r.job.clone(), err
	}
	if !wasTerminal && r.job.Status.Terminal() {
		close(r.done)
	}
	return r.job.clone(), nil
}

// Registry indexes jobs by id and tracks which keys are running. Only the
// launcher mutates it.
type Registry struct {
	mu           sync.RWMutex
	records      map[string]*record
	order        []string
	running      map[string]string
	maxRunning   int
	historyLimit int
}

// NewRegistry builds a registry. maxRunning 0 means unlimited; historyLimit
// bounds the number of terminal jobs retained in memory.
func NewRegistry(maxRunning, historyLimit int) *Registry {
	if historyLimit <= 0 {
		historyLimit = 100
	}
	return &Registry{
		records:      make(map[string]*record),
		running:      make(map[string]string),
		maxRunning:   maxRunning,
		historyLimit: historyLimit,
	}
}

// admit reports whether a job with key may start now.
func (r *Registry) admit(key string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id, ok := r.running[key]; ok {
		return services.Wrap(services.ErrConflict, "transfer", "start",
			"a job for the same subject and style is already running ("+id+")", nil)
	}
	if r.maxRunning > 0 && len(r.running) >= r.maxRunning {
		return services.Wrap(services.ErrConflict, "transfer", "start",
			"maximum number of running jobs reached", nil)
	}
	return nil
}

func (r *Registry) insert(rec *record) {
	job := rec.snapshot()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[job.ID] = rec
	r.order = append(r.order, job.ID)
	if job.Status == StatusRunning {
		r.running[job.Key] = job.ID
	}
	r.evictLocked()
}

// release frees the running slot held by a finished job.
func (r *Registry) release(id, key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running[key] == id {
		delete(r.running, key)
	}
	r.evictLocked()
}

func (r *Registry) evictLocked() {
	excess := len(r.order) - r.historyLimit
	if excess <= 0 {
		return
	}
	kept := r.order[:0]
	for _, id := range r.order {
		rec := r.records[id]
		if excess > 0 && r.running[rec.key] != id {
			delete(r.records, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	r.order = kept
}

func (r *Registry) lookup(id string) (*record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	return rec, ok
}

// Get returns a snapshot of the job with id.
func (r *Registry) Get(id string) (Job, bool) {
	rec, ok := r.lookup(id)
	if !ok {
		return Job{}, false
	}
	return rec.snapshot(), true
}

// Latest returns the most recently started job.
func (r *Registry) Latest() (Job, bool) {
	r.mu.RLock()
	var rec *record
	if n := len(r.order); n > 0 {
		rec = r.records[r.order[n-1]]
	}
	r.mu.RUnlock()
	if rec == nil {
		return Job{}, false
	}
	return rec.snapshot(), true
}

// List returns up to limit jobs, newest first. limit <= 0 returns all.
func (r *Registry) List(limit int) []Job {
	r.mu.RLock()
	recs := make([]*record, 0, len(r.order))
	for i := len(r.order) - 1; i >= 0; i-- {
		if limit > 0 && len(recs) >= limit {
			break
		}
		recs = append(recs, r.records[r.order[i]])
	}
	r.mu.RUnlock()

	jobs := make([]Job, 0, len(recs))
	for _, rec := range recs {
		jobs = append(jobs, rec.snapshot())
	}
	return jobs
}

// Running returns the number of jobs holding a running slot.
func (r *Registry) Running() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.running)
}

// restore loads historical jobs, oldest first, ahead of anything started in
// this process.
func (r *Registry) restore(jobs []Job) {
	sorted := append([]Job(nil), jobs...)
	slices.SortStableFunc(sorted, func(a, b Job) int {
		return a.StartedAt.Compare(b.StartedAt)
	})
	r.mu.Lock()
	defer r.mu.Unlock()
	order := make([]string, 0, len(sorted)+len(r.order))
	for _, job := range sorted {
		if _, exists := r.records[job.ID]; exists {
			continue
		}
		r.records[job.ID] = newRecord(job.clone())
		order = append(order, job.ID)
	}
	r.order = append(order, r.order...)
	r.evictLocked()
}
