package worker

import (
	"sort"
	"sync"
)

// registry is the set of job keys this process has taken. Concurrent
// establishment handlers claim through it so a key is scheduled at most once.
type registry struct {
	mu   sync.Mutex
	jobs map[string]*job
}

func newRegistry() *registry {
	return &registry{jobs: make(map[string]*job)}
}

// claim registers j under its key. It returns false if the key is taken.
func (r *registry) claim(j *job) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[j.key]; ok {
		return false
	}
	r.jobs[j.key] = j
	return true
}

// release drops j if it still holds its key
func (r *registry) release(j *job) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.jobs[j.key] != j {
		return false
	}
	delete(r.jobs, j.key)
	return true
}

func (r *registry) get(key string) (*job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[key]
	return j, ok
}

func (r *registry) keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.jobs))
	for k := range r.jobs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (r *registry) snapshot() []*job {
	r.mu.Lock()
	defer r.mu.Unlock()
	jobs := make([]*job, 0, len(r.jobs))
	for _, j := range r.jobs {
		jobs = append(jobs, j)
	}
	return jobs
}

// drain empties the registry and returns what it held
func (r *registry) drain() []*job {
	r.mu.Lock()
	defer r.mu.Unlock()
	jobs := make([]*job, 0, len(r.jobs))
	for k, j := range r.jobs {
		jobs = append(jobs, j)
		delete(r.jobs, k)
	}
	return jobs
}
