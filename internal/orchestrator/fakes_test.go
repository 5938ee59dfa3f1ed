package orchestrator

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cuongbtq/soundcron/internal/domain"
)

type fakeRepo struct {
	mu      sync.Mutex
	crons   map[string]domain.SoundCron
	addErr  error
	getErr  error
	removes int
}

func newFakeRepo(crons ...domain.SoundCron) *fakeRepo {
	r := &fakeRepo{crons: make(map[string]domain.SoundCron)}
	for _, c := range crons {
		c = c.Normalize()
		r.crons[c.Key()] = c
	}
	return r
}

func (r *fakeRepo) AddCron(_ context.Context, serverID string, cron domain.SoundCron) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.addErr != nil {
		return r.addErr
	}
	cron.ServerID = serverID
	if _, ok := r.crons[cron.Key()]; ok {
		return domain.ErrDuplicateName
	}
	r.crons[cron.Key()] = cron.Normalize()
	return nil
}

func (r *fakeRepo) RemoveCron(_ context.Context, serverID, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removes++
	key := domain.JobKey(serverID, name)
	if _, ok := r.crons[key]; !ok {
		return domain.ErrNotFound
	}
	delete(r.crons, key)
	return nil
}

func (r *fakeRepo) GetCron(_ context.Context, serverID, name string) (*domain.SoundCron, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErr != nil {
		return nil, r.getErr
	}
	c, ok := r.crons[domain.JobKey(serverID, name)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &c, nil
}

func (r *fakeRepo) ListCrons(_ context.Context, serverID string) ([]domain.SoundCron, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.SoundCron
	for _, c := range r.crons {
		if c.ServerID == serverID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *fakeRepo) ListAllCrons(_ context.Context) (map[string][]domain.SoundCron, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string][]domain.SoundCron)
	for _, c := range r.crons {
		out[c.ServerID] = append(out[c.ServerID], c)
	}
	return out, nil
}

func (r *fakeRepo) has(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.crons[key]
	return ok
}

func (r *fakeRepo) removeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removes
}

type fakeProducer struct {
	mu          sync.Mutex
	enqueued    []string
	messages    []domain.EstablishMessage
	removed     []string
	enqueueErr  error
	removeErr   error
	completions chan domain.Established
}

func newFakeProducer() *fakeProducer {
	return &fakeProducer{completions: make(chan domain.Established, 8)}
}

func (p *fakeProducer) Enqueue(_ context.Context, msg domain.EstablishMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.enqueueErr != nil {
		return p.enqueueErr
	}
	p.enqueued = append(p.enqueued, msg.Key)
	p.messages = append(p.messages, msg)
	return nil
}

func (p *fakeProducer) Remove(_ context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removed = append(p.removed, key)
	return p.removeErr
}

func (p *fakeProducer) Completions(_ context.Context) (<-chan domain.Established, error) {
	return p.completions, nil
}

func (p *fakeProducer) enqueuedKeys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.enqueued...)
}

func (p *fakeProducer) lastMessage() domain.EstablishMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.messages) == 0 {
		return domain.EstablishMessage{}
	}
	return p.messages[len(p.messages)-1]
}

func (p *fakeProducer) removedKeys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.removed...)
}

type fakeAssets struct {
	mu          sync.Mutex
	downloads   int
	removes     int
	downloadErr error
}

func (a *fakeAssets) Download(context.Context, string, string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.downloads++
	return a.downloadErr
}

func (a *fakeAssets) Remove(context.Context, string, string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.removes++
	return nil
}

func (a *fakeAssets) counts() (int, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.downloads, a.removes
}

// fakeCoord is an in-memory coordination.Store with the same ownership
// rules as the Redis store
type fakeCoord struct {
	mu         sync.Mutex
	unassigned map[string]bool
	workers    map[string]map[string]bool
	owners     map[string]string
	alive      map[string]bool
	removed    map[string]bool
	dead       map[string]bool
	masterBeat int
}

func newFakeCoord() *fakeCoord {
	return &fakeCoord{
		unassigned: make(map[string]bool),
		workers:    make(map[string]map[string]bool),
		owners:     make(map[string]string),
		alive:      make(map[string]bool),
		removed:    make(map[string]bool),
		dead:       make(map[string]bool),
	}
}

func (c *fakeCoord) AddUnassigned(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.owners[key] == "" {
		c.unassigned[key] = true
	}
	return nil
}

func (c *fakeCoord) RecordAssignment(_ context.Context, workerID, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if owner := c.owners[key]; owner != "" && owner != workerID {
		return owner, false, nil
	}
	delete(c.unassigned, key)
	if c.workers[workerID] == nil {
		c.workers[workerID] = make(map[string]bool)
	}
	c.workers[workerID][key] = true
	c.owners[key] = workerID
	return workerID, true, nil
}

func (c *fakeCoord) Unassign(_ context.Context, workerID, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.workers[workerID], key)
	if owner := c.owners[key]; owner != "" && owner != workerID {
		return false, nil
	}
	c.unassigned[key] = true
	delete(c.owners, key)
	return true, nil
}

func (c *fakeCoord) Forget(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if owner := c.owners[key]; owner != "" {
		delete(c.workers[owner], key)
	}
	delete(c.unassigned, key)
	delete(c.owners, key)
	return nil
}

func (c *fakeCoord) Assignments(_ context.Context, workerID string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var keys []string
	for k := range c.workers[workerID] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (c *fakeCoord) Owner(_ context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.owners[key], nil
}

func (c *fakeCoord) Unassigned(_ context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var keys []string
	for k := range c.unassigned {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (c *fakeCoord) Status(_ context.Context, key string) (*domain.JobStatus, error) {
	return nil, domain.ErrNotFound
}

func (c *fakeCoord) MasterHeartbeat(context.Context, time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.masterBeat++
	return nil
}

func (c *fakeCoord) IsWorkerAlive(_ context.Context, workerID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alive[workerID], nil
}

func (c *fakeCoord) MarkRemoved(_ context.Context, key, generation string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removed[key+"#"+generation] = true
	return nil
}

func (c *fakeCoord) IsRemoved(_ context.Context, key, generation string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.removed[key+"#"+generation], nil
}

func (c *fakeCoord) MarkDead(_ context.Context, workerID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dead[workerID] = true
	return nil
}

func (c *fakeCoord) setAlive(workerID string, alive bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alive[workerID] = alive
}

func (c *fakeCoord) isRemoved(key, generation string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.removed[key+"#"+generation]
}

// anyRemoved reports whether some generation of key is marked removed
func (c *fakeCoord) anyRemoved(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for member := range c.removed {
		if strings.HasPrefix(member, key+"#") {
			return true
		}
	}
	return false
}

func (c *fakeCoord) isDead(workerID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dead[workerID]
}

func (c *fakeCoord) isUnassigned(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unassigned[key]
}
