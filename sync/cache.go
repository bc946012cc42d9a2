package sync

import (
	"sort"
	stdsync "sync"

	"betterish/model"
)

// Cache is the local mirror of the owner's tasks, shared by every view's
// subscription and the coordinator. Each view owns the ids its latest
// snapshot delivered; installing a snapshot only evicts ids that view owned
// and no other view still claims, so the today and past-promise streams
// never evict each other's tasks. Optimistic patches win transiently for
// tasks with an in-flight write.
type Cache struct {
	mu    stdsync.Mutex
	tasks map[string]model.Task
	views map[string]map[string]bool
}

func NewCache() *Cache {
	return &Cache{
		tasks: make(map[string]model.Task),
		views: make(map[string]map[string]bool),
	}
}

func (c *Cache) Get(taskID string) (model.Task, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tasks[taskID]
	return t, ok
}

func (c *Cache) Put(t model.Task) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tasks[t.TaskID] = t
}

func (c *Cache) Remove(taskID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tasks, taskID)
}

// ReplaceView installs a snapshot for one view. Tasks the view owned that
// dropped out of the snapshot are evicted unless another view still claims
// them or their id is in keep (those have an optimistic patch that has not
// settled, and the cached copy stays authoritative).
func (c *Cache) ReplaceView(viewID string, tasks []model.Task, keep map[string]bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		next[t.TaskID] = true
	}
	for id := range c.views[viewID] {
		if next[id] || keep[id] || c.claimedElsewhere(viewID, id) {
			continue
		}
		delete(c.tasks, id)
	}
	for _, t := range tasks {
		if keep[t.TaskID] {
			if _, ok := c.tasks[t.TaskID]; ok {
				continue
			}
		}
		c.tasks[t.TaskID] = t
	}
	c.views[viewID] = next
}

func (c *Cache) claimedElsewhere(viewID, taskID string) bool {
	for v, ids := range c.views {
		if v != viewID && ids[taskID] {
			return true
		}
	}
	return false
}

// All returns the cached tasks ordered by id for deterministic reads.
func (c *Cache) All() []model.Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.Task, 0, len(c.tasks))
	for _, t := range c.tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskID < out[j].TaskID })
	return out
}
