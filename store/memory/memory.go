package memory

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/quintans/dig-scheduler/scheduler"
)

// MemStore simulates a remote storage.
// Tasks are kept by value, so callers never share memory with the store.
type MemStore struct {
	mu      sync.Mutex
	queue   *PriorityQueue
	locked  map[string]*MemEntry
	errored map[string]*MemEntry
}

func New() *MemStore {
	return &MemStore{
		queue:   &PriorityQueue{},
		locked:  map[string]*MemEntry{},
		errored: map[string]*MemEntry{},
	}
}

func (s *MemStore) Create(_ context.Context, task *scheduler.StoreTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.find(task.Slug) != nil {
		return scheduler.ErrJobAlreadyExists
	}

	entry := &MemEntry{StoreTask: *task}
	if entry.State == "" {
		entry.State = scheduler.StateNormal
	}
	s.put(entry)

	return nil
}

func (s *MemStore) NextRun(context.Context) (*scheduler.StoreTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.queue.Len() == 0 {
		return nil, scheduler.ErrJobNotFound
	}

	task := s.queue.Head().StoreTask
	return &task, nil
}

func (s *MemStore) Lock(_ context.Context, task *scheduler.StoreTask) (*scheduler.StoreTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, entry := range *s.queue {
		if entry.Slug != task.Slug {
			continue
		}
		if entry.Version != task.Version {
			return nil, scheduler.ErrJobNotLocked
		}
		s.queue.Remove(i)
		entry.Version++
		s.locked[entry.Slug] = entry

		locked := entry.StoreTask
		return &locked, nil
	}

	if s.find(task.Slug) != nil {
		return nil, scheduler.ErrJobNotLocked
	}
	return nil, fmt.Errorf("lock task '%s': %w", task.Slug, scheduler.ErrJobNotFound)
}

func (s *MemStore) Release(_ context.Context, task *scheduler.StoreTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.locked[task.Slug]
	if !ok {
		return fmt.Errorf("release task '%s': %w", task.Slug, scheduler.ErrJobNotFound)
	}
	if entry.Version != task.Version {
		return fmt.Errorf("release task '%s': %w", task.Slug, scheduler.ErrJobNotLocked)
	}

	delete(s.locked, task.Slug)
	entry.StoreTask = *task
	entry.Version++
	s.put(entry)
	return nil
}

func (s *MemStore) Resume(_ context.Context, slug string, when time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.errored[slug]
	if !ok {
		if s.find(slug) != nil {
			// nothing to resume
			return nil
		}
		return fmt.Errorf("resume task '%s': %w", slug, scheduler.ErrJobNotFound)
	}

	delete(s.errored, slug)
	entry.State = scheduler.StateNormal
	entry.When = when
	entry.Retry = 0
	entry.Version++
	s.put(entry)
	return nil
}

func (s *MemStore) GetSlugs(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slugs := make([]string, 0, s.queue.Len()+len(s.locked)+len(s.errored))
	for _, entry := range *s.queue {
		slugs = append(slugs, entry.Slug)
	}
	for k := range s.locked {
		slugs = append(slugs, k)
	}
	for k := range s.errored {
		slugs = append(slugs, k)
	}

	return slugs, nil
}

func (s *MemStore) Get(_ context.Context, slug string) (*scheduler.StoreTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.find(slug)
	if entry == nil {
		return nil, fmt.Errorf("get task '%s': %w", slug, scheduler.ErrJobNotFound)
	}
	task := entry.StoreTask
	return &task, nil
}

func (s *MemStore) Delete(_ context.Context, slug string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, entry := range *s.queue {
		if entry.Slug == slug {
			s.queue.Remove(i)
			return nil
		}
	}
	if _, ok := s.locked[slug]; ok {
		delete(s.locked, slug)
		return nil
	}
	if _, ok := s.errored[slug]; ok {
		delete(s.errored, slug)
		return nil
	}

	return fmt.Errorf("delete task '%s': %w", slug, scheduler.ErrJobNotFound)
}

func (s *MemStore) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.queue = &PriorityQueue{}
	s.locked = map[string]*MemEntry{}
	s.errored = map[string]*MemEntry{}

	return nil
}

// put stores the entry according to its state. Must be called with the lock held.
func (s *MemStore) put(entry *MemEntry) {
	if entry.State == scheduler.StateError {
		s.errored[entry.Slug] = entry
		return
	}
	heap.Push(s.queue, entry)
}

// find must be called with the lock held.
func (s *MemStore) find(slug string) *MemEntry {
	for _, entry := range *s.queue {
		if entry.Slug == slug {
			return entry
		}
	}
	if entry, ok := s.locked[slug]; ok {
		return entry
	}
	return s.errored[slug]
}

type MemEntry struct {
	scheduler.StoreTask
	index int
}

// PriorityQueue implements the heap.Interface.
type PriorityQueue []*MemEntry

// Len returns the PriorityQueue length.
func (pq PriorityQueue) Len() int { return len(pq) }

// Less is the items less comparator.
func (pq PriorityQueue) Less(i, j int) bool {
	return pq[i].When.Before(pq[j].When)
}

// Swap exchanges the indexes of the items.
func (pq PriorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}

// Push implements the heap.Interface.Push.
// Adds x as element Len().
func (pq *PriorityQueue) Push(x any) {
	n := len(*pq)
	entry := x.(*MemEntry)
	entry.index = n
	*pq = append(*pq, entry)
}

// Pop implements the heap.Interface.Pop.
// Removes and returns element Len() - 1.
func (pq *PriorityQueue) Pop() any {
	old := *pq
	n := len(old)
	entry := old[n-1]
	entry.index = -1 // for safety
	*pq = old[0 : n-1]
	return entry
}

// Head returns the first entry of a PriorityQueue without removing it.
func (pq *PriorityQueue) Head() *MemEntry {
	return (*pq)[0]
}

// Remove removes and returns the element at index i from the PriorityQueue.
func (pq *PriorityQueue) Remove(i int) *MemEntry {
	return heap.Remove(pq, i).(*MemEntry)
}
