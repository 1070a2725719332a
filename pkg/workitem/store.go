package workitem

import (
	"fmt"
	"sync"

	"flowfarm/pkg/types"
)

// Statistics describes a set of items.
type Statistics struct {
	Total      int            `json:"total"`
	Pending    int            `json:"pending"`
	ByStatus   map[string]int `json:"byStatus"`
	ByPlatform map[string]int `json:"byPlatform"`
	ByPriority map[int]int    `json:"byPriority"`
}

func Summarize(items []types.WorkItem) Statistics {
	st := Statistics{
		Total:      len(items),
		ByStatus:   make(map[string]int),
		ByPlatform: make(map[string]int),
		ByPriority: make(map[int]int),
	}
	for _, it := range items {
		st.ByStatus[it.Status.String()]++
		st.ByPlatform[it.Platform]++
		st.ByPriority[it.Priority]++
		if it.Status == types.ItemPending {
			st.Pending++
		}
	}
	return st
}

// Store keeps items in import order. Readers get copies; writers go through Update.
type Store struct {
	mu    sync.RWMutex
	items []types.WorkItem
	index map[string]int
}

func NewStore() *Store {
	return &Store{index: make(map[string]int)}
}

// Replace swaps the whole collection, renumbering Seq in the given order.
func (s *Store) Replace(items []types.WorkItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make([]types.WorkItem, 0, len(items))
	s.index = make(map[string]int, len(items))
	for _, it := range items {
		s.appendLocked(it)
	}
}

// Merge appends items whose ids are new and leaves known ids untouched. Items
// imported without an id carry IdentityID, so a repeated account is skipped here.
func (s *Store) Merge(items []types.WorkItem) (added, skipped int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range items {
		if _, ok := s.index[it.ID]; ok {
			skipped++
			continue
		}
		s.appendLocked(it)
		added++
	}
	return added, skipped
}

func (s *Store) appendLocked(it types.WorkItem) {
	it = it.Clone()
	it.Seq = len(s.items)
	s.index[it.ID] = it.Seq
	s.items = append(s.items, it)
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func (s *Store) Get(id string) (types.WorkItem, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[id]
	if !ok {
		return types.WorkItem{}, false
	}
	return s.items[i].Clone(), true
}

// Items returns copies of every item in import order.
func (s *Store) Items() []types.WorkItem {
	return s.Filter(nil)
}

// Filter returns copies of the items keep accepts; a nil keep accepts all.
func (s *Store) Filter(keep func(types.WorkItem) bool) []types.WorkItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.WorkItem
	for _, it := range s.items {
		if keep == nil || keep(it) {
			out = append(out, it.Clone())
		}
	}
	return out
}

func (s *Store) Pending() []types.WorkItem {
	return s.Filter(func(it types.WorkItem) bool { return it.Status == types.ItemPending })
}

// Update applies fn to the stored item and returns the result. fn must not change the id.
func (s *Store) Update(id string, fn func(*types.WorkItem)) (types.WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[id]
	if !ok {
		return types.WorkItem{}, fmt.Errorf("unknown work item %q", id)
	}
	it := &s.items[i]
	fn(it)
	it.ID, it.Seq = id, i
	return it.Clone(), nil
}

func (s *Store) Statistics() Statistics {
	return Summarize(s.Items())
}

// Requeue returns Failed and Error items with fewer than maxRetries attempts to Pending
// so the next batch picks them up. It reports how many were requeued.
func (s *Store) Requeue(maxRetries int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for i := range s.items {
		it := &s.items[i]
		if (it.Status == types.ItemFailed || it.Status == types.ItemError) && it.RetryCount < maxRetries {
			it.Status = types.ItemPending
			n++
		}
	}
	return n
}
