// Package chunk is the in-memory chunk registry: identity, status state
// machine, progress, and parent/child lineage, all serialized behind one
// mutex per the owning-actor pattern used throughout the scheduling core.
package chunk

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/scanord/engine/pkg/types"
)

// InvalidStateError reports a rejected status transition.
type InvalidStateError struct {
	ID   string
	From types.ChunkStatus
	To   types.ChunkStatus
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("chunk: invalid transition for %s: %s -> %s", e.ID, e.From, e.To)
}

// NotFoundError reports an operation against a chunk ID that does not
// exist in the store.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("chunk: not found: %s", e.ID)
}

// legalTransitions encodes the chunk lifecycle state machine.
var legalTransitions = map[types.ChunkStatus]map[types.ChunkStatus]bool{
	types.ChunkQueued:    {types.ChunkRunning: true, types.ChunkKilled: true},
	types.ChunkRunning:   {types.ChunkCompleted: true, types.ChunkFailed: true, types.ChunkKilled: true},
	types.ChunkCompleted: {types.ChunkQueued: true},
	types.ChunkFailed:    {types.ChunkQueued: true},
	types.ChunkKilled:    {types.ChunkQueued: true},
}

// Store is the mutex-guarded chunk registry.
type Store struct {
	mu       sync.RWMutex
	chunks   map[string]*types.Chunk
	children map[string][]string // parent_id -> child_ids, created_at order
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		chunks:   make(map[string]*types.Chunk),
		children: make(map[string][]string),
	}
}

// Create registers a new QUEUED chunk over addresses, optionally
// attributed to parentID (split lineage) at the given attempt
// number.
func (s *Store) Create(addresses []types.Address, parentID string, attempt int) *types.Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := &types.Chunk{
		ID:            uuid.NewString(),
		Addresses:     addresses,
		Status:        types.ChunkQueued,
		CreatedAt:     time.Now(),
		LastHeartbeat: time.Now(),
		ProgressTotal: len(addresses),
		ParentID:      parentID,
		Attempt:       attempt,
	}
	s.chunks[c.ID] = c
	if parentID != "" {
		s.children[parentID] = append(s.children[parentID], c.ID)
	}
	return c.Clone()
}

// Get returns a copy of the chunk, or NotFoundError.
func (s *Store) Get(id string) (*types.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.chunks[id]
	if !ok {
		return nil, &NotFoundError{ID: id}
	}
	return c.Clone(), nil
}

// Transition moves chunk id from its current status to to, stamping
// started_at/completed_at as appropriate. Requeue (terminal -> QUEUED)
// additionally resets progress and increments attempt.
func (s *Store) Transition(id string, to types.ChunkStatus) (*types.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.chunks[id]
	if !ok {
		return nil, &NotFoundError{ID: id}
	}

	from := c.Status
	if !legalTransitions[from][to] {
		return nil, &InvalidStateError{ID: id, From: from, To: to}
	}

	now := time.Now()
	switch to {
	case types.ChunkRunning:
		c.StartedAt = &now
	case types.ChunkCompleted, types.ChunkFailed, types.ChunkKilled:
		c.CompletedAt = &now
	case types.ChunkQueued:
		c.StartedAt = nil
		c.CompletedAt = nil
		c.ProgressCompleted = 0
		c.Attempt++
	}

	c.Status = to
	c.LastHeartbeat = now
	return c.Clone(), nil
}

// Progress increments progress_completed by delta, clamped at
// progress_total, and stamps last_heartbeat.
func (s *Store) Progress(id string, delta int) (*types.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.chunks[id]
	if !ok {
		return nil, &NotFoundError{ID: id}
	}

	c.ProgressCompleted += delta
	if c.ProgressCompleted > c.ProgressTotal {
		c.ProgressCompleted = c.ProgressTotal
	}
	c.LastHeartbeat = time.Now()
	return c.Clone(), nil
}

// Heartbeat stamps last_heartbeat without changing progress.
func (s *Store) Heartbeat(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.chunks[id]
	if !ok {
		return &NotFoundError{ID: id}
	}
	c.LastHeartbeat = time.Now()
	return nil
}

// ListFilter narrows List results.
type ListFilter struct {
	Status *types.ChunkStatus
	Limit  int
	Offset int
}

// List returns chunks matching filter, stable-ordered by created_at.
func (s *Store) List(filter ListFilter) []*types.Chunk {
	s.mu.RLock()
	all := make([]*types.Chunk, 0, len(s.chunks))
	for _, c := range s.chunks {
		if filter.Status != nil && c.Status != *filter.Status {
			continue
		}
		all = append(all, c.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })

	if filter.Offset > 0 {
		if filter.Offset >= len(all) {
			return nil
		}
		all = all[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(all) {
		all = all[:filter.Limit]
	}
	return all
}

// ListQueuedByAge returns QUEUED chunks ordered by created_at ascending,
// the promotion order the scheduler tick consumes.
func (s *Store) ListQueuedByAge() []*types.Chunk {
	queued := types.ChunkQueued
	return s.List(ListFilter{Status: &queued})
}

// Count returns the total number of chunks registered, across every
// status.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}

// CountByStatus satisfies pkg/metrics.ChunkCounter.
func (s *Store) CountByStatus() map[types.ChunkStatus]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[types.ChunkStatus]int, 5)
	for _, c := range s.chunks {
		counts[c.Status]++
	}
	return counts
}

// Children returns the direct child chunk IDs produced by a split of
// parentID, in creation order.
func (s *Store) Children(parentID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, len(s.children[parentID]))
	copy(out, s.children[parentID])
	return out
}

// Split cuts chunk id's addresses into contiguous slices of
// ceil(len/nParts) addresses each, creating one child per slice (so
// ceil(len/ceil(len/nParts)) children, which can be fewer than nParts:
// 5 addresses split 4 ways gives 3 children of 2, 2 and 1), transitions
// the parent to KILLED (the caller is
// responsible for having already cancelled any running supervisor), and
// returns the new child IDs in order.
func (s *Store) Split(id string, nParts int) ([]string, error) {
	if nParts < 1 {
		nParts = 1
	}

	s.mu.Lock()
	parent, ok := s.chunks[id]
	if !ok {
		s.mu.Unlock()
		return nil, &NotFoundError{ID: id}
	}

	// Split is always legal regardless of current status: the caller is
	// responsible for cancelling any running supervisor first (§4.7).
	addresses := parent.Addresses
	sliceSize := ceilDiv(len(addresses), nParts)
	var slices [][]types.Address
	for i := 0; i < len(addresses); i += sliceSize {
		end := i + sliceSize
		if end > len(addresses) {
			end = len(addresses)
		}
		slices = append(slices, addresses[i:end])
	}

	now := time.Now()
	if parent.Status != types.ChunkKilled {
		parent.Status = types.ChunkKilled
		parent.CompletedAt = &now
	}
	parentAttempt := parent.Attempt
	s.mu.Unlock()

	childIDs := make([]string, 0, len(slices))
	for _, sl := range slices {
		c := s.Create(sl, id, parentAttempt+1)
		childIDs = append(childIDs, c.ID)
	}
	return childIDs, nil
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return a
	}
	return (a + b - 1) / b
}
