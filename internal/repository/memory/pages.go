// Package memory contains in-process implementations of repository interfaces.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/nodewiki/internal/errs"
	"github.com/and161185/nodewiki/internal/model"
	"github.com/and161185/nodewiki/internal/pagekey"
	"github.com/and161185/nodewiki/internal/repository"
)

type nodePages struct {
	mu      sync.RWMutex
	current map[pagekey.Key]uuid.UUID
	history map[pagekey.Key][]uuid.UUID
	pages   map[uuid.UUID]*model.Page
}

func newNodePages() *nodePages {
	return &nodePages{
		current: make(map[pagekey.Key]uuid.UUID),
		history: make(map[pagekey.Key][]uuid.UUID),
		pages:   make(map[uuid.UUID]*model.Page),
	}
}

// maxVersion must be called with np.mu held.
func (np *nodePages) maxVersion(key pagekey.Key) int64 {
	ids := np.history[key]
	if len(ids) == 0 {
		return 0
	}
	return np.pages[ids[len(ids)-1]].Version
}

type lockKey struct {
	node string
	key  pagekey.Key
}

// PageStore is an in-memory repository.PageStore.
//
// Writers to one key are serialized by a per-key mutex; appends are
// additionally conditioned on the max version observed before the lock was
// taken, so a writer that raced another one re-reads and retries.
type PageStore struct {
	mu      sync.Mutex
	nodes   map[string]*nodePages
	locks   map[lockKey]*sync.Mutex
	retries int

	// beforeCAS, when set, runs between reading the max version and taking the key lock.
	beforeCAS func()
}

var _ repository.PageStore = (*PageStore)(nil)

// NewPageStore constructs an empty store. retries <= 0 selects repository.DefaultCASRetries.
func NewPageStore(retries int) *PageStore {
	if retries <= 0 {
		retries = repository.DefaultCASRetries
	}
	return &PageStore{
		nodes:   make(map[string]*nodePages),
		locks:   make(map[lockKey]*sync.Mutex),
		retries: retries,
	}
}

func (s *PageStore) node(nodeID string) *nodePages {
	s.mu.Lock()
	defer s.mu.Unlock()
	np, ok := s.nodes[nodeID]
	if !ok {
		np = newNodePages()
		s.nodes[nodeID] = np
	}
	return np
}

func (s *PageStore) keyLock(nodeID string, key pagekey.Key) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lk := lockKey{node: nodeID, key: key}
	l, ok := s.locks[lk]
	if !ok {
		l = &sync.Mutex{}
		s.locks[lk] = l
	}
	return l
}

// GetCurrent returns the current version of key.
func (s *PageStore) GetCurrent(_ context.Context, nodeID string, key pagekey.Key) (*model.Page, error) {
	np := s.node(nodeID)
	np.mu.RLock()
	defer np.mu.RUnlock()
	id, ok := np.current[key]
	if !ok {
		return nil, errs.ErrNotFound
	}
	p := *np.pages[id]
	return &p, nil
}

// GetVersion returns version n of key.
func (s *PageStore) GetVersion(_ context.Context, nodeID string, key pagekey.Key, n int64) (*model.Page, error) {
	np := s.node(nodeID)
	np.mu.RLock()
	defer np.mu.RUnlock()
	ids := np.history[key]
	if n < 1 || n > int64(len(ids)) {
		return nil, errs.ErrNotFound
	}
	p := *np.pages[ids[n-1]]
	return &p, nil
}

// History returns every version of key, oldest first.
func (s *PageStore) History(_ context.Context, nodeID string, key pagekey.Key) ([]model.Page, error) {
	np := s.node(nodeID)
	np.mu.RLock()
	defer np.mu.RUnlock()
	ids := np.history[key]
	out := make([]model.Page, 0, len(ids))
	for _, id := range ids {
		out = append(out, *np.pages[id])
	}
	return out, nil
}

// PutNewVersion appends a version with optimistic concurrency on the max version.
func (s *PageStore) PutNewVersion(
	ctx context.Context, nodeID string, key pagekey.Key, name, content string, author uuid.UUID, now time.Time,
) (*model.Page, error) {
	np := s.node(nodeID)
	for attempt := 0; attempt < s.retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		np.mu.RLock()
		observed := np.maxVersion(key)
		np.mu.RUnlock()

		id, err := uuid.NewV4()
		if err != nil {
			return nil, err
		}
		page := &model.Page{
			ID:        id,
			NodeID:    nodeID,
			Key:       string(key),
			Name:      name,
			Content:   content,
			Version:   observed + 1,
			CreatedAt: now,
			Author:    author,
			IsCurrent: true,
		}

		if s.beforeCAS != nil {
			s.beforeCAS()
		}
		if s.compareAndAppend(np, nodeID, key, observed, page) {
			out := *page
			return &out, nil
		}
	}
	return nil, errs.ErrVersionConflict
}

func (s *PageStore) compareAndAppend(np *nodePages, nodeID string, key pagekey.Key, observed int64, page *model.Page) bool {
	l := s.keyLock(nodeID, key)
	l.Lock()
	defer l.Unlock()

	np.mu.Lock()
	defer np.mu.Unlock()
	if np.maxVersion(key) != observed {
		return false
	}
	if ids := np.history[key]; len(ids) > 0 {
		np.pages[ids[len(ids)-1]].IsCurrent = false
	}
	np.pages[page.ID] = page
	np.history[key] = append(np.history[key], page.ID)
	np.current[key] = page.ID
	return true
}

// RemapKey moves oldKey's history and current pointer to newKey.
func (s *PageStore) RemapKey(_ context.Context, nodeID string, oldKey, newKey pagekey.Key) error {
	if oldKey == newKey {
		return nil
	}
	first, second := oldKey, newKey
	if second < first {
		first, second = second, first
	}
	l1, l2 := s.keyLock(nodeID, first), s.keyLock(nodeID, second)
	l1.Lock()
	defer l1.Unlock()
	l2.Lock()
	defer l2.Unlock()

	np := s.node(nodeID)
	np.mu.Lock()
	defer np.mu.Unlock()
	if _, ok := np.current[newKey]; ok {
		return errs.ErrConflict
	}
	if len(np.history[newKey]) > 0 {
		return errs.ErrConflict
	}
	ids, ok := np.history[oldKey]
	if !ok {
		return errs.ErrNotFound
	}
	for _, id := range ids {
		np.pages[id].Key = string(newKey)
	}
	np.history[newKey] = ids
	delete(np.history, oldKey)
	if cur, ok := np.current[oldKey]; ok {
		np.current[newKey] = cur
		delete(np.current, oldKey)
	}
	return nil
}

// RemoveCurrent clears the current pointer of key.
func (s *PageStore) RemoveCurrent(_ context.Context, nodeID string, key pagekey.Key) error {
	l := s.keyLock(nodeID, key)
	l.Lock()
	defer l.Unlock()

	np := s.node(nodeID)
	np.mu.Lock()
	defer np.mu.Unlock()
	if _, ok := np.current[key]; !ok {
		return errs.ErrNotFound
	}
	delete(np.current, key)
	return nil
}

// SetName updates the display name of the current version of key.
func (s *PageStore) SetName(_ context.Context, nodeID string, key pagekey.Key, name string) error {
	l := s.keyLock(nodeID, key)
	l.Lock()
	defer l.Unlock()

	np := s.node(nodeID)
	np.mu.Lock()
	defer np.mu.Unlock()
	id, ok := np.current[key]
	if !ok {
		return errs.ErrNotFound
	}
	np.pages[id].Name = name
	return nil
}

// ListCurrent returns current pages sorted by key.
func (s *PageStore) ListCurrent(_ context.Context, nodeID string) ([]model.Page, error) {
	np := s.node(nodeID)
	np.mu.RLock()
	defer np.mu.RUnlock()
	out := make([]model.Page, 0, len(np.current))
	for _, id := range np.current {
		out = append(out, *np.pages[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// GetByID returns a stored version by its id.
func (s *PageStore) GetByID(_ context.Context, nodeID string, id uuid.UUID) (*model.Page, error) {
	np := s.node(nodeID)
	np.mu.RLock()
	defer np.mu.RUnlock()
	p, ok := np.pages[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	out := *p
	return &out, nil
}
