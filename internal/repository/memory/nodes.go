package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/and161185/nodewiki/internal/errs"
	"github.com/and161185/nodewiki/internal/model"
	"github.com/and161185/nodewiki/internal/repository"
)

// NodeRepo is an in-memory node tree keyed by node ID with parent links.
type NodeRepo struct {
	mu    sync.RWMutex
	nodes map[string]model.Node
}

var _ repository.NodeRepository = (*NodeRepo)(nil)

// NewNodeRepo constructs a node repository seeded with nodes.
func NewNodeRepo(nodes ...model.Node) *NodeRepo {
	r := &NodeRepo{nodes: make(map[string]model.Node, len(nodes))}
	for _, n := range nodes {
		r.nodes[n.ID] = n
	}
	return r
}

// Get loads a node by ID.
func (r *NodeRepo) Get(_ context.Context, id string) (*model.Node, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nodes[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &n, nil
}

// Children returns direct children ordered by Position, then ID.
func (r *NodeRepo) Children(_ context.Context, id string) ([]model.Node, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []model.Node
	for _, n := range r.nodes {
		if n.ParentID == id && n.ID != id {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Put inserts or replaces a node.
func (r *NodeRepo) Put(_ context.Context, n model.Node) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes[n.ID] = n
	return nil
}
