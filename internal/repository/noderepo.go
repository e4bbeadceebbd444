// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/and161185/nodewiki/internal/model"
)

// NodeRepository gives read access to the node tree.
type NodeRepository interface {
	// Get loads a node by ID.
	Get(ctx context.Context, id string) (*model.Node, error)
	// Children returns the direct children of a node in stored order.
	Children(ctx context.Context, id string) ([]model.Node, error)
	// Put inserts or replaces a node.
	Put(ctx context.Context, n model.Node) error
}

// AuditLog records wiki events. Callers treat it as fire-and-forget.
type AuditLog interface {
	Record(ctx context.Context, ev model.AuditEvent) error
}
