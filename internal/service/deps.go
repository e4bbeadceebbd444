// Package service contains the wiki page engine and the collaborators it consumes.
package service

import (
	"context"
	"time"

	"github.com/and161185/nodewiki/internal/model"
)

// Authorizer answers capability questions about a node for a caller.
type Authorizer interface {
	// HasWritePermission reports whether auth may modify pages of node.
	HasWritePermission(node model.Node, auth model.Auth) bool
	// CanView reports whether auth may see node.
	CanView(node model.Node, auth model.Auth) bool
}

// RegistrationCheck reports whether a node is an immutable registration.
type RegistrationCheck interface {
	IsRegistration(node model.Node) bool
}

// NodeFlagRegistration trusts the node's own IsRegistration flag.
type NodeFlagRegistration struct{}

// IsRegistration returns node.IsRegistration.
func (NodeFlagRegistration) IsRegistration(node model.Node) bool { return node.IsRegistration }

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock in UTC.
type SystemClock struct{}

// Now returns time.Now in UTC.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// Indexer keeps a search index of current page content.
type Indexer interface {
	IndexPage(ctx context.Context, p model.Page) error
	RemovePage(ctx context.Context, nodeID, key string) error
}
