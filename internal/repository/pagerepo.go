package repository

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/nodewiki/internal/model"
	"github.com/and161185/nodewiki/internal/pagekey"
)

// PageStore provides versioned access to wiki pages, scoped by node.
type PageStore interface {
	// GetCurrent returns the current version of key, or errs.ErrNotFound.
	GetCurrent(ctx context.Context, nodeID string, key pagekey.Key) (*model.Page, error)

	// GetVersion returns version n of key, or errs.ErrNotFound when out of range.
	GetVersion(ctx context.Context, nodeID string, key pagekey.Key, n int64) (*model.Page, error)

	// History returns all versions of key in ascending order; empty for an unknown key.
	History(ctx context.Context, nodeID string, key pagekey.Key) ([]model.Page, error)

	// PutNewVersion appends version max+1 (or 1) of key and makes it current.
	// Concurrent writers to the same key never share a version number.
	PutNewVersion(ctx context.Context, nodeID string, key pagekey.Key, name, content string,
		author uuid.UUID, now time.Time) (*model.Page, error)

	// RemapKey moves the current pointer and history of oldKey to newKey.
	// It fails with errs.ErrConflict if newKey has any entry.
	RemapKey(ctx context.Context, nodeID string, oldKey, newKey pagekey.Key) error

	// RemoveCurrent clears the current pointer of key; history stays readable by version.
	RemoveCurrent(ctx context.Context, nodeID string, key pagekey.Key) error

	// SetName updates the display name stored on the current version of key.
	SetName(ctx context.Context, nodeID string, key pagekey.Key, name string) error

	// ListCurrent returns the current version of every live key of a node, sorted by key.
	ListCurrent(ctx context.Context, nodeID string) ([]model.Page, error)

	// GetByID returns any stored version by its page id.
	GetByID(ctx context.Context, nodeID string, id uuid.UUID) (*model.Page, error)
}

// DefaultCASRetries bounds how many times a store re-reads the max version
// after losing a compare-and-swap before giving up with errs.ErrVersionConflict.
const DefaultCASRetries = 16
