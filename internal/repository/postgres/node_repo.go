package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/and161185/nodewiki/internal/errs"
	"github.com/and161185/nodewiki/internal/model"
	"github.com/and161185/nodewiki/internal/repository"
)

const nodeCols = `id, parent_id, title, category, position, is_deleted, wiki_enabled, is_registration, is_public, is_pointer`

// NodeRepo implements repository.NodeRepository using PostgreSQL.
type NodeRepo struct{ db *DB }

var _ repository.NodeRepository = (*NodeRepo)(nil)

// NewNodeRepo constructs a node repository.
func NewNodeRepo(db *DB) *NodeRepo { return &NodeRepo{db: db} }

func scanNode(row pgx.Row) (*model.Node, error) {
	var n model.Node
	if err := row.Scan(&n.ID, &n.ParentID, &n.Title, &n.Category, &n.Position,
		&n.IsDeleted, &n.WikiEnabled, &n.IsRegistration, &n.IsPublic, &n.IsPointer); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &n, nil
}

// Get loads a node by id.
func (r *NodeRepo) Get(ctx context.Context, id string) (*model.Node, error) {
	const q = `SELECT ` + nodeCols + ` FROM nodes WHERE id=$1`
	return scanNode(r.db.Pool.QueryRow(ctx, q, id))
}

// Children returns the direct children of id ordered by position.
func (r *NodeRepo) Children(ctx context.Context, id string) ([]model.Node, error) {
	const q = `SELECT ` + nodeCols + ` FROM nodes WHERE parent_id=$1 AND id<>$1 ORDER BY position ASC, id ASC`
	rows, err := r.db.Pool.Query(ctx, q, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

// Put inserts or replaces a node.
func (r *NodeRepo) Put(ctx context.Context, n model.Node) error {
	const q = `
INSERT INTO nodes (` + nodeCols + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (id) DO UPDATE SET
	parent_id=EXCLUDED.parent_id, title=EXCLUDED.title, category=EXCLUDED.category,
	position=EXCLUDED.position, is_deleted=EXCLUDED.is_deleted, wiki_enabled=EXCLUDED.wiki_enabled,
	is_registration=EXCLUDED.is_registration, is_public=EXCLUDED.is_public, is_pointer=EXCLUDED.is_pointer`
	_, err := r.db.Pool.Exec(ctx, q, n.ID, n.ParentID, n.Title, n.Category, n.Position,
		n.IsDeleted, n.WikiEnabled, n.IsRegistration, n.IsPublic, n.IsPointer)
	return err
}
