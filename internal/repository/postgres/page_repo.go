package postgres

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/nodewiki/internal/errs"
	"github.com/and161185/nodewiki/internal/model"
	"github.com/and161185/nodewiki/internal/pagekey"
	"github.com/and161185/nodewiki/internal/repository"
)

const pageCols = `id, node_id, page_key, page_name, content, version, created_at, author, is_current`

const currentJoin = `
SELECT p.id, p.node_id, p.page_key, p.page_name, p.content, p.version, p.created_at, p.author, p.is_current
FROM wiki_current c JOIN wiki_pages p ON p.id = c.page_id`

// PageRepo implements repository.PageStore on the wiki_pages and wiki_current tables.
// wiki_pages holds every version; wiki_current points each live key at its current row.
type PageRepo struct {
	db      *DB
	retries int
}

var _ repository.PageStore = (*PageRepo)(nil)

// NewPageRepo constructs a page repository. retries <= 0 selects repository.DefaultCASRetries.
func NewPageRepo(db *DB, retries int) *PageRepo {
	if retries <= 0 {
		retries = repository.DefaultCASRetries
	}
	return &PageRepo{db: db, retries: retries}
}

func scanPage(row pgx.Row) (*model.Page, error) {
	var p model.Page
	if err := row.Scan(&p.ID, &p.NodeID, &p.Key, &p.Name, &p.Content, &p.Version, &p.CreatedAt, &p.Author, &p.IsCurrent); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *PageRepo) queryPages(ctx context.Context, q string, args ...any) ([]model.Page, error) {
	rows, err := r.db.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Page{}
	for rows.Next() {
		p, err := scanPage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// GetCurrent returns the current version of key.
func (r *PageRepo) GetCurrent(ctx context.Context, nodeID string, key pagekey.Key) (*model.Page, error) {
	const q = currentJoin + ` WHERE c.node_id=$1 AND c.page_key=$2`
	return scanPage(r.db.Pool.QueryRow(ctx, q, nodeID, string(key)))
}

// GetVersion returns version n of key.
func (r *PageRepo) GetVersion(ctx context.Context, nodeID string, key pagekey.Key, n int64) (*model.Page, error) {
	if n < 1 {
		return nil, errs.ErrNotFound
	}
	const q = `SELECT ` + pageCols + ` FROM wiki_pages WHERE node_id=$1 AND page_key=$2 AND version=$3`
	return scanPage(r.db.Pool.QueryRow(ctx, q, nodeID, string(key), n))
}

// History returns all versions of key, oldest first.
func (r *PageRepo) History(ctx context.Context, nodeID string, key pagekey.Key) ([]model.Page, error) {
	const q = `SELECT ` + pageCols + ` FROM wiki_pages WHERE node_id=$1 AND page_key=$2 ORDER BY version ASC`
	return r.queryPages(ctx, q, nodeID, string(key))
}

var errVersionTaken = errors.New("version taken")

const lockKeySQL = `SELECT pg_advisory_xact_lock(hashtextextended($1 || '/' || $2, 0))`

// lockKeys takes transaction-scoped advisory locks on (nodeID, key) pairs in
// sorted order. Writers, remaps and removals of one key are serialized by them.
func lockKeys(ctx context.Context, tx pgx.Tx, nodeID string, keys ...pagekey.Key) error {
	sorted := slices.Clone(keys)
	slices.Sort(sorted)
	for _, k := range slices.Compact(sorted) {
		if _, err := tx.Exec(ctx, lockKeySQL, nodeID, string(k)); err != nil {
			return fmt.Errorf("lock %s/%s: %w", nodeID, k, err)
		}
	}
	return nil
}

// PutNewVersion inserts version max+1 under the key's advisory lock. The unique
// (node_id, page_key, version) constraint still backs the compare-and-swap: a
// writer that loses the race re-reads and retries.
func (r *PageRepo) PutNewVersion(
	ctx context.Context, nodeID string, key pagekey.Key, name, content string, author uuid.UUID, now time.Time,
) (*model.Page, error) {
	for attempt := 0; attempt < r.retries; attempt++ {
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
			CreatedAt: now,
			Author:    author,
			IsCurrent: true,
		}
		err = r.db.inTx(ctx, func(tx pgx.Tx) error { return appendVersion(ctx, tx, page) })
		switch {
		case err == nil:
			return page, nil
		case errors.Is(err, errVersionTaken):
			continue
		default:
			return nil, err
		}
	}
	return nil, errs.ErrVersionConflict
}

func appendVersion(ctx context.Context, tx pgx.Tx, p *model.Page) error {
	const sel = `SELECT COALESCE(MAX(version),0) FROM wiki_pages WHERE node_id=$1 AND page_key=$2`
	const ins = `INSERT INTO wiki_pages (id, node_id, page_key, page_name, content, version, created_at, author, is_current) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,true)`
	const demote = `UPDATE wiki_pages SET is_current=false WHERE node_id=$1 AND page_key=$2 AND version<$3 AND is_current`
	const cur = `INSERT INTO wiki_current (node_id, page_key, page_id) VALUES ($1,$2,$3) ON CONFLICT (node_id, page_key) DO UPDATE SET page_id=EXCLUDED.page_id`

	if err := lockKeys(ctx, tx, p.NodeID, pagekey.Key(p.Key)); err != nil {
		return err
	}
	var observed int64
	if err := tx.QueryRow(ctx, sel, p.NodeID, p.Key).Scan(&observed); err != nil {
		return err
	}
	p.Version = observed + 1
	if _, err := tx.Exec(ctx, ins, p.ID, p.NodeID, p.Key, p.Name, p.Content, p.Version, p.CreatedAt, p.Author); err != nil {
		if isUniqueViolation(err) {
			return errVersionTaken
		}
		return err
	}
	if _, err := tx.Exec(ctx, demote, p.NodeID, p.Key, p.Version); err != nil {
		return err
	}
	_, err := tx.Exec(ctx, cur, p.NodeID, p.Key, p.ID)
	return err
}

// RemapKey moves the history and current pointer of oldKey to newKey.
func (r *PageRepo) RemapKey(ctx context.Context, nodeID string, oldKey, newKey pagekey.Key) error {
	if oldKey == newKey {
		return nil
	}
	const taken = `SELECT EXISTS (SELECT 1 FROM wiki_pages WHERE node_id=$1 AND page_key=$2)`
	const movePages = `UPDATE wiki_pages SET page_key=$3 WHERE node_id=$1 AND page_key=$2`
	const moveCurrent = `UPDATE wiki_current SET page_key=$3 WHERE node_id=$1 AND page_key=$2`

	return r.db.inTx(ctx, func(tx pgx.Tx) error {
		if err := lockKeys(ctx, tx, nodeID, oldKey, newKey); err != nil {
			return err
		}
		var exists bool
		if err := tx.QueryRow(ctx, taken, nodeID, string(newKey)).Scan(&exists); err != nil {
			return err
		}
		if exists {
			return errs.ErrConflict
		}
		tag, err := tx.Exec(ctx, movePages, nodeID, string(oldKey), string(newKey))
		if err != nil {
			if isUniqueViolation(err) {
				return errs.ErrConflict
			}
			return err
		}
		if tag.RowsAffected() == 0 {
			return errs.ErrNotFound
		}
		if _, err := tx.Exec(ctx, moveCurrent, nodeID, string(oldKey), string(newKey)); err != nil {
			if isUniqueViolation(err) {
				return errs.ErrConflict
			}
			return err
		}
		return nil
	})
}

// RemoveCurrent deletes the current pointer of key.
func (r *PageRepo) RemoveCurrent(ctx context.Context, nodeID string, key pagekey.Key) error {
	const q = `DELETE FROM wiki_current WHERE node_id=$1 AND page_key=$2`
	return r.db.inTx(ctx, func(tx pgx.Tx) error {
		if err := lockKeys(ctx, tx, nodeID, key); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, q, nodeID, string(key))
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return errs.ErrNotFound
		}
		return nil
	})
}

// SetName updates page_name on the current row of key.
func (r *PageRepo) SetName(ctx context.Context, nodeID string, key pagekey.Key, name string) error {
	const q = `UPDATE wiki_pages SET page_name=$3 WHERE id=(SELECT page_id FROM wiki_current WHERE node_id=$1 AND page_key=$2)`
	return r.db.inTx(ctx, func(tx pgx.Tx) error {
		if err := lockKeys(ctx, tx, nodeID, key); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, q, nodeID, string(key), name)
		if err != nil {
			return fmt.Errorf("set page name: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return errs.ErrNotFound
		}
		return nil
	})
}

// ListCurrent returns current pages of nodeID sorted by key.
func (r *PageRepo) ListCurrent(ctx context.Context, nodeID string) ([]model.Page, error) {
	const q = currentJoin + ` WHERE c.node_id=$1 ORDER BY c.page_key ASC`
	return r.queryPages(ctx, q, nodeID)
}

// GetByID returns a version by id.
func (r *PageRepo) GetByID(ctx context.Context, nodeID string, id uuid.UUID) (*model.Page, error) {
	const q = `SELECT ` + pageCols + ` FROM wiki_pages WHERE node_id=$1 AND id=$2`
	return scanPage(r.db.Pool.QueryRow(ctx, q, nodeID, id))
}
