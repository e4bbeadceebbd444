// Package redisrepo keeps wiki pages in Redis.
//
// Layout per node, under prefix "wiki:{node}:":
//
//	page:{id}   JSON page record
//	hist:{key}  list of page ids, index i holds version i+1
//	cur         hash key -> page id of live keys
package redisrepo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/redis/go-redis/v9"

	"github.com/and161185/nodewiki/internal/errs"
	"github.com/and161185/nodewiki/internal/model"
	"github.com/and161185/nodewiki/internal/pagekey"
	"github.com/and161185/nodewiki/internal/repository"
)

type record struct {
	ID        uuid.UUID `json:"id"`
	Key       string    `json:"key"`
	Name      string    `json:"name"`
	Content   string    `json:"content"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	Author    uuid.UUID `json:"author"`
	IsCurrent bool      `json:"is_current"`
}

func (r record) page(nodeID string) model.Page {
	return model.Page{
		ID:        r.ID,
		NodeID:    nodeID,
		Key:       r.Key,
		Name:      r.Name,
		Content:   r.Content,
		Version:   r.Version,
		CreatedAt: r.CreatedAt,
		Author:    r.Author,
		IsCurrent: r.IsCurrent,
	}
}

// PageStore implements repository.PageStore with WATCH/MULTI transactions.
type PageStore struct {
	client  *redis.Client
	prefix  string
	retries int

	// beforeExec, when set, runs inside a watched transaction before MULTI.
	beforeExec func()
}

var _ repository.PageStore = (*PageStore)(nil)

// NewPageStore connects to redisURL and pings it.
func NewPageStore(ctx context.Context, redisURL string, retries int) (*PageStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewPageStoreWithClient(client, retries), nil
}

// NewPageStoreWithClient wraps an existing client. retries <= 0 selects repository.DefaultCASRetries.
func NewPageStoreWithClient(client *redis.Client, retries int) *PageStore {
	if retries <= 0 {
		retries = repository.DefaultCASRetries
	}
	return &PageStore{client: client, prefix: "wiki:", retries: retries}
}

// Close closes the Redis connection.
func (s *PageStore) Close() error { return s.client.Close() }

func (s *PageStore) pageKey(nodeID string, id string) string {
	return s.prefix + nodeID + ":page:" + id
}

func (s *PageStore) histKey(nodeID string, key pagekey.Key) string {
	return s.prefix + nodeID + ":hist:" + string(key)
}

func (s *PageStore) curKey(nodeID string) string {
	return s.prefix + nodeID + ":cur"
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *PageStore) load(ctx context.Context, c getter, nodeID, id string) (*record, error) {
	raw, err := c.Get(ctx, s.pageKey(nodeID, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode page %s: %w", id, err)
	}
	return &rec, nil
}

func (s *PageStore) loadMany(ctx context.Context, nodeID string, ids []string) ([]model.Page, error) {
	out := make([]model.Page, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.pageKey(nodeID, id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("page %s: %w", ids[i], errs.ErrNotFound)
		}
		var rec record
		if err := json.Unmarshal([]byte(str), &rec); err != nil {
			return nil, fmt.Errorf("decode page %s: %w", ids[i], err)
		}
		out = append(out, rec.page(nodeID))
	}
	return out, nil
}

// GetCurrent returns the current version of key.
func (s *PageStore) GetCurrent(ctx context.Context, nodeID string, key pagekey.Key) (*model.Page, error) {
	id, err := s.client.HGet(ctx, s.curKey(nodeID), string(key)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rec, err := s.load(ctx, s.client, nodeID, id)
	if err != nil {
		return nil, err
	}
	p := rec.page(nodeID)
	return &p, nil
}

// GetVersion returns version n of key.
func (s *PageStore) GetVersion(ctx context.Context, nodeID string, key pagekey.Key, n int64) (*model.Page, error) {
	if n < 1 {
		return nil, errs.ErrNotFound
	}
	id, err := s.client.LIndex(ctx, s.histKey(nodeID, key), n-1).Result()
	if errors.Is(err, redis.Nil) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rec, err := s.load(ctx, s.client, nodeID, id)
	if err != nil {
		return nil, err
	}
	p := rec.page(nodeID)
	return &p, nil
}

// History returns all versions of key, oldest first.
func (s *PageStore) History(ctx context.Context, nodeID string, key pagekey.Key) ([]model.Page, error) {
	ids, err := s.client.LRange(ctx, s.histKey(nodeID, key), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	return s.loadMany(ctx, nodeID, ids)
}

// PutNewVersion appends a version. The history list is watched; a concurrent
// append aborts the transaction and the write is retried on the new length.
func (s *PageStore) PutNewVersion(
	ctx context.Context, nodeID string, key pagekey.Key, name, content string, author uuid.UUID, now time.Time,
) (*model.Page, error) {
	hist := s.histKey(nodeID, key)
	for attempt := 0; attempt < s.retries; attempt++ {
		var out model.Page
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			ids, err := tx.LRange(ctx, hist, -1, -1).Result()
			if err != nil {
				return err
			}
			observed, err := tx.LLen(ctx, hist).Result()
			if err != nil {
				return err
			}
			var prev *record
			if len(ids) == 1 {
				if prev, err = s.load(ctx, tx, nodeID, ids[0]); err != nil {
					return err
				}
				prev.IsCurrent = false
			}

			id, err := uuid.NewV4()
			if err != nil {
				return err
			}
			rec := record{
				ID:        id,
				Key:       string(key),
				Name:      name,
				Content:   content,
				Version:   observed + 1,
				CreatedAt: now,
				Author:    author,
				IsCurrent: true,
			}
			if s.beforeExec != nil {
				s.beforeExec()
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				if err := setRecord(ctx, pipe, s.pageKey(nodeID, id.String()), rec); err != nil {
					return err
				}
				if prev != nil {
					if err := setRecord(ctx, pipe, s.pageKey(nodeID, prev.ID.String()), *prev); err != nil {
						return err
					}
				}
				pipe.RPush(ctx, hist, id.String())
				pipe.HSet(ctx, s.curKey(nodeID), string(key), id.String())
				return nil
			})
			if err != nil {
				return err
			}
			out = rec.page(nodeID)
			return nil
		}, hist)
		switch {
		case err == nil:
			return &out, nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		default:
			return nil, err
		}
	}
	return nil, errs.ErrVersionConflict
}

func setRecord(ctx context.Context, pipe redis.Pipeliner, key string, rec record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode page: %w", err)
	}
	pipe.Set(ctx, key, raw, 0)
	return nil
}

// RemapKey moves the history and current pointer of oldKey to newKey.
func (s *PageStore) RemapKey(ctx context.Context, nodeID string, oldKey, newKey pagekey.Key) error {
	if oldKey == newKey {
		return nil
	}
	oldHist, newHist, cur := s.histKey(nodeID, oldKey), s.histKey(nodeID, newKey), s.curKey(nodeID)
	for attempt := 0; attempt < s.retries; attempt++ {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			taken, err := tx.Exists(ctx, newHist).Result()
			if err != nil {
				return err
			}
			if taken > 0 {
				return errs.ErrConflict
			}
			if ok, err := tx.HExists(ctx, cur, string(newKey)).Result(); err != nil {
				return err
			} else if ok {
				return errs.ErrConflict
			}
			ids, err := tx.LRange(ctx, oldHist, 0, -1).Result()
			if err != nil {
				return err
			}
			if len(ids) == 0 {
				return errs.ErrNotFound
			}
			recs := make([]*record, len(ids))
			for i, id := range ids {
				if recs[i], err = s.load(ctx, tx, nodeID, id); err != nil {
					return err
				}
				recs[i].Key = string(newKey)
			}
			curID, err := tx.HGet(ctx, cur, string(oldKey)).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
			if s.beforeExec != nil {
				s.beforeExec()
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				for _, rec := range recs {
					if err := setRecord(ctx, pipe, s.pageKey(nodeID, rec.ID.String()), *rec); err != nil {
						return err
					}
				}
				pipe.Rename(ctx, oldHist, newHist)
				if curID != "" {
					pipe.HDel(ctx, cur, string(oldKey))
					pipe.HSet(ctx, cur, string(newKey), curID)
				}
				return nil
			})
			return err
		}, oldHist, newHist, cur)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return errs.ErrVersionConflict
}

// RemoveCurrent drops key from the current hash.
func (s *PageStore) RemoveCurrent(ctx context.Context, nodeID string, key pagekey.Key) error {
	n, err := s.client.HDel(ctx, s.curKey(nodeID), string(key)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// SetName updates the display name of the current version of key.
func (s *PageStore) SetName(ctx context.Context, nodeID string, key pagekey.Key, name string) error {
	cur := s.curKey(nodeID)
	for attempt := 0; attempt < s.retries; attempt++ {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			id, err := tx.HGet(ctx, cur, string(key)).Result()
			if errors.Is(err, redis.Nil) {
				return errs.ErrNotFound
			}
			if err != nil {
				return err
			}
			rec, err := s.load(ctx, tx, nodeID, id)
			if err != nil {
				return err
			}
			rec.Name = name
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				return setRecord(ctx, pipe, s.pageKey(nodeID, id), *rec)
			})
			return err
		}, cur)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return errs.ErrVersionConflict
}

// ListCurrent returns current pages of nodeID sorted by key.
func (s *PageStore) ListCurrent(ctx context.Context, nodeID string) ([]model.Page, error) {
	m, err := s.client.HGetAll(ctx, s.curKey(nodeID)).Result()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ids := make([]string, len(keys))
	for i, k := range keys {
		ids[i] = m[k]
	}
	return s.loadMany(ctx, nodeID, ids)
}

// GetByID returns a stored version by id.
func (s *PageStore) GetByID(ctx context.Context, nodeID string, id uuid.UUID) (*model.Page, error) {
	rec, err := s.load(ctx, s.client, nodeID, id.String())
	if err != nil {
		return nil, err
	}
	p := rec.page(nodeID)
	return &p, nil
}
