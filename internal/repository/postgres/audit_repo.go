package postgres

import (
	"context"

	"github.com/and161185/nodewiki/internal/model"
	"github.com/and161185/nodewiki/internal/repository"
)

// AuditRepo appends audit events to the audit_log table.
type AuditRepo struct{ db *DB }

var _ repository.AuditLog = (*AuditRepo)(nil)

// NewAuditRepo constructs an audit repository.
func NewAuditRepo(db *DB) *AuditRepo { return &AuditRepo{db: db} }

// Record inserts ev; the payload is stored as jsonb.
func (r *AuditRepo) Record(ctx context.Context, ev model.AuditEvent) error {
	const q = `INSERT INTO audit_log (node_id, kind, payload, actor, at) VALUES ($1,$2,$3,$4,$5)`
	_, err := r.db.Pool.Exec(ctx, q, ev.NodeID, string(ev.Kind), ev.Payload, ev.Actor, ev.At)
	return err
}
