package memory

import (
	"context"
	"sync"

	"github.com/and161185/nodewiki/internal/model"
	"github.com/and161185/nodewiki/internal/repository"
)

// AuditLog keeps recorded events in memory.
type AuditLog struct {
	mu     sync.Mutex
	events []model.AuditEvent
}

var _ repository.AuditLog = (*AuditLog)(nil)

// Record appends ev.
func (a *AuditLog) Record(_ context.Context, ev model.AuditEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, ev)
	return nil
}

// Events returns a copy of everything recorded so far.
func (a *AuditLog) Events() []model.AuditEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]model.AuditEvent(nil), a.events...)
}
