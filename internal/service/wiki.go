package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/nodewiki/internal/diff"
	"github.com/and161185/nodewiki/internal/errs"
	"github.com/and161185/nodewiki/internal/model"
	"github.com/and161185/nodewiki/internal/pagekey"
	"github.com/and161185/nodewiki/internal/repository"
)

// WikiService defines operations over the versioned pages of a node.
type WikiService interface {
	// Read returns the addressed version of a page.
	Read(ctx context.Context, node model.Node, name string, ver model.VersionRef) (*model.Page, error)
	// Write stores content as a new version unless it equals the current one.
	Write(ctx context.Context, node model.Node, name, content string, auth model.Auth) (*model.Page, model.WriteStatus, error)
	// Rename moves a page and its history to a new name.
	Rename(ctx context.Context, node model.Node, oldName, newName string, auth model.Auth) (*model.Page, error)
	// Delete hides a page; its history stays readable by version.
	Delete(ctx context.Context, node model.Node, name string, auth model.Auth) error
	// History returns every version of a page, oldest first.
	History(ctx context.Context, node model.Node, name string) ([]model.Page, error)
	// Versions summarizes the history of a page, newest first.
	Versions(ctx context.Context, node model.Node, name string) ([]model.VersionInfo, error)
	// Compare diffs the addressed version against the current one.
	Compare(ctx context.Context, node model.Node, name string, ver model.VersionRef) (*Comparison, error)
	// ValidateName checks that name is free for a new page.
	ValidateName(ctx context.Context, node model.Node, name string, auth model.Auth) error
	// GetByID returns any version by its page id.
	GetByID(ctx context.Context, node model.Node, id uuid.UUID) (*model.Page, error)
	// Content returns the current content of a page, or "" if it has none.
	Content(ctx context.Context, node model.Node, name string) (string, error)
	// Pages lists the current pages of a node sorted by key.
	Pages(ctx context.Context, node model.Node) ([]model.PageLink, error)
}

// Comparison is the result of diffing two versions of a page.
type Comparison struct {
	Current  *model.Page
	Against  *model.Page
	Segments []diff.Segment
	HTML     string
}

// Options carries optional collaborators; zero values select defaults.
type Options struct {
	Registration RegistrationCheck
	Clock        Clock
	Indexer      Indexer // nil disables search indexing
	URLs         model.URLs
}

type WikiServiceImpl struct {
	pages   repository.PageStore
	authz   Authorizer
	audit   repository.AuditLog
	reg     RegistrationCheck
	clock   Clock
	indexer Indexer
	urls    model.URLs
	log     *zap.Logger
}

var _ WikiService = (*WikiServiceImpl)(nil)

// NewWikiService constructs the page engine.
func NewWikiService(
	pages repository.PageStore, authz Authorizer, audit repository.AuditLog, log *zap.Logger, opts Options,
) *WikiServiceImpl {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Registration == nil {
		opts.Registration = NodeFlagRegistration{}
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	return &WikiServiceImpl{
		pages:   pages,
		authz:   authz,
		audit:   audit,
		reg:     opts.Registration,
		clock:   opts.Clock,
		indexer: opts.Indexer,
		urls:    opts.URLs,
		log:     log,
	}
}

// ValidatePageName applies the naming rules shared by rename and page creation:
// non-blank, at most errs.MaxNameLength characters, no path-significant or control characters.
func ValidatePageName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errs.ErrEmptyName
	}
	if utf8.RuneCountInString(name) > errs.MaxNameLength {
		return errs.ErrNameTooLong
	}
	for _, r := range name {
		switch {
		case r == '/':
			return &errs.InvalidNameError{Reason: "Page name cannot contain forward slashes."}
		case r == '\\':
			return &errs.InvalidNameError{Reason: "Page name cannot contain backslashes."}
		case r == '?' || r == '#':
			return &errs.InvalidNameError{Reason: fmt.Sprintf("Page name cannot contain %q.", r)}
		case unicode.IsControl(r):
			return &errs.InvalidNameError{Reason: "Page name cannot contain control characters."}
		}
	}
	return nil
}

// checkWritable is evaluated before any mutation.
func (s *WikiServiceImpl) checkWritable(node model.Node, auth model.Auth) error {
	if !s.authz.HasWritePermission(node, auth) {
		return errs.ErrPermissionDenied
	}
	if s.reg.IsRegistration(node) {
		return errs.ErrImmutableNode
	}
	return nil
}

// Read resolves name and returns the addressed version.
// The current home page always resolves; with no history it is empty at version 0.
func (s *WikiServiceImpl) Read(ctx context.Context, node model.Node, name string, ver model.VersionRef) (*model.Page, error) {
	return s.resolve(ctx, node.ID, pagekey.Normalize(name), ver)
}

func (s *WikiServiceImpl) resolve(ctx context.Context, nodeID string, key pagekey.Key, ver model.VersionRef) (*model.Page, error) {
	switch ver.Kind {
	case model.VersionNumber:
		return s.pages.GetVersion(ctx, nodeID, key, ver.Number)
	case model.VersionPrevious:
		hist, err := s.pages.History(ctx, nodeID, key)
		if err != nil {
			return nil, err
		}
		if len(hist) < 2 {
			return nil, errs.ErrNotFound
		}
		p := hist[len(hist)-2]
		return &p, nil
	default:
		p, err := s.pages.GetCurrent(ctx, nodeID, key)
		if errors.Is(err, errs.ErrNotFound) && key.IsHome() {
			return emptyHome(nodeID), nil
		}
		return p, err
	}
}

// emptyHome stands in for a home page that was never written.
// Version 0 marks it as not stored.
func emptyHome(nodeID string) *model.Page {
	return &model.Page{NodeID: nodeID, Key: string(pagekey.Home), Name: string(pagekey.Home)}
}

// Write stores content under name.
// The home page is always stored as "home"; an existing page keeps its display name.
func (s *WikiServiceImpl) Write(
	ctx context.Context, node model.Node, name, content string, auth model.Auth,
) (*model.Page, model.WriteStatus, error) {
	if err := s.checkWritable(node, auth); err != nil {
		return nil, model.Unmodified, err
	}
	name = strings.TrimSpace(name)
	key := pagekey.Normalize(name)
	if key.IsEmpty() {
		return nil, model.Unmodified, errs.ErrEmptyName
	}
	if key.IsHome() {
		name = string(pagekey.Home)
	}

	status := model.Updated
	cur, err := s.pages.GetCurrent(ctx, node.ID, key)
	switch {
	case err == nil:
		if cur.Content == content {
			return cur, model.Unmodified, nil
		}
		name = cur.Name
	case errors.Is(err, errs.ErrNotFound):
		if err := ValidatePageName(name); err != nil {
			return nil, model.Unmodified, err
		}
		status = model.Created
	default:
		return nil, model.Unmodified, err
	}

	page, err := s.pages.PutNewVersion(ctx, node.ID, key, name, content, auth.UserID, s.clock.Now())
	if err != nil {
		return nil, model.Unmodified, fmt.Errorf("put version of %q: %w", key, err)
	}
	s.log.Debug("wiki page written",
		zap.String("node", node.ID),
		zap.String("key", string(key)),
		zap.Int64("version", page.Version),
	)
	s.record(ctx, node, model.AuditWikiUpdated, auth, map[string]string{
		"page":    page.Name,
		"page_id": page.ID.String(),
		"version": fmt.Sprint(page.Version),
	})
	s.index(ctx, *page)
	return page, status, nil
}

// Rename moves oldName to newName. Checks run in a fixed order and the first
// failure is returned: empty name, too long, invalid characters, home page,
// conflicting target, missing source.
func (s *WikiServiceImpl) Rename(
	ctx context.Context, node model.Node, oldName, newName string, auth model.Auth,
) (*model.Page, error) {
	if err := s.checkWritable(node, auth); err != nil {
		return nil, err
	}
	newName = strings.TrimSpace(newName)
	if err := ValidatePageName(newName); err != nil {
		return nil, err
	}
	oldKey, newKey := pagekey.Normalize(oldName), pagekey.Normalize(newName)
	if oldKey.IsHome() {
		return nil, errs.ErrCannotRename
	}
	if newKey.IsHome() {
		return nil, errs.ErrConflict
	}
	if newKey != oldKey {
		_, err := s.pages.GetCurrent(ctx, node.ID, newKey)
		switch {
		case err == nil:
			return nil, errs.ErrConflict
		case !errors.Is(err, errs.ErrNotFound):
			return nil, err
		}
	}
	page, err := s.pages.GetCurrent(ctx, node.ID, oldKey)
	if err != nil {
		return nil, err
	}

	if newKey != oldKey {
		if err := s.pages.RemapKey(ctx, node.ID, oldKey, newKey); err != nil {
			return nil, err
		}
	}
	if err := s.pages.SetName(ctx, node.ID, newKey, newName); err != nil {
		if newKey != oldKey {
			if rerr := s.pages.RemapKey(ctx, node.ID, newKey, oldKey); rerr != nil {
				s.log.Error("rename rollback failed",
					zap.String("node", node.ID),
					zap.String("from", string(newKey)),
					zap.String("to", string(oldKey)),
					zap.Error(rerr),
				)
			}
		}
		return nil, fmt.Errorf("set name of %q: %w", newKey, err)
	}

	renamed, err := s.pages.GetCurrent(ctx, node.ID, newKey)
	if err != nil {
		return nil, err
	}
	s.log.Debug("wiki page renamed",
		zap.String("node", node.ID),
		zap.String("from", string(oldKey)),
		zap.String("to", string(newKey)),
	)
	s.record(ctx, node, model.AuditWikiRenamed, auth, map[string]string{
		"old_page": page.Name,
		"page":     renamed.Name,
		"page_id":  renamed.ID.String(),
	})
	if newKey != oldKey {
		s.unindex(ctx, node.ID, oldKey)
	}
	s.index(ctx, *renamed)
	return renamed, nil
}

// Delete removes the current pointer of name.
func (s *WikiServiceImpl) Delete(ctx context.Context, node model.Node, name string, auth model.Auth) error {
	if err := s.checkWritable(node, auth); err != nil {
		return err
	}
	key := pagekey.Normalize(name)
	page, err := s.pages.GetCurrent(ctx, node.ID, key)
	if err != nil {
		return err
	}
	if err := s.pages.RemoveCurrent(ctx, node.ID, key); err != nil {
		return err
	}
	s.log.Debug("wiki page deleted", zap.String("node", node.ID), zap.String("key", string(key)))
	s.record(ctx, node, model.AuditWikiDeleted, auth, map[string]string{
		"page":    page.Name,
		"page_id": page.ID.String(),
	})
	s.unindex(ctx, node.ID, key)
	return nil
}

// History returns all versions of name, oldest first.
func (s *WikiServiceImpl) History(ctx context.Context, node model.Node, name string) ([]model.Page, error) {
	return s.pages.History(ctx, node.ID, pagekey.Normalize(name))
}

// Versions returns version summaries newest first, dates truncated to seconds.
func (s *WikiServiceImpl) Versions(ctx context.Context, node model.Node, name string) ([]model.VersionInfo, error) {
	hist, err := s.pages.History(ctx, node.ID, pagekey.Normalize(name))
	if err != nil {
		return nil, err
	}
	out := make([]model.VersionInfo, 0, len(hist))
	for i := len(hist) - 1; i >= 0; i-- {
		out = append(out, model.VersionInfo{
			Version: hist[i].Version,
			Author:  hist[i].Author,
			Date:    hist[i].CreatedAt.Truncate(time.Second),
		})
	}
	return out, nil
}

// Compare diffs version ver of name (old side) against the current version (new side).
func (s *WikiServiceImpl) Compare(ctx context.Context, node model.Node, name string, ver model.VersionRef) (*Comparison, error) {
	key := pagekey.Normalize(name)
	cur, err := s.pages.GetCurrent(ctx, node.ID, key)
	if err != nil {
		return nil, err
	}
	against, err := s.resolve(ctx, node.ID, key, ver)
	if err != nil {
		return nil, err
	}
	segs := diff.Diff(against.Content, cur.Content)
	return &Comparison{
		Current:  cur,
		Against:  against,
		Segments: segs,
		HTML:     diff.Render(segs),
	}, nil
}

// ValidateName reports errs.ErrConflict if name is taken or is the home page.
func (s *WikiServiceImpl) ValidateName(ctx context.Context, node model.Node, name string, auth model.Auth) error {
	if err := s.checkWritable(node, auth); err != nil {
		return err
	}
	key := pagekey.Normalize(name)
	if key.IsEmpty() {
		return errs.ErrEmptyName
	}
	if key.IsHome() {
		return errs.ErrConflict
	}
	_, err := s.pages.GetCurrent(ctx, node.ID, key)
	switch {
	case err == nil:
		return errs.ErrConflict
	case errors.Is(err, errs.ErrNotFound):
		return nil
	default:
		return err
	}
}

// GetByID returns a version by its page id.
func (s *WikiServiceImpl) GetByID(ctx context.Context, node model.Node, id uuid.UUID) (*model.Page, error) {
	if id == uuid.Nil {
		return nil, errs.ErrNotFound
	}
	return s.pages.GetByID(ctx, node.ID, id)
}

// Content returns the current content of name or "" when there is none.
func (s *WikiServiceImpl) Content(ctx context.Context, node model.Node, name string) (string, error) {
	p, err := s.pages.GetCurrent(ctx, node.ID, pagekey.Normalize(name))
	if errors.Is(err, errs.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return p.Content, nil
}

// Pages lists current pages of node sorted by canonical key.
func (s *WikiServiceImpl) Pages(ctx context.Context, node model.Node) ([]model.PageLink, error) {
	cur, err := s.pages.ListCurrent(ctx, node.ID)
	if err != nil {
		return nil, err
	}
	out := make([]model.PageLink, 0, len(cur))
	for _, p := range cur {
		out = append(out, model.PageLink{Name: p.Name, URL: s.urls.Page(node.ID, p.Name)})
	}
	return out, nil
}

// record hands an event to the audit log; failures are logged only.
func (s *WikiServiceImpl) record(ctx context.Context, node model.Node, kind model.AuditKind, auth model.Auth, payload map[string]string) {
	if s.audit == nil {
		return
	}
	ev := model.AuditEvent{
		NodeID:  node.ID,
		Kind:    kind,
		Payload: payload,
		Actor:   auth.UserID,
		At:      s.clock.Now(),
	}
	if err := s.audit.Record(ctx, ev); err != nil {
		s.log.Warn("audit record failed",
			zap.String("node", node.ID),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
	}
}

func (s *WikiServiceImpl) index(ctx context.Context, p model.Page) {
	if s.indexer == nil {
		return
	}
	if err := s.indexer.IndexPage(ctx, p); err != nil {
		s.log.Warn("search index update failed", zap.String("node", p.NodeID), zap.String("key", p.Key), zap.Error(err))
	}
}

func (s *WikiServiceImpl) unindex(ctx context.Context, nodeID string, key pagekey.Key) {
	if s.indexer == nil {
		return
	}
	if err := s.indexer.RemovePage(ctx, nodeID, string(key)); err != nil {
		s.log.Warn("search index removal failed", zap.String("node", nodeID), zap.String("key", string(key)), zap.Error(err))
	}
}
