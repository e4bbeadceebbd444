// Package model defines domain entities used by services and repositories.
package model

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/nodewiki/internal/errs"
)

// Page is one immutable snapshot of a wiki page at a point in time.
type Page struct {
	ID        uuid.UUID // assigned on creation
	NodeID    string    // owning node
	Key       string    // canonical lookup key
	Name      string    // display name as entered
	Content   string    // body of this version
	Version   int64     // 1-based, monotonically increasing per key
	CreatedAt time.Time
	Author    uuid.UUID
	IsCurrent bool // true only for the highest version of a live key
}

// Node is a project-like container that owns wiki pages. Read-only to the core.
type Node struct {
	ID             string
	ParentID       string // empty for a root node
	Title          string
	Category       string
	Position       int // order among siblings
	IsDeleted      bool
	WikiEnabled    bool
	IsRegistration bool
	IsPublic       bool
	IsPointer      bool // linked into the parent rather than owned by it
}

// Auth is the caller identity passed through the engine to capability checks.
type Auth struct {
	UserID uuid.UUID
	Token  string
}

// WriteStatus reports what a write did.
type WriteStatus int

const (
	// Unmodified means the content matched the current version; nothing was stored.
	Unmodified WriteStatus = iota
	// Created means version 1 of a new page was stored.
	Created
	// Updated means a new version of an existing page was stored.
	Updated
)

func (s WriteStatus) String() string {
	switch s {
	case Created:
		return "created"
	case Updated:
		return "updated"
	default:
		return "unmodified"
	}
}

// VersionKind selects how a VersionRef resolves.
type VersionKind int

const (
	VersionCurrent VersionKind = iota
	VersionPrevious
	VersionNumber
)

// VersionRef addresses a page version: the current one, the one before it, or an explicit number.
type VersionRef struct {
	Kind   VersionKind
	Number int64
}

// Current addresses the current version.
func Current() VersionRef { return VersionRef{Kind: VersionCurrent} }

// Previous addresses the version immediately before the latest one.
func Previous() VersionRef { return VersionRef{Kind: VersionPrevious} }

// Version addresses version n.
func Version(n int64) VersionRef { return VersionRef{Kind: VersionNumber, Number: n} }

// ParseVersion parses "", "current", "previous" or a positive version number.
func ParseVersion(s string) (VersionRef, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	switch s {
	case "", "current":
		return Current(), nil
	case "previous":
		return Previous(), nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return VersionRef{}, fmt.Errorf("version %q: %w", s, errs.ErrNotFound)
	}
	return Version(n), nil
}

// VersionInfo summarizes one entry of a page history for listings.
type VersionInfo struct {
	Version int64
	Author  uuid.UUID
	Date    time.Time // truncated to seconds
}

// PageLink is a current page of a node with its URL.
type PageLink struct {
	Name string
	URL  string
}

// TocEntry is one visible child node in a table of contents.
type TocEntry struct {
	ID           string
	Title        string
	Category     string
	PagesCurrent []PageLink
	URL          string // child's wiki home
	IsPointer    bool
}

// AuditKind names an audited wiki event.
type AuditKind string

const (
	AuditWikiUpdated AuditKind = "wiki_updated"
	AuditWikiRenamed AuditKind = "wiki_renamed"
	AuditWikiDeleted AuditKind = "wiki_deleted"
)

// AuditEvent is a single entry handed to the audit log.
type AuditEvent struct {
	NodeID  string
	Kind    AuditKind
	Payload map[string]string
	Actor   uuid.UUID
	At      time.Time
}

// URLs builds web URLs for wiki pages.
type URLs struct {
	Base string // e.g. "https://example.org"; may be empty for relative URLs
}

// Page returns the URL of a named page of a node.
func (u URLs) Page(nodeID, name string) string {
	return strings.TrimRight(u.Base, "/") + "/" + url.PathEscape(nodeID) + "/wiki/" + url.PathEscape(name) + "/"
}

// Home returns the URL of a node's wiki home.
func (u URLs) Home(nodeID string) string { return u.Page(nodeID, "home") }
