// Package toc assembles the table of contents shown on a node's wiki:
// the visible children of the node with their current pages.
package toc

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/and161185/nodewiki/internal/model"
	"github.com/and161185/nodewiki/internal/repository"
)

// PageLister lists the current pages of a node.
type PageLister interface {
	Pages(ctx context.Context, node model.Node) ([]model.PageLink, error)
}

// Viewer decides node visibility.
type Viewer interface {
	CanView(node model.Node, auth model.Auth) bool
}

// Builder walks one level of the node tree.
type Builder struct {
	nodes repository.NodeRepository
	pages PageLister
	authz Viewer
	urls  model.URLs
	limit int
}

// NewBuilder constructs a Builder. At most limit child listings run at once; limit <= 0 means 8.
func NewBuilder(nodes repository.NodeRepository, pages PageLister, authz Viewer, urls model.URLs, limit int) *Builder {
	if limit <= 0 {
		limit = 8
	}
	return &Builder{nodes: nodes, pages: pages, authz: authz, urls: urls, limit: limit}
}

// Build returns entries for the direct children of node in stored order.
// Deleted children, children without a wiki and children auth cannot view are skipped.
// Grandchildren are never visited.
func (b *Builder) Build(ctx context.Context, node model.Node, auth model.Auth) ([]model.TocEntry, error) {
	children, err := b.nodes.Children(ctx, node.ID)
	if err != nil {
		return nil, fmt.Errorf("children of %s: %w", node.ID, err)
	}

	visible := children[:0:0]
	for _, c := range children {
		if c.IsDeleted || !c.WikiEnabled || !b.authz.CanView(c, auth) {
			continue
		}
		visible = append(visible, c)
	}

	out := make([]model.TocEntry, len(visible))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.limit)
	for i, c := range visible {
		i, c := i, c
		g.Go(func() error {
			links, err := b.pages.Pages(gctx, c)
			if err != nil {
				return fmt.Errorf("pages of %s: %w", c.ID, err)
			}
			out[i] = model.TocEntry{
				ID:           c.ID,
				Title:        c.Title,
				Category:     c.Category,
				PagesCurrent: links,
				URL:          b.urls.Home(c.ID),
				IsPointer:    c.IsPointer,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
