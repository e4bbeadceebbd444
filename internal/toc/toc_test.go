package toc

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/and161185/nodewiki/internal/model"
	"github.com/and161185/nodewiki/internal/repository/memory"
	"github.com/and161185/nodewiki/internal/service"
)

type viewSet map[string]bool

func (v viewSet) CanView(n model.Node, _ model.Auth) bool { return v[n.ID] }

type recordingLister struct {
	mu    sync.Mutex
	asked []string
	inner PageLister
	err   error
}

func (r *recordingLister) Pages(ctx context.Context, n model.Node) ([]model.PageLink, error) {
	r.mu.Lock()
	r.asked = append(r.asked, n.ID)
	r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	return r.inner.Pages(ctx, n)
}

type allowAll struct{}

func (allowAll) HasWritePermission(model.Node, model.Auth) bool { return true }
func (allowAll) CanView(model.Node, model.Auth) bool            { return true }

func setup(t *testing.T) (*memory.NodeRepo, *service.WikiServiceImpl) {
	t.Helper()
	nodes := memory.NewNodeRepo(
		model.Node{ID: "root", WikiEnabled: true},
		model.Node{ID: "c1", ParentID: "root", Title: "First", Category: "data", Position: 2, WikiEnabled: true},
		model.Node{ID: "c2", ParentID: "root", Title: "Second", Position: 1, WikiEnabled: true, IsPointer: true},
		model.Node{ID: "gone", ParentID: "root", Position: 3, WikiEnabled: true, IsDeleted: true},
		model.Node{ID: "nowiki", ParentID: "root", Position: 4},
		model.Node{ID: "secret", ParentID: "root", Position: 5, WikiEnabled: true},
		model.Node{ID: "grand", ParentID: "c1", Position: 1, WikiEnabled: true},
	)
	svc := service.NewWikiService(memory.NewPageStore(0), allowAll{}, nil, nil, service.Options{
		URLs: model.URLs{Base: "http://w"},
	})
	ctx := context.Background()
	for _, w := range []struct{ node, name string }{
		{"c1", "Zeta"}, {"c1", "alpha"}, {"c2", "home"}, {"grand", "hidden"}, {"secret", "x"},
	} {
		_, _, err := svc.Write(ctx, model.Node{ID: w.node}, w.name, "body", model.Auth{})
		require.NoError(t, err)
	}
	return nodes, svc
}

func TestBuild_FiltersAndOrders(t *testing.T) {
	nodes, svc := setup(t)
	lister := &recordingLister{inner: svc}
	views := viewSet{"c1": true, "c2": true, "gone": true, "nowiki": true, "grand": true}
	b := NewBuilder(nodes, lister, views, model.URLs{Base: "http://w"}, 0)

	got, err := b.Build(context.Background(), model.Node{ID: "root"}, model.Auth{})
	require.NoError(t, err)
	require.Equal(t, []model.TocEntry{
		{
			ID:           "c2",
			Title:        "Second",
			PagesCurrent: []model.PageLink{{Name: "home", URL: "http://w/c2/wiki/home/"}},
			URL:          "http://w/c2/wiki/home/",
			IsPointer:    true,
		},
		{
			ID:       "c1",
			Title:    "First",
			Category: "data",
			PagesCurrent: []model.PageLink{
				{Name: "alpha", URL: "http://w/c1/wiki/alpha/"},
				{Name: "Zeta", URL: "http://w/c1/wiki/Zeta/"},
			},
			URL: "http://w/c1/wiki/home/",
		},
	}, got)
	require.ElementsMatch(t, []string{"c1", "c2"}, lister.asked)
	require.NotContains(t, lister.asked, "grand")
}

func TestBuild_NoChildren(t *testing.T) {
	nodes, svc := setup(t)
	b := NewBuilder(nodes, svc, viewSet{}, model.URLs{}, 1)
	got, err := b.Build(context.Background(), model.Node{ID: "grand"}, model.Auth{})
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestBuild_ListerError(t *testing.T) {
	nodes, _ := setup(t)
	boom := errors.New("boom")
	b := NewBuilder(nodes, &recordingLister{err: boom}, viewSet{"c1": true}, model.URLs{}, 2)
	_, err := b.Build(context.Background(), model.Node{ID: "root"}, model.Auth{})
	require.ErrorIs(t, err, boom)
}
