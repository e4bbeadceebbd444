package search

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/and161185/nodewiki/internal/model"
)

type recorded struct {
	method string
	path   string
	body   []byte
}

type fakeMeili struct {
	mu   sync.Mutex
	reqs []recorded
}

const taskJSON = `{"taskUid":1,"indexUid":"wiki_pages","status":"enqueued","type":"documentAdditionOrUpdate","enqueuedAt":"2024-01-01T00:00:00Z"}`

func (f *fakeMeili) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.reqs = append(f.reqs, recorded{method: r.Method, path: r.URL.Path, body: body})
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if r.URL.Path == "/multi-search" {
		_, _ = io.WriteString(w, `{"results":[{"indexUid":"wiki_pages","query":"hello","processingTimeMs":1,"limit":20,"offset":0,"estimatedTotalHits":1,
			"hits":[{"id":"x","nodeId":"n1","key":"home","name":"home","content":"hello world","_formatted":{"content":"<mark>hello</mark> world"}}]}]}`)
		return
	}
	w.WriteHeader(http.StatusAccepted)
	_, _ = io.WriteString(w, taskJSON)
}

func (f *fakeMeili) requests() []recorded {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recorded(nil), f.reqs...)
}

func newTestMeili(t *testing.T) (*Meili, *fakeMeili) {
	t.Helper()
	fake := &fakeMeili{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	return NewMeili(srv.URL, "key", nil), fake
}

func TestDocumentID(t *testing.T) {
	id := DocumentID("n1", "straße notes")
	require.Equal(t, id, DocumentID("n1", "straße notes"))
	require.NotEqual(t, id, DocumentID("n2", "straße notes"))
	require.Regexp(t, regexp.MustCompile(`^[A-Za-z0-9_-]+$`), id)
}

func TestMeili_IndexAndRemove(t *testing.T) {
	m, fake := newTestMeili(t)
	ctx := context.Background()

	_ = m.IndexPage(ctx, model.Page{NodeID: "n1", Key: "home", Name: "home", Content: "hello", Version: 3})
	_ = m.RemovePage(ctx, "n1", "old")

	reqs := fake.requests()
	require.Len(t, reqs, 2)
	require.Equal(t, http.MethodPost, reqs[0].method)
	require.Equal(t, "/indexes/wiki_pages/documents", reqs[0].path)

	var docs []Document
	require.NoError(t, json.Unmarshal(reqs[0].body, &docs))
	require.Equal(t, []Document{{
		ID: DocumentID("n1", "home"), NodeID: "n1", Key: "home", Name: "home", Content: "hello", Version: 3,
	}}, docs)

	require.Equal(t, http.MethodDelete, reqs[1].method)
	require.Equal(t, "/indexes/wiki_pages/documents/"+DocumentID("n1", "old"), reqs[1].path)
}

func TestMeili_Configure(t *testing.T) {
	m, fake := newTestMeili(t)
	m.Configure()

	reqs := fake.requests()
	require.NotEmpty(t, reqs)
	require.Equal(t, http.MethodPost, reqs[0].method)
	require.Equal(t, "/indexes", reqs[0].path)
	var paths []string
	for _, r := range reqs {
		paths = append(paths, r.path)
	}
	require.Contains(t, paths, "/indexes/wiki_pages/settings/filterable-attributes")
	require.Contains(t, paths, "/indexes/wiki_pages/settings/searchable-attributes")
}

func TestMeili_Search(t *testing.T) {
	m, fake := newTestMeili(t)

	hits, err := m.Search(context.Background(), "n1", "hello", 0)
	require.NoError(t, err)
	require.Equal(t, []Hit{{NodeID: "n1", Key: "home", Name: "home", Snippet: "<mark>hello</mark> world"}}, hits)

	reqs := fake.requests()
	require.Len(t, reqs, 1)
	require.Contains(t, string(reqs[0].body), `nodeId = \"n1\"`)
}
