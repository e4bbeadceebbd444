// Package search mirrors current wiki pages into Meilisearch.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gofrs/uuid/v5"
	meili "github.com/meilisearch/meilisearch-go"
	"go.uber.org/zap"

	"github.com/and161185/nodewiki/internal/model"
)

// IndexUID is the Meilisearch index holding wiki pages.
const IndexUID = "wiki_pages"

var docNamespace = uuid.NewV5(uuid.NamespaceURL, "nodewiki/pages")

// Document is the indexed form of a current page.
type Document struct {
	ID      string `json:"id"`
	NodeID  string `json:"nodeId"`
	Key     string `json:"key"`
	Name    string `json:"name"`
	Content string `json:"content"`
	Version int64  `json:"version"`
}

// Hit is one search result.
type Hit struct {
	NodeID  string
	Key     string
	Name    string
	Snippet string
}

// DocumentID derives a stable Meilisearch id for a page key of a node.
// Meilisearch ids are limited to [A-Za-z0-9_-], so the pair is hashed.
func DocumentID(nodeID, key string) string {
	return uuid.NewV5(docNamespace, nodeID+"/"+key).String()
}

// Meili indexes pages in Meilisearch.
type Meili struct {
	client meili.ServiceManager
	log    *zap.Logger
}

// NewMeili creates a client for url.
func NewMeili(url, apiKey string, log *zap.Logger) *Meili {
	if log == nil {
		log = zap.NewNop()
	}
	return &Meili{client: meili.New(url, meili.WithAPIKey(apiKey)), log: log}
}

// Configure creates the index and sets its attributes. Failures are logged;
// the index may already exist.
func (m *Meili) Configure() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{Uid: IndexUID, PrimaryKey: "id"}); err != nil {
		m.log.Info("create search index", zap.String("index", IndexUID), zap.Error(err))
	}
	index := m.client.Index(IndexUID)
	filterable := []interface{}{"nodeId", "key"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		m.log.Warn("update filterable attributes", zap.Error(err))
	}
	searchable := []string{"name", "content"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		m.log.Warn("update searchable attributes", zap.Error(err))
	}
}

// IndexPage adds or replaces the document for p's key.
func (m *Meili) IndexPage(_ context.Context, p model.Page) error {
	doc := Document{
		ID:      DocumentID(p.NodeID, p.Key),
		NodeID:  p.NodeID,
		Key:     p.Key,
		Name:    p.Name,
		Content: p.Content,
		Version: p.Version,
	}
	_, err := m.client.Index(IndexUID).AddDocuments([]Document{doc}, nil)
	return err
}

// RemovePage deletes the document for key.
func (m *Meili) RemovePage(_ context.Context, nodeID, key string) error {
	_, err := m.client.Index(IndexUID).DeleteDocument(DocumentID(nodeID, key), nil)
	return err
}

// Search finds pages of nodeID matching q.
func (m *Meili) Search(_ context.Context, nodeID, q string, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = 20
	}
	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: []*meili.SearchRequest{{
			IndexUID:              IndexUID,
			Query:                 q,
			Limit:                 int64(limit),
			Filter:                fmt.Sprintf("nodeId = %q", nodeID),
			AttributesToHighlight: []string{"content"},
			AttributesToCrop:      []string{"content"},
			HighlightPreTag:       "<mark>",
			HighlightPostTag:      "</mark>",
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var out []Hit
	for _, sr := range resp.Results {
		for _, hit := range sr.Hits {
			out = append(out, Hit{
				NodeID:  decodeString(hit, "nodeId"),
				Key:     decodeString(hit, "key"),
				Name:    decodeString(hit, "name"),
				Snippet: firstNonBlank(decodeFormatted(hit, "content"), decodeString(hit, "content")),
			})
		}
	}
	return out, nil
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func decodeFormatted(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]json.RawMessage
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(formatted[key], &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
