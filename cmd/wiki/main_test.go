package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/nodewiki/internal/config"
	"github.com/and161185/nodewiki/internal/errs"
)

func withTmpConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("WIKI_TOKEN", "")
	return filepath.Join(dir, "nodewiki")
}

func newMemoryApp(t *testing.T) *app {
	t.Helper()
	cfg := config.Config{
		Backend:    config.BackendMemory,
		JWTKey:     "test-key",
		TokenTTL:   time.Hour,
		BaseURL:    "http://w",
		CASRetries: 16,
	}
	a, err := newApp(context.Background(), cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	t.Cleanup(a.Close)
	return a
}

func runCmd(t *testing.T, a *app, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := a.run(context.Background(), args, strings.NewReader(stdin), &out)
	return out.String(), err
}

func mustRun(t *testing.T, a *app, args ...string) string {
	t.Helper()
	out, err := runCmd(t, a, "", args...)
	if err != nil {
		t.Fatalf("%v: %v", args, err)
	}
	return out
}

func Test_token_SaveLoad(t *testing.T) {
	_ = withTmpConfig(t)

	if _, err := loadToken(); err == nil {
		t.Fatalf("expected error when token file missing")
	}
	if err := saveToken("tok", time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("saveToken: %v", err)
	}
	tok, err := loadToken()
	if err != nil || tok != "tok" {
		t.Fatalf("loadToken: tok=%q err=%v", tok, err)
	}
	if err := saveToken("tok2", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("saveToken expired: %v", err)
	}
	if _, err := loadToken(); err == nil {
		t.Fatalf("want error for expired token")
	}
	t.Setenv("WIKI_TOKEN", "from-env")
	if tok, _ := loadToken(); tok != "from-env" {
		t.Fatalf("WIKI_TOKEN not preferred, got %q", tok)
	}
}

func Test_splitList(t *testing.T) {
	got := splitList(" a, ,b,c ")
	if strings.Join(got, "|") != "a|b|c" {
		t.Fatalf("splitList=%v", got)
	}
	if splitList("") != nil {
		t.Fatalf("want nil for empty list")
	}
}

func Test_readAll_File_And_Stdin(t *testing.T) {
	p := filepath.Join(t.TempDir(), "c.md")
	if err := os.WriteFile(p, []byte("from file"), 0o600); err != nil {
		t.Fatal(err)
	}
	b, err := readAll(p, nil)
	if err != nil || string(b) != "from file" {
		t.Fatalf("readAll file: %q %v", b, err)
	}
	b, err = readAll("-", strings.NewReader("from stdin"))
	if err != nil || string(b) != "from stdin" {
		t.Fatalf("readAll stdin: %q %v", b, err)
	}
}

func Test_Workflow(t *testing.T) {
	_ = withTmpConfig(t)
	a := newMemoryApp(t)
	uid := uuid.Must(uuid.NewV4())

	mustRun(t, a, "node-add", "-id", "p1", "-title", "Project")
	mustRun(t, a, "node-add", "-id", "c1", "-parent", "p1", "-title", "Child", "-position", "1")
	mustRun(t, a, "node-add", "-id", "c2", "-parent", "p1", "-title", "Hidden", "-position", "2")

	// anonymous callers cannot write
	if _, err := runCmd(t, a, "", "write", "-content", "x", "p1", "home"); !errors.Is(err, errs.ErrPermissionDenied) {
		t.Fatalf("anonymous write: want permission denied, got %v", err)
	}

	mustRun(t, a, "token", "-user", uid.String(), "-write", "p1,c1")

	out := mustRun(t, a, "write", "-content", "hello", "p1", "Home")
	if !strings.Contains(out, `"status": "created"`) {
		t.Fatalf("first write: %s", out)
	}
	out, err := runCmd(t, a, "hello world", "write", "-file", "-", "p1", "home")
	if err != nil || !strings.Contains(out, `"status": "updated"`) {
		t.Fatalf("second write: %s %v", out, err)
	}

	var page pageView
	if err := json.Unmarshal([]byte(mustRun(t, a, "read", "p1", "HOME")), &page); err != nil {
		t.Fatal(err)
	}
	if page.Version != 2 || page.Content != "hello world" || page.Name != "home" || page.Author != uid.String() {
		t.Fatalf("read: %+v", page)
	}
	if page.URL != "http://w/p1/wiki/home/" {
		t.Fatalf("url: %s", page.URL)
	}

	if err := json.Unmarshal([]byte(mustRun(t, a, "read", "-version", "previous", "p1", "home")), &page); err != nil {
		t.Fatal(err)
	}
	if page.Version != 1 || page.Content != "hello" {
		t.Fatalf("read previous: %+v", page)
	}

	if _, err := runCmd(t, a, "", "rename", "p1", "home", "Other"); !errors.Is(err, errs.ErrCannotRename) {
		t.Fatalf("rename home: %v", err)
	}

	mustRun(t, a, "write", "-content", "draft", "p1", "Draft")
	mustRun(t, a, "rename", "p1", "draft", "Final")
	if _, err := runCmd(t, a, "", "read", "p1", "draft"); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("read renamed source: %v", err)
	}
	if _, err := runCmd(t, a, "", "validate", "p1", "final"); !errors.Is(err, errs.ErrConflict) {
		t.Fatalf("validate taken: %v", err)
	}
	if !strings.Contains(mustRun(t, a, "validate", "p1", "fresh"), `"available": true`) {
		t.Fatalf("validate fresh")
	}

	cmp := mustRun(t, a, "compare", "p1", "home")
	if !strings.Contains(cmp, `"against": 1`) || !strings.Contains(cmp, "diff-ins") {
		t.Fatalf("compare: %s", cmp)
	}

	var hist []pageView
	if err := json.Unmarshal([]byte(mustRun(t, a, "history", "p1", "home")), &hist); err != nil {
		t.Fatal(err)
	}
	if len(hist) != 2 || hist[0].Content != "" {
		t.Fatalf("history: %+v", hist)
	}

	mustRun(t, a, "write", "-content", "child page", "c1", "Notes")
	toc := mustRun(t, a, "toc", "p1")
	if !strings.Contains(toc, `"ID": "c1"`) || strings.Contains(toc, `"ID": "c2"`) {
		t.Fatalf("toc: %s", toc)
	}

	mustRun(t, a, "delete", "p1", "final")
	if _, err := runCmd(t, a, "", "delete", "p1", "final"); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("second delete: %v", err)
	}
	pages := mustRun(t, a, "pages", "p1")
	if strings.Contains(pages, "Final") || !strings.Contains(pages, "home") {
		t.Fatalf("pages: %s", pages)
	}

	if _, err := runCmd(t, a, "", "read", "c2", "home"); !errors.Is(err, errs.ErrPermissionDenied) {
		t.Fatalf("read hidden node: %v", err)
	}
	if _, err := runCmd(t, a, "", "search", "p1", "hello"); err == nil {
		t.Fatalf("search without meili should fail")
	}
	if _, err := runCmd(t, a, "", "bogus"); err == nil {
		t.Fatalf("unknown command should fail")
	}
	if _, err := runCmd(t, a, "", "rename", "p1", "only-one"); err == nil {
		t.Fatalf("wrong arity should fail")
	}
}

func Test_runMigrate_MemoryRejected(t *testing.T) {
	err := runMigrate(context.Background(), config.Config{Backend: config.BackendMemory}, &bytes.Buffer{})
	if err == nil {
		t.Fatalf("want error for memory backend")
	}
}

func Test_newApp_ConfiguresSearchIndex(t *testing.T) {
	var (
		mu    sync.Mutex
		paths []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.Method+" "+r.URL.Path)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_, _ = io.WriteString(w, `{"taskUid":1,"indexUid":"wiki_pages","status":"enqueued","type":"settingsUpdate","enqueuedAt":"2024-01-01T00:00:00Z"}`)
	}))
	defer srv.Close()

	cfg := config.Config{
		Backend:    config.BackendMemory,
		JWTKey:     "test-key",
		TokenTTL:   time.Hour,
		CASRetries: 16,
		MeiliURL:   srv.URL,
	}
	a, err := newApp(context.Background(), cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.Close()
	if a.search == nil {
		t.Fatalf("search client not wired")
	}

	mu.Lock()
	got := strings.Join(paths, "\n")
	mu.Unlock()
	for _, want := range []string{
		"POST /indexes",
		"/indexes/wiki_pages/settings/filterable-attributes",
		"/indexes/wiki_pages/settings/searchable-attributes",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("missing %q in requests:\n%s", want, got)
		}
	}
}

func Test_usageText_MemoryBackendIsPerInvocation(t *testing.T) {
	if !strings.Contains(usageText, "memory backend lives only for one invocation") {
		t.Fatalf("usage does not explain the memory backend:\n%s", usageText)
	}
}
