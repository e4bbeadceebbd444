// Command wiki manages the versioned wiki pages of nodes.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/nodewiki/internal/authz"
	"github.com/and161185/nodewiki/internal/config"
	"github.com/and161185/nodewiki/internal/errs"
	"github.com/and161185/nodewiki/internal/migrate"
	"github.com/and161185/nodewiki/internal/model"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

const usageText = `wiki CLI
Usage:
  wiki [-backend memory|postgres|redis] [-dsn DSN] [-redis-url URL] [-jwt-key KEY] <cmd> [args]

Commands:
  version
  migrate    [up|down]
  token      -user <uuid> [-write n1,n2] [-view n3]      (saves token)
  node-add   -id <id> [-parent <id>] [-title t] [-category c] [-position n] [-public] [-registration] [-pointer] [-no-wiki]
  read       [-version current|previous|N] <node> <name>
  write      [-file path|-] [-content text] <node> <name>
  rename     <node> <old> <new>
  delete     <node> <name>
  history    <node> <name>
  versions   <node> <name>
  compare    [-version previous|N] <node> <name>
  validate   <node> <name>
  pages      <node>
  toc        <node>
  search     [-limit n] <node> <query>

The memory backend lives only for one invocation; use it for tests and
quick experiments, not for data that later commands should see.
`

// main loads configuration, connects backends and runs one command.
func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			fmt.Fprint(os.Stderr, usageText)
			os.Exit(2)
		}
		fail(err)
	}
	if len(cfg.Args) < 1 {
		fmt.Fprint(os.Stderr, usageText)
		os.Exit(2)
	}

	logger := newLogger(cfg.Dev)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	switch cfg.Args[0] {
	case "version":
		fmt.Printf("wiki %s (%s)\n", version, buildDate)
		return
	case "migrate":
		if err := runMigrate(ctx, cfg, os.Stdout); err != nil {
			fail(err)
		}
		return
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		fail(err)
	}
	defer a.Close()

	if err := a.run(ctx, cfg.Args, os.Stdin, os.Stdout); err != nil {
		logger.Debug("command failed", zap.String("cmd", cfg.Args[0]), zap.Error(err))
		a.Close()
		fail(err)
	}
}

func newLogger(dev bool) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if dev {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func runMigrate(ctx context.Context, cfg config.Config, out io.Writer) error {
	if cfg.Backend == config.BackendMemory {
		return errors.New("migrate needs a postgres DSN")
	}
	dir := "up"
	if len(cfg.Args) > 1 {
		dir = cfg.Args[1]
	}
	switch dir {
	case "up":
		v, err := migrate.Up(ctx, cfg.DSN)
		if err != nil {
			return err
		}
		return printJSON(out, map[string]int64{"schema_version": v})
	case "down":
		return migrate.Down(ctx, cfg.DSN)
	default:
		return fmt.Errorf("unknown migrate direction %q", dir)
	}
}

// run executes one subcommand against a wired app.
func (a *app) run(ctx context.Context, args []string, in io.Reader, out io.Writer) error {
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "token":
		return a.cmdToken(rest, out)
	case "node-add":
		return a.cmdNodeAdd(ctx, rest, out)
	case "read":
		return a.cmdRead(ctx, rest, out)
	case "write":
		return a.cmdWrite(ctx, rest, in, out)
	case "rename":
		return a.cmdRename(ctx, rest, out)
	case "delete":
		return a.cmdDelete(ctx, rest, out)
	case "history":
		return a.cmdHistory(ctx, rest, out)
	case "versions":
		return a.cmdVersions(ctx, rest, out)
	case "compare":
		return a.cmdCompare(ctx, rest, out)
	case "validate":
		return a.cmdValidate(ctx, rest, out)
	case "pages":
		return a.cmdPages(ctx, rest, out)
	case "toc":
		return a.cmdToc(ctx, rest, out)
	case "search":
		return a.cmdSearch(ctx, rest, out)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// ---- views ----

type pageView struct {
	ID        string    `json:"id"`
	NodeID    string    `json:"node_id"`
	Key       string    `json:"key"`
	Name      string    `json:"name"`
	Version   int64     `json:"version"`
	IsCurrent bool      `json:"is_current"`
	CreatedAt time.Time `json:"created_at"`
	Author    string    `json:"author"`
	Content   string    `json:"content,omitempty"`
	URL       string    `json:"url,omitempty"`
}

func (a *app) view(p *model.Page, withContent bool) pageView {
	v := pageView{
		ID:        p.ID.String(),
		NodeID:    p.NodeID,
		Key:       p.Key,
		Name:      p.Name,
		Version:   p.Version,
		IsCurrent: p.IsCurrent,
		CreatedAt: p.CreatedAt.UTC(),
		Author:    p.Author.String(),
		URL:       model.URLs{Base: a.cfg.BaseURL}.Page(p.NodeID, p.Name),
	}
	if withContent {
		v.Content = p.Content
	}
	return v
}

// ---- commands ----

func (a *app) cmdToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	user := fs.String("user", "", "user uuid")
	write := fs.String("write", "", "comma separated node ids with write access")
	view := fs.String("view", "", "comma separated node ids with read access")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if a.cfg.JWTKey == "" {
		return errors.New("missing signing key (-jwt-key or WIKI_JWT_KEY)")
	}
	uid, err := uuid.FromString(*user)
	if err != nil {
		return fmt.Errorf("bad -user: %w", err)
	}
	tok, exp, err := a.issuer.Issue(uid, authz.Grants{Write: splitList(*write), View: splitList(*view)})
	if err != nil {
		return err
	}
	if err := saveToken(tok, exp); err != nil {
		a.log.Warn("save token", zap.Error(err))
	}
	return printJSON(out, map[string]any{"access_token": tok, "expires_at": exp.UTC()})
}

func (a *app) cmdNodeAdd(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("node-add", flag.ContinueOnError)
	var n model.Node
	fs.StringVar(&n.ID, "id", "", "node id")
	fs.StringVar(&n.ParentID, "parent", "", "parent node id")
	fs.StringVar(&n.Title, "title", "", "title")
	fs.StringVar(&n.Category, "category", "", "category")
	fs.IntVar(&n.Position, "position", 0, "order among siblings")
	fs.BoolVar(&n.IsPublic, "public", false, "visible to everyone")
	fs.BoolVar(&n.IsRegistration, "registration", false, "immutable registration")
	fs.BoolVar(&n.IsPointer, "pointer", false, "linked, not owned")
	fs.BoolVar(&n.IsDeleted, "deleted", false, "deleted")
	noWiki := fs.Bool("no-wiki", false, "disable the wiki")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if n.ID == "" {
		return errors.New("need -id")
	}
	n.WikiEnabled = !*noWiki
	if err := a.nodes.Put(ctx, n); err != nil {
		return err
	}
	return printJSON(out, n)
}

func (a *app) cmdRead(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("read", flag.ContinueOnError)
	ver := fs.String("version", "", "current, previous or a number")
	if err := fs.Parse(args); err != nil {
		return err
	}
	node, _, rest, err := a.viewable(ctx, fs.Args(), 2)
	if err != nil {
		return err
	}
	ref, err := model.ParseVersion(*ver)
	if err != nil {
		return err
	}
	p, err := a.wiki.Read(ctx, *node, rest[0], ref)
	if err != nil {
		return err
	}
	return printJSON(out, a.view(p, true))
}

func (a *app) cmdWrite(ctx context.Context, args []string, in io.Reader, out io.Writer) error {
	fs := flag.NewFlagSet("write", flag.ContinueOnError)
	file := fs.String("file", "", "content file, - for stdin")
	text := fs.String("content", "", "content text")
	if err := fs.Parse(args); err != nil {
		return err
	}
	node, auth, rest, err := a.target(ctx, fs.Args(), 2)
	if err != nil {
		return err
	}
	content := *text
	if *file != "" {
		b, err := readAll(*file, in)
		if err != nil {
			return err
		}
		content = string(b)
	}
	p, st, err := a.wiki.Write(ctx, *node, rest[0], content, auth)
	if err != nil {
		return err
	}
	return printJSON(out, map[string]any{"status": st.String(), "page": a.view(p, false)})
}

func (a *app) cmdRename(ctx context.Context, args []string, out io.Writer) error {
	node, auth, rest, err := a.target(ctx, args, 3)
	if err != nil {
		return err
	}
	p, err := a.wiki.Rename(ctx, *node, rest[0], rest[1], auth)
	if err != nil {
		return err
	}
	return printJSON(out, a.view(p, false))
}

func (a *app) cmdDelete(ctx context.Context, args []string, out io.Writer) error {
	node, auth, rest, err := a.target(ctx, args, 2)
	if err != nil {
		return err
	}
	if err := a.wiki.Delete(ctx, *node, rest[0], auth); err != nil {
		return err
	}
	return printJSON(out, map[string]string{"deleted": rest[0]})
}

func (a *app) cmdHistory(ctx context.Context, args []string, out io.Writer) error {
	node, _, rest, err := a.viewable(ctx, args, 2)
	if err != nil {
		return err
	}
	hist, err := a.wiki.History(ctx, *node, rest[0])
	if err != nil {
		return err
	}
	views := make([]pageView, 0, len(hist))
	for i := range hist {
		views = append(views, a.view(&hist[i], false))
	}
	return printJSON(out, views)
}

func (a *app) cmdVersions(ctx context.Context, args []string, out io.Writer) error {
	node, _, rest, err := a.viewable(ctx, args, 2)
	if err != nil {
		return err
	}
	vs, err := a.wiki.Versions(ctx, *node, rest[0])
	if err != nil {
		return err
	}
	type row struct {
		Version int64     `json:"version"`
		Author  string    `json:"author"`
		Date    time.Time `json:"date"`
	}
	rows := make([]row, 0, len(vs))
	for _, v := range vs {
		rows = append(rows, row{Version: v.Version, Author: v.Author.String(), Date: v.Date.UTC()})
	}
	return printJSON(out, rows)
}

func (a *app) cmdCompare(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("compare", flag.ContinueOnError)
	ver := fs.String("version", "previous", "previous or a number")
	if err := fs.Parse(args); err != nil {
		return err
	}
	node, _, rest, err := a.viewable(ctx, fs.Args(), 2)
	if err != nil {
		return err
	}
	ref, err := model.ParseVersion(*ver)
	if err != nil {
		return err
	}
	cmp, err := a.wiki.Compare(ctx, *node, rest[0], ref)
	if err != nil {
		return err
	}
	return printJSON(out, map[string]any{
		"current": cmp.Current.Version,
		"against": cmp.Against.Version,
		"html":    cmp.HTML,
	})
}

func (a *app) cmdValidate(ctx context.Context, args []string, out io.Writer) error {
	node, auth, rest, err := a.target(ctx, args, 2)
	if err != nil {
		return err
	}
	if err := a.wiki.ValidateName(ctx, *node, rest[0], auth); err != nil {
		return err
	}
	return printJSON(out, map[string]bool{"available": true})
}

func (a *app) cmdPages(ctx context.Context, args []string, out io.Writer) error {
	node, _, _, err := a.viewable(ctx, args, 1)
	if err != nil {
		return err
	}
	links, err := a.wiki.Pages(ctx, *node)
	if err != nil {
		return err
	}
	return printJSON(out, links)
}

func (a *app) cmdToc(ctx context.Context, args []string, out io.Writer) error {
	node, auth, _, err := a.viewable(ctx, args, 1)
	if err != nil {
		return err
	}
	entries, err := a.toc.Build(ctx, *node, auth)
	if err != nil {
		return err
	}
	return printJSON(out, entries)
}

func (a *app) cmdSearch(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("search", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "max hits")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if a.search == nil {
		return errors.New("search is not configured (-meili-url)")
	}
	node, _, rest, err := a.viewable(ctx, fs.Args(), 2)
	if err != nil {
		return err
	}
	hits, err := a.search.Search(ctx, node.ID, rest[0], *limit)
	if err != nil {
		return err
	}
	return printJSON(out, hits)
}

// ---- helpers ----

// caller authenticates the saved token; without one the caller is anonymous.
func (a *app) caller() (model.Auth, error) {
	tok, err := loadToken()
	if err != nil {
		return model.Auth{}, nil
	}
	return a.authz.Authenticate(tok)
}

// target loads the node named by args[0] and checks the argument count.
func (a *app) target(ctx context.Context, args []string, want int) (*model.Node, model.Auth, []string, error) {
	if len(args) != want {
		return nil, model.Auth{}, nil, fmt.Errorf("want %d arguments, got %d", want, len(args))
	}
	auth, err := a.caller()
	if err != nil {
		return nil, model.Auth{}, nil, err
	}
	node, err := a.nodes.Get(ctx, args[0])
	if err != nil {
		return nil, model.Auth{}, nil, fmt.Errorf("node %s: %w", args[0], err)
	}
	return node, auth, args[1:], nil
}

// viewable is target plus a visibility check.
func (a *app) viewable(ctx context.Context, args []string, want int) (*model.Node, model.Auth, []string, error) {
	node, auth, rest, err := a.target(ctx, args, want)
	if err != nil {
		return nil, model.Auth{}, nil, err
	}
	if !a.authz.CanView(*node, auth) {
		return nil, model.Auth{}, nil, errs.ErrPermissionDenied
	}
	return node, auth, rest, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func readAll(p string, stdin io.Reader) ([]byte, error) {
	if p == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(p)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func fail(err error) {
	var inv *errs.InvalidNameError
	switch {
	case errors.As(err, &inv):
		fmt.Fprintln(os.Stderr, "invalid name:", inv.Reason)
	default:
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(1)
}
