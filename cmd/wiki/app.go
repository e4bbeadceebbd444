package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/and161185/nodewiki/internal/authz"
	"github.com/and161185/nodewiki/internal/config"
	"github.com/and161185/nodewiki/internal/model"
	"github.com/and161185/nodewiki/internal/repository"
	"github.com/and161185/nodewiki/internal/repository/memory"
	"github.com/and161185/nodewiki/internal/repository/postgres"
	"github.com/and161185/nodewiki/internal/repository/redisrepo"
	"github.com/and161185/nodewiki/internal/search"
	"github.com/and161185/nodewiki/internal/service"
	"github.com/and161185/nodewiki/internal/toc"
)

// app holds the wired components for one CLI invocation.
type app struct {
	cfg    config.Config
	log    *zap.Logger
	pages  repository.PageStore
	nodes  repository.NodeRepository
	audit  repository.AuditLog
	authz  *authz.Authorizer
	issuer *authz.Issuer
	wiki   *service.WikiServiceImpl
	toc    *toc.Builder
	search *search.Meili // nil when no Meilisearch URL is configured

	closers []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// newApp connects the configured backends.
func newApp(ctx context.Context, cfg config.Config, log *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log}

	switch cfg.Backend {
	case config.BackendMemory:
		log.Warn("memory backend keeps no state after this invocation")
		a.pages = memory.NewPageStore(cfg.CASRetries)
		a.nodes = memory.NewNodeRepo()
		a.audit = &memory.AuditLog{}
	case config.BackendPostgres, config.BackendRedis:
		db, err := postgres.New(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		a.nodes = postgres.NewNodeRepo(db)
		a.audit = postgres.NewAuditRepo(db)
		a.pages = postgres.NewPageRepo(db, cfg.CASRetries)
		if cfg.Backend == config.BackendRedis {
			rs, err := redisrepo.NewPageStore(ctx, cfg.RedisURL, cfg.CASRetries)
			if err != nil {
				a.Close()
				return nil, err
			}
			a.closers = append(a.closers, func() { _ = rs.Close() })
			a.pages = rs
		}
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}

	a.wire()
	return a, nil
}

// wire builds the engine on top of already chosen stores.
func (a *app) wire() {
	key := []byte(a.cfg.JWTKey)
	a.authz = authz.New(key)
	a.issuer = authz.NewIssuer(key, a.cfg.TokenTTL)

	opts := service.Options{URLs: model.URLs{Base: a.cfg.BaseURL}}
	if a.cfg.MeiliURL != "" {
		a.search = search.NewMeili(a.cfg.MeiliURL, a.cfg.MeiliKey, a.log)
		// search filters on nodeId, which a fresh index rejects until configured
		a.search.Configure()
		opts.Indexer = a.search
	}
	a.wiki = service.NewWikiService(a.pages, a.authz, a.audit, a.log, opts)
	a.toc = toc.NewBuilder(a.nodes, a.wiki, a.authz, opts.URLs, 0)
}
