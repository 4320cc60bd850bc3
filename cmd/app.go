package cmd

import (
	"fmt"

	homedir "github.com/mitchellh/go-homedir"

	"github.com/qq148376839/video-parser-service/internal/utils"
	"github.com/qq148376839/video-parser-service/pkg/artifacts"
	"github.com/qq148376839/video-parser-service/pkg/cache"
	"github.com/qq148376839/video-parser-service/pkg/catalog"
	"github.com/qq148376839/video-parser-service/pkg/config"
	"github.com/qq148376839/video-parser-service/pkg/credstore"
	"github.com/qq148376839/video-parser-service/pkg/resolver"
	"github.com/qq148376839/video-parser-service/pkg/search"
	"github.com/qq148376839/video-parser-service/pkg/storage"
	"github.com/qq148376839/video-parser-service/pkg/whttp"
)

// app wires the full service graph from the loaded configuration. Every
// subcommand that needs more than the raw database goes through here.
type app struct {
	cfg       config.Config
	db        *storage.DB
	cache     *cache.Cache
	creds     *credstore.Store
	artifacts *artifacts.Store
	param     *resolver.ParameterResolver
	svc       *search.Service
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	db, err := storage.Open(resolveDBPath(cfg))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	artDir := cfg.ArtifactsDir
	if artDir == "" {
		home, err := homedir.Dir()
		if err != nil {
			db.Close()
			return nil, err
		}
		artDir = home + "/.vparse-artifacts"
	}
	art, err := artifacts.NewStore(artDir)
	if err != nil {
		db.Close()
		return nil, err
	}

	a := &app{
		cfg:       cfg,
		db:        db,
		cache:     cache.New(db, cfg.CacheTTL),
		creds:     credstore.New(db),
		artifacts: art,
	}

	var strategies []resolver.Strategy
	if cfg.CredentialAPI != "" {
		strategies = append(strategies,
			resolver.NewCredentialResolver(a.creds, cfg.CredentialAPI, cfg.ResolveTimeout))
	}
	if cfg.ParameterAPI != "" {
		a.param = resolver.NewParameterResolver(db, cfg.ParameterAPI, cfg.ParameterSource, cfg.ParamTTL, nil)
		strategies = append(strategies, a.param)
	}
	if cfg.ParserPage != "" {
		strategies = append(strategies, resolver.NewDecryptResolver(cfg.ParserPage, nil))
	}
	if len(strategies) == 0 {
		utils.Log.Warn("No resolver backends configured; searches will return catalog data only")
	}

	client := whttp.NewClient(cfg.SearchConnectTimeout, cfg.SearchTotalTimeout)
	agg := catalog.NewAggregator(cfg.Sources, cfg.DenylistTerms, cfg.SearchConcurrency, client)
	chain := resolver.NewChain(strategies, cfg.ResolverRetries, nil, art, cfg.CacheTTL)
	a.svc = search.New(agg, chain, a.cache, cfg.ResolveConcurrency, cfg.ResolveTimeout)

	return a, nil
}

func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		utils.Log.Warnf("Closing database: %v", err)
	}
}

func resolveDBPath(cfg config.Config) string {
	if cfg.DBPath != "" {
		return cfg.DBPath
	}
	home, err := homedir.Dir()
	if err != nil {
		return "vparse.sqlite"
	}
	return home + "/.vparse.sqlite"
}
