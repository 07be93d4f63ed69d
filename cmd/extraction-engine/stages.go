// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/pdiddy/extraction-engine/internal/acquire"
	"github.com/pdiddy/extraction-engine/internal/annotate"
	"github.com/pdiddy/extraction-engine/internal/cache"
	"github.com/pdiddy/extraction-engine/internal/extract"
	"github.com/pdiddy/extraction-engine/internal/httputil"
	"github.com/pdiddy/extraction-engine/internal/pipeline"
	"github.com/pdiddy/extraction-engine/internal/ratelimit"
	"github.com/pdiddy/extraction-engine/internal/resolve"
	"github.com/pdiddy/extraction-engine/internal/secrets"
	"github.com/pdiddy/extraction-engine/pkg/types"
)

// components holds the stage implementations for one command invocation
// and the resources they share.
type components struct {
	store    cache.Store
	limiter  *ratelimit.Limiter
	resolver *resolve.Resolver
	acquirer *acquire.Acquirer
	engine   *extract.Engine
	annot    *annotate.Annotator
	closers  []io.Closer
}

// buildComponents wires the stages from cfg. Extraction providers are only
// built when withExtract is set, so resolve and acquire work without LLM
// credentials.
func buildComponents(ctx context.Context, cfg types.Config, logger *slog.Logger, withExtract bool) (*components, error) {
	c := &components{
		store:   cache.Nop{},
		limiter: ratelimit.New(cfg.RateLimits, 0),
	}
	if cfg.Extraction.CacheEnabled {
		s, err := cache.OpenSQLite(cfg.Extraction.CacheDir)
		if err != nil {
			return nil, fmt.Errorf("opening cache: %w", err)
		}
		c.store = s
		c.closers = append(c.closers, s)
	}

	keys := secrets.NewKeys(loadedSecrets)
	rcfg := cfg.Resolver
	if rcfg.UnpaywallEmail == "" {
		rcfg.UnpaywallEmail = keys.APIKey("unpaywall")
	}
	ropts := []resolve.Option{
		resolve.WithCache(c.store),
		resolve.WithLogger(logger.With("stage", "resolve")),
		resolve.WithHTTPClient(httputil.NewClient(rcfg.SemanticScholar.HTTPConfig)),
	}
	if k := keys.APIKey("semantic_scholar"); k != "" && rcfg.SemanticScholar.APIKey == "" {
		ropts = append(ropts, resolve.WithAPIKey(k))
	}
	c.resolver = resolve.New(rcfg, c.limiter, ropts...)

	c.acquirer = acquire.New(cfg.Downloader,
		acquire.WithCache(c.store),
		acquire.WithLogger(logger.With("stage", "acquire")),
		acquire.WithHTTPClient(httputil.NewClient(cfg.Downloader.HTTPConfig)),
	)

	if withExtract {
		providers, err := extract.NewProviders(ctx, cfg.LLM.Providers, cfg.Gemini, keys, &http.Client{})
		if err != nil {
			c.Close()
			return nil, err
		}
		for _, p := range providers {
			if cl, ok := p.(io.Closer); ok {
				c.closers = append(c.closers, cl)
			}
		}
		c.engine = extract.New(cfg.LLM, cfg.Extraction, providers, c.limiter,
			extract.WithCache(c.store),
			extract.WithLogger(logger.With("stage", "extract")),
		)
		if cfg.Extraction.AnnotatePDFs {
			c.annot = annotate.New(cfg.Extraction, annotate.WithLogger(logger.With("stage", "annotate")))
		}
	}
	return c, nil
}

// stages returns the pipeline view of the components.
func (c *components) stages() pipeline.Stages {
	s := pipeline.Stages{Resolver: c.resolver, Acquirer: c.acquirer, Extractor: c.engine}
	if c.annot != nil {
		s.Annotator = c.annot
	}
	return s
}

// Close releases the cache database and provider clients.
func (c *components) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		errs = append(errs, c.closers[i].Close())
	}
	return errors.Join(errs...)
}
