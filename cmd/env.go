package main

import (
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/locallens/resolve-cli/internal/cache"
	"github.com/locallens/resolve-cli/internal/cleaner"
	"github.com/locallens/resolve-cli/internal/eventlog"
	"github.com/locallens/resolve-cli/internal/index"
	"github.com/locallens/resolve-cli/internal/pipeline"
	"github.com/locallens/resolve-cli/pkg/anthropic"
	"github.com/locallens/resolve-cli/pkg/geocode"
)

// env holds the wired pipeline and its closable collaborators.
type env struct {
	Bundle   *index.Bundle
	Resolver *pipeline.Resolver
	Cache    *cache.ResultCache
	Events   eventlog.Sink
}

// initEnv loads the index bundle and wires every pipeline component from
// config.
func initEnv() (*env, error) {
	bundle, err := index.Load(cfg.Index.DataDir)
	if err != nil {
		return nil, eris.Wrap(err, "load index bundle")
	}

	ruleCleaner := cleaner.NewRuleCleaner(bundle)
	var cl cleaner.Cleaner = ruleCleaner
	if cfg.Cleaner.AnthropicKey != "" {
		cl = cleaner.NewLLMCleaner(
			anthropic.NewClient(cfg.Cleaner.AnthropicKey),
			cfg.Cleaner.Model,
			time.Duration(cfg.Cleaner.TimeoutSecs*float64(time.Second)),
			ruleCleaner,
		)
	}

	var geocoder geocode.Client
	if cfg.Here.APIKey != "" && !cfg.Here.Mock {
		geocoder = geocode.NewHereClient(cfg.Here.APIKey,
			geocode.WithBaseURLs(cfg.Here.BaseURL, cfg.Here.ReverseBaseURL),
			geocode.WithRateLimit(cfg.Here.RateLimitRPS),
			geocode.WithRetries(cfg.Here.Retries),
			geocode.WithAttemptTimeout(time.Duration(cfg.Here.AttemptSecs*float64(time.Second))),
		)
	} else {
		zap.L().Info("no HERE API key, using offline geocoder")
		geocoder = geocode.NewOfflineClient(bundle)
	}

	var events eventlog.Sink = eventlog.NopSink{}
	if cfg.EventLog.Path != "" {
		sink, err := eventlog.NewSQLite(cfg.EventLog.Path)
		if err != nil {
			return nil, eris.Wrap(err, "open event log")
		}
		events = sink
	}

	resultCache := cache.New(cfg.Cache.Capacity, cfg.Cache.TTL())

	return &env{
		Bundle:   bundle,
		Resolver: pipeline.New(cfg, bundle, cl, geocoder, resultCache, events),
		Cache:    resultCache,
		Events:   events,
	}, nil
}

// Close releases the environment's resources.
func (e *env) Close() {
	if err := e.Events.Close(); err != nil {
		zap.L().Warn("close event log", zap.Error(err))
	}
}
