package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sheetpipe/sheetpipe/internal/convert"
	"github.com/sheetpipe/sheetpipe/internal/model"
	"github.com/sheetpipe/sheetpipe/internal/objstore"
	"github.com/sheetpipe/sheetpipe/internal/pipeline"
	"github.com/sheetpipe/sheetpipe/internal/store"
	"github.com/sheetpipe/sheetpipe/pkg/llm"
)

// env bundles the collaborators every command needs.
type env struct {
	Store    store.Store
	Objects  objstore.Store
	Pipeline *pipeline.Service
}

// initEnv wires the metadata store, object store, LLM client, conversion
// engine, and pipeline service from config.
func initEnv(ctx context.Context) (*env, error) {
	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	objects, err := objstore.NewMinio(objstore.Config{
		Endpoint:  cfg.Objects.Endpoint,
		AccessKey: cfg.Objects.AccessKey,
		SecretKey: cfg.Objects.SecretKey,
		Bucket:    cfg.Objects.Bucket,
		Region:    cfg.Objects.Region,
		UseSSL:    cfg.Objects.UseSSL,
	})
	if err != nil {
		st.Close()
		return nil, err
	}

	llmClient := llm.NewClient(llm.Config{
		APIKey:    cfg.Anthropic.Key,
		Model:     cfg.Anthropic.Model,
		MaxTokens: cfg.Anthropic.MaxTokens,
		RPS:       cfg.Anthropic.RPS,
	})

	svc := pipeline.New(st, objects, llmClient, convert.NewEngine(), pipeline.Options{
		ScratchDir: cfg.Pipeline.ScratchDir,
		SampleRows: cfg.Pipeline.SampleRows,
		KeyPrefix:  cfg.Objects.Prefix,
	})

	return &env{Store: st, Objects: objects, Pipeline: svc}, nil
}

func openStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	case "sqlite":
		return store.NewSQLite(cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func (e *env) Close() {
	e.Store.Close()
}

// runConfigFromFlags builds a RunConfig from command flags, falling back
// to configured defaults.
func runConfigFromFlags(review bool, concurrency int) model.RunConfig {
	mode := model.ReviewMode(cfg.Pipeline.ReviewMode)
	if review {
		mode = model.ReviewModeReview
	}
	if concurrency <= 0 {
		concurrency = cfg.Pipeline.Concurrency
	}
	return model.RunConfig{ReviewMode: mode, Concurrency: concurrency}
}
