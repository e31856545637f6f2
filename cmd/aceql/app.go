package main

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/aceql/internal/assembler"
	"github.com/fyrsmithlabs/aceql/internal/config"
	"github.com/fyrsmithlabs/aceql/internal/curator"
	"github.com/fyrsmithlabs/aceql/internal/executor"
	"github.com/fyrsmithlabs/aceql/internal/generator"
	"github.com/fyrsmithlabs/aceql/internal/llm"
	"github.com/fyrsmithlabs/aceql/internal/logging"
	"github.com/fyrsmithlabs/aceql/internal/orchestrator"
	"github.com/fyrsmithlabs/aceql/internal/playbook"
	"github.com/fyrsmithlabs/aceql/internal/reflector"
	"github.com/fyrsmithlabs/aceql/internal/retrieval"
	"github.com/fyrsmithlabs/aceql/internal/secrets"
	"github.com/fyrsmithlabs/aceql/internal/telemetry"
	"go.uber.org/zap"
)

// app holds the process-wide components. Fields are filled on demand so
// commands that only touch the playbook do not dial the database or the
// vector store.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	telemetry *telemetry.Telemetry
	scrubber  secrets.Scrubber
	playbooks *playbook.FileStore

	completer llm.Completer
	store     retrieval.Store
	executor  *executor.SQLExecutor

	closers []func() error
}

// newApp loads configuration and sets up logging, telemetry, the scrubber
// and the playbook store.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logCfg, err := logging.FromConfig(cfg.Logging)
	if err != nil {
		return nil, err
	}
	lg, err := logging.NewLogger(logCfg)
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	a := &app{cfg: cfg, logger: lg.Underlying()}
	a.closers = append(a.closers, func() error {
		_ = lg.Sync()
		return nil
	})

	a.telemetry, err = telemetry.New(ctx, telemetry.FromConfig(cfg.Telemetry), a.logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, func() error { return a.telemetry.Shutdown(context.Background()) })

	scrubCfg := secrets.DefaultConfig()
	scrubCfg.Enabled = cfg.Secrets.Enabled
	if a.scrubber, err = secrets.New(scrubCfg); err != nil {
		a.Close()
		return nil, fmt.Errorf("building scrubber: %w", err)
	}

	a.playbooks = playbook.NewFileStore(cfg.Playbook.Path, a.logger)
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("shutdown step failed", zap.Error(err))
		}
	}
	a.closers = nil
}

func (a *app) completion() (llm.Completer, error) {
	if a.completer != nil {
		return a.completer, nil
	}
	c, err := llm.New(a.cfg.LLM, a.logger)
	if err != nil {
		return nil, fmt.Errorf("initializing llm client: %w", err)
	}
	a.completer = c
	return c, nil
}

func (a *app) retrievalStore(ctx context.Context) (retrieval.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	embedder, err := retrieval.NewEmbedder(a.cfg.Embeddings)
	if err != nil {
		return nil, fmt.Errorf("initializing embedder: %w", err)
	}
	s, err := retrieval.New(ctx, a.cfg.Retrieval, embedder, a.logger)
	if err != nil {
		return nil, fmt.Errorf("opening %s store: %w", a.cfg.Retrieval.Provider, err)
	}
	a.store = s
	a.closers = append(a.closers, s.Close)
	return s, nil
}

func (a *app) sqlExecutor(ctx context.Context) (*executor.SQLExecutor, error) {
	if a.executor != nil {
		return a.executor, nil
	}
	e, err := executor.Open(ctx, a.cfg.Database, a.logger)
	if err != nil {
		return nil, err
	}
	a.executor = e
	a.closers = append(a.closers, e.Close)
	return e, nil
}

func (a *app) newCurator() (*curator.Curator, error) {
	c, err := a.completion()
	if err != nil {
		return nil, err
	}
	return curator.New(c, a.playbooks, curator.WithLogger(a.logger)), nil
}

// newOrchestrator wires the full learning cycle.
func (a *app) newOrchestrator(ctx context.Context) (*orchestrator.Orchestrator, error) {
	completer, err := a.completion()
	if err != nil {
		return nil, err
	}
	store, err := a.retrievalStore(ctx)
	if err != nil {
		return nil, err
	}
	exec, err := a.sqlExecutor(ctx)
	if err != nil {
		return nil, err
	}
	cur, err := a.newCurator()
	if err != nil {
		return nil, err
	}

	var retriever retrieval.Retriever = retrieval.WithTimeout(store, a.cfg.Retrieval.Timeout)
	if a.cfg.Retrieval.Rerank {
		retriever = retrieval.NewRerankingRetriever(retriever, 0)
	}

	asm := assembler.New(a.playbooks, retriever,
		assembler.WithTopK(a.cfg.Retrieval.TopK),
		assembler.WithDialect(a.cfg.Database.Driver),
		assembler.WithLogger(a.logger),
	)

	return orchestrator.New(orchestrator.Deps{
		Context:   asm,
		Generator: generator.New(completer, a.logger),
		Executor:  exec,
		Reflector: reflector.New(completer, a.logger),
		Curator:   cur,
		Playbooks: a.playbooks,
		Recorder:  orchestrator.NewEpisodicLog(a.cfg.Episodic.Path, a.scrubber, a.logger),
	},
		orchestrator.WithTokenBudget(a.cfg.Orchestrator.TokenBudget),
		orchestrator.WithRecoverableErrors(a.cfg.Orchestrator.RecoverableErrors),
		orchestrator.WithLogger(a.logger),
	)
}

// withApp runs fn with a fresh app and always closes it.
func withApp(ctx context.Context, fn func(context.Context, *app) error) (err error) {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}
