package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/viper"

	"github.com/granabot/grana/internal/cache"
	"github.com/granabot/grana/internal/config"
	"github.com/granabot/grana/internal/index"
	"github.com/granabot/grana/internal/meter"
	"github.com/granabot/grana/internal/pipeline"
	"github.com/granabot/grana/internal/provider"
	"github.com/granabot/grana/internal/storage"
)

var (
	successStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	pendingStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
)

// app bundles the wired-up engine for one command invocation.
type app struct {
	store        *storage.SQLiteStorage
	cache        *cache.Cache
	meter        *meter.Meter
	index        *index.Index
	orchestrator *provider.Orchestrator
	pipeline     *pipeline.Pipeline
	snapshot     provider.Snapshot
}

// initStorage opens and migrates the database configured at database.path.
func initStorage(ctx context.Context) (*storage.SQLiteStorage, error) {
	dbPath := viper.GetString("database.path")
	if dbPath == "" {
		dbPath = "$HOME/.local/share/grana/grana.db"
	}
	dbPath = config.ExpandPath(dbPath)

	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return nil, err
	}

	if err := store.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}

// initSynonyms loads the configured synonym table, or the built-in one.
func initSynonyms() (*index.SynonymTable, error) {
	path := viper.GetString("synonyms.file")
	if path == "" {
		return index.DefaultSynonyms(), nil
	}

	data, err := os.ReadFile(config.ExpandPath(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read synonym file: %w", err)
	}
	return index.ParseSynonymsYAML(data)
}

// initApp wires storage, index, cache, meter, orchestrator and pipeline.
func initApp(ctx context.Context) (*app, error) {
	store, err := initStorage(ctx)
	if err != nil {
		return nil, err
	}

	synonyms, err := initSynonyms()
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	clients, err := config.Clients()
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	logger := slog.Default()
	idx := index.New(synonyms, config.IndexOptions(), logger)
	resultCache := cache.New(config.CacheTTL())
	usageMeter := meter.New(meter.NewMemoryStore(), logger)
	orchestrator := provider.New(clients, resultCache, usageMeter, store, logger)
	pl := pipeline.New(orchestrator, idx, store, store, store, config.PipelineConfig(), logger)

	return &app{
		store:        store,
		cache:        resultCache,
		meter:        usageMeter,
		index:        idx,
		orchestrator: orchestrator,
		pipeline:     pl,
		snapshot:     config.Snapshot(),
	}, nil
}

func (a *app) close() {
	a.cache.Close()
	_ = a.store.Close()
}
