package main

import (
	"context"
	"log"

	"github.com/fixdeck/host/internal/actions"
	"github.com/fixdeck/host/internal/config"
	apperrors "github.com/fixdeck/host/internal/errors"
	"github.com/fixdeck/host/internal/issues"
	"github.com/fixdeck/host/internal/patch"
	"github.com/fixdeck/host/internal/paths"
	"github.com/fixdeck/host/internal/storage"
	"github.com/fixdeck/host/internal/undo"
)

// app is the engine and its stores, opened from the resolved config.
type app struct {
	cfg     *config.Config
	store   *issues.Store
	engine  *actions.Engine
	log     *actions.DecisionLog
	history *storage.SQLiteStore // nil when the database could not be opened
	logOut  interface{ Close() error }
}

// loadConfig reads the config file and applies the global flag overrides.
func (r *rootCommand) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(r.configPath)
	if err != nil {
		return nil, &usageError{err: err}
	}
	if r.projectRoot != "" {
		cfg.ProjectRoot = r.projectRoot
	}
	if r.patchDir != "" {
		cfg.PatchDir = r.patchDir
	}
	if r.manifest != "" {
		cfg.ManifestPath = r.manifest
	}
	if r.logLevel != "" {
		cfg.LogLevel = r.logLevel
	}
	if err := cfg.Resolve(); err != nil {
		return nil, &usageError{err: err}
	}
	return cfg, nil
}

// openApp loads the config, the issue tree and the decision history. A
// missing manifest leaves an empty tree; a history database that cannot be
// opened leaves decisions in the text log only.
func (r *rootCommand) openApp(ctx context.Context) (*app, error) {
	cfg, err := r.loadConfig()
	if err != nil {
		return nil, err
	}

	logOut, err := setupLogging(cfg.LogLevel, cfg.LogFile, r.stderr)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logOut: logOut}

	norm := paths.New(cfg.ProjectRoot)
	a.store = issues.NewStore(norm, cfg.PatchDir)
	if _, err := a.store.Load(ctx, cfg.ManifestPath); err != nil {
		if !apperrors.IsCode(err, apperrors.CodeManifestLoadFailed) {
			a.Close()
			return nil, err
		}
		debugf("starting with an empty issue tree")
	}
	for _, skipped := range a.store.Skipped() {
		warnf("skipped fragment: %v", skipped)
	}

	if hist, err := storage.NewSQLiteStore(cfg.HistoryDB); err != nil {
		warnf("decision history disabled: %v", err)
	} else {
		a.history = hist
	}

	a.log = actions.NewDecisionLog(cfg.DecisionLog)
	a.engine = actions.NewEngine(a.store, undo.NewSlot(cfg.SnapshotPath), a.log)
	a.engine.SetApplier(patch.Applier{FuzzFactor: cfg.Fuzz(), MaxOffset: cfg.MaxOffset})
	if a.history != nil {
		a.engine.SetHistory(a.history)
	}

	debugf("project %s, patches %s, manifest %s", cfg.ProjectRoot, cfg.PatchDir, cfg.ManifestPath)
	return a, nil
}

// Close releases the history database and the log file.
func (a *app) Close() {
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			log.Printf("history: close: %v", err)
		}
	}
	if a.logOut != nil {
		a.logOut.Close()
	}
}
