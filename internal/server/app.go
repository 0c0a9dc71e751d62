// Package server wires the registry subsystems into one application.
package server

import (
	"database/sql"
	"fmt"

	"github.com/bnema/wharf/internal/auth"
	"github.com/bnema/wharf/internal/config"
	"github.com/bnema/wharf/internal/db"
	"github.com/bnema/wharf/internal/registry"
	"github.com/bnema/wharf/internal/storage"
	"github.com/bnema/wharf/internal/uploads"
)

// App holds every long-lived handle. Handlers receive it explicitly.
type App struct {
	Config   *config.Config
	DB       *sql.DB
	Store    *storage.Store
	Uploads  *uploads.Manager
	Registry *registry.Service
	Gate     *auth.Gate
	Verifier auth.Verifier
}

// NewApp initializes storage, the index database, and the services.
func NewApp(cfg *config.Config) (*App, error) {
	store, err := storage.New(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize blob store: %w", err)
	}

	database, err := db.Open(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize index database: %w", err)
	}

	uploadMgr := uploads.NewManager(store, database, cfg.Upload.SessionTTL.Std(), cfg.Storage.MaxBlobBytes)

	return &App{
		Config:   cfg,
		DB:       database,
		Store:    store,
		Uploads:  uploadMgr,
		Registry: registry.NewService(cfg, store, database),
		Gate:     auth.NewGate(cfg.Security.RequireAuth, cfg.Security.AllowAnonymousPull, cfg.IsPublicRepo),
		Verifier: auth.NewStaticVerifier(cfg.Security.Tokens),
	}, nil
}

// Close releases the database handle.
func (a *App) Close() error {
	if a.DB != nil {
		return a.DB.Close()
	}
	return nil
}
