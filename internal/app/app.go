// Package app assembles the application: configuration, database, model
// deployment, tool registry, stores, and the HTTP server. Setup wires the
// components; App owns their lifecycles.
package app

import (
	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/parleyhq/parley/internal/api"
	"github.com/parleyhq/parley/internal/chat"
	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/log"
)

// App is the assembled application container.
type App struct {
	Config *config.Config
	Logger log.Logger

	// Genkit and Embedder are nil when the echo provider is configured.
	Genkit   *genkit.Genkit
	Embedder ai.Embedder

	Pool   *pgxpool.Pool
	Chat   *chat.Service
	Server *api.Server

	otelShutdown func()
}

// Close releases everything Setup acquired. Safe to call on a partially
// initialized App.
func (a *App) Close() error {
	if a.otelShutdown != nil {
		a.otelShutdown()
	}
	if a.Pool != nil {
		a.Pool.Close()
		if a.Logger != nil {
			a.Logger.Info("database pool closed")
		}
	}
	return nil
}
