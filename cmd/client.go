package cmd

import (
	"context"
	"time"

	"github.com/CosmoTheDev/codeloop-agent/internal/client"
	"github.com/CosmoTheDev/codeloop-agent/internal/config"
	"github.com/CosmoTheDev/codeloop-agent/internal/database"
	"github.com/CosmoTheDev/codeloop-agent/internal/store"
)

// apiClient builds a client for the configured daemon address. Falls back to
// the default address when no config file exists.
func apiClient() *client.Client {
	cfg, err := config.Load()
	if err != nil {
		return client.New("", 0)
	}
	return client.New(cfg.HTTP.Host, cfg.HTTP.Port)
}

// cmdContext is the request budget for one-shot CLI calls.
func cmdContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

// openStore opens the database directly, for commands that still work when
// the daemon is down.
func openStore(ctx context.Context) (*store.Store, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	db, err := database.New(cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	return store.New(db), func() { db.Close() }, nil
}
