package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/terrastat/soil-pipeline/internal/config"
)

// Open selects a backend from config: "postgres" uses the configured
// database URL, anything else falls back to SQLite at the configured path.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, eris.New("store: postgres driver requires a database URL")
		}
		return NewPostgres(ctx, cfg.DatabaseURL, nil)
	case "", "sqlite":
		return NewSQLite(cfg.Path)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
}
