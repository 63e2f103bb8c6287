package repository

import (
	"context"
	"fmt"

	"github.com/agoradebate/agora/internal/config"
	"github.com/agoradebate/agora/internal/domain"
	"github.com/agoradebate/agora/internal/repository/memory"
	"github.com/agoradebate/agora/internal/repository/mongo"
	"github.com/agoradebate/agora/internal/repository/postgres"
	"github.com/agoradebate/agora/internal/repository/sqlstore"
)

// OpenDurable builds the durable tier selected by storage.driver
func OpenDurable(ctx context.Context, cfg *config.Config) (domain.DurableStore, error) {
	switch cfg.Storage.Driver {
	case "postgres":
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		return postgres.NewSessionRepository(db), nil
	case "mongo":
		return mongo.NewStore(ctx, cfg.Mongo)
	case "sqlite", "mysql":
		sqlCfg := cfg.SQLStore
		sqlCfg.Driver = cfg.Storage.Driver
		return sqlstore.Open(ctx, sqlCfg)
	case "memory":
		return memory.NewDurable(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}
