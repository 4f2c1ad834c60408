package app

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/edufund/supportchat/backend/internal/config"
	"github.com/edufund/supportchat/backend/internal/storage"
	"github.com/edufund/supportchat/backend/internal/storage/memory"
	"github.com/edufund/supportchat/backend/internal/storage/postgres"
	"github.com/edufund/supportchat/backend/internal/storage/sqlite"
)

// OpenStore opens the configured backend and brings its schema up to date.
func OpenStore(cfg config.Config, log *zap.Logger) (storage.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverMemory:
		log.Warn("using in-memory store; data is lost on restart")
		return memory.New(), nil

	case config.DriverSQLite:
		db, err := sqlite.New(cfg.SQLITEDsn)
		if err != nil {
			return nil, err
		}
		v, err := db.Migrate()
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		log.Info("sqlite ready", zap.String("dsn", cfg.SQLITEDsn), zap.Uint("schema", v))
		return db, nil

	case config.DriverPostgres:
		db, err := postgres.New(cfg.PostgresDsn)
		if err != nil {
			return nil, err
		}
		v, err := db.Migrate()
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		log.Info("postgres ready", zap.Uint("schema", v))
		return db, nil
	}
	return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
}

func provideStore(cfg config.Config, log *zap.Logger) (storage.Store, error) {
	return OpenStore(cfg, log)
}
