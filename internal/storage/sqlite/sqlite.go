package sqlite

import (
	"database/sql"
	"fmt"

	"github.com/edufund/supportchat/backend/internal/storage/sqlstore"
	_ "modernc.org/sqlite"
)

type Sqlite struct {
	Db *sql.DB
	*sqlstore.Store
}

func New(dsn string) (*Sqlite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err = db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	// Single connection for SQLite
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	_, _ = db.Exec(`PRAGMA journal_mode=WAL;`)

	// Wait up to 5s if locked
	_, _ = db.Exec(`PRAGMA busy_timeout = 5000;`)

	return &Sqlite{
		Db:    db,
		Store: sqlstore.New(db, sqlstore.SQLite),
	}, nil
}
