package postgres

import (
	"database/sql"
	"fmt"

	"github.com/edufund/supportchat/backend/internal/storage/sqlstore"
	_ "github.com/lib/pq"
)

type Postgres struct {
	Db *sql.DB
	*sqlstore.Store

	dsn string
}

func New(dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	// Verify connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Postgres{
		Db:    db,
		Store: sqlstore.New(db, sqlstore.Postgres),
		dsn:   dsn,
	}, nil
}
