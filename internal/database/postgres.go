package database

import (
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

type PgAgoraRepository struct {
	conn *sql.DB
}

func NewPgAgoraRepository(dsn string) (*PgAgoraRepository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return &PgAgoraRepository{conn: db}, nil
}

func (db *PgAgoraRepository) Ping() error {
	return db.conn.Ping()
}

func (db *PgAgoraRepository) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// mapPqError converts unique violations into ErrDuplicate so callers
// don't depend on driver error codes.
func mapPqError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrDuplicate
	}
	return err
}
