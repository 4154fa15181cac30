package database

import (
	"database/sql"
)

type PgHubChatRepository struct {
	conn *sql.DB
}

func NewPgHubChatRepository(dsn string) (*PgHubChatRepository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return &PgHubChatRepository{conn: db}, nil
}

func (db *PgHubChatRepository) Ping() error {
	return db.conn.Ping()
}

func (db *PgHubChatRepository) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}
