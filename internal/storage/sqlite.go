package storage

import (
	"vpn-access-bot/internal/config"

	_ "github.com/mattn/go-sqlite3"
)

type SQLiteProvider struct {
	SQLProvider
}

func NewSQLiteProvider(config *config.Storage) (*SQLiteProvider, error) {
	sqlProvider, err := NewSQLProvider(config, "sqlite3", config.SQLite.Path)
	if err != nil {
		return nil, err
	}
	return &SQLiteProvider{SQLProvider: *sqlProvider}, nil
}
