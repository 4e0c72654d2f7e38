package database

import (
	"fmt"
	"time"

	"github.com/storekeeper/storekeeper/internal/config"
)

// NewInMemory creates an in-memory database for tests and dry runs.
// Foreign keys are enabled; WAL mode and migrations are not.
func NewInMemory() (*DB, error) {
	sqlDB, err := connect(memoryPath, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("opening in-memory database: %w", err)
	}

	// The single connection is the database; it must never be recycled.
	if _, err := sqlDB.Exec("PRAGMA foreign_keys = ON"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	return &DB{DB: sqlDB, path: memoryPath, config: &config.DatabaseConfig{}}, nil
}
