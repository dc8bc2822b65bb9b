package core

import (
	"fmt"
	"os"

	"entitycore/internal/infra/persistence/memory"
	"entitycore/internal/infra/persistence/postgres"
	"entitycore/internal/infra/persistence/sqlite"
	"entitycore/pkg/domain"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// OpenGraphStore selects a backend using environment variables. Defaults to
// sqlite when unset.
//
//	ENTITYCORE_STORAGE_DRIVER: memory|sqlite|postgres (default sqlite)
//	ENTITYCORE_SQLITE_PATH: path to sqlite file (default ./entitycore.db)
//	ENTITYCORE_POSTGRES_DSN: postgres DSN when driver=postgres
func OpenGraphStore() (domain.GraphStore, error) {
	driver := os.Getenv("ENTITYCORE_STORAGE_DRIVER")
	if driver == "" {
		driver = string(StorageSQLite)
	}
	switch StorageDriver(driver) {
	case StorageMemory:
		return memory.NewStore(), nil
	case StorageSQLite:
		return sqlite.NewStore(os.Getenv("ENTITYCORE_SQLITE_PATH"))
	case StoragePostgres:
		return postgres.NewStore(os.Getenv("ENTITYCORE_POSTGRES_DSN"))
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}
