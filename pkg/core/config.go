package core

// IndexConfig holds the connection settings for one index.
type IndexConfig struct {
	// Backend names a registered backend (postgres, postgis, sqlite, duckdb, memory, null).
	Backend string
	// Name identifies the index, e.g. the environment it was configured for.
	Name     string
	Database string
	Host     string
	Port     int
	Username string
	Password string
	Options  map[string]string
	// BatchSize is the default bulk-add batch size; 0 uses the built-in default.
	BatchSize int
}
