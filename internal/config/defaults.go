package config

// Default configuration values.
const (
	DefaultBackend   = "sqlite"
	DefaultDatabase  = "provcat.db"
	DefaultEnv       = "default"
	DefaultLogLevel  = "info"
	DefaultLogFormat = "text"
	DefaultAddr      = "127.0.0.1:5080"
	DefaultOutput    = "auto" // Auto-detect: TTY=text, non-TTY=json
)

// ApplyIndexDefaults fills unset fields of c based on its backend.
func ApplyIndexDefaults(c *IndexConfig) {
	if c == nil {
		return
	}
	if c.Backend == "" {
		c.Backend = DefaultBackend
	}
	switch c.Backend {
	case "sqlite":
		if c.Database == "" {
			c.Database = DefaultDatabase
		}
	case "postgres", "postgis":
		if c.Host == "" {
			c.Host = "localhost"
		}
		if c.Port == 0 {
			c.Port = 5432
		}
	}
}
