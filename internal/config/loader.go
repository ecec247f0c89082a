package config

import (
	"os"
	"path/filepath"
	"regexp"
)

// ConfigFileName is the name of the config file.
const ConfigFileName = "provcat.yaml"

// ConfigFileNameAlt is the alternate name of the config file.
const ConfigFileNameAlt = "provcat.yml"

// FindConfigFile returns the config file in dir, or "" when there is none.
func FindConfigFile(dir string) string {
	for _, name := range []string{ConfigFileName, ConfigFileNameAlt} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// FindConfigUpward walks up from startDir, at most maxLevels directories,
// looking for a config file. Returns "" if none is found.
func FindConfigUpward(startDir string, maxLevels int) string {
	dir := startDir
	for i := 0; i < maxLevels; i++ {
		if path := FindConfigFile(dir); path != "" {
			return path
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached filesystem root
			return ""
		}
		dir = parent
	}
	return ""
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// ExpandEnvVars expands ${VAR} patterns with environment variable values.
// Unset variables are left as written.
func ExpandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val := os.Getenv(varName); val != "" {
			return val
		}
		return match
	})
}

// ExpandIndexEnvVars expands environment variables in the connection fields of c.
func ExpandIndexEnvVars(c *IndexConfig) {
	if c == nil {
		return
	}
	c.Password = ExpandEnvVars(c.Password)
	c.User = ExpandEnvVars(c.User)
	c.Host = ExpandEnvVars(c.Host)
	c.Database = ExpandEnvVars(c.Database)
}
