package configuration

import (
	"os"

	"github.com/joho/godotenv"
)

// LoadEnvFromFile loads KEY=VALUE pairs from the given files (e.g. config.env, .env).
// Missing files are skipped and variables already present in the environment win.
func LoadEnvFromFile(paths ...string) {
	existing := make([]string, 0, len(paths))
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	for _, p := range existing {
		// godotenv.Load never overrides variables that are already set
		_ = godotenv.Load(p)
	}
}
