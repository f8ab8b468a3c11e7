package config

import (
	"errors"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

// loadEnvFiles applies the first occurrence of each key across the existing files in paths.
// Process environment always wins, so a deployed container ignores stray .env files.
func loadEnvFiles(paths ...string) error {
	present := paths[:0:0]
	for _, path := range paths {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		present = append(present, path)
	}
	if len(present) == 0 {
		return nil
	}
	return godotenv.Load(present...)
}
