// SPDX-License-Identifier: MIT
package config

import (
	"errors"
	"fmt"
	"io/fs"

	"rosettas/internal/log"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads KEY=VALUE files into the process environment without
// overriding variables that are already set. Missing files are skipped. With
// no arguments ".env" in the working directory is tried.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
		log.Debugf("configuration: loaded environment from %s", p)
	}
	return nil
}
