package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/joho/godotenv"

	"github.com/modforge/devkit/internal/constants"
)

// LoadDotEnv reads <repoRoot>/.env and sets every key not already present in
// the environment. It returns the keys it set. A missing file is not an error.
func LoadDotEnv(repoRoot string) ([]string, error) {
	if repoRoot == "" {
		return nil, nil
	}
	path := filepath.Join(repoRoot, constants.FileDotEnv)
	values, err := godotenv.Read(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	var set []string
	for k, v := range values {
		if k == "" {
			continue
		}
		if _, ok := os.LookupEnv(k); ok {
			continue
		}
		if err := os.Setenv(k, v); err != nil {
			return set, err
		}
		set = append(set, k)
	}
	slices.Sort(set)
	return set, nil
}
