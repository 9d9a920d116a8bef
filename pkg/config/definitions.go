// Package config loads tool, agent and automation definitions from YAML files.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/dukex/autoflow/pkg/services"
)

// LoadDefinitions reads and parses the definitions file at path.
func LoadDefinitions(path string) (*services.Definitions, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read automations file %s: %w", path, err)
	}

	definitions, err := services.ParseDefinitions(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse automations file %s: %w", path, err)
	}

	return definitions, nil
}

// LoadDefinitionsOrDefault loads the definitions file, falling back to an
// empty set when path is empty or the file does not exist.
func LoadDefinitionsOrDefault(path string) (*services.Definitions, error) {
	if path == "" {
		return &services.Definitions{}, nil
	}

	definitions, err := LoadDefinitions(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &services.Definitions{}, nil
	}

	return definitions, err
}
