package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadStatus reads and validates a YAML status artifact.
func LoadStatus(path string) (*Environment, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read status file %s: %w", path, err)
	}
	return ParseStatus(content)
}

// ParseStatus decodes a status artifact. Unknown keys are rejected.
func ParseStatus(content []byte) (*Environment, error) {
	var env Environment
	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("failed to decode status: %w", err)
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return &env, nil
}

// WriteStatus serializes env to path.
func WriteStatus(path string, env *Environment) error {
	if err := env.Validate(); err != nil {
		return err
	}
	content, err := yaml.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode status: %w", err)
	}
	return os.WriteFile(path, content, 0o644)
}
