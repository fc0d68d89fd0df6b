package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// FromFile loads an engine config, auto-detecting format by extension.
// Supported extensions: .yaml, .yml, .json
//
// The result has defaults applied and has been validated.
func FromFile(path string) (Engine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Engine{}, fmt.Errorf("read config file: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		return FromYAML(data)
	case ".json":
		return FromJSON(data)
	default:
		return Engine{}, fmt.Errorf("unsupported config file extension: %s", ext)
	}
}

// FromYAML parses YAML into an Engine, applies defaults and validates.
// Durations are written as Go duration strings ("100ms", "5s").
func FromYAML(data []byte) (Engine, error) {
	var e Engine
	if err := yaml.Unmarshal(data, &e); err != nil {
		return Engine{}, fmt.Errorf("parse yaml: %w", err)
	}
	return finish(e)
}

// FromJSON parses JSON into an Engine, applies defaults and validates.
//
// The document is checked as JSON and then decoded with the YAML decoder,
// so durations use the same string form as in YAML files.
func FromJSON(data []byte) (Engine, error) {
	if !json.Valid(data) {
		var probe any
		err := json.Unmarshal(data, &probe)
		if err == nil {
			err = errors.New("invalid JSON")
		}
		return Engine{}, fmt.Errorf("parse json: %w", err)
	}
	var e Engine
	if err := yaml.Unmarshal(data, &e); err != nil {
		return Engine{}, fmt.Errorf("parse json: %w", err)
	}
	return finish(e)
}

func finish(e Engine) (Engine, error) {
	e = e.Defaults()
	if err := e.Validate(); err != nil {
		return Engine{}, err
	}
	return e, nil
}
