package flowgraph

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

//go:embed canvas.schema.json
var canvasSchemaJSON string

var (
	canvasSchema     *gojsonschema.Schema
	canvasSchemaErr  error
	canvasSchemaOnce sync.Once
)

func loadCanvasSchema() (*gojsonschema.Schema, error) {
	canvasSchemaOnce.Do(func() {
		canvasSchema, canvasSchemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(canvasSchemaJSON))
	})
	return canvasSchema, canvasSchemaErr
}

// ParseCanvas decodes a JSON canvas document.
//
// The document is checked against the canvas schema first; shape problems
// are reported as *SchemaError. Missing in/out menus pass the schema and are
// left for ValidateCanvas to report as E-CONFIG.
//
// Example:
//
//	canvas, err := flowgraph.ParseCanvas([]byte(`{
//	    "nodes": [
//	        {"id": "in", "type": "input", "in": [], "out": [{"port": "text", "types": ["UserText"]}]},
//	        {"id": "out", "type": "output", "in": [{"port": "text", "types": ["UserText"]}], "out": []}
//	    ],
//	    "edges": [{"from": ["in", "text"], "to": ["out", "text"]}]
//	}`))
func ParseCanvas(data []byte) (*Canvas, error) {
	if err := checkCanvasSchema(gojsonschema.NewBytesLoader(data)); err != nil {
		return nil, err
	}
	var c Canvas
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode canvas: %w", err)
	}
	return &c, nil
}

// ParseCanvasYAML decodes a YAML canvas document. It accepts the same
// structure as ParseCanvas.
func ParseCanvasYAML(data []byte) (*Canvas, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse canvas yaml: %w", err)
	}
	if doc == nil {
		return nil, &SchemaError{Problems: []string{"document is empty"}}
	}
	if err := checkCanvasSchema(gojsonschema.NewGoLoader(doc)); err != nil {
		return nil, err
	}
	var c Canvas
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode canvas: %w", err)
	}
	return &c, nil
}

// LoadCanvas reads a canvas file. Files ending in .yaml or .yml are parsed
// as YAML, everything else as JSON.
func LoadCanvas(path string) (*Canvas, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read canvas: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseCanvasYAML(data)
	default:
		return ParseCanvas(data)
	}
}

func checkCanvasSchema(doc gojsonschema.JSONLoader) error {
	schema, err := loadCanvasSchema()
	if err != nil {
		return fmt.Errorf("load canvas schema: %w", err)
	}
	result, err := schema.Validate(doc)
	if err != nil {
		// Not parseable as JSON at all.
		return &SchemaError{Problems: []string{err.Error()}}
	}
	if result.Valid() {
		return nil
	}
	problems := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		problems = append(problems, desc.String())
	}
	return &SchemaError{Problems: problems}
}
