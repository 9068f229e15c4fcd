package catalog

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// catalogSchema validates the shape of a catalog document before any
// definition is registered. Cross-references (prerequisites pointing at
// real ids) are checked separately after decoding.
var catalogSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"tracks": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id":   map[string]any{"type": "string", "minLength": 1},
					"name": map[string]any{"type": "string", "minLength": 1},
				},
				"required":             []any{"id", "name"},
				"additionalProperties": false,
			},
		},
		"quests": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id":       map[string]any{"type": "string", "minLength": 1},
					"name":     map[string]any{"type": "string", "minLength": 1},
					"track":    map[string]any{"type": "string"},
					"moduleId": map[string]any{"type": "string"},
					"type": map[string]any{
						"type": "string",
						"enum": []any{"video", "quiz", "project", "challenge"},
					},
					"xp":            map[string]any{"type": "integer", "minimum": 0},
					"prerequisites": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					"content":       map[string]any{},
					"estimatedMin":  map[string]any{"type": "integer", "minimum": 0},
				},
				"required":             []any{"id", "name", "type", "xp"},
				"additionalProperties": false,
			},
		},
		"modules": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id":    map[string]any{"type": "string", "minLength": 1},
					"name":  map[string]any{"type": "string", "minLength": 1},
					"track": map[string]any{"type": "string"},
					"lessons": map[string]any{
						"type":     "array",
						"minItems": 1,
						"items": map[string]any{
							"type": "object",
							"properties": map[string]any{
								"id":    map[string]any{"type": "string", "minLength": 1},
								"title": map[string]any{"type": "string"},
								"type": map[string]any{
									"type": "string",
									"enum": []any{"video", "quiz", "article", "project", "challenge"},
								},
								"xp":          map[string]any{"type": "integer", "minimum": 0},
								"durationMin": map[string]any{"type": "integer", "minimum": 0},
							},
							"required":             []any{"id", "type", "xp"},
							"additionalProperties": false,
						},
					},
					"prerequisites":   map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					"completionBonus": map[string]any{"type": "integer", "minimum": 0},
				},
				"required":             []any{"id", "name", "lessons"},
				"additionalProperties": false,
			},
		},
	},
	"required":             []any{"quests", "modules"},
	"additionalProperties": false,
}

var (
	compileOnce    sync.Once
	compiledSchema *jsonschema.Schema
	compileErr     error
)

// compiled returns the compiled catalog schema, compiling it once.
func compiled() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		defBytes, err := json.Marshal(catalogSchema)
		if err != nil {
			compileErr = fmt.Errorf("marshal catalog schema: %w", err)
			return
		}
		var defParsed any
		if err := json.Unmarshal(defBytes, &defParsed); err != nil {
			compileErr = fmt.Errorf("parse catalog schema: %w", err)
			return
		}

		c := jsonschema.NewCompiler()
		const schemaURL = "schema://catalog.json"
		if err := c.AddResource(schemaURL, defParsed); err != nil {
			compileErr = fmt.Errorf("add resource: %w", err)
			return
		}
		compiledSchema, compileErr = c.Compile(schemaURL)
	})
	return compiledSchema, compileErr
}

// validateDocument checks raw catalog JSON against the schema.
func validateDocument(raw []byte) error {
	schema, err := compiled()
	if err != nil {
		return err
	}
	var parsed any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return fmt.Errorf("invalid catalog JSON: %w", err)
	}
	if err := schema.Validate(parsed); err != nil {
		return fmt.Errorf("catalog schema validation failed: %w", err)
	}
	return nil
}
