package snapshot

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/kaptinlin/jsonschema"
)

const documentSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["meta", "assets"],
  "properties": {
    "meta": {
      "type": "object",
      "required": ["timestamp"],
      "properties": {
        "timestamp": {"type": "string", "minLength": 1},
        "tag": {"type": ["string", "null"]},
        "scanner": {"type": ["string", "null"]}
      }
    },
    "assets": {
      "type": "object",
      "additionalProperties": {"$ref": "#/$defs/asset"}
    }
  },
  "$defs": {
    "asset": {
      "type": "object",
      "required": ["host"],
      "properties": {
        "id": {"type": "string"},
        "host": {"type": "string", "minLength": 1},
        "ip": {"type": ["string", "null"]},
        "ports": {"type": "array", "items": {"type": "integer", "minimum": 0, "maximum": 65535}},
        "services": {"type": "array", "items": {"type": "string"}},
        "sources": {"type": "array", "items": {"type": "string"}},
        "first_seen": {"type": "string"},
        "last_seen": {"type": "string"}
      }
    }
  }
}`

var (
	compileOnce    sync.Once
	compiledSchema *jsonschema.Schema
	compileErr     error
)

func loadSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiledSchema, compileErr = compiler.Compile([]byte(documentSchema))
		if compileErr != nil {
			compileErr = fmt.Errorf("compile snapshot schema: %w", compileErr)
		}
	})
	return compiledSchema, compileErr
}

// validateDocument checks raw snapshot bytes against the document schema.
func validateDocument(data []byte) error {
	schema, err := loadSchema()
	if err != nil {
		return err
	}
	var instance any
	if err := json.Unmarshal(data, &instance); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	result := schema.Validate(instance)
	if result.IsValid() {
		return nil
	}
	return fmt.Errorf("schema validation failed: %v", result.Errors)
}
