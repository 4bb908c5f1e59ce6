package notion

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// blockWriteSchema constrains the wire form of an outgoing block: a kind tag
// plus kind payloads that must not carry server-assigned field names. A
// violation means a sanitizer bug, caught here before the API sees it.
const blockWriteSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["type"],
  "properties": {
    "object": {"const": "block"},
    "type": {"type": "string", "minLength": 1}
  },
  "additionalProperties": {
    "type": "object",
    "propertyNames": {
      "not": {
        "enum": [
          "id",
          "created_time",
          "last_edited_time",
          "created_by",
          "last_edited_by",
          "has_children",
          "archived",
          "parent"
        ]
      }
    }
  }
}`

var (
	blockSchemaOnce sync.Once
	blockSchema     *jsonschema.Schema
	blockSchemaErr  error
)

func compiledBlockSchema() (*jsonschema.Schema, error) {
	blockSchemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader([]byte(blockWriteSchema)))
		if err != nil {
			blockSchemaErr = err
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("block-write.json", doc); err != nil {
			blockSchemaErr = err
			return
		}
		blockSchema, blockSchemaErr = compiler.Compile("block-write.json")
	})
	return blockSchema, blockSchemaErr
}

// ValidateWrite checks a sanitized block against the write schema.
func ValidateWrite(block CleanBlock) error {
	schema, err := compiledBlockSchema()
	if err != nil {
		return fmt.Errorf("compile block write schema: %w", err)
	}
	data, err := json.Marshal(block)
	if err != nil {
		return err
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return err
	}
	if err := schema.Validate(instance); err != nil {
		return fmt.Errorf("block %s rejected by write schema: %w", block.Type, err)
	}
	return nil
}
