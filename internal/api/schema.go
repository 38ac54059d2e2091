package api

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

const executeSchemaJSON = `{
	"type": "object",
	"required": ["code"],
	"additionalProperties": false,
	"properties": {
		"session_id": {"type": "string", "maxLength": 128},
		"code": {"type": "string", "minLength": 1},
		"timeout_ms": {"type": "integer", "minimum": 0}
	}
}`

const createSessionSchemaJSON = `{
	"type": "object",
	"additionalProperties": false,
	"properties": {
		"session_id": {"type": "string", "maxLength": 128}
	}
}`

var (
	executeSchema       = gojsonschema.NewStringLoader(executeSchemaJSON)
	createSessionSchema = gojsonschema.NewStringLoader(createSessionSchemaJSON)
)

// validateBody checks a raw JSON body against a schema and reports the
// first violation.
func validateBody(schema gojsonschema.JSONLoader, body []byte) error {
	result, err := gojsonschema.Validate(schema, gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if !result.Valid() {
		messages := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			messages = append(messages, desc.String())
		}
		return fmt.Errorf("invalid request: %s", strings.Join(messages, "; "))
	}
	return nil
}
