package protocol

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Inbound messages are schema-validated before they reach the simulation
// host, so malformed client JSON is rejected at the transport edge.

const helloSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["type", "protocol_version", "client_id"],
	"properties": {
		"type": {"const": "HELLO"},
		"protocol_version": {"type": "string"},
		"client_id": {"type": "string", "minLength": 1, "maxLength": 64},
		"observer": {"type": "boolean"}
	},
	"additionalProperties": false
}`

const editSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["type", "edit_id", "op", "pos"],
	"properties": {
		"type": {"const": "EDIT"},
		"edit_id": {"type": "string", "minLength": 1, "maxLength": 64},
		"op": {"enum": ["ADD_VOLUME", "REMOVE_VOLUME", "SET_BLOCK"]},
		"pos": {
			"type": "array",
			"items": {"type": "integer"},
			"minItems": 3,
			"maxItems": 3
		},
		"amount": {"type": "number", "minimum": 0},
		"solid": {"type": "boolean"}
	},
	"additionalProperties": false
}`

var schemas = map[string]*jsonschema.Schema{
	TypeHello: mustCompile("hello.json", helloSchema),
	TypeEdit:  mustCompile("edit.json", editSchema),
}

func mustCompile(name, src string) *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, strings.NewReader(src)); err != nil {
		panic(err)
	}
	s, err := c.Compile(name)
	if err != nil {
		panic(err)
	}
	return s
}

// Validate checks a decoded message body against the schema for its type.
// Types without a schema (server-to-client messages) pass.
func Validate(msgType string, v any) error {
	s, ok := schemas[msgType]
	if !ok {
		return nil
	}
	if err := s.Validate(v); err != nil {
		return fmt.Errorf("%s: %w", msgType, err)
	}
	return nil
}
