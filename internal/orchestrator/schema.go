package orchestrator

import (
	"encoding/json"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const delegationSchemaJSON = `{
	"type": "object",
	"properties": {
		"task_description": {"type": "string"},
		"context": {"type": "string"}
	},
	"required": ["task_description"],
	"additionalProperties": false
}`

type compiledSchema struct {
	compiled *jsonschema.Schema
	raw      json.RawMessage
}

var delegationSchemaOnce struct {
	sync.Once
	schema compiledSchema
}

// delegationSchema compiles the standard {task_description, context?}
// delegation tool schema once and reuses it for every delegate_to_* tool
// (§6.3). A compile failure here is a programmer error in the literal
// above, so it panics rather than threading an error through New.
func delegationSchema() compiledSchema {
	delegationSchemaOnce.Do(func() {
		s, err := jsonschema.CompileString("delegate_to.json", delegationSchemaJSON)
		if err != nil {
			panic("orchestrator: invalid delegation schema: " + err.Error())
		}
		delegationSchemaOnce.schema = compiledSchema{compiled: s, raw: json.RawMessage(delegationSchemaJSON)}
	})
	return delegationSchemaOnce.schema
}
