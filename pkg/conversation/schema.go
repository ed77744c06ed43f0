package conversation

import (
	"encoding/json"

	"github.com/xeipuuv/gojsonschema"
)

// AppendRequestSchema is the JSON Schema for inbound append payloads
const AppendRequestSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["sessionId", "type", "content"],
  "properties": {
    "sessionId": {
      "type": "string",
      "minLength": 1,
      "maxLength": 128,
      "description": "Opaque session key"
    },
    "type": {
      "type": "string",
      "enum": ["user", "agent", "system"],
      "description": "Entry author"
    },
    "content": {
      "type": "string",
      "description": "Entry text"
    },
    "timestamp": {
      "type": "string",
      "format": "date-time",
      "description": "Client-supplied creation time"
    },
    "step": {
      "type": "string",
      "description": "Interview step the entry belongs to"
    },
    "artifact": {
      "type": "string",
      "description": "Deliverable artifact the entry belongs to"
    },
    "metadata": {
      "type": "object",
      "description": "Opaque key-value metadata"
    }
  },
  "additionalProperties": false
}`

var appendSchemaLoader = gojsonschema.NewStringLoader(AppendRequestSchema)

// ParseAppendRequest validates a raw append payload against the schema and
// decodes it. Schema violations come back as a ValidationError so the HTTP
// layer can surface field-level detail as a client error.
func ParseAppendRequest(data []byte) (*AppendRequest, error) {
	documentLoader := gojsonschema.NewBytesLoader(data)
	result, err := gojsonschema.Validate(appendSchemaLoader, documentLoader)
	if err != nil {
		return nil, NewValidationError("", "request body is not valid JSON")
	}

	if !result.Valid() {
		first := result.Errors()[0]
		return nil, NewValidationError(first.Field(), first.Description())
	}

	var req AppendRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, NewValidationError("", "request body is not valid JSON")
	}

	return &req, nil
}
