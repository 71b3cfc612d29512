// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WSRelay Contributors

package trigger

import (
	"bytes"
	"encoding/json"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/samber/oops"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// SchemaID is the $id of the trigger request schema.
const SchemaID = "https://wsrelay.dev/schemas/trigger-request.schema.json"

// Request is the body of POST /apps/{appId}/events.
type Request struct {
	Name     string   `json:"name" jsonschema:"minLength=1,maxLength=200"`
	Channels []string `json:"channels,omitempty" jsonschema:"maxItems=100"`
	Channel  string   `json:"channel,omitempty" jsonschema:"minLength=1,maxLength=200"`
	Data     Payload  `json:"data"`
	SocketID string   `json:"socket_id,omitempty" jsonschema:"pattern=^[0-9]+\\.[0-9]+$"`
}

// Payload is event data, delivered to subscribers as received.
type Payload json.RawMessage

// MarshalJSON implements json.Marshaler.
func (p Payload) MarshalJSON() ([]byte, error) {
	if p == nil {
		return []byte("null"), nil
	}
	return p, nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *Payload) UnmarshalJSON(data []byte) error {
	*p = append((*p)[:0], data...)
	return nil
}

// JSONSchema accepts any JSON value.
func (Payload) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{}
}

// GenerateSchema reflects the JSON schema for Request.
func GenerateSchema() ([]byte, error) {
	r := jsonschema.Reflector{
		DoNotReference:            true,
		AllowAdditionalProperties: true,
	}
	schema := r.Reflect(&Request{})
	schema.ID = SchemaID
	schema.Title = "WSRelay Trigger Request"
	schema.Description = "Body of the event trigger HTTP API"

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, oops.Code("SCHEMA_GENERATION_FAILED").Wrap(err)
	}
	return data, nil
}

var compiledSchema = sync.OnceValues(func() (*jschema.Schema, error) {
	raw, err := GenerateSchema()
	if err != nil {
		return nil, err
	}
	doc, err := jschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, oops.Code("SCHEMA_GENERATION_FAILED").Wrap(err)
	}

	c := jschema.NewCompiler()
	if err := c.AddResource("trigger.json", doc); err != nil {
		return nil, oops.Code("SCHEMA_GENERATION_FAILED").Wrap(err)
	}
	sch, err := c.Compile("trigger.json")
	if err != nil {
		return nil, oops.Code("SCHEMA_GENERATION_FAILED").Wrap(err)
	}
	return sch, nil
})

// ParseRequest validates body against the request schema and decodes it. A
// single channel is folded into Channels.
func ParseRequest(body []byte) (*Request, error) {
	sch, err := compiledSchema()
	if err != nil {
		return nil, err
	}

	doc, err := jschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return nil, oops.Code("INVALID_REQUEST").Wrapf(err, "body is not valid JSON")
	}
	if err := sch.Validate(doc); err != nil {
		return nil, oops.Code("INVALID_REQUEST").Wrapf(err, "body does not match schema")
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, oops.Code("INVALID_REQUEST").Wrapf(err, "decode body")
	}
	if req.Channel != "" {
		req.Channels = append(req.Channels, req.Channel)
		req.Channel = ""
	}
	if len(req.Channels) == 0 {
		return nil, oops.Code("INVALID_REQUEST").Errorf("channels is required")
	}
	return &req, nil
}
