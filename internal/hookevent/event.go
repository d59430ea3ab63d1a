// Package hookevent decodes and classifies lifecycle events delivered by
// agent front-ends. Payloads are validated against a JSON Schema; anything
// that fails validation is absorbed as "no event" rather than surfaced as an
// error, because the coordinator must never fail the session lifecycle.
package hookevent

import (
	"errors"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Event is one lifecycle signal, consumed once per coordinator invocation.
type Event struct {
	HookEventName  string `json:"hook_event_name"`
	TranscriptPath string `json:"transcript_path"`
	SessionID      string `json:"session_id,omitempty"`
	Source         string `json:"source,omitempty"`
	CWD            string `json:"cwd,omitempty"`
}

// ErrInvalidPayload marks payloads the schema rejects. Callers treat it as
// "input absent" and no-op.
var ErrInvalidPayload = errors.New("hookevent: invalid payload")

const eventSchema = `{
	"type": "object",
	"required": ["transcript_path"],
	"properties": {
		"hook_event_name": {"type": "string"},
		"transcript_path": {"type": "string", "minLength": 1},
		"session_id": {"type": "string"},
		"source": {"type": "string"},
		"cwd": {"type": "string"}
	}
}`

var compiledSchema = mustCompile(eventSchema)

func mustCompile(schemaJSON string) *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(schemaJSON))
	if err != nil {
		panic(err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("event.json", doc); err != nil {
		panic(err)
	}
	schema, err := c.Compile("event.json")
	if err != nil {
		panic(err)
	}
	return schema
}

// Decode parses one event payload. The payload must be a JSON object with a
// non-empty transcript_path; all other fields are optional. Unknown fields
// are ignored: front-ends attach extra metadata freely.
func Decode(payload []byte) (Event, error) {
	// jsonschema.UnmarshalJSON is required for json.Number handling.
	parsed, err := jsonschema.UnmarshalJSON(strings.NewReader(string(payload)))
	if err != nil {
		return Event{}, ErrInvalidPayload
	}
	if err := compiledSchema.Validate(parsed); err != nil {
		return Event{}, ErrInvalidPayload
	}

	obj, ok := parsed.(map[string]any)
	if !ok {
		return Event{}, ErrInvalidPayload
	}
	ev := Event{
		HookEventName:  stringField(obj, "hook_event_name"),
		TranscriptPath: stringField(obj, "transcript_path"),
		SessionID:      stringField(obj, "session_id"),
		Source:         stringField(obj, "source"),
		CWD:            stringField(obj, "cwd"),
	}
	if ev.Source == "" {
		ev.Source = "claude"
	}
	return ev, nil
}

func stringField(obj map[string]any, key string) string {
	if v, ok := obj[key].(string); ok {
		return v
	}
	return ""
}
