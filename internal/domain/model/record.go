package model

import (
	"encoding/json"
	"fmt"
)

// Payload keys the updater reads or writes. Everything else is passed through untouched.
const (
	FieldID          = "id"
	FieldName        = "name"
	FieldBaseModelID = "base_model_id"
	FieldMeta        = "meta"
	FieldParams      = "params"
)

// Record is one model entry as returned by the model-management API.
type Record struct {
	ID      string
	Name    string
	Payload map[string]any
}

// BaseModelID returns the base model reference. ok is false when the field is
// missing or not a string (base models themselves carry null).
func (r Record) BaseModelID() (string, bool) {
	if r.Payload == nil {
		return "", false
	}
	ref, ok := r.Payload[FieldBaseModelID].(string)
	return ref, ok
}

// DisplayName falls back to the ID when the record has no name.
func (r Record) DisplayName() string {
	if r.Name != "" {
		return r.Name
	}
	return r.ID
}

// NewRecord builds a Record from a decoded JSON object.
func NewRecord(payload map[string]any) Record {
	rec := Record{Payload: payload}
	switch id := payload[FieldID].(type) {
	case string:
		rec.ID = id
	case float64:
		rec.ID = fmt.Sprintf("%v", id)
	case json.Number:
		rec.ID = id.String()
	}
	if name, ok := payload[FieldName].(string); ok {
		rec.Name = name
	}
	return rec
}

// UnmarshalJSON keeps the full object as the opaque payload.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = NewRecord(raw)
	return nil
}

// MarshalJSON emits the payload as-is.
func (r Record) MarshalJSON() ([]byte, error) {
	if r.Payload == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(r.Payload)
}

// UpdatePlan pairs a record with the payload that should be written back.
type UpdatePlan struct {
	ID      string         `json:"id" yaml:"id"`
	Name    string         `json:"name" yaml:"name"`
	From    string         `json:"from" yaml:"from"`
	To      string         `json:"to" yaml:"to"`
	Payload map[string]any `json:"-" yaml:"-"`
}

func (p UpdatePlan) String() string {
	return fmt.Sprintf("%s (%s): %s -> %s", p.ID, p.Name, p.From, p.To)
}
