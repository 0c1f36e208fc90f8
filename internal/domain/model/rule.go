package model

import (
	"errors"
	"fmt"
	"strings"
)

const defaultProfileImageURL = "/static/favicon.png"

// Rule decides whether a record must be re-pointed to a new base model.
type Rule struct {
	// From is the deprecated base model. Ignored when MatchAll is set.
	From string
	// To is the replacement base model.
	To string
	// MatchAll re-points every derived model that is not already on To.
	MatchAll bool
	// FillRequired adds id, name, meta and params when the record lacks them,
	// since the update endpoint rejects payloads without those fields.
	FillRequired bool
}

// NewRule validates and returns a Rule.
func NewRule(from, to string, matchAll, fillRequired bool) (Rule, error) {
	rule := Rule{
		From:         strings.TrimSpace(from),
		To:           strings.TrimSpace(to),
		MatchAll:     matchAll,
		FillRequired: fillRequired,
	}
	if rule.To == "" {
		return Rule{}, errors.New("replacement base model is required")
	}
	if !rule.MatchAll && rule.From == "" {
		return Rule{}, errors.New("deprecated base model is required unless matching all models")
	}
	if !rule.MatchAll && rule.From == rule.To {
		return Rule{}, fmt.Errorf("deprecated and replacement base model are both %q", rule.To)
	}
	return rule, nil
}

// Matches reports whether the base model reference falls under the rule.
func (r Rule) Matches(ref string) bool {
	if ref == "" || ref == r.To {
		return false
	}
	if r.MatchAll {
		return true
	}
	return ref == r.From
}

// Decide returns a plan for rec, or false when rec must be left alone.
// It never mutates rec.
func (r Rule) Decide(rec Record) (*UpdatePlan, bool) {
	current, ok := rec.BaseModelID()
	if !ok || !r.Matches(current) {
		return nil, false
	}

	payload := make(map[string]any, len(rec.Payload)+3)
	for k, v := range rec.Payload {
		payload[k] = v
	}
	payload[FieldBaseModelID] = r.To

	if r.FillRequired {
		r.fillRequired(rec, payload)
	}

	return &UpdatePlan{
		ID:      rec.ID,
		Name:    rec.DisplayName(),
		From:    current,
		To:      r.To,
		Payload: payload,
	}, true
}

func (r Rule) fillRequired(rec Record, payload map[string]any) {
	if _, ok := payload[FieldID]; !ok && rec.ID != "" {
		payload[FieldID] = rec.ID
	}
	if _, ok := payload[FieldName]; !ok {
		payload[FieldName] = rec.DisplayName()
	}
	if meta, ok := payload[FieldMeta]; !ok || meta == nil {
		payload[FieldMeta] = map[string]any{
			"profile_image_url": defaultProfileImageURL,
			"description":       fmt.Sprintf("%s using %s", rec.DisplayName(), r.To),
			"capabilities":      map[string]any{},
		}
	}
	if params, ok := payload[FieldParams]; !ok || params == nil {
		payload[FieldParams] = map[string]any{}
	}
}
