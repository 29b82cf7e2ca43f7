package profile

import (
	"fmt"
	"math"
	"strings"
)

// Field types for profile values.
const (
	TypeString = "string"
	TypeFloat  = "float"
	TypeInt    = "int"
	TypeEnum   = "enum"
)

// FieldSpec describes one allowed profile field for a model family.
type FieldSpec struct {
	Name    string   `json:"name"`
	Type    string   `json:"type"`
	Min     *float64 `json:"min,omitempty"`
	Max     *float64 `json:"max,omitempty"`
	Choices []string `json:"choices,omitempty"`
}

func fp(v float64) *float64 { return &v }

// commonFields are accepted for every model family.
var commonFields = []FieldSpec{
	{Name: "system_prompt", Type: TypeString},
	{Name: "temperature", Type: TypeFloat, Min: fp(0), Max: fp(2)},
	{Name: "top_p", Type: TypeFloat, Min: fp(0), Max: fp(1)},
	{Name: "top_k", Type: TypeInt, Min: fp(0), Max: fp(1000)},
	{Name: "min_p", Type: TypeFloat, Min: fp(0), Max: fp(1)},
	{Name: "repeat_penalty", Type: TypeFloat, Min: fp(0.5), Max: fp(2)},
	{Name: "max_tokens", Type: TypeInt, Min: fp(1), Max: fp(131072)},
}

// reasoningField is only meaningful for the gpt-oss family, which
// reads a "Reasoning: <level>" directive from the system prompt.
var reasoningField = FieldSpec{
	Name: "reasoning_effort", Type: TypeEnum, Choices: []string{"low", "medium", "high"},
}

// GenerationKeys are the payload fields filled in from a stored
// profile when the caller omits them.
var GenerationKeys = []string{
	"temperature", "top_p", "top_k", "min_p", "repeat_penalty", "max_tokens",
}

// FamilyGPTOSS models accept the reasoning_effort field.
const FamilyGPTOSS = "gpt-oss"

// Family infers the model family from its id.
func Family(modelID string) string {
	id := strings.ToLower(modelID)
	if strings.Contains(id, "gpt-oss") {
		return FamilyGPTOSS
	}
	return "default"
}

// SchemaFor returns the allowed fields for a model.
func SchemaFor(modelID string) []FieldSpec {
	fields := append([]FieldSpec(nil), commonFields...)
	if Family(modelID) == FamilyGPTOSS {
		fields = append(fields, reasoningField)
	}
	return fields
}

// Validate checks field names, types, and ranges against the model's
// schema. Nil values pass: they mean "delete" in a patch and "use the
// backend default" otherwise.
func Validate(modelID string, values map[string]any) error {
	specs := map[string]FieldSpec{}
	for _, f := range SchemaFor(modelID) {
		specs[f.Name] = f
	}
	for key, value := range values {
		spec, ok := specs[key]
		if !ok {
			return fmt.Errorf("unknown profile field %q for model %s", key, modelID)
		}
		if value == nil {
			continue
		}
		if err := checkValue(spec, value); err != nil {
			return err
		}
	}
	return nil
}

func checkValue(spec FieldSpec, value any) error {
	switch spec.Type {
	case TypeString:
		if _, ok := value.(string); !ok {
			return fmt.Errorf("field %q must be a string", spec.Name)
		}
	case TypeFloat, TypeInt:
		n, ok := toFloat(value)
		if !ok {
			return fmt.Errorf("field %q must be a number", spec.Name)
		}
		if spec.Type == TypeInt && n != math.Trunc(n) {
			return fmt.Errorf("field %q must be an integer", spec.Name)
		}
		if spec.Min != nil && n < *spec.Min {
			return fmt.Errorf("field %q below minimum %v", spec.Name, *spec.Min)
		}
		if spec.Max != nil && n > *spec.Max {
			return fmt.Errorf("field %q above maximum %v", spec.Name, *spec.Max)
		}
	case TypeEnum:
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("field %q must be a string", spec.Name)
		}
		for _, c := range spec.Choices {
			if s == c {
				return nil
			}
		}
		return fmt.Errorf("field %q must be one of %v", spec.Name, spec.Choices)
	}
	return nil
}

func toFloat(value any) (float64, bool) {
	switch n := value.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
