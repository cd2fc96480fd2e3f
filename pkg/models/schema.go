package models

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// JSONSchema represents a JSON Schema document used to validate user supplied configuration.
type JSONSchema struct {
	Type        string               `json:"type"`
	Properties  map[string]*Property `json:"properties,omitempty"`
	Required    []string             `json:"required,omitempty"`
	Items       *Property            `json:"items,omitempty"`
	Title       string               `json:"title,omitempty"`
	Description string               `json:"description,omitempty"`
}

// Property represents a JSON Schema property.
type Property struct {
	Type        any                  `json:"type,omitempty"`
	Description string               `json:"description,omitempty"`
	Enum        []any                `json:"enum,omitempty"`
	MinLength   *int                 `json:"minLength,omitempty"`
	Pattern     string               `json:"pattern,omitempty"`
	Items       *Property            `json:"items,omitempty"`
	Properties  map[string]*Property `json:"properties,omitempty"`
	Required    []string             `json:"required,omitempty"`

	AdditionalProperties any `json:"additionalProperties,omitempty"`
}

func intPtr(v int) *int {
	return &v
}

// FlowSchema describes a flow: an array of steps.
func FlowSchema() *JSONSchema {
	stringMap := &Property{
		Type:                 "object",
		AdditionalProperties: &Property{Type: "string"},
	}

	return &JSONSchema{
		Title:       "Flow",
		Description: "Ordered list of HTTP steps executed for a site",
		Type:        "array",
		Items: &Property{
			Type:     "object",
			Required: []string{"name", "method", "url"},
			Properties: map[string]*Property{
				"name":      {Type: "string", MinLength: intPtr(1)},
				"method":    {Type: "string", Pattern: "^[A-Za-z]+$"},
				"url":       {Type: "string", MinLength: intPtr(1)},
				"headers":   stringMap,
				"condition": {Type: "string"},
				"expect": {
					Type: "object",
					Properties: map[string]*Property{
						"type": {Type: "string"},
						"path": {Type: "string"},
					},
				},
				"extract": {
					Type: "array",
					Items: &Property{
						Type:     "object",
						Required: []string{"var", "path"},
						Properties: map[string]*Property{
							"var":  {Type: "string", Pattern: `^\w+$`},
							"type": {Type: "string"},
							"path": {Type: "string"},
						},
					},
				},
			},
		},
	}
}

// ValidateFlow checks a decoded flow document against FlowSchema.
func ValidateFlow(flow any) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(FlowSchema()),
		gojsonschema.NewGoLoader(flow),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidFlow, err)
	}

	if !result.Valid() {
		messages := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			messages = append(messages, desc.String())
		}

		return fmt.Errorf("%w: %s", ErrInvalidFlow, strings.Join(messages, "; "))
	}

	return nil
}

// Validate runs the flow, schedule and auth checks of a site.
func (s *Site) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidSite)
	}

	flow := s.Flow
	if flow == nil {
		flow = []Step{}
	}

	if err := ValidateFlow(flow); err != nil {
		return err
	}

	if err := s.Schedule.Validate(); err != nil {
		return err
	}

	return s.Auth.Validate()
}
