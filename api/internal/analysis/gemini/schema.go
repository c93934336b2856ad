package gemini

import (
	"fmt"
	"sort"

	"github.com/google/generative-ai-go/genai"
)

// ToSchema converts the JSON-schema subset used by analysis.ResponseSchema
// (type, items, properties, required, description, enum) into a genai.Schema.
func ToSchema(node map[string]any) (*genai.Schema, error) {
	if node == nil {
		return nil, nil
	}
	s := &genai.Schema{}

	t, _ := node["type"].(string)
	switch t {
	case "object":
		s.Type = genai.TypeObject
	case "array":
		s.Type = genai.TypeArray
	case "string":
		s.Type = genai.TypeString
	case "number":
		s.Type = genai.TypeNumber
	case "integer":
		s.Type = genai.TypeInteger
	case "boolean":
		s.Type = genai.TypeBoolean
	default:
		return nil, fmt.Errorf("unsupported schema type %q", t)
	}

	if d, ok := node["description"].(string); ok {
		s.Description = d
	}
	if enum, ok := node["enum"].([]any); ok {
		for _, v := range enum {
			str, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("enum value %v is not a string", v)
			}
			s.Enum = append(s.Enum, str)
		}
	}

	if items, ok := node["items"].(map[string]any); ok {
		it, err := ToSchema(items)
		if err != nil {
			return nil, fmt.Errorf("items: %w", err)
		}
		s.Items = it
	}

	if props, ok := node["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		keys := make([]string, 0, len(props))
		for k := range props {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			pm, ok := props[k].(map[string]any)
			if !ok {
				return nil, fmt.Errorf("property %q is not an object", k)
			}
			ps, err := ToSchema(pm)
			if err != nil {
				return nil, fmt.Errorf("property %q: %w", k, err)
			}
			s.Properties[k] = ps
		}
	}

	if req, ok := node["required"].([]any); ok {
		for _, v := range req {
			if name, ok := v.(string); ok {
				s.Required = append(s.Required, name)
			}
		}
	}
	return s, nil
}
