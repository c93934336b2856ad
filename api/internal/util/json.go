package util

import "sort"

// StrictSchema returns a copy of a JSON schema in the form OpenAI strict
// structured outputs require: each object lists all of its properties as
// required (sorted) and forbids additional ones. Only properties and array
// items are walked. The input is not modified.
func StrictSchema(schema map[string]any) map[string]any {
	out := make(map[string]any, len(schema)+2)
	for k, v := range schema {
		out[k] = v
	}

	if props, ok := schema["properties"].(map[string]any); ok {
		names := make([]string, 0, len(props))
		cp := make(map[string]any, len(props))
		for name, p := range props {
			names = append(names, name)
			if sub, ok := p.(map[string]any); ok {
				p = StrictSchema(sub)
			}
			cp[name] = p
		}
		sort.Strings(names)
		req := make([]any, len(names))
		for i, n := range names {
			req[i] = n
		}
		out["type"] = "object"
		out["properties"] = cp
		out["required"] = req
		out["additionalProperties"] = false
	}
	if items, ok := schema["items"].(map[string]any); ok {
		out["items"] = StrictSchema(items)
	}
	return out
}
