package llm

// toolSpec is the provider-neutral view of one tool definition in the
// function-calling format the tool registry produces:
//
//	{"type": "function", "function": {"name": ..., "description": ..., "parameters": {...}}}
type toolSpec struct {
	Name        string
	Description string
	Properties  map[string]any
	Required    []string
}

// parseToolSpecs decodes tool definitions, skipping any without a name.
func parseToolSpecs(tools []map[string]any) []toolSpec {
	specs := make([]toolSpec, 0, len(tools))
	for _, t := range tools {
		fn, ok := t["function"].(map[string]any)
		if !ok {
			continue
		}
		name, _ := fn["name"].(string)
		if name == "" {
			continue
		}
		spec := toolSpec{Name: name}
		spec.Description, _ = fn["description"].(string)
		if params, ok := fn["parameters"].(map[string]any); ok {
			spec.Properties, _ = params["properties"].(map[string]any)
			spec.Required = stringList(params["required"])
		}
		if spec.Properties == nil {
			spec.Properties = map[string]any{}
		}
		specs = append(specs, spec)
	}
	return specs
}

func stringList(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
