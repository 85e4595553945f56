package tools

// JSON Schema builders for tool parameter declarations. Kept tiny on purpose:
// the model only needs type, description, enum, and required.

// ObjectSchema builds the parameters object for a tool.
func ObjectSchema(props map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// StringProp declares a string parameter.
func StringProp(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

// EnumProp declares a string parameter restricted to values.
func EnumProp(description string, values ...string) map[string]any {
	return map[string]any{
		"type":        "string",
		"description": description,
		"enum":        values,
	}
}
