package model

import "goa.design/agentcore/runtime/capability"

// toolName converts a raw provider tool name into a capability identifier.
func toolName(s string) capability.ID {
	return capability.ID(s)
}

// DefinitionsFromCapabilities exports a capability catalog slice as provider
// tool definitions. Each definition carries a JSON-Schema-shaped input schema
// ({"type": "object", "properties": ..., "required": ...}); capabilities
// without a parameter schema get an empty object schema so providers always
// receive a well-formed shape.
func DefinitionsFromCapabilities(metas []capability.Metadata) []*ToolDefinition {
	if len(metas) == 0 {
		return nil
	}
	defs := make([]*ToolDefinition, 0, len(metas))
	for _, m := range metas {
		schema := m.ParameterSchema
		if schema == nil {
			schema = map[string]any{
				"type":       "object",
				"properties": map[string]any{},
				"required":   []string{},
			}
		}
		defs = append(defs, &ToolDefinition{
			Name:        m.ID,
			Description: m.Description,
			InputSchema: schema,
		})
	}
	return defs
}
