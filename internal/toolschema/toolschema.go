// Package toolschema builds registry.ToolSpec parameter schemas by
// reflecting over a plain Go struct, replacing the teacher's ad hoc
// []ToolArgument-to-map[string]any conversion (pkg/agent/domain.ToolManager)
// with a single reflected JSON Schema per tool.
package toolschema

import "github.com/invopop/jsonschema"

// reflector is shared across calls; DoNotReference keeps the schema
// self-contained (no "$defs" indirection), which the LLM providers expect
// for a tool's top-level parameter object.
var reflector = &jsonschema.Reflector{
	DoNotReference:            true,
	ExpandedStruct:            true,
	AllowAdditionalProperties: false,
}

// Schema wraps *jsonschema.Schema so registry.Tool implementations can
// satisfy the registry's optional RequiredFields() duck-typed interface.
type Schema struct {
	*jsonschema.Schema
}

// RequiredFields exposes the schema's required property list.
func (s Schema) RequiredFields() []string {
	if s.Schema == nil {
		return nil
	}
	return s.Required
}

// For reflects argStruct (a pointer to a zero-value struct describing a
// tool's arguments via field names and `json`/`jsonschema` tags) into a
// Schema suitable for registry.ToolSpec.ParameterSchema.
func For(argStruct any) Schema {
	return Schema{Schema: reflector.Reflect(argStruct)}
}
