package issues

import (
	"github.com/invopop/jsonschema"
)

// Schema returns the JSON Schema of a fragment file.
func Schema() *jsonschema.Schema {
	r := &jsonschema.Reflector{
		DoNotReference:            true,
		ExpandedStruct:            true,
		AllowAdditionalProperties: true,
	}
	s := r.Reflect(Fragment{})
	s.Title = "fixdeck issue fragment"
	s.Description = "Analyzer findings grouped by rule. Each issue lists candidate patches relative to the patch directory."
	return s
}
