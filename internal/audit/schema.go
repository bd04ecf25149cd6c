package audit

import (
	"bytes"
	_ "embed"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed export_schema.json
var exportSchemaJSON []byte

const exportSchemaURL = "tandem/validation-export.json"

// compileExportSchema builds the validator for inbound validation exports.
// The schema is embedded so the binary never depends on files at runtime.
func compileExportSchema() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(exportSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("decode embedded export schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(exportSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("register export schema: %w", err)
	}
	schema, err := c.Compile(exportSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile export schema: %w", err)
	}
	return schema, nil
}

// validateExport checks one raw export body against the schema.
func validateExport(schema *jsonschema.Schema, raw []byte) error {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("export is not valid JSON: %w", err)
	}
	if err := schema.Validate(inst); err != nil {
		return fmt.Errorf("export schema violation: %w", err)
	}
	return nil
}
