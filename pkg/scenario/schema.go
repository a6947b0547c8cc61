// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Probekit Contributors

package scenario

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
	"github.com/samber/oops"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

// schemaCache holds the compiled schema to avoid recompilation.
var schemaCache *jschema.Schema

// SchemaID is the schema $id referenced from scenario YAML files.
const SchemaID = "https://probekit.dev/schemas/scenario.schema.json"

// GenerateSchema generates a JSON Schema from the Scenario struct.
// Editors can use it to validate and complete scenario files.
func GenerateSchema() ([]byte, error) {
	r := jsonschema.Reflector{
		DoNotReference: true,
	}
	schema := r.Reflect(&Scenario{})

	schema.ID = jsonschema.ID(SchemaID)
	schema.Title = "Probekit Scenario"
	schema.Description = "Schema for scenario YAML files"

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, oops.Code("SCENARIO_SCHEMA_FAILED").Wrapf(err, "marshal schema")
	}
	return data, nil
}

// CheckSchema validates raw scenario YAML against the generated schema.
// This catches structural mistakes (wrong key names, wrong types) that
// the looser koanf unmarshal would silently drop.
func CheckSchema(data []byte) error {
	if len(data) == 0 {
		return oops.Code("SCENARIO_SCHEMA_FAILED").Errorf("scenario data is empty")
	}

	var yamlData any
	if err := yaml.Unmarshal(data, &yamlData); err != nil {
		return oops.Code("SCENARIO_PARSE_FAILED").Wrapf(err, "invalid YAML")
	}

	// yaml.Unmarshal already yields map[string]any, but nested values
	// still need normalizing to JSON-compatible types.
	jsonData := convertToJSONTypes(yamlData)

	sch, err := compiledSchema()
	if err != nil {
		return err
	}

	if err := sch.Validate(jsonData); err != nil {
		return oops.Code("SCENARIO_SCHEMA_FAILED").Wrapf(err, "schema validation failed")
	}
	return nil
}

// compiledSchema returns the cached compiled schema or compiles it.
func compiledSchema() (*jschema.Schema, error) {
	if schemaCache != nil {
		return schemaCache, nil
	}

	schemaBytes, err := GenerateSchema()
	if err != nil {
		return nil, err
	}

	var schemaData any
	if err := json.Unmarshal(schemaBytes, &schemaData); err != nil {
		return nil, oops.Code("SCENARIO_SCHEMA_FAILED").Wrapf(err, "parse schema JSON")
	}

	c := jschema.NewCompiler()
	if err := c.AddResource("scenario.schema.json", schemaData); err != nil {
		return nil, oops.Code("SCENARIO_SCHEMA_FAILED").Wrapf(err, "add schema resource")
	}

	sch, err := c.Compile("scenario.schema.json")
	if err != nil {
		return nil, oops.Code("SCENARIO_SCHEMA_FAILED").Wrapf(err, "compile schema")
	}

	schemaCache = sch
	return sch, nil
}

// convertToJSONTypes converts YAML-parsed data to JSON-compatible types.
func convertToJSONTypes(v any) any {
	switch val := v.(type) {
	case map[string]any:
		result := make(map[string]any, len(val))
		for k, v := range val {
			result[k] = convertToJSONTypes(v)
		}
		return result
	case []any:
		result := make([]any, len(val))
		for i, v := range val {
			result[i] = convertToJSONTypes(v)
		}
		return result
	case int:
		// The validator only understands JSON number types.
		return float64(val)
	case int64:
		return float64(val)
	case string, float64, bool, nil:
		return val
	default:
		// For other types, try to convert via JSON round-trip
		if b, err := json.Marshal(val); err == nil {
			var result any
			if err := json.Unmarshal(b, &result); err == nil {
				return result
			}
		}
		return val
	}
}
