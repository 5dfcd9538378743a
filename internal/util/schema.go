package util

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// SchemaFor derives a JSON schema (draft 2020-12 subset) from a Go struct.
// Field names follow json tags; fields without omitempty that are not
// pointers are required. A `description` tag sets the property description
// and an `enum` tag (comma separated) restricts string values.
func SchemaFor(v any) map[string]any {
	return schemaForType(reflect.TypeOf(v))
}

func schemaForType(t reflect.Type) map[string]any {
	if t == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}

	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	switch t.Kind() {
	case reflect.Struct:
		return structSchema(t)
	case reflect.Slice, reflect.Array:
		if t.Elem().Kind() == reflect.Uint8 {
			return map[string]any{"type": "string", "contentEncoding": "base64"}
		}

		return map[string]any{"type": "array", "items": schemaForType(t.Elem())}
	case reflect.Map:
		return map[string]any{"type": "object", "additionalProperties": schemaForType(t.Elem())}
	case reflect.String:
		return map[string]any{"type": "string"}
	case reflect.Bool:
		return map[string]any{"type": "boolean"}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return map[string]any{"type": "integer"}
	case reflect.Float32, reflect.Float64:
		return map[string]any{"type": "number"}
	default:
		return map[string]any{}
	}
}

func structSchema(t reflect.Type) map[string]any {
	props := map[string]any{}
	required := []any{}

	for i := range t.NumField() {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}

		name, opts, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			continue
		}

		if name == "" {
			name = f.Name
		}

		prop := schemaForType(f.Type)
		if d := f.Tag.Get("description"); d != "" {
			prop["description"] = d
		}

		if e := f.Tag.Get("enum"); e != "" {
			vals := []any{}
			for _, s := range strings.Split(e, ",") {
				vals = append(vals, strings.TrimSpace(s))
			}

			prop["enum"] = vals
		}

		props[name] = prop

		if !strings.Contains(opts, "omitempty") && f.Type.Kind() != reflect.Pointer {
			required = append(required, name)
		}
	}

	out := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		out["required"] = required
	}

	return out
}

// CompileSchema compiles a schema document for repeated validation.
func CompileSchema(schema map[string]any) (*jsonschema.Schema, error) {
	doc, err := normalizeJSON(schema)
	if err != nil {
		return nil, fmt.Errorf("normalize schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}

	compiled, err := c.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	return compiled, nil
}

// ValidateArgs checks call arguments against a compiled schema. Arguments
// are normalized through JSON so Go native slices and numbers validate the
// same way decoded model output does.
func ValidateArgs(schema *jsonschema.Schema, args map[string]any) error {
	if schema == nil {
		return nil
	}

	if args == nil {
		args = map[string]any{}
	}

	doc, err := normalizeJSON(args)
	if err != nil {
		return fmt.Errorf("normalize arguments: %w", err)
	}

	return schema.Validate(doc)
}

func normalizeJSON(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}
