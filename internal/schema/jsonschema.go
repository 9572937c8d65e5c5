package schema

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	"github.com/roach88/restcore/internal/apierr"
	"github.com/roach88/restcore/internal/ir"
)

const jsonSchemaDraft = "http://json-schema.org/draft-07/schema#"

func taggedObject(tag string, props map[string]any, required ...string) map[string]any {
	properties := map[string]any{"__type": map[string]any{"const": tag}}
	for k, v := range props {
		properties[k] = v
	}
	req := []any{"__type"}
	for _, r := range required {
		req = append(req, r)
	}
	return map[string]any{
		"type":       "object",
		"required":   req,
		"properties": properties,
	}
}

// PropertySchema returns the JSON Schema fragment accepted by a field.
func PropertySchema(f Field) map[string]any {
	str := map[string]any{"type": "string"}
	num := map[string]any{"type": "number"}
	switch f.Type {
	case TypeString:
		return str
	case TypeNumber:
		return num
	case TypeBoolean:
		return map[string]any{"type": "boolean"}
	case TypeArray:
		return map[string]any{"type": "array"}
	case TypeObject, TypeACL, TypeRelation:
		return map[string]any{"type": "object"}
	case TypeDate:
		return taggedObject("Date", map[string]any{"iso": str}, "iso")
	case TypeFile:
		return taggedObject("File", map[string]any{"name": str, "url": str}, "name")
	case TypeGeoPoint:
		return taggedObject("GeoPoint", map[string]any{"latitude": num, "longitude": num}, "latitude", "longitude")
	case TypePointer:
		className := map[string]any{"type": "string"}
		if f.TargetClass != "" {
			className = map[string]any{"const": f.TargetClass}
		}
		return taggedObject("Pointer", map[string]any{"className": className, "objectId": str}, "className", "objectId")
	default:
		return map[string]any{}
	}
}

// JSONSchema returns a draft-07 JSON Schema describing stored rows of c.
// Required fields are not listed: they are enforced on create by the write
// pipeline, while the schema also validates partial update patches.
func (c *Class) JSONSchema() map[string]any {
	props := make(map[string]any, len(c.Fields))
	for name, f := range c.Fields {
		props[name] = PropertySchema(f)
	}
	return map[string]any{
		"$schema":    jsonSchemaDraft,
		"title":      c.Name,
		"type":       "object",
		"properties": props,
	}
}

// Validate checks the plain values of obj against the field types of c.
// Update operations are checked for compatibility with the target field;
// unknown, internal and null fields are ignored.
func (c *Class) Validate(obj ir.Object) error {
	doc := make(map[string]any)
	for key, value := range obj {
		if value == nil || IsInternalField(key) {
			continue
		}
		root := ir.RootField(key)
		f, known := c.Fields[root]
		if !known {
			continue
		}
		if root != key {
			if f.Type != TypeObject {
				return apierr.New(apierr.IncorrectType, "schema mismatch for %s.%s; %s is not an Object", c.Name, key, root)
			}
			continue
		}
		if op := ir.OpName(value); op != "" {
			if err := c.checkOp(key, f, value); err != nil {
				return err
			}
			continue
		}
		doc[key] = value
	}
	if len(doc) == 0 {
		return nil
	}

	normalized, err := ir.Normalize(doc)
	if err != nil {
		return apierr.Wrap(apierr.InvalidJSON, err, "invalid value: %v", err)
	}
	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(c.JSONSchema()),
		gojsonschema.NewGoLoader(normalized),
	)
	if err != nil {
		return apierr.Wrap(apierr.InternalServerError, err, "schema validation failed: %v", err)
	}
	if result.Valid() {
		return nil
	}

	first := result.Errors()[0]
	field := ir.RootField(first.Field())
	expected := c.Fields[field]
	got, _ := InferField(doc[field])
	return &apierr.Error{
		Code:    apierr.IncorrectType,
		Message: fmt.Sprintf("schema mismatch for %s.%s; expected %s but got %s", c.Name, field, describe(expected), describe(got)),
		Field:   field,
	}
}

func (c *Class) checkOp(key string, f Field, value any) error {
	inferred, ok := InferField(value)
	if !ok {
		return nil
	}
	if inferred.Type != f.Type {
		return &apierr.Error{
			Code:    apierr.IncorrectType,
			Message: fmt.Sprintf("schema mismatch for %s.%s; expected %s but got %s", c.Name, key, describe(f), ir.OpName(value)),
			Field:   key,
		}
	}
	return nil
}
