package schema

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

// classSchemaCUE constrains class definition files. User files are unified
// with it, so typos in field attributes fail with a source position.
const classSchemaCUE = `
#Field: {
	type: "String" | "Number" | "Boolean" | "Date" | "Object" | "Array" | "Pointer" | "Relation" | "File" | "GeoPoint"
	targetClass?: string
	required?:    bool
	defaultValue?: _
}

#Class: {
	fields: [string]: #Field
	unique?: [...string]
}

classes: [string]: #Class
`

// LoadError describes an invalid class definition file.
type LoadError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// LoadFile reads class definitions from a CUE file.
func LoadFile(path string) ([]*Class, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema file: %w", err)
	}
	return Compile(src, path)
}

// Compile parses CUE class definitions. The source must declare a top-level
// "classes" struct:
//
//	classes: Post: {
//		fields: {
//			title:  {type: "String", required: true}
//			author: {type: "Pointer", targetClass: "_User"}
//		}
//		unique: ["slug"]
//	}
//
// Classes are returned sorted by name, each carrying the default fields.
func Compile(src []byte, filename string) ([]*Class, error) {
	ctx := cuecontext.New()
	base := ctx.CompileString(classSchemaCUE, cue.Filename("classes.schema.cue"))
	if err := base.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	user := ctx.CompileBytes(src, cue.Filename(filename))
	if err := user.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	v := base.Unify(user)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	classesVal := v.LookupPath(cue.ParsePath("classes"))
	iter, err := classesVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var classes []*Class
	for iter.Next() {
		c, err := compileClass(iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		classes = append(classes, c)
	}
	sort.Slice(classes, func(i, j int) bool { return classes[i].Name < classes[j].Name })
	return classes, nil
}

func compileClass(name string, v cue.Value) (*Class, error) {
	if !IsValidClassName(name) {
		return nil, &LoadError{Field: "classes." + name, Message: "invalid class name", Pos: v.Pos()}
	}

	fields := make(map[string]Field)
	iter, err := v.LookupPath(cue.ParsePath("fields")).Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		fieldName := iter.Label()
		if !IsValidFieldName(fieldName) {
			return nil, &LoadError{
				Field:   fmt.Sprintf("classes.%s.fields.%s", name, fieldName),
				Message: "invalid field name",
				Pos:     iter.Value().Pos(),
			}
		}
		f, err := compileField(iter.Value())
		if err != nil {
			return nil, err
		}
		fields[fieldName] = f
	}

	var unique []string
	if uv := v.LookupPath(cue.ParsePath("unique")); uv.Exists() {
		if err := uv.Decode(&unique); err != nil {
			return nil, formatCUEError(err)
		}
		for _, u := range unique {
			if _, ok := fields[u]; !ok {
				return nil, &LoadError{
					Field:   fmt.Sprintf("classes.%s.unique", name),
					Message: fmt.Sprintf("unique field %q is not declared", u),
					Pos:     uv.Pos(),
				}
			}
		}
	}

	c := NewClass(name, fields, unique...)
	if sys, ok := systemClasses[name]; ok {
		merged := sys.Clone()
		for k, f := range fields {
			merged.Fields[k] = f
		}
		for _, u := range unique {
			if !merged.IsUnique(u) {
				merged.Unique = append(merged.Unique, u)
			}
		}
		c = merged
	}
	return c, nil
}

func compileField(v cue.Value) (Field, error) {
	var f Field
	typ, err := v.LookupPath(cue.ParsePath("type")).String()
	if err != nil {
		return f, formatCUEError(err)
	}
	f.Type = FieldType(typ)

	if tv := v.LookupPath(cue.ParsePath("targetClass")); tv.Exists() {
		if f.TargetClass, err = tv.String(); err != nil {
			return f, formatCUEError(err)
		}
	}
	if rv := v.LookupPath(cue.ParsePath("required")); rv.Exists() {
		if f.Required, err = rv.Bool(); err != nil {
			return f, formatCUEError(err)
		}
	}
	if dv := v.LookupPath(cue.ParsePath("defaultValue")); dv.Exists() {
		raw, err := dv.MarshalJSON()
		if err != nil {
			return f, formatCUEError(err)
		}
		if err := json.Unmarshal(raw, &f.DefaultValue); err != nil {
			return f, fmt.Errorf("decode defaultValue: %w", err)
		}
	}
	if (f.Type == TypePointer || f.Type == TypeRelation) && f.TargetClass == "" {
		return f, &LoadError{Field: "targetClass", Message: "required for " + string(f.Type) + " fields", Pos: v.Pos()}
	}
	return f, nil
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &LoadError{Field: "cue", Message: first.Error(), Pos: positions[0]}
	}
	return err
}
