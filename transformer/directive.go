package transformer

import (
	"fmt"
	"maps"
	"sort"

	"github.com/go-viper/mapstructure/v2"
	"github.com/vektah/gqlparser/v2/ast"
)

// DirectiveWrapper reads the arguments of one directive instance, checked
// against the directive's declared definition.
type DirectiveWrapper struct {
	directive  *ast.Directive
	definition *ast.DirectiveDefinition
	types      map[string]*ast.Definition
	typeName   string
	fieldName  string
	deepMerge  bool
}

// NewDirectiveWrapper wraps dir, used on typeName (and fieldName when the
// directive sits on a field). types resolves enum and input object
// argument types; it may be nil.
func NewDirectiveWrapper(dir *ast.Directive, def *ast.DirectiveDefinition, types map[string]*ast.Definition, typeName, fieldName string) *DirectiveWrapper {
	return &DirectiveWrapper{
		directive:  dir,
		definition: def,
		types:      types,
		typeName:   typeName,
		fieldName:  fieldName,
	}
}

// Name returns the directive name.
func (w *DirectiveWrapper) Name() string { return w.directive.Name }

// Has reports whether the argument was supplied explicitly.
func (w *DirectiveWrapper) Has(name string) bool {
	return w.directive.Arguments.ForName(name) != nil
}

func (w *DirectiveWrapper) errorf(format string, args ...any) *InvalidDirectiveError {
	return NewInvalidDirectiveError(w.directive.Name, w.typeName, w.fieldName, fmt.Sprintf(format, args...))
}

// GetArguments returns the directive arguments as plain Go values. Values
// come, by increasing precedence, from the definition defaults, the
// defaults map and the arguments written in the document. With deep merge
// enabled, object values are merged key by key instead of replaced.
func (w *DirectiveWrapper) GetArguments(defaults map[string]any) (map[string]any, error) {
	if w.definition == nil {
		return nil, w.errorf("directive is not defined")
	}
	args := make(map[string]any)
	for _, def := range w.definition.Arguments {
		if def.DefaultValue == nil {
			continue
		}
		v, err := def.DefaultValue.Value(nil)
		if err != nil {
			return nil, w.errorf("invalid default for argument %q: %v", def.Name, err)
		}
		args[def.Name] = v
	}
	for k, v := range defaults {
		args[k] = w.merge(args[k], v)
	}
	for _, arg := range w.directive.Arguments {
		def := w.definition.Arguments.ForName(arg.Name)
		if def == nil {
			return nil, w.errorf("unknown argument %q", arg.Name)
		}
		if err := w.check(arg.Name, arg.Value, def.Type); err != nil {
			return nil, err
		}
		v, err := arg.Value.Value(nil)
		if err != nil {
			return nil, w.errorf("argument %q: %v", arg.Name, err)
		}
		args[arg.Name] = w.merge(args[arg.Name], v)
	}
	for _, def := range w.definition.Arguments {
		if !def.Type.NonNull {
			continue
		}
		if v, ok := args[def.Name]; !ok || v == nil {
			return nil, w.errorf("missing required argument %q", def.Name)
		}
	}
	return args, nil
}

// Arguments decodes the directive arguments into out, a pointer to a
// configuration struct tagged with mapstructure names.
func (w *DirectiveWrapper) Arguments(out any, defaults map[string]any) error {
	args, err := w.GetArguments(defaults)
	if err != nil {
		return err
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      out,
		ErrorUnused: false,
		ZeroFields:  false,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(args); err != nil {
		return w.errorf("decode arguments: %v", err)
	}
	return nil
}

func (w *DirectiveWrapper) merge(base, override any) any {
	if !w.deepMerge {
		return override
	}
	b, ok1 := base.(map[string]any)
	o, ok2 := override.(map[string]any)
	if !ok1 || !ok2 {
		return override
	}
	merged := maps.Clone(b)
	for _, k := range sortedKeys(o) {
		merged[k] = w.merge(merged[k], o[k])
	}
	return merged
}

// check verifies that v can be coerced to t.
func (w *DirectiveWrapper) check(name string, v *ast.Value, t *ast.Type) error {
	if v.Kind == ast.NullValue {
		if t.NonNull {
			return w.errorf("argument %q cannot be null", name)
		}
		return nil
	}
	if v.Kind == ast.Variable {
		return w.errorf("argument %q cannot be a variable", name)
	}
	if t.Elem != nil {
		if v.Kind != ast.ListValue {
			return w.check(name, v, t.Elem)
		}
		for _, child := range v.Children {
			if err := w.check(name, child.Value, t.Elem); err != nil {
				return err
			}
		}
		return nil
	}
	mismatch := func() error {
		return w.errorf("argument %q expects %s", name, t.String())
	}
	switch t.NamedType {
	case "String":
		if v.Kind != ast.StringValue && v.Kind != ast.BlockValue {
			return mismatch()
		}
	case "ID":
		if v.Kind != ast.StringValue && v.Kind != ast.BlockValue && v.Kind != ast.IntValue {
			return mismatch()
		}
	case "Int":
		if v.Kind != ast.IntValue {
			return mismatch()
		}
	case "Float":
		if v.Kind != ast.IntValue && v.Kind != ast.FloatValue {
			return mismatch()
		}
	case "Boolean":
		if v.Kind != ast.BooleanValue {
			return mismatch()
		}
	default:
		def := w.types[t.NamedType]
		if def == nil {
			return nil
		}
		switch def.Kind {
		case ast.Enum:
			if v.Kind != ast.EnumValue || def.EnumValues.ForName(v.Raw) == nil {
				return mismatch()
			}
		case ast.InputObject:
			if v.Kind != ast.ObjectValue {
				return mismatch()
			}
			for _, child := range v.Children {
				f := def.Fields.ForName(child.Name)
				if f == nil {
					return w.errorf("argument %q has unknown field %q", name, child.Name)
				}
				if err := w.check(name+"."+child.Name, child.Value, f.Type); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
