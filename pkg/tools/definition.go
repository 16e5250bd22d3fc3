package tools

import (
	"context"
	"encoding/json"
	"reflect"
	"regexp"

	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"

	"github.com/go-go-golems/loom/pkg/api"
)

// Tool names are part of the wire protocol and validated before any request
// is sent.
var nameRegexp = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// Definition describes one tool the model may invoke: its name, a
// description the model uses to decide when to call it, the JSON schema of
// its input, and the Go function that executes it.
type Definition struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	InputSchema *jsonschema.Schema `json:"input_schema"`

	fn        reflect.Value
	takesCtx  bool
	inputType reflect.Type
}

// Validate checks the definition before it is offered to the service.
func (d *Definition) Validate() error {
	if !nameRegexp.MatchString(d.Name) {
		return errors.Errorf("invalid tool name %q: must match %s", d.Name, nameRegexp.String())
	}
	if d.InputSchema == nil {
		return errors.Errorf("tool %q has no input schema", d.Name)
	}
	return nil
}

// ToAPI converts the definition to its wire form.
func (d *Definition) ToAPI() (api.Tool, error) {
	schemaBytes, err := json.Marshal(d.InputSchema)
	if err != nil {
		return api.Tool{}, errors.Wrapf(err, "failed to marshal input schema for tool %q", d.Name)
	}
	return api.Tool{
		Name:        d.Name,
		Description: d.Description,
		InputSchema: schemaBytes,
	}, nil
}

var (
	ctxType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errType = reflect.TypeOf((*error)(nil)).Elem()
)

// NewDefinitionFromFunc builds a Definition by reflecting the function's
// input struct into a JSON schema. Supported signatures:
//
//	func(Input) (Result, error)
//	func(context.Context, Input) (Result, error)
func NewDefinitionFromFunc(name, description string, fn interface{}) (*Definition, error) {
	if !nameRegexp.MatchString(name) {
		return nil, errors.Errorf("invalid tool name %q: must match %s", name, nameRegexp.String())
	}

	funcType := reflect.TypeOf(fn)
	if funcType == nil || funcType.Kind() != reflect.Func {
		return nil, errors.New("provided value is not a function")
	}
	if funcType.NumOut() != 2 || !funcType.Out(1).Implements(errType) {
		return nil, errors.New("tool function must return (result, error)")
	}

	var inputType reflect.Type
	takesCtx := false
	switch funcType.NumIn() {
	case 1:
		if funcType.In(0) == ctxType {
			return nil, errors.New("tool function must take an input struct")
		}
		inputType = funcType.In(0)
	case 2:
		if funcType.In(0) != ctxType {
			return nil, errors.New("two-arg tool function must be (context.Context, Input)")
		}
		takesCtx = true
		inputType = funcType.In(1)
	default:
		return nil, errors.New("tool function must take (Input) or (context.Context, Input)")
	}

	reflector := jsonschema.Reflector{
		DoNotReference: true,
	}
	schema := reflector.Reflect(reflect.New(inputType).Elem().Interface())
	if schema.Type == "" {
		schema.Type = "object"
	}

	return &Definition{
		Name:        name,
		Description: description,
		InputSchema: schema,
		fn:          reflect.ValueOf(fn),
		takesCtx:    takesCtx,
		inputType:   inputType,
	}, nil
}

// Invoke unmarshals the input and calls the underlying function.
func (d *Definition) Invoke(ctx context.Context, input json.RawMessage) (interface{}, error) {
	if !d.fn.IsValid() {
		return nil, errors.Errorf("tool %q has no executable function", d.Name)
	}

	in := reflect.New(d.inputType)
	if len(input) > 0 {
		if err := json.Unmarshal(input, in.Interface()); err != nil {
			return nil, errors.Wrapf(err, "failed to unmarshal input for tool %q", d.Name)
		}
	}

	var args []reflect.Value
	if d.takesCtx {
		args = []reflect.Value{reflect.ValueOf(ctx), in.Elem()}
	} else {
		args = []reflect.Value{in.Elem()}
	}

	results := d.fn.Call(args)
	if !results[1].IsNil() {
		return nil, results[1].Interface().(error)
	}
	return results[0].Interface(), nil
}
