package di

import (
	"reflect"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"
)

const (
	// Use injectTag to inject dependency into a service
	injectTag = "inject"
	// Use envTag to fill a primitive field from the environment
	envTag = "env"

	envDefaultSep = ":-"
)

var errorType = reflect.TypeFor[error]()

// Parameter describes one parameter of a constructor or method.
type Parameter struct {
	Name     string
	Type     reflect.Type
	Optional bool
	Default  any
}

// Property describes an injectable struct field.
type Property struct {
	Name     string
	Index    int
	Type     reflect.Type
	// Inject is set for inject tagged fields, as opposed to env only ones.
	Inject   bool
	Required bool
	// Alias is the service injected instead of the one named after Type.
	Alias string
	// Tagged fills a slice field with every service of the tag named by Alias.
	Tagged bool

	Env           string
	EnvDefault    string
	HasEnvDefault bool
}

// Constructor is one way of building a concrete type: a function whose
// parameters are injected and whose first result is the instance.
type Constructor struct {
	fn     reflect.Value
	out    reflect.Type
	params []Parameter
}

// NewConstructor describes fn. names name its parameters in order, so they
// can be matched by Params tables and "$name" contextual bindings.
func NewConstructor(fn any, names ...string) (*Constructor, error) {
	value := reflect.ValueOf(fn)
	if value.Kind() != reflect.Func || value.IsNil() {
		return nil, errors.Wrapf(ErrInvalidConcrete, "constructor must be a function, got %T", fn)
	}

	typeOf := value.Type()
	if typeOf.NumOut() == 0 || typeOf.NumOut() > 2 || typeOf.Out(0) == errorType ||
		(typeOf.NumOut() == 2 && typeOf.Out(1) != errorType) {
		return nil, errors.Wrapf(ErrInvalidConcrete, "constructor %s must return (T) or (T, error)", typeOf)
	}

	return &Constructor{fn: value, out: typeOf.Out(0), params: describeFunc(typeOf, names)}, nil
}

// MustConstructor is NewConstructor that panics on error.
func MustConstructor(fn any, names ...string) *Constructor {
	c, err := NewConstructor(fn, names...)
	if err != nil {
		panic(err)
	}

	return c
}

// Default makes the parameter called name optional with value as its default.
func (c *Constructor) Default(name string, value any) *Constructor {
	for i := range c.params {
		if c.params[i].Name == name {
			c.params[i].Optional = true
			c.params[i].Default = value
		}
	}

	return c
}

// Type returns the type the constructor builds.
func (c *Constructor) Type() reflect.Type { return c.out }

func (c *Constructor) Params() []Parameter { return c.params }

func (c *Constructor) call(args []reflect.Value) (any, error) {
	if !c.fn.IsValid() {
		return newZero(c.out), nil
	}

	return call(c.fn, args)
}

// newZero allocates a zero value of t. Pointer types get a fresh pointee.
func newZero(t reflect.Type) any {
	value := reflect.New(typeIndirect(t))
	if t.Kind() == reflect.Ptr {
		return value.Interface()
	}

	return value.Elem().Interface()
}

func describeFunc(typeOf reflect.Type, names []string) []Parameter {
	params := make([]Parameter, typeOf.NumIn())

	for i := range params {
		params[i].Type = typeOf.In(i)
		if i < len(names) {
			params[i].Name = names[i]
		}
	}

	if typeOf.IsVariadic() {
		params[len(params)-1].Optional = true
	}

	return params
}

// TypeInfo describes how to build a concrete type and what to inject into it.
type TypeInfo struct {
	Type         reflect.Type
	Constructors []*Constructor
	Properties   []Property
}

// Describer provides the injection points of concrete types.
type Describer interface {
	Describe(t reflect.Type) (*TypeInfo, error)
}

// StructDescriber describes structs and pointers to structs. Their
// constructors are the registered constructor functions returning the type,
// or the zero value when none is registered. Their properties are the fields
// tagged with inject or env.
type StructDescriber struct {
	mu           sync.RWMutex
	constructors map[reflect.Type][]*Constructor
	cache        *xsync.MapOf[reflect.Type, *TypeInfo]
}

func NewStructDescriber(constructors ...*Constructor) *StructDescriber {
	d := &StructDescriber{
		constructors: make(map[reflect.Type][]*Constructor),
		cache:        xsync.NewMapOf[reflect.Type, *TypeInfo](),
	}
	d.Register(constructors...)

	return d
}

// Register adds constructors. They are tried in registration order.
func (d *StructDescriber) Register(constructors ...*Constructor) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, c := range constructors {
		d.constructors[c.out] = append(d.constructors[c.out], c)
		d.cache.Delete(c.out)
	}
}

func (d *StructDescriber) Describe(t reflect.Type) (*TypeInfo, error) {
	if !constructible(t) {
		return nil, errorf(ErrNoConcrete, "type %v cannot be constructed", t)
	}

	if info, ok := d.cache.Load(t); ok {
		return info, nil
	}

	// Held until the store, so Register cannot invalidate t in between.
	d.mu.RLock()
	defer d.mu.RUnlock()

	constructors := append([]*Constructor(nil), d.constructors[t]...)
	if len(constructors) == 0 {
		constructors = []*Constructor{{out: t}}
	}

	info := &TypeInfo{Type: t, Constructors: constructors, Properties: describeProperties(typeIndirect(t))}
	d.cache.Store(t, info)

	return info, nil
}

func describeProperties(s reflect.Type) []Property {
	var properties []Property

	for i := 0; i < s.NumField(); i++ {
		field := s.Field(i)
		property := Property{Name: field.Name, Index: i, Type: field.Type}

		inject, hasInject := field.Tag.Lookup(injectTag)
		env, hasEnv := field.Tag.Lookup(envTag)

		if !hasInject && !hasEnv {
			continue
		}

		if hasInject {
			options := strings.Split(inject, ",")
			property.Alias = strings.TrimSpace(options[0])
			property.Inject = true
			property.Required = true

			for _, option := range options[1:] {
				switch strings.TrimSpace(option) {
				case "optional":
					property.Required = false
				case "tagged":
					property.Tagged = true
				}
			}
		}

		if hasEnv {
			name, def, found := strings.Cut(env, envDefaultSep)
			property.Env = name
			property.EnvDefault = def
			property.HasEnvDefault = found
		}

		properties = append(properties, property)
	}

	return properties
}
