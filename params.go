package di

import (
	"reflect"

	"github.com/pkg/errors"
)

var (
	anySliceType = reflect.TypeFor[[]any]()
	paramsType   = reflect.TypeFor[Params]()
)

func (c *serviceContainer) Call(fn any, params ...any) (any, error) {
	value := reflect.ValueOf(fn)
	if value.Kind() != reflect.Func || value.IsNil() {
		return nil, errors.Wrapf(ErrInvalidConcrete, "call %T", fn)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	args, err := c.dependencies(nil, describeFunc(value.Type(), nil), params)
	if err != nil {
		return nil, err
	}

	return call(value, args)
}

// splitParams separates Params tables from positional arguments.
func splitParams(userParams []any) (loose []any, tables []Params) {
	for _, param := range userParams {
		if table, ok := param.(Params); ok {
			tables = append(tables, table)
			continue
		}

		loose = append(loose, param)
	}

	return loose, tables
}

// dependencies resolves the arguments of a call. Every positional argument
// must be consumed by some parameter.
func (c *serviceContainer) dependencies(bind *Bindable, params []Parameter, userParams []any) ([]reflect.Value, error) {
	loose, tables := splitParams(userParams)
	args := make([]reflect.Value, len(params))

	for i, param := range params {
		arg, err := c.dependency(bind, param, &loose, tables)
		if err != nil {
			return nil, err
		}

		args[i] = arg
	}

	if len(loose) > 0 {
		return nil, errors.Wrapf(ErrExcessParams, "%d positional argument(s) left unused", len(loose))
	}

	return args, nil
}

func (c *serviceContainer) dependency(bind *Bindable, param Parameter, loose *[]any, tables []Params) (reflect.Value, error) {
	if param.Name != "" {
		for _, table := range tables {
			if value, ok := table[param.Name]; ok {
				return coerce(value, param.Type, param.Name)
			}
		}
	}

	switch param.Type {
	case anySliceType:
		rest := append(make([]any, 0, len(*loose)), *loose...)
		*loose = nil
		return reflect.ValueOf(rest), nil
	case paramsType:
		if len(tables) > 0 {
			return reflect.ValueOf(tables[0]), nil
		}
	}

	for i, value := range *loose {
		if arg, ok := convert(value, param.Type); ok {
			*loose = append((*loose)[:i:i], (*loose)[i+1:]...)
			return arg, nil
		}
	}

	service := TypeName(param.Type)

	if arg, ok, err := c.resolveContextual(bind, service, param.Name, param.Type); ok || err != nil {
		return arg, err
	}

	if classLike(param.Type) {
		arg, err := c.resolveClass(service, param.Type)
		if err == nil {
			return arg, nil
		}

		if !param.Optional || !errors.Is(err, ErrUnresolvable) {
			return reflect.Value{}, err
		}

		return defaultValue(param)
	}

	if c.canMake(service) {
		value, err := c.make(service, nil)
		if err != nil {
			return reflect.Value{}, err
		}

		return adapt(value, param.Type, service)
	}

	if param.Optional {
		return defaultValue(param)
	}

	return reflect.Value{}, errors.Wrapf(ErrUnresolvablePrimitive, "parameter %q of type %s", param.Name, param.Type)
}

// resolveContextual applies the contextual binding of bind for a dependency
// on service named name, if there is one.
func (c *serviceContainer) resolveContextual(bind *Bindable, service, name string, t reflect.Type) (reflect.Value, bool, error) {
	given, closure, ok := bind.contextualFor(service, name)
	if !ok {
		return reflect.Value{}, false, nil
	}

	var (
		value any
		err   error
	)

	if closure != nil {
		value, err = closure()
	} else {
		value, err = c.make(given, nil)
	}

	if err != nil {
		return reflect.Value{}, true, err
	}

	arg, err := adapt(value, t, service)

	return arg, true, err
}

// resolveClass resolves a dependency through the container.
func (c *serviceContainer) resolveClass(service string, t reflect.Type) (reflect.Value, error) {
	if t == containerType {
		return reflect.ValueOf(Container(c)).Convert(containerType), nil
	}

	c.autowire(service, t)

	value, err := c.make(service, nil)
	if err != nil {
		return reflect.Value{}, err
	}

	return adapt(value, t, service)
}

func (c *serviceContainer) resolveProperty(bind *BindData, property Property) (reflect.Value, bool, error) {
	service := property.Alias
	if service == "" || property.Tagged {
		service = TypeName(property.Type)
	}

	if arg, ok, err := c.resolveContextual(&bind.Bindable, service, property.Name, property.Type); ok || err != nil {
		return arg, ok, err
	}

	if property.Env != "" {
		raw, ok := c.lookupEnv(property.Env)
		if !ok && property.HasEnvDefault {
			raw, ok = property.EnvDefault, true
		}

		if ok {
			arg, err := parseString(raw, property.Type)
			if err != nil {
				return reflect.Value{}, false, errors.Wrapf(ErrTypeMismatch, "env %s=%q: %v", property.Env, raw, err)
			}

			return arg, true, nil
		}
	}

	if !property.Inject {
		return reflect.Value{}, false, nil
	}

	if property.Tagged {
		return c.resolveTagged(property)
	}

	if classLike(property.Type) {
		arg, err := c.resolveClass(service, property.Type)
		if err != nil {
			if !property.Required && errors.Is(err, ErrUnresolvable) {
				return reflect.Value{}, false, nil
			}

			return reflect.Value{}, false, err
		}

		return arg, true, nil
	}

	if c.canMake(service) {
		value, err := c.make(service, nil)
		if err != nil {
			return reflect.Value{}, false, err
		}

		arg, err := adapt(value, property.Type, service)

		return arg, err == nil, err
	}

	if property.Required {
		return reflect.Value{}, false, errors.Wrapf(ErrUnresolvablePrimitive, "property %q of type %s", property.Name, property.Type)
	}

	return reflect.Value{}, false, nil
}

// resolveTagged fills a slice property with the services of a tag.
func (c *serviceContainer) resolveTagged(property Property) (reflect.Value, bool, error) {
	if property.Type.Kind() != reflect.Slice {
		return reflect.Value{}, false, errors.Wrapf(ErrTypeMismatch, "tagged property %q must be a slice", property.Name)
	}

	instances, err := c.tagged(property.Alias)
	if err != nil {
		if !property.Required && errors.Is(err, ErrTagNotFound) {
			return reflect.Value{}, false, nil
		}

		return reflect.Value{}, false, err
	}

	slice := reflect.MakeSlice(property.Type, 0, len(instances))
	for _, instance := range instances {
		elem, err := adapt(instance, property.Type.Elem(), property.Alias)
		if err != nil {
			return reflect.Value{}, false, err
		}

		slice = reflect.Append(slice, elem)
	}

	return slice, true, nil
}

// adapt converts value to t, dereferencing or taking the address of a copy
// when value and t differ by one level of pointer.
func adapt(value any, t reflect.Type, service string) (reflect.Value, error) {
	if arg, ok := convert(value, t); ok {
		return arg, nil
	}

	rv := reflect.ValueOf(value)

	switch {
	case !rv.IsValid():
	case rv.Kind() == reflect.Ptr && !rv.IsNil() && rv.Type().Elem().AssignableTo(t):
		arg := reflect.New(t).Elem()
		arg.Set(rv.Elem())
		return arg, nil
	case t.Kind() == reflect.Ptr && rv.Type().AssignableTo(t.Elem()):
		ptr := reflect.New(t.Elem())
		ptr.Elem().Set(rv)
		return ptr, nil
	}

	return reflect.Value{}, errors.Wrapf(ErrTypeMismatch, "[%s] resolved to %T, want %s", service, value, t)
}

func coerce(value any, t reflect.Type, name string) (reflect.Value, error) {
	if arg, ok := convert(value, t); ok {
		return arg, nil
	}

	return reflect.Value{}, errors.Wrapf(ErrTypeMismatch, "parameter %q: %T is not %s", name, value, t)
}

func defaultValue(param Parameter) (reflect.Value, error) {
	if param.Default == nil {
		return reflect.Zero(param.Type), nil
	}

	return coerce(param.Default, param.Type, param.Name)
}

// call invokes fn and splits its results into a value and an error.
func call(fn reflect.Value, args []reflect.Value) (any, error) {
	var out []reflect.Value
	if fn.Type().IsVariadic() {
		out = fn.CallSlice(args)
	} else {
		out = fn.Call(args)
	}

	var (
		result any
		err    error
		set    bool
	)

	for _, value := range out {
		if value.Type() == errorType {
			if !value.IsNil() {
				err = value.Interface().(error)
			}

			continue
		}

		if !set {
			result, set = value.Interface(), true
		}
	}

	return result, err
}
