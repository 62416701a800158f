package di

import (
	"reflect"
	"strings"
	"unsafe"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

func (c *serviceContainer) Make(service string, params ...any) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.make(service, params)
}

func (c *serviceContainer) MakeType(t reflect.Type, params ...any) (any, error) {
	if t == nil {
		return nil, errors.Wrap(ErrInvalidConcrete, "make nil type")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if t == containerType {
		return c, nil
	}

	service := TypeName(t)
	c.autowire(service, t)

	instance, err := c.make(service, params)
	if err != nil {
		return nil, err
	}

	value, err := adapt(instance, t, service)
	if err != nil {
		return nil, err
	}

	return value.Interface(), nil
}

func (c *serviceContainer) Factory(service string, params ...any) func() (any, error) {
	return func() (any, error) { return c.Make(service, params...) }
}

func (c *serviceContainer) make(service string, params []any) (any, error) {
	service = formatService(service)
	if service == "" {
		return nil, errors.Wrap(ErrEmptyName, "make")
	}

	service = c.aliasToService(service)

	instance, err := c.resolve(service, params)
	if err != nil {
		return nil, err
	}

	if _, pending := c.pendingRebound[service]; pending {
		delete(c.pendingRebound, service)

		if err = c.triggerRebound(service, instance); err != nil {
			return nil, err
		}
	}

	return instance, nil
}

func (c *serviceContainer) resolve(service string, params []any) (any, error) {
	if instance, ok := c.instances[service]; ok {
		return instance, nil
	}

	if c.building(service) {
		chain := append(append([]string(nil), c.buildStack...), service)
		return nil, errors.Wrapf(ErrCircularDependency, "%s", strings.Join(chain, " -> "))
	}

	c.buildStack.Push(service)
	c.userParamsStack.Push(params)

	defer func() {
		c.userParamsStack.Pop()
		c.buildStack.Pop()
	}()

	bind := c.bindings[service]
	if bind == nil {
		bind = newBindData(c, service, nil, false)
	}

	instance, err := c.build(bind, params)
	if err != nil {
		return nil, err
	}

	if instance, err = c.extend(service, instance); err != nil {
		return nil, err
	}

	if bind.isStatic {
		if instance, err = c.instance(bind.service, instance); err != nil {
			return nil, err
		}
	} else {
		c.triggerResolving(bind, instance)
	}

	c.resolved[bind.service] = struct{}{}

	return instance, nil
}

func (c *serviceContainer) build(bind *BindData, params []any) (any, error) {
	if bind.concrete != nil {
		instance, err := bind.concrete(c, params)
		if err != nil {
			return nil, newBuildError(bind.service, c.buildStack, err)
		}

		return instance, nil
	}

	t := c.speculatedType(bind.service)
	if t == nil {
		return nil, errors.Wrapf(ErrNoConcrete, "service [%s] is not bound and no type was found", bind.service)
	}

	return c.buildType(bind, t, params)
}

// buildType tries the constructors of t in order. Only if none of them can
// get its parameters resolved is the error of the first one returned.
func (c *serviceContainer) buildType(bind *BindData, t reflect.Type, params []any) (any, error) {
	info, err := c.describer.Describe(t)
	if err != nil {
		return nil, errors.Wrapf(err, "build [%s]", bind.service)
	}

	var first error

	for i, constructor := range info.Constructors {
		args, err := c.dependencies(&bind.Bindable, constructor.params, params)
		if err != nil {
			if first == nil {
				first = err
			}

			c.logger.Debug("constructor skipped",
				zap.String("service", bind.service),
				zap.Int("constructor", i),
				zap.Error(err),
			)

			continue
		}

		instance, err := constructor.call(args)
		if err != nil {
			return nil, newBuildError(bind.service, c.buildStack, err)
		}

		return c.inject(bind, info.Properties, instance)
	}

	if first == nil {
		first = errors.Wrapf(ErrNoConcrete, "type %v has no constructor", t)
	}

	return nil, first
}

// construct builds a service from a constructor function.
func (c *serviceContainer) construct(bind *BindData, constructor *Constructor, params []any) (any, error) {
	args, err := c.dependencies(&bind.Bindable, constructor.params, params)
	if err != nil {
		return nil, err
	}

	return constructor.call(args)
}

// inject fills the properties of instance, then runs its Constructor hook.
func (c *serviceContainer) inject(bind *BindData, properties []Property, instance any) (any, error) {
	rv := reflect.ValueOf(instance)
	if !rv.IsValid() || (rv.Kind() == reflect.Ptr && rv.IsNil()) {
		return instance, nil
	}

	isPtr := rv.Kind() == reflect.Ptr
	if !isPtr {
		ptr := reflect.New(rv.Type())
		ptr.Elem().Set(rv)
		rv = ptr
	}

	target := rv.Elem()
	if target.Kind() != reflect.Struct {
		return instance, nil
	}

	for _, property := range properties {
		value, ok, err := c.resolveProperty(bind, property)
		if err != nil {
			return nil, errors.Wrapf(err, "inject %s.%s", target.Type(), property.Name)
		}

		if !ok {
			continue
		}

		field := target.Field(property.Index)
		field = reflect.NewAt(field.Type(), unsafe.Pointer(field.UnsafeAddr())).Elem()
		field.Set(value)
	}

	if constructable, ok := rv.Interface().(Constructable); ok {
		constructable.Constructor()
	}

	if isPtr {
		return rv.Interface(), nil
	}

	return target.Interface(), nil
}

func (c *serviceContainer) extend(service string, instance any) (any, error) {
	var err error

	for _, extender := range c.extenders[service] {
		if instance, err = extender(instance, c); err != nil {
			return nil, newBuildError(service, c.buildStack, err)
		}
	}

	for _, extender := range c.globalExtenders {
		if instance, err = extender(instance, c); err != nil {
			return nil, newBuildError(service, c.buildStack, err)
		}
	}

	return instance, nil
}

// triggerResolving runs the resolving callbacks, binding ones first, then
// the after-resolving callbacks in the same order.
func (c *serviceContainer) triggerResolving(bind *BindData, instance any) {
	bind.triggerResolving(instance)

	for _, callback := range c.resolving {
		callback(bind, instance)
	}

	bind.triggerAfterResolving(instance)

	for _, callback := range c.afterResolving {
		callback(bind, instance)
	}
}
