package di

import (
	"reflect"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// MethodBind is a callable registered under a name. Its parameters are
// resolved like constructor parameters, contextual bindings included.
type MethodBind struct {
	Bindable

	target any
	call   reflect.Value
	params []Parameter
}

// Target returns the value the method was bound with, nil if none.
func (m *MethodBind) Target() any { return m.target }

// Unbind removes the method from its container. Calling it again is a no-op.
func (m *MethodBind) Unbind() error {
	m.container.mu.Lock()
	defer m.container.mu.Unlock()

	if m.destroyed {
		return nil
	}

	if err := m.container.guardFlushing(); err != nil {
		return err
	}

	m.container.methods.unbindBind(m)

	return nil
}

type methodContainer struct {
	container *serviceContainer

	methodMappings          map[string]*MethodBind
	targetToMethodsMappings map[identity][]string
}

func newMethodContainer(c *serviceContainer) *methodContainer {
	m := &methodContainer{container: c}
	m.flush()

	return m
}

func (m *methodContainer) flush() {
	for _, bind := range m.methodMappings {
		bind.destroyed = true
	}

	m.methodMappings = make(map[string]*MethodBind)
	m.targetToMethodsMappings = make(map[identity][]string)
}

func (m *methodContainer) bind(method string, target, call any, paramNames []string) (*MethodBind, error) {
	if err := m.container.guardFlushing(); err != nil {
		return nil, err
	}

	method = formatService(method)
	if method == "" {
		return nil, errors.Wrap(ErrEmptyName, "bind method")
	}

	if _, ok := m.methodMappings[method]; ok {
		return nil, errors.Wrapf(ErrMethodExists, "method [%s]", method)
	}

	var fn reflect.Value

	switch call := call.(type) {
	case string:
		if target == nil {
			return nil, errors.Wrapf(ErrInvalidConcrete, "method [%s]: a target is required to look up %q", method, call)
		}

		if fn = reflect.ValueOf(target).MethodByName(call); !fn.IsValid() {
			return nil, errors.Wrapf(ErrInvalidConcrete, "method [%s]: %T has no method %q", method, target, call)
		}
	default:
		if fn = reflect.ValueOf(call); fn.Kind() != reflect.Func || fn.IsNil() {
			return nil, errors.Wrapf(ErrInvalidConcrete, "method [%s]: %T is not callable", method, call)
		}
	}

	bind := &MethodBind{
		Bindable: newBindable(m.container, method),
		target:   target,
		call:     fn,
		params:   describeFunc(fn.Type(), paramNames),
	}

	m.methodMappings[method] = bind

	if id, ok := targetIdentity(target); ok {
		m.targetToMethodsMappings[id] = append(m.targetToMethodsMappings[id], method)
	}

	m.container.logger.Debug("method bound", zap.String("method", method))

	return bind, nil
}

func (m *methodContainer) invoke(method string, params []any) (any, error) {
	bind, ok := m.methodMappings[formatService(method)]
	if !ok {
		return nil, errors.Wrapf(ErrMethodNotFound, "method [%s]", method)
	}

	args, err := m.container.dependencies(&bind.Bindable, bind.params, params)
	if err != nil {
		return nil, errors.Wrapf(err, "invoke [%s]", bind.service)
	}

	return call(bind.call, args)
}

// unbind removes a method given as *MethodBind or by name, or every method
// bound with the given target.
func (m *methodContainer) unbind(x any) error {
	if err := m.container.guardFlushing(); err != nil {
		return err
	}

	switch x := x.(type) {
	case nil:
		return errors.Wrap(ErrInvalidConcrete, "unbind method: nil")
	case *MethodBind:
		m.unbindBind(x)
		return nil
	case string:
		if bind, ok := m.methodMappings[formatService(x)]; ok {
			m.unbindBind(bind)
			return nil
		}
	}

	id, ok := targetIdentity(x)
	if !ok {
		return nil
	}

	for _, method := range append([]string(nil), m.targetToMethodsMappings[id]...) {
		if bind, ok := m.methodMappings[method]; ok {
			m.unbindBind(bind)
		}
	}

	return nil
}

func (m *methodContainer) unbindBind(bind *MethodBind) {
	if current, ok := m.methodMappings[bind.service]; ok && current == bind {
		delete(m.methodMappings, bind.service)
	}

	if id, ok := targetIdentity(bind.target); ok {
		methods := m.targetToMethodsMappings[id]
		for i, method := range methods {
			if method == bind.service {
				methods = append(methods[:i:i], methods[i+1:]...)
				break
			}
		}

		if len(methods) == 0 {
			delete(m.targetToMethodsMappings, id)
		} else {
			m.targetToMethodsMappings[id] = methods
		}
	}

	bind.destroyed = true
	m.container.logger.Debug("method unbound", zap.String("method", bind.service))
}

// targetIdentity identifies a target. Strings name a target type rather than
// a value, so they key by themselves.
func targetIdentity(target any) (identity, bool) {
	if name, ok := target.(string); ok {
		return identity{val: name}, name != ""
	}

	return identityOf(target)
}

func (c *serviceContainer) BindMethod(method string, target any, call any, paramNames ...string) (*MethodBind, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.methods.bind(method, target, call, paramNames)
}

func (c *serviceContainer) UnbindMethod(target any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.methods.unbind(target)
}

func (c *serviceContainer) Invoke(method string, params ...any) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.methods.invoke(method, params)
}
