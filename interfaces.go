package di

import (
	"context"
	"reflect"
)

// Factory builds a service. params are the arguments passed to Make.
type Factory func(c Container, params []any) (any, error)

// Callback observes a service instance. Used for resolving, after-resolving
// and release hooks.
type Callback func(bind *BindData, instance any)

// Extender decorates a freshly built instance and may replace it.
type Extender func(instance any, c Container) (any, error)

// ReboundFunc receives the new instance of a service whose binding changed.
type ReboundFunc func(instance any)

// TypeFinder speculates the concrete type of a service name. It returns nil
// when it does not know the service.
type TypeFinder func(service string) reflect.Type

// Params passes arguments by parameter name to Make, Call and Invoke.
type Params map[string]any

// Container binds service names to construction strategies and resolves them
type Container interface {
	// Bind registers concrete under service. concrete may be nil, a Factory,
	// a reflect.Type or a constructor function
	Bind(service string, concrete any, isStatic bool) (*BindData, error)
	// BindIf binds only if the service is not bound, instanced or aliased yet
	BindIf(service string, concrete any, isStatic bool) (*BindData, bool, error)
	// Unbind destroys the binding of service
	Unbind(service string) error
	// GetBind returns the binding of a service or alias
	GetBind(service string) *BindData
	HasBind(service string) bool
	HasInstance(service string) bool
	IsResolved(service string) bool
	IsStatic(service string) bool
	IsAlias(name string) bool
	CanMake(service string) bool

	// Instance registers an already built value as the instance of a service
	Instance(service string, instance any) (any, error)
	// Release drops the cached instance of a service, given by name or by instance
	Release(serviceOrInstance any) bool
	// Alias makes alias resolve to service
	Alias(alias, service string) error
	// Tag groups services under tag
	Tag(tag string, services ...string) error
	// Tagged resolves every service of tag in tagging order
	Tagged(tag string) ([]any, error)
	// Extend decorates service, or every service when service is empty
	Extend(service string, extender Extender) error

	OnResolving(callback Callback) error
	OnAfterResolving(callback Callback) error
	OnRelease(callback Callback) error
	OnRebound(service string, callback ReboundFunc) error
	OnFindType(finder TypeFinder, priority int) error

	// Make resolves a service
	Make(service string, params ...any) (any, error)
	// MakeType resolves the service named after t
	MakeType(t reflect.Type, params ...any) (any, error)
	// Factory returns a function resolving service with params
	Factory(service string, params ...any) func() (any, error)
	// Call invokes fn injecting its parameters
	Call(fn any, params ...any) (any, error)
	// BuildStack returns the services being built, outermost first
	BuildStack() []string

	BindMethod(method string, target any, call any, paramNames ...string) (*MethodBind, error)
	UnbindMethod(target any) error
	Invoke(method string, params ...any) (any, error)

	// Flush releases every instance in build order and clears the container
	Flush() error
}

type Runner interface {
	Container
	Name() string
	Run(context.Context) error
}

// Constructable is a service that has special method that initializes it
type Constructable interface {
	Constructor()
}

// Destructible is a service that has special method that destructs it
type Destructible interface {
	Destructor()
}

type Launchable interface {
	Launch(context.Context)
}

type Stoppable interface {
	Shutdown(context.Context)
}
