package di

import (
	"reflect"
	"strings"

	goreflect "github.com/goccy/go-reflect"
)

const bannedChars = "@:$"

func typeIndirect(p reflect.Type) reflect.Type {
	if p.Kind() == reflect.Ptr {
		return p.Elem()
	}

	return p
}

// TypeName returns the service name under which values of t are resolved:
// the package-qualified name of t, ignoring one level of pointer.
func TypeName(t reflect.Type) string {
	if t == nil {
		return ""
	}

	if named := typeIndirect(t); named.Name() != "" {
		if named.PkgPath() == "" {
			return named.Name()
		}

		return named.PkgPath() + "." + named.Name()
	}

	return t.String()
}

// TypeNameOf is TypeName for a type parameter.
func TypeNameOf[T any]() string { return TypeName(reflect.TypeFor[T]()) }

func formatService(service string) string { return strings.TrimSpace(service) }

func checkName(name string) error {
	if name == "" {
		return ErrEmptyName
	}

	if strings.ContainsAny(name, bannedChars) {
		return ErrBannedChars
	}

	return nil
}

// classLike reports whether values of t are resolved through the container
// rather than treated as primitives.
func classLike(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		return false
	default:
		return true
	}
}

// constructible reports whether the container can build t reflectively.
func constructible(t reflect.Type) bool {
	return t != nil && typeIndirect(t).Kind() == reflect.Struct
}

// identity is the key of an instance in the reverse instance map.
type identity struct {
	typ uintptr
	ptr uintptr
	val any
}

// identityOf returns the identity of v. Only reference values have one:
// pointers and channels are identified by value, funcs by the closure the
// interface points to, maps and slices by their backing storage.
func identityOf(v any) (identity, bool) {
	if v == nil {
		return identity{}, false
	}

	switch reflect.TypeOf(v).Kind() {
	case reflect.Ptr, reflect.Chan, reflect.UnsafePointer:
		return identity{val: v}, true
	case reflect.Func:
		_, ptr := goreflect.TypeAndPtrOf(v)
		return identity{typ: goreflect.TypeID(v), ptr: uintptr(ptr)}, uintptr(ptr) != 0
	case reflect.Map, reflect.Slice:
		ptr := reflect.ValueOf(v).Pointer()
		return identity{typ: goreflect.TypeID(v), ptr: ptr}, ptr != 0
	default:
		return identity{}, false
	}
}

// Resolve makes service and asserts the result to T.
func Resolve[T any](c Container, service string, params ...any) (T, error) {
	instance, err := c.Make(service, params...)
	if err != nil {
		return *new(T), err
	}

	return assertType[T](service, instance)
}

// MakeOf resolves the service named after T.
func MakeOf[T any](c Container, params ...any) (T, error) {
	instance, err := c.MakeType(reflect.TypeFor[T](), params...)
	if err != nil {
		return *new(T), err
	}

	return assertType[T](TypeNameOf[T](), instance)
}

// MustMake is Make that panics on error.
func MustMake[T any](c Container, params ...any) T {
	instance, err := MakeOf[T](c, params...)
	if err != nil {
		panic(err)
	}

	return instance
}

func assertType[T any](service string, instance any) (T, error) {
	if instance == nil {
		return *new(T), nil
	}

	typed, ok := instance.(T)
	if !ok {
		return typed, errorf(ErrTypeMismatch, "service [%s] resolved to %T, not %s", service, instance, reflect.TypeFor[T]())
	}

	return typed, nil
}
