package di

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Error kinds. Every error returned by the container matches exactly one of
// them with errors.Is.
var (
	// ErrLogic reports programmer misuse. Retrying never helps.
	ErrLogic = errors.New("logic error")
	// ErrUnresolvable reports that a service or dependency could not be built.
	ErrUnresolvable = errors.New("unresolvable")
	// ErrArgument reports an invalid argument such as an empty service name.
	ErrArgument = errors.New("invalid argument")
)

var (
	ErrAlreadyBound       = kind(ErrLogic, "service already bound")
	ErrAliasExists        = kind(ErrLogic, "alias conflict")
	ErrDestroyed          = kind(ErrLogic, "binding destroyed")
	ErrNotStatic          = kind(ErrLogic, "binding is not static")
	ErrFlushing           = kind(ErrLogic, "container is flushing")
	ErrContextualExists   = kind(ErrLogic, "contextual binding already exists")
	ErrCircularDependency = kind(ErrLogic, "circular dependency")
	ErrMethodExists       = kind(ErrLogic, "method already bound")
	ErrMethodNotFound     = kind(ErrLogic, "method not found")
	ErrTagNotFound        = kind(ErrLogic, "tag not found")
	ErrNotResolvable      = kind(ErrLogic, "service is not resolvable")
	ErrInstanceBound      = kind(ErrLogic, "instance bound to another service")

	ErrUnresolvablePrimitive = kind(ErrUnresolvable, "unresolvable primitive")
	ErrTypeMismatch          = kind(ErrUnresolvable, "type mismatch")
	ErrExcessParams          = kind(ErrUnresolvable, "excess parameters")
	ErrNoConcrete            = kind(ErrUnresolvable, "no concrete type")

	ErrEmptyName       = kind(ErrArgument, "empty name")
	ErrBannedChars     = kind(ErrArgument, "name contains banned characters")
	ErrNilCallback     = kind(ErrArgument, "nil callback")
	ErrInvalidConcrete = kind(ErrArgument, "invalid concrete")
)

type kindError struct {
	kind error
	msg  string
}

func kind(parent error, msg string) error { return &kindError{kind: parent, msg: msg} }

func (e *kindError) Error() string { return e.msg }
func (e *kindError) Unwrap() error { return e.kind }

// BuildError wraps a failure raised while constructing a service together
// with the services that were being built at the time.
type BuildError struct {
	Service string
	Stack   []string
	Err     error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build [%s] failed (stack: %s): %v", e.Service, strings.Join(e.Stack, " -> "), e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

func (e *BuildError) Is(target error) bool { return target == ErrUnresolvable }

func newBuildError(service string, stack []string, err error) error {
	// Container errors already carry their context.
	if errors.Is(err, ErrLogic) || errors.Is(err, ErrUnresolvable) || errors.Is(err, ErrArgument) {
		return err
	}

	return &BuildError{Service: service, Stack: append([]string(nil), stack...), Err: err}
}

func errorf(kind error, format string, args ...any) error {
	return errors.Wrapf(kind, format, args...)
}
