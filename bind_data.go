package di

import "github.com/pkg/errors"

// BindData is the binding of a service: how to build it, whether the result
// is shared and who observes it.
type BindData struct {
	Bindable

	concrete Factory
	isStatic bool

	resolving      []Callback
	afterResolving []Callback
	release        []Callback
}

func newBindData(c *serviceContainer, service string, concrete Factory, isStatic bool) *BindData {
	return &BindData{Bindable: newBindable(c, service), concrete: concrete, isStatic: isStatic}
}

func (b *BindData) IsStatic() bool { return b.isStatic }

// Alias makes alias resolve to this binding.
func (b *BindData) Alias(alias string) error {
	b.container.mu.Lock()
	defer b.container.mu.Unlock()

	if err := b.guard(); err != nil {
		return err
	}

	return b.container.alias(alias, b.service)
}

// Tag adds this binding to tag.
func (b *BindData) Tag(tag string) error {
	b.container.mu.Lock()
	defer b.container.mu.Unlock()

	if err := b.guard(); err != nil {
		return err
	}

	return b.container.tag(tag, b.service)
}

// OnResolving registers a callback run whenever the service is built.
func (b *BindData) OnResolving(callback Callback) error {
	return b.addCallback(&b.resolving, callback)
}

// OnAfterResolving registers a callback run after every resolving callback.
func (b *BindData) OnAfterResolving(callback Callback) error {
	return b.addCallback(&b.afterResolving, callback)
}

// OnRelease registers a callback run when the instance is released. Only
// static bindings hold an instance to release.
func (b *BindData) OnRelease(callback Callback) error {
	if !b.isStatic {
		return errors.Wrapf(ErrNotStatic, "release callback on [%s]", b.service)
	}

	return b.addCallback(&b.release, callback)
}

// Unbind removes the binding from its container. Calling it again is a no-op.
func (b *BindData) Unbind() error {
	b.container.mu.Lock()
	defer b.container.mu.Unlock()

	if b.destroyed {
		return nil
	}

	if err := b.container.unbind(b); err != nil {
		return err
	}

	b.destroyed = true

	return nil
}

func (b *BindData) addCallback(list *[]Callback, callback Callback) error {
	if callback == nil {
		return errors.Wrapf(ErrNilCallback, "binding [%s]", b.service)
	}

	b.container.mu.Lock()
	defer b.container.mu.Unlock()

	if err := b.guard(); err != nil {
		return err
	}

	*list = append(*list, callback)

	return nil
}

func (b *BindData) triggerResolving(instance any) {
	for _, callback := range b.resolving {
		callback(b, instance)
	}
}

func (b *BindData) triggerAfterResolving(instance any) {
	for _, callback := range b.afterResolving {
		callback(b, instance)
	}
}

func (b *BindData) triggerRelease(instance any) {
	for _, callback := range b.release {
		callback(b, instance)
	}
}
