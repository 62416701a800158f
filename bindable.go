package di

import "github.com/pkg/errors"

// Bindable is the part of a binding shared by services and methods: its
// name, its container and its contextual overrides.
type Bindable struct {
	service   string
	container *serviceContainer
	destroyed bool

	// needs -> service name
	contextual map[string]string
	// needs -> closure building the value
	contextualClosure map[string]func() (any, error)
}

func newBindable(c *serviceContainer, service string) Bindable {
	return Bindable{service: service, container: c}
}

// Service returns the canonical name of the binding.
func (b *Bindable) Service() string { return b.service }

// Container returns the container owning the binding.
func (b *Bindable) Container() Container { return b.container }

func (b *Bindable) IsDestroyed() bool {
	b.container.mu.Lock()
	defer b.container.mu.Unlock()

	return b.destroyed
}

// Needs starts a contextual binding: when this binding resolves a dependency
// on needs, it receives what is passed to Given instead. needs is either a
// service name or "$" followed by a parameter or field name.
func (b *Bindable) Needs(needs string) *GivenData {
	return &GivenData{bindable: b, needs: formatService(needs)}
}

func (b *Bindable) guard() error {
	if b.destroyed {
		return errors.Wrapf(ErrDestroyed, "binding [%s]", b.service)
	}

	return nil
}

func (b *Bindable) hasContextual(needs string) bool {
	if _, ok := b.contextual[needs]; ok {
		return true
	}

	_, ok := b.contextualClosure[needs]

	return ok
}

func (b *Bindable) addContextual(needs, given string) error {
	b.container.mu.Lock()
	defer b.container.mu.Unlock()

	if err := b.guard(); err != nil {
		return err
	}

	if b.hasContextual(needs) {
		return errors.Wrapf(ErrContextualExists, "[%s] needs [%s]", b.service, needs)
	}

	if b.contextual == nil {
		b.contextual = make(map[string]string)
	}

	b.contextual[needs] = given

	return nil
}

func (b *Bindable) addContextualClosure(needs string, given func() (any, error)) error {
	b.container.mu.Lock()
	defer b.container.mu.Unlock()

	if err := b.guard(); err != nil {
		return err
	}

	if b.hasContextual(needs) {
		return errors.Wrapf(ErrContextualExists, "[%s] needs [%s]", b.service, needs)
	}

	if b.contextualClosure == nil {
		b.contextualClosure = make(map[string]func() (any, error))
	}

	b.contextualClosure[needs] = given

	return nil
}

// contextualFor looks up the override for a dependency on service named
// param: the service itself first, then "$"+param.
func (b *Bindable) contextualFor(service, param string) (string, func() (any, error), bool) {
	if b == nil {
		return "", nil, false
	}

	keys := []string{service}
	if param != "" {
		keys = append(keys, "$"+param)
	}

	for _, key := range keys {
		if key == "" {
			continue
		}

		if given, ok := b.contextual[key]; ok {
			return given, nil, true
		}

		if closure, ok := b.contextualClosure[key]; ok {
			return "", closure, true
		}
	}

	return "", nil, false
}

// GivenData completes a contextual binding started with Needs.
type GivenData struct {
	bindable *Bindable
	needs    string
}

// Given resolves the pending dependency with service.
func (g *GivenData) Given(service string) error {
	if g.needs == "" {
		return errors.Wrap(ErrEmptyName, "needs")
	}

	service = formatService(service)
	if service == "" {
		return errors.Wrapf(ErrEmptyName, "given for [%s]", g.needs)
	}

	return g.bindable.addContextual(g.needs, service)
}

// GivenFunc resolves the pending dependency with the result of closure.
func (g *GivenData) GivenFunc(closure func() (any, error)) error {
	if g.needs == "" {
		return errors.Wrap(ErrEmptyName, "needs")
	}

	if closure == nil {
		return errors.Wrapf(ErrNilCallback, "given for [%s]", g.needs)
	}

	return g.bindable.addContextualClosure(g.needs, closure)
}

// GivenType resolves the pending dependency with the service named after T.
func GivenType[T any](g *GivenData) error { return g.Given(TypeNameOf[T]()) }

// NeedsOf starts a contextual binding on the service named after T.
func NeedsOf[T any](b interface{ Needs(string) *GivenData }) *GivenData {
	return b.Needs(TypeNameOf[T]())
}
