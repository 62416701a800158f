package di

import (
	"reflect"
	"sort"

	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"

	dsync "github.com/Sanchous98/go-ioc/sync"
)

var containerType = reflect.TypeFor[Container]()

type typeFinder struct {
	finder   TypeFinder
	priority int
}

type serviceContainer struct {
	// mu is re-entrant: factories and callbacks resolve services while the
	// outer call still holds it.
	mu dsync.Mutex

	logger    *zap.Logger
	describer Describer
	env       map[string]string
	envFiles  []string

	bindings         map[string]*BindData
	instances        map[string]any
	instancesReverse map[identity]string
	aliases          map[string]string
	aliasesReverse   map[string][]string
	tags             map[string][]string
	extenders        map[string][]Extender
	globalExtenders  []Extender
	rebound          map[string][]ReboundFunc
	resolved         map[string]struct{}
	pendingRebound   map[string]struct{}

	resolving      []Callback
	afterResolving []Callback
	release        []Callback

	findType      []typeFinder
	findTypeCache *xsync.MapOf[string, reflect.Type]
	knownTypes    map[string]reflect.Type

	instanceTiming map[string]int
	instanceID     int

	buildStack      stack[string]
	userParamsStack stack[[]any]

	methods  *methodContainer
	flushing bool
}

func NewContainer(opts ...Option) Container { return newContainer(opts...) }

func newContainer(opts ...Option) *serviceContainer {
	c := &serviceContainer{
		logger:    zap.NewNop(),
		describer: NewStructDescriber(),
	}
	c.reset()

	for _, opt := range opts {
		opt(c)
	}

	c.loadEnvFiles(c.envFiles...)

	return c
}

// reset empties every registry. Type finders registered through options
// survive only until the first Flush.
func (c *serviceContainer) reset() {
	c.bindings = make(map[string]*BindData)
	c.instances = make(map[string]any)
	c.instancesReverse = make(map[identity]string)
	c.aliases = make(map[string]string)
	c.aliasesReverse = make(map[string][]string)
	c.tags = make(map[string][]string)
	c.extenders = make(map[string][]Extender)
	c.globalExtenders = nil
	c.rebound = make(map[string][]ReboundFunc)
	c.resolved = make(map[string]struct{})
	c.pendingRebound = make(map[string]struct{})
	c.resolving, c.afterResolving, c.release = nil, nil, nil
	c.findType = nil
	c.findTypeCache = xsync.NewMapOf[string, reflect.Type]()
	c.knownTypes = make(map[string]reflect.Type)
	c.instanceTiming = make(map[string]int)
	c.instanceID = 0
	c.buildStack, c.userParamsStack = nil, nil

	if c.methods == nil {
		c.methods = newMethodContainer(c)
	} else {
		c.methods.flush()
	}
}

func (c *serviceContainer) guardFlushing() error {
	if c.flushing {
		return ErrFlushing
	}

	return nil
}

func (c *serviceContainer) Bind(service string, concrete any, isStatic bool) (*BindData, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.bind(service, concrete, isStatic)
}

func (c *serviceContainer) bind(service string, concrete any, isStatic bool) (*BindData, error) {
	if err := c.guardFlushing(); err != nil {
		return nil, err
	}

	service = formatService(service)
	if err := checkName(service); err != nil {
		return nil, errors.Wrapf(err, "bind [%s]", service)
	}

	if _, ok := c.bindings[service]; ok {
		return nil, errors.Wrapf(ErrAlreadyBound, "bind [%s]", service)
	}

	if _, ok := c.instances[service]; ok {
		return nil, errors.Wrapf(ErrAlreadyBound, "bind [%s]: instance exists", service)
	}

	if _, ok := c.aliases[service]; ok {
		return nil, errors.Wrapf(ErrAliasExists, "bind [%s]: name is an alias", service)
	}

	bind := newBindData(c, service, nil, isStatic)

	factory, err := c.factoryOf(bind, concrete)
	if err != nil {
		return nil, err
	}

	bind.concrete = factory
	c.bindings[service] = bind
	c.logger.Debug("service bound", zap.String("service", service), zap.Bool("static", isStatic))

	if !c.isResolved(service) {
		return bind, nil
	}

	// Rebinding a service that was resolved before.
	if isStatic {
		if _, err = c.make(service, nil); err != nil {
			return bind, err
		}
	} else {
		c.pendingRebound[service] = struct{}{}
	}

	return bind, nil
}

// factoryOf turns the concrete accepted by Bind into a Factory.
func (c *serviceContainer) factoryOf(bind *BindData, concrete any) (Factory, error) {
	switch concrete := concrete.(type) {
	case nil:
		return nil, nil
	case Factory:
		return concrete, nil
	case func(Container, []any) (any, error):
		return concrete, nil
	case reflect.Type:
		if !constructible(concrete) {
			return nil, errors.Wrapf(ErrInvalidConcrete, "bind [%s]: %v is not a struct", bind.service, concrete)
		}

		return func(_ Container, params []any) (any, error) {
			return c.buildType(bind, concrete, params)
		}, nil
	case *Constructor:
		return func(_ Container, params []any) (any, error) {
			return c.construct(bind, concrete, params)
		}, nil
	}

	if reflect.TypeOf(concrete).Kind() != reflect.Func {
		return nil, errors.Wrapf(ErrInvalidConcrete, "bind [%s]: unsupported concrete %T", bind.service, concrete)
	}

	constructor, err := NewConstructor(concrete)
	if err != nil {
		return nil, errors.Wrapf(err, "bind [%s]", bind.service)
	}

	return func(_ Container, params []any) (any, error) {
		return c.construct(bind, constructor, params)
	}, nil
}

func (c *serviceContainer) BindIf(service string, concrete any, isStatic bool) (*BindData, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	service = formatService(service)

	if bind := c.getBind(service); bind != nil {
		return bind, false, nil
	}

	if c.hasInstance(service) || c.isAlias(service) {
		return nil, false, nil
	}

	bind, err := c.bind(service, concrete, isStatic)

	return bind, err == nil, err
}

func (c *serviceContainer) Unbind(service string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	bind := c.getBind(formatService(service))
	if bind == nil {
		return nil
	}

	return bind.Unbind()
}

// unbind drops bind, its aliases and its instance.
func (c *serviceContainer) unbind(bind *BindData) error {
	if err := c.guardFlushing(); err != nil {
		return err
	}

	c.releaseService(bind.service)

	for _, alias := range c.aliasesReverse[bind.service] {
		delete(c.aliases, alias)
	}

	delete(c.aliasesReverse, bind.service)
	delete(c.bindings, bind.service)
	c.logger.Debug("service unbound", zap.String("service", bind.service))

	return nil
}

func (c *serviceContainer) GetBind(service string) *BindData {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.getBind(formatService(service))
}

func (c *serviceContainer) getBind(service string) *BindData {
	return c.bindings[c.aliasToService(service)]
}

func (c *serviceContainer) HasBind(service string) bool { return c.GetBind(service) != nil }

func (c *serviceContainer) HasInstance(service string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.hasInstance(formatService(service))
}

func (c *serviceContainer) hasInstance(service string) bool {
	_, ok := c.instances[c.aliasToService(service)]
	return ok
}

func (c *serviceContainer) IsResolved(service string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.isResolved(formatService(service))
}

func (c *serviceContainer) isResolved(service string) bool {
	service = c.aliasToService(service)
	_, resolved := c.resolved[service]

	return resolved || c.hasInstance(service)
}

func (c *serviceContainer) IsStatic(service string) bool {
	bind := c.GetBind(service)
	return bind != nil && bind.isStatic
}

func (c *serviceContainer) IsAlias(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.isAlias(formatService(name))
}

func (c *serviceContainer) isAlias(name string) bool {
	_, ok := c.aliases[name]
	return ok
}

func (c *serviceContainer) CanMake(service string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.canMake(c.aliasToService(formatService(service)))
}

func (c *serviceContainer) canMake(service string) bool {
	if c.getBind(service) != nil || c.hasInstance(service) {
		return true
	}

	return !c.building(service) && c.speculatedType(service) != nil
}

func (c *serviceContainer) building(service string) bool {
	return c.buildStack.Contains(func(s string) bool { return s == service })
}

func (c *serviceContainer) aliasToService(name string) string {
	if service, ok := c.aliases[name]; ok {
		return service
	}

	return name
}

func (c *serviceContainer) Instance(service string, instance any) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.instance(service, instance)
}

func (c *serviceContainer) instance(service string, instance any) (any, error) {
	if err := c.guardFlushing(); err != nil {
		return nil, err
	}

	service = formatService(service)
	if err := checkName(service); err != nil {
		return nil, errors.Wrapf(err, "instance [%s]", service)
	}

	service = c.aliasToService(service)

	bind := c.bindings[service]
	if bind != nil && !bind.isStatic {
		return nil, errors.Wrapf(ErrNotStatic, "instance [%s]", service)
	}

	if bind == nil {
		bind = newBindData(c, service, nil, false)
	}

	c.triggerResolving(bind, instance)

	id, tracked := identityOf(instance)
	if tracked {
		if owner, ok := c.instancesReverse[id]; ok && owner != service {
			return nil, errors.Wrapf(ErrInstanceBound, "instance [%s] is already bound to [%s]", service, owner)
		}
	}

	isResolved := c.isResolved(service)
	c.releaseService(service)

	c.instances[service] = instance
	if tracked {
		c.instancesReverse[id] = service
	}

	if _, ok := c.instanceTiming[service]; !ok {
		c.instanceTiming[service] = c.instanceID
		c.instanceID++
	}

	c.logger.Debug("instance stored", zap.String("service", service))

	if isResolved {
		if err := c.triggerRebound(service, instance); err != nil {
			return instance, err
		}
	}

	return instance, nil
}

func (c *serviceContainer) Release(serviceOrInstance any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if name, ok := serviceOrInstance.(string); ok {
		if c.releaseService(c.aliasToService(formatService(name))) {
			return true
		}
	}

	id, ok := identityOf(serviceOrInstance)
	if !ok {
		return false
	}

	service, ok := c.instancesReverse[id]

	return ok && c.releaseService(service)
}

func (c *serviceContainer) releaseService(service string) bool {
	instance, ok := c.instances[service]
	if !ok {
		return false
	}

	bind := c.bindings[service]
	if bind == nil {
		bind = newBindData(c, service, nil, false)
	}

	// The instance is gone before callbacks run, so a callback releasing or
	// unbinding the same service finds nothing left to release.
	if id, ok := identityOf(instance); ok && c.instancesReverse[id] == service {
		delete(c.instancesReverse, id)
	}

	delete(c.instances, service)

	if len(c.rebound[service]) == 0 {
		delete(c.instanceTiming, service)
	}

	bind.triggerRelease(instance)

	for _, callback := range c.release {
		callback(bind, instance)
	}

	if destructible, ok := instance.(Destructible); ok {
		destructible.Destructor()
	}

	c.logger.Debug("instance released", zap.String("service", service))

	return true
}

func (c *serviceContainer) Alias(alias, service string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.alias(alias, service)
}

func (c *serviceContainer) alias(alias, service string) error {
	if err := c.guardFlushing(); err != nil {
		return err
	}

	alias, service = formatService(alias), formatService(service)

	if err := checkName(alias); err != nil {
		return errors.Wrapf(err, "alias [%s]", alias)
	}

	if err := checkName(service); err != nil {
		return errors.Wrapf(err, "alias [%s] of [%s]", alias, service)
	}

	service = c.aliasToService(service)

	if alias == service {
		return errors.Wrapf(ErrAliasExists, "alias [%s] is the service itself", alias)
	}

	if _, ok := c.aliases[alias]; ok {
		return errors.Wrapf(ErrAliasExists, "alias [%s] already exists", alias)
	}

	if _, ok := c.bindings[alias]; ok {
		return errors.Wrapf(ErrAliasExists, "alias [%s] is a bound service", alias)
	}

	if _, ok := c.instances[alias]; ok {
		return errors.Wrapf(ErrAliasExists, "alias [%s] is an instanced service", alias)
	}

	if _, ok := c.bindings[service]; !ok && !c.hasInstance(service) {
		return errors.Wrapf(ErrNotResolvable, "alias [%s]: bind or instance [%s] first", alias, service)
	}

	c.aliases[alias] = service
	c.aliasesReverse[service] = append(c.aliasesReverse[service], alias)

	return nil
}

func (c *serviceContainer) Tag(tag string, services ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.tag(tag, services...)
}

func (c *serviceContainer) tag(tag string, services ...string) error {
	if err := c.guardFlushing(); err != nil {
		return err
	}

	tag = formatService(tag)
	if tag == "" {
		return errors.Wrap(ErrEmptyName, "tag")
	}

	for _, service := range services {
		if service = formatService(service); service == "" {
			return errors.Wrapf(ErrEmptyName, "service tagged [%s]", tag)
		}

		c.tags[tag] = append(c.tags[tag], service)
	}

	return nil
}

func (c *serviceContainer) Tagged(tag string) ([]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.tagged(tag)
}

func (c *serviceContainer) tagged(tag string) ([]any, error) {
	services, ok := c.tags[formatService(tag)]
	if !ok {
		return nil, errors.Wrapf(ErrTagNotFound, "tag [%s]", tag)
	}

	instances := make([]any, 0, len(services))
	for _, service := range services {
		instance, err := c.make(service, nil)
		if err != nil {
			return nil, err
		}

		instances = append(instances, instance)
	}

	return instances, nil
}

func (c *serviceContainer) Extend(service string, extender Extender) error {
	if extender == nil {
		return errors.Wrapf(ErrNilCallback, "extend [%s]", service)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.guardFlushing(); err != nil {
		return err
	}

	if service = formatService(service); service == "" {
		c.globalExtenders = append(c.globalExtenders, extender)
		return nil
	}

	service = c.aliasToService(service)

	instance, ok := c.instances[service]
	if !ok {
		c.extenders[service] = append(c.extenders[service], extender)
		return nil
	}

	extended, err := extender(instance, c)
	if err != nil {
		return newBuildError(service, c.buildStack, err)
	}

	if id, ok := identityOf(instance); ok && c.instancesReverse[id] == service {
		delete(c.instancesReverse, id)
	}

	c.instances[service] = extended
	if id, ok := identityOf(extended); ok {
		c.instancesReverse[id] = service
	}

	return c.triggerRebound(service, extended)
}

func (c *serviceContainer) OnResolving(callback Callback) error {
	return c.addCallback(&c.resolving, callback)
}

func (c *serviceContainer) OnAfterResolving(callback Callback) error {
	return c.addCallback(&c.afterResolving, callback)
}

func (c *serviceContainer) OnRelease(callback Callback) error {
	return c.addCallback(&c.release, callback)
}

func (c *serviceContainer) addCallback(list *[]Callback, callback Callback) error {
	if callback == nil {
		return ErrNilCallback
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.guardFlushing(); err != nil {
		return err
	}

	*list = append(*list, callback)

	return nil
}

func (c *serviceContainer) OnRebound(service string, callback ReboundFunc) error {
	if callback == nil {
		return errors.Wrapf(ErrNilCallback, "rebound [%s]", service)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.guardFlushing(); err != nil {
		return err
	}

	service = c.aliasToService(formatService(service))
	if !c.isResolved(service) && !c.canMake(service) {
		return errors.Wrapf(ErrNotResolvable, "rebound [%s]: bind or instance it first", service)
	}

	c.rebound[service] = append(c.rebound[service], callback)

	return nil
}

// triggerRebound notifies the watchers of service. Watchers of a non-static
// service after the first one receive a freshly built instance each.
func (c *serviceContainer) triggerRebound(service string, instance any) error {
	callbacks := c.rebound[service]
	if len(callbacks) == 0 {
		return nil
	}

	bind := c.bindings[service]
	c.logger.Debug("service rebound", zap.String("service", service), zap.Int("watchers", len(callbacks)))

	for i, callback := range callbacks {
		if i > 0 && (bind == nil || !bind.isStatic) {
			var err error
			if instance, err = c.make(service, nil); err != nil {
				return err
			}
		}

		callback(instance)
	}

	return nil
}

func (c *serviceContainer) OnFindType(finder TypeFinder, priority int) error {
	if finder == nil {
		return errors.Wrap(ErrNilCallback, "type finder")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.guardFlushing(); err != nil {
		return err
	}

	c.addFinder(finder, priority)

	return nil
}

// addFinder inserts finder after every finder of lower or equal priority.
func (c *serviceContainer) addFinder(finder TypeFinder, priority int) {
	i := sort.Search(len(c.findType), func(i int) bool { return c.findType[i].priority > priority })

	c.findType = append(c.findType, typeFinder{})
	copy(c.findType[i+1:], c.findType[i:])
	c.findType[i] = typeFinder{finder: finder, priority: priority}

	c.findTypeCache.Clear()
}

// speculatedType asks the finders for the type of service, falling back to
// the types met while resolving dependencies.
func (c *serviceContainer) speculatedType(service string) reflect.Type {
	if t, ok := c.findTypeCache.Load(service); ok {
		return t
	}

	var found reflect.Type
	for _, f := range c.findType {
		if found = f.finder(service); found != nil {
			break
		}
	}

	if found == nil {
		found = c.knownTypes[service]
	}

	c.findTypeCache.Store(service, found)

	return found
}

// autowire remembers t as the type of service when nothing else builds it.
func (c *serviceContainer) autowire(service string, t reflect.Type) {
	if !constructible(t) || c.canMake(service) {
		return
	}

	c.knownTypes[service] = t
	c.findTypeCache.Delete(service)
}

func (c *serviceContainer) BuildStack() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]string(nil), c.buildStack...)
}

func (c *serviceContainer) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.guardFlushing(); err != nil {
		return err
	}

	c.flushing = true
	defer func() { c.flushing = false }()

	services := make([]string, 0, len(c.instances))
	for service := range c.instances {
		services = append(services, service)
	}

	sort.SliceStable(services, func(i, j int) bool {
		return c.instanceTiming[services[i]] < c.instanceTiming[services[j]]
	})

	for _, service := range services {
		c.releaseService(service)
	}

	c.logger.Debug("container flushed", zap.Int("released", len(services)))
	c.reset()

	return nil
}
