package di

import (
	"reflect"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/suite"
)

type Counter struct {
	n         int
	destroyed bool
}

func (c *Counter) Destructor() { c.destroyed = true }

type Gadget struct {
	id int
}

type Widget struct {
	gadget *Gadget
}

func NewWidget(g *Gadget) *Widget { return &Widget{gadget: g} }

type ContainerTestSuite struct {
	suite.Suite
	container Container
}

func (s *ContainerTestSuite) SetupTest() {
	s.container = NewContainer()
}

func (s *ContainerTestSuite) counterFactory(calls *int) func(Container, []any) (any, error) {
	return func(Container, []any) (any, error) {
		*calls++
		return &Counter{n: *calls}, nil
	}
}

func (s *ContainerTestSuite) TestNonStaticMakeBuildsEveryTime() {
	var calls int
	_, err := s.container.Bind("counter", s.counterFactory(&calls), false)
	s.Require().NoError(err)

	first, err := s.container.Make("counter")
	s.Require().NoError(err)
	second, err := s.container.Make("counter")
	s.Require().NoError(err)

	s.NotSame(first, second)
	s.Equal(2, calls)
	s.False(s.container.HasInstance("counter"))
	s.True(s.container.IsResolved("counter"))
}

func (s *ContainerTestSuite) TestStaticMakeBuildsOnce() {
	var calls int
	_, err := s.container.Bind("counter", s.counterFactory(&calls), true)
	s.Require().NoError(err)

	first, err := s.container.Make("counter")
	s.Require().NoError(err)
	second, err := s.container.Make("counter")
	s.Require().NoError(err)

	s.Same(first, second)
	s.Equal(1, calls)
	s.True(s.container.IsStatic("counter"))
}

func (s *ContainerTestSuite) TestReleaseRebuildsStatic() {
	var calls int
	_, err := s.container.Bind("counter", s.counterFactory(&calls), true)
	s.Require().NoError(err)

	first, err := s.container.Make("counter")
	s.Require().NoError(err)
	second, err := s.container.Make("counter")
	s.Require().NoError(err)
	s.Same(first, second)

	s.True(s.container.Release("counter"))
	s.True(first.(*Counter).destroyed)
	s.False(s.container.Release("counter"))

	third, err := s.container.Make("counter")
	s.Require().NoError(err)
	s.NotSame(first, third)
	s.Equal(2, calls)

	s.True(s.container.Release(third))
	s.False(s.container.HasInstance("counter"))
}

func (s *ContainerTestSuite) TestAlias() {
	static, err := s.container.Bind("static", s.counterFactory(new(int)), true)
	s.Require().NoError(err)
	s.Require().NoError(s.container.Alias("s", "static"))

	viaAlias, err := s.container.Make("s")
	s.Require().NoError(err)
	direct, err := s.container.Make("static")
	s.Require().NoError(err)
	s.Same(direct, viaAlias)
	s.Same(static, s.container.GetBind("s"))

	dynamic, err := s.container.Bind("dynamic", s.counterFactory(new(int)), false)
	s.Require().NoError(err)
	s.Require().NoError(dynamic.Alias("d"))

	viaAlias, err = s.container.Make("d")
	s.Require().NoError(err)
	direct, err = s.container.Make("dynamic")
	s.Require().NoError(err)
	s.NotSame(direct, viaAlias)
	s.Same(s.container.GetBind("dynamic"), s.container.GetBind("d"))
	s.True(s.container.IsAlias("d"))
}

func (s *ContainerTestSuite) TestAliasOfAliasStoresTarget() {
	bind, err := s.container.Bind("service", nil, false)
	s.Require().NoError(err)
	s.Require().NoError(s.container.Alias("a1", "service"))
	s.Require().NoError(s.container.Alias("a2", "a1"))

	s.Same(bind, s.container.GetBind("a2"))
	s.Equal("service", s.container.(*serviceContainer).aliases["a2"])
}

func (s *ContainerTestSuite) TestAliasErrors() {
	_, err := s.container.Bind("service", nil, false)
	s.Require().NoError(err)

	s.ErrorIs(s.container.Alias("unknown", "missing"), ErrNotResolvable)
	s.ErrorIs(s.container.Alias("service", "service"), ErrAliasExists)
	s.Require().NoError(s.container.Alias("alias", "service"))
	s.ErrorIs(s.container.Alias("alias", "service"), ErrAliasExists)
	s.ErrorIs(s.container.Alias("", "service"), ErrEmptyName)
	s.ErrorIs(s.container.Alias("a:b", "service"), ErrArgument)
}

func (s *ContainerTestSuite) TestBindConflictsMutateNothing() {
	first, err := s.container.Bind("service", nil, false)
	s.Require().NoError(err)

	_, err = s.container.Bind("service", nil, true)
	s.ErrorIs(err, ErrAlreadyBound)
	s.ErrorIs(err, ErrLogic)
	s.Same(first, s.container.GetBind("service"))
	s.False(s.container.IsStatic("service"))

	_, err = s.container.Instance("instanced", &Counter{})
	s.Require().NoError(err)
	_, err = s.container.Bind("instanced", nil, true)
	s.ErrorIs(err, ErrAlreadyBound)
	s.False(s.container.HasBind("instanced"))

	s.Require().NoError(s.container.Alias("alias", "service"))
	_, err = s.container.Bind("alias", nil, false)
	s.ErrorIs(err, ErrAliasExists)
	s.ErrorIs(err, ErrLogic)
	s.Same(first, s.container.GetBind("alias"))
}

func (s *ContainerTestSuite) TestBindArguments() {
	_, err := s.container.Bind("  ", nil, false)
	s.ErrorIs(err, ErrEmptyName)
	s.ErrorIs(err, ErrArgument)

	for _, name := range []string{"a@b", "a:b", "$a"} {
		_, err = s.container.Bind(name, nil, false)
		s.ErrorIs(err, ErrBannedChars, name)
	}

	_, err = s.container.Bind("number", 42, false)
	s.ErrorIs(err, ErrInvalidConcrete)

	_, err = s.container.Bind("int", reflect.TypeFor[int](), false)
	s.ErrorIs(err, ErrInvalidConcrete)

	bind, err := s.container.Bind(" trimmed ", nil, false)
	s.Require().NoError(err)
	s.Equal("trimmed", bind.Service())
	s.True(s.container.HasBind("trimmed"))
}

func (s *ContainerTestSuite) TestBindIf() {
	bind, ok, err := s.container.BindIf("service", nil, false)
	s.Require().NoError(err)
	s.True(ok)

	again, ok, err := s.container.BindIf("service", nil, true)
	s.Require().NoError(err)
	s.False(ok)
	s.Same(bind, again)

	_, err = s.container.Instance("instanced", &Counter{})
	s.Require().NoError(err)

	none, ok, err := s.container.BindIf("instanced", nil, false)
	s.NoError(err)
	s.False(ok)
	s.Nil(none)
}

func (s *ContainerTestSuite) TestUnbind() {
	bind, err := s.container.Bind("greeting", func(Container, []any) (any, error) { return "hello", nil }, false)
	s.Require().NoError(err)
	s.Require().NoError(bind.Alias("hi"))

	s.Require().NoError(bind.Unbind())
	s.NoError(bind.Unbind())
	s.True(bind.IsDestroyed())
	s.False(s.container.HasBind("greeting"))
	s.False(s.container.IsAlias("hi"))

	_, err = s.container.Make("greeting")
	s.ErrorIs(err, ErrUnresolvable)

	s.ErrorIs(bind.Alias("other"), ErrDestroyed)
	s.ErrorIs(bind.Tag("tag"), ErrDestroyed)
	s.ErrorIs(bind.OnResolving(func(*BindData, any) {}), ErrDestroyed)
	s.ErrorIs(bind.Needs("x").Given("y"), ErrDestroyed)

	s.NoError(s.container.Unbind("never-bound"))
}

func (s *ContainerTestSuite) TestUnbindReleasesInstance() {
	_, err := s.container.Bind("counter", s.counterFactory(new(int)), true)
	s.Require().NoError(err)

	instance, err := s.container.Make("counter")
	s.Require().NoError(err)

	s.Require().NoError(s.container.Unbind("counter"))
	s.True(instance.(*Counter).destroyed)
	s.False(s.container.HasInstance("counter"))
}

func (s *ContainerTestSuite) TestWriteOnceContextual() {
	bind, err := s.container.Bind("service", nil, false)
	s.Require().NoError(err)

	s.Require().NoError(bind.Needs("x").Given("y"))
	s.ErrorIs(bind.Needs("x").Given("z"), ErrContextualExists)
	s.ErrorIs(bind.Needs("x").GivenFunc(func() (any, error) { return nil, nil }), ErrContextualExists)

	s.Require().NoError(bind.Needs("$p").GivenFunc(func() (any, error) { return 1, nil }))
	s.ErrorIs(bind.Needs("$p").Given("z"), ErrLogic)

	s.ErrorIs(bind.Needs("").Given("z"), ErrEmptyName)
	s.ErrorIs(bind.Needs("w").Given(""), ErrEmptyName)
	s.ErrorIs(bind.Needs("w").GivenFunc(nil), ErrNilCallback)
}

func (s *ContainerTestSuite) TestOnRelease() {
	bind, err := s.container.Bind("counter", s.counterFactory(new(int)), true)
	s.Require().NoError(err)

	var released []any
	s.Require().NoError(bind.OnRelease(func(_ *BindData, instance any) { released = append(released, instance) }))

	first, err := s.container.Make("counter")
	s.Require().NoError(err)
	s.True(s.container.Release("counter"))
	s.Require().Len(released, 1)
	s.Same(first, released[0])

	second, err := s.container.Make("counter")
	s.Require().NoError(err)
	s.True(s.container.Release("counter"))
	s.Require().Len(released, 2)
	s.Same(second, released[1])

	dynamic, err := s.container.Bind("dynamic", nil, false)
	s.Require().NoError(err)
	s.ErrorIs(dynamic.OnRelease(func(*BindData, any) {}), ErrNotStatic)
}

func (s *ContainerTestSuite) TestReleaseCallbackReentersRelease() {
	bind, err := s.container.Bind("counter", s.counterFactory(new(int)), true)
	s.Require().NoError(err)

	var calls int
	s.Require().NoError(bind.OnRelease(func(b *BindData, _ any) {
		calls++
		s.False(s.container.HasInstance("counter"))
		s.False(s.container.Release("counter"))
		s.NoError(b.Unbind())
	}))

	instance, err := s.container.Make("counter")
	s.Require().NoError(err)

	s.True(s.container.Release("counter"))
	s.Equal(1, calls)
	s.True(instance.(*Counter).destroyed)
	s.True(bind.IsDestroyed())
	s.False(s.container.HasBind("counter"))
}

func (s *ContainerTestSuite) TestUnbindFromReleaseCallback() {
	bind, err := s.container.Bind("counter", s.counterFactory(new(int)), true)
	s.Require().NoError(err)

	var calls int
	s.Require().NoError(bind.OnRelease(func(b *BindData, _ any) {
		calls++
		s.NoError(b.Unbind())
	}))

	_, err = s.container.Make("counter")
	s.Require().NoError(err)

	s.Require().NoError(bind.Unbind())
	s.Equal(1, calls)
	s.False(s.container.HasBind("counter"))
	s.False(s.container.HasInstance("counter"))
}

func (s *ContainerTestSuite) TestFlushReleasesInBuildOrder() {
	var released []string
	s.Require().NoError(s.container.OnRelease(func(bind *BindData, _ any) {
		released = append(released, bind.Service())

		_, err := s.container.Bind("late", nil, false)
		s.ErrorIs(err, ErrFlushing)
	}))

	for _, name := range []string{"a", "b", "c"} {
		_, err := s.container.Bind(name, s.counterFactory(new(int)), true)
		s.Require().NoError(err)
	}

	var built []any
	for _, name := range []string{"b", "c", "a"} {
		instance, err := s.container.Make(name)
		s.Require().NoError(err)
		built = append(built, instance)
	}

	s.Require().NoError(s.container.Flush())
	s.Equal([]string{"b", "c", "a"}, released)

	for _, instance := range built {
		s.True(instance.(*Counter).destroyed)
	}

	for _, name := range []string{"a", "b", "c"} {
		_, err := s.container.Make(name)
		s.ErrorIs(err, ErrUnresolvable, name)
		s.False(s.container.HasBind(name))
	}

	// Global callbacks are gone too.
	_, err := s.container.Instance("d", &Counter{})
	s.Require().NoError(err)
	s.True(s.container.Release("d"))
	s.Len(released, 3)
}

func (s *ContainerTestSuite) TestGreetingTag() {
	_, err := s.container.Bind("greeting", func(Container, []any) (any, error) { return "hello", nil }, false)
	s.Require().NoError(err)

	greeting, err := s.container.Make("greeting")
	s.Require().NoError(err)
	s.Equal("hello", greeting)

	s.Require().NoError(s.container.Tag("greetings", "greeting"))

	tagged, err := s.container.Tagged("greetings")
	s.Require().NoError(err)
	s.Equal([]any{"hello"}, tagged)

	_, err = s.container.Tagged("farewells")
	s.ErrorIs(err, ErrTagNotFound)
	s.ErrorIs(s.container.Tag("", "greeting"), ErrEmptyName)
}

func (s *ContainerTestSuite) TestWidgetGetsFreshGadget() {
	_, err := s.container.Bind(TypeNameOf[*Widget](), NewWidget, false)
	s.Require().NoError(err)
	_, err = s.container.Bind(TypeNameOf[*Gadget](), reflect.TypeFor[*Gadget](), false)
	s.Require().NoError(err)

	first, err := MakeOf[*Widget](s.container)
	s.Require().NoError(err)
	second, err := MakeOf[*Widget](s.container)
	s.Require().NoError(err)

	s.NotNil(first.gadget)
	s.NotNil(second.gadget)
	s.NotSame(first.gadget, second.gadget)
}

func (s *ContainerTestSuite) TestInstance() {
	counter := &Counter{}

	stored, err := s.container.Instance("counter", counter)
	s.Require().NoError(err)
	s.Same(counter, stored)

	made, err := s.container.Make("counter")
	s.Require().NoError(err)
	s.Same(counter, made)

	_, err = s.container.Instance("other", counter)
	s.ErrorIs(err, ErrInstanceBound)

	// Plain values are not tracked by identity.
	_, err = s.container.Instance("one", 1)
	s.Require().NoError(err)
	_, err = s.container.Instance("uno", 1)
	s.NoError(err)

	_, err = s.container.Bind("dynamic", nil, false)
	s.Require().NoError(err)
	_, err = s.container.Instance("dynamic", &Counter{})
	s.ErrorIs(err, ErrNotStatic)

	replacement := &Counter{}
	_, err = s.container.Instance("counter", replacement)
	s.Require().NoError(err)
	s.True(counter.destroyed)

	_, err = s.container.Instance("other", counter)
	s.NoError(err)
}

func (s *ContainerTestSuite) TestNilInstance() {
	_, err := s.container.Instance("nothing", nil)
	s.Require().NoError(err)
	s.True(s.container.HasInstance("nothing"))

	made, err := s.container.Make("nothing")
	s.NoError(err)
	s.Nil(made)
}

func (s *ContainerTestSuite) TestExtend() {
	_, err := s.container.Bind("greeting", func(Container, []any) (any, error) { return "hello", nil }, false)
	s.Require().NoError(err)

	s.Require().NoError(s.container.Extend("greeting", func(instance any, _ Container) (any, error) {
		return instance.(string) + " world", nil
	}))

	var global int
	s.Require().NoError(s.container.Extend("", func(instance any, _ Container) (any, error) {
		global++
		return instance, nil
	}))

	greeting, err := s.container.Make("greeting")
	s.Require().NoError(err)
	s.Equal("hello world", greeting)
	s.Equal(1, global)

	s.ErrorIs(s.container.Extend("greeting", nil), ErrNilCallback)
}

func (s *ContainerTestSuite) TestExtendLiveInstance() {
	_, err := s.container.Instance("counter", &Counter{n: 1})
	s.Require().NoError(err)

	var rebound []any
	s.Require().NoError(s.container.OnRebound("counter", func(instance any) { rebound = append(rebound, instance) }))

	extended := &Counter{n: 2}
	s.Require().NoError(s.container.Extend("counter", func(any, Container) (any, error) { return extended, nil }))

	made, err := s.container.Make("counter")
	s.Require().NoError(err)
	s.Same(extended, made)
	s.Equal([]any{extended}, rebound)
	s.True(s.container.Release(extended))
}

func (s *ContainerTestSuite) TestExtenderError() {
	_, err := s.container.Bind("greeting", func(Container, []any) (any, error) { return "hello", nil }, false)
	s.Require().NoError(err)
	s.Require().NoError(s.container.Extend("greeting", func(any, Container) (any, error) {
		return nil, errors.New("boom")
	}))

	_, err = s.container.Make("greeting")
	var buildErr *BuildError
	s.Require().ErrorAs(err, &buildErr)
	s.Equal("greeting", buildErr.Service)
	s.ErrorIs(err, ErrUnresolvable)
}

func (s *ContainerTestSuite) TestCallbackOrder() {
	var order []string
	record := func(name string) Callback {
		return func(*BindData, any) { order = append(order, name) }
	}

	bind, err := s.container.Bind("greeting", func(Container, []any) (any, error) { return "hello", nil }, false)
	s.Require().NoError(err)

	s.Require().NoError(s.container.OnAfterResolving(record("global after")))
	s.Require().NoError(s.container.OnResolving(record("global resolving")))
	s.Require().NoError(bind.OnAfterResolving(record("bind after")))
	s.Require().NoError(bind.OnResolving(record("bind resolving")))

	_, err = s.container.Make("greeting")
	s.Require().NoError(err)
	s.Equal([]string{"bind resolving", "global resolving", "bind after", "global after"}, order)

	s.ErrorIs(s.container.OnResolving(nil), ErrNilCallback)
	s.ErrorIs(bind.OnResolving(nil), ErrNilCallback)
}

func (s *ContainerTestSuite) TestNonStaticReboundFanOut() {
	var calls int
	factory := s.counterFactory(&calls)

	bind, err := s.container.Bind("counter", factory, false)
	s.Require().NoError(err)
	_, err = s.container.Make("counter")
	s.Require().NoError(err)

	var rebound []any
	watcher := func(instance any) { rebound = append(rebound, instance) }
	s.Require().NoError(s.container.OnRebound("counter", watcher))
	s.Require().NoError(s.container.OnRebound("counter", watcher))

	s.Require().NoError(bind.Unbind())
	_, err = s.container.Bind("counter", factory, false)
	s.Require().NoError(err)
	s.Empty(rebound)

	made, err := s.container.Make("counter")
	s.Require().NoError(err)

	s.Require().Len(rebound, 2)
	s.Same(made, rebound[0])
	s.NotSame(rebound[0], rebound[1])
	s.Equal(3, calls)
}

func (s *ContainerTestSuite) TestStaticReboundSharesInstance() {
	bind, err := s.container.Bind("counter", s.counterFactory(new(int)), true)
	s.Require().NoError(err)
	_, err = s.container.Make("counter")
	s.Require().NoError(err)

	var rebound []any
	watcher := func(instance any) { rebound = append(rebound, instance) }
	s.Require().NoError(s.container.OnRebound("counter", watcher))
	s.Require().NoError(s.container.OnRebound("counter", watcher))

	s.Require().NoError(bind.Unbind())
	_, err = s.container.Bind("counter", s.counterFactory(new(int)), true)
	s.Require().NoError(err)

	s.Require().Len(rebound, 2)
	s.Same(rebound[0], rebound[1])

	made, err := s.container.Make("counter")
	s.Require().NoError(err)
	s.Same(made, rebound[0])
}

func (s *ContainerTestSuite) TestOnReboundRequiresResolvable() {
	s.ErrorIs(s.container.OnRebound("missing", func(any) {}), ErrNotResolvable)
	s.ErrorIs(s.container.OnRebound("missing", nil), ErrNilCallback)

	_, err := s.container.Bind("service", nil, false)
	s.Require().NoError(err)
	s.NoError(s.container.OnRebound("service", func(any) {}))
}

func (s *ContainerTestSuite) TestNestedMakeReentersLock() {
	_, err := s.container.Bind("greeting", func(Container, []any) (any, error) { return "hello", nil }, false)
	s.Require().NoError(err)

	var stack []string
	_, err = s.container.Bind("outer", func(c Container, _ []any) (any, error) {
		stack = c.BuildStack()
		return c.Make("greeting")
	}, false)
	s.Require().NoError(err)

	outer, err := s.container.Make("outer")
	s.Require().NoError(err)
	s.Equal("hello", outer)
	s.Equal([]string{"outer"}, stack)
	s.Empty(s.container.BuildStack())
}

func (s *ContainerTestSuite) TestConcurrentStaticMake() {
	var calls atomic.Int32
	_, err := s.container.Bind("counter", func(Container, []any) (any, error) {
		calls.Add(1)
		return &Counter{}, nil
	}, true)
	s.Require().NoError(err)

	const workers = 16
	results := make([]any, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = s.container.Make("counter")
		}(i)
	}
	wg.Wait()

	s.Equal(int32(1), calls.Load())
	for _, result := range results {
		s.Same(results[0], result)
	}
}

func (s *ContainerTestSuite) TestTypeFinders() {
	_, err := s.container.Make("thing")
	s.ErrorIs(err, ErrNoConcrete)
	s.False(s.container.CanMake("thing"))

	s.Require().NoError(s.container.OnFindType(func(service string) reflect.Type {
		if service == "thing" {
			return reflect.TypeFor[*Widget]()
		}

		return nil
	}, 10))
	s.Require().NoError(s.container.OnFindType(func(service string) reflect.Type {
		if service == "thing" {
			return reflect.TypeFor[*Gadget]()
		}

		return nil
	}, 1))

	s.True(s.container.CanMake("thing"))

	thing, err := s.container.Make("thing")
	s.Require().NoError(err)
	s.IsType(&Gadget{}, thing)

	s.ErrorIs(s.container.OnFindType(nil, 0), ErrNilCallback)
}

func (s *ContainerTestSuite) TestBuildError() {
	_, err := s.container.Bind("broken", func(Container, []any) (any, error) { return nil, errors.New("boom") }, false)
	s.Require().NoError(err)

	_, err = s.container.Make("broken")

	var buildErr *BuildError
	s.Require().ErrorAs(err, &buildErr)
	s.Equal("broken", buildErr.Service)
	s.Equal([]string{"broken"}, buildErr.Stack)
	s.ErrorIs(err, ErrUnresolvable)
	s.NotErrorIs(err, ErrLogic)
	s.Contains(err.Error(), "boom")
}

func (s *ContainerTestSuite) TestResolveHelpers() {
	_, err := s.container.Bind("greeting", func(Container, []any) (any, error) { return "hello", nil }, false)
	s.Require().NoError(err)

	greeting, err := Resolve[string](s.container, "greeting")
	s.Require().NoError(err)
	s.Equal("hello", greeting)

	_, err = Resolve[int](s.container, "greeting")
	s.ErrorIs(err, ErrTypeMismatch)

	s.Same(s.container, MustMake[Container](s.container))

	factory := s.container.Factory("greeting")
	made, err := factory()
	s.Require().NoError(err)
	s.Equal("hello", made)

	_, err = s.container.Make("")
	s.ErrorIs(err, ErrEmptyName)
}

func TestContainer(t *testing.T) { suite.Run(t, new(ContainerTestSuite)) }

func BenchmarkServiceContainer_MakeStatic(b *testing.B) {
	b.ReportAllocs()
	container := NewContainer()
	_, _ = container.Bind("counter", func(Container, []any) (any, error) { return &Counter{}, nil }, true)

	for i := 0; i < b.N; i++ {
		_, _ = container.Make("counter")
	}
}

func BenchmarkServiceContainer_MakeType(b *testing.B) {
	b.ReportAllocs()
	container := NewContainer()

	for i := 0; i < b.N; i++ {
		_, _ = MakeOf[*Gadget](container)
	}
}
