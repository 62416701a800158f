package di

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"

	"go.uber.org/zap"
)

func NewApplication(name string, opts ...Option) Runner {
	return &application{name: name, serviceContainer: newContainer(opts...)}
}

// application is a container running its static services until the context
// is done or the process is signalled.
type application struct {
	*serviceContainer

	name string
}

func (a *application) Name() string { return a.name }

// Run builds every static service, launches the Launchable ones and waits.
// Once ctx is done the Stoppable ones are shut down and the container is
// flushed.
func (a *application) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	services, err := a.boot()
	if err != nil {
		return err
	}

	a.logger.Info("application started", zap.String("name", a.name), zap.Int("services", len(services)))

	// Launchers are not waited for. Run returns once every Stoppable is shut down.
	for _, service := range services {
		if launchable, ok := service.(Launchable); ok {
			go a.launch(ctx, launchable)
		}
	}

	<-ctx.Done()

	shutdownCtx := context.WithoutCancel(ctx)

	var wg sync.WaitGroup

	for _, service := range services {
		if stoppable, ok := service.(Stoppable); ok {
			wg.Add(1)
			go func() {
				defer wg.Done()
				stoppable.Shutdown(shutdownCtx)
			}()
		}
	}

	wg.Wait()
	a.logger.Info("application stopped", zap.String("name", a.name))

	return a.Flush()
}

// boot makes the static bindings and returns every instance in build order.
func (a *application) boot() ([]any, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	static := make([]string, 0, len(a.bindings))
	for service, bind := range a.bindings {
		if bind.isStatic {
			static = append(static, service)
		}
	}

	sort.Strings(static)

	for _, service := range static {
		if _, err := a.make(service, nil); err != nil {
			return nil, err
		}
	}

	names := make([]string, 0, len(a.instances))
	for service := range a.instances {
		names = append(names, service)
	}

	sort.SliceStable(names, func(i, j int) bool {
		return a.instanceTiming[names[i]] < a.instanceTiming[names[j]]
	})

	services := make([]any, len(names))
	for i, service := range names {
		services[i] = a.instances[service]
	}

	return services, nil
}

// launch runs service, relaunching it after a panic while ctx is alive.
func (a *application) launch(ctx context.Context, service Launchable) {
	for a.tryLaunch(ctx, service) && ctx.Err() == nil {
		a.logger.Warn("relaunching service", zap.String("service", fmt.Sprintf("%T", service)))
	}
}

func (a *application) tryLaunch(ctx context.Context, service Launchable) (panicked bool) {
	defer func() {
		if err := recover(); err != nil {
			panicked = true
			a.logger.Error("service panicked",
				zap.String("service", fmt.Sprintf("%T", service)),
				zap.Any("panic", err),
			)
		}
	}()

	service.Launch(ctx)

	return false
}
