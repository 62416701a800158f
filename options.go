package di

import (
	"go.uber.org/zap"
)

type Option = func(*serviceContainer)

// WithLogger sets the logger of the container. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *serviceContainer) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithDescriber replaces the default StructDescriber.
func WithDescriber(describer Describer) Option {
	return func(c *serviceContainer) {
		if describer != nil {
			c.describer = describer
		}
	}
}

// WithConstructors registers constructors in the default StructDescriber.
func WithConstructors(constructors ...*Constructor) Option {
	return func(c *serviceContainer) {
		if d, ok := c.describer.(*StructDescriber); ok {
			d.Register(constructors...)
		}
	}
}

// WithEnv provides values for env tagged fields.
func WithEnv(values map[string]string) Option {
	return func(c *serviceContainer) { c.mergeEnv(values) }
}

// WithEnvFile loads dotenv files for env tagged fields. Unreadable files are
// logged and skipped.
func WithEnvFile(paths ...string) Option {
	return func(c *serviceContainer) { c.envFiles = append(c.envFiles, paths...) }
}

// WithTypeFinder registers a type finder, see Container.OnFindType.
func WithTypeFinder(finder TypeFinder, priority int) Option {
	return func(c *serviceContainer) {
		if finder != nil {
			c.addFinder(finder, priority)
		}
	}
}
