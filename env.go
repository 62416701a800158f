package di

import (
	"io"
	"os"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// loadEnv merges the dotenv formatted content of r into the container
// environment. Values already loaded are overwritten.
func (c *serviceContainer) loadEnv(r io.Reader) error {
	values, err := godotenv.Parse(r)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.mergeEnv(values)

	return nil
}

func (c *serviceContainer) loadEnvFiles(paths ...string) {
	for _, path := range paths {
		values, err := godotenv.Read(path)
		if err != nil {
			c.logger.Warn("env file skipped", zap.String("path", path), zap.Error(err))
			continue
		}

		c.mergeEnv(values)
	}
}

func (c *serviceContainer) mergeEnv(values map[string]string) {
	if c.env == nil {
		c.env = make(map[string]string, len(values))
	}

	for name, value := range values {
		c.env[name] = value
	}
}

// lookupEnv reads name from the loaded files first, then from the process.
func (c *serviceContainer) lookupEnv(name string) (string, bool) {
	if value, ok := c.env[name]; ok {
		return value, true
	}

	return os.LookupEnv(name)
}
