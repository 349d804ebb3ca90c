package transformer

import (
	"errors"
	"log/slog"
	"maps"

	"github.com/spf13/afero"
)

// Option configures a transform run.
type Option func(*Config) error

// WithPlugins appends plugins to the run.
func WithPlugins(plugins ...Plugin) Option {
	return func(c *Config) error {
		for _, p := range plugins {
			if p == nil {
				return NewConfigError("Plugins", nil, "plugin cannot be nil")
			}
		}
		c.Plugins = append(c.Plugins, plugins...)
		return nil
	}
}

// WithTransformParameters replaces the transform parameters.
func WithTransformParameters(p TransformParameters) Option {
	return func(c *Config) error {
		c.TransformParameters = p
		return nil
	}
}

// WithSandboxMode toggles sandbox authorization for resolvers without auth rules.
func WithSandboxMode(enabled bool) Option {
	return func(c *Config) error {
		c.TransformParameters.SandboxModeEnabled = enabled
		return nil
	}
}

// WithSecondaryKeyAsGSI forces every @index to be a global secondary index.
func WithSecondaryKeyAsGSI(enabled bool) Option {
	return func(c *Config) error {
		c.TransformParameters.SecondaryKeyAsGSI = enabled
		return nil
	}
}

// WithResolverConfig enables conflict detection and sync queries.
func WithResolverConfig(rc *ResolverConfig) Option {
	return func(c *Config) error {
		c.ResolverConfig = rc
		return nil
	}
}

// WithModelDataSource binds a model type to an engine.
func WithModelDataSource(typeName string, ds DatasourceType) Option {
	return func(c *Config) error {
		if typeName == "" {
			return NewConfigError("ModelToDatasourceMap", nil, "type name cannot be empty")
		}
		if c.ModelToDatasourceMap == nil {
			c.ModelToDatasourceMap = make(map[string]DatasourceType)
		}
		c.ModelToDatasourceMap[typeName] = ds
		return nil
	}
}

// WithSQLConnection configures the SQL lambda connection.
func WithSQLConnection(conn *SQLConnection) Option {
	return func(c *Config) error {
		if conn == nil {
			return NewConfigError("SQLConnection", nil, "connection cannot be nil")
		}
		c.SQLConnection = conn
		return nil
	}
}

// WithCustomQueries adds statements addressable by @sql(reference:).
func WithCustomQueries(queries map[string]string) Option {
	return func(c *Config) error {
		if c.CustomQueries == nil {
			c.CustomQueries = make(map[string]string)
		}
		maps.Copy(c.CustomQueries, queries)
		return nil
	}
}

// WithOverrideConfig sets where user overrides are read from.
func WithOverrideConfig(oc *OverrideConfig) Option {
	return func(c *Config) error {
		c.OverrideConfig = oc
		return nil
	}
}

// WithUserTemplates supplies override templates already read by the caller.
func WithUserTemplates(templates map[string]string) Option {
	return func(c *Config) error {
		c.UserTemplates = maps.Clone(templates)
		return nil
	}
}

// WithStackMapping moves resources into named stacks.
func WithStackMapping(mapping map[string]string) Option {
	return func(c *Config) error {
		if c.StackMapping == nil {
			c.StackMapping = make(map[string]string)
		}
		maps.Copy(c.StackMapping, mapping)
		return nil
	}
}

// WithSynthParameters sets the values baked into generated resources.
func WithSynthParameters(p SynthParameters) Option {
	return func(c *Config) error {
		c.SynthParameters = p
		return nil
	}
}

// WithAuthConfig sets the authorization modes of the API.
func WithAuthConfig(ac AuthConfig) Option {
	return func(c *Config) error {
		c.AuthConfig = ac
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) error {
		if l == nil {
			return NewConfigError("Logger", nil, "logger cannot be nil")
		}
		c.Logger = l
		return nil
	}
}

// WithFs sets the filesystem used to read overrides.
func WithFs(fs afero.Fs) Option {
	return func(c *Config) error {
		if fs == nil {
			return NewConfigError("Fs", nil, "filesystem cannot be nil")
		}
		c.Fs = fs
		return nil
	}
}

// WithHooks adds synthesis hooks.
func WithHooks(hooks ...Hook) Option {
	return func(c *Config) error {
		c.Hooks = append(c.Hooks, hooks...)
		return nil
	}
}

// Apply applies options to the config.
// It returns the first error encountered.
func (c *Config) Apply(opts ...Option) error {
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return err
		}
	}
	return nil
}

// ApplyAll applies options and collects all errors.
func (c *Config) ApplyAll(opts ...Option) error {
	var errs []error
	for _, opt := range opts {
		if err := opt(c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NewConfig creates a new Config with the given options and defaults.
func NewConfig(opts ...Option) (*Config, error) {
	c := &Config{}
	if err := c.Apply(opts...); err != nil {
		return nil, err
	}
	c.defaults()
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// MustNewConfig is like NewConfig but panics if any option fails.
func MustNewConfig(opts ...Option) *Config {
	c, err := NewConfig(opts...)
	if err != nil {
		panic(err)
	}
	return c
}
