// Package config resolves the settings of the gqltransform command from
// flags, environment variables, .env files and an optional settings file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/afero"
	"github.com/spf13/viper"

	"github.com/ShadowCat567/amplify-category-api/transformer"
)

// EnvPrefix prefixes every environment variable read by the command.
const EnvPrefix = "GQLTRANSFORM"

// Setting keys.
const (
	KeySchema        = "schema"
	KeyConfig        = "config"
	KeyOutDir        = "out"
	KeyFormat        = "format"
	KeyOverrides     = "overrides"
	KeySQLStatements = "sql-statements"
	KeyLogFormat     = "log-format"
	KeyLogLevel      = "log-level"
	KeyWorkers       = "workers"
)

// Settings are the resolved command settings.
type Settings struct {
	// Schema is a .graphql file or a directory of them.
	Schema string
	// Config is the transform configuration file. It is optional.
	Config        string
	OutDir        string
	Format        transformer.Format
	Overrides     string
	SQLStatements string
	LogFormat     string
	LogLevel      string
	Workers       int
}

// New returns a viper instance with the defaults and environment binding
// of the command. Flags are bound by the caller.
func New(fs afero.Fs) *viper.Viper {
	v := viper.New()
	v.SetFs(fs)
	v.SetConfigName(".gqltransform")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault(KeySchema, "schema.graphql")
	v.SetDefault(KeyOutDir, "build")
	v.SetDefault(KeyFormat, string(transformer.FormatJSON))
	v.SetDefault(KeyOverrides, "resolvers")
	v.SetDefault(KeySQLStatements, "sql-statements")
	v.SetDefault(KeyLogFormat, "text")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyWorkers, 0)
	return v
}

// LoadEnv loads .env and then .env.local from the working directory.
// Values already in the environment win over .env; .env.local overrides
// both.
func LoadEnv(fs afero.Fs) error {
	if _, err := fs.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return fmt.Errorf("load .env: %w", err)
		}
	}
	if _, err := fs.Stat(".env.local"); err == nil {
		if err := godotenv.Overload(".env.local"); err != nil {
			return fmt.Errorf("load .env.local: %w", err)
		}
	}
	return nil
}

// Load reads the settings file, when present, and returns the resolved
// settings.
func Load(v *viper.Viper) (*Settings, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read settings: %w", err)
		}
	}
	format, err := transformer.ParseFormat(v.GetString(KeyFormat))
	if err != nil {
		return nil, err
	}
	s := &Settings{
		Schema:        v.GetString(KeySchema),
		Config:        v.GetString(KeyConfig),
		OutDir:        v.GetString(KeyOutDir),
		Format:        format,
		Overrides:     v.GetString(KeyOverrides),
		SQLStatements: v.GetString(KeySQLStatements),
		LogFormat:     strings.ToLower(v.GetString(KeyLogFormat)),
		LogLevel:      strings.ToLower(v.GetString(KeyLogLevel)),
		Workers:       v.GetInt(KeyWorkers),
	}
	switch s.LogFormat {
	case "text", "json":
	default:
		return nil, transformer.NewConfigError("LogFormat", s.LogFormat, "expected text or json")
	}
	if s.Schema == "" {
		return nil, transformer.NewConfigError("Schema", s.Schema, "a schema path is required")
	}
	return s, nil
}

// ReadSchema returns the SDL at path. A directory yields its .graphql
// files joined in name order.
func ReadSchema(fs afero.Fs, path string) (string, error) {
	info, err := fs.Stat(path)
	if err != nil {
		return "", fmt.Errorf("read schema: %w", err)
	}
	if !info.IsDir() {
		data, err := afero.ReadFile(fs, path)
		if err != nil {
			return "", fmt.Errorf("read schema %s: %w", path, err)
		}
		return string(data), nil
	}
	entries, err := afero.ReadDir(fs, path)
	if err != nil {
		return "", fmt.Errorf("read schema dir %s: %w", path, err)
	}
	var parts []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".graphql" {
			continue
		}
		data, err := afero.ReadFile(fs, filepath.Join(path, e.Name()))
		if err != nil {
			return "", fmt.Errorf("read schema %s: %w", e.Name(), err)
		}
		parts = append(parts, string(data))
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("schema dir %s has no .graphql files", path)
	}
	return strings.Join(parts, "\n"), nil
}

// LoadCustomQueries returns the statements of the .sql files in dir keyed
// by file name without extension. A missing directory yields none.
func LoadCustomQueries(fs afero.Fs, dir string) (map[string]string, error) {
	entries, err := afero.ReadDir(fs, dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read sql statements %s: %w", dir, err)
	}
	queries := make(map[string]string)
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".sql" {
			continue
		}
		data, err := afero.ReadFile(fs, filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read sql statement %s: %w", e.Name(), err)
		}
		queries[strings.TrimSuffix(e.Name(), ".sql")] = strings.TrimSpace(string(data))
	}
	return queries, nil
}

// TransformConfig builds the transform configuration of s. Settings fill
// what the configuration file leaves unset.
func TransformConfig(fs afero.Fs, s *Settings) (*transformer.Config, error) {
	cfg := &transformer.Config{}
	if s.Config != "" {
		loaded, err := transformer.LoadConfig(fs, s.Config)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	cfg.Fs = fs
	if cfg.OverrideConfig == nil && s.Overrides != "" {
		cfg.OverrideConfig = &transformer.OverrideConfig{OverrideDir: s.Overrides, OverrideFlag: true}
	}
	queries, err := LoadCustomQueries(fs, s.SQLStatements)
	if err != nil {
		return nil, err
	}
	if len(queries) > 0 {
		if cfg.CustomQueries == nil {
			cfg.CustomQueries = make(map[string]string, len(queries))
		}
		for name, stmt := range queries {
			if _, ok := cfg.CustomQueries[name]; !ok {
				cfg.CustomQueries[name] = stmt
			}
		}
	}
	return cfg, nil
}

// WatchPaths returns the existing paths whose changes require a recompile.
func WatchPaths(fs afero.Fs, s *Settings) []string {
	var paths []string
	for _, p := range []string{s.Schema, s.Config, s.Overrides, s.SQLStatements} {
		if p == "" || slices.Contains(paths, p) {
			continue
		}
		if _, err := fs.Stat(p); err == nil {
			paths = append(paths, p)
		}
	}
	return paths
}
