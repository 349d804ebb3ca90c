package transformer

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/ShadowCat567/amplify-category-api/dialect"
)

// Config is the input configuration of a transform run. The exported YAML
// fields mirror the transform.conf.json shape of an API project; the rest is
// set programmatically through options.
type Config struct {
	// TransformParameters tunes how plugins synthesize resources.
	TransformParameters TransformParameters `yaml:"transformParameters,omitempty"`

	// ResolverConfig enables conflict detection and the sync queries.
	ResolverConfig *ResolverConfig `yaml:"resolverConfig,omitempty"`

	// ModelToDatasourceMap binds model types to an engine. Types that are
	// not listed are stored in DynamoDB.
	ModelToDatasourceMap map[string]DatasourceType `yaml:"modelToDatasourceMap,omitempty"`

	// SQLConnection configures the lambda that fronts relational models.
	SQLConnection *SQLConnection `yaml:"sqlConnection,omitempty"`

	// CustomQueries maps a @sql reference name to its statement.
	CustomQueries map[string]string `yaml:"customQueries,omitempty"`

	// OverrideConfig locates user resolver overrides.
	OverrideConfig *OverrideConfig `yaml:"overrideConfig,omitempty"`

	// StackMapping moves a resource, by logical id, into a named stack.
	StackMapping map[string]string `yaml:"stackMapping,omitempty"`

	// SynthParameters are values baked into generated resources.
	SynthParameters SynthParameters `yaml:"synthParameters,omitempty"`

	// AuthConfig lists the authorization modes enabled on the API.
	AuthConfig AuthConfig `yaml:"authConfig,omitempty"`

	// Plugins run in phase order, then in the order they were added.
	Plugins []Plugin `yaml:"-"`

	// UserTemplates are override templates keyed by file name. When set,
	// they take precedence over OverrideConfig.OverrideDir.
	UserTemplates map[string]string `yaml:"-"`

	// Hooks wrap the final synthesis step.
	Hooks []Hook `yaml:"-"`

	// Logger receives pass transitions and skipped overrides.
	Logger *slog.Logger `yaml:"-"`

	// Fs is used to read override directories.
	Fs afero.Fs `yaml:"-"`
}

// TransformParameters are feature switches read by the plugins.
type TransformParameters struct {
	SandboxModeEnabled                     bool `yaml:"sandboxModeEnabled,omitempty"`
	SecondaryKeyAsGSI                      bool `yaml:"secondaryKeyAsGSI,omitempty"`
	ShouldDeepMergeDirectiveConfigDefaults bool `yaml:"shouldDeepMergeDirectiveConfigDefaults,omitempty"`
	UseSubUsernameForDefaultIdentityClaim  bool `yaml:"useSubUsernameForDefaultIdentityClaim,omitempty"`
	EnableAutoIndexQueryNames              bool `yaml:"enableAutoIndexQueryNames,omitempty"`
	SuppressAPIKeyGeneration               bool `yaml:"suppressApiKeyGeneration,omitempty"`
	PopulateOwnerFieldForStaticGroupAuth   bool `yaml:"populateOwnerFieldForStaticGroupAuth,omitempty"`
}

// ConflictHandler is the strategy used to resolve sync conflicts.
type ConflictHandler string

// Conflict handlers.
const (
	ConflictHandlerAutomerge  ConflictHandler = "AUTOMERGE"
	ConflictHandlerOptimistic ConflictHandler = "OPTIMISTIC_CONCURRENCY"
	ConflictHandlerLambda     ConflictHandler = "LAMBDA"
)

// SyncConfig enables versioned writes and delta sync for a model.
type SyncConfig struct {
	ConflictDetection     string                 `yaml:"ConflictDetection,omitempty"`
	ConflictHandler       ConflictHandler        `yaml:"ConflictHandler,omitempty"`
	LambdaConflictHandler *LambdaConflictHandler `yaml:"LambdaConflictHandler,omitempty"`
}

// LambdaConflictHandler names the function resolving LAMBDA conflicts.
type LambdaConflictHandler struct {
	Name      string `yaml:"name,omitempty"`
	LambdaArn string `yaml:"lambdaArn,omitempty"`
}

// ResolverConfig holds project and per-model sync configuration.
type ResolverConfig struct {
	Project *SyncConfig            `yaml:"project,omitempty"`
	Models  map[string]*SyncConfig `yaml:"models,omitempty"`
}

// DatasourceType binds a model to an engine.
type DatasourceType struct {
	DBType      dialect.DBType `yaml:"dbType"`
	ProvisionDB bool           `yaml:"provisionDB,omitempty"`
}

// SQLConnection describes the database reached by the SQL lambda. The
// connection string itself is resolved by the caller; the transform only
// records where the lambda will read its secrets from.
type SQLConnection struct {
	ConnectionURI string `yaml:"connectionUri,omitempty"`
	SecretPrefix  string `yaml:"secretPrefix,omitempty"`
	VpcID         string `yaml:"vpcId,omitempty"`
}

// OverrideConfig locates user resolver overrides.
type OverrideConfig struct {
	OverrideDir  string `yaml:"overrideDir,omitempty"`
	OverrideFlag bool   `yaml:"overrideFlag,omitempty"`
	ResourceName string `yaml:"resourceName,omitempty"`
}

// SynthParameters are values baked into generated resources.
type SynthParameters struct {
	APIName                string `yaml:"apiName,omitempty"`
	AmplifyEnvironmentName string `yaml:"amplifyEnvironmentName,omitempty"`
	Region                 string `yaml:"region,omitempty"`
	AccountID              string `yaml:"accountId,omitempty"`
	DeltaSyncTableTTL      int    `yaml:"deltaSyncTableTtl,omitempty"`
	PredictionsBucket      string `yaml:"predictionsBucket,omitempty"`
	EnableIamAccess        bool   `yaml:"enableIamAccess,omitempty"`
}

// AuthMode is one authorization mode of the API.
type AuthMode struct {
	AuthenticationType string `yaml:"authenticationType"`
	APIKeyExpiration   int    `yaml:"apiKeyExpirationDays,omitempty"`
	UserPoolID         string `yaml:"userPoolId,omitempty"`
	OIDCIssuerURL      string `yaml:"oidcIssuerUrl,omitempty"`
	LambdaFunction     string `yaml:"lambdaFunction,omitempty"`
}

// Authentication types accepted by AuthMode.
const (
	AuthTypeAPIKey    = "API_KEY"
	AuthTypeIAM       = "AWS_IAM"
	AuthTypeUserPools = "AMAZON_COGNITO_USER_POOLS"
	AuthTypeOIDC      = "OPENID_CONNECT"
	AuthTypeLambda    = "AWS_LAMBDA"
)

// AuthConfig lists the authorization modes enabled on the API.
type AuthConfig struct {
	DefaultAuthentication             AuthMode   `yaml:"defaultAuthentication"`
	AdditionalAuthenticationProviders []AuthMode `yaml:"additionalAuthenticationProviders,omitempty"`
}

// Modes returns the default mode followed by the additional ones.
func (a AuthConfig) Modes() []AuthMode {
	return append([]AuthMode{a.DefaultAuthentication}, a.AdditionalAuthenticationProviders...)
}

// Has reports whether the authentication type is enabled.
func (a AuthConfig) Has(authType string) bool {
	for _, m := range a.Modes() {
		if m.AuthenticationType == authType {
			return true
		}
	}
	return false
}

// defaults fills unset values.
func (c *Config) defaults() {
	if c.SynthParameters.AmplifyEnvironmentName == "" {
		c.SynthParameters.AmplifyEnvironmentName = "NONE"
	}
	if c.SynthParameters.APIName == "" {
		c.SynthParameters.APIName = "AppSyncAPI"
	}
	if c.SynthParameters.DeltaSyncTableTTL == 0 {
		c.SynthParameters.DeltaSyncTableTTL = 30
	}
	if c.AuthConfig.DefaultAuthentication.AuthenticationType == "" {
		c.AuthConfig.DefaultAuthentication = AuthMode{AuthenticationType: AuthTypeAPIKey, APIKeyExpiration: 7}
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	if c.Fs == nil {
		c.Fs = afero.NewOsFs()
	}
}

// validate checks values that can only be checked once every option ran.
func (c *Config) validate() error {
	for typeName, ds := range c.ModelToDatasourceMap {
		switch ds.DBType {
		case dialect.DynamoDB, dialect.MySQL, dialect.Postgres:
		default:
			return NewConfigError("ModelToDatasourceMap", typeName, fmt.Sprintf("unsupported dbType %q", ds.DBType))
		}
	}
	for _, m := range c.AuthConfig.Modes() {
		switch m.AuthenticationType {
		case AuthTypeAPIKey, AuthTypeIAM, AuthTypeUserPools, AuthTypeOIDC, AuthTypeLambda:
		default:
			return NewConfigError("AuthConfig", m.AuthenticationType, "unknown authentication type")
		}
	}
	if c.SynthParameters.DeltaSyncTableTTL < 0 {
		return NewConfigError("DeltaSyncTableTTL", c.SynthParameters.DeltaSyncTableTTL, "must not be negative")
	}
	return nil
}

// LoadConfig reads a YAML configuration file. Relative override
// directories are resolved against the directory of the file.
func LoadConfig(fs afero.Fs, path string) (*Config, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if oc := cfg.OverrideConfig; oc != nil && oc.OverrideDir != "" && !filepath.IsAbs(oc.OverrideDir) {
		oc.OverrideDir = filepath.Join(filepath.Dir(path), oc.OverrideDir)
	}
	cfg.Fs = fs
	return cfg, nil
}
