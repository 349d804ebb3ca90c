package transformer

import "slices"

// AuthProvider is the identity source of an auth rule.
type AuthProvider string

// Auth providers.
const (
	ProviderAPIKey    AuthProvider = "apiKey"
	ProviderIAM       AuthProvider = "iam"
	ProviderUserPools AuthProvider = "userPools"
	ProviderOIDC      AuthProvider = "oidc"
	ProviderFunction  AuthProvider = "function"
)

// AuthStrategy is the kind of an auth rule.
type AuthStrategy string

// Auth strategies.
const (
	StrategyPublic  AuthStrategy = "public"
	StrategyPrivate AuthStrategy = "private"
	StrategyOwner   AuthStrategy = "owner"
	StrategyGroups  AuthStrategy = "groups"
	StrategyCustom  AuthStrategy = "custom"
)

// ServiceAuthType returns the value of $util.authType() for requests
// authenticated by p.
func (p AuthProvider) ServiceAuthType() string {
	switch p {
	case ProviderAPIKey:
		return "API Key Authorization"
	case ProviderIAM:
		return "IAM Authorization"
	case ProviderUserPools:
		return "User Pool Authorization"
	case ProviderOIDC:
		return "Open ID Connect Authorization"
	case ProviderFunction:
		return "Lambda Authorization"
	default:
		return ""
	}
}

// RoleDefinition is one authorization role derived from @auth rules.
type RoleDefinition struct {
	Name     string
	Provider AuthProvider
	Strategy AuthStrategy
	// Static is true for group rules listing groups in the schema.
	Static bool
	// Claim is the identity claim read for owner and group rules.
	Claim string
	// Entity is the owner field, the groups field or the static group name.
	Entity        string
	AllowedFields []string
	Operations    []string
}

type roleKey struct {
	provider AuthProvider
	strategy AuthStrategy
	claim    string
	entity   string
}

// AuthRoleSet aggregates roles per type. Roles sharing provider, strategy,
// claim and entity are merged and their operations unioned.
type AuthRoleSet struct {
	roles map[string][]*RoleDefinition
	index map[string]map[roleKey]*RoleDefinition
	order []string
}

// NewAuthRoleSet returns an empty set.
func NewAuthRoleSet() *AuthRoleSet {
	return &AuthRoleSet{
		roles: make(map[string][]*RoleDefinition),
		index: make(map[string]map[roleKey]*RoleDefinition),
	}
}

// Add merges role into the roles of typeName and returns the stored role.
func (s *AuthRoleSet) Add(typeName string, role RoleDefinition) *RoleDefinition {
	if _, ok := s.index[typeName]; !ok {
		s.index[typeName] = make(map[roleKey]*RoleDefinition)
		s.order = append(s.order, typeName)
	}
	key := roleKey{provider: role.Provider, strategy: role.Strategy, claim: role.Claim, entity: role.Entity}
	if existing, ok := s.index[typeName][key]; ok {
		for _, op := range role.Operations {
			if !slices.Contains(existing.Operations, op) {
				existing.Operations = append(existing.Operations, op)
			}
		}
		for _, f := range role.AllowedFields {
			if !slices.Contains(existing.AllowedFields, f) {
				existing.AllowedFields = append(existing.AllowedFields, f)
			}
		}
		return existing
	}
	stored := role
	stored.Operations = nil
	for _, op := range role.Operations {
		if !slices.Contains(stored.Operations, op) {
			stored.Operations = append(stored.Operations, op)
		}
	}
	stored.AllowedFields = slices.Clone(role.AllowedFields)
	s.index[typeName][key] = &stored
	s.roles[typeName] = append(s.roles[typeName], &stored)
	return &stored
}

// For returns the roles of typeName in insertion order.
func (s *AuthRoleSet) For(typeName string) []*RoleDefinition {
	return slices.Clone(s.roles[typeName])
}

// ForOperation returns the roles of typeName allowing op.
func (s *AuthRoleSet) ForOperation(typeName, op string) []*RoleDefinition {
	var out []*RoleDefinition
	for _, r := range s.roles[typeName] {
		if slices.Contains(r.Operations, op) {
			out = append(out, r)
		}
	}
	return out
}

// Has reports whether any role was registered for typeName.
func (s *AuthRoleSet) Has(typeName string) bool { return len(s.roles[typeName]) > 0 }

// Types returns the types with roles in insertion order.
func (s *AuthRoleSet) Types() []string { return slices.Clone(s.order) }
