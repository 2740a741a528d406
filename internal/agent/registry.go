// Package agent defines the agent roles taskbeacon orchestrates and the
// registry that maps each role to a concrete model configuration.
package agent

import (
	"time"

	"github.com/taskbeacon/taskbeacon/pkg/models"
)

// Role is a logical task role in the pipeline. Roles form a closed set:
// new capabilities are added by adding a role constant and a registry
// entry, never by runtime reflection.
type Role string

const (
	// RoleURLParser extracts structured task info from fetched web content.
	RoleURLParser Role = "url_parser"
	// RoleImageAnalyzer extracts task info from image bytes. Requires vision.
	RoleImageAnalyzer Role = "image_analyzer"
	// RoleContentExtractor extracts structured info from raw user text.
	RoleContentExtractor Role = "content_extractor"
	// RoleTaskSynthesizer merges analysis outputs into one task record.
	RoleTaskSynthesizer Role = "task_synthesizer"
	// RoleQualityChecker scores a synthesized record for completeness.
	RoleQualityChecker Role = "quality_checker"
)

// AllRoles lists every role the pipeline can dispatch, in pipeline order.
var AllRoles = []Role{
	RoleURLParser,
	RoleImageAnalyzer,
	RoleContentExtractor,
	RoleTaskSynthesizer,
	RoleQualityChecker,
}

// Valid returns true if the role is a known value.
func (r Role) Valid() bool {
	for _, known := range AllRoles {
		if r == known {
			return true
		}
	}
	return false
}

// RequiresVision reports whether the role operates on image input.
func (r Role) RequiresVision() bool {
	return r == RoleImageAnalyzer
}

// Provider identifies a model provider backend.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderBedrock   Provider = "bedrock"
)

// providerTokenLimits caps max_tokens per provider.
var providerTokenLimits = map[Provider]int{
	ProviderAnthropic: 64000,
	ProviderBedrock:   64000,
}

// Config is the model configuration for one agent role.
type Config struct {
	// Role this config serves.
	Role Role `yaml:"role"`
	// Provider backend.
	Provider Provider `yaml:"provider"`
	// Model is the provider's model name.
	Model string `yaml:"model"`
	// Temperature for sampling, in [0,2].
	Temperature float64 `yaml:"temperature"`
	// MaxTokens caps the response length, in [1, provider limit].
	MaxTokens int `yaml:"max_tokens"`
	// Timeout bounds one invocation including retries within the call.
	Timeout time.Duration `yaml:"timeout"`
	// SupportsVision is true when the model accepts image input.
	SupportsVision bool `yaml:"supports_vision"`
	// SystemPrompt is the role's system prompt template.
	SystemPrompt string `yaml:"system_prompt"`
}

// Validate checks a config at registration time. Invalid configs fail
// fast so a misconfigured deployment halts at startup.
func (c Config) Validate() error {
	if !c.Role.Valid() {
		return models.Errorf(models.ErrInvalidAgentConfig, "unknown role %q", c.Role)
	}
	if c.Model == "" {
		return models.Errorf(models.ErrInvalidAgentConfig, "role %s: model name is required", c.Role)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return models.Errorf(models.ErrInvalidAgentConfig, "role %s: temperature %v out of [0,2]", c.Role, c.Temperature)
	}
	limit, ok := providerTokenLimits[c.Provider]
	if !ok {
		return models.Errorf(models.ErrInvalidAgentConfig, "role %s: unknown provider %q", c.Role, c.Provider)
	}
	if c.MaxTokens < 1 || c.MaxTokens > limit {
		return models.Errorf(models.ErrInvalidAgentConfig, "role %s: max tokens %d out of [1,%d]", c.Role, c.MaxTokens, limit)
	}
	if c.Role.RequiresVision() && !c.SupportsVision {
		return models.Errorf(models.ErrInvalidAgentConfig, "role %s requires a vision-capable model", c.Role)
	}
	if c.Timeout <= 0 {
		return models.Errorf(models.ErrInvalidAgentConfig, "role %s: timeout must be positive", c.Role)
	}
	return nil
}

// Registry maps roles to agent configs. It is immutable after
// construction, so concurrent Resolve calls need no locking.
type Registry struct {
	configs map[Role]Config
}

// NewRegistry validates every config and builds an immutable registry.
// Every role in AllRoles must be covered.
func NewRegistry(configs []Config) (*Registry, error) {
	byRole := make(map[Role]Config, len(configs))
	for _, cfg := range configs {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		if _, dup := byRole[cfg.Role]; dup {
			return nil, models.Errorf(models.ErrInvalidAgentConfig, "role %s registered twice", cfg.Role)
		}
		byRole[cfg.Role] = cfg
	}
	for _, role := range AllRoles {
		if _, ok := byRole[role]; !ok {
			return nil, models.Errorf(models.ErrInvalidAgentConfig, "role %s has no configuration", role)
		}
	}
	return &Registry{configs: byRole}, nil
}

// Resolve returns the config for a role.
func (r *Registry) Resolve(role Role) (Config, error) {
	cfg, ok := r.configs[role]
	if !ok {
		return Config{}, models.Errorf(models.ErrInvalidAgentConfig, "no configuration for role %q", role)
	}
	return cfg, nil
}

// Roles returns the registered roles in pipeline order.
func (r *Registry) Roles() []Role {
	roles := make([]Role, 0, len(r.configs))
	for _, role := range AllRoles {
		if _, ok := r.configs[role]; ok {
			roles = append(roles, role)
		}
	}
	return roles
}
