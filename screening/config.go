package screening

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ProviderConfig describes an HTTP screening provider.
type ProviderConfig struct {
	Name            string          `yaml:"name"`
	Enabled         bool            `yaml:"enabled"`
	APIKey          string          `yaml:"api_key"`
	APISecret       string          `yaml:"api_secret,omitempty"`
	AuthType        string          `yaml:"auth_type"`
	AuthHeader      string          `yaml:"auth_header"`
	BaseURL         string          `yaml:"base_url"`
	Chain           string          `yaml:"chain,omitempty"`
	Checks          []string        `yaml:"checks,omitempty"`
	Endpoints       EndpointsConfig `yaml:"endpoints"`
	ResponseMapping ResponseMapping `yaml:"response_mapping"`
}

type EndpointsConfig struct {
	Screen string `yaml:"screen"`
}

// ResponseMapping locates fields in the provider response. Paths are dot separated.
type ResponseMapping struct {
	RiskScoreField string   `yaml:"risk_score_field"`
	SanctionsField string   `yaml:"sanctions_field"`
	FlagsField     string   `yaml:"flags_field"`
	RejectedFlags  []string `yaml:"rejected_flags,omitempty"`
}

type Config struct {
	Providers []ProviderConfig `yaml:"providers"`
}

// DefaultProviderConfig is the Range-style provider used when no YAML file is given.
func DefaultProviderConfig(baseURL, apiKey string) ProviderConfig {
	if baseURL == "" {
		baseURL = "https://api.range.org/v1"
	}
	return ProviderConfig{
		Name:      "range",
		Enabled:   true,
		APIKey:    apiKey,
		AuthType:  "bearer",
		BaseURL:   baseURL,
		Chain:     "solana",
		Checks:    []string{"sanctions", "risk", "mixer", "darknet"},
		Endpoints: EndpointsConfig{Screen: "/screen"},
		ResponseMapping: ResponseMapping{
			RiskScoreField: "risk_score",
			SanctionsField: "sanctions_match",
			FlagsField:     "flags",
		},
	}
}

func LoadConfig(filepath string) (*Config, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, err
	}
	return LoadConfigFromBytes(data)
}

func LoadConfigFromBytes(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, err
	}
	return &config, nil
}

// FirstEnabled returns the first enabled provider that passes validation, with
// ${ENV} references expanded.
func (c *Config) FirstEnabled() (ProviderConfig, error) {
	for _, p := range c.Providers {
		if !p.Enabled {
			continue
		}
		p.APIKey = expandEnvVar(p.APIKey)
		p.APISecret = expandEnvVar(p.APISecret)
		p.BaseURL = expandEnvVar(p.BaseURL)
		if err := validateProviderConfig(p); err != nil {
			return ProviderConfig{}, fmt.Errorf("invalid config for provider %s: %w", p.Name, err)
		}
		return p, nil
	}
	return ProviderConfig{}, fmt.Errorf("no enabled screening provider configured")
}

func expandEnvVar(value string) string {
	if strings.HasPrefix(value, "${") && strings.HasSuffix(value, "}") {
		envName := value[2 : len(value)-1]
		if envValue := os.Getenv(envName); envValue != "" {
			return envValue
		}
	}
	return value
}

func validateProviderConfig(config ProviderConfig) error {
	if config.Name == "" {
		return fmt.Errorf("provider name is required")
	}
	if config.APIKey == "" {
		return fmt.Errorf("api_key is required")
	}
	if config.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}
	if config.Endpoints.Screen == "" {
		return fmt.Errorf("endpoints.screen is required")
	}
	if config.ResponseMapping.RiskScoreField == "" {
		return fmt.Errorf("response_mapping.risk_score_field is required")
	}
	return nil
}
