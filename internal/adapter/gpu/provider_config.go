package gpu

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// EndpointConfig describes one provider's dialect and HTTP endpoints. Real
// deployments and tests both load the same shape from a YAML fixture rather
// than hard-coding endpoint strings per provider, mirroring the teacher's
// config-driven binding of external services.
type EndpointConfig struct {
	Name        string `yaml:"name"`
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Dialect     string `yaml:"dialect"` // "sync" or "async"
	ImagePath   string `yaml:"image_path"`
	VideoPath   string `yaml:"video_path"`
	StatusPath  string `yaml:"status_path,omitempty"` // required when dialect is "async"
	HealthPath  string `yaml:"health_path,omitempty"`
}

// LoadEndpointTable parses a provider endpoint table from a YAML file.
func LoadEndpointTable(path string) ([]EndpointConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("op=gpu.LoadEndpointTable: %w", err)
	}

	var table struct {
		Providers []EndpointConfig `yaml:"providers"`
	}
	if err := yaml.Unmarshal(b, &table); err != nil {
		return nil, fmt.Errorf("op=gpu.LoadEndpointTable: %w", err)
	}
	return table.Providers, nil
}

// APIKey resolves the provider's API key from its configured environment
// variable name, or "" if unset.
func (e EndpointConfig) APIKey() string {
	if e.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(e.APIKeyEnv)
}
