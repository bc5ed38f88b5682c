package config

import (
	"os"
	"path/filepath"

	"github.com/tandem-cli/tandem/errors"
	"gopkg.in/yaml.v3"
)

type FilesystemAccess struct {
	Hidden   []string `yaml:"hidden"`
	ReadOnly []string `yaml:"read_only"`
}

type MCPServer struct {
	Name    string   `yaml:"name"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

type Toolset struct {
	Name  string   `yaml:"name"`
	Tools []string `yaml:"tools"`
}

// Model describes the limits of the configured model. ContextWindow drives
// the compression threshold; MaxOutputTokens is passed through to providers.
type Model struct {
	Name            string `yaml:"name"`
	ContextWindow   int    `yaml:"context_window"`
	MaxOutputTokens int    `yaml:"max_output_tokens"`
	// Strict enables the name-only loop counters used for model profiles
	// prone to tool-call repetition.
	Strict bool `yaml:"strict"`
}

// Compression configures when and how conversation history is rewritten.
type Compression struct {
	// Threshold is the fraction of the context window that triggers
	// automatic compression before the next turn is sent.
	Threshold float64 `yaml:"threshold"`
	// PreserveRatio is the fraction of recent conversation kept verbatim.
	PreserveRatio float64 `yaml:"preserve_ratio"`
	// PreservedPrefix is the number of leading environment entries that are
	// never compressed.
	PreservedPrefix int `yaml:"preserved_prefix"`
}

type Config struct {
	Provider             string           `yaml:"provider"`
	Model                Model            `yaml:"model"`
	BaseURL              string           `yaml:"base_url"`
	Toolsets             []Toolset        `yaml:"toolsets"`
	AdditionalMCPServers []MCPServer      `yaml:"additional_mcp_servers"`
	AllowedCommands      []string         `yaml:"allowed_commands"`
	FilesystemAccess     FilesystemAccess `yaml:"filesystem_access"`
	Compression          Compression      `yaml:"compression"`
	// ToolConcurrency bounds how many approved tool calls execute at once.
	ToolConcurrency int `yaml:"tool_concurrency"`
}

const (
	DefaultContextWindow   = 200000
	DefaultMaxOutputTokens = 4096
	DefaultThreshold       = 0.8
	DefaultPreserveRatio   = 0.3
	DefaultPreservedPrefix = 2
	DefaultToolConcurrency = 4
)

// LoadConfig loads configuration from the user's home directory and the
// current working directory, with the latter taking precedence.
func LoadConfig() (*Config, error) {
	cfg := &Config{}

	// The .tandem directory itself is never exposed to tools.
	cfg.FilesystemAccess.Hidden = append(cfg.FilesystemAccess.Hidden, ".tandem", ".tandem/**")

	home, err := os.UserHomeDir()
	if err == nil {
		userConfigPath := filepath.Join(home, ".tandem", "config.yaml")
		if _, err := os.Stat(userConfigPath); err == nil {
			if err := loadFromFile(userConfigPath, cfg); err != nil {
				return nil, errors.Wrapf(err, "error loading user config")
			}
		}
	}

	wd, err := os.Getwd()
	if err != nil {
		return nil, errors.Wrapf(err, "could not get working directory")
	}
	projectConfigPath := filepath.Join(wd, ".tandem", "config.yaml")
	if _, err := os.Stat(projectConfigPath); err == nil {
		if err := loadFromFile(projectConfigPath, cfg); err != nil {
			return nil, errors.Wrapf(err, "error loading project config")
		}
	}

	cfg.ApplyDefaults()
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	// Unmarshal overwrites fields present in the YAML, so project-level
	// config replaces user-level values field by field.
	return yaml.Unmarshal(data, cfg)
}

// ApplyDefaults fills unset fields with engine defaults.
func (c *Config) ApplyDefaults() {
	if c.Model.ContextWindow <= 0 {
		c.Model.ContextWindow = DefaultContextWindow
	}
	if c.Model.MaxOutputTokens <= 0 {
		c.Model.MaxOutputTokens = DefaultMaxOutputTokens
	}
	if c.Compression.Threshold <= 0 || c.Compression.Threshold >= 1 {
		c.Compression.Threshold = DefaultThreshold
	}
	if c.Compression.PreserveRatio <= 0 || c.Compression.PreserveRatio >= 1 {
		c.Compression.PreserveRatio = DefaultPreserveRatio
	}
	if c.Compression.PreservedPrefix <= 0 {
		c.Compression.PreservedPrefix = DefaultPreservedPrefix
	}
	if c.ToolConcurrency <= 0 {
		c.ToolConcurrency = DefaultToolConcurrency
	}
}

// GetToolset finds a toolset by name. Returns the "default" toolset if the
// named one is not found or if an empty name is provided. A missing default
// toolset yields a toolset containing every built-in tool.
func (c *Config) GetToolset(name string) (*Toolset, error) {
	if name == "" {
		name = "default"
	}
	for _, ts := range c.Toolsets {
		if ts.Name == name {
			return &ts, nil
		}
	}
	if name == "default" {
		return &Toolset{Name: "default", Tools: []string{
			"read_file", "write_file", "edit_file", "list_files", "search_files", "execute_command",
		}}, nil
	}
	return c.GetToolset("default")
}
