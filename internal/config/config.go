package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Config is the root configuration for cmdloop.
type Config struct {
	General  GeneralConfig  `json:"general"`
	Provider ProviderConfig `json:"provider"`
	Security SecurityConfig `json:"security"`
	Tools    ToolsConfig    `json:"tools"`
	MCP      MCPConfig      `json:"mcp"`
}

type GeneralConfig struct {
	Workspace         string `json:"workspace"`
	LogLevel          string `json:"logLevel"`
	MaxIterations     int    `json:"maxIterations"`
	SystemPromptExtra string `json:"systemPromptExtra,omitempty"` // appended to the generated system prompt
}

// ProviderConfig selects the chat model collaborator.
type ProviderConfig struct {
	Name              string  `json:"name"` // "openai" | "anthropic"
	Model             string  `json:"model"`
	APIKey            string  `json:"apiKey,omitempty"`
	APIBase           string  `json:"apiBase,omitempty"`
	Temperature       float64 `json:"temperature"`
	MaxTokens         int     `json:"maxTokens"`
	MaxRetries        int     `json:"maxRetries"`        // transient-failure retries inside the SDK client
	RequestsPerMinute int     `json:"requestsPerMinute"` // 0 disables throttling
}

type SecurityConfig struct {
	SafeMode              bool     `json:"safeMode"`
	AllowList             []string `json:"allowList"`
	MatchPolicy           string   `json:"matchPolicy"` // "substring" | "leading-token"
	AutoApprove           bool     `json:"autoApprove"`
	ConfirmTimeoutSeconds int      `json:"confirmTimeoutSeconds"`
	WorkspaceSandbox      bool     `json:"workspaceSandbox"`
	AuditLog              bool     `json:"auditLog"`
	AuditDBPath           string   `json:"auditDbPath"`
}

type ToolsConfig struct {
	CommandTimeout int    `json:"commandTimeout"` // seconds
	MaxOutputBytes int    `json:"maxOutputBytes"`
	BackupSuffix   string `json:"backupSuffix"`
	SchemaFile     string `json:"schemaFile,omitempty"` // optional YAML overlay for tool declarations
}

// MCPConfig points at the capability-server file and bounds its traffic.
type MCPConfig struct {
	ConfigPath            string `json:"configPath"`
	ConnectTimeoutSeconds int    `json:"connectTimeoutSeconds"`
	CallTimeoutSeconds    int    `json:"callTimeoutSeconds"`
}

// DefaultConfigDir returns the default config directory (~/.cmdloop).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".cmdloop"
	}
	return filepath.Join(home, ".cmdloop")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.General.Workspace = ExpandPath(cfg.General.Workspace)
	cfg.Security.AuditDBPath = ExpandPath(cfg.Security.AuditDBPath)
	cfg.Tools.SchemaFile = ExpandPath(cfg.Tools.SchemaFile)
	cfg.MCP.ConfigPath = ExpandPath(cfg.MCP.ConfigPath)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault loads path, falling back to Defaults when the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(ExpandPath(path)); os.IsNotExist(err) {
		cfg := Defaults()
		cfg.General.Workspace = ExpandPath(cfg.General.Workspace)
		cfg.Security.AuditDBPath = ExpandPath(cfg.Security.AuditDBPath)
		cfg.MCP.ConfigPath = ExpandPath(cfg.MCP.ConfigPath)
		return cfg, nil
	}
	return Load(path)
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := len(groups) >= 3 && groups[2] != ""

		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match // keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	path = ExpandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.General.MaxIterations < 1 || cfg.General.MaxIterations > 200 {
		errs = append(errs, "general.maxIterations must be between 1 and 200")
	}
	switch cfg.General.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	switch cfg.Provider.Name {
	case "openai", "anthropic":
	default:
		errs = append(errs, "provider.name must be one of: openai, anthropic")
	}
	if cfg.Provider.Temperature < 0 || cfg.Provider.Temperature > 2 {
		errs = append(errs, "provider.temperature must be between 0 and 2")
	}
	if cfg.Provider.MaxTokens < 1 {
		errs = append(errs, "provider.maxTokens must be >= 1")
	}
	if cfg.Provider.MaxRetries < 0 || cfg.Provider.MaxRetries > 10 {
		errs = append(errs, "provider.maxRetries must be between 0 and 10")
	}
	if cfg.Provider.RequestsPerMinute < 0 {
		errs = append(errs, "provider.requestsPerMinute must be >= 0")
	}

	switch cfg.Security.MatchPolicy {
	case "substring", "leading-token":
	default:
		errs = append(errs, "security.matchPolicy must be one of: substring, leading-token")
	}
	if cfg.Security.ConfirmTimeoutSeconds < 1 {
		errs = append(errs, "security.confirmTimeoutSeconds must be >= 1")
	}

	if cfg.Tools.CommandTimeout < 1 {
		errs = append(errs, "tools.commandTimeout must be >= 1")
	}
	if cfg.Tools.MaxOutputBytes < 1 {
		errs = append(errs, "tools.maxOutputBytes must be >= 1")
	}
	if cfg.Tools.BackupSuffix == "" {
		errs = append(errs, "tools.backupSuffix must not be empty")
	}

	if cfg.MCP.ConnectTimeoutSeconds < 1 {
		errs = append(errs, "mcp.connectTimeoutSeconds must be >= 1")
	}
	if cfg.MCP.CallTimeoutSeconds < 1 {
		errs = append(errs, "mcp.callTimeoutSeconds must be >= 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
