package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			Workspace:     "~/.cmdloop/workspace",
			LogLevel:      "info",
			MaxIterations: 10,
		},
		Provider: ProviderConfig{
			Name:        "openai",
			Model:       "gpt-4o-mini",
			APIKey:      "${OPENAI_API_KEY}",
			Temperature: 0.2,
			MaxTokens:   4096,
			MaxRetries:  2,
		},
		Security: SecurityConfig{
			SafeMode:              true,
			AllowList:             defaultAllowList(),
			MatchPolicy:           "substring",
			AutoApprove:           false,
			ConfirmTimeoutSeconds: 60,
			WorkspaceSandbox:      false,
			AuditLog:              true,
			AuditDBPath:           "~/.cmdloop/audit.db",
		},
		Tools: ToolsConfig{
			CommandTimeout: 30,
			MaxOutputBytes: 65536,
			BackupSuffix:   ".bak",
		},
		MCP: MCPConfig{
			ConfigPath:            "~/.cmdloop/mcp.json",
			ConnectTimeoutSeconds: 30,
			CallTimeoutSeconds:    120,
		},
	}
}

func defaultAllowList() []string {
	return []string{
		"ls", "cat", "echo", "pwd", "date", "whoami",
		"head", "tail", "wc", "grep", "find",
		"git status", "git log", "git diff", "git branch",
		"go version", "go env", "python --version",
		"uname", "uptime", "df -h", "free -h",
	}
}
