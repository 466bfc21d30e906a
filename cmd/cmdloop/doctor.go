package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"cmdloop/internal/audit"
	"cmdloop/internal/config"
	"cmdloop/internal/mcp"
	"cmdloop/internal/tool"
)

type doctorReport struct {
	passed, warned, failed int
}

func (r *doctorReport) pass(check, detail string) {
	r.passed++
	fmt.Printf("  [PASS] %-22s %s\n", check, detail)
}

func (r *doctorReport) warn(check, detail string) {
	r.warned++
	fmt.Printf("  [WARN] %-22s %s\n", check, detail)
}

func (r *doctorReport) fail(check, detail string) {
	r.failed++
	fmt.Printf("  [FAIL] %-22s %s\n", check, detail)
}

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your cmdloop setup",
		Long: `Verifies the configuration, workspace, audit database, provider
credentials, tool schemas and capability servers. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("cmdloop doctor v%s\n\n", version)
			var r doctorReport

			if _, err := os.Stat(config.ExpandPath(cfgPath)); err != nil {
				r.warn("Config file", fmt.Sprintf("not found at %s, using defaults (run 'cmdloop init')", cfgPath))
			} else {
				r.pass("Config file", cfgPath)
			}

			cfg, err := config.LoadOrDefault(cfgPath)
			if err != nil {
				r.fail("Config validation", err.Error())
				return summarize(r)
			}
			r.pass("Config validation", "valid")

			if info, err := os.Stat(cfg.General.Workspace); err != nil {
				r.fail("Workspace", fmt.Sprintf("not found: %s", cfg.General.Workspace))
			} else if !info.IsDir() {
				r.fail("Workspace", fmt.Sprintf("not a directory: %s", cfg.General.Workspace))
			} else {
				r.pass("Workspace", cfg.General.Workspace)
			}

			if cfg.Security.AuditLog {
				if err := checkAuditDB(cfg.Security.AuditDBPath); err != nil {
					r.fail("Audit database", err.Error())
				} else {
					r.pass("Audit database", cfg.Security.AuditDBPath)
				}
			} else {
				r.warn("Audit database", "audit log disabled")
			}

			checkProvider(&r, cfg.Provider)

			if cfg.Security.SafeMode {
				r.pass("Safe mode", fmt.Sprintf("%d allowed commands, %s matching", len(cfg.Security.AllowList), cfg.Security.MatchPolicy))
			} else {
				r.warn("Safe mode", "disabled: every command may run after confirmation")
			}
			if cfg.Security.AutoApprove {
				r.warn("Confirmation", "auto-approve is on")
			}

			if cfg.Tools.SchemaFile != "" {
				if schemas, err := tool.LoadSchemas(cfg.Tools.SchemaFile); err != nil {
					r.fail("Tool schemas", err.Error())
				} else {
					r.pass("Tool schemas", fmt.Sprintf("%d declarations in %s", len(schemas), cfg.Tools.SchemaFile))
				}
			}

			checkServers(cmd.Context(), &r, cfg)

			return summarize(r)
		},
	}
}

func summarize(r doctorReport) error {
	fmt.Printf("\nResults: %d passed, %d warnings, %d failed\n", r.passed, r.warned, r.failed)
	if r.failed > 0 {
		return fmt.Errorf("%d check(s) failed", r.failed)
	}
	return nil
}

func checkAuditDB(path string) error {
	store, err := audit.NewSQLiteStore(path, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := store.Recent(ctx, 1); err != nil {
		return fmt.Errorf("not readable: %w", err)
	}
	return nil
}

func checkProvider(r *doctorReport, pc config.ProviderConfig) {
	name := "Provider: " + pc.Name
	envVar := "OPENAI_API_KEY"
	if pc.Name == "anthropic" {
		envVar = "ANTHROPIC_API_KEY"
	}
	key := strings.TrimSpace(config.ExpandEnvVars(pc.APIKey))
	switch {
	case key != "" && !strings.Contains(key, "${"):
		r.pass(name, fmt.Sprintf("%s, key configured", pc.Model))
	case os.Getenv(envVar) != "":
		r.pass(name, fmt.Sprintf("%s, key from %s", pc.Model, envVar))
	case pc.APIBase != "":
		r.warn(name, fmt.Sprintf("no API key, relying on %s", pc.APIBase))
	default:
		r.fail(name, fmt.Sprintf("no API key (set provider.apiKey or %s)", envVar))
	}
}

func checkServers(parent context.Context, r *doctorReport, cfg *config.Config) {
	file, err := mcp.LoadFile(cfg.MCP.ConfigPath)
	if err != nil {
		r.fail("Server file", err.Error())
		return
	}
	if len(file.Servers) == 0 {
		r.pass("Server file", "no capability servers configured")
		return
	}
	r.pass("Server file", fmt.Sprintf("%d server(s) in %s", len(file.Servers), cfg.MCP.ConfigPath))

	if parent == nil {
		parent = context.Background()
	}
	for _, name := range file.Names() {
		sc := file.Servers[name]
		check := "Server: " + name
		if err := sc.Validate(); err != nil {
			r.fail(check, err.Error())
			continue
		}
		if !sc.IsEnabled() {
			r.warn(check, "disabled")
			continue
		}
		if sc.TransportKind() == mcp.TransportStdio {
			if _, err := exec.LookPath(sc.Command); err != nil {
				r.fail(check, fmt.Sprintf("command not found: %s", sc.Command))
				continue
			}
		}

		ctx, cancel := context.WithTimeout(parent, seconds(cfg.MCP.ConnectTimeoutSeconds))
		conn, err := mcp.Dial(ctx, name, sc, logger)
		cancel()
		if err != nil {
			r.fail(check, err.Error())
			continue
		}
		r.pass(check, fmt.Sprintf("%s, %d tools", conn.Info().Name, len(conn.Tools())))
		conn.Close()
	}
}
