package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"cmdloop/internal/mcp"
)

func mcpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Manage capability servers",
		Long:  "Add, remove, enable and inspect the capability servers listed in the server file (mcp.configPath).",
	}
	cmd.AddCommand(mcpListCmd(), mcpAddCmd(), mcpRemoveCmd(), mcpToggleCmd(true), mcpToggleCmd(false))
	cmd.AddCommand(mcpToolsCmd(), mcpResourcesCmd(), mcpPromptsCmd(), mcpReadCmd(), mcpPromptCmd(), mcpCallCmd())
	return cmd
}

// openManager loads the server file without connecting anything.
func openManager() (*mcp.Manager, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return mcp.NewManager(mcp.ManagerConfig{
		ConfigPath:     cfg.MCP.ConfigPath,
		ConnectTimeout: seconds(cfg.MCP.ConnectTimeoutSeconds),
		CallTimeout:    seconds(cfg.MCP.CallTimeoutSeconds),
		Logger:         logger,
	})
}

// withConnected runs fn with every enabled server connected.
func withConnected(cmd *cobra.Command, fn func(ctx context.Context, m *mcp.Manager) error) error {
	m, err := openManager()
	if err != nil {
		return err
	}
	m.SetStatusFunc(printStatus)
	ctx, stop := signalContext(cmd.Context())
	defer stop()
	defer m.DisconnectAll()
	if err := m.ConnectAll(ctx); err != nil {
		logger.Warn("some capability servers failed to connect", "err", err)
	}
	return fn(ctx, m)
}

func printServers(servers []mcp.ServerStatus) {
	if len(servers) == 0 {
		fmt.Println("no capability servers configured")
		return
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tTRANSPORT\tENABLED\tCONNECTED\tTOOLS\tTARGET")
	for _, s := range servers {
		target := s.Config.URL
		if s.Config.TransportKind() == mcp.TransportStdio {
			target = strings.TrimSpace(s.Config.Command + " " + strings.Join(s.Config.Args, " "))
		}
		fmt.Fprintf(tw, "%s\t%s\t%t\t%t\t%d\t%s\n", s.Name, s.Config.TransportKind(), s.Enabled, s.Connected, s.Tools, target)
	}
	tw.Flush()
}

func mcpListCmd() *cobra.Command {
	var connect bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List configured servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			if connect {
				return withConnected(cmd, func(_ context.Context, m *mcp.Manager) error {
					printServers(m.Servers())
					return nil
				})
			}
			m, err := openManager()
			if err != nil {
				return err
			}
			printServers(m.Servers())
			return nil
		},
	}
	cmd.Flags().BoolVar(&connect, "connect", false, "connect to enabled servers to report their tools")
	return cmd
}

func mcpAddCmd() *cobra.Command {
	var (
		env       []string
		headers   []string
		transport string
		url       string
		disabled  bool
	)
	cmd := &cobra.Command{
		Use:   "add [name] [command] [args...]",
		Short: "Add a server (use --transport http --url URL for HTTP servers)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sc := mcp.ServerConfig{Transport: transport, URL: url}
			if len(args) > 1 {
				sc.Command = args[1]
				sc.Args = args[2:]
			}
			var err error
			if sc.Env, err = keyValues(env); err != nil {
				return err
			}
			if sc.Headers, err = keyValues(headers); err != nil {
				return err
			}
			if disabled {
				sc.SetEnabled(false)
			}

			m, err := openManager()
			if err != nil {
				return err
			}
			if err := m.AddServer(args[0], sc); err != nil {
				return err
			}
			logger.Info("server added", "server", args[0])
			return nil
		},
	}
	cmd.Flags().StringArrayVarP(&env, "env", "e", nil, "environment variable KEY=VALUE (repeatable)")
	cmd.Flags().StringArrayVar(&headers, "header", nil, "HTTP header KEY=VALUE (repeatable)")
	cmd.Flags().StringVar(&transport, "transport", "", "stdio (default) or http")
	cmd.Flags().StringVar(&url, "url", "", "endpoint for the http transport")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "add the server disabled")
	return cmd
}

func mcpRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "remove [name]",
		Aliases: []string{"rm"},
		Short:   "Remove a server",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := openManager()
			if err != nil {
				return err
			}
			if err := m.RemoveServer(args[0]); err != nil {
				return err
			}
			logger.Info("server removed", "server", args[0])
			return nil
		},
	}
}

func mcpToggleCmd(enable bool) *cobra.Command {
	use, short := "disable [name]", "Disable a server"
	if enable {
		use, short = "enable [name]", "Enable a server"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := openManager()
			if err != nil {
				return err
			}
			if err := m.SetEnabled(args[0], enable); err != nil {
				return err
			}
			logger.Info("server updated", "server", args[0], "enabled", enable)
			return nil
		},
	}
}

func mcpToolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List tools advertised by connected servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConnected(cmd, func(_ context.Context, m *mcp.Manager) error {
				tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "SERVER\tTOOL\tDESCRIPTION")
				for _, t := range m.GetAllTools() {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", t.Server, t.Name, firstLine(t.Description))
				}
				return tw.Flush()
			})
		},
	}
}

func mcpResourcesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resources",
		Short: "List resources advertised by connected servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConnected(cmd, func(_ context.Context, m *mcp.Manager) error {
				tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "SERVER\tURI\tNAME\tMIME")
				for _, r := range m.GetAllResources() {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Server, r.URI, r.Name, r.MimeType)
				}
				return tw.Flush()
			})
		},
	}
}

func mcpPromptsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prompts",
		Short: "List prompts advertised by connected servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConnected(cmd, func(_ context.Context, m *mcp.Manager) error {
				tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "SERVER\tPROMPT\tARGUMENTS\tDESCRIPTION")
				for _, p := range m.GetAllPrompts() {
					names := make([]string, 0, len(p.Arguments))
					for _, a := range p.Arguments {
						names = append(names, a.Name)
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.Server, p.Name, strings.Join(names, ","), firstLine(p.Description))
				}
				return tw.Flush()
			})
		},
	}
}

func mcpReadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "read [uri]",
		Short: "Read a resource",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConnected(cmd, func(ctx context.Context, m *mcp.Manager) error {
				text, err := m.ReadResource(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Println(text)
				return nil
			})
		},
	}
}

func mcpPromptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prompt [name] [key=value...]",
		Short: "Render a prompt",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			promptArgs, err := keyValues(args[1:])
			if err != nil {
				return err
			}
			return withConnected(cmd, func(ctx context.Context, m *mcp.Manager) error {
				text, err := m.GetPrompt(ctx, args[0], promptArgs)
				if err != nil {
					return err
				}
				fmt.Println(text)
				return nil
			})
		},
	}
}

func mcpCallCmd() *cobra.Command {
	var rawJSON string
	cmd := &cobra.Command{
		Use:   "call [tool] [key=value...]",
		Short: "Call a server tool directly (values are sent as strings unless --json is given)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			callArgs := make(map[string]any)
			if rawJSON != "" {
				if err := json.Unmarshal([]byte(rawJSON), &callArgs); err != nil {
					return fmt.Errorf("--json: %w", err)
				}
			}
			pairs, err := keyValues(args[1:])
			if err != nil {
				return err
			}
			for k, v := range pairs {
				callArgs[k] = v
			}
			return withConnected(cmd, func(ctx context.Context, m *mcp.Manager) error {
				res, err := m.CallTool(ctx, args[0], callArgs)
				if err != nil {
					return err
				}
				fmt.Println(res.Content)
				if !res.Success {
					return fmt.Errorf("tool reported an error: %s", res.Error)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&rawJSON, "json", "", "arguments as a JSON object")
	return cmd
}

// keyValues parses KEY=VALUE pairs.
func keyValues(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("expected KEY=VALUE, got %q", p)
		}
		out[k] = v
	}
	return out, nil
}
