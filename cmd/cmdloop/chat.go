package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"cmdloop/internal/agent"
	"cmdloop/internal/domain"
)

type runFlags struct {
	model       string
	yes         bool
	unsafe      bool
	metricsDump bool
}

func (f *runFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.model, "model", "m", "", "override provider.model")
	cmd.Flags().BoolVarP(&f.yes, "yes", "y", false, "approve every confirmation")
	cmd.Flags().BoolVar(&f.unsafe, "no-safe-mode", false, "disable the command allow-list for this session")
	cmd.Flags().BoolVar(&f.metricsDump, "metrics", false, "print metrics in Prometheus text format on exit")
}

func chatCmd() *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), flags)
		},
	}
	flags.register(cmd)
	return cmd
}

func runCmd() *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "run [request]",
		Short: "Run one request to completion (reads stdin when no argument is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			request := ""
			if len(args) == 1 {
				request = args[0]
			} else {
				data, err := io.ReadAll(os.Stdin)
				if err != nil {
					return fmt.Errorf("read request: %w", err)
				}
				request = string(data)
			}
			request = strings.TrimSpace(request)
			if request == "" {
				return fmt.Errorf("empty request")
			}
			return runOnce(cmd.Context(), flags, request)
		},
	}
	flags.register(cmd)
	return cmd
}

// session loads config, applies flag overrides and wires the app.
func session(ctx context.Context, flags runFlags, confirm domain.ConfirmFunc) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if flags.yes {
		cfg.Security.AutoApprove = true
	}
	if flags.unsafe {
		cfg.Security.SafeMode = false
	}
	return buildApp(ctx, cfg, appOptions{
		Confirm: confirm,
		Status:  printStatus,
		Hooks:   consoleHooks(),
		Model:   flags.model,
	})
}

func runOnce(parent context.Context, flags runFlags, request string) error {
	ctx, stop := signalContext(parent)
	defer stop()

	// stdin may carry the request itself, so confirmations are only
	// possible when it is a terminal.
	var confirm domain.ConfirmFunc
	if isatty.IsTerminal(os.Stdin.Fd()) {
		confirm = newLineReader(os.Stdin).confirmFunc()
	}

	a, err := session(ctx, flags, confirm)
	if err != nil {
		return err
	}
	defer a.Close()
	defer dumpMetrics(a, flags.metricsDump)

	out, err := a.run(ctx, nil, request)
	if err != nil {
		return err
	}
	if out.State == agent.StateIterationLimit {
		logger.Warn("stopped at the iteration ceiling", "iterations", out.Iterations)
	}
	return nil
}

func runChat(parent context.Context, flags runFlags) error {
	ctx, stop := signalContext(parent)
	defer stop()

	input := newLineReader(os.Stdin)
	a, err := session(ctx, flags, input.confirmFunc())
	if err != nil {
		return err
	}
	defer a.Close()
	defer dumpMetrics(a, flags.metricsDump)

	fmt.Fprintf(os.Stderr, "cmdloop %s (%s %s). Type /help for commands, /exit to quit.\n",
		version, a.cfg.Provider.Name, a.cfg.Provider.Model)

	var history []domain.Message
	for {
		fmt.Fprint(os.Stderr, "\n> ")
		line, ok := input.next(ctx)
		if !ok {
			fmt.Fprintln(os.Stderr)
			return nil
		}
		line = strings.TrimSpace(line)
		switch line {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		case "/help":
			fmt.Fprintln(os.Stderr, "/tools    list available tools\n/servers  list capability servers\n/reset    forget the conversation\n/exit     quit")
			continue
		case "/reset":
			history = nil
			fmt.Fprintln(os.Stderr, "conversation cleared")
			continue
		case "/tools":
			for _, t := range a.tools() {
				where := "local"
				if t.Server != "" {
					where = t.Server
				}
				fmt.Printf("%-24s %-12s %s\n", t.Name, where, t.Description)
			}
			continue
		case "/servers":
			printServers(a.servers.Servers())
			continue
		}

		out, err := a.run(ctx, history, line)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Error("request failed", "err", err)
			continue
		}
		if out.State == agent.StateIterationLimit {
			fmt.Fprintf(os.Stderr, "(stopped after %d model calls)\n", out.Iterations)
		}
		history = out.Messages
	}
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func dumpMetrics(a *app, enabled bool) {
	if !enabled {
		return
	}
	if err := a.metrics.WriteText(os.Stderr); err != nil {
		logger.Warn("write metrics", "err", err)
	}
}
