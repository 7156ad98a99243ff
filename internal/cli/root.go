package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"nexrt/internal/config"
	"nexrt/internal/core"
)

// Options collects the global flags and output streams.
type Options struct {
	ConfigPath string
	LogLevel   string
	LogFormat  string
	Addr       string
	JSON       bool
	Out        io.Writer
	Err        io.Writer
}

func defaultOptions() *Options {
	addr := config.DefaultAdminAddr
	if v := os.Getenv("NEXRT_ADMIN_ADDR"); v != "" {
		addr = v
	}
	return &Options{Addr: addr, Out: os.Stdout, Err: os.Stderr}
}

// buildRootCmdWith wires the command tree to the fn* actions.
func buildRootCmdWith(o *Options) *cobra.Command {
	root := &cobra.Command{
		Use:           "nexrt",
		Short:         "Runtime core: memory, scheduling, plugins and platform queries",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(o.Out)
	root.SetErr(o.Err)
	pf := root.PersistentFlags()
	pf.StringVarP(&o.ConfigPath, "config", "c", o.ConfigPath, "Config file (.yaml, .json or .toml)")
	pf.StringVar(&o.LogLevel, "log-level", o.LogLevel, "Log level: trace|debug|info|warn|error (overrides config)")
	pf.StringVar(&o.LogFormat, "log-format", o.LogFormat, "Log format: console|json (overrides config)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the runtime until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return fnServe(ctx, o)
		},
	}

	platformCmd := &cobra.Command{
		Use:   "platform",
		Short: "Describe the host platform",
		Args:  cobra.NoArgs,
		RunE:  func(cmd *cobra.Command, args []string) error { return fnPlatform(cmd.Context(), o) },
	}
	platformCmd.Flags().BoolVar(&o.JSON, "json", false, "Print JSON")

	pluginsCmd := &cobra.Command{Use: "plugins", Short: "Discover and load plugins locally", RunE: func(cmd *cobra.Command, args []string) error {
		return fmt.Errorf("plugins requires a subcommand: scan|load")
	}}
	scanCmd := &cobra.Command{Use: "scan <dir>", Short: "List plugin candidates in a directory", Args: cobra.ExactArgs(1), RunE: func(cmd *cobra.Command, args []string) error {
		return fnScan(cmd.Context(), o, args[0])
	}}
	loadCmd := &cobra.Command{Use: "load <dir>", Short: "Load every plugin in a directory and report the outcome", Args: cobra.ExactArgs(1), RunE: func(cmd *cobra.Command, args []string) error {
		return fnLoad(cmd.Context(), o, args[0])
	}}
	pluginsCmd.AddCommand(scanCmd, loadCmd)

	addrFlag := func(c *cobra.Command) {
		c.Flags().StringVar(&o.Addr, "addr", o.Addr, "Admin address of a running runtime (defaults NEXRT_ADMIN_ADDR)")
	}
	statsCmd := &cobra.Command{Use: "stats", Short: "Fetch statistics from a running runtime", Args: cobra.NoArgs, RunE: func(cmd *cobra.Command, args []string) error {
		return fnStats(cmd.Context(), o)
	}}
	addrFlag(statsCmd)

	var callArgs []string
	callCmd := &cobra.Command{
		Use:     "call <plugin> <method>",
		Short:   "Call a plugin method on a running runtime",
		Example: "  nexrt call echo echo --arg greeting=hello",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kv, err := parseArgs(callArgs)
			if err != nil {
				return err
			}
			return fnCall(cmd.Context(), o, args[0], args[1], kv)
		},
	}
	addrFlag(callCmd)
	callCmd.Flags().StringArrayVar(&callArgs, "arg", nil, "Argument as key=value (repeatable)")

	eventsCmd := &cobra.Command{Use: "events", Short: "Stream plugin events from a running runtime", Args: cobra.NoArgs, RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return fnEvents(ctx, o)
	}}
	addrFlag(eventsCmd)

	versionCmd := &cobra.Command{Use: "version", Short: "Print the core version", Args: cobra.NoArgs, RunE: func(cmd *cobra.Command, args []string) error {
		_, err := fmt.Fprintln(o.Out, core.Version)
		return err
	}}

	root.AddCommand(serveCmd, platformCmd, pluginsCmd, statsCmd, callCmd, eventsCmd, versionCmd)
	return root
}

// parseArgs turns key=value pairs into call arguments.
func parseArgs(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --arg %q: want key=value", p)
		}
		out[k] = v
	}
	return out, nil
}

// MainWithArgs runs the CLI and returns the process exit code.
func MainWithArgs(args []string) int { return run(args, defaultOptions()) }

func run(args []string, o *Options) int {
	root := buildRootCmdWith(o)
	if len(args) == 0 {
		_ = root.Usage()
		return 2
	}
	root.SetArgs(args)
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(o.Err, "error:", err)
		return 1
	}
	return 0
}

// Main is the entry point used by cmd/nexrt.
func Main() int { return MainWithArgs(os.Args[1:]) }
