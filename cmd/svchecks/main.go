package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/loykin/svchecks/internal/config"
	"github.com/loykin/svchecks/internal/supervisor"
)

func main() {
	root := buildRoot(command{in: os.Stdin, out: os.Stdout})
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command with every check subcommand attached.
func buildRoot(c command) *cobra.Command {
	globalFlags := &GlobalFlags{}
	c.global = globalFlags

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createHTTPCommand(c, &HTTPFlags{}),
		createTCPCommand(c, &TCPFlags{}),
		createCPUCommand(c, &CPUFlags{}),
		createMemoryCommand(c, &MemoryFlags{}),
		createFileCommand(c, &FileFlags{}),
		createComplexCommand(c, &ComplexFlags{}),
	)
	return root
}

// createRootCommand creates the root command and its persistent flags.
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "svchecks",
		Short: "Health checks for processes managed by supervisord",
		Long: `svchecks runs as a supervisord event listener. On every TICK event it
checks each process of a group (or a single process) and restarts the
ones that fail.

Example supervisord configuration:

  [eventlistener:web_check]
  command=svchecks http -n web_check -g web -u /ping -p "^web_(\d+)$" -t 10
  events=TICK_60`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&flags.ConfigPath, "config", "", "path to a TOML, YAML or JSON config file (optional)")
	pf.StringVarP(&flags.Name, "name", "n", "", "health check name (required)")
	pf.StringVarP(&flags.Group, "group", "g", "", "supervisord process group to check")
	pf.StringVarP(&flags.ProcessName, "process-name", "N", "", "single supervisord process to check (group:name); excludes --group")
	pf.StringVar(&flags.LogLevel, "log-level", "info", "log level: debug, info, warn, error")
	pf.StringVar(&flags.LogFormat, "log-format", "text", "log format: text or json")
	pf.StringVar(&flags.LogFile, "log-file", "", "write logs to a rotated file instead of stderr")
	pf.StringVar(&flags.ServerURL, "server-url", "", "supervisord XML-RPC URL (default $SUPERVISOR_SERVER_URL or "+supervisor.DefaultURL+")")
	pf.StringVar(&flags.Username, "username", "", "supervisord username")
	pf.StringVar(&flags.Password, "password", "", "supervisord password")
	pf.DurationVar(&flags.RPCTimeout, "rpc-timeout", config.DefaultRPCTimeout, "timeout of a single supervisord call")
	pf.DurationVar(&flags.TickTimeout, "tick-timeout", config.DefaultTickTimeout, "time budget for evaluating one tick")
	pf.DurationVar(&flags.RestartTimeout, "restart-timeout", config.DefaultRestartTimeout, "time budget for restarting one process")
	pf.StringVar(&flags.MetricsListen, "metrics-listen", "", "serve /metrics, /live, /ready and /status on this address")
	pf.StringVar(&flags.HistoryDSN, "history-dsn", "", "record restarts (sqlite path, postgres://, clickhouse://, opensearch://)")
	return root
}
