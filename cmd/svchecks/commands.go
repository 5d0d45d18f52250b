package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/loykin/svchecks"
	"github.com/loykin/svchecks/internal/checks"
	"github.com/loykin/svchecks/internal/config"
)

const defaultTCPPort = `^.*_(\d+)$`

// command runs a listener on the given control channel. opts are appended
// to the listener options, which lets tests swap the supervisord client.
type command struct {
	in     io.Reader
	out    io.Writer
	global *GlobalFlags
	opts   []svchecks.Option
}

// run resolves the configuration and serves the event protocol until
// supervisord closes stdin or a termination signal arrives. set replaces the
// checks from the config file when non-nil.
func (c command) run(cmd *cobra.Command, set map[string]checks.Params) error {
	cfg, err := config.Load(config.LoadOptions{File: c.global.ConfigPath, Flags: cmd.Flags()})
	if err != nil {
		return err
	}
	if set != nil {
		cfg.Checks = set
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, closer, err := cfg.Log.New()
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = closer.Close() }()

	opts := append([]svchecks.Option{svchecks.WithLogger(log)}, c.opts...)
	l, err := svchecks.NewListener(cfg, opts...)
	if err != nil {
		return err
	}
	defer func() { _ = l.Close() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := l.Run(ctx, c.in, c.out); err != nil {
		log.Error("listener stopped", "error", err)
		return err
	}
	return nil
}

// createHTTPCommand creates the http subcommand
func createHTTPCommand(c command, f *HTTPFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "http",
		Short: "Restart processes whose HTTP endpoint does not answer 200",
		Long: `Send GET http://<host>:<port><url> to every process and restart the ones
that do not answer 200 OK after the configured retries.

Examples:
  svchecks http -n web_check -g web -u /ping -p 8080
  svchecks http -n web_check -g web -u /ping -p "^web_(\d+)$" -t 5 -r 3`,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := checks.Params{
				"url":         f.URL,
				"port":        f.Port,
				"timeout":     f.Timeout,
				"num_retries": f.NumRetries,
			}
			if f.Host != "" {
				p["host"] = f.Host
			}
			if f.Username != "" || f.Password != "" {
				p["username"] = f.Username
				p["password"] = f.Password
			}
			return c.run(cmd, map[string]checks.Params{string(checks.KindHTTP): p})
		},
	}
	cmd.Flags().StringVarP(&f.URL, "url", "u", "", "path to query, e.g. /ping (required)")
	cmd.Flags().StringVarP(&f.Port, "port", "p", "", "port number, or a regex with one group extracting it from the process name (required)")
	cmd.Flags().StringVar(&f.Host, "host", "", "host to query (default 127.0.0.1)")
	cmd.Flags().IntVarP(&f.Timeout, "timeout", "t", 15, "request timeout in seconds")
	cmd.Flags().IntVarP(&f.NumRetries, "num-retries", "r", 2, "retries after a failed connection")
	cmd.Flags().StringVar(&f.Username, "http-username", "", "basic auth username for the endpoint")
	cmd.Flags().StringVar(&f.Password, "http-password", "", "basic auth password for the endpoint")
	mustRequire(cmd, "url", "port")
	return cmd
}

// createTCPCommand creates the tcp subcommand
func createTCPCommand(c command, f *TCPFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tcp",
		Short: "Restart processes that do not accept TCP connections",
		Long: `Open and close a TCP connection to every process and restart the ones that
refuse it after the configured retries. Without --port the port is taken
from the process name suffix (web_8080 -> 8080).

Examples:
  svchecks tcp -n db_check -N db:postgres -p 5432`,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := checks.Params{
				"port":        f.Port,
				"timeout":     f.Timeout,
				"num_retries": f.NumRetries,
			}
			if f.Host != "" {
				p["host"] = f.Host
			}
			return c.run(cmd, map[string]checks.Params{string(checks.KindTCP): p})
		},
	}
	cmd.Flags().StringVarP(&f.Port, "port", "p", defaultTCPPort, "port number or regex with one group")
	cmd.Flags().StringVar(&f.Host, "host", "", "host to connect to (default 127.0.0.1)")
	cmd.Flags().IntVarP(&f.Timeout, "timeout", "t", 15, "connect timeout in seconds")
	cmd.Flags().IntVarP(&f.NumRetries, "num-retries", "r", 2, "retries after a failed connection")
	return cmd
}

// createCPUCommand creates the cpu subcommand
func createCPUCommand(c command, f *CPUFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cpu",
		Short: "Restart processes that stay above a CPU limit",
		Long: `Restart a process once its CPU usage has stayed above --max-cpu percent for
longer than --interval seconds.

Examples:
  svchecks cpu -n cpu_check -g workers -m 90 -i 600`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, map[string]checks.Params{string(checks.KindCPU): {
				"max_cpu":  f.MaxCPU,
				"interval": f.Interval,
			}})
		},
	}
	cmd.Flags().Float64VarP(&f.MaxCPU, "max-cpu", "m", 0, "CPU limit in percent (required)")
	cmd.Flags().IntVarP(&f.Interval, "interval", "i", 3600, "seconds the limit may be exceeded before restarting")
	mustRequire(cmd, "max-cpu")
	return cmd
}

// createMemoryCommand creates the memory subcommand
func createMemoryCommand(c command, f *MemoryFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Restart processes above a resident memory limit",
		Long: `Restart a process whose resident memory exceeds --max-rss kilobytes. With
--cumulative the memory of all descendants counts too. The
limit must stay exceeded for --interval seconds first, so a single spike
never restarts.

Examples:
  svchecks memory -n mem_check -g web -m 4194304 -c`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, map[string]checks.Params{string(checks.KindMemory): {
				"max_rss":    f.MaxRSS,
				"cumulative": f.Cumulative,
				"interval":   f.Interval,
			}})
		},
	}
	cmd.Flags().Int64VarP(&f.MaxRSS, "max-rss", "m", 0, "resident memory limit in KB (required)")
	cmd.Flags().BoolVarP(&f.Cumulative, "cumulative", "c", false, "include descendant processes")
	cmd.Flags().IntVarP(&f.Interval, "interval", "i", 3600, "seconds the limit may be exceeded before restarting")
	mustRequire(cmd, "max-rss")
	return cmd
}

// createFileCommand creates the file subcommand
func createFileCommand(c command, f *FileFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "file",
		Short: "Restart processes whose heartbeat file went stale",
		Long: `Restart a process when its heartbeat file has not changed for --timeout
seconds. The path may use %(process_group)s, %(process_name)s and
%(process_pid)s, and may be a glob; the newest match counts.

Examples:
  svchecks file -n beat_check -g workers -t 120 -x
  svchecks file -n beat_check -g workers -t 120 -f "/run/beat/%(process_name)s-*"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := checks.Params{
				"timeout":       f.Timeout,
				"fail_on_error": f.FailOnError,
			}
			if f.File != "" {
				p["file"] = f.File
			}
			if f.Dir != "" {
				p["dir"] = f.Dir
			}
			return c.run(cmd, map[string]checks.Params{string(checks.KindFile): p})
		},
	}
	cmd.Flags().IntVarP(&f.Timeout, "timeout", "t", 0, "seconds without a change before the process is considered dead (required)")
	cmd.Flags().BoolVarP(&f.FailOnError, "fail-on-error", "x", false, "fail when the file cannot be read")
	cmd.Flags().StringVarP(&f.File, "file", "f", "", "heartbeat path template (default <dir>/%(process_group)s-%(process_name)s-%(process_pid)s)")
	cmd.Flags().StringVar(&f.Dir, "dir", "", "heartbeat directory for relative templates (default "+checks.DefaultHeartbeatDir()+")")
	mustRequire(cmd, "timeout")
	return cmd
}

// createComplexCommand creates the complex subcommand
func createComplexCommand(c command, f *ComplexFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "complex",
		Short: "Run several checks at once",
		Long: `Run every check of a JSON document keyed by check kind. A process is
restarted when any of them fails. Without --check-config the checks table
of the config file is used.

Examples:
  svchecks complex -n web_check -g web -c '{"memory":{"cumulative":true,"max_rss":4194304},"http":{"timeout":15,"port":8090,"url":"/ping","num_retries":3}}'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if f.CheckConfig == "" {
				return c.run(cmd, nil)
			}
			set, err := config.ParseChecksJSON(f.CheckConfig)
			if err != nil {
				return err
			}
			return c.run(cmd, set)
		},
	}
	cmd.Flags().StringVarP(&f.CheckConfig, "check-config", "c", "", "checks as JSON, e.g. '{\"tcp\":{\"port\":5432}}'")
	return cmd
}

func mustRequire(cmd *cobra.Command, names ...string) {
	for _, n := range names {
		if err := cmd.MarkFlagRequired(n); err != nil {
			panic(err)
		}
	}
}
