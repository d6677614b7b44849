package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"log/slog"

	"github.com/devserd/devserd"
	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot assembles the root command with every subcommand attached.
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	startFlags := &StartFlags{}
	stopFlags := &StopFlags{}
	restartFlags := &RestartFlags{}
	statusFlags := &StatusFlags{}
	statsFlags := &StatsFlags{}
	logsFlags := &LogsFlags{}
	usageFlags := &UsageFlags{}
	healthFlags := &HealthFlags{}
	killAllFlags := &KillAllFlags{}
	upFlags := &UpFlags{}

	devserdCommand := command{}

	root := createRootCommand(globalFlags)

	root.AddCommand(
		createServeCommand(globalFlags),
		createUpCommand(devserdCommand, globalFlags, upFlags),
		createStartCommand(devserdCommand, globalFlags, startFlags),
		createStopCommand(devserdCommand, stopFlags),
		createRestartCommand(devserdCommand, restartFlags),
		createStatusCommand(devserdCommand, statusFlags),
		createStatsCommand(devserdCommand, statsFlags),
		createLogsCommand(devserdCommand, logsFlags),
		createUsageCommand(devserdCommand, usageFlags),
		createHealthCommand(devserdCommand, healthFlags),
		createKillAllCommand(devserdCommand, killAllFlags),
	)

	return root
}

// createRootCommand creates the root command with minimal persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "devserd",
		Short: "Dev-server process supervisor",
		Long: `Devserd keeps development server processes alive, captures their
output, and exposes their state over a local daemon API.

Examples:
  devserd serve --config=devserd.toml          # Start daemon
  devserd up --config=devserd.toml             # Start all configured projects
  devserd start --name=web --cmd="npm run dev" # Start one project
  devserd status                               # Show all project records
  devserd logs --name=web -n 50                # Tail captured output`,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")

	return root
}

// createServeCommand creates the serve subcommand
func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	serveFlags := &ServeFlags{}

	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Start the devserd daemon",
		Long: `Start the devserd daemon to supervise projects and serve the API.
All configuration is loaded from the TOML config file.

Examples:
  devserd serve --config=devserd.toml  # Start daemon in the foreground
  devserd serve devserd.toml           # Same, config as positional argument
  devserd serve --config=devserd.toml --daemonize  # Run in background (pidfile from [server])`,
		RunE: func(cmd *cobra.Command, args []string) error {
			serveFlags.ConfigPath = globalFlags.ConfigPath
			return runServeCommand(serveFlags, args)
		},
	}

	cmd.Flags().BoolVar(&serveFlags.Daemonize, "daemonize", false, "run as daemon in background")
	cmd.Flags().StringVar(&serveFlags.LogFile, "logfile", "", "redirect daemon logs to file")

	return cmd
}

func runServeCommand(flags *ServeFlags, args []string) error {
	configPath := flags.ConfigPath
	if len(args) > 0 {
		configPath = args[0]
	}
	if configPath == "" {
		return fmt.Errorf("config file required for serve command. Use --config=devserd.toml or provide as argument")
	}

	cfg, err := devserd.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if cfg.Server == nil {
		return fmt.Errorf("server must be configured to run serve command")
	}

	if flags.Daemonize {
		logfile := flags.LogFile
		if logfile == "" {
			logfile = cfg.Server.LogFile
		}
		return daemonize(cfg.Server.PidFile, logfile)
	}

	logger := cfg.Log.NewSlogger()
	slog.SetDefault(logger)

	sup := devserd.NewFromConfig(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Metrics from config
	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		if err := devserd.RegisterMetricsDefault(); err != nil {
			fmt.Printf("Warning: failed to register metrics: %v\n", err)
		}
		if err := sup.RegisterUsageMetricsDefault(); err != nil {
			fmt.Printf("Warning: failed to register usage metrics: %v\n", err)
		}
		if cfg.Metrics.Listen != "" {
			go func() {
				if err := devserd.ServeMetrics(cfg.Metrics.Listen); err != nil {
					fmt.Printf("Metrics server error: %v\n", err)
				}
			}()
		}
	}
	if err := sup.StartSampling(ctx); err != nil {
		fmt.Printf("Warning: failed to start usage sampler: %v\n", err)
	}

	// Event journal sinks
	var jw *devserd.JournalWriter
	if cfg.Journal != nil && cfg.Journal.Enabled {
		chDSN := cfg.Journal.ClickHouseDSN
		if chDSN != "" && cfg.Journal.ClickHouseTable != "" && !strings.Contains(chDSN, "table=") {
			sep := "?"
			if strings.Contains(chDSN, "?") {
				sep = "&"
			}
			chDSN += sep + "table=" + cfg.Journal.ClickHouseTable
		}
		var sinks []devserd.JournalSink
		for _, dsn := range []string{cfg.Journal.DSN, chDSN} {
			if dsn == "" {
				continue
			}
			sink, err := devserd.NewJournalSink(dsn)
			if err != nil {
				return fmt.Errorf("failed to open journal sink: %w", err)
			}
			sinks = append(sinks, sink)
		}
		if len(sinks) > 0 {
			jw = sup.AttachJournal(cfg.Journal.Buffer, sinks...)
		}
	}

	// Autostart projects in priority order
	for _, p := range devserd.SortProjectsByPriority(cfg.Projects) {
		if !p.AutostartEnabled() {
			continue
		}
		if _, err := sup.Start(p.Name, p.Config(), p.Options()); err != nil {
			logger.Error("autostart failed", "project", p.Name, "error", err)
		}
	}

	// Create and start HTTP/HTTPS server
	protocol := "HTTP"
	var server *http.Server

	if cfg.Server.TLS != nil && cfg.Server.TLS.Enabled {
		protocol = "HTTPS"
		server, err = devserd.NewTLSServer(*cfg.Server, sup)
		if err != nil {
			return fmt.Errorf("failed to create HTTPS server: %w", err)
		}
	} else {
		server, err = devserd.NewHTTPServer(cfg.Server.Listen, cfg.Server.BasePath, sup)
		if err != nil {
			return fmt.Errorf("failed to create HTTP server: %w", err)
		}
	}

	fmt.Printf("Starting devserd %s server on %s%s\n", protocol, cfg.Server.Listen, cfg.Server.BasePath)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("Shutting down...")
	_ = server.Close()
	sup.StopSampling()
	sup.Shutdown()
	if jw != nil {
		jw.Close()
	}
	_ = removePidFile(cfg.Server.PidFile)
	return nil
}

// createUpCommand creates the up subcommand
func createUpCommand(devserdCommand command, globalFlags *GlobalFlags, upFlags *UpFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "up",
		Short: "Start all configured projects",
		Long: `Start every autostart project from the config file, in priority order.
Projects already running are skipped.

Examples:
  devserd up --config=devserd.toml
  devserd up --config=devserd.toml --api-url=http://remote:8080/api`,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := *upFlags
			f.ConfigPath = globalFlags.ConfigPath
			return devserdCommand.Up(f)
		},
	}

	cmd.Flags().StringVar(&upFlags.APIUrl, "api-url", "", "daemon URL (e.g. http://host:8080/api)")
	cmd.Flags().DurationVar(&upFlags.APITimeout, "api-timeout", 10*time.Second, "request timeout")

	return cmd
}

// createStartCommand creates the start subcommand
func createStartCommand(devserdCommand command, globalFlags *GlobalFlags, startFlags *StartFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start one project",
		Long: `Start a single project. The command comes from --cmd, or from the
project's definition in the config file when --cmd is omitted.

Examples:
  devserd start --name=web --cmd="npm run dev" --port=3000
  devserd start --name=api --cmd=./api-server --workdir=/srv/api --env=DEBUG=1
  devserd start --name=web --config=devserd.toml  # Use config definition`,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := *startFlags
			f.ConfigPath = globalFlags.ConfigPath
			return devserdCommand.Start(f)
		},
	}

	cmd.Flags().StringVar(&startFlags.Name, "name", "", "project name (required)")
	cmd.Flags().StringVar(&startFlags.Cmd, "cmd", "", "command to run")
	cmd.Flags().StringArrayVar(&startFlags.Args, "arg", nil, "command argument (repeatable)")
	cmd.Flags().StringVar(&startFlags.WorkDir, "workdir", "", "working directory")
	cmd.Flags().IntVar(&startFlags.Port, "port", 0, "port the dev server listens on")
	cmd.Flags().StringArrayVar(&startFlags.EnvKVs, "env", nil, "KEY=VALUE environment entry (repeatable)")
	cmd.Flags().BoolVar(&startFlags.Detached, "detached", false, "survive supervisor shutdown")
	cmd.Flags().DurationVar(&startFlags.Timeout, "start-timeout", 0, "time to wait for the process to hold before reporting running")

	cmd.Flags().StringVar(&startFlags.APIUrl, "api-url", "", "daemon URL (e.g. http://host:8080/api)")
	cmd.Flags().DurationVar(&startFlags.APITimeout, "api-timeout", 10*time.Second, "request timeout")

	if err := cmd.MarkFlagRequired("name"); err != nil {
		panic(err)
	}

	return cmd
}

// createStopCommand creates the stop subcommand
func createStopCommand(devserdCommand command, stopFlags *StopFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop one project",
		Long: `Stop a single project, waiting for it to exit. The default TERM
signal can be overridden with --signal.

Examples:
  devserd stop --name=web
  devserd stop --name=web --signal=SIGKILL`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return devserdCommand.Stop(*stopFlags)
		},
	}

	cmd.Flags().StringVar(&stopFlags.Name, "name", "", "project name (required)")
	cmd.Flags().StringVar(&stopFlags.Signal, "signal", "", "signal to send (e.g. SIGTERM, SIGINT, SIGKILL)")

	cmd.Flags().StringVar(&stopFlags.APIUrl, "api-url", "", "daemon URL (e.g. http://host:8080/api)")
	cmd.Flags().DurationVar(&stopFlags.APITimeout, "api-timeout", 10*time.Second, "request timeout")

	if err := cmd.MarkFlagRequired("name"); err != nil {
		panic(err)
	}

	return cmd
}

// createRestartCommand creates the restart subcommand
func createRestartCommand(devserdCommand command, restartFlags *RestartFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart one project",
		Long: `Stop a project and start it again with its last known settings.

Examples:
  devserd restart --name=web`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return devserdCommand.Restart(*restartFlags)
		},
	}

	cmd.Flags().StringVar(&restartFlags.Name, "name", "", "project name (required)")

	cmd.Flags().StringVar(&restartFlags.APIUrl, "api-url", "", "daemon URL (e.g. http://host:8080/api)")
	cmd.Flags().DurationVar(&restartFlags.APITimeout, "api-timeout", 10*time.Second, "request timeout")

	if err := cmd.MarkFlagRequired("name"); err != nil {
		panic(err)
	}

	return cmd
}

// createStatusCommand creates the status subcommand
func createStatusCommand(devserdCommand command, statusFlags *StatusFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show project records",
		Long: `Print the record of one project, or of every tracked project when
no name is given.

Examples:
  devserd status
  devserd status --name=web
  devserd status --api-url=http://remote:8080/api`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return devserdCommand.Status(*statusFlags)
		},
	}

	cmd.Flags().StringVar(&statusFlags.Name, "name", "", "project name (all projects when omitted)")

	cmd.Flags().StringVar(&statusFlags.APIUrl, "api-url", "", "daemon URL (e.g. http://host:8080/api)")
	cmd.Flags().DurationVar(&statusFlags.APITimeout, "api-timeout", 10*time.Second, "request timeout")

	return cmd
}

// createStatsCommand creates the stats subcommand
func createStatsCommand(devserdCommand command, statsFlags *StatsFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show aggregate status counters",
		Long: `Print how many projects sit in each lifecycle state.

Examples:
  devserd stats`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return devserdCommand.Stats(*statsFlags)
		},
	}

	cmd.Flags().StringVar(&statsFlags.APIUrl, "api-url", "", "daemon URL (e.g. http://host:8080/api)")
	cmd.Flags().DurationVar(&statsFlags.APITimeout, "api-timeout", 10*time.Second, "request timeout")

	return cmd
}

// createLogsCommand creates the logs subcommand
func createLogsCommand(devserdCommand command, logsFlags *LogsFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show captured project output",
		Long: `Print the captured stdout/stderr tail of one project.

Examples:
  devserd logs --name=web
  devserd logs --name=web -n 50`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return devserdCommand.Logs(*logsFlags)
		},
	}

	cmd.Flags().StringVar(&logsFlags.Name, "name", "", "project name (required)")
	cmd.Flags().IntVarP(&logsFlags.N, "lines", "n", 0, "number of lines from the end (all retained when 0)")

	cmd.Flags().StringVar(&logsFlags.APIUrl, "api-url", "", "daemon URL (e.g. http://host:8080/api)")
	cmd.Flags().DurationVar(&logsFlags.APITimeout, "api-timeout", 10*time.Second, "request timeout")

	if err := cmd.MarkFlagRequired("name"); err != nil {
		panic(err)
	}

	return cmd
}

// createUsageCommand creates the usage subcommand
func createUsageCommand(devserdCommand command, usageFlags *UsageFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show resource usage",
		Long: `Print CPU and memory usage of one project, of every project, or the
sampled history of one project.

Examples:
  devserd usage
  devserd usage --name=web
  devserd usage --name=web --history`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return devserdCommand.Usage(*usageFlags)
		},
	}

	cmd.Flags().StringVar(&usageFlags.Name, "name", "", "project name (all projects when omitted)")
	cmd.Flags().BoolVar(&usageFlags.History, "history", false, "print the sampled usage history")

	cmd.Flags().StringVar(&usageFlags.APIUrl, "api-url", "", "daemon URL (e.g. http://host:8080/api)")
	cmd.Flags().DurationVar(&usageFlags.APITimeout, "api-timeout", 10*time.Second, "request timeout")

	return cmd
}

// createHealthCommand creates the health subcommand
func createHealthCommand(devserdCommand command, healthFlags *HealthFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Report a health verdict for one project",
		Long: `Mark a running project healthy or unhealthy based on an external
check. An unhealthy verdict moves the record to healthcheck_failed.

Examples:
  devserd health --name=web --healthy=false
  devserd health --name=web --healthy=true`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return devserdCommand.Health(*healthFlags)
		},
	}

	cmd.Flags().StringVar(&healthFlags.Name, "name", "", "project name (required)")
	cmd.Flags().BoolVar(&healthFlags.Healthy, "healthy", true, "health verdict")

	cmd.Flags().StringVar(&healthFlags.APIUrl, "api-url", "", "daemon URL (e.g. http://host:8080/api)")
	cmd.Flags().DurationVar(&healthFlags.APITimeout, "api-timeout", 10*time.Second, "request timeout")

	if err := cmd.MarkFlagRequired("name"); err != nil {
		panic(err)
	}

	return cmd
}

// createKillAllCommand creates the kill-all subcommand
func createKillAllCommand(devserdCommand command, killAllFlags *KillAllFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kill-all",
		Short: "Terminate every project",
		Long: `Send a termination signal to every tracked project and clear their
records. One unresponsive project cannot block the sweep; it is
force-killed after the grace period.

Examples:
  devserd kill-all
  devserd kill-all --signal=SIGINT`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return devserdCommand.KillAll(*killAllFlags)
		},
	}

	cmd.Flags().StringVar(&killAllFlags.Signal, "signal", "", "signal to send (default SIGTERM)")

	cmd.Flags().StringVar(&killAllFlags.APIUrl, "api-url", "", "daemon URL (e.g. http://host:8080/api)")
	cmd.Flags().DurationVar(&killAllFlags.APITimeout, "api-timeout", 10*time.Second, "request timeout")

	return cmd
}
