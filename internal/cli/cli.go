// ============================================================================
// Beaver-Balancer CLI - Command Line Interface
// ============================================================================
//
// Package: internal/cli
// File: cli.go
// Purpose: Provides the command line interface based on the Cobra framework
//
// Command Structure:
//   beaver-balancer                  # Root command
//   ├── run                          # Start a node
//   │   ├── --mode                  # coordinator | worker | standalone
//   │   ├── --listen                # coordinator gRPC address
//   │   ├── --coordinator           # coordinator address (worker mode)
//   │   ├── --concurrency           # number of worker clients
//   │   └── --exit-when-done        # stop once every job is completed
//   ├── status                       # Print the coordinator status report
//   │   └── --file                  # report path (default: from config)
//   ├── --config, -c                 # config file (default: configs/default.yaml)
//   ├── --log-level                  # debug | info | warn | error
//   └── --version
//
// Modes:
//   coordinator  Ledger + cleanup task + gRPC server (+ metrics, status report)
//   worker       N poll clients talking to a remote coordinator over gRPC
//   standalone   coordinator and N in-process clients, no network hop
//
// Signal Handling:
//   SIGINT / SIGTERM cancel the run context. Workers abort their in-flight
//   sessions (the coordinator requeues them immediately), the gRPC server
//   stops gracefully, and the coordinator writes a final status report.
//
// ============================================================================

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/ChuLiYu/beaver-balancer/internal/config"
	"github.com/ChuLiYu/beaver-balancer/internal/controller"
	"github.com/ChuLiYu/beaver-balancer/internal/metrics"
	"github.com/ChuLiYu/beaver-balancer/internal/server"
	"github.com/ChuLiYu/beaver-balancer/internal/snapshot"
	"github.com/ChuLiYu/beaver-balancer/internal/worker"
)

var log = slog.Default()

// Version is overridden at build time with -ldflags "-X ...cli.Version=..."
var Version = "1.0.0"

// Run modes
const (
	ModeCoordinator = "coordinator"
	ModeWorker      = "worker"
	ModeStandalone  = "standalone"
)

// ErrUnknownMode is returned for an unsupported --mode value.
var ErrUnknownMode = errors.New("unknown mode")

// shutdownTimeout bounds the graceful stop of the coordinator.
const shutdownTimeout = 10 * time.Second

var (
	configFile string
	logLevel   string
)

// BuildCLI builds the root command.
func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "beaver-balancer",
		Short: "Beaver-Balancer: chunked work distribution with heartbeat liveness",
		Long: `Beaver-Balancer splits a numeric range into fixed-size jobs and hands
them out to workers on request:
- heartbeat-based liveness, stalled jobs are reclaimed and reissued
- gRPC transport between coordinator and workers
- Prometheus metrics and a JSON status report`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "configs/default.yaml", "config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override: debug, info, warn, error")

	rootCmd.AddCommand(buildRunCommand())
	rootCmd.AddCommand(buildStatusCommand())

	return rootCmd
}

// runOptions holds flag overrides for the run command.
type runOptions struct {
	mode         string
	listen       string
	coordinator  string
	concurrency  int
	exitWhenDone bool
}

func buildRunCommand() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a Beaver-Balancer node",
		Long:  "Start the system in coordinator, worker, or standalone mode",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return runSystem(ctx, cfg, opts.mode)
		},
	}

	cmd.Flags().StringVar(&opts.mode, "mode", ModeStandalone, "System mode: coordinator, worker, standalone")
	cmd.Flags().StringVar(&opts.listen, "listen", "", "gRPC listen address (coordinator mode)")
	cmd.Flags().StringVar(&opts.coordinator, "coordinator", "", "Coordinator address (worker mode)")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 0, "Number of worker clients")
	cmd.Flags().BoolVar(&opts.exitWhenDone, "exit-when-done", false, "Stop once every job is completed")

	return cmd
}

// loadConfig loads the config file and applies flag overrides.
func loadConfig(cmd *cobra.Command, opts runOptions) (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("listen") {
		cfg.Coordinator.ListenAddr = opts.listen
	}
	if flags.Changed("coordinator") {
		cfg.Worker.CoordinatorAddr = opts.coordinator
	}
	if flags.Changed("concurrency") {
		cfg.Worker.Concurrency = opts.concurrency
	}
	if flags.Changed("exit-when-done") {
		cfg.Coordinator.ExitWhenDone = opts.exitWhenDone
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := setupLogging(cfg.LogLevel); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setupLogging sets the minimum level of the default slog logger.
func setupLogging(level string) error {
	l, err := config.ParseLevel(level)
	if err != nil {
		return err
	}
	slog.SetLogLoggerLevel(l)
	return nil
}

func runSystem(ctx context.Context, cfg *config.Config, mode string) error {
	log.Info("Starting Beaver-Balancer", "mode", mode, "config", configFile, "version", Version)

	switch mode {
	case ModeCoordinator:
		return runCoordinator(ctx, cfg, false)
	case ModeStandalone:
		return runCoordinator(ctx, cfg, true)
	case ModeWorker:
		return runWorkerNode(ctx, cfg)
	default:
		return fmt.Errorf("%w: %q (want %s, %s or %s)", ErrUnknownMode, mode,
			ModeCoordinator, ModeWorker, ModeStandalone)
	}
}

// runCoordinator runs the coordinator with either a gRPC server or, in
// standalone mode, an in-process worker pool.
func runCoordinator(ctx context.Context, cfg *config.Config, standalone bool) error {
	var collector *metrics.Collector
	var ctrlOpts []controller.Option
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector()
		ctrlOpts = append(ctrlOpts, controller.WithMetrics(collector))
	}

	ctrl, err := controller.NewController(cfg.Coordinator.ControllerConfig(), ctrlOpts...)
	if err != nil {
		return fmt.Errorf("failed to create controller: %w", err)
	}
	if err := ctrl.Start(); err != nil {
		return fmt.Errorf("failed to start controller: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	// 1. Metrics
	if cfg.Metrics.Enabled {
		srv := metrics.NewServer(cfg.Metrics.Port)
		g.Go(func() error { return serveHTTP(gctx, srv) })
	}

	// 2. Workers or gRPC
	if standalone {
		work, err := cfg.Worker.WorkFunc()
		if err != nil {
			cancel()
			return errors.Join(err, stopController(ctrl))
		}
		pool, err := worker.NewPool(ctrl.Source(), work, cfg.Worker.Concurrency, cfg.Worker.ClientConfig("local"))
		if err != nil {
			cancel()
			return errors.Join(err, stopController(ctrl))
		}
		g.Go(func() error {
			defer cancel()
			return pool.Run(gctx)
		})
	} else {
		lis, err := net.Listen("tcp", cfg.Coordinator.ListenAddr)
		if err != nil {
			cancel()
			return errors.Join(fmt.Errorf("failed to listen on %s: %w", cfg.Coordinator.ListenAddr, err), stopController(ctrl))
		}
		srv := server.NewServer(ctrl, collector)
		g.Go(func() error { return srv.Serve(gctx, lis) })
	}

	// 3. Exit when every job is completed
	if cfg.Coordinator.ExitWhenDone {
		g.Go(func() error {
			select {
			case <-ctrl.Done():
				log.Info("Every job completed, shutting down")
				cancel()
			case <-gctx.Done():
			}
			return nil
		})
	}

	log.Info("System started successfully")

	err = g.Wait()
	log.Info("Shutting down...")
	return errors.Join(err, stopController(ctrl))
}

func stopController(ctrl *controller.Controller) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return ctrl.Stop(ctx)
}

// serveHTTP runs srv until ctx is cancelled.
func serveHTTP(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info("Starting metrics server", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// runWorkerNode runs a pool of gRPC-backed clients until the coordinator
// signals shutdown or ctx is cancelled.
func runWorkerNode(ctx context.Context, cfg *config.Config) error {
	addr := cfg.Worker.CoordinatorAddr
	if addr == "" {
		return fmt.Errorf("coordinator address is required in worker mode")
	}

	log.Info("Connecting to coordinator", "addr", addr)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("failed to connect to coordinator: %w", err)
	}
	defer conn.Close()

	work, err := cfg.Worker.WorkFunc()
	if err != nil {
		return err
	}

	source := worker.NewGrpcJobSource(conn)
	pool, err := worker.NewPool(source, work, cfg.Worker.Concurrency, cfg.Worker.ClientConfig(source.WorkerID()))
	if err != nil {
		return err
	}

	log.Info("Starting workers", "count", pool.Size(), "worker", source.WorkerID())
	return pool.Run(ctx)
}

func buildStatusCommand() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show coordinator status",
		Long:  "Display the job ledger statistics from the coordinator status report",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := file
			if path == "" {
				cfg, err := config.Load(configFile)
				if err != nil {
					return fmt.Errorf("failed to load config: %w", err)
				}
				path = cfg.Coordinator.StatusFile
			}
			if path == "" {
				return fmt.Errorf("no status file configured (set coordinator.status_file or use --file)")
			}
			return showStatus(cmd.OutOrStdout(), path)
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "status report path")
	return cmd
}

func showStatus(w io.Writer, path string) error {
	report, err := snapshot.NewManager(path).Load()
	if errors.Is(err, snapshot.ErrReportNotFound) {
		fmt.Fprintf(w, "No status report at %s (is the coordinator running with status_file set?)\n", path)
		return nil
	}
	if err != nil {
		return err
	}

	l := report.Ledger
	fmt.Fprintln(w, "╔═══════════════════════════════════════════════════════════╗")
	fmt.Fprintln(w, "║           Beaver-Balancer Coordinator Status              ║")
	fmt.Fprintln(w, "╚═══════════════════════════════════════════════════════════╝")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "📋 Configuration:")
	fmt.Fprintf(w, "  ├─ Total Units:      %d\n", l.TotalUnits)
	fmt.Fprintf(w, "  ├─ Chunk Size:       %d\n", l.ChunkSize)
	fmt.Fprintf(w, "  ├─ Ping Timeout:     %s\n", report.PingTimeout)
	fmt.Fprintf(w, "  └─ Cleanup Interval: %s\n", report.CleanupInterval)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "📊 Jobs:")
	fmt.Fprintf(w, "  ├─ Total:       %d\n", l.PacketCount)
	fmt.Fprintf(w, "  ├─ ⏳ Unclaimed: %d\n", l.Status.Unclaimed)
	fmt.Fprintf(w, "  ├─ 🔄 In-Flight: %d\n", l.Status.InFlight)
	fmt.Fprintf(w, "  ├─ ✅ Completed: %d\n", l.Status.Completed)
	fmt.Fprintf(w, "  └─ ♻️  Reclaimed: %d\n", report.Reclaimed)
	fmt.Fprintln(w)

	fmt.Fprintf(w, "📈 Progress: %.1f%%  (uptime %s, report taken %s)\n",
		report.Progress()*100, report.Uptime().Round(time.Second), l.TakenAt.Format(time.RFC3339))

	if len(l.InFlight) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "🔄 In-Flight Jobs:")
		for _, job := range l.InFlight {
			fmt.Fprintf(w, "  └─ job %-8d attempt %-3d last heartbeat %s ago\n",
				job.JobID, job.Attempt, job.Age.Round(time.Millisecond))
		}
	}

	fmt.Fprintln(w, "═══════════════════════════════════════════════════════════")
	return nil
}
