// Package main provides the entry point for the plantatlas facility server
// and its command line queries.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/olekukonko/tablewriter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/TFMV/plantatlas/cmd/server/config"
	"github.com/TFMV/plantatlas/cmd/server/server"
	"github.com/TFMV/plantatlas/pkg/benchmark"
	"github.com/TFMV/plantatlas/pkg/infrastructure/memory"
	"github.com/TFMV/plantatlas/pkg/infrastructure/metrics"
	"github.com/TFMV/plantatlas/pkg/infrastructure/pool"
	"github.com/TFMV/plantatlas/pkg/models"
	"github.com/TFMV/plantatlas/pkg/repositories/arrowfile"
)

var (
	// Version information (set by build flags)
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

const metricsNamespace = "plantatlas"

var rootCmd = &cobra.Command{
	Use:   "plantatlas",
	Short: "Power plant facility explorer",
	Long: `Serve and query a tabular power plant dataset.

plantatlas loads a CSV (through DuckDB) or Arrow IPC file, validates every row
and answers paginated, id and field lookups over HTTP or from the shell.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load .env: %w", err)
		}
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the facility HTTP server with the specified configuration.

Example:
  plantatlas serve --config ./plantatlas.yaml
  plantatlas serve --source ./powerplants.csv --address 0.0.0.0:5000`,
	Args: cobra.NoArgs,
	RunE: runServer,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Print one page of facilities",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withServer(cmd, func(ctx context.Context, srv *server.Server) error {
			page, err := srv.Service().List(ctx, models.NewPageRequest(viper.GetInt("page"), viper.GetInt("page-size")))
			if err != nil {
				return err
			}
			renderRecords(cmd.OutOrStdout(), page.Records)
			info := page.Info
			fmt.Fprintf(cmd.OutOrStdout(), "page %d of %d (%d facilities)\n", info.PageNumber, info.TotalPages, info.TotalCount)
			return nil
		})
	},
}

var getCmd = &cobra.Command{
	Use:   "get ID",
	Short: "Print a single facility",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("id must be an integer: %q", args[0])
		}
		return withServer(cmd, func(ctx context.Context, srv *server.Server) error {
			rec, err := srv.Service().Get(ctx, id)
			if err != nil {
				return err
			}
			renderFields(cmd.OutOrStdout(), rec, viper.GetBool("all-columns"))
			return nil
		})
	},
}

var filterCmd = &cobra.Command{
	Use:   "filter FIELD VALUE",
	Short: "Print facilities whose field equals value",
	Long: `Print facilities whose field equals value exactly.

FIELD is a logical field (id, name, category, group_key, latitude, longitude)
or any source column name.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withServer(cmd, func(ctx context.Context, srv *server.Server) error {
			records, err := srv.Service().ByField(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			renderRecords(cmd.OutOrStdout(), records)
			fmt.Fprintf(cmd.OutOrStdout(), "%d facilities\n", len(records))
			return nil
		})
	},
}

var groupCmd = &cobra.Command{
	Use:   "group VALUE",
	Short: "Print facilities in a group, e.g. a state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withServer(cmd, func(ctx context.Context, srv *server.Server) error {
			records, err := srv.Service().ByGroup(ctx, args[0])
			if err != nil {
				return err
			}
			renderRecords(cmd.OutOrStdout(), records)
			fmt.Fprintf(cmd.OutOrStdout(), "%d facilities in %s\n", len(records), args[0])
			return nil
		})
	},
}

var exportCmd = &cobra.Command{
	Use:   "export OUT",
	Short: "Write the validated dataset as an Arrow IPC stream",
	Long: `Write the validated dataset as an Arrow IPC stream.

The output can be served directly with --format arrow.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withServer(cmd, func(ctx context.Context, srv *server.Server) error {
			set, err := srv.Service().Snapshot(ctx)
			if err != nil {
				return err
			}
			if err := arrowfile.WriteFile(args[0], set, memory.NewTrackedAllocator(nil)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d facilities to %s\n", set.Len(), args[0])
			return nil
		})
	},
}

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Time loading and querying a generated dataset",
	Long: `Generate a synthetic power plant CSV, convert it to Arrow and time loading
both formats and the in-memory queries.

Example:
  plantatlas bench --rows 100000 --iterations 5 --output json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := setupLogging(viper.GetString("log_level"), cmd.ErrOrStderr())

		connPool, err := pool.New(pool.Config{}, logger.With().Str("component", "pool").Logger())
		if err != nil {
			return err
		}
		defer connPool.Close()

		results, err := benchmark.Run(cmd.Context(), benchmark.Config{
			Rows:       viper.GetInt("bench.rows"),
			Iterations: viper.GetInt("bench.iterations"),
			BatchSize:  viper.GetInt("source.batch_size"),
			Seed:       viper.GetFloat64("bench.seed"),
			Dir:        viper.GetString("bench.dir"),
		}, connPool, logger)
		if err != nil {
			return err
		}
		return benchmark.Write(results, viper.GetString("bench.output"), cmd.OutOrStdout())
	},
}

func init() {
	// Flags shared by every command
	pf := rootCmd.PersistentFlags()
	pf.StringP("config", "c", "", "config file path")
	pf.String("source", "powerplants.csv", "CSV or Arrow IPC source file")
	pf.String("format", "", "source format (csv, arrow); inferred from the extension when empty")
	pf.Bool("skip-malformed", false, "skip malformed rows instead of failing the load")
	pf.Int("batch-size", 0, "rows per Arrow batch while reading")
	pf.Duration("load-timeout", 0, "deadline for a source load shared by concurrent requests")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")

	// Serve flags
	sf := serveCmd.Flags()
	sf.String("address", "0.0.0.0:5000", "server listen address")
	sf.Bool("cache", true, "cache the loaded dataset until the source changes")
	sf.Int("cache-max-entries", 4, "maximum cached datasets")
	sf.Duration("cache-ttl", 0, "maximum age of a cached dataset (0 disables)")
	sf.Bool("watch", false, "invalidate the cache as soon as the source file changes")
	sf.Int("default-page-size", 20, "page size when a request gives none")
	sf.Int("max-page-size", 500, "largest page size a request may ask for")
	sf.Bool("metrics", true, "enable Prometheus metrics")
	sf.String("metrics-address", ":9090", "metrics server address")
	sf.String("metrics-path", "/metrics", "metrics endpoint path")
	sf.StringSlice("cors-origins", []string{"*"}, "allowed CORS origins")
	sf.Duration("shutdown-timeout", 30*time.Second, "graceful shutdown timeout")

	listCmd.Flags().Int("page", 1, "page number")
	listCmd.Flags().Int("page-size", 20, "facilities per page")
	getCmd.Flags().Bool("all-columns", false, "print every source column")

	bf := benchCmd.Flags()
	bf.Int("rows", 100000, "rows to generate")
	bf.Int("iterations", 3, "repetitions per measurement")
	bf.Float64("seed", 0.42, "generator seed in [-1, 1]")
	bf.String("dir", "", "directory for generated files (default: temporary)")
	bf.String("output", "table", "report format (table, json, csv)")

	// Bind flags to viper under their config file keys
	bind := map[string]string{
		"config":            "config",
		"source":            "source.path",
		"format":            "source.format",
		"skip-malformed":    "source.skip_malformed",
		"batch-size":        "source.batch_size",
		"load-timeout":      "source.load_timeout",
		"log-level":         "log_level",
		"address":           "address",
		"cache":             "cache.enabled",
		"cache-max-entries": "cache.max_entries",
		"cache-ttl":         "cache.ttl",
		"watch":             "cache.watch",
		"default-page-size": "pagination.default_page_size",
		"max-page-size":     "pagination.max_page_size",
		"metrics":           "metrics.enabled",
		"metrics-address":   "metrics.address",
		"metrics-path":      "metrics.path",
		"cors-origins":      "cors.allowed_origins",
		"shutdown-timeout":  "shutdown_timeout",
	}
	for flag, key := range bind {
		f := pf.Lookup(flag)
		if f == nil {
			f = sf.Lookup(flag)
		}
		if err := viper.BindPFlag(key, f); err != nil {
			panic(fmt.Errorf("failed to bind flag %s: %w", flag, err))
		}
	}
	for _, f := range []string{"page", "page-size"} {
		if err := viper.BindPFlag(f, listCmd.Flags().Lookup(f)); err != nil {
			panic(fmt.Errorf("failed to bind flag %s: %w", f, err))
		}
	}
	if err := viper.BindPFlag("all-columns", getCmd.Flags().Lookup("all-columns")); err != nil {
		panic(fmt.Errorf("failed to bind flag all-columns: %w", err))
	}
	for _, f := range []string{"rows", "iterations", "seed", "dir", "output"} {
		if err := viper.BindPFlag("bench."+f, bf.Lookup(f)); err != nil {
			panic(fmt.Errorf("failed to bind flag %s: %w", f, err))
		}
	}

	viper.SetEnvPrefix("PLANTATLAS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	rootCmd.AddCommand(serveCmd, listCmd, getCmd, filterCmd, groupCmd, exportCmd, benchCmd)

	// Add version command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "plantatlas\n")
			fmt.Fprintf(out, "Version:    %s\n", version)
			fmt.Fprintf(out, "Commit:     %s\n", commit)
			fmt.Fprintf(out, "Build Date: %s\n", buildDate)
		},
	})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Setup logging
	logger := setupLogging(cfg.LogLevel, os.Stdout)
	logger.Info().
		Str("version", version).
		Str("commit", commit).
		Str("build_date", buildDate).
		Msg("Starting plantatlas")

	// Create metrics collector
	registry := prometheus.NewRegistry()
	var metricsCollector metrics.Collector
	if cfg.Metrics.Enabled {
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metricsCollector = metrics.NewPrometheusCollector(metricsNamespace, registry)
	} else {
		metricsCollector = metrics.NewNoOpCollector()
	}

	srv, err := server.New(cfg, logger, metricsCollector)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	var metricsServer *metrics.MetricsServer
	if cfg.Metrics.Enabled {
		if stats, ok := srv.CacheStats(); ok {
			if err := metrics.RegisterCacheStats(registry, metricsNamespace, stats); err != nil {
				return err
			}
		}
		if err := metrics.RegisterAllocatorStats(registry, metricsNamespace, srv.AllocatorStats); err != nil {
			return err
		}

		metricsServer = metrics.NewMetricsServer(cfg.Metrics.Address, cfg.Metrics.Path, registry)
		go func() {
			logger.Info().Str("address", cfg.Metrics.Address).Str("path", cfg.Metrics.Path).Msg("Starting metrics server")
			if err := metricsServer.Start(); err != nil {
				logger.Error().Err(err).Msg("Failed to start metrics server")
			}
		}()
	}

	// Setup graceful shutdown
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(shutdownCh)

	// Start server
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	// Wait for shutdown signal or server error
	var serveErr error
	select {
	case sig := <-shutdownCh:
		logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	case serveErr = <-serverErrCh:
		if serveErr != nil {
			logger.Error().Err(serveErr).Msg("Server stopped")
		}
	}

	// Graceful shutdown
	logger.Info().Dur("timeout", cfg.ShutdownTimeout).Msg("Starting graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Close(ctx); err != nil {
		logger.Error().Err(err).Msg("Error during server shutdown")
	}

	// Stop metrics server
	if metricsServer != nil {
		if err := metricsServer.Stop(ctx); err != nil {
			logger.Error().Err(err).Msg("Error stopping metrics server")
		}
	}

	logger.Info().Msg("Server shutdown complete")
	return serveErr
}

// withServer builds the service stack for a one-shot query. Logs go to
// stderr so that tables on stdout stay clean.
func withServer(cmd *cobra.Command, fn func(ctx context.Context, srv *server.Server) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	cfg.Metrics.Enabled = false
	cfg.Cache.Watch = false

	logger := setupLogging(cfg.LogLevel, cmd.ErrOrStderr())
	srv, err := server.New(cfg, logger, metrics.NewNoOpCollector())
	if err != nil {
		return err
	}
	defer srv.Close(context.Background())

	return fn(cmd.Context(), srv)
}

// loadConfig layers defaults, the optional config file, PLANTATLAS_*
// environment variables and flags, in increasing precedence.
func loadConfig() (*config.Config, error) {
	if configFile := viper.GetString("config"); configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := config.DefaultConfig()
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func setupLogging(level string, w io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.DurationFieldUnit = time.Millisecond

	logLevel, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || logLevel == zerolog.NoLevel {
		logLevel = zerolog.InfoLevel
	}

	logger := zerolog.New(w).
		Level(logLevel).
		With().
		Timestamp().
		Str("service", "plantatlas")

	if logLevel <= zerolog.DebugLevel {
		logger = logger.Caller()
	}

	return logger.Logger()
}

func renderRecords(w io.Writer, records []models.Record) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"ID", "Name", "Category", "Group", "Latitude", "Longitude"})
	table.SetAutoWrapText(false)
	for _, r := range records {
		table.Append([]string{
			strconv.FormatInt(r.ID, 10),
			r.Name,
			r.Category,
			r.GroupKey,
			strconv.FormatFloat(r.Location.Latitude, 'f', -1, 64),
			strconv.FormatFloat(r.Location.Longitude, 'f', -1, 64),
		})
	}
	table.Render()
}

// renderFields prints one record as a two column table. Without all, only
// the mapped fields are shown.
func renderFields(w io.Writer, r *models.Record, all bool) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Field", "Value"})
	table.SetAutoWrapText(false)

	table.Append([]string{"id", strconv.FormatInt(r.ID, 10)})
	table.Append([]string{"name", r.Name})
	table.Append([]string{"category", r.Category})
	table.Append([]string{"group", r.GroupKey})
	table.Append([]string{"latitude", strconv.FormatFloat(r.Location.Latitude, 'f', -1, 64)})
	table.Append([]string{"longitude", strconv.FormatFloat(r.Location.Longitude, 'f', -1, 64)})
	table.Append([]string{"row", strconv.Itoa(r.Row)})

	if all {
		for _, column := range sortedColumns(r.Fields) {
			table.Append([]string{column, r.Fields[column]})
		}
	}
	table.Render()
}

func sortedColumns(fields map[string]string) []string {
	columns := make([]string, 0, len(fields))
	for c := range fields {
		columns = append(columns, c)
	}
	sort.Strings(columns)
	return columns
}
