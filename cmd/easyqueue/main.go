package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/gofish2020/easyqueue"
	"github.com/gofish2020/easyqueue/chunklog"
	"github.com/gofish2020/easyqueue/config"
	"github.com/gofish2020/easyqueue/server"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// set with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:          "easyqueue",
		Short:        "Durable multi-topic message queue",
		SilenceUsage: true,
	}
	rootCmd.AddCommand(newServeCommand(), newInspectCommand(), newVersionCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			config.FromEnv(&cfg)
			applyFlags(cmd, &cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger, err := cfg.Logger()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			return serve(cmd.Context(), cfg, logger)
		},
	}
	cmd.Flags().String("config", os.Getenv("EASYQUEUE_CONFIG"), "YAML config file")
	cmd.Flags().String("dir", "", "Data directory (default <executable dir>/data)")
	cmd.Flags().String("listen", "", "HTTP listen address (default :8080)")
	cmd.Flags().String("chunk-size", "", "Chunk size, a power of two such as 4KiB")
	cmd.Flags().Duration("gc-interval", 0, "Garbage collection period, negative disables it")
	cmd.Flags().String("log-level", "", "Log level: debug|info|warn|error")
	cmd.Flags().String("log-format", "", "Log format: json|console")
	return cmd
}

// applyFlags 命令行参数优先级最高，只覆盖显式给出的参数
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("dir") {
		cfg.Dir, _ = flags.GetString("dir")
	}
	if flags.Changed("listen") {
		cfg.Listen, _ = flags.GetString("listen")
	}
	if flags.Changed("chunk-size") {
		cfg.ChunkSize, _ = flags.GetString("chunk-size")
	}
	if flags.Changed("gc-interval") {
		cfg.GCInterval, _ = flags.GetDuration("gc-interval")
	}
	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-format") {
		cfg.LogFormat, _ = flags.GetString("log-format")
	}
}

func serve(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	options, err := cfg.Options(logger)
	if err != nil {
		return err
	}
	registry, err := easyqueue.Open(options)
	if err != nil {
		return err
	}
	defer func() {
		if err := registry.Close(); err != nil {
			logger.Error("close registry", zap.Error(err))
		}
	}()

	maxPayload, _ := cfg.MaxPayloadBytes()
	srv, err := server.New(registry, server.Options{
		MaxPayload: maxPayload,
		NodeID:     cfg.NodeID,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	logger.Info("starting easyqueue",
		zap.String("version", version),
		zap.String("dir", cfg.Dir),
		zap.String("chunk_size", cfg.ChunkSize),
		zap.Duration("gc_interval", cfg.GCInterval))
	if err := srv.ListenAndServe(ctx, cfg.Listen); err != nil {
		return errors.Wrap(err, "server error")
	}
	logger.Info("stopped")
	return nil
}

func newInspectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <chunk-file>...",
		Short: "Print the records stored in chunk files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fs := afero.NewOsFs()
			out := cmd.OutOrStdout()
			for _, path := range args {
				base, err := strconv.ParseUint(filepath.Base(path), 16, 64)
				if err != nil {
					return errors.Errorf("%s is not a chunk file name", path)
				}

				records, scanErr := chunklog.ScanChunk(fs, path, base)
				var total uint64
				fmt.Fprintf(out, "%s (base %d)\n", path, base)
				for _, rec := range records {
					fmt.Fprintf(out, "  lsn %-12d offset %-10d %s\n", rec.LSN, rec.Offset, humanize.IBytes(rec.Length))
					total += rec.Length
				}
				fmt.Fprintf(out, "  %d records, %s payload\n", len(records), humanize.IBytes(total))
				if scanErr != nil {
					return scanErr
				}
			}
			return nil
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}
