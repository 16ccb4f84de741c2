package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/caio-sobreiro/dicomreceptor/config"
	"github.com/caio-sobreiro/dicomreceptor/logging"
	"github.com/caio-sobreiro/dicomreceptor/monitor"
	"github.com/caio-sobreiro/dicomreceptor/server"
	"github.com/caio-sobreiro/dicomreceptor/services"
	"github.com/caio-sobreiro/dicomreceptor/storage"
	"github.com/caio-sobreiro/dicomreceptor/supervisor"
	"github.com/caio-sobreiro/dicomreceptor/types"
)

// serveFlags maps serve flags to config keys. Only flags given on the
// command line override the config.
var serveFlags = []struct {
	flag string
	key  string
}{
	{"ae-title", "server.ae_title"},
	{"host", "server.host"},
	{"port", "server.port"},
	{"max-pdu", "server.max_pdu"},
	{"max-associations", "server.max_associations"},
	{"association-rate", "server.association_rate"},
	{"association-burst", "server.association_burst"},
	{"require-called-ae", "server.require_called_ae_title"},
	{"output-dir", "storage.output_dir"},
	{"http", "http.enabled"},
	{"http-address", "http.address"},
	{"log-format", "logging.format"},
	{"log-dir", "logging.dir"},
}

func newServeCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the DICOM receiver",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadServeConfig(cmd, root)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	defaults := config.Default()
	flags := cmd.Flags()
	flags.String("ae-title", defaults.Server.AETitle, "AE title to answer to")
	flags.String("host", defaults.Server.Host, "address to bind")
	flags.Int("port", defaults.Server.Port, "DICOM port")
	flags.Uint32("max-pdu", defaults.Server.MaxPDU, "largest PDU accepted, 0 for unlimited")
	flags.Int("max-associations", defaults.Server.MaxAssociations, "concurrent association limit, 0 for unlimited")
	flags.Float64("association-rate", defaults.Server.AssociationRate, "new associations admitted per second, 0 for unlimited")
	flags.Int("association-burst", defaults.Server.AssociationBurst, "associations admitted at once above the rate")
	flags.Bool("require-called-ae", defaults.Server.RequireCalledAETitle, "reject associations addressed to another AE title")
	flags.StringP("output-dir", "o", defaults.Storage.OutputDir, "directory received studies are written to")
	flags.Bool("http", defaults.HTTP.Enabled, "serve /healthz and /metrics")
	flags.String("http-address", defaults.HTTP.Address, "monitor listen address")
	flags.String("log-format", defaults.Logging.Format, "console log format (console, json)")
	flags.String("log-dir", defaults.Logging.Dir, "directory for the rotating log file")
	return cmd
}

func loadServeConfig(cmd *cobra.Command, root *rootOptions) (*config.Config, error) {
	overrides := map[string]any{}
	for _, f := range serveFlags {
		if !cmd.Flags().Changed(f.flag) {
			continue
		}
		overrides[f.key] = cmd.Flags().Lookup(f.flag).Value.String()
	}
	if root.logLevel != "" {
		overrides["logging.level"] = root.logLevel
	}
	return config.Load(config.Options{Path: root.configPath, Overrides: overrides})
}

func runServe(ctx context.Context, cfg *config.Config) error {
	logs, err := logging.New(logging.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Dir:        cfg.Logging.Dir,
		File:       cfg.Logging.File,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		MaxBackups: cfg.Logging.MaxBackups,
		Console:    os.Stderr,
	})
	if err != nil {
		return err
	}
	defer logs.Close()
	logger := logs.Slog()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	outputDir, err := filepath.Abs(cfg.Storage.OutputDir)
	if err != nil {
		return err
	}
	store := storage.NewStore(outputDir,
		storage.WithLogger(logger),
		storage.WithResolver(&storage.Resolver{
			MaxNameLength:  cfg.Storage.MaxFolderLength,
			ShortUIDLength: cfg.Storage.ShortUIDLength,
			Extension:      cfg.Storage.Extension,
		}))
	if err := store.HealthCheck(ctx); err != nil {
		return fmt.Errorf("output directory %s is not writable: %w", outputDir, err)
	}

	registry := services.NewRegistry(logger)
	registry.RegisterHandler(types.CEchoRQ, services.NewEchoService(logger))
	registry.RegisterHandler(types.CStoreRQ, services.NewStoreService(store, logger))

	srv := server.New(cfg.Server.AETitle, registry,
		server.WithLogger(logger),
		server.WithReadTimeout(cfg.Server.ReadTimeout),
		server.WithWriteTimeout(cfg.Server.WriteTimeout),
		server.WithMaxPDULength(cfg.Server.MaxPDU),
		server.WithMaxAssociations(cfg.Server.MaxAssociations),
		server.WithAssociationRate(cfg.Server.AssociationRate, cfg.Server.AssociationBurst),
		server.WithRequireCalledAETitle(cfg.Server.RequireCalledAETitle))

	tree := supervisor.NewTree(logger, supervisor.DefaultTreeConfig())
	tree.AddDICOMService(supervisor.NewDICOMService(srv, cfg.Server.Address()))
	if cfg.HTTP.Enabled {
		tree.AddOpsService(monitor.NewServer(cfg.HTTP.Address, registry, logger))
	}
	if file := logs.File(); file != nil {
		tree.AddOpsService(logging.RotateDaily(file, logger))
	}

	logger.Info("Starting DICOM receptor",
		"ae_title", cfg.Server.AETitle,
		"address", cfg.Server.Address(),
		"output_dir", outputDir)

	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Log(ctx, logging.LevelCritical, "DICOM receptor terminated unexpectedly", "error", err)
		return err
	}
	logger.Info("DICOM receptor stopped")
	return nil
}
