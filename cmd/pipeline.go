package cmd

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/elliotchance/sshtunnel"
	"github.com/joho/godotenv"
	"github.com/mattn/go-isatty"
	"go.uber.org/zap"

	"github.com/StevenACoffman/anotherr/errors"

	"github.com/BenjaminRains/dbt-dental-clinic-sub004/pkg/config"
	"github.com/BenjaminRains/dbt-dental-clinic-sub004/pkg/mysqldb"
	"github.com/BenjaminRains/dbt-dental-clinic-sub004/pkg/pipeline"
	"github.com/BenjaminRains/dbt-dental-clinic-sub004/pkg/replicate"
)

// Run wires the loader from the environment and processes the requested
// importance levels (or a single table when ETL_TABLE is set).
func Run(logger *zap.Logger) error {
	// Local developer convenience; in deployed runs the variables are set
	// by the scheduler.
	_ = godotenv.Load()

	settings, err := config.SettingsFromEnv()
	if err != nil {
		// Running against the wrong environment is unsafe, so this aborts
		// before any connection is attempted.
		return errors.Wrap(err, "environment check failed")
	}

	cfg, err := config.LoadPipeline(settings.ConfigPath)
	if err != nil {
		return errors.Wrap(err, "Unable to load table configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if tunnel, tunnelErr := maybeStartTunnel(logger); tunnelErr != nil {
		return tunnelErr
	} else if tunnel != nil {
		defer tunnel.Close()
	}

	extractor, closeSource, err := buildExtractor(cfg, logger)
	if err != nil {
		return err
	}
	defer closeSource()

	loader := pipeline.NewLoader(settings, cfg, extractor, os.TempDir(), logger)
	if err = loader.InitializeConnections(ctx); err != nil {
		return errors.Wrap(err, "Unable to initialize connections")
	}
	defer loader.Cleanup()

	forceFull := strings.EqualFold(getEnv("ETL_FORCE_FULL", "false"), "true")

	if table := os.Getenv("ETL_TABLE"); table != "" {
		if !loader.RunPipelineForTable(ctx, table, forceFull) {
			return errors.New("pipeline failed for table " + table)
		}
		return nil
	}

	levels := splitLevels(getEnv("ETL_LEVELS", "critical,important,audit,reference"))
	maxWorkers, err := strconv.Atoi(getEnv("ETL_MAX_WORKERS", "4"))
	if err != nil {
		return errors.Newf("invalid ETL_MAX_WORKERS: %v", err)
	}

	results := loader.ProcessTablesByPriority(ctx, levels, maxWorkers, forceFull)

	failedTables := 0
	for _, level := range levels {
		result := results[level]
		failedTables += len(result.Failed)
		logger.Info("level summary",
			zap.String("level", level),
			zap.Int("total", result.Total),
			zap.Strings("success", result.Success),
			zap.Strings("failed", result.Failed))
	}
	if failedTables > 0 {
		return errors.Newf("%d tables failed to load", failedTables)
	}
	return nil
}

// buildExtractor wires the source-to-staging replicator when a source DSN is
// configured; otherwise staging is assumed to be maintained out of band.
func buildExtractor(
	cfg *config.Pipeline,
	logger *zap.Logger,
) (pipeline.Extractor, func(), error) {
	sourceDSN := os.Getenv("ETL_SOURCE_MYSQL_DSN")
	if sourceDSN == "" {
		return pipeline.NoopExtractor{}, func() {}, nil
	}
	source, err := mysqldb.NewPool(sourceDSN)
	if err != nil {
		return nil, nil, errors.Wrap(err, "Unable to connect to source database")
	}
	staging, err := mysqldb.NewPool(os.Getenv("ETL_STAGING_MYSQL_DSN"))
	if err != nil {
		_ = source.Close()
		return nil, nil, errors.Wrap(err, "Unable to connect replicator to staging")
	}
	closer := func() {
		_ = source.Close()
		_ = staging.Close()
	}
	return replicate.NewSimpleReplicator(source, staging, cfg.Tables, logger), closer, nil
}

// maybeStartTunnel opens an SSH tunnel to the staging replica when running
// interactively against a bastion. Deployed runs connect directly.
func maybeStartTunnel(logger *zap.Logger) (*sshtunnel.SSHTunnel, error) {
	bastion := os.Getenv("ETL_SSH_BASTION")
	if bastion == "" {
		return nil, nil
	}
	if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		return nil, nil
	}
	tunnel, err := newTunnel(bastion)
	if err != nil {
		return nil, err
	}
	go func() {
		if tunnelErr := tunnel.Start(); tunnelErr != nil {
			logger.Error("SSH tunnel stopped", zap.Error(tunnelErr))
		}
	}()
	// Give the tunnel a moment to bind before connections are attempted.
	time.Sleep(100 * time.Millisecond)
	logger.Info("SSH tunnel to staging started",
		zap.String("bastion", bastion), zap.Int("local_port", tunnel.Local.Port))
	return tunnel, nil
}

// newTunnel constructs (but does not start) a tunnel through the bastion,
// authenticating with the user's default SSH key.
func newTunnel(bastion string) (*sshtunnel.SSHTunnel, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.Wrap(err, "Unable to locate home directory for SSH key")
	}
	keyPath := filepath.Join(home, ".ssh", "id_rsa")
	tunnel, err := sshtunnel.NewSSHTunnel(
		bastion,
		sshtunnel.PrivateKeyFile(keyPath),
		getEnv("ETL_SSH_REMOTE", "127.0.0.1:3306"),
		getEnv("ETL_SSH_LOCAL_PORT", "0"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "Unable to build SSH tunnel through "+bastion)
	}
	return tunnel, nil
}

func splitLevels(raw string) []string {
	var levels []string
	for _, level := range strings.Split(raw, ",") {
		level = strings.TrimSpace(level)
		if level != "" {
			levels = append(levels, level)
		}
	}
	return levels
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
