// Package cli wires configuration, storage and services into the
// storefront command tree.
package cli

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/seventeenk/storefront/internal/adapter/storage"
	"github.com/seventeenk/storefront/internal/config"
	"github.com/seventeenk/storefront/internal/logging"
)

type rootOptions struct {
	configPath string
	logLevel   string
	logFormat  string
}

// NewRootCommand builds the storefront command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "storefront",
		Short: "Marketplace storefront and fulfillment service",
		Long: `storefront serves the marketplace catalog and blog, delivers free
downloads, and fulfills paid purchases confirmed by payment webhooks.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "storefront.yaml", "Path to the YAML config file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override log.level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "Override log.format (json, console)")

	root.AddCommand(newServeCommand(opts))
	root.AddCommand(newMigrateCommand(opts))
	root.AddCommand(newItemCommand(opts))
	root.AddCommand(newPostCommand(opts))
	root.AddCommand(newPurchasesCommand(opts))
	root.AddCommand(newWebhookCommand(opts))

	return root
}

// Execute runs the command tree with ctx.
func Execute(ctx context.Context) error {
	return NewRootCommand().ExecuteContext(ctx)
}

func (o *rootOptions) load() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Log.Format = o.logFormat
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// session is the config, logger and store an admin command works with.
type session struct {
	cfg    *config.Config
	logger *zap.Logger
	db     *sql.DB
	store  *storage.SQLAdapter
}

func (o *rootOptions) openSession(cmd *cobra.Command) (*session, error) {
	cfg, logger, err := o.load()
	if err != nil {
		return nil, err
	}
	db, store, err := openStore(cmd.Context(), cfg.Database, false)
	if err != nil {
		logger.Sync()
		return nil, err
	}
	return &session{cfg: cfg, logger: logger, db: db, store: store}, nil
}

func (s *session) close() {
	s.db.Close()
	s.logger.Sync()
}

// openStore opens the configured SQL database, migrating it when
// auto_migrate is set or force is true.
func openStore(ctx context.Context, cfg config.DatabaseConfig, force bool) (*sql.DB, *storage.SQLAdapter, error) {
	db, dialect, err := storage.OpenSQL(ctx, cfg.Driver, cfg.DSN, storage.PoolConfig{
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	})
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewSQLAdapter(db, dialect)
	if cfg.AutoMigrate || force {
		if err := store.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
	}
	return db, store, nil
}

// readInput reads path, or standard input when path is "-".
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}
