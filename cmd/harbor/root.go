package main

import (
	"github.com/dogmatiq/dodeca/logging"
	"github.com/dogmatiq/harbor/internal/x/loggingx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// rootOptions holds the flags shared by all commands.
type rootOptions struct {
	Verbose   bool
	Database  string
	SQLDriver string
	SQLDSN    string

	zap    *zap.Logger
	logger logging.Logger
}

// newRootCommand returns the "harbor" command.
func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "harbor",
		Short:         "Inspect and exercise harbor request buffering",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.initLogger()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.zap != nil {
				_ = opts.zap.Sync()
			}
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "harbor.boltdb", "path to the BoltDB database")
	cmd.PersistentFlags().StringVar(&opts.SQLDriver, "sql-driver", "sqlite", "database/sql driver used with --sql-dsn (sqlite, pgx or mysql)")
	cmd.PersistentFlags().StringVar(&opts.SQLDSN, "sql-dsn", "", "DSN of an SQL database to use instead of BoltDB")

	cmd.AddCommand(newContinuationsCommand(opts))
	cmd.AddCommand(newDemoCommand(opts))

	return cmd
}

// initLogger builds the zap logger used by all commands.
func (o *rootOptions) initLogger() error {
	cfg := zap.NewDevelopmentConfig()
	if !o.Verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	z, err := cfg.Build()
	if err != nil {
		return err
	}

	o.zap = z
	o.logger = loggingx.Zap(z)

	return nil
}
