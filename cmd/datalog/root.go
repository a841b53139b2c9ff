package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/wbrown/janus-factdb/datalog/annotations"
	"github.com/wbrown/janus-factdb/datalog/config"
	"github.com/wbrown/janus-factdb/datalog/executor"
	"github.com/wbrown/janus-factdb/datalog/logging"
	"github.com/wbrown/janus-factdb/datalog/planner"
	"github.com/wbrown/janus-factdb/datalog/transactor"
	"go.uber.org/zap"
)

// app holds the global flags and what PersistentPreRunE builds from them
type app struct {
	configPath string
	dbPath     string
	backend    string
	logLevel   string
	verbose    bool
	timeout    time.Duration
	load       []string

	cfg    *config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "datalog",
		Short: "A Datalog query engine over an immutable fact database",
		Long: `datalog runs queries, transactions and pulls against a fact database.

Every datom is kept; a database value is an immutable snapshot at a point
in time. Storage is in memory (the default), badger or sqlite.

Examples:
  datalog demo
  datalog --backend sqlite --db facts.db transact schema.edn
  datalog --backend sqlite --db facts.db query '[:find ?n :where [_ :person/name ?n]]'
  datalog --load people.edn pull '[*]' '[:person/name "Alice"]'
  datalog --backend badger --db ./facts repl`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "YAML configuration file")
	flags.StringVar(&a.dbPath, "db", "", "database path (badger directory or sqlite file)")
	flags.StringVar(&a.backend, "backend", "", "storage backend: memory, badger or sqlite")
	flags.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn or error")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "show query annotations")
	flags.DurationVar(&a.timeout, "timeout", 0, "query timeout (overrides the configuration)")
	flags.StringSliceVar(&a.load, "load", nil, "EDN transaction files to transact after opening")

	root.AddCommand(
		newQueryCmd(a),
		newTransactCmd(a),
		newPullCmd(a),
		newLogCmd(a),
		newReplCmd(a),
		newDemoCmd(a),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.LoadConfig(a.configPath)
	if err != nil {
		return err
	}
	if a.backend != "" {
		cfg.Storage.Backend = a.backend
	}
	if a.dbPath != "" {
		cfg.Storage.Path = a.dbPath
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if cmd.Flags().Changed("timeout") {
		cfg.Query.Timeout = a.timeout
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	// the CLI writes results to stdout; keep info chatter out of the way
	if a.logLevel == "" && !a.verbose {
		cfg.Log.Level = "warn"
	}
	a.logger, err = logging.New(cfg.Log)
	return err
}

// open connects to the configured database and transacts the --load files
func (a *app) open(ctx context.Context) (*transactor.Connection, error) {
	conn, err := transactor.Open(ctx, a.cfg, transactor.WithLogger(a.logger))
	if err != nil {
		return nil, err
	}
	for _, path := range a.load {
		if _, err := transactFile(ctx, conn, path); err != nil {
			conn.Close()
			return nil, err
		}
	}
	return conn, nil
}

func transactFile(ctx context.Context, conn *transactor.Connection, path string) (transactor.Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return transactor.Report{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	rep, err := conn.TransactEDN(ctx, string(data))
	if err != nil {
		return transactor.Report{}, fmt.Errorf("%s: %w", path, err)
	}
	return rep, nil
}

func (a *app) executor() *executor.Executor {
	q := a.cfg.Query
	opts := executor.Options{
		Timeout:           q.Timeout,
		Parallel:          q.Parallel,
		Workers:           q.Workers,
		MaxRuleIterations: q.MaxRuleIter,
		Logger:            a.logger,
	}
	if q.CacheSize > 0 {
		opts.Cache = planner.NewQueryCache(q.CacheSize, q.CacheTTL)
	}
	if a.verbose {
		opts.Annotations = annotations.ConsoleHandler()
	}
	return executor.NewExecutor(opts)
}

// argOrFile returns the argument text, or the contents of the file it
// names when it starts with @
func argOrFile(arg string) (string, error) {
	if len(arg) > 1 && arg[0] == '@' {
		data, err := os.ReadFile(arg[1:])
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", arg[1:], err)
		}
		return string(data), nil
	}
	return arg, nil
}
