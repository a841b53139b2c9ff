// Command build-testdb builds a database of generated OHLC bars, plus any
// EDN transaction files given as arguments.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	flag "github.com/spf13/pflag"
	"github.com/wbrown/janus-factdb/datalog/config"
	"github.com/wbrown/janus-factdb/datalog/executor"
	"github.com/wbrown/janus-factdb/datalog/logging"
	"github.com/wbrown/janus-factdb/datalog/transactor"
)

func main() {
	configType := flag.String("size", "default", "dataset size: default, medium, large or none")
	backend := flag.String("backend", "badger", "storage backend: badger or sqlite")
	path := flag.StringP("out", "o", "testdata/ohlc.db", "database path")
	fresh := flag.Bool("fresh", true, "remove an existing database first")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] [file.edn...]\n\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if err := run(*configType, *backend, *path, *fresh, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build database: %v\n", err)
		os.Exit(1)
	}
}

func run(size, backend, path string, fresh bool, files []string) error {
	var data *TestDataConfig
	switch size {
	case "default":
		c := DefaultOHLCConfig()
		data = &c
	case "medium":
		c := MediumOHLCConfig()
		data = &c
	case "large":
		c := LargeOHLCConfig()
		data = &c
	case "none":
	default:
		return fmt.Errorf("unknown size %s (use default, medium, large or none)", size)
	}

	if fresh {
		if err := os.RemoveAll(path); err != nil {
			return fmt.Errorf("failed to remove existing db: %w", err)
		}
	}

	cfg := config.DefaultConfig()
	cfg.Storage.Backend = backend
	cfg.Storage.Path = path
	cfg.Log.Level = "warn"
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx := context.Background()
	conn, err := transactor.Open(ctx, cfg, transactor.WithLogger(logger))
	if err != nil {
		return err
	}
	defer conn.Close()

	start := time.Now()
	if data != nil {
		fmt.Printf("Building test database: %s\n", path)
		fmt.Printf("  Symbols: %d\n", data.NumSymbols)
		fmt.Printf("  Days: %d\n", data.NumDays)
		fmt.Printf("  Bars/day: %d\n", data.BarsPerDay)
		fmt.Printf("  Total bars: %d\n\n", data.NumSymbols*data.NumDays*data.BarsPerDay)
		if _, err := BuildOHLC(ctx, conn, *data, os.Stdout); err != nil {
			return err
		}
	}
	for _, file := range files {
		text, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", file, err)
		}
		rep, err := conn.TransactEDN(ctx, string(text))
		if err != nil {
			return fmt.Errorf("%s: %w", file, err)
		}
		fmt.Printf("Transacted %s: t=%d, %d datoms\n", file, rep.T(), len(rep.TxData))
	}

	stats, err := databaseStats(ctx, conn)
	if err != nil {
		return err
	}
	fmt.Printf("\nDatabase Statistics (%s):\n", time.Since(start).Round(time.Millisecond))
	fmt.Print(stats)
	return nil
}

// databaseStats counts datoms per attribute in the current database
func databaseStats(ctx context.Context, conn *transactor.Connection) (string, error) {
	res, err := executor.NewExecutor(executor.Options{}).Query(ctx,
		`[:find ?attr (count ?e) :where [?e ?a _] [?a :db/ident ?attr] [(namespace ?attr) ?ns] [(not= ?ns "db")]]`,
		conn.DB())
	if err != nil {
		return "", err
	}
	return res.Table(), nil
}
