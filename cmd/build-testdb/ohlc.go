package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/wbrown/janus-factdb/datalog"
	"github.com/wbrown/janus-factdb/datalog/transactor"
)

// TestDataConfig specifies what kind of test database to build
type TestDataConfig struct {
	NumSymbols int       // Number of stock symbols
	NumDays    int       // Number of days of data
	BarsPerDay int       // Number of bars per day (1=daily, 24=hourly, 390=minute)
	BatchSize  int       // Bars per transaction
	StartDate  time.Time // Start date for data generation
}

// DefaultOHLCConfig is a small dataset: 10 symbols x 30 days x 24 hours =
// 7,200 bars
func DefaultOHLCConfig() TestDataConfig {
	return TestDataConfig{
		NumSymbols: 10,
		NumDays:    30,
		BarsPerDay: 24,
		BatchSize:  1000,
		StartDate:  time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	}
}

// MediumOHLCConfig is 50 symbols x 30 days x 24 hours = 36,000 bars
func MediumOHLCConfig() TestDataConfig {
	return TestDataConfig{
		NumSymbols: 50,
		NumDays:    30,
		BarsPerDay: 24,
		BatchSize:  2000,
		StartDate:  time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	}
}

// LargeOHLCConfig is a year of minute bars for 500 symbols
func LargeOHLCConfig() TestDataConfig {
	return TestDataConfig{
		NumSymbols: 500,
		NumDays:    365,
		BarsPerDay: 390,
		BatchSize:  5000,
		StartDate:  time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC),
	}
}

const ohlcSchema = `
[{:db/ident :symbol/ticker :db/valueType :db.type/string :db/cardinality :db.cardinality/one :db/unique :db.unique/identity}
 {:db/ident :bar/symbol :db/valueType :db.type/ref :db/cardinality :db.cardinality/one :db/index true}
 {:db/ident :bar/time :db/valueType :db.type/instant :db/cardinality :db.cardinality/one :db/index true}
 {:db/ident :bar/minute-of-day :db/valueType :db.type/long :db/cardinality :db.cardinality/one}
 {:db/ident :bar/open :db/valueType :db.type/double :db/cardinality :db.cardinality/one}
 {:db/ident :bar/high :db/valueType :db.type/double :db/cardinality :db.cardinality/one}
 {:db/ident :bar/low :db/valueType :db.type/double :db/cardinality :db.cardinality/one}
 {:db/ident :bar/close :db/valueType :db.type/double :db/cardinality :db.cardinality/one}]`

var (
	kwSymbol      = datalog.NewKeyword(":bar/symbol")
	kwTime        = datalog.NewKeyword(":bar/time")
	kwMinuteOfDay = datalog.NewKeyword(":bar/minute-of-day")
	kwOpen        = datalog.NewKeyword(":bar/open")
	kwHigh        = datalog.NewKeyword(":bar/high")
	kwLow         = datalog.NewKeyword(":bar/low")
	kwClose       = datalog.NewKeyword(":bar/close")
	kwTicker      = datalog.NewKeyword(":symbol/ticker")
)

// BuildOHLC transacts the schema, the symbols and then the bars in
// batches. It returns the number of bars written.
func BuildOHLC(ctx context.Context, conn *transactor.Connection, config TestDataConfig, progress io.Writer) (int, error) {
	if _, err := conn.TransactEDN(ctx, ohlcSchema); err != nil {
		return 0, fmt.Errorf("failed to transact schema: %w", err)
	}

	symbols := make([]interface{}, config.NumSymbols)
	for i := range symbols {
		symbols[i] = map[datalog.Keyword]interface{}{
			datalog.NewKeyword(":db/id"): ticker(i),
			kwTicker:                     ticker(i),
		}
	}
	rep, err := conn.Transact(ctx, symbols)
	if err != nil {
		return 0, fmt.Errorf("failed to transact symbols: %w", err)
	}
	ids := make([]datalog.EntityID, config.NumSymbols)
	for i := range ids {
		ids[i], _ = rep.TempID(ticker(i))
	}

	bars := generateOHLCBars(config, ids)
	batchSize := max(config.BatchSize, 1)
	for start := 0; start < len(bars); start += batchSize {
		end := min(start+batchSize, len(bars))
		if _, err := conn.Transact(ctx, bars[start:end]); err != nil {
			return 0, fmt.Errorf("failed to commit batch %d-%d: %w", start, end, err)
		}
		if progress != nil {
			fmt.Fprintf(progress, "  Written %d/%d bars (%.1f%%)\n", end, len(bars),
				float64(end)/float64(len(bars))*100)
		}
	}
	return len(bars), nil
}

func ticker(i int) string {
	return fmt.Sprintf("TICK%04d", i)
}

// generateOHLCBars creates one assertion map per bar. Prices follow a
// simple deterministic walk.
func generateOHLCBars(config TestDataConfig, symbols []datalog.EntityID) []interface{} {
	bars := make([]interface{}, 0, len(symbols)*config.NumDays*config.BarsPerDay)
	minutesPerBar := (24 * 60) / max(config.BarsPerDay, 1)

	for symbolIdx, symbol := range symbols {
		for day := 0; day < config.NumDays; day++ {
			for bar := 0; bar < config.BarsPerDay; bar++ {
				var barTime time.Time
				switch config.BarsPerDay {
				case 1:
					barTime = config.StartDate.AddDate(0, 0, day)
				case 24:
					barTime = config.StartDate.AddDate(0, 0, day).Add(time.Duration(bar) * time.Hour)
				default:
					barTime = config.StartDate.AddDate(0, 0, day).Add(time.Duration(bar*minutesPerBar) * time.Minute)
				}

				open := 100.0 + float64(symbolIdx)*10.0 + float64(day)*0.1 + float64(bar)*0.01
				bars = append(bars, map[datalog.Keyword]interface{}{
					kwSymbol:      symbol,
					kwTime:        barTime,
					kwMinuteOfDay: int64(bar * minutesPerBar),
					kwOpen:        open,
					kwHigh:        open + 2.0,
					kwLow:         open - 1.5,
					kwClose:       open + 0.5,
				})
			}
		}
	}
	return bars
}
