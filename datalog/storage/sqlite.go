package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	// SQLite driver using pure Go implementation
	_ "modernc.org/sqlite"
)

// SQLiteLog stores records in a single sqlite table. The t, tx and instant
// columns duplicate the record header so the log can be inspected with
// standard sqlite tools.
type SQLiteLog struct {
	db     *sql.DB
	logger *zap.Logger
	last   atomic.Int64

	insertStmt *sql.Stmt
}

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS tx_log (
		t INTEGER PRIMARY KEY,
		tx INTEGER NOT NULL,
		instant INTEGER NOT NULL,
		payload BLOB NOT NULL
	);`

// NewSQLiteLog opens or creates a sqlite-backed log at path
func NewSQLiteLog(path string, logger *zap.Logger) (*SQLiteLog, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	insert, err := db.Prepare(`INSERT INTO tx_log (t, tx, instant, payload) VALUES (?, ?, ?, ?)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	l := &SQLiteLog{db: db, logger: logger, insertStmt: insert}
	var last int64
	if err := db.QueryRow(`SELECT COALESCE(MAX(t), 0) FROM tx_log`).Scan(&last); err != nil {
		l.Close()
		return nil, fmt.Errorf("failed to read last t: %w", err)
	}
	l.last.Store(last)
	logger.Debug("opened sqlite log", zap.String("path", path), zap.Int64("last_t", last))
	return l, nil
}

func (l *SQLiteLog) Append(ctx context.Context, rec TxRecord) error {
	if err := checkOrder("sqlite append", l.last.Load(), rec); err != nil {
		return err
	}
	raw, err := EncodeRecord(rec)
	if err != nil {
		return err
	}
	if _, err := l.insertStmt.ExecContext(ctx, rec.T, int64(rec.Tx), rec.Instant.UnixNano(), raw); err != nil {
		return fmt.Errorf("failed to append t %d: %w", rec.T, err)
	}
	l.last.Store(rec.T)
	return nil
}

func (l *SQLiteLog) Range(ctx context.Context, fromT, toT int64, fn func(TxRecord) error) error {
	query := `SELECT payload FROM tx_log WHERE t >= ? ORDER BY t`
	args := []interface{}{fromT}
	if toT > 0 {
		query = `SELECT payload FROM tx_log WHERE t >= ? AND t < ? ORDER BY t`
		args = append(args, toT)
	}
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to query log: %w", err)
	}
	defer rows.Close()

	// records are decoded after the cursor is drained so fn may use the
	// single connection
	var raws [][]byte
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return fmt.Errorf("failed to scan record: %w", err)
		}
		raws = append(raws, raw)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()

	for _, raw := range raws {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := DecodeRecord(raw)
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

func (l *SQLiteLog) LastT() int64 { return l.last.Load() }

func (l *SQLiteLog) Close() error {
	if l.insertStmt != nil {
		l.insertStmt.Close()
	}
	return l.db.Close()
}
