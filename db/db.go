package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/MbinOrg/mbin-sub001/domain"
	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"
)

// DB is the database struct.
type DB struct {
	db *sql.DB
}

var (
	dbInstance *DB
	dbOnce     sync.Once
	dbPath     = "database.db"
)

// maxBusyRetries bounds how often a transaction is replayed after SQLITE_BUSY.
const maxBusyRetries = 5

// Configure sets the database file used by GetDB. It must be called before the
// first GetDB call to have any effect.
func Configure(path string) {
	if path != "" {
		dbPath = path
	}
}

// Open opens a SQLite database with the pragmas the inbox workload needs.
// Write transactions begin IMMEDIATE so concurrent workers serialize on the
// write lock instead of failing half way through.
func Open(path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"+
		"&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)&_pragma=temp_store(MEMORY)"+
		"&_txlock=immediate&_time_format=sqlite", path)

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool for concurrent access
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{db: sqlDB}, nil
}

// OpenMemory opens a migrated private in-memory database. The pool is
// pinned to one connection since every SQLite memory connection is its own
// database.
func OpenMemory() (*DB, error) {
	sqlDB, err := sql.Open("sqlite", "file::memory:?_pragma=foreign_keys(1)&_txlock=immediate&_time_format=sqlite")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	db := &DB{db: sqlDB}
	if err := db.RunMigrations(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// GetDB returns the process wide database, opening it and running migrations
// on first use.
func GetDB() *DB {
	dbOnce.Do(func() {
		log.Printf("Using database at: %s", dbPath)

		db, err := Open(dbPath)
		if err != nil {
			panic(err)
		}
		if err := db.RunMigrations(); err != nil {
			panic(err)
		}

		log.Printf("Database initialized with connection pooling (max 25 connections)")
		dbInstance = db
	})

	return dbInstance
}

// Close closes the underlying connection pool.
func (db *DB) Close() error {
	return db.db.Close()
}

// Tx is a unit of work. Every repository operation of the inbox runs on a Tx
// so the domain mutation, the ledger write and queued deliveries commit together.
type Tx struct {
	ctx context.Context
	tx  *sql.Tx
}

// InTx runs fn inside a transaction, committing when fn returns nil. The whole
// unit is replayed when SQLite reports the database as busy.
func (db *DB) InTx(ctx context.Context, fn func(tx *Tx) error) error {
	var err error
	for attempt := 0; attempt < maxBusyRetries; attempt++ {
		err = db.runTx(ctx, fn)
		if !isBusy(err) {
			return err
		}
		log.Printf("Database busy, retrying transaction (attempt %d)", attempt+1)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 50 * time.Millisecond):
		}
	}
	return err
}

func (db *DB) runTx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(&Tx{ctx: ctx, tx: sqlTx}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			log.Printf("error rolling back transaction: %s", rbErr)
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", mapError(err))
	}
	return nil
}

func (t *Tx) exec(query string, args ...any) (sql.Result, error) {
	res, err := t.tx.ExecContext(t.ctx, query, args...)
	return res, mapError(err)
}

func (t *Tx) queryRow(query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(t.ctx, query, args...)
}

func (t *Tx) query(query string, args ...any) (*sql.Rows, error) {
	rows, err := t.tx.QueryContext(t.ctx, query, args...)
	return rows, mapError(err)
}

// expectRow turns an UPDATE or DELETE that touched nothing into ErrNotFound.
func expectRow(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// mapError translates driver errors into the domain sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%w: %v", domain.ErrConflict, err)
	}
	return err
}

func isBusy(err error) bool {
	var serr *sqlite.Error
	if errors.As(err, &serr) {
		return serr.Code()&0xff == sqlitelib.SQLITE_BUSY
	}
	return false
}

// utc normalizes timestamps before they are written so stored values compare
// consistently.
func utc(t time.Time) time.Time {
	return t.UTC().Round(0)
}
