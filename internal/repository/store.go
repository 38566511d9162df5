package repository

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	sqldblogger "github.com/simukti/sqldb-logger"

	"github.com/photosync/mediaindex/internal/models"
	"github.com/photosync/mediaindex/internal/observability"
)

const (
	DialectSQLite   = "sqlite3"
	DialectPostgres = "postgres"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrations embed.FS

// Options configures how the store connects and pools connections
type Options struct {
	// DatabaseURL selects PostgreSQL when set
	DatabaseURL string
	// DatabasePath is the SQLite file used when DatabaseURL is empty
	DatabasePath   string
	MaxOpenConns   int
	MinIdleConns   int
	AcquireTimeout time.Duration
	// LogQueries routes every statement through the debug logger
	LogQueries bool
}

// Store is the metadata index. It implements MediaStore over sqlx.
type Store struct {
	db             *sqlx.DB
	dialect        string
	acquireTimeout time.Duration
}

var dbLogger = observability.WithField("component", "db")

// Open connects to the configured database, applies pool settings and runs
// pending migrations.
func Open(ctx context.Context, opts Options) (*Store, error) {
	dialect, dsn := DialectSQLite, sqliteDSN(opts.DatabasePath)
	if opts.DatabaseURL != "" {
		dialect, dsn = DialectPostgres, opts.DatabaseURL
	}

	raw, err := sql.Open(dialect, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", dialect, err)
	}
	if opts.LogQueries {
		wrapped := sqldblogger.OpenDriver(dsn, raw.Driver(), &sqlLogger{logger: dbLogger})
		raw.Close()
		raw = wrapped
	}

	if opts.MaxOpenConns > 0 {
		raw.SetMaxOpenConns(opts.MaxOpenConns)
	}
	// database/sql has no minimum idle setting; keeping this many idle
	// connections around is the closest equivalent.
	raw.SetMaxIdleConns(opts.MinIdleConns)
	raw.SetConnMaxIdleTime(10 * time.Minute)

	if err := raw.PingContext(ctx); err != nil {
		raw.Close()
		return nil, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}

	if err := migrate(raw, dialect); err != nil {
		raw.Close()
		return nil, err
	}

	timeout := opts.AcquireTimeout
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}

	dbLogger.WithField("dialect", dialect).Info("metadata store ready")
	return &Store{
		db:             sqlx.NewDb(raw, dialect),
		dialect:        dialect,
		acquireTimeout: timeout,
	}, nil
}

func sqliteDSN(path string) string {
	if path == "" {
		path = "mediaindex.db"
	}
	// Writers take the lock up front so two ingests never deadlock upgrading
	// a shared lock.
	return "file:" + path + "?_foreign_keys=on&_busy_timeout=5000&_txlock=immediate&_journal_mode=WAL"
}

func migrate(db *sql.DB, dialect string) error {
	dir := "migrations/sqlite"
	if dialect == DialectPostgres {
		dir = "migrations/postgres"
	}

	goose.SetBaseFS(migrations)
	goose.SetLogger(gooseLogger{})
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("failed to set dialect for DB migration: %w", err)
	}
	if err := goose.Up(db, dir); err != nil {
		return fmt.Errorf("failed to migrate DB: %w", err)
	}
	return nil
}

// Dialect returns the SQL dialect in use
func (s *Store) Dialect() string {
	return s.dialect
}

// Ping verifies the store can hand out a connection
func (s *Store) Ping(ctx context.Context) error {
	return s.withConn(ctx, func(c *sqlx.Conn) error {
		return c.PingContext(ctx)
	})
}

// Close releases every pooled connection
func (s *Store) Close() error {
	return s.db.Close()
}

// queryer is satisfied by both *sqlx.Conn and *sqlx.Tx
type queryer interface {
	sqlx.QueryerContext
	sqlx.ExecerContext
	Rebind(string) string
}

// acquire takes a pooled connection, failing with ErrStoreUnavailable if none
// frees up within the acquire timeout.
func (s *Store) acquire(ctx context.Context) (*sqlx.Conn, error) {
	actx, cancel := context.WithTimeout(ctx, s.acquireTimeout)
	defer cancel()

	conn, err := s.db.Connx(actx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	return conn, nil
}

func (s *Store) withConn(ctx context.Context, fn func(c *sqlx.Conn) error) error {
	conn, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	return mapError(fn(conn))
}

// WithinTx runs fn inside one transaction on a freshly acquired connection.
// fn's error rolls the transaction back; otherwise it commits.
func (s *Store) WithinTx(ctx context.Context, fn func(tx MediaTx) error) (err error) {
	ctx, span := observability.StartDBSpan(ctx, s.dialect, "TRANSACTION", "media")
	defer func() {
		observability.RecordError(span, err)
		span.End()
	}()

	conn, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	tx, err := conn.BeginTxx(ctx, nil)
	if err != nil {
		return mapError(err)
	}
	defer tx.Rollback()

	if err := fn(&mediaTx{q: tx}); err != nil {
		dbLogger.WithContext(ctx).Debugf("transaction rolled back: %v", err)
		return mapError(err)
	}
	return mapError(tx.Commit())
}

// sqlLogger adapts the observability logger to sqldb-logger
type sqlLogger struct {
	logger *observability.Logger
}

func (l *sqlLogger) Log(ctx context.Context, level sqldblogger.Level, msg string, data map[string]interface{}) {
	log := l.logger.WithContext(ctx)
	switch level {
	case sqldblogger.LevelError:
		log.WithFields(data).Warn(msg)
	default:
		if query, ok := data["query"]; ok {
			log.Debugf("%s [%vms] -- %v", msg, data["duration"], query)
		} else {
			log.Debugf("%s [%vms]", msg, data["duration"])
		}
	}
}

// gooseLogger routes migration progress to the db logger
type gooseLogger struct{}

func (gooseLogger) Fatal(v ...interface{})                 { dbLogger.Error(fmt.Sprint(v...)) }
func (gooseLogger) Fatalf(format string, v ...interface{}) { dbLogger.Errorf(format, v...) }
func (gooseLogger) Print(v ...interface{})                 { dbLogger.Info(fmt.Sprint(v...)) }
func (gooseLogger) Println(v ...interface{})               { dbLogger.Info(fmt.Sprint(v...)) }
func (gooseLogger) Printf(format string, v ...interface{}) { dbLogger.Infof(format, v...) }

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
