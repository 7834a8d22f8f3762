package gormsqlite

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"net/url"
	"runtime"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	gormdriver "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"
)

// DB splits readers from the single writer connection. SQLite allows one
// writer at a time, so every write transaction is serialized on W.
type DB struct {
	R *gorm.DB
	W *gorm.DB
}

type Tx struct {
	*gorm.DB
}

type cbfn func(tx *Tx) error

type Options struct {
	// Log receives slow query warnings and errors. Nil keeps gorm silent.
	Log           logrus.FieldLogger
	SlowThreshold time.Duration
}

func (db *DB) ReadTX(ctx context.Context, fn cbfn) error {
	return db.R.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Tx{DB: tx})
	}, &sql.TxOptions{ReadOnly: true})
}

func (db *DB) WriteTX(ctx context.Context, fn cbfn) error {
	return db.W.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Tx{DB: tx})
	})
}

func (db *DB) WriteSQLDB() (*sql.DB, error) {
	return db.W.DB()
}

// Ping checks both pools.
func (db *DB) Ping(ctx context.Context) error {
	for _, g := range []*gorm.DB{db.R, db.W} {
		sqlDB, err := g.DB()
		if err != nil {
			return err
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (db *DB) Close() error {
	var firstErr error
	for _, g := range []*gorm.DB{db.R, db.W} {
		if err := closeGORM(g); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

var _ io.Closer = (*DB)(nil)

func Open(file string, opts Options) (*DB, error) {
	cfg := &gorm.Config{
		PrepareStmt: true,
		Logger:      newGormLogger(opts),
	}

	reader, err := gorm.Open(gormdriver.Dialector{DriverName: "sqlite", DSN: buildDSN(file, true)}, cfg)
	if err != nil {
		return nil, fmt.Errorf("open read db: %w", err)
	}

	writer, err := gorm.Open(gormdriver.Dialector{DriverName: "sqlite", DSN: buildDSN(file, false)}, cfg)
	if err != nil {
		_ = closeGORM(reader)
		return nil, fmt.Errorf("open write db: %w", err)
	}

	rdb, err := reader.DB()
	if err != nil {
		_ = closeGORM(reader)
		_ = closeGORM(writer)
		return nil, fmt.Errorf("reader sql db: %w", err)
	}
	wdb, err := writer.DB()
	if err != nil {
		_ = closeGORM(reader)
		_ = closeGORM(writer)
		return nil, fmt.Errorf("writer sql db: %w", err)
	}

	rdb.SetMaxOpenConns(runtime.NumCPU())
	rdb.SetMaxIdleConns(runtime.NumCPU())
	rdb.SetConnMaxLifetime(0)
	rdb.SetConnMaxIdleTime(0)

	wdb.SetMaxOpenConns(1)
	wdb.SetMaxIdleConns(1)
	wdb.SetConnMaxLifetime(0)
	wdb.SetConnMaxIdleTime(0)

	return &DB{R: reader, W: writer}, nil
}

// buildDSN puts the pragmas into the DSN so the driver applies them to every
// pooled connection, not just the first one.
func buildDSN(file string, readOnly bool) string {
	pragmas := []string{
		"journal_mode(WAL)",
		"synchronous(NORMAL)",
		"temp_store(MEMORY)",
		"wal_autocheckpoint(1000)",
		"cache_size(-20000)",
		"mmap_size(268435456)",
		"foreign_keys(1)",
		"busy_timeout(5000)",
		"trusted_schema(OFF)",
	}
	if readOnly {
		pragmas = append(pragmas, "query_only(1)")
	} else {
		pragmas = append(pragmas, "query_only(0)")
	}

	q := make([]string, 0, len(pragmas)+1)
	for _, p := range pragmas {
		q = append(q, "_pragma="+url.QueryEscape(p))
	}
	if !readOnly {
		q = append(q, "_txlock=immediate")
	}

	sep := "?"
	if strings.Contains(file, "?") {
		sep = "&"
	}
	return "file:" + strings.TrimPrefix(file, "file:") + sep + strings.Join(q, "&")
}

func newGormLogger(opts Options) logger.Interface {
	if opts.Log == nil {
		return logger.Discard
	}
	slow := opts.SlowThreshold
	if slow <= 0 {
		slow = time.Second
	}
	return logger.New(printfLogger{opts.Log.WithField("component", "gorm")}, logger.Config{
		SlowThreshold:             slow,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
		ParameterizedQueries:      true,
		Colorful:                  false,
	})
}

type printfLogger struct {
	log logrus.FieldLogger
}

func (p printfLogger) Printf(format string, args ...any) {
	p.log.Warnf(format, args...)
}

func closeGORM(g *gorm.DB) error {
	if g == nil {
		return nil
	}
	sqlDB, err := g.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
