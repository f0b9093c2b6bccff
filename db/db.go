// Package db provides the staging table for the client sync: one row per client
// holding its cross-system identifiers and its current attributes, plus the
// append-only log.
//
// The store is sqlite. Each query is held in an sql file in the `sql` directory which
// can be run on the sqlite command line as-is. The same files are used as Go prepared
// statements through the parameterization scheme set out in parameterize.go.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/jmoiron/sqlx" // helper library
	_ "modernc.org/sqlite"    // pure go sqlite driver
)

// ErrNoRows is returned when a lookup finds nothing.
var ErrNoRows = sql.ErrNoRows

// parameterizedStmt describes an sql file parsed into an sqlx NamedStmt expecting the
// provided args.
type parameterizedStmt struct {
	sqlFile string
	args    []string
	*sqlx.NamedStmt
}

// verifyArgs determines if the arguments provided to a parameterizedStmt are those
// expected.
func (p *parameterizedStmt) verifyArgs(args map[string]any) error {
	if got, want := len(args), len(p.args); got != want {
		return fmt.Errorf(
			"argument length to named statement from %q incorrect: got %d want %d",
			p.sqlFile,
			got,
			want,
		)
	}
	for _, a := range p.args {
		if _, ok := args[a]; !ok {
			return fmt.Errorf("argument %q missing for named statement from %q", a, p.sqlFile)
		}
	}
	return nil
}

// DB provides a wrapper around the sql.DB connection for staging table operations.
type DB struct {
	*sqlx.DB
	sqlFS  fs.FS
	logger *slog.Logger

	// Prepared statements.
	clientsGetStmt   *parameterizedStmt
	clientByNameStmt *parameterizedStmt
	clientByRowStmt  *parameterizedStmt
	clientInsertStmt *parameterizedStmt
	clientUpdateStmt *parameterizedStmt
	logInsertStmt    *parameterizedStmt
	logsGetStmt      *parameterizedStmt
}

// NewConnection opens the sqlite database at dbPath, initialises the schema from
// "schema.sql" in sqlFS and prepares the named statements.
func NewConnection(ctx context.Context, dbPath string, sqlFS fs.FS, logger *slog.Logger) (*DB, error) {

	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	}

	// dataSource is the default setting for file-based databases.
	dataSource := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", dbPath)

	// for in-memory databases, check the necessary shared cache setting is used so
	// that every pooled connection sees the same database.
	if strings.Contains(dbPath, ":memory:") || strings.Contains(dbPath, "mode=memory") {
		if !strings.Contains(dbPath, "cache=shared") {
			return nil, fmt.Errorf("in-memory connection %q should contain 'cache=shared'", dbPath)
		}
		dataSource = dbPath
	}
	dbDB, err := sql.Open("sqlite", dataSource)
	if err != nil {
		return nil, err
	}
	if err := dbDB.PingContext(ctx); err != nil {
		_ = dbDB.Close()
		return nil, err
	}

	// Wrap the standard library *sql.DB with sqlx.
	db := &DB{
		DB:     sqlx.NewDb(dbDB, "sqlite"),
		sqlFS:  sqlFS,
		logger: logger,
	}

	if err := db.InitSchema(ctx, "schema.sql"); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := db.prepareNamedStatements(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("could not prepare named statements: %w", err)
	}
	return db, nil
}

// prepareNamedStatements prepares all the named statements for this database connection.
func (db *DB) prepareNamedStatements() error {
	var err error

	// Clients.
	db.clientsGetStmt, err = db.prepNamedStatement(db.sqlFS, "clients.sql")
	if err != nil {
		return fmt.Errorf("get clients statement error: %w", err)
	}
	db.clientByNameStmt, err = db.prepNamedStatement(db.sqlFS, "client_by_name.sql")
	if err != nil {
		return fmt.Errorf("client by name statement error: %w", err)
	}
	db.clientByRowStmt, err = db.prepNamedStatement(db.sqlFS, "client_by_row.sql")
	if err != nil {
		return fmt.Errorf("client by row statement error: %w", err)
	}
	db.clientInsertStmt, err = db.prepNamedStatement(db.sqlFS, "client_insert.sql")
	if err != nil {
		return fmt.Errorf("client insert statement error: %w", err)
	}
	db.clientUpdateStmt, err = db.prepNamedStatement(db.sqlFS, "client_update.sql")
	if err != nil {
		return fmt.Errorf("client update statement error: %w", err)
	}

	// Logs.
	db.logInsertStmt, err = db.prepNamedStatement(db.sqlFS, "log_insert.sql")
	if err != nil {
		return fmt.Errorf("log insert statement error: %w", err)
	}
	db.logsGetStmt, err = db.prepNamedStatement(db.sqlFS, "logs.sql")
	if err != nil {
		return fmt.Errorf("get logs statement error: %w", err)
	}

	return nil
}

// prepNamedStatement parameterizes and prepares the SQL query in filePath.
func (db *DB) prepNamedStatement(fileFS fs.FS, filePath string) (*parameterizedStmt, error) {
	query, err := ParameterizeFile(fileFS, filePath)
	if err != nil {
		return nil, fmt.Errorf("could not parameterize %q: %w", filePath, err)
	}

	pQuery, err := db.PrepareNamed(string(query.Body))
	if err != nil {
		return nil, fmt.Errorf("could not prepare statement %q: %w", filePath, err)
	}
	return &parameterizedStmt{
		filePath,
		query.Parameters,
		pQuery,
	}, nil
}

// InitSchema creates the necessary tables if they don't already exist. The schema file
// can be run idempotently.
func (db *DB) InitSchema(ctx context.Context, filePath string) error {

	schema, err := fs.ReadFile(db.sqlFS, filePath)
	if err != nil {
		return fmt.Errorf("could not read schema file at %q: %w", filePath, err)
	}

	_, err = db.ExecContext(ctx, string(schema))
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the prepared statements and the database.
func (db *DB) Close() error {
	for _, s := range []*parameterizedStmt{
		db.clientsGetStmt, db.clientByNameStmt, db.clientByRowStmt, db.clientInsertStmt,
		db.clientUpdateStmt, db.logInsertStmt, db.logsGetStmt,
	} {
		if s != nil {
			_ = s.Close()
		}
	}
	return db.DB.Close()
}

// SetLogLevel sets the level of the database logger, mainly for testing.
func (db *DB) SetLogLevel(level slog.Level) {
	db.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// logQuery logs a failed named query at debug level to help with sql issues.
func (db *DB) logQuery(name string, stmt *parameterizedStmt, args map[string]any, err error) {
	if err == nil || errors.Is(err, sql.ErrNoRows) {
		return
	}
	db.logger.Debug(
		"sql error",
		"name", name,
		"file", stmt.sqlFile,
		"args", fmt.Sprintf("%#v", args),
		"error", err,
	)
}
