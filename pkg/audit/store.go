package audit

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/cloudbro-ops/runguard/pkg/config"
	"github.com/cloudbro-ops/runguard/pkg/log"
	"github.com/cloudbro-ops/runguard/pkg/sandbox"
)

// DBType selects the audit store backend.
type DBType string

const (
	DBTypeSQLite   DBType = "sqlite"
	DBTypePostgres DBType = "postgres"
	DBTypeMariaDB  DBType = "mariadb"
	DBTypeMySQL    DBType = "mysql"
)

// Store persists audit entries in a SQL database. SQLite is the default;
// postgres and mysql/mariadb are selected by configuration for shared
// deployments. Store implements Recorder.
type Store struct {
	db     *sql.DB
	dbType DBType
	target string
}

// OpenStore connects to the configured backend, verifies the connection
// and brings the schema up to date.
func OpenStore(cfg config.StorageConfig) (*Store, error) {
	dbType := DBType(cfg.DBType)
	if dbType == "" {
		dbType = DBTypeSQLite
	}

	var (
		db     *sql.DB
		target string
		err    error
	)
	switch dbType {
	case DBTypeSQLite:
		db, target, err = openSQLite(cfg)
	case DBTypePostgres:
		db, target, err = openPostgres(cfg)
	case DBTypeMySQL, DBTypeMariaDB:
		db, target, err = openMySQL(cfg)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.DBType)
	}
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to %s audit store: %w", dbType, err)
	}

	s := &Store{db: db, dbType: dbType, target: target}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, err
	}
	s.migrateSchema()
	s.createIndexes()

	log.Infof("Audit store ready (%s: %s)", s.dbType, s.target)
	return s, nil
}

func openSQLite(cfg config.StorageConfig) (*sql.DB, string, error) {
	path := cfg.DBPath
	if path == "" {
		path = config.DefaultDBPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, "", fmt.Errorf("creating database directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, "", fmt.Errorf("opening sqlite database: %w", err)
	}
	return db, path, nil
}

func openPostgres(cfg config.StorageConfig) (*sql.DB, string, error) {
	host := cfg.DBHost
	if host == "" {
		host = "localhost"
	}
	port := cfg.DBPort
	if port == 0 {
		port = 5432
	}
	dbName := cfg.DBName
	if dbName == "" {
		dbName = "runguard"
	}
	sslMode := cfg.DBSSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		host, port, cfg.DBUser, cfg.DBPassword, dbName, sslMode)
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, "", fmt.Errorf("opening postgres database: %w", err)
	}
	return db, fmt.Sprintf("%s:%d/%s", host, port, dbName), nil
}

func openMySQL(cfg config.StorageConfig) (*sql.DB, string, error) {
	host := cfg.DBHost
	if host == "" {
		host = "localhost"
	}
	port := cfg.DBPort
	if port == 0 {
		port = 3306
	}
	dbName := cfg.DBName
	if dbName == "" {
		dbName = "runguard"
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		cfg.DBUser, cfg.DBPassword, host, port, dbName)
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, "", fmt.Errorf("opening mysql database: %w", err)
	}
	return db, fmt.Sprintf("%s:%d/%s", host, port, dbName), nil
}

func (s *Store) createSchema() error {
	var ddl string
	switch s.dbType {
	case DBTypePostgres:
		ddl = `CREATE TABLE IF NOT EXISTS audit_entries (
			id SERIAL PRIMARY KEY,
			timestamp TIMESTAMP NOT NULL,
			batch_id TEXT NOT NULL,
			request_id TEXT NOT NULL DEFAULT '',
			command TEXT NOT NULL,
			risk_level TEXT NOT NULL DEFAULT '',
			pattern TEXT NOT NULL DEFAULT '',
			blocked BOOLEAN NOT NULL DEFAULT FALSE,
			decision TEXT NOT NULL,
			status TEXT NOT NULL,
			exit_code INTEGER,
			duration_ms BIGINT NOT NULL DEFAULT 0,
			truncated BOOLEAN NOT NULL DEFAULT FALSE,
			reason TEXT NOT NULL DEFAULT ''
		)`
	case DBTypeMySQL, DBTypeMariaDB:
		ddl = `CREATE TABLE IF NOT EXISTS audit_entries (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			timestamp DATETIME NOT NULL,
			batch_id VARCHAR(64) NOT NULL,
			request_id VARCHAR(64) NOT NULL DEFAULT '',
			command TEXT NOT NULL,
			risk_level VARCHAR(16) NOT NULL DEFAULT '',
			pattern TEXT,
			blocked BOOLEAN NOT NULL DEFAULT FALSE,
			decision VARCHAR(32) NOT NULL,
			status VARCHAR(32) NOT NULL,
			exit_code INT,
			duration_ms BIGINT NOT NULL DEFAULT 0,
			truncated BOOLEAN NOT NULL DEFAULT FALSE,
			reason TEXT
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`
	default:
		ddl = `CREATE TABLE IF NOT EXISTS audit_entries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp DATETIME NOT NULL,
			batch_id TEXT NOT NULL,
			request_id TEXT NOT NULL DEFAULT '',
			command TEXT NOT NULL,
			risk_level TEXT NOT NULL DEFAULT '',
			pattern TEXT NOT NULL DEFAULT '',
			blocked BOOLEAN NOT NULL DEFAULT 0,
			decision TEXT NOT NULL,
			status TEXT NOT NULL,
			exit_code INTEGER,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			truncated BOOLEAN NOT NULL DEFAULT 0,
			reason TEXT NOT NULL DEFAULT ''
		)`
	}

	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("creating audit_entries table: %w", err)
	}
	return nil
}

// migrateSchema adds columns introduced after the first release so an old
// database never blocks startup. Failures are logged and skipped.
func (s *Store) migrateSchema() {
	rows, err := s.db.Query("SELECT * FROM audit_entries LIMIT 0")
	if err != nil {
		log.Warnf("Audit schema inspection failed: %v", err)
		return
	}
	cols, err := rows.Columns()
	rows.Close()
	if err != nil {
		return
	}

	existing := make(map[string]bool, len(cols))
	for _, c := range cols {
		existing[strings.ToLower(c)] = true
	}

	type column struct {
		name     string
		sqlite   string
		postgres string
		mysql    string
	}
	added := []column{
		{"request_id", "TEXT NOT NULL DEFAULT ''", "TEXT NOT NULL DEFAULT ''", "VARCHAR(64) NOT NULL DEFAULT ''"},
		{"reason", "TEXT NOT NULL DEFAULT ''", "TEXT NOT NULL DEFAULT ''", "TEXT"},
	}

	for _, col := range added {
		if existing[col.name] {
			continue
		}
		def := col.sqlite
		switch s.dbType {
		case DBTypePostgres:
			def = col.postgres
		case DBTypeMySQL, DBTypeMariaDB:
			def = col.mysql
		}
		query := fmt.Sprintf("ALTER TABLE audit_entries ADD COLUMN %s %s", col.name, def)
		if _, err := s.db.Exec(query); err != nil {
			log.Warnf("Audit schema migration for column %s failed: %v", col.name, err)
		} else {
			log.Infof("Audit schema migration added column %s", col.name)
		}
	}
}

// createIndexes builds the query indexes. MySQL has no IF NOT EXISTS for
// indexes, so duplicate errors on restart are expected and only logged at
// debug.
func (s *Store) createIndexes() {
	var queries []string
	switch s.dbType {
	case DBTypeMySQL, DBTypeMariaDB:
		queries = []string{
			"CREATE INDEX idx_audit_entries_timestamp ON audit_entries(timestamp)",
			"CREATE INDEX idx_audit_entries_batch ON audit_entries(batch_id)",
			"CREATE INDEX idx_audit_entries_risk ON audit_entries(risk_level)",
			"CREATE INDEX idx_audit_entries_decision ON audit_entries(decision)",
		}
	default:
		queries = []string{
			"CREATE INDEX IF NOT EXISTS idx_audit_entries_timestamp ON audit_entries(timestamp)",
			"CREATE INDEX IF NOT EXISTS idx_audit_entries_batch ON audit_entries(batch_id)",
			"CREATE INDEX IF NOT EXISTS idx_audit_entries_risk ON audit_entries(risk_level)",
			"CREATE INDEX IF NOT EXISTS idx_audit_entries_decision ON audit_entries(decision)",
		}
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			log.Debugf("Audit index creation: %v", err)
		}
	}
}

// rebind converts ?-style placeholders to the $n form postgres expects.
// Queries are authored with ? so the sqlite and mysql paths stay readable.
func (s *Store) rebind(query string) string {
	if s.dbType != DBTypePostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// Record implements Recorder. Inserts retry with exponential backoff on
// transient database errors; the command behind the entry is never re-run,
// so a retried insert cannot execute anything twice.
func (s *Store) Record(entry *AuditEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	query := s.rebind(`INSERT INTO audit_entries (
		timestamp, batch_id, request_id, command, risk_level, pattern,
		blocked, decision, status, exit_code, duration_ms, truncated, reason
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	var exitCode sql.NullInt64
	if entry.ExitCode != nil {
		exitCode = sql.NullInt64{Int64: int64(*entry.ExitCode), Valid: true}
	}

	insert := func() error {
		_, err := s.db.Exec(query,
			entry.Timestamp.UTC(), entry.BatchID, entry.RequestID, entry.Command,
			entry.RiskLevel, entry.Pattern, entry.Blocked, string(entry.Decision),
			string(entry.Status), exitCode, entry.DurationMS, entry.Truncated,
			entry.Reason)
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	policy.MaxElapsedTime = 10 * time.Second

	if err := backoff.Retry(insert, policy); err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}
	return nil
}

// QueryFilter narrows audit queries. Zero values mean no filter.
type QueryFilter struct {
	BatchID     string
	RiskLevel   string
	Decision    Decision
	Status      sandbox.ExecutionStatus
	BlockedOnly bool
	Since       time.Time
	Until       time.Time
	Limit       int
}

// Query returns entries matching the filter, newest first. An unset limit
// caps the result at 100 rows.
func (s *Store) Query(filter QueryFilter) ([]AuditEntry, error) {
	query := `SELECT id, timestamp, batch_id, request_id, command, risk_level,
		pattern, blocked, decision, status, exit_code, duration_ms, truncated, reason
		FROM audit_entries WHERE 1=1`

	var args []interface{}

	if filter.BatchID != "" {
		query += " AND batch_id = ?"
		args = append(args, filter.BatchID)
	}
	if filter.RiskLevel != "" {
		query += " AND risk_level = ?"
		args = append(args, filter.RiskLevel)
	}
	if filter.Decision != "" {
		query += " AND decision = ?"
		args = append(args, string(filter.Decision))
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	if filter.BlockedOnly {
		query += " AND blocked = ?"
		args = append(args, true)
	}
	if !filter.Since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, filter.Since.UTC())
	}
	if !filter.Until.IsZero() {
		query += " AND timestamp < ?"
		args = append(args, filter.Until.UTC())
	}

	query += " ORDER BY timestamp DESC, id DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	} else {
		query += " LIMIT 100"
	}

	rows, err := s.db.Query(s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit entries: %w", err)
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var exitCode sql.NullInt64
		var pattern, reason sql.NullString
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.BatchID, &e.RequestID,
			&e.Command, &e.RiskLevel, &pattern, &e.Blocked, &e.Decision,
			&e.Status, &exitCode, &e.DurationMS, &e.Truncated, &reason); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}
		if exitCode.Valid {
			code := int(exitCode.Int64)
			e.ExitCode = &code
		}
		e.Pattern = pattern.String
		e.Reason = reason.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Stats summarizes audit activity over the trailing window. days <= 0 means
// all time.
func (s *Store) Stats(days int) (map[string]interface{}, error) {
	where := ""
	var args []interface{}
	if days > 0 {
		where = " WHERE timestamp >= ?"
		args = append(args, time.Now().UTC().AddDate(0, 0, -days))
	}

	var total int
	if err := s.db.QueryRow(s.rebind("SELECT COUNT(*) FROM audit_entries"+where), args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting audit entries: %w", err)
	}

	byRisk := s.groupCount("risk_level", where, args)
	byDecision := s.groupCount("decision", where, args)
	byStatus := s.groupCount("status", where, args)

	var blocked int
	s.db.QueryRow(s.rebind("SELECT COUNT(*) FROM audit_entries"+blockedWhere(where)), args...).Scan(&blocked)

	return map[string]interface{}{
		"total_entries": total,
		"blocked_count": blocked,
		"by_risk_level": byRisk,
		"by_decision":   byDecision,
		"by_status":     byStatus,
		"period_days":   days,
	}, nil
}

func blockedWhere(where string) string {
	if where == "" {
		return " WHERE blocked"
	}
	return where + " AND blocked"
}

func (s *Store) groupCount(column, where string, args []interface{}) map[string]int {
	counts := make(map[string]int)
	query := fmt.Sprintf("SELECT %s, COUNT(*) FROM audit_entries%s GROUP BY %s", column, where, column)
	rows, err := s.db.Query(s.rebind(query), args...)
	if err != nil {
		log.Debugf("Audit stats for %s: %v", column, err)
		return counts
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			continue
		}
		if key == "" {
			key = "unclassified"
		}
		counts[key] = count
	}
	return counts
}

// Purge deletes entries older than the cutoff and reports how many rows
// were removed.
func (s *Store) Purge(olderThan time.Time) (int64, error) {
	res, err := s.db.Exec(s.rebind("DELETE FROM audit_entries WHERE timestamp < ?"), olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("purging audit entries: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Count returns the total number of stored entries.
func (s *Store) Count() (int64, error) {
	var n int64
	err := s.db.QueryRow("SELECT COUNT(*) FROM audit_entries").Scan(&n)
	return n, err
}

// Type returns the active backend type.
func (s *Store) Type() DBType { return s.dbType }

// Target returns the database location for diagnostics: a file path for
// sqlite, host:port/name otherwise.
func (s *Store) Target() string { return s.target }

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }
