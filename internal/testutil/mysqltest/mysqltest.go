// Package mysqltest provisions throwaway MySQL databases for integration
// tests. Connection details come from MYSQL_TEST_* environment variables;
// tests skip when they are unset.
package mysqltest

import (
	"database/sql"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// TestDB is an isolated database dropped when the test ends.
type TestDB struct {
	DB           *sql.DB
	DatabaseName string
	Config       Config
}

// Config holds MySQL connection information.
type Config struct {
	Host     string
	Port     string
	User     string
	Password string
	TLSMode  string
}

// ConfigFromEnv reads connection info from the environment. The second
// result is false when the required variables are missing.
func ConfigFromEnv() (Config, bool) {
	cfg := Config{
		Host:     os.Getenv("MYSQL_TEST_HOST"),
		Port:     os.Getenv("MYSQL_TEST_PORT"),
		User:     os.Getenv("MYSQL_TEST_USER"),
		Password: os.Getenv("MYSQL_TEST_PASSWORD"),
		TLSMode:  os.Getenv("MYSQL_TEST_TLS_MODE"),
	}
	if cfg.Port == "" {
		cfg.Port = "3306"
	}
	return cfg, cfg.Host != "" && cfg.User != ""
}

// DSN builds a go-sql-driver/mysql DSN for database.
func (c Config) DSN(database string) string {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true&multiStatements=false",
		c.User, c.Password, c.Host, c.Port, database)
	if c.TLSMode != "" {
		dsn += "&tls=" + c.TLSMode
	}
	return dsn
}

// NewTestDB creates a uniquely named database for t and registers its
// teardown.
func NewTestDB(t *testing.T) *TestDB {
	t.Helper()

	cfg, ok := ConfigFromEnv()
	if !ok {
		t.Skip("MySQL credentials not set. Set MYSQL_TEST_HOST and MYSQL_TEST_USER to run integration tests")
	}

	dbName := fmt.Sprintf("omnifetch_%s_%d", sanitizeName(t.Name()), time.Now().UnixMilli())
	if !isValidDatabaseName(dbName) {
		t.Fatalf("Invalid database name generated: %s", dbName)
	}

	bootstrap, err := sql.Open("mysql", cfg.DSN("information_schema"))
	if err != nil {
		t.Fatalf("Failed to connect to MySQL: %v", err)
	}
	defer func() {
		if err := bootstrap.Close(); err != nil {
			t.Logf("Warning: failed to close bootstrap connection: %v", err)
		}
	}()
	if err := bootstrap.Ping(); err != nil {
		t.Fatalf("Failed to ping MySQL: %v", err)
	}
	// dbName is validated above.
	if _, err := bootstrap.Exec(fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", dbName)); err != nil {
		t.Fatalf("Failed to create test database %s: %v", dbName, err)
	}

	db, err := sql.Open("mysql", cfg.DSN(dbName))
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		t.Fatalf("Failed to ping test database: %v", err)
	}

	testDB := &TestDB{DB: db, DatabaseName: dbName, Config: cfg}
	t.Cleanup(func() { testDB.Teardown(t) })
	return testDB
}

// Teardown drops the database and closes the connection.
func (tdb *TestDB) Teardown(t *testing.T) {
	t.Helper()
	if tdb.DB == nil {
		return
	}
	if isValidDatabaseName(tdb.DatabaseName) {
		if _, err := tdb.DB.Exec(fmt.Sprintf("DROP DATABASE IF EXISTS `%s`", tdb.DatabaseName)); err != nil {
			t.Logf("Warning: failed to drop test database %s: %v", tdb.DatabaseName, err)
		}
	}
	if err := tdb.DB.Close(); err != nil {
		t.Logf("Warning: failed to close test database connection: %v", err)
	}
}

// LoadFile executes every statement of a SQL file.
func (tdb *TestDB) LoadFile(t *testing.T, path string) {
	t.Helper()
	payload, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read SQL file %s: %v", path, err)
	}
	tdb.Exec(t, string(payload))
}

// Exec runs semicolon separated statements. Semicolons inside literals are
// not supported.
func (tdb *TestDB) Exec(t *testing.T, script string) {
	t.Helper()
	for i, stmt := range SplitSQL(script) {
		if _, err := tdb.DB.Exec(stmt); err != nil {
			t.Fatalf("Failed to execute SQL statement %d: %v\nStatement: %s", i+1, err, stmt)
		}
	}
}

// SplitSQL splits SQL text on semicolons and drops empty statements.
func SplitSQL(script string) []string {
	parts := strings.Split(script, ";")
	statements := make([]string, 0, len(parts))
	for _, stmt := range parts {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			statements = append(statements, stmt)
		}
	}
	return statements
}

// sanitizeName makes a test name usable in a database name. MySQL limits
// names to 64 characters, so it leaves room for the prefix and timestamp.
func sanitizeName(name string) string {
	var b strings.Builder
	for _, ch := range name {
		if isValidDatabaseChar(ch) {
			b.WriteRune(ch)
		} else {
			b.WriteRune('_')
		}
	}
	sanitized := b.String()
	if len(sanitized) > 36 {
		sanitized = sanitized[:36]
	}
	return sanitized
}

func isValidDatabaseName(name string) bool {
	if name == "" || len(name) > 64 {
		return false
	}
	for _, ch := range name {
		if !isValidDatabaseChar(ch) {
			return false
		}
	}
	return true
}

func isValidDatabaseChar(ch rune) bool {
	return (ch >= 'a' && ch <= 'z') ||
		(ch >= 'A' && ch <= 'Z') ||
		(ch >= '0' && ch <= '9') ||
		ch == '_'
}
