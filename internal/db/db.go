package db

import (
	"database/sql"
	"net/url"
	"strings"

	"github.com/cockroachdb/errors"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	// modernc driver registers itself as "sqlite"
	_ "modernc.org/sqlite"
)

// DriverName is the database/sql driver used for every connection.
const DriverName = "sqlite"

// Open opens the SQLite database at path with WAL journaling, a busy
// timeout and foreign keys enabled on every pooled connection.
func Open(path string) (*sql.DB, error) {
	d, err := sql.Open(DriverName, dsn(path))
	if err != nil {
		return nil, errors.Wrap(err, "open db")
	}
	if err := d.Ping(); err != nil {
		_ = d.Close()
		return nil, errors.Wrap(err, "ping db")
	}
	return d, nil
}

func dsn(path string) string {
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "foreign_keys(1)")
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return "file:" + path + sep + q.Encode()
}

// OpenGorm wraps an already opened pool so gorm and plain SQL share
// connections and pragmas.
func OpenGorm(sqlDB *sql.DB) (*gorm.DB, error) {
	g, err := gorm.Open(&sqlite.Dialector{DriverName: DriverName, Conn: sqlDB}, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errors.Wrap(err, "open gorm")
	}
	return g, nil
}

// IsUniqueViolation reports whether err comes from a UNIQUE constraint.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint failed") || strings.Contains(msg, "constraint_unique")
}

// IsBusy reports whether err is a transient "database is locked/busy" condition.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "sqlite_busy") ||
		strings.Contains(msg, "sqlite_locked")
}
