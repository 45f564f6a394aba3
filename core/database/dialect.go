package database

import (
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/go-sql-driver/mysql"
)

// DSN returns the data source name understood by the sql driver.
func (c Config) DSN() string {
	switch c.Driver {
	case DriverPostgres:
		return fmt.Sprintf(
			"user=%s password=%s host=%s port=%s dbname=%s sslmode=%s",
			c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode,
		)
	case DriverSQLite:
		return sqliteDSN(c.Path)
	default:
		return c.mysqlConfig().FormatDSN()
	}
}

// MigrateURL returns the database URL understood by golang-migrate.
func (c Config) MigrateURL() string {
	switch c.Driver {
	case DriverPostgres:
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(c.User, c.Password),
			Host:     net.JoinHostPort(c.Host, c.Port),
			Path:     "/" + c.Name,
			RawQuery: url.Values{"sslmode": {c.SSLMode}}.Encode(),
		}
		return u.String()
	case DriverSQLite:
		return "sqlite3://" + sqliteDSN(c.Path)
	default:
		return "mysql://" + c.mysqlConfig().FormatDSN()
	}
}

func (c Config) mysqlConfig() *mysql.Config {
	mc := mysql.NewConfig()
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(c.Host, c.Port)
	mc.User = c.User
	mc.Passwd = c.Password
	mc.DBName = c.Name
	mc.ParseTime = true
	mc.Loc = time.UTC
	mc.MultiStatements = true
	// The welcome claim reads "0 rows affected" as already welcomed, which
	// only holds while unchanged rows are not counted.
	mc.ClientFoundRows = false
	return mc
}

// sqliteDSN is a plain path plus go-sqlite3 options; golang-migrate cannot
// parse the "file:" form inside its URL.
func sqliteDSN(path string) string {
	return path + "?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL"
}
