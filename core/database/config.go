package database

import (
	"fmt"
	"os"
	"strings"
)

// Supported SQL drivers.
const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

const (
	defaultMySQLPort      = "3306"
	defaultPostgresPort   = "5432"
	defaultMaxConnections = 10
	defaultMigrationsDir  = "migrations"
	defaultSQLitePath     = "wabot.db"
)

// Config holds database connection settings. The MYSQL* variable names are
// used by every network driver, not only MySQL.
type Config struct {
	Driver         string `yaml:"driver" envconfig:"DB_DRIVER"`
	Host           string `yaml:"host" envconfig:"MYSQLHOST"`
	Port           string `yaml:"port" envconfig:"MYSQLPORT"`
	User           string `yaml:"user" envconfig:"MYSQLUSER"`
	Password       string `yaml:"password" envconfig:"MYSQLPASSWORD"`
	Name           string `yaml:"name" envconfig:"MYSQLDATABASE"`
	SSLMode        string `yaml:"sslmode" envconfig:"DB_SSLMODE"`
	// Path is the database file for the sqlite3 driver.
	Path           string `yaml:"path" envconfig:"DB_PATH"`
	MaxConnections int    `yaml:"max_connections" envconfig:"DB_MAX_CONNECTIONS"`
	MigrationsDir  string `yaml:"migrations_dir" envconfig:"DB_MIGRATIONS_DIR"`
}

// Normalize fills defaults and validates the driver.
func (c *Config) Normalize() error {
	c.Driver = strings.ToLower(strings.TrimSpace(c.Driver))
	switch c.Driver {
	case "":
		c.Driver = DriverMySQL
	case "sqlite":
		c.Driver = DriverSQLite
	case "postgresql", "pgx":
		c.Driver = DriverPostgres
	case DriverMySQL, DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("unsupported database driver %q", c.Driver)
	}

	if c.Name == "" {
		// Older deployments spell it MYSQL_DATABASE.
		c.Name = strings.TrimSpace(os.Getenv("MYSQL_DATABASE"))
	}
	if c.Port == "" {
		switch c.Driver {
		case DriverMySQL:
			c.Port = defaultMySQLPort
		case DriverPostgres:
			c.Port = defaultPostgresPort
		}
	}
	if c.Driver == DriverPostgres && c.SSLMode == "" {
		c.SSLMode = "disable"
	}
	if c.Driver == DriverSQLite && strings.TrimSpace(c.Path) == "" {
		c.Path = defaultSQLitePath
	}
	if c.MaxConnections <= 0 {
		c.MaxConnections = defaultMaxConnections
	}
	if strings.TrimSpace(c.MigrationsDir) == "" {
		c.MigrationsDir = defaultMigrationsDir
	}
	if c.Driver != DriverSQLite && c.Host == "" {
		return fmt.Errorf("database host is required for driver %s", c.Driver)
	}
	return nil
}

// Target describes the database for log lines without leaking credentials.
func (c Config) Target() string {
	if c.Driver == DriverSQLite {
		return c.Path
	}
	return c.Host + ":" + c.Port + "/" + c.Name
}
