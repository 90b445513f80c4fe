package datasource

import (
	"net"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
)

type Type string

const (
	MySQL  Type = "mysql"
	SQLite Type = "sqlite"
)

// Config describes one data source. MySQL sources use Host/Port/User/
// Password/Database, SQLite sources use Path.
type Config struct {
	Name        string        `json:"name" yaml:"name"`
	Type        Type          `json:"type" yaml:"type"`
	Host        string        `json:"host" yaml:"host"`
	Port        string        `json:"port" yaml:"port"`
	User        string        `json:"user" yaml:"user"`
	Password    string        `json:"password" yaml:"password"`
	Database    string        `json:"db" yaml:"db"`
	Path        string        `json:"path" yaml:"path"`
	MaxOpenCons int           `json:"maxOpenCons" yaml:"maxOpenCons"`
	MaxIdleCons int           `json:"maxIdleCons" yaml:"maxIdleCons"`
	Params      string        `json:"params" yaml:"params"` // appended to the DSN query string
	SchemaTTL   time.Duration `json:"schemaTTL" yaml:"schemaTTL"`
	Binlog      *BinlogConfig `json:"binlog,omitempty" yaml:"binlog,omitempty"`
}

// DSN returns the driver name and data source name for sqlx.
func (c Config) DSN() (string, string, error) {
	var dsn string
	switch c.Type {
	case MySQL, "":
		cfg := mysql.NewConfig()
		cfg.User = c.User
		cfg.Passwd = c.Password
		cfg.Net = "tcp"
		port := c.Port
		if port == "" {
			port = "3306"
		}
		cfg.Addr = net.JoinHostPort(c.Host, port)
		cfg.DBName = c.Database
		dsn = cfg.FormatDSN()
		return "mysql", withParams(dsn, c.Params), nil
	case SQLite:
		if c.Path == "" {
			return "", "", errors.Errorf("data source %s: sqlite path is required", c.Name)
		}
		dsn = "file:" + c.Path
		return "sqlite3", withParams(dsn, c.Params), nil
	}
	return "", "", errors.Errorf("data source %s: unsupported type %q", c.Name, c.Type)
}

func withParams(dsn, params string) string {
	if params == "" {
		return dsn
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&" + params
	}
	return dsn + "?" + params
}

// Redacted is the config without its password, for logging.
func (c Config) Redacted() Config {
	if c.Password != "" {
		c.Password = "******"
	}
	return c
}
