// Package mysql provides the MySQL-protocol backends: MySQL, Galera and
// TDSQL. All of them run transactions at REPEATABLE READ through
// go-sql-driver/mysql.
package mysql

import (
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"
	driver "github.com/go-sql-driver/mysql"

	"github.com/seantiz/dbcop/internal/backend"
	"github.com/seantiz/dbcop/internal/backend/sqldb"
	"github.com/seantiz/dbcop/internal/model"
)

// Registry names.
const (
	MySQL  = "mysql"
	Galera = "galera"
	TDSQL  = "tdsql"
)

// TDSQL deployments used by the harness ship with these credentials.
const (
	tdsqlUser     = "test"
	tdsqlPassword = "test123"
)

// DSN builds a go-sql-driver connection string for addr.
func DSN(addr, user, password string) string {
	cfg := driver.NewConfig()
	cfg.User = user
	cfg.Passwd = password
	cfg.Net = "tcp"
	cfg.Addr = addr
	cfg.Loc = time.UTC
	cfg.Timeout = 10 * time.Second
	// UPDATE reports matched rows, so rewriting an equal value counts.
	cfg.ClientFoundRows = true
	return cfg.FormatDSN()
}

// Dialect returns the statements shared by every MySQL-protocol product.
func Dialect(label string) sqldb.Dialect {
	return sqldb.Dialect{
		Driver:    "mysql",
		Label:     label,
		Isolation: sql.LevelRepeatableRead,
		DSN:       DSN,
		Setup: []string{
			"CREATE DATABASE IF NOT EXISTS dbcop",
			"DROP TABLE IF EXISTS dbcop.variables",
			"CREATE TABLE IF NOT EXISTS dbcop.variables (var BIGINT(64) UNSIGNED NOT NULL PRIMARY KEY, val BIGINT(64) UNSIGNED NOT NULL)",
		},
		Insert:  "INSERT INTO dbcop.variables (var, val) VALUES (?, 0)",
		Select:  "SELECT val FROM dbcop.variables WHERE var = ?",
		Update:  "UPDATE dbcop.variables SET val = ? WHERE var = ?",
		Cleanup: []string{"DROP DATABASE dbcop"},
	}
}

// Backends lists the registry entries of this package.
var Backends = []backend.BackendInfo{
	{Name: MySQL, Isolation: "repeatable read", Description: "MySQL / InnoDB"},
	{Name: Galera, Isolation: "repeatable read", Description: "MariaDB Galera cluster"},
	{Name: TDSQL, Isolation: "repeatable read", Description: "Tencent TDSQL (MySQL protocol)"},
}

// Factory returns the factory for the named backend.
func Factory(name string) backend.Factory {
	label, defUser, defPassword := labelOf(name), "root", ""
	if name == TDSQL {
		defUser, defPassword = tdsqlUser, tdsqlPassword
	}
	return func(nodes []model.Node, opts backend.Options) (backend.Cluster, error) {
		if label == "" {
			return nil, errors.Newf("mysql: unknown flavour %q", name)
		}
		if opts.DriverLogger != nil {
			if err := driver.SetLogger(opts.DriverLogger); err != nil {
				return nil, errors.Wrap(err, "mysql: set driver logger")
			}
		}
		if opts.User == "" {
			opts.User, opts.Password = defUser, defPassword
		}
		return sqldb.New(Dialect(label), nodes, opts), nil
	}
}

func labelOf(name string) string {
	switch name {
	case MySQL:
		return "MySQL"
	case Galera:
		return "Galera"
	case TDSQL:
		return "TDSQL"
	}
	return ""
}
