// Package postgres provides the PostgreSQL backends through lib/pq:
// "postgres" runs at REPEATABLE READ (snapshot isolation) and
// "postgres-ser" at SERIALIZABLE.
package postgres

import (
	"database/sql"
	"net/url"

	"github.com/cockroachdb/errors"
	_ "github.com/lib/pq"

	"github.com/seantiz/dbcop/internal/backend"
	"github.com/seantiz/dbcop/internal/backend/sqldb"
	"github.com/seantiz/dbcop/internal/model"
)

// Registry names.
const (
	Postgres    = "postgres"
	PostgresSER = "postgres-ser"
)

// Database is the database every node connection opens.
const Database = "postgres"

// DSN builds a lib/pq connection URL for addr.
func DSN(addr, user, password string) string {
	u := url.URL{
		Scheme:   "postgres",
		Host:     addr,
		Path:     "/" + Database,
		RawQuery: "sslmode=disable&connect_timeout=10",
	}
	if password != "" {
		u.User = url.UserPassword(user, password)
	} else if user != "" {
		u.User = url.User(user)
	}
	return u.String()
}

// Dialect returns the PostgreSQL statements with the given label and
// isolation level.
func Dialect(label string, level sql.IsolationLevel) sqldb.Dialect {
	return sqldb.Dialect{
		Driver:    "postgres",
		Label:     label,
		Isolation: level,
		DSN:       DSN,
		Setup: []string{
			"CREATE SCHEMA IF NOT EXISTS dbcop",
			"DROP TABLE IF EXISTS dbcop.variables",
			"CREATE TABLE IF NOT EXISTS dbcop.variables (var BIGINT NOT NULL PRIMARY KEY, val BIGINT NOT NULL)",
		},
		Insert:  "INSERT INTO dbcop.variables (var, val) VALUES ($1, 0)",
		Select:  "SELECT val FROM dbcop.variables WHERE var = $1",
		Update:  "UPDATE dbcop.variables SET val = $1 WHERE var = $2",
		Cleanup: []string{"DROP SCHEMA dbcop CASCADE"},
	}
}

// Backends lists the registry entries of this package.
var Backends = []backend.BackendInfo{
	{Name: Postgres, Isolation: "repeatable read", Description: "PostgreSQL, snapshot isolation"},
	{Name: PostgresSER, Isolation: "serializable", Description: "PostgreSQL, serializable snapshot isolation"},
}

// Factory returns the factory for the named backend.
func Factory(name string) backend.Factory {
	return func(nodes []model.Node, opts backend.Options) (backend.Cluster, error) {
		var d sqldb.Dialect
		switch name {
		case Postgres:
			d = Dialect("PostgreSQL", sql.LevelRepeatableRead)
		case PostgresSER:
			d = Dialect("PostgreSQL-SER", sql.LevelSerializable)
		default:
			return nil, errors.Newf("postgres: unknown flavour %q", name)
		}
		if opts.User == "" {
			opts.User = "postgres"
		}
		return sqldb.New(d, nodes, opts), nil
	}
}
