package mysql

import (
	"strings"
	"testing"

	driver "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seantiz/dbcop/internal/backend"
	"github.com/seantiz/dbcop/internal/model"
)

func TestDSN(t *testing.T) {
	dsn := DSN("10.0.0.1:3306", "test", "test123")
	cfg, err := driver.ParseDSN(dsn)
	require.NoError(t, err)
	assert.Equal(t, "tcp", cfg.Net)
	assert.Equal(t, "10.0.0.1:3306", cfg.Addr)
	assert.Equal(t, "test", cfg.User)
	assert.Equal(t, "test123", cfg.Passwd)
	assert.Empty(t, cfg.DBName)
	assert.True(t, cfg.ClientFoundRows)
}

func TestDialectStatements(t *testing.T) {
	d := Dialect("MySQL")
	assert.Equal(t, "mysql", d.Driver)
	require.Len(t, d.Setup, 3)
	assert.True(t, strings.HasPrefix(d.Setup[0], "CREATE DATABASE IF NOT EXISTS dbcop"))
	assert.Equal(t, 2, strings.Count(d.Update, "?"))
	assert.Equal(t, 1, strings.Count(d.Select, "?"))
}

func TestFactoryLabels(t *testing.T) {
	nodes := []model.Node{{Addr: "h:3306", ID: 1}}
	for _, info := range Backends {
		c, err := Factory(info.Name)(nodes, backend.Options{})
		require.NoError(t, err, info.Name)
		assert.Equal(t, labelOf(info.Name), c.Label())
		assert.Equal(t, 1, c.NodeCount())
	}

	_, err := Factory("oracle")(nodes, backend.Options{})
	assert.Error(t, err)
}
