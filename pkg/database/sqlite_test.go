package database

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-adp-assistant/pkg/config"
)

func TestReadOnlyDSN(t *testing.T) {
	assert.Equal(t, "file:alumnos.db?mode=ro&_pragma=busy_timeout(2000)", readOnlyDSN("alumnos.db", 2*time.Second))
	assert.Equal(t, "file:x.db?mode=ro&_pragma=busy_timeout(5000)", readOnlyDSN("x.db", 0))
}

func TestNewSQLiteRejectsWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "escuela.db")
	rw, err := NewSQLiteWritable(path)
	require.NoError(t, err)
	_, err = rw.Exec(`CREATE TABLE alumnos (id INTEGER PRIMARY KEY, nombre TEXT NOT NULL)`)
	require.NoError(t, err)
	require.NoError(t, rw.Close())

	db, err := NewSQLite(config.DatabaseConfig{Path: path, MaxOpenConns: 2})
	require.NoError(t, err)
	defer db.Close()

	var count int
	require.NoError(t, db.Get(&count, `SELECT COUNT(*) FROM alumnos`))
	assert.Equal(t, 0, count)

	_, err = db.Exec(`INSERT INTO alumnos (nombre) VALUES ('X')`)
	assert.Error(t, err)
}

func TestNewSQLiteRequiresPath(t *testing.T) {
	_, err := NewSQLite(config.DatabaseConfig{})
	assert.Error(t, err)
}
