package query

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-adp-assistant/internal/models"
	appErrors "github.com/noah-isme/sma-adp-assistant/pkg/errors"
)

func TestGuardRejectsUnsafeStatements(t *testing.T) {
	g := Guard{DefaultLimit: 100, MaxLimit: 500}
	for _, sql := range []string{
		"DELETE FROM alumnos",
		"SELECT * FROM alumnos; DROP TABLE alumnos",
		"SELECT * FROM alumnos -- comentario",
		"SELECT * FROM alumnos /* x */",
		"WITH x AS (SELECT 1) SELECT * FROM x",
		"SELECT * FROM alumnos WHERE id IN (SELECT id FROM alumnos) UNION SELECT sql FROM sqlite_master WHERE 1; ",
		"select replace(nombre, 'A', 'B') from alumnos",
		"",
	} {
		err := g.Check(sql)
		require.Error(t, err, sql)
		assert.True(t, errors.Is(err, appErrors.ErrUnsafeSQL), sql)
	}
}

func TestGuardAllowsSafeStatements(t *testing.T) {
	g := Guard{}
	assert.NoError(t, g.Check("SELECT COUNT(*) AS total FROM alumnos a WHERE 1=1;"))
	assert.NoError(t, g.Check("SELECT a.fecha_registro, a.updated FROM alumnos a WHERE a.nombre = 'DROP; --'"))
	assert.NoError(t, g.Check(compiledSampleSQL(t)))
}

func compiledSampleSQL(t *testing.T) string {
	stmt, err := newTestCompiler().Statistics(statisticsForGuard())
	require.NoError(t, err)
	return stmt.SQL
}

func TestGuardEnforcesLimit(t *testing.T) {
	g := Guard{DefaultLimit: 100, MaxLimit: 500}

	stmt, err := g.Enforce(Statement{SQL: "SELECT a.id FROM alumnos a;"})
	require.NoError(t, err)
	assert.Equal(t, "SELECT a.id FROM alumnos a LIMIT 100", stmt.SQL)

	stmt, err = g.Enforce(Statement{SQL: "SELECT a.id FROM alumnos a LIMIT 9999"})
	require.NoError(t, err)
	assert.Equal(t, "SELECT a.id FROM alumnos a LIMIT 500", stmt.SQL)

	stmt, err = g.Enforce(Statement{SQL: "SELECT a.id FROM alumnos a LIMIT 20"})
	require.NoError(t, err)
	assert.Equal(t, "SELECT a.id FROM alumnos a LIMIT 20", stmt.SQL)

	stmt, err = g.Enforce(Statement{SQL: "SELECT a.id FROM alumnos a LIMIT 0"})
	require.NoError(t, err)
	assert.Equal(t, "SELECT a.id FROM alumnos a LIMIT 1", stmt.SQL)

	stmt, err = g.Enforce(Statement{SQL: "SELECT COUNT(*) AS total FROM alumnos a", Aggregate: true})
	require.NoError(t, err)
	assert.Equal(t, "SELECT COUNT(*) AS total FROM alumnos a", stmt.SQL)
}

func statisticsForGuard() models.StatisticsParams {
	return models.StatisticsParams{Kind: models.StatAverage, GroupBy: "materia",
		Filter: models.CriteriaList{{Field: "calificaciones", Operator: models.OpJSONMateria, Value: "ESPAÑOL:8"}}}
}
