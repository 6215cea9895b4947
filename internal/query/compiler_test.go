package query

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-adp-assistant/internal/models"
	"github.com/noah-isme/sma-adp-assistant/pkg/clock"
	appErrors "github.com/noah-isme/sma-adp-assistant/pkg/errors"
)

const selectPrefix = "SELECT " + studentColumns + " FROM alumnos a "

func newTestCompiler() *Compiler {
	return NewCompiler(NewFieldMapper(models.SchoolSchema()),
		clock.Fixed{T: time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)},
		Options{DefaultLimit: 100, MaxLimit: 500})
}

func TestCompileSearchAlumnosOnly(t *testing.T) {
	c := newTestCompiler()
	stmt, err := c.Search([]models.Criterion{{Table: models.TableAlumnos, Field: "apellido", Operator: models.OpEq, Value: "garcia"}}, 0)
	require.NoError(t, err)
	assert.Equal(t, selectPrefix+"LEFT JOIN datos_escolares de ON a.id = de.alumno_id WHERE 1=1 AND a.nombre LIKE ? ORDER BY a.nombre LIMIT 100", stmt.SQL)
	assert.Equal(t, []interface{}{"%GARCIA%"}, stmt.Args)
	assert.False(t, stmt.Aggregate)
}

func TestCompileSearchContinuationInjection(t *testing.T) {
	c := newTestCompiler()
	stmt, err := c.Search([]models.Criterion{
		{Table: models.TableAlumnos, Field: models.FieldID, Operator: models.OpIn, Value: []interface{}{int64(1), int64(3)}},
		{Table: models.TableDatosEscolares, Field: models.FieldTurno, Operator: models.OpEq, Value: "matutino"},
	}, 900)
	require.NoError(t, err)
	assert.Equal(t, selectPrefix+"INNER JOIN datos_escolares de ON a.id = de.alumno_id WHERE 1=1 AND a.id IN (?, ?) AND de.turno = ? ORDER BY a.nombre LIMIT 500", stmt.SQL)
	assert.Equal(t, []interface{}{int64(1), int64(3), "MATUTINO"}, stmt.Args)
	assert.Equal(t, selectPrefix+"INNER JOIN datos_escolares de ON a.id = de.alumno_id WHERE 1=1 AND a.id IN (1, 3) AND de.turno = 'MATUTINO' ORDER BY a.nombre LIMIT 500", stmt.Display())
}

func TestCompileOperators(t *testing.T) {
	c := newTestCompiler()
	cases := []struct {
		name string
		in   models.Criterion
		sql  string
		args []interface{}
	}{
		{"like keeps wildcard", models.Criterion{Table: "alumnos", Field: "nombre", Operator: models.OpLike, Value: "AN%"}, "a.nombre LIKE ?", []interface{}{"AN%"}},
		{"starts with escapes", models.Criterion{Table: "alumnos", Field: "curp", Operator: models.OpStartsWith, Value: "ga_"}, `a.curp LIKE ? ESCAPE '\'`, []interface{}{`GA\_%`}},
		{"ends with", models.Criterion{Table: "alumnos", Field: "nombre", Operator: models.OpEndsWith, Value: "ana"}, `a.nombre LIKE ? ESCAPE '\'`, []interface{}{"%ANA"}},
		{"between list", models.Criterion{Table: "datos_escolares", Field: "grado", Operator: models.OpBetween, Value: []interface{}{int64(2), int64(4)}}, "de.grado BETWEEN ? AND ?", []interface{}{int64(2), int64(4)}},
		{"between string", models.Criterion{Field: "edad", Operator: models.OpBetween, Value: "8-10"}, "CAST((julianday(?) - julianday(a.fecha_nacimiento)) / 365.25 AS INTEGER) BETWEEN ? AND ?", []interface{}{"2024-09-01", int64(8), int64(10)}},
		{"null", models.Criterion{Table: "alumnos", Field: "matricula", Operator: models.OpIsNull}, "a.matricula IS NULL", nil},
		{"not null", models.Criterion{Table: "alumnos", Field: "matricula", Operator: models.OpIsNotNull}, "a.matricula IS NOT NULL", nil},
		{"not in strings", models.Criterion{Table: "datos_escolares", Field: "grupo", Operator: models.OpNotIn, Value: "a, c"}, "de.grupo NOT IN (?, ?)", []interface{}{"A", "C"}},
		{"empty in", models.Criterion{Table: "alumnos", Field: "id", Operator: models.OpIn, Value: []interface{}{}}, "1=0", nil},
		{"age compare", models.Criterion{Field: "edad", Operator: models.OpGte, Value: int64(9)}, "CAST((julianday(?) - julianday(a.fecha_nacimiento)) / 365.25 AS INTEGER) >= ?", []interface{}{"2024-09-01", int64(9)}},
		{"not equal", models.Criterion{Table: "datos_escolares", Field: "turno", Operator: models.OpNotEq, Value: "tarde"}, "de.turno != ?", []interface{}{"VESPERTINO"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resolved, err := c.Mapper().Resolve(tc.in)
			require.NoError(t, err)
			f, err := c.Condition(resolved)
			require.NoError(t, err)
			assert.Equal(t, tc.sql, f.sql)
			assert.Equal(t, tc.args, f.args)
		})
	}
}

func TestCompileGradesNeverStringCompared(t *testing.T) {
	c := newTestCompiler()
	cases := []struct {
		in       models.Criterion
		contains string
		args     []interface{}
	}{
		{models.Criterion{Table: "datos_escolares", Field: "calificaciones", Operator: models.OpJSONPromedio, Value: ">=8.5"}, studentAverage + " >= ?", []interface{}{8.5}},
		{models.Criterion{Table: "datos_escolares", Field: "calificaciones", Operator: models.OpJSONPromedio, Value: int64(8)}, studentAverage + " >= ?", []interface{}{8.0}},
		{models.Criterion{Table: "datos_escolares", Field: "calificaciones", Operator: models.OpJSONMateria, Value: "matematicas:<6"}, "EXISTS (SELECT 1 FROM " + gradesSource + " WHERE " + subjectName + " LIKE ? AND " + subjectAverage + " < ?)", []interface{}{"%MATEMATICAS%", 6.0}},
		{models.Criterion{Table: "datos_escolares", Field: "calificaciones", Operator: models.OpJSONContains, Value: "historia"}, "EXISTS (SELECT 1 FROM " + gradesSource + " WHERE " + subjectName + " LIKE ?)", []interface{}{"%HISTORIA%"}},
		{models.Criterion{Table: "datos_escolares", Field: "calificaciones", Operator: models.OpEq, Value: "[]"}, emptyGrades, nil},
		{models.Criterion{Table: "datos_escolares", Field: "calificaciones", Operator: models.OpNotEq, Value: "[]"}, nonEmptyGrades, nil},
		{models.Criterion{Table: "datos_escolares", Field: "calificaciones", Operator: models.OpIsNull}, emptyGrades, nil},
	}
	for _, tc := range cases {
		stmt, err := c.Search([]models.Criterion{tc.in}, 10)
		require.NoError(t, err, tc.in.String())
		assert.Contains(t, stmt.SQL, tc.contains)
		assert.NotContains(t, stmt.SQL, "de.calificaciones = ?")
		assert.NotContains(t, stmt.SQL, "de.calificaciones LIKE")
		assert.Equal(t, tc.args, stmt.Args)
	}

	_, err := c.Search([]models.Criterion{{Table: "datos_escolares", Field: "calificaciones", Operator: models.OpLike, Value: "MATE"}}, 10)
	assert.True(t, errors.Is(err, appErrors.ErrGradesOperator))
	_, err = c.Search([]models.Criterion{{Table: "datos_escolares", Field: "calificaciones", Operator: models.OpEq, Value: "9"}}, 10)
	assert.True(t, errors.Is(err, appErrors.ErrGradesOperator))
	_, err = c.Search([]models.Criterion{{Table: "alumnos", Field: "nombre", Operator: models.OpJSONPromedio, Value: "9"}}, 10)
	assert.True(t, errors.Is(err, appErrors.ErrOperatorMismatch))
}

func TestCompileCountAll(t *testing.T) {
	c := newTestCompiler()
	stmt, err := c.Statistics(models.StatisticsParams{Kind: models.StatCount})
	require.NoError(t, err)
	assert.Equal(t, "SELECT COUNT(*) AS total FROM alumnos a WHERE 1=1", stmt.SQL)
	assert.True(t, stmt.Aggregate)
	assert.Empty(t, stmt.Args)

	stmt, err = c.Count([]models.Criterion{{Field: "grado", Operator: models.OpIn, Value: []interface{}{int64(3), int64(4)}}})
	require.NoError(t, err)
	assert.Equal(t, "SELECT COUNT(DISTINCT a.id) AS total FROM alumnos a INNER JOIN datos_escolares de ON a.id = de.alumno_id WHERE 1=1 AND de.grado IN (?, ?)", stmt.SQL)
}

func TestCompileDistribution(t *testing.T) {
	c := newTestCompiler()
	stmt, err := c.Statistics(models.StatisticsParams{Kind: models.StatDistribution, GroupBy: "grado"})
	require.NoError(t, err)
	assert.Equal(t, "SELECT de.grado AS grado, COUNT(*) AS cantidad FROM alumnos a INNER JOIN datos_escolares de ON a.id = de.alumno_id WHERE 1=1 GROUP BY de.grado ORDER BY de.grado", stmt.SQL)

	stmt, err = c.Statistics(models.StatisticsParams{Kind: models.StatDistribution, GroupBy: "edad",
		Filter: models.CriteriaList{{Field: "turno", Operator: models.OpEq, Value: "matutino"}}})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(stmt.SQL, "AND de.turno = ? GROUP BY 1 ORDER BY 1"), stmt.SQL)
	assert.Equal(t, []interface{}{"2024-09-01", "MATUTINO"}, stmt.Args)

	_, err = c.Statistics(models.StatisticsParams{Kind: models.StatDistribution})
	assert.True(t, errors.Is(err, appErrors.ErrMissingParameter))
	_, err = c.Statistics(models.StatisticsParams{Kind: models.StatDistribution, GroupBy: "calificaciones"})
	assert.True(t, errors.Is(err, appErrors.ErrGradesOperator))
}

func TestCompileAverages(t *testing.T) {
	c := newTestCompiler()

	stmt, err := c.Statistics(models.StatisticsParams{Kind: models.StatAverage, Field: "edad"})
	require.NoError(t, err)
	assert.Equal(t, "SELECT ROUND(AVG((julianday(?) - julianday(a.fecha_nacimiento)) / 365.25), 2) AS promedio_edad, COUNT(*) AS alumnos FROM alumnos a WHERE 1=1 AND a.fecha_nacimiento IS NOT NULL", stmt.SQL)
	assert.Equal(t, []interface{}{"2024-09-01"}, stmt.Args)

	stmt, err = c.Statistics(models.StatisticsParams{Kind: models.StatAverage, Field: "calificaciones", GroupBy: "grupo"})
	require.NoError(t, err)
	assert.Contains(t, stmt.SQL, "SELECT sp.grupo AS grupo, ROUND(AVG(sp.promedio_alumno), 2) AS promedio")
	assert.Contains(t, stmt.SQL, "SELECT a.id AS alumno_id, de.grupo AS grupo, "+studentAverage+" AS promedio_alumno")
	assert.True(t, strings.HasSuffix(stmt.SQL, "GROUP BY sp.grupo ORDER BY sp.grupo"))

	stmt, err = c.Statistics(models.StatisticsParams{Kind: models.StatAverage, GroupBy: "materia"})
	require.NoError(t, err)
	assert.Contains(t, stmt.SQL, "AS materia")
	assert.True(t, strings.HasSuffix(stmt.SQL, "GROUP BY materia ORDER BY materia"))

	_, err = c.Statistics(models.StatisticsParams{Kind: models.StatAverage, Field: "nombre"})
	assert.True(t, errors.Is(err, appErrors.ErrOperatorMismatch))
}

func TestCompileComparison(t *testing.T) {
	c := newTestCompiler()
	stmt, err := c.Statistics(models.StatisticsParams{Kind: models.StatComparison, GroupBy: "turno"})
	require.NoError(t, err)
	assert.Equal(t, "SELECT de.turno AS turno, COUNT(*) AS cantidad, ROUND(AVG("+studentAverage+"), 2) AS promedio FROM alumnos a INNER JOIN datos_escolares de ON a.id = de.alumno_id WHERE 1=1 GROUP BY de.turno ORDER BY de.turno", stmt.SQL)

	_, err = c.Statistics(models.StatisticsParams{Kind: models.StatComparison})
	assert.True(t, errors.Is(err, appErrors.ErrMissingParameter))
}

func TestCompileGradesFilter(t *testing.T) {
	c := newTestCompiler()
	no := false
	stmt, err := c.GradesFilter(models.GradesFilterParams{HasGrades: &no})
	require.NoError(t, err)
	assert.Equal(t, selectPrefix+"LEFT JOIN datos_escolares de ON a.id = de.alumno_id WHERE 1=1 AND "+emptyGrades+" ORDER BY a.nombre LIMIT 100", stmt.SQL)

	yes := true
	stmt, err = c.GradesFilter(models.GradesFilterParams{HasGrades: &yes, Limit: 5})
	require.NoError(t, err)
	assert.Contains(t, stmt.SQL, "INNER JOIN")
	assert.Contains(t, stmt.SQL, nonEmptyGrades)
	assert.True(t, strings.HasSuffix(stmt.SQL, "LIMIT 5"))

	_, err = c.GradesFilter(models.GradesFilterParams{})
	assert.True(t, errors.Is(err, appErrors.ErrMissingParameter))
}

func TestCompileListing(t *testing.T) {
	c := newTestCompiler()
	stmt, err := c.Listing(models.ListingParams{OrderBy: "grado"})
	require.NoError(t, err)
	assert.Equal(t, selectPrefix+"LEFT JOIN datos_escolares de ON a.id = de.alumno_id WHERE 1=1 ORDER BY de.grado, a.nombre LIMIT 100", stmt.SQL)

	_, err = c.Listing(models.ListingParams{OrderBy: "calificaciones"})
	assert.Error(t, err)
}

func TestCompileIsDeterministic(t *testing.T) {
	c := newTestCompiler()
	criteria := []models.Criterion{{Field: "grado", Operator: models.OpEq, Value: "3"}}
	first, err := c.Search(criteria, 0)
	require.NoError(t, err)
	second, err := c.Search(criteria, 0)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
