package query

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/noah-isme/sma-adp-assistant/internal/models"
	"github.com/noah-isme/sma-adp-assistant/pkg/clock"
	appErrors "github.com/noah-isme/sma-adp-assistant/pkg/errors"
)

const (
	studentColumns = "a.id, a.curp, a.nombre, a.matricula, a.fecha_nacimiento, a.fecha_registro, " +
		"de.ciclo_escolar, de.grado, de.grupo, de.turno, de.escuela, de.cct, de.calificaciones"

	gradesSource   = "json_each(CASE WHEN json_valid(de.calificaciones) THEN de.calificaciones ELSE '[]' END) je"
	subjectAverage = "CAST(json_extract(je.value, '$.promedio') AS REAL)"
	subjectName    = "UPPER(json_extract(je.value, '$.nombre'))"
	validSubject   = "json_extract(je.value, '$.promedio') IS NOT NULL AND " + subjectAverage + " <> 0"

	// studentAverage is the mean of one student's non-zero subject averages.
	studentAverage = "(SELECT AVG(" + subjectAverage + ") FROM " + gradesSource + " WHERE " + validSubject + ")"

	emptyGrades    = "(de.calificaciones IS NULL OR TRIM(de.calificaciones) = '' OR de.calificaciones = '[]')"
	nonEmptyGrades = "(de.calificaciones IS NOT NULL AND TRIM(de.calificaciones) <> '' AND de.calificaciones <> '[]')"

	joinSchool = " datos_escolares de ON a.id = de.alumno_id"
)

// Options bound the LIMIT of row-returning statements.
type Options struct {
	DefaultLimit int
	MaxLimit     int
}

// Compiler turns catalog action parameters into Statements.
type Compiler struct {
	mapper *FieldMapper
	clock  clock.Clock
	opts   Options
}

// NewCompiler constructs a compiler.
func NewCompiler(mapper *FieldMapper, clk clock.Clock, opts Options) *Compiler {
	if clk == nil {
		clk = clock.System{}
	}
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = 100
	}
	if opts.MaxLimit < opts.DefaultLimit {
		opts.MaxLimit = opts.DefaultLimit
	}
	return &Compiler{mapper: mapper, clock: clk, opts: opts}
}

// Mapper exposes the field mapper.
func (c *Compiler) Mapper() *FieldMapper { return c.mapper }

// Limit clamps a requested limit to the configured bounds.
func (c *Compiler) Limit(requested int) int {
	if requested <= 0 {
		return c.opts.DefaultLimit
	}
	if requested > c.opts.MaxLimit {
		return c.opts.MaxLimit
	}
	return requested
}

// Search compiles BUSCAR_UNIVERSAL.
func (c *Compiler) Search(criteria []models.Criterion, limit int) (Statement, error) {
	resolved, err := c.resolveAll(criteria)
	if err != nil {
		return Statement{}, err
	}
	b := &builder{}
	b.write("SELECT ", studentColumns, " FROM alumnos a ", joinKind(resolved), " JOIN", joinSchool, " WHERE 1=1")
	if err := c.writeConditions(b, resolved); err != nil {
		return Statement{}, err
	}
	b.write(" ORDER BY a.nombre LIMIT ", strconv.Itoa(c.Limit(limit)))
	return b.statement("search", false), nil
}

// Count compiles a count over the criteria; CONTAR_UNIVERSAL and conteo share it.
func (c *Compiler) Count(criteria []models.Criterion) (Statement, error) {
	resolved, err := c.resolveAll(criteria)
	if err != nil {
		return Statement{}, err
	}
	b := &builder{}
	if touchesSchool(resolved) {
		b.write("SELECT COUNT(DISTINCT a.id) AS total FROM alumnos a INNER JOIN", joinSchool, " WHERE 1=1")
	} else {
		b.write("SELECT COUNT(*) AS total FROM alumnos a WHERE 1=1")
	}
	if err := c.writeConditions(b, resolved); err != nil {
		return Statement{}, err
	}
	return b.statement("count", true), nil
}

// Statistics compiles CALCULAR_ESTADISTICA.
func (c *Compiler) Statistics(p models.StatisticsParams) (Statement, error) {
	filters, err := c.resolveAll(p.Filter)
	if err != nil {
		return Statement{}, err
	}
	switch p.Kind {
	case models.StatCount:
		if p.GroupBy != "" {
			return c.distribution(p.GroupBy, filters)
		}
		return c.Count(filters)
	case models.StatDistribution:
		if p.GroupBy == "" {
			return Statement{}, appErrors.Clone(appErrors.ErrMissingParameter, "distribucion requiere agrupar_por")
		}
		return c.distribution(p.GroupBy, filters)
	case models.StatAverage:
		return c.average(p.Field, p.GroupBy, filters)
	case models.StatComparison:
		if p.GroupBy == "" {
			return Statement{}, appErrors.Clone(appErrors.ErrMissingParameter, "comparacion requiere agrupar_por")
		}
		return c.comparison(p.Field, p.GroupBy, filters)
	}
	return Statement{}, appErrors.Clone(appErrors.ErrMissingParameter, fmt.Sprintf("tipo de estadística desconocido: %q", p.Kind))
}

// GradesFilter compiles FILTRAR_POR_CALIFICACIONES.
func (c *Compiler) GradesFilter(p models.GradesFilterParams) (Statement, error) {
	if p.HasGrades == nil {
		return Statement{}, appErrors.Clone(appErrors.ErrMissingParameter, "tiene_calificaciones es obligatorio")
	}
	resolved, err := c.resolveAll(p.Filter)
	if err != nil {
		return Statement{}, err
	}
	join, cond := "LEFT", emptyGrades
	if *p.HasGrades {
		join, cond = "INNER", nonEmptyGrades
	}
	b := &builder{}
	b.write("SELECT ", studentColumns, " FROM alumnos a ", join, " JOIN", joinSchool, " WHERE 1=1 AND ", cond)
	if err := c.writeConditions(b, resolved); err != nil {
		return Statement{}, err
	}
	b.write(" ORDER BY a.nombre LIMIT ", strconv.Itoa(c.Limit(int(p.Limit))))
	return b.statement("grades_filter", false), nil
}

// Listing compiles GENERAR_LISTADO_COMPLETO.
func (c *Compiler) Listing(p models.ListingParams) (Statement, error) {
	resolved, err := c.resolveAll(p.Filter)
	if err != nil {
		return Statement{}, err
	}
	order := "a.nombre"
	if p.OrderBy != "" {
		table, field, err := c.mapper.Column(p.OrderBy)
		if err != nil {
			return Statement{}, err
		}
		switch field {
		case models.FieldEdad:
			order = "a.fecha_nacimiento DESC"
		case models.FieldCalificaciones:
			return Statement{}, appErrors.Clone(appErrors.ErrGradesOperator, "no se puede ordenar por calificaciones")
		default:
			order = alias(table) + "." + field + ", a.nombre"
		}
	}
	b := &builder{}
	b.write("SELECT ", studentColumns, " FROM alumnos a ", joinKind(resolved), " JOIN", joinSchool, " WHERE 1=1")
	if err := c.writeConditions(b, resolved); err != nil {
		return Statement{}, err
	}
	b.write(" ORDER BY ", order, " LIMIT ", strconv.Itoa(c.Limit(int(p.Limit))))
	return b.statement("listing", false), nil
}

func (c *Compiler) distribution(groupBy string, filters []models.Criterion) (Statement, error) {
	group, name, err := c.groupColumn(groupBy)
	if err != nil {
		return Statement{}, err
	}
	b := &builder{}
	b.write("SELECT ").frag(group.expr).write(" AS ", name, ", COUNT(*) AS cantidad FROM alumnos a")
	if group.table == models.TableDatosEscolares || touchesSchool(filters) {
		b.write(" INNER JOIN", joinSchool)
	}
	b.write(" WHERE 1=1")
	if err := c.writeConditions(b, filters); err != nil {
		return Statement{}, err
	}
	by := group.orderKey()
	b.write(" GROUP BY ", by, " ORDER BY ", by)
	return b.statement("distribution", true), nil
}

func (c *Compiler) average(field, groupBy string, filters []models.Criterion) (Statement, error) {
	if field == "" {
		field = models.FieldCalificaciones
	}
	table, column, err := c.mapper.Column(field)
	if err != nil {
		return Statement{}, err
	}
	if column == models.FieldCalificaciones {
		if isSubjectGrouping(groupBy) {
			return c.subjectAverages(filters)
		}
		return c.gradeAverage(groupBy, filters)
	}

	var metric fragment
	switch {
	case column == models.FieldEdad:
		metric = c.ageYears()
	default:
		col, ok := c.mapper.Schema().Column(table, column)
		if !ok || !col.Numeric() {
			return Statement{}, appErrors.Clone(appErrors.ErrOperatorMismatch, fmt.Sprintf("no se puede promediar %s", column))
		}
		metric = frag(alias(table) + "." + column)
	}
	b := &builder{}
	b.write("SELECT ")
	var group *groupExpr
	if groupBy != "" {
		g, name, err := c.groupColumn(groupBy)
		if err != nil {
			return Statement{}, err
		}
		group = &g
		b.frag(g.expr).write(" AS ", name, ", ")
	}
	b.write("ROUND(AVG(").frag(metric).write("), 2) AS promedio_", column, ", COUNT(*) AS alumnos FROM alumnos a")
	if table == models.TableDatosEscolares || touchesSchool(filters) || (group != nil && group.table == models.TableDatosEscolares) {
		b.write(" INNER JOIN", joinSchool)
	}
	b.write(" WHERE 1=1")
	if column == models.FieldEdad {
		b.write(" AND a.fecha_nacimiento IS NOT NULL")
	}
	if err := c.writeConditions(b, filters); err != nil {
		return Statement{}, err
	}
	if group != nil {
		by := group.orderKey()
		b.write(" GROUP BY ", by, " ORDER BY ", by)
	}
	return b.statement("average", true), nil
}

// gradeAverage is the two-level mean: per-student mean of subject averages,
// then the mean across students.
func (c *Compiler) gradeAverage(groupBy string, filters []models.Criterion) (Statement, error) {
	inner := &builder{}
	inner.write("SELECT a.id AS alumno_id, ")
	outerGroup := ""
	if groupBy != "" {
		g, name, err := c.groupColumn(groupBy)
		if err != nil {
			return Statement{}, err
		}
		inner.frag(g.expr).write(" AS ", name, ", ")
		outerGroup = "sp." + name
	}
	inner.write(studentAverage, " AS promedio_alumno FROM alumnos a INNER JOIN", joinSchool, " WHERE 1=1")
	if err := c.writeConditions(inner, filters); err != nil {
		return Statement{}, err
	}

	b := &builder{}
	b.write("SELECT ")
	if outerGroup != "" {
		b.write(outerGroup, " AS ", strings.TrimPrefix(outerGroup, "sp."), ", ")
	}
	b.write("ROUND(AVG(sp.promedio_alumno), 2) AS promedio, COUNT(*) AS alumnos FROM (")
	b.frag(fragment{sql: inner.sb.String(), args: inner.args})
	b.write(") sp WHERE sp.promedio_alumno IS NOT NULL")
	if outerGroup != "" {
		b.write(" GROUP BY ", outerGroup, " ORDER BY ", outerGroup)
	}
	return b.statement("grade_average", true), nil
}

func (c *Compiler) subjectAverages(filters []models.Criterion) (Statement, error) {
	b := &builder{}
	b.write("SELECT ", subjectName, " AS materia, ROUND(AVG(", subjectAverage, "), 2) AS promedio, COUNT(*) AS registros",
		" FROM alumnos a INNER JOIN", joinSchool, ", ", gradesSource, " WHERE ", validSubject)
	if err := c.writeConditions(b, filters); err != nil {
		return Statement{}, err
	}
	b.write(" GROUP BY materia ORDER BY materia")
	return b.statement("subject_average", true), nil
}

func (c *Compiler) comparison(field, groupBy string, filters []models.Criterion) (Statement, error) {
	g, name, err := c.groupColumn(groupBy)
	if err != nil {
		return Statement{}, err
	}
	metric := frag(studentAverage)
	metricName := "promedio"
	if field != "" {
		table, column, err := c.mapper.Column(field)
		if err != nil {
			return Statement{}, err
		}
		switch {
		case column == models.FieldCalificaciones:
		case column == models.FieldEdad:
			metric, metricName = c.ageYears(), "promedio_edad"
		default:
			col, ok := c.mapper.Schema().Column(table, column)
			if !ok || !col.Numeric() {
				return Statement{}, appErrors.Clone(appErrors.ErrOperatorMismatch, fmt.Sprintf("no se puede comparar el promedio de %s", column))
			}
			metric, metricName = frag(alias(table)+"."+column), "promedio_"+column
		}
	}
	b := &builder{}
	b.write("SELECT ").frag(g.expr).write(" AS ", name, ", COUNT(*) AS cantidad, ROUND(AVG(").frag(metric).write("), 2) AS ", metricName,
		" FROM alumnos a INNER JOIN", joinSchool, " WHERE 1=1")
	if err := c.writeConditions(b, filters); err != nil {
		return Statement{}, err
	}
	by := g.orderKey()
	b.write(" GROUP BY ", by, " ORDER BY ", by)
	return b.statement("comparison", true), nil
}

type groupExpr struct {
	table string
	expr  fragment
	name  string
}

// orderKey is the GROUP BY / ORDER BY key. Expressions with arguments are
// grouped by position so their placeholders are not repeated.
func (g groupExpr) orderKey() string {
	if len(g.expr.args) > 0 {
		return "1"
	}
	return g.expr.sql
}

func (c *Compiler) groupColumn(name string) (groupExpr, string, error) {
	table, field, err := c.mapper.Column(name)
	if err != nil {
		return groupExpr{}, "", err
	}
	switch field {
	case models.FieldCalificaciones:
		return groupExpr{}, "", appErrors.Clone(appErrors.ErrGradesOperator, "no se puede agrupar por calificaciones")
	case models.FieldEdad:
		return groupExpr{table: table, expr: c.age(), name: field}, field, nil
	}
	return groupExpr{table: table, expr: frag(alias(table) + "." + field), name: field}, field, nil
}

func (c *Compiler) resolveAll(criteria []models.Criterion) ([]models.Criterion, error) {
	out := make([]models.Criterion, 0, len(criteria))
	for _, cr := range criteria {
		resolved, err := c.mapper.Resolve(cr)
		if err != nil {
			return nil, err
		}
		out = append(out, resolved)
	}
	return out, nil
}

func (c *Compiler) writeConditions(b *builder, criteria []models.Criterion) error {
	for _, cr := range criteria {
		cond, err := c.Condition(cr)
		if err != nil {
			return err
		}
		b.write(" AND ").frag(cond)
	}
	return nil
}

// today is the clock date bound into age expressions.
func (c *Compiler) today() string {
	return c.clock.Now().Format("2006-01-02")
}

// age is completed years at the clock date.
func (c *Compiler) age() fragment {
	return frag("CAST((julianday(?) - julianday(a.fecha_nacimiento)) / 365.25 AS INTEGER)", c.today())
}

// ageYears is fractional years, used in averages.
func (c *Compiler) ageYears() fragment {
	return frag("(julianday(?) - julianday(a.fecha_nacimiento)) / 365.25", c.today())
}

func (c *Compiler) column(cr models.Criterion) fragment {
	if cr.Field == models.FieldEdad {
		return c.age()
	}
	return frag(alias(cr.Table) + "." + cr.Field)
}

func alias(table string) string {
	if table == models.TableDatosEscolares {
		return "de"
	}
	return "a"
}

func touchesSchool(criteria []models.Criterion) bool {
	for _, cr := range criteria {
		if cr.Table == models.TableDatosEscolares {
			return true
		}
	}
	return false
}

func joinKind(criteria []models.Criterion) string {
	if touchesSchool(criteria) {
		return "INNER"
	}
	return "LEFT"
}

func isSubjectGrouping(groupBy string) bool {
	switch foldKey(groupBy) {
	case "materia", "materias", "asignatura", "asignaturas":
		return true
	}
	return false
}
