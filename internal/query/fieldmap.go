// Package query maps user-level criteria onto the school schema and compiles
// catalog actions into parameterised SQLite statements.
package query

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/noah-isme/sma-adp-assistant/internal/models"
	appErrors "github.com/noah-isme/sma-adp-assistant/pkg/errors"
	"github.com/noah-isme/sma-adp-assistant/pkg/textnorm"
)

// Synonym maps a user term onto a column. When Operator is set it replaces a
// plain equality (e.g. "apellido" searches by substring of nombre).
type Synonym struct {
	Table    string
	Field    string
	Operator models.Operator
}

// DefaultFieldSynonyms is the data-driven synonym table. Keys are folded lowercase.
var DefaultFieldSynonyms = map[string]Synonym{
	"apellido":         {models.TableAlumnos, models.FieldNombre, models.OpLike},
	"apellidos":        {models.TableAlumnos, models.FieldNombre, models.OpLike},
	"apellido_paterno": {models.TableAlumnos, models.FieldNombre, models.OpLike},
	"apellido_materno": {models.TableAlumnos, models.FieldNombre, models.OpLike},
	"nombre_completo":  {models.TableAlumnos, models.FieldNombre, ""},
	"alumno":           {models.TableAlumnos, models.FieldNombre, models.OpLike},
	"estudiante":       {models.TableAlumnos, models.FieldNombre, models.OpLike},
	"nacimiento":       {models.TableAlumnos, models.FieldFechaNac, ""},
	"fecha_nac":        {models.TableAlumnos, models.FieldFechaNac, ""},
	"cumpleanos":       {models.TableAlumnos, models.FieldFechaNac, ""},
	"registro":         {models.TableAlumnos, "fecha_registro", ""},
	"anos":             {models.TableAlumnos, models.FieldEdad, ""},
	"alumno_id":        {models.TableAlumnos, models.FieldID, ""},
	"id_alumno":        {models.TableAlumnos, models.FieldID, ""},
	"grados":           {models.TableDatosEscolares, models.FieldGrado, ""},
	"ano":              {models.TableDatosEscolares, models.FieldGrado, ""},
	"salon":            {models.TableDatosEscolares, models.FieldGrupo, ""},
	"seccion":          {models.TableDatosEscolares, models.FieldGrupo, ""},
	"horario":          {models.TableDatosEscolares, models.FieldTurno, ""},
	"jornada":          {models.TableDatosEscolares, models.FieldTurno, ""},
	"ciclo":            {models.TableDatosEscolares, "ciclo_escolar", ""},
	"clave":            {models.TableDatosEscolares, "cct", ""},
	"clave_escuela":    {models.TableDatosEscolares, "cct", ""},
	"notas":            {models.TableDatosEscolares, models.FieldCalificaciones, ""},
	"boleta":           {models.TableDatosEscolares, models.FieldCalificaciones, ""},
	"promedio":         {models.TableDatosEscolares, models.FieldCalificaciones, models.OpJSONPromedio},
	"materia":          {models.TableDatosEscolares, models.FieldCalificaciones, models.OpJSONMateria},
}

// DefaultTableSynonyms maps user terms onto table names.
var DefaultTableSynonyms = map[string]string{
	"alumnos":         models.TableAlumnos,
	"alumno":          models.TableAlumnos,
	"estudiantes":     models.TableAlumnos,
	"estudiante":      models.TableAlumnos,
	"a":               models.TableAlumnos,
	"datos_escolares": models.TableDatosEscolares,
	"escolares":       models.TableDatosEscolares,
	"inscripcion":     models.TableDatosEscolares,
	"de":              models.TableDatosEscolares,
}

// DefaultValueSynonyms normalise closed-domain values, keyed by field.
var DefaultValueSynonyms = map[string]map[string]string{
	models.FieldTurno: {
		"MATUTINO": "MATUTINO", "MANANA": "MATUTINO", "AM": "MATUTINO", "MATUTINA": "MATUTINO",
		"VESPERTINO": "VESPERTINO", "TARDE": "VESPERTINO", "PM": "VESPERTINO", "VESPERTINA": "VESPERTINO",
	},
}

var gradeWords = map[string]int64{
	"PRIMERO": 1, "PRIMER": 1, "1RO": 1, "1ER": 1, "1ERO": 1,
	"SEGUNDO": 2, "2DO": 2,
	"TERCERO": 3, "TERCER": 3, "3RO": 3, "3ER": 3,
	"CUARTO": 4, "4TO": 4,
	"QUINTO": 5, "5TO": 5,
	"SEXTO": 6, "6TO": 6,
}

var upperFields = map[string]bool{
	models.FieldNombre: true,
	models.FieldCURP:   true,
	models.FieldGrupo:  true,
	models.FieldTurno:  true,
	"escuela":          true,
	"cct":              true,
}

// FieldMapper resolves user criteria onto real (table, field) pairs of the
// live schema and normalises their values.
type FieldMapper struct {
	schema        models.Schema
	fields        map[string]Synonym
	tables        map[string]string
	valueSynonyms map[string]map[string]string
}

// NewFieldMapper builds a mapper with the default synonym tables.
func NewFieldMapper(schema models.Schema) *FieldMapper {
	return &FieldMapper{
		schema:        schema,
		fields:        DefaultFieldSynonyms,
		tables:        DefaultTableSynonyms,
		valueSynonyms: DefaultValueSynonyms,
	}
}

// WithFieldSynonyms merges extra synonyms over the defaults.
func (m *FieldMapper) WithFieldSynonyms(extra map[string]Synonym) *FieldMapper {
	merged := make(map[string]Synonym, len(m.fields)+len(extra))
	for k, v := range m.fields {
		merged[k] = v
	}
	for k, v := range extra {
		merged[foldKey(k)] = v
	}
	clone := *m
	clone.fields = merged
	return &clone
}

// Schema returns the schema the mapper validates against.
func (m *FieldMapper) Schema() models.Schema { return m.schema }

// Column resolves a bare user field name (used by agrupar_por, campo, ordenar_por).
func (m *FieldMapper) Column(name string) (string, string, error) {
	c, err := m.Resolve(models.Criterion{Field: name, Operator: models.OpEq})
	if err != nil {
		return "", "", err
	}
	return c.Table, c.Field, nil
}

// Resolve maps the table and field of c, applies synonym operators and
// normalises the value. The result references a pair present in the schema.
func (m *FieldMapper) Resolve(c models.Criterion) (models.Criterion, error) {
	out := c
	field := foldKey(c.Field)
	table := ""
	if c.Table != "" {
		var ok bool
		if table, ok = m.tables[foldKey(c.Table)]; !ok {
			return c, appErrors.Clone(appErrors.ErrUnknownField, fmt.Sprintf("tabla desconocida: %s", c.Table))
		}
	}
	if idx := strings.Index(field, "."); idx > 0 {
		if t, ok := m.tables[field[:idx]]; ok {
			table = t
		}
		field = field[idx+1:]
	}

	if !m.schema.HasField(orDefault(table, models.TableAlumnos), field) && !m.schema.HasField(orDefault(table, models.TableDatosEscolares), field) {
		if syn, ok := m.fields[field]; ok {
			table = syn.Table
			field = syn.Field
			switch {
			case syn.Operator == "":
			case out.Operator == "" || out.Operator == models.OpEq:
				out.Operator = syn.Operator
			case syn.Operator == models.OpJSONPromedio && isComparison(out.Operator):
				out.Value = foldComparison(out.Operator, out.Value)
				out.Operator = syn.Operator
			}
		}
	}

	if table == "" || !m.schema.HasField(table, field) {
		owner, ok := m.schema.TableOf(field)
		if !ok {
			return c, appErrors.Clone(appErrors.ErrUnknownField, fmt.Sprintf("campo desconocido: %s", c.Field))
		}
		table = owner
	}
	out.Table = table
	out.Field = field
	if out.Operator == "" {
		out.Operator = models.OpEq
	}
	out.Value = m.NormaliseValue(field, out.Value)
	return out, nil
}

// NormaliseValue uppercases and trims text in the closed set of uppercase
// fields, maps value synonyms and parses grade ordinals. Other values only
// have their whitespace trimmed.
func (m *FieldMapper) NormaliseValue(field string, v interface{}) interface{} {
	switch t := v.(type) {
	case []interface{}:
		out := make([]interface{}, len(t))
		for i := range t {
			out[i] = m.NormaliseValue(field, t[i])
		}
		return out
	case []string:
		out := make([]interface{}, len(t))
		for i := range t {
			out[i] = m.NormaliseValue(field, t[i])
		}
		return out
	case string:
		s := strings.TrimSpace(t)
		if field == models.FieldGrado || field == models.FieldEdad || field == models.FieldID {
			if n, ok := ParseGrade(s); ok {
				return n
			}
			return s
		}
		if syn, ok := m.valueSynonyms[field]; ok {
			if mapped, ok := syn[textnorm.Fold(s)]; ok {
				return mapped
			}
		}
		if upperFields[field] {
			return strings.ToUpper(s)
		}
		return s
	case float64:
		if t == float64(int64(t)) && (field == models.FieldGrado || field == models.FieldID) {
			return int64(t)
		}
	case int:
		return int64(t)
	}
	return v
}

var gradeNoise = map[string]bool{"GRADO": true, "DE": true, "ANOS": true, "ANO": true, "EL": true}

// ParseGrade reads a single number such as "3", "3er", "tercero", "tercer
// grado" or "10 años". Ranges and lists ("8-10", "3,4") are not numbers.
func ParseGrade(s string) (int64, bool) {
	var words []string
	for _, w := range textnorm.Words(s) {
		if !gradeNoise[w] {
			words = append(words, w)
		}
	}
	if len(words) != 1 || strings.ContainsAny(s, ",-") {
		return 0, false
	}
	if n, err := strconv.ParseInt(words[0], 10, 64); err == nil {
		return n, true
	}
	n, ok := gradeWords[words[0]]
	return n, ok
}

func foldKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(textnorm.Fold(s)), " ", "_")
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func isComparison(op models.Operator) bool {
	switch op {
	case models.OpGt, models.OpLt, models.OpGte, models.OpLte, models.OpNotEq:
		return true
	}
	return false
}

// foldComparison moves op into a JSON_PROMEDIO threshold: "> 8" becomes ">8".
func foldComparison(op models.Operator, v interface{}) interface{} {
	if v == nil {
		return v
	}
	s := strings.TrimSpace(fmt.Sprint(v))
	if s == "" || strings.ContainsRune("<>=!", rune(s[0])) {
		return v
	}
	return string(op) + s
}
