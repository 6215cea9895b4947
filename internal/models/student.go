package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Student is a row of the alumnos table.
type Student struct {
	ID              int64   `db:"id" json:"id"`
	CURP            string  `db:"curp" json:"curp"`
	Nombre          string  `db:"nombre" json:"nombre"`
	Matricula       *string `db:"matricula" json:"matricula,omitempty"`
	FechaNacimiento *string `db:"fecha_nacimiento" json:"fecha_nacimiento,omitempty"`
	FechaRegistro   *string `db:"fecha_registro" json:"fecha_registro,omitempty"`
}

// SchoolEnrolment is the datos_escolares row of the current cycle.
type SchoolEnrolment struct {
	ID             int64   `db:"id" json:"id"`
	AlumnoID       int64   `db:"alumno_id" json:"alumno_id"`
	CicloEscolar   *string `db:"ciclo_escolar" json:"ciclo_escolar,omitempty"`
	Grado          *int    `db:"grado" json:"grado,omitempty"`
	Grupo          *string `db:"grupo" json:"grupo,omitempty"`
	Turno          *string `db:"turno" json:"turno,omitempty"`
	Escuela        *string `db:"escuela" json:"escuela,omitempty"`
	CCT            *string `db:"cct" json:"cct,omitempty"`
	Calificaciones *string `db:"calificaciones" json:"calificaciones,omitempty"`
}

// StudentDetail joins a student with its enrolment.
type StudentDetail struct {
	Student
	CicloEscolar   *string `db:"ciclo_escolar" json:"ciclo_escolar,omitempty"`
	Grado          *int    `db:"grado" json:"grado,omitempty"`
	Grupo          *string `db:"grupo" json:"grupo,omitempty"`
	Turno          *string `db:"turno" json:"turno,omitempty"`
	Escuela        *string `db:"escuela" json:"escuela,omitempty"`
	CCT            *string `db:"cct" json:"cct,omitempty"`
	Calificaciones *string `db:"calificaciones" json:"calificaciones,omitempty"`
}

// Grades parses the calificaciones column.
func (d StudentDetail) Grades() (Grades, error) {
	if d.Calificaciones == nil {
		return nil, nil
	}
	return ParseGrades(*d.Calificaciones)
}

// Row converts the detail into the generic row shape used by context levels.
func (d StudentDetail) Row() Row {
	row := Row{"id": d.ID, "curp": d.CURP, "nombre": d.Nombre}
	putOptional(row, "matricula", d.Matricula)
	putOptional(row, "fecha_nacimiento", d.FechaNacimiento)
	putOptional(row, "ciclo_escolar", d.CicloEscolar)
	putOptional(row, "grupo", d.Grupo)
	putOptional(row, "turno", d.Turno)
	putOptional(row, "escuela", d.Escuela)
	putOptional(row, "cct", d.CCT)
	putOptional(row, "calificaciones", d.Calificaciones)
	if d.Grado != nil {
		row["grado"] = int64(*d.Grado)
	}
	return row
}

func putOptional(row Row, key string, value *string) {
	if value != nil {
		row[key] = *value
	}
}

// GradeRecord is one subject entry of calificaciones.
type GradeRecord struct {
	Nombre   string    `json:"nombre"`
	I        FlexFloat `json:"i"`
	II       FlexFloat `json:"ii"`
	III      FlexFloat `json:"iii"`
	Promedio FlexFloat `json:"promedio"`
}

// Grades is the parsed calificaciones array.
type Grades []GradeRecord

// ParseGrades accepts the raw column value. NULL, "" and "[]" yield an empty slice.
func ParseGrades(raw interface{}) (Grades, error) {
	var text string
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case string:
		text = v
	case []byte:
		text = string(v)
	case *string:
		if v == nil {
			return nil, nil
		}
		text = *v
	default:
		return nil, fmt.Errorf("unsupported calificaciones type %T", raw)
	}
	text = strings.TrimSpace(text)
	if IsEmptyGrades(text) {
		return Grades{}, nil
	}
	var grades Grades
	if err := json.Unmarshal([]byte(text), &grades); err != nil {
		return nil, fmt.Errorf("parse calificaciones: %w", err)
	}
	return grades, nil
}

// IsEmptyGrades reports whether the raw column text has no grade records.
func IsEmptyGrades(text string) bool {
	text = strings.TrimSpace(text)
	return text == "" || text == "[]" || strings.EqualFold(text, "null")
}

// Average is the mean of the non-zero subject averages.
func (g Grades) Average() (float64, bool) {
	var sum float64
	var n int
	for _, rec := range g {
		if rec.Promedio.Valid && rec.Promedio.Value != 0 {
			sum += rec.Promedio.Value
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// Subject finds a subject by case-insensitive substring.
func (g Grades) Subject(name string) (GradeRecord, bool) {
	needle := strings.ToUpper(strings.TrimSpace(name))
	for _, rec := range g {
		if strings.Contains(strings.ToUpper(rec.Nombre), needle) {
			return rec, true
		}
	}
	return GradeRecord{}, false
}

// MatchesSubject evaluates the JSON_MATERIA predicate in memory.
func (g Grades) MatchesSubject(subject string, cmp *Comparison) bool {
	rec, ok := g.Subject(subject)
	if !ok {
		return false
	}
	if cmp == nil {
		return true
	}
	return rec.Promedio.Valid && cmp.Holds(rec.Promedio.Value)
}

// FlexFloat decodes numbers that LLMs and legacy imports emit as strings.
type FlexFloat struct {
	Value float64
	Valid bool
}

// UnmarshalJSON accepts numbers, numeric strings and null.
func (f *FlexFloat) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if s == "" || s == "null" {
		*f = FlexFloat{}
		return nil
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
	if err != nil {
		*f = FlexFloat{}
		return nil
	}
	*f = FlexFloat{Value: v, Valid: true}
	return nil
}

// MarshalJSON writes the number or null.
func (f FlexFloat) MarshalJSON() ([]byte, error) {
	if !f.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(f.Value)
}
