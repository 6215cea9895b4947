package models

import (
	"fmt"
	"sort"
	"strings"
)

// ColumnKind is the broad type class used for operator checks.
type ColumnKind string

// Column kinds.
const (
	KindInteger ColumnKind = "integer"
	KindReal    ColumnKind = "real"
	KindText    ColumnKind = "text"
	KindJSON    ColumnKind = "json"
)

// Column is an introspected column.
type Column struct {
	Name    string     `json:"name"`
	Type    string     `json:"type"`
	Kind    ColumnKind `json:"kind"`
	NotNull bool       `json:"not_null"`
	Primary bool       `json:"primary"`
	Virtual bool       `json:"virtual,omitempty"`
	// Values lists the closed domain of the column when it has one.
	Values []string `json:"values,omitempty"`
}

// Numeric reports whether ordering comparisons apply.
func (c Column) Numeric() bool {
	return c.Kind == KindInteger || c.Kind == KindReal
}

// KindFromDeclared maps a declared SQLite type onto a ColumnKind.
func KindFromDeclared(table, name, declared string) ColumnKind {
	if table == TableDatosEscolares && name == FieldCalificaciones {
		return KindJSON
	}
	up := strings.ToUpper(declared)
	switch {
	case strings.Contains(up, "INT"):
		return KindInteger
	case strings.Contains(up, "REAL"), strings.Contains(up, "FLOA"), strings.Contains(up, "DOUB"), strings.Contains(up, "NUM"):
		return KindReal
	}
	return KindText
}

// TableSchema is one table of the live schema.
type TableSchema struct {
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
}

// Column looks a column up by name.
func (t TableSchema) Column(name string) (Column, bool) {
	for _, col := range t.Columns {
		if col.Name == name {
			return col, true
		}
	}
	return Column{}, false
}

// Schema is the live database schema plus virtual fields.
type Schema struct {
	Tables []TableSchema `json:"tables"`
}

// Table returns the named table.
func (s Schema) Table(name string) (TableSchema, bool) {
	for _, t := range s.Tables {
		if t.Name == name {
			return t, true
		}
	}
	return TableSchema{}, false
}

// HasField reports whether (table, field) exists.
func (s Schema) HasField(table, field string) bool {
	_, ok := s.Column(table, field)
	return ok
}

// Column returns the column of (table, field).
func (s Schema) Column(table, field string) (Column, bool) {
	t, ok := s.Table(table)
	if !ok {
		return Column{}, false
	}
	return t.Column(field)
}

// TableOf finds the table that owns field. alumnos wins when both do.
func (s Schema) TableOf(field string) (string, bool) {
	for _, name := range []string{TableAlumnos, TableDatosEscolares} {
		if s.HasField(name, field) {
			return name, true
		}
	}
	for _, t := range s.Tables {
		if _, ok := t.Column(field); ok {
			return t.Name, true
		}
	}
	return "", false
}

// Summary renders the schema for prompts: one line per table plus closed domains.
func (s Schema) Summary() string {
	var b strings.Builder
	for _, t := range s.Tables {
		names := make([]string, 0, len(t.Columns))
		for _, col := range t.Columns {
			label := col.Name
			if col.Virtual {
				label += " (calculado)"
			}
			names = append(names, label)
		}
		fmt.Fprintf(&b, "- %s: %s\n", t.Name, strings.Join(names, ", "))
		for _, col := range t.Columns {
			if len(col.Values) > 0 {
				values := append([]string(nil), col.Values...)
				sort.Strings(values)
				fmt.Fprintf(&b, "  · %s.%s ∈ {%s}\n", t.Name, col.Name, strings.Join(values, ", "))
			}
		}
	}
	return b.String()
}

// ShiftValues is the closed domain of datos_escolares.turno.
var ShiftValues = []string{"MATUTINO", "VESPERTINO"}

// EdadColumn is the virtual age column appended to alumnos.
func EdadColumn() Column {
	return Column{Name: FieldEdad, Type: "INTEGER", Kind: KindInteger, Virtual: true}
}

// SchoolSchema is the fixed schema the database is created with. The live
// schema is introspected at startup; this one seeds tests and tooling.
func SchoolSchema() Schema {
	return Schema{Tables: []TableSchema{
		{Name: TableAlumnos, Columns: []Column{
			{Name: FieldID, Type: "INTEGER", Kind: KindInteger, Primary: true},
			{Name: FieldCURP, Type: "TEXT", Kind: KindText},
			{Name: FieldNombre, Type: "TEXT", Kind: KindText, NotNull: true},
			{Name: "matricula", Type: "TEXT", Kind: KindText},
			{Name: FieldFechaNac, Type: "TEXT", Kind: KindText},
			{Name: "fecha_registro", Type: "TEXT", Kind: KindText},
			EdadColumn(),
		}},
		{Name: TableDatosEscolares, Columns: []Column{
			{Name: FieldID, Type: "INTEGER", Kind: KindInteger, Primary: true},
			{Name: "alumno_id", Type: "INTEGER", Kind: KindInteger},
			{Name: "ciclo_escolar", Type: "TEXT", Kind: KindText},
			{Name: FieldGrado, Type: "INTEGER", Kind: KindInteger, Values: []string{"1", "2", "3", "4", "5", "6"}},
			{Name: FieldGrupo, Type: "TEXT", Kind: KindText},
			{Name: FieldTurno, Type: "TEXT", Kind: KindText, Values: ShiftValues},
			{Name: "escuela", Type: "TEXT", Kind: KindText},
			{Name: "cct", Type: "TEXT", Kind: KindText},
			{Name: FieldCalificaciones, Type: "TEXT", Kind: KindJSON},
		}},
	}}
}
