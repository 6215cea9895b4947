package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-adp-assistant/internal/models"
)

const columnInfoQuery = `SELECT name, type, "notnull", pk FROM pragma_table_info(?) ORDER BY cid`

type columnInfo struct {
	Name    string `db:"name"`
	Type    string `db:"type"`
	NotNull int    `db:"notnull"`
	PK      int    `db:"pk"`
}

// closed domains read from the data; fallbacks apply when the table is empty.
var enumColumns = []struct {
	table    string
	field    string
	fallback []string
}{
	{models.TableDatosEscolares, models.FieldTurno, models.ShiftValues},
	{models.TableDatosEscolares, models.FieldGrado, []string{"1", "2", "3", "4", "5", "6"}},
	{models.TableDatosEscolares, models.FieldGrupo, nil},
}

// SchemaRepository introspects the live SQLite schema.
type SchemaRepository struct {
	db *sqlx.DB
}

// NewSchemaRepository constructs a SchemaRepository.
func NewSchemaRepository(db *sqlx.DB) *SchemaRepository {
	return &SchemaRepository{db: db}
}

// Introspect reads both tables and their closed-domain values. The virtual
// edad column is appended to alumnos.
func (r *SchemaRepository) Introspect(ctx context.Context) (models.Schema, error) {
	var schema models.Schema
	for _, table := range []string{models.TableAlumnos, models.TableDatosEscolares} {
		var infos []columnInfo
		if err := r.db.SelectContext(ctx, &infos, columnInfoQuery, table); err != nil {
			return models.Schema{}, fmt.Errorf("introspect %s: %w", table, err)
		}
		if len(infos) == 0 {
			return models.Schema{}, fmt.Errorf("introspect %s: table not found", table)
		}
		ts := models.TableSchema{Name: table}
		for _, info := range infos {
			ts.Columns = append(ts.Columns, models.Column{
				Name:    info.Name,
				Type:    strings.ToUpper(info.Type),
				Kind:    models.KindFromDeclared(table, info.Name, info.Type),
				NotNull: info.NotNull == 1,
				Primary: info.PK > 0,
			})
		}
		if table == models.TableAlumnos {
			ts.Columns = append(ts.Columns, models.EdadColumn())
		}
		schema.Tables = append(schema.Tables, ts)
	}

	for _, enum := range enumColumns {
		values, err := r.DistinctValues(ctx, enum.table, enum.field)
		if err != nil {
			return models.Schema{}, err
		}
		if len(values) == 0 {
			values = enum.fallback
		}
		setValues(&schema, enum.table, enum.field, values)
	}
	return schema, nil
}

// DistinctValues lists the distinct non-empty values of a column, uppercased.
// table and field must come from the models constants.
func (r *SchemaRepository) DistinctValues(ctx context.Context, table, field string) ([]string, error) {
	query := fmt.Sprintf(
		"SELECT DISTINCT UPPER(TRIM(CAST(%[1]s AS TEXT))) AS v FROM %[2]s WHERE %[1]s IS NOT NULL AND TRIM(CAST(%[1]s AS TEXT)) <> '' ORDER BY v",
		field, table)
	var values []string
	if err := r.db.SelectContext(ctx, &values, query); err != nil {
		return nil, fmt.Errorf("distinct %s.%s: %w", table, field, err)
	}
	return values, nil
}

func setValues(schema *models.Schema, table, field string, values []string) {
	for ti := range schema.Tables {
		if schema.Tables[ti].Name != table {
			continue
		}
		for ci := range schema.Tables[ti].Columns {
			if schema.Tables[ti].Columns[ci].Name == field {
				schema.Tables[ti].Columns[ci].Values = values
			}
		}
	}
}
