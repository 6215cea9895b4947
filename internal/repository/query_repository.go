package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-adp-assistant/internal/models"
)

// QueryRepository runs compiled, guarded statements and returns generic rows.
type QueryRepository struct {
	db *sqlx.DB
}

// NewQueryRepository constructs a QueryRepository.
func NewQueryRepository(db *sqlx.DB) *QueryRepository {
	return &QueryRepository{db: db}
}

// Run executes a SELECT and maps every row by column name. TEXT values
// arrive as []byte from some drivers and are converted to string.
func (r *QueryRepository) Run(ctx context.Context, query string, args ...interface{}) ([]models.Row, error) {
	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("run query: %w", err)
	}
	defer rows.Close()

	out := make([]models.Row, 0)
	for rows.Next() {
		raw := make(map[string]interface{})
		if err := rows.MapScan(raw); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row := make(models.Row, len(raw))
		for k, v := range raw {
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			row[k] = v
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

// Ping checks the database connection.
func (r *QueryRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
