package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-adp-assistant/internal/models"
	appErrors "github.com/noah-isme/sma-adp-assistant/pkg/errors"
	"github.com/noah-isme/sma-adp-assistant/pkg/textnorm"
)

const studentDetailSelect = `SELECT a.id, a.curp, a.nombre, a.matricula, a.fecha_nacimiento, a.fecha_registro,
        de.ciclo_escolar, de.grado, de.grupo, de.turno, de.escuela, de.cct, de.calificaciones
        FROM alumnos a LEFT JOIN datos_escolares de ON a.id = de.alumno_id`

// StudentRepository looks up single students for certificates and name resolution.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs a StudentRepository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

// FindByID fetches a student with its enrolment.
func (r *StudentRepository) FindByID(ctx context.Context, id int64) (*models.StudentDetail, error) {
	return r.getOne(ctx, studentDetailSelect+" WHERE a.id = ?", id)
}

// FindByCURP fetches a student by CURP, case-insensitive.
func (r *StudentRepository) FindByCURP(ctx context.Context, curp string) (*models.StudentDetail, error) {
	return r.getOne(ctx, studentDetailSelect+" WHERE a.curp = ?", strings.ToUpper(strings.TrimSpace(curp)))
}

// SearchByName returns students whose nombre contains every word of name,
// ignoring case and accents. SQLite only folds ASCII, so letters that may
// carry a diacritic become single-character wildcards and the candidates
// are filtered again on the folded name.
func (r *StudentRepository) SearchByName(ctx context.Context, name string, limit int) ([]models.StudentDetail, error) {
	words := textnorm.Words(name)
	if len(words) == 0 {
		return []models.StudentDetail{}, nil
	}
	if limit <= 0 {
		limit = 20
	}

	var b strings.Builder
	b.WriteString(studentDetailSelect)
	b.WriteString(" WHERE 1=1")
	args := make([]interface{}, 0, len(words))
	for _, w := range words {
		b.WriteString(" AND a.nombre LIKE ?")
		args = append(args, "%"+loosePattern(w)+"%")
	}
	fmt.Fprintf(&b, " ORDER BY a.nombre LIMIT %d", limit*candidateFactor)

	var candidates []models.StudentDetail
	if err := r.db.SelectContext(ctx, &candidates, b.String(), args...); err != nil {
		return nil, fmt.Errorf("search students by name: %w", err)
	}
	students := make([]models.StudentDetail, 0, len(candidates))
	for _, c := range candidates {
		if !containsAllWords(c.Nombre, words) {
			continue
		}
		students = append(students, c)
		if len(students) == limit {
			break
		}
	}
	return students, nil
}

// candidateFactor over-fetches so loose patterns cannot crowd out real matches.
const candidateFactor = 10

// loosePattern replaces letters that take accents in Spanish names with the
// LIKE single-character wildcard.
func loosePattern(word string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case 'A', 'E', 'I', 'O', 'U', 'N', 'C', 'Y':
			return '_'
		}
		return r
	}, word)
}

func containsAllWords(nombre string, words []string) bool {
	folded := textnorm.Fold(nombre)
	for _, w := range words {
		if !strings.Contains(folded, w) {
			return false
		}
	}
	return true
}

func (r *StudentRepository) getOne(ctx context.Context, query string, args ...interface{}) (*models.StudentDetail, error) {
	var detail models.StudentDetail
	if err := r.db.GetContext(ctx, &detail, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrStudentNotFound
		}
		return nil, fmt.Errorf("get student: %w", err)
	}
	return &detail, nil
}
