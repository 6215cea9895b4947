package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-adp-assistant/internal/models"
)

// SchoolDDL creates the two tables the assistant reads.
const SchoolDDL = `
CREATE TABLE IF NOT EXISTS alumnos (
    id INTEGER PRIMARY KEY,
    curp TEXT UNIQUE,
    nombre TEXT NOT NULL,
    matricula TEXT,
    fecha_nacimiento TEXT,
    fecha_registro TEXT
);
CREATE TABLE IF NOT EXISTS datos_escolares (
    id INTEGER PRIMARY KEY,
    alumno_id INTEGER REFERENCES alumnos(id),
    ciclo_escolar TEXT,
    grado INTEGER,
    grupo TEXT,
    turno TEXT,
    escuela TEXT,
    cct TEXT,
    calificaciones TEXT
);
CREATE INDEX IF NOT EXISTS idx_datos_escolares_alumno ON datos_escolares(alumno_id);
`

// SeedRepository writes demo data. It needs a writable handle and is only
// used by admin tooling and test fixtures.
type SeedRepository struct {
	db *sqlx.DB
}

// NewSeedRepository constructs a SeedRepository.
func NewSeedRepository(db *sqlx.DB) *SeedRepository {
	return &SeedRepository{db: db}
}

// CreateSchema applies SchoolDDL.
func (r *SeedRepository) CreateSchema(ctx context.Context) error {
	for _, stmt := range strings.Split(SchoolDDL, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

// InsertStudent stores a student and, when it carries a grado, its enrolment.
// The generated id is written back into student.ID.
func (r *SeedRepository) InsertStudent(ctx context.Context, student *models.StudentDetail) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin seed tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	const insertAlumno = `INSERT INTO alumnos (curp, nombre, matricula, fecha_nacimiento, fecha_registro)
        VALUES (:curp, :nombre, :matricula, :fecha_nacimiento, :fecha_registro)`
	res, err := tx.NamedExecContext(ctx, insertAlumno, student.Student)
	if err != nil {
		return fmt.Errorf("insert alumno: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("alumno id: %w", err)
	}
	student.ID = id

	if student.Grado != nil {
		enrolment := models.SchoolEnrolment{
			AlumnoID:       id,
			CicloEscolar:   student.CicloEscolar,
			Grado:          student.Grado,
			Grupo:          student.Grupo,
			Turno:          student.Turno,
			Escuela:        student.Escuela,
			CCT:            student.CCT,
			Calificaciones: student.Calificaciones,
		}
		const insertEnrolment = `INSERT INTO datos_escolares (alumno_id, ciclo_escolar, grado, grupo, turno, escuela, cct, calificaciones)
            VALUES (:alumno_id, :ciclo_escolar, :grado, :grupo, :turno, :escuela, :cct, :calificaciones)`
		if _, err := tx.NamedExecContext(ctx, insertEnrolment, enrolment); err != nil {
			return fmt.Errorf("insert datos_escolares: %w", err)
		}
	}
	return tx.Commit()
}
