// Package testutil holds fixtures shared by package tests: a seeded SQLite
// school database and scripted language-model fakes.
package testutil

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-adp-assistant/internal/models"
	"github.com/noah-isme/sma-adp-assistant/internal/repository"
	"github.com/noah-isme/sma-adp-assistant/pkg/config"
	"github.com/noah-isme/sma-adp-assistant/pkg/database"
)

// Today is the date fixtures pin the clock to.
var Today = time.Date(2024, 9, 1, 10, 0, 0, 0, time.UTC)

// Seed describes one roster entry.
type Seed struct {
	Nombre         string
	CURP           string
	FechaNac       string
	Grado          int
	Grupo          string
	Turno          string
	Calificaciones *string
}

func grades(s string) *string { return &s }

// Roster is the fixture population, inserted in order (ids 1..8).
//
//	GARCIA: ANA (1), CARLOS (2), MARIA TORRES (7)
//	JUAN:   LOPEZ (3), PEREZ (4), RAMIREZ (5)
//	3er grado: 1, 2, 5; matutino among them: 1, 5
//	empty calificaciones: 2 ("[]"), 3 (NULL), 5 ("")
var Roster = []Seed{
	{"ANA GARCIA LOPEZ", "GALA150310MDFRPNA1", "2015-03-10", 3, "A", "MATUTINO",
		grades(`[{"nombre":"ESPAÑOL","i":9,"ii":9,"iii":9,"promedio":9},{"nombre":"MATEMATICAS","i":8,"ii":8,"iii":8,"promedio":8}]`)},
	{"CARLOS GARCIA RUIZ", "GARC150722HDFRZRA2", "2015-07-22", 3, "B", "VESPERTINO", grades(`[]`)},
	{"JUAN LOPEZ MARTINEZ", "LOMJ170115HDFPRNA3", "2017-01-15", 1, "A", "MATUTINO", nil},
	{"JUAN PEREZ SOTO", "PESJ160505HDFRTNA4", "2016-05-05", 2, "A", "VESPERTINO",
		grades(`[{"nombre":"MATEMATICAS","i":6,"ii":6,"iii":6,"promedio":6},{"nombre":"ESPAÑOL","i":7,"ii":7,"iii":7,"promedio":7}]`)},
	{"JUAN RAMIREZ DIAZ", "RADJ151130HDFMZNA5", "2015-11-30", 3, "A", "MATUTINO", grades(``)},
	{"LUIS PEREZ HERNANDEZ", "PEHL140214HDFRRSA6", "2014-02-14", 4, "B", "MATUTINO",
		grades(`[{"nombre":"MATEMATICAS","i":10,"ii":10,"iii":10,"promedio":10},{"nombre":"ESPAÑOL","i":9,"ii":9,"iii":9,"promedio":9}]`)},
	{"MARIA TORRES GARCIA", "TOGM130808MDFRRRA7", "2013-08-08", 5, "A", "VESPERTINO",
		grades(`[{"nombre":"MATEMATICAS","i":7.5,"ii":7.5,"iii":7.5,"promedio":7.5},{"nombre":"ESPAÑOL","i":8.5,"ii":8.5,"iii":8.5,"promedio":8.5}]`)},
	{"SOFIA MENDEZ ROJAS", "MERS121201MDFNJFA8", "2012-12-01", 6, "C", "MATUTINO",
		grades(`[{"nombre":"MATEMATICAS","i":9,"ii":9,"iii":9,"promedio":9},{"nombre":"ESPAÑOL","i":9,"ii":9,"iii":9,"promedio":9}]`)},
}

// Detail converts a seed into the model inserted by SeedRepository.
func (s Seed) Detail() *models.StudentDetail {
	str := func(v string) *string { return &v }
	grado := s.Grado
	return &models.StudentDetail{
		Student: models.Student{
			CURP:            s.CURP,
			Nombre:          s.Nombre,
			Matricula:       str("M-" + s.CURP[:4]),
			FechaNacimiento: str(s.FechaNac),
			FechaRegistro:   str("2023-08-28"),
		},
		CicloEscolar:   str("2024-2025"),
		Grado:          &grado,
		Grupo:          str(s.Grupo),
		Turno:          str(s.Turno),
		Escuela:        str("ESCUELA PRIMARIA BENITO JUAREZ"),
		CCT:            str("09DPR0001A"),
		Calificaciones: s.Calificaciones,
	}
}

// NewSchoolDB seeds Roster into a temporary SQLite file and returns a
// read-only handle, the way the service opens production data.
func NewSchoolDB(t testing.TB) *sqlx.DB {
	t.Helper()
	return NewSchoolDBWith(t)
}

// NewSchoolDBWith seeds Roster followed by extra (ids 9 onwards).
func NewSchoolDBWith(t testing.TB, extra ...Seed) *sqlx.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "alumnos.db")

	rw, err := database.NewSQLiteWritable(path)
	require.NoError(t, err)
	seeder := repository.NewSeedRepository(rw)
	ctx := context.Background()
	require.NoError(t, seeder.CreateSchema(ctx))
	for _, s := range append(append([]Seed{}, Roster...), extra...) {
		require.NoError(t, seeder.InsertStudent(ctx, s.Detail()))
	}
	require.NoError(t, rw.Close())

	db, err := database.NewSQLite(config.DatabaseConfig{Path: path, MaxOpenConns: 4, MaxIdleConns: 2})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}
