package seed

import (
	"context"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-adp-assistant/internal/models"
	"github.com/noah-isme/sma-adp-assistant/internal/repository"
	"github.com/noah-isme/sma-adp-assistant/pkg/database"
)

var curpShape = regexp.MustCompile(`^[A-Z]{4}\d{6}[HM][A-Z]{5}[A-Z]\d$`)

func testOptions() Options {
	return Options{Seed: 42, Today: time.Date(2024, time.September, 1, 0, 0, 0, 0, time.UTC)}
}

func TestGeneratorIsDeterministic(t *testing.T) {
	a := NewGenerator(testOptions()).Student()
	b := NewGenerator(testOptions()).Student()
	assert.Equal(t, a.Nombre, b.Nombre)
	assert.Equal(t, a.CURP, b.CURP)
}

func TestGeneratorStudentShape(t *testing.T) {
	g := NewGenerator(testOptions())
	for i := 0; i < 50; i++ {
		s := g.Student()
		assert.Regexp(t, curpShape, s.CURP)
		require.NotNil(t, s.Grado)
		assert.GreaterOrEqual(t, *s.Grado, 1)
		assert.LessOrEqual(t, *s.Grado, 6)
		assert.Contains(t, shifts, *s.Turno)
		assert.Equal(t, "2024-2025", *s.CicloEscolar)

		born, err := time.Parse("2006-01-02", *s.FechaNacimiento)
		require.NoError(t, err)
		age := 2024 - born.Year()
		assert.InDelta(t, 5+*s.Grado, age, 1)

		if s.Calificaciones != nil {
			grades, err := models.ParseGrades(*s.Calificaciones)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, len(grades), 2)
		}
	}
}

func TestGeneratorNoGradesRatio(t *testing.T) {
	opts := testOptions()
	opts.NoGradesRatio = 1
	g := NewGenerator(opts)
	for i := 0; i < 10; i++ {
		assert.Nil(t, g.Student().Calificaciones)
	}
}

func TestPopulateWritesSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "demo.db")
	rw, err := database.NewSQLiteWritable(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rw.Close() })

	repo := repository.NewSeedRepository(rw)
	ctx := context.Background()
	require.NoError(t, repo.CreateSchema(ctx))

	n, err := NewGenerator(testOptions()).Populate(ctx, repo, 12)
	require.NoError(t, err)
	assert.Equal(t, 12, n)

	var count int
	require.NoError(t, rw.Get(&count, "SELECT COUNT(*) FROM alumnos"))
	assert.Equal(t, 12, count)
}
