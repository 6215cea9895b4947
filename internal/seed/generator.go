// Package seed generates demo students for local databases.
package seed

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/noah-isme/sma-adp-assistant/internal/models"
	"github.com/noah-isme/sma-adp-assistant/pkg/textnorm"
)

var (
	subjects = []string{"ESPAÑOL", "MATEMATICAS", "CIENCIAS NATURALES", "HISTORIA", "GEOGRAFIA", "FORMACION CIVICA"}
	shifts   = []string{"MATUTINO", "VESPERTINO"}
	groups   = []string{"A", "B", "C"}
)

// Options configure a Generator.
type Options struct {
	Seed int64
	// Today anchors birth dates and the school cycle.
	Today  time.Time
	School string
	CCT    string
	// NoGradesRatio is the share of students left without calificaciones.
	NoGradesRatio float64
}

// Inserter persists one generated student.
type Inserter interface {
	InsertStudent(ctx context.Context, student *models.StudentDetail) error
}

// Generator produces deterministic fake students.
type Generator struct {
	faker *gofakeit.Faker
	opts  Options
}

// NewGenerator constructs a generator. The same seed yields the same students.
func NewGenerator(opts Options) *Generator {
	if opts.Today.IsZero() {
		opts.Today = time.Now()
	}
	if opts.School == "" {
		opts.School = "ESCUELA PRIMARIA DEMO"
	}
	if opts.CCT == "" {
		opts.CCT = "09DPR0000X"
	}
	return &Generator{faker: gofakeit.New(opts.Seed), opts: opts}
}

// Student builds one student enrolled in the current cycle.
func (g *Generator) Student() *models.StudentDetail {
	f := g.faker
	first := textnorm.Fold(f.FirstName())
	paternal := textnorm.Fold(f.LastName())
	maternal := textnorm.Fold(f.LastName())
	grado := f.Number(1, 6)

	born := g.birthDate(grado)
	sex := f.RandomString([]string{"H", "M"})
	curp := curpFor(first, paternal, maternal, born, sex, f)

	str := func(v string) *string { return &v }
	detail := &models.StudentDetail{
		Student: models.Student{
			CURP:            curp,
			Nombre:          strings.Join([]string{first, paternal, maternal}, " "),
			Matricula:       str(fmt.Sprintf("M%06d", f.Number(1, 999999))),
			FechaNacimiento: str(born.Format("2006-01-02")),
			FechaRegistro:   str(g.cycleStart().AddDate(0, 0, -f.Number(0, 30)).Format("2006-01-02")),
		},
		CicloEscolar: str(g.cycle()),
		Grado:        &grado,
		Grupo:        str(f.RandomString(groups)),
		Turno:        str(f.RandomString(shifts)),
		Escuela:      str(g.opts.School),
		CCT:          str(g.opts.CCT),
	}
	if f.Float64Range(0, 1) >= g.opts.NoGradesRatio {
		detail.Calificaciones = str(g.grades())
	}
	return detail
}

// Populate inserts n students and returns how many were stored.
func (g *Generator) Populate(ctx context.Context, dst Inserter, n int) (int, error) {
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		if err := dst.InsertStudent(ctx, g.Student()); err != nil {
			return i, err
		}
	}
	return n, nil
}

func (g *Generator) grades() string {
	f := g.faker
	picked := f.Number(2, len(subjects))
	records := make(models.Grades, 0, picked)
	for _, subject := range subjects[:picked] {
		i, ii, iii := g.mark(), g.mark(), g.mark()
		records = append(records, models.GradeRecord{
			Nombre:   subject,
			I:        models.FlexFloat{Value: i, Valid: true},
			II:       models.FlexFloat{Value: ii, Valid: true},
			III:      models.FlexFloat{Value: iii, Valid: true},
			Promedio: models.FlexFloat{Value: math.Round((i+ii+iii)/3*10) / 10, Valid: true},
		})
	}
	raw, _ := json.Marshal(records)
	return string(raw)
}

func (g *Generator) mark() float64 {
	return math.Round(g.faker.Float64Range(5, 10)*2) / 2
}

// birthDate places the student at a plausible age for grado (6 in first grade).
func (g *Generator) birthDate(grado int) time.Time {
	year := g.cycleStart().Year() - 5 - grado
	start := time.Date(year-1, time.September, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(year, time.August, 31, 0, 0, 0, 0, time.UTC)
	return g.faker.DateRange(start, end).UTC().Truncate(24 * time.Hour)
}

func (g *Generator) cycleStart() time.Time {
	year := g.opts.Today.Year()
	if g.opts.Today.Month() < time.August {
		year--
	}
	return time.Date(year, time.August, 26, 0, 0, 0, 0, time.UTC)
}

func (g *Generator) cycle() string {
	start := g.cycleStart().Year()
	return fmt.Sprintf("%d-%d", start, start+1)
}

// curpFor builds an 18 character CURP-shaped key. The check digits are random.
func curpFor(first, paternal, maternal string, born time.Time, sex string, f *gofakeit.Faker) string {
	var b strings.Builder
	b.WriteByte(initial(paternal))
	b.WriteByte(firstVowel(paternal))
	b.WriteByte(initial(maternal))
	b.WriteByte(initial(first))
	b.WriteString(born.Format("060102"))
	b.WriteString(sex)
	b.WriteString("DF")
	b.WriteByte(innerConsonant(paternal))
	b.WriteByte(innerConsonant(maternal))
	b.WriteByte(innerConsonant(first))
	b.WriteString(strings.ToUpper(f.Letter()))
	b.WriteString(fmt.Sprintf("%d", f.Number(0, 9)))
	return b.String()
}

func letters(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= 'A' && r <= 'Z' {
			return r
		}
		return -1
	}, textnorm.Fold(s))
}

func initial(s string) byte {
	l := letters(s)
	if l == "" {
		return 'X'
	}
	return l[0]
}

func firstVowel(s string) byte {
	l := letters(s)
	for i := 1; i < len(l); i++ {
		if strings.IndexByte("AEIOU", l[i]) >= 0 {
			return l[i]
		}
	}
	return 'X'
}

func innerConsonant(s string) byte {
	l := letters(s)
	for i := 1; i < len(l); i++ {
		if strings.IndexByte("AEIOU", l[i]) < 0 {
			return l[i]
		}
	}
	return 'X'
}
