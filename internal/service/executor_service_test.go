package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-adp-assistant/internal/models"
	"github.com/noah-isme/sma-adp-assistant/internal/query"
	"github.com/noah-isme/sma-adp-assistant/internal/repository"
	appErrors "github.com/noah-isme/sma-adp-assistant/pkg/errors"
)

func TestExecuteCountAll(t *testing.T) {
	p := newTestPipeline(t)
	req := &models.ActionRequest{Action: models.ActionCount, Count: &models.CountParams{}}

	res, err := p.executor.Execute(context.Background(), req, nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.Aggregate)
	require.Len(t, res.Data, 1)
	assert.Equal(t, "8", res.Data[0].String("total"))
	assert.Equal(t, models.StageDone, res.Stage)
	assert.Contains(t, res.SQL, "SELECT COUNT(*) AS total FROM alumnos a WHERE 1=1")
}

func TestExecuteDistributionByGrade(t *testing.T) {
	p := newTestPipeline(t)
	req := &models.ActionRequest{Action: models.ActionStatistics, Statistics: &models.StatisticsParams{Kind: models.StatDistribution, GroupBy: "grado"}}

	res, err := p.executor.Execute(context.Background(), req, nil)
	require.NoError(t, err)
	assert.True(t, res.Aggregate)
	counts := map[string]string{}
	for _, row := range res.Data {
		counts[row.String("grado")] = row.String("cantidad")
	}
	assert.Equal(t, "3", counts["3"])
	assert.Equal(t, "1", counts["6"])
	assert.NotContains(t, res.SQL, "LIMIT")
}

func TestExecuteSearchByName(t *testing.T) {
	p := newTestPipeline(t)
	req := models.NewSearchRequest(crit(models.TableAlumnos, models.FieldNombre, models.OpLike, "garcia"), nil, 0, "")

	res, err := p.executor.Execute(context.Background(), req, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{1, 2, 7}, models.RowIDs(res.Data))
	assert.Equal(t, "Se encontraron 3 alumnos.", res.Message)
	assert.Contains(t, res.SQL, "'%GARCIA%'")
}

func TestExecuteSequentialRestrictsToPreviousIDs(t *testing.T) {
	p := newTestPipeline(t)
	step := models.NewSearchRequest(crit(models.TableDatosEscolares, models.FieldTurno, models.OpEq, "matutino"), nil, 0, "")
	req := models.NewSearchRequest(crit(models.TableDatosEscolares, models.FieldGrado, models.OpEq, 3), nil, 0, "")
	req.Strategy = models.StrategySequential
	req.Steps = []models.ActionRequest{*step}

	res, err := p.executor.Execute(context.Background(), req, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{1, 5}, models.RowIDs(res.Data))
	assert.Equal(t, 1, strings.Count(res.SQL, ";\n"))
	assert.Contains(t, res.SQL, "IN (")
}

func TestExecuteStudentsWithoutGrades(t *testing.T) {
	p := newTestPipeline(t)
	req := &models.ActionRequest{Action: models.ActionFilterByGrades, Grades: &models.GradesFilterParams{HasGrades: boolPtr(false)}}

	res, err := p.executor.Execute(context.Background(), req, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{2, 3, 5}, models.RowIDs(res.Data))
}

func TestExecuteGuardClampsLimit(t *testing.T) {
	p := newTestPipeline(t)
	exec := NewExecutorService(p.validator, p.compiler, repository.NewQueryRepository(p.db), p.students, p.issuer, nil,
		ExecutorOptions{Guard: query.Guard{DefaultLimit: 2, MaxLimit: 2}}, nil)
	req := &models.ActionRequest{Action: models.ActionFullListing, Listing: &models.ListingParams{}}

	res, err := exec.Execute(context.Background(), req, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.RowCount)
	assert.True(t, strings.HasSuffix(res.SQL, "LIMIT 2"))
}

func TestExecuteNoResults(t *testing.T) {
	p := newTestPipeline(t)
	req := models.NewSearchRequest(crit(models.TableAlumnos, models.FieldNombre, models.OpLike, "zzz"), nil, 0, "")

	res, err := p.executor.Execute(context.Background(), req, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrNoResults))
	assert.False(t, res.Success)
	assert.Equal(t, appErrors.ErrNoResults.Code, res.ErrorCode)
	assert.NotEmpty(t, res.SQL)
}

func TestExecuteStatisticsRejectsRangeOperators(t *testing.T) {
	p := newTestPipeline(t)
	stats := &models.ActionRequest{Action: models.ActionStatistics, Statistics: &models.StatisticsParams{
		Kind:   models.StatCount,
		Filter: models.CriteriaList{crit(models.TableDatosEscolares, models.FieldGrado, models.OpBetween, []interface{}{1, 3})},
	}}
	_, err := p.executor.Execute(context.Background(), stats, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrUnsupportedOperator))
	assert.Contains(t, err.Error(), "CONTAR_UNIVERSAL")

	count := &models.ActionRequest{Action: models.ActionCount, Count: &models.CountParams{
		Criteria: models.CriteriaList{crit(models.TableDatosEscolares, models.FieldGrado, models.OpBetween, []interface{}{1, 3})},
	}}
	res, err := p.executor.Execute(context.Background(), count, nil)
	require.NoError(t, err)
	assert.Equal(t, "5", res.Data[0].String("total"))
}

func TestExecuteCertificateAmbiguousName(t *testing.T) {
	p := newTestPipeline(t)
	req := &models.ActionRequest{Action: models.ActionGenerateCertificate, Certificate: &models.CertificateParams{StudentRef: "juan", Kind: "estudio"}}

	res, err := p.executor.Execute(context.Background(), req, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrAmbiguousReference))
	assert.ElementsMatch(t, []int64{3, 4, 5}, models.RowIDs(res.Data))
	assert.Zero(t, p.issuer.count())
}

func TestExecuteCertificateScopeBreaksTie(t *testing.T) {
	p := newTestPipeline(t)
	req := &models.ActionRequest{Action: models.ActionGenerateCertificate, Certificate: &models.CertificateParams{StudentRef: "juan", Kind: "estudio"}}

	res, err := p.executor.Execute(context.Background(), req, []int64{4, 6})
	require.NoError(t, err)
	require.NotNil(t, res.Certificate)
	assert.Equal(t, int64(4), p.issuer.last().Student.ID)
}

func TestExecuteCertificatePreviewByName(t *testing.T) {
	p := newTestPipeline(t)
	req := &models.ActionRequest{Action: models.ActionGenerateCertificate, Certificate: &models.CertificateParams{StudentRef: "Luis Perez", Kind: "Estudios", IncludePhoto: true}}

	res, err := p.executor.Execute(context.Background(), req, nil)
	require.NoError(t, err)
	require.NotNil(t, res.Certificate)
	assert.True(t, res.Certificate.Preview)
	assert.Equal(t, []int64{6}, models.RowIDs(res.Data))

	issued := p.issuer.last()
	assert.Equal(t, "LUIS PEREZ HERNANDEZ", issued.Student.Nombre)
	assert.Equal(t, models.CertificateStudy, issued.Kind)
	assert.True(t, issued.IncludePhoto)
	assert.True(t, issued.Preview)
}

func TestExecuteGradesCertificateRequiresGrades(t *testing.T) {
	p := newTestPipeline(t)
	req := &models.ActionRequest{Action: models.ActionGenerateCertificate, Certificate: &models.CertificateParams{StudentRef: "3", Kind: "calificaciones"}}

	res, err := p.executor.Execute(context.Background(), req, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrCertificateFailed))
	assert.Equal(t, appErrors.ErrCertificateFailed.Code, res.ErrorCode)
	assert.Zero(t, p.issuer.count())
}

func TestExecutePrepareCertificateByCURP(t *testing.T) {
	p := newTestPipeline(t)
	req := &models.ActionRequest{Action: models.ActionPrepareCertificate, Certificate: &models.CertificateParams{StudentRef: "PEHL140214HDFRRSA6", Kind: "traslado"}}

	res, err := p.executor.Execute(context.Background(), req, nil)
	require.NoError(t, err)
	assert.Nil(t, res.Certificate)
	assert.Equal(t, []int64{6}, models.RowIDs(res.Data))
	assert.Zero(t, p.issuer.count())
}

func TestExecuteUnknownStudent(t *testing.T) {
	p := newTestPipeline(t)
	req := &models.ActionRequest{Action: models.ActionGenerateCertificate, Certificate: &models.CertificateParams{StudentRef: "999", Kind: "estudio"}}

	_, err := p.executor.Execute(context.Background(), req, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrStudentNotFound))
}

type flakyRunner struct {
	errs  []error
	calls int
}

func (f *flakyRunner) Run(ctx context.Context, _ string, _ ...interface{}) ([]models.Row, error) {
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	return []models.Row{{"id": int64(1), "nombre": "  ANA GARCIA LOPEZ "}}, nil
}

func TestExecuteRetriesBusyDatabaseOnce(t *testing.T) {
	p := newTestPipeline(t)
	runner := &flakyRunner{errs: []error{errors.New("database is locked (5) (SQLITE_BUSY)")}}
	exec := NewExecutorService(p.validator, p.compiler, runner, p.students, p.issuer, nil, ExecutorOptions{}, nil)
	req := models.NewSearchRequest(crit(models.TableAlumnos, models.FieldNombre, models.OpLike, "ana"), nil, 0, "")

	res, err := exec.Execute(context.Background(), req, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, runner.calls)
	assert.Equal(t, "ANA GARCIA LOPEZ", res.Data[0].Name())
}

func TestExecuteSurfacesPersistentBusyAsTransport(t *testing.T) {
	p := newTestPipeline(t)
	busy := errors.New("database is locked")
	runner := &flakyRunner{errs: []error{busy, busy}}
	exec := NewExecutorService(p.validator, p.compiler, runner, p.students, p.issuer, nil, ExecutorOptions{}, nil)
	req := models.NewSearchRequest(crit(models.TableAlumnos, models.FieldNombre, models.OpLike, "ana"), nil, 0, "")

	res, err := exec.Execute(context.Background(), req, nil)
	require.Error(t, err)
	assert.Equal(t, appErrors.ClassTransport, appErrors.ClassOf(err))
	assert.Equal(t, appErrors.ErrDBUnavailable.Code, res.ErrorCode)
	assert.Equal(t, 2, runner.calls)
}

func TestExecuteQueryFailureIsNotRetried(t *testing.T) {
	p := newTestPipeline(t)
	runner := &flakyRunner{errs: []error{errors.New("no such column: x")}}
	exec := NewExecutorService(p.validator, p.compiler, runner, p.students, p.issuer, nil, ExecutorOptions{}, nil)
	req := models.NewSearchRequest(crit(models.TableAlumnos, models.FieldNombre, models.OpLike, "ana"), nil, 0, "")

	_, err := exec.Execute(context.Background(), req, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrQueryFailed))
	assert.Equal(t, 1, runner.calls)
}

func TestExecuteCancelled(t *testing.T) {
	p := newTestPipeline(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	runner := &flakyRunner{errs: []error{context.Canceled}}
	exec := NewExecutorService(p.validator, p.compiler, runner, p.students, p.issuer, nil, ExecutorOptions{}, nil)
	req := models.NewSearchRequest(crit(models.TableAlumnos, models.FieldNombre, models.OpLike, "ana"), nil, 0, "")

	res, err := exec.Execute(ctx, req, nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, appErrors.ErrTurnCancelled.Code, res.ErrorCode)
}

func TestExecuteRejectsUnknownAction(t *testing.T) {
	p := newTestPipeline(t)
	res, err := p.executor.Execute(context.Background(), &models.ActionRequest{Action: "BORRAR_TODO"}, nil)
	require.Error(t, err)
	assert.Equal(t, appErrors.ClassPlanning, appErrors.ClassOf(err))
	assert.Equal(t, models.StageFailed, res.Stage)
}
