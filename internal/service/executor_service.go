package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-adp-assistant/internal/conversation"
	"github.com/noah-isme/sma-adp-assistant/internal/models"
	"github.com/noah-isme/sma-adp-assistant/internal/query"
	appErrors "github.com/noah-isme/sma-adp-assistant/pkg/errors"
)

type queryRunner interface {
	Run(ctx context.Context, query string, args ...interface{}) ([]models.Row, error)
}

type studentFinder interface {
	FindByID(ctx context.Context, id int64) (*models.StudentDetail, error)
	FindByCURP(ctx context.Context, curp string) (*models.StudentDetail, error)
	SearchByName(ctx context.Context, name string, limit int) ([]models.StudentDetail, error)
}

// ExecutorOptions tune the executor.
type ExecutorOptions struct {
	Timeout    time.Duration
	RetryDelay time.Duration
	Guard      query.Guard
}

// ExecutorService compiles validated action requests, runs them against
// SQLite and normalises the rows.
type ExecutorService struct {
	validator    *ActionValidator
	compiler     *query.Compiler
	runner       queryRunner
	students     studentFinder
	certificates CertificateIssuer
	metrics      *MetricsService
	opts         ExecutorOptions
	logger       *zap.Logger
}

// NewExecutorService constructs the executor.
func NewExecutorService(validator *ActionValidator, compiler *query.Compiler, runner queryRunner, students studentFinder, certificates CertificateIssuer, metrics *MetricsService, opts ExecutorOptions, logger *zap.Logger) *ExecutorService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 100 * time.Millisecond
	}
	return &ExecutorService{
		validator:    validator,
		compiler:     compiler,
		runner:       runner,
		students:     students,
		certificates: certificates,
		metrics:      metrics,
		opts:         opts,
		logger:       logger,
	}
}

// Execute validates and runs req. The result is never nil; err is set when
// Success is false and carries the taxonomy code. scope restricts
// certificate name lookups to ids already shown to the user.
func (e *ExecutorService) Execute(ctx context.Context, req *models.ActionRequest, scope []int64) (*models.ExecutionResult, error) {
	start := time.Now()
	action := models.ActionName("")
	if req != nil {
		action = req.Action.Canonical()
	}
	if err := e.validator.Validate(req); err != nil {
		return e.fail(action, err, start), err
	}

	result, err := e.executeOne(ctx, req, scope)
	if err != nil {
		return e.failWith(result, req.Action, err, start), err
	}

	if req.Strategy == models.StrategySequential {
		sqls := []string{result.SQL}
		for i := range req.Steps {
			ids := models.RowIDs(result.Data)
			if len(ids) == 0 {
				break
			}
			step := req.Steps[i]
			restrict(&step, ids)
			next, err := e.executeOne(ctx, &step, ids)
			if err != nil {
				return e.failWith(next, step.Action, fmt.Errorf("paso %d: %w", i+1, err), start), err
			}
			sqls = append(sqls, next.SQL)
			result = next
		}
		result.SQL = strings.Join(nonEmpty(sqls), ";\n")
	}

	result.Stage = models.StageDone
	result.Duration = time.Since(start)
	if result.RowCount == 0 && !result.Aggregate && result.Certificate == nil {
		result.Success = false
		result.ErrorCode = appErrors.ErrNoResults.Code
		result.Message = "No se encontraron alumnos con esos criterios."
		return result, appErrors.Clone(appErrors.ErrNoResults, result.Message)
	}
	return result, nil
}

func (e *ExecutorService) executeOne(ctx context.Context, req *models.ActionRequest, scope []int64) (*models.ExecutionResult, error) {
	switch req.Action {
	case models.ActionPrepareCertificate, models.ActionGenerateCertificate:
		return e.certificate(ctx, req, scope)
	case models.ActionTransformPDF:
		return e.transform(ctx, req, scope)
	}

	stmt, err := e.compile(req)
	if err != nil {
		return nil, err
	}
	res := &models.ExecutionResult{ActionUsed: req.Action, Stage: models.StageCompiled, Aggregate: stmt.Aggregate}

	stmt, err = e.opts.Guard.Enforce(stmt)
	if err != nil {
		e.logger.Error("statement rejected", zap.String("action", string(req.Action)), zap.String("sql", stmt.Display()), zap.Error(err))
		return res, err
	}
	res.SQL = stmt.Display()

	rows, err := e.run(ctx, stmt)
	if err != nil {
		return res, err
	}
	res.Stage = models.StageExecuted

	res.Data = normaliseRows(rows)
	res.RowCount = len(res.Data)
	res.Stage = models.StageNormalised
	res.Success = true
	res.Message = resultMessage(res)
	return res, nil
}

func (e *ExecutorService) compile(req *models.ActionRequest) (query.Statement, error) {
	switch req.Action {
	case models.ActionSearch:
		return e.compiler.Search(req.Search.Criteria(), int(req.Search.Limit))
	case models.ActionStatistics:
		return e.compiler.Statistics(*req.Statistics)
	case models.ActionCount:
		return e.compiler.Count(req.Count.Criteria)
	case models.ActionFilterByGrades:
		return e.compiler.GradesFilter(*req.Grades)
	case models.ActionFullListing:
		return e.compiler.Listing(*req.Listing)
	}
	return query.Statement{}, appErrors.Clone(appErrors.ErrInvalidAction, fmt.Sprintf("%s no genera SQL", req.Action))
}

// run executes stmt under the query timeout, retrying once when SQLite
// reports a locked or busy database.
func (e *ExecutorService) run(ctx context.Context, stmt query.Statement) ([]models.Row, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(e.opts.RetryDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}
		qctx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
		started := time.Now()
		rows, err := e.runner.Run(qctx, stmt.SQL, stmt.Args...)
		timedOut := errors.Is(qctx.Err(), context.DeadlineExceeded)
		cancel()
		e.metrics.ObserveDBQuery(stmt.Label, time.Since(started))
		if err == nil {
			return rows, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if timedOut {
			return nil, appErrors.Wrap(err, appErrors.ErrDBUnavailable.Code, appErrors.ErrDBUnavailable.Status, "la consulta excedió el tiempo límite")
		}
		lastErr = err
		if !isBusy(err) {
			e.logger.Warn("query failed", zap.String("label", stmt.Label), zap.String("sql", stmt.Display()), zap.Error(err))
			return nil, appErrors.Wrap(err, appErrors.ErrQueryFailed.Code, appErrors.ErrQueryFailed.Status, "la consulta no pudo ejecutarse")
		}
		e.logger.Warn("database busy, retrying", zap.String("label", stmt.Label), zap.Int("attempt", attempt+1))
	}
	return nil, appErrors.Wrap(lastErr, appErrors.ErrDBUnavailable.Code, appErrors.ErrDBUnavailable.Status, "la base de datos está ocupada")
}

func (e *ExecutorService) certificate(ctx context.Context, req *models.ActionRequest, scope []int64) (*models.ExecutionResult, error) {
	p := req.Certificate
	res := &models.ExecutionResult{ActionUsed: req.Action, Stage: models.StageCompiled, Data: []models.Row{}}
	student, candidates, err := e.resolveStudent(ctx, p.StudentRef.String(), scope)
	if err != nil {
		res.Data = candidates
		res.RowCount = len(candidates)
		return res, err
	}
	res.Stage = models.StageExecuted
	if student.Grado == nil {
		return res, appErrors.Clone(appErrors.ErrCertificateFailed, fmt.Sprintf("%s no tiene datos escolares del ciclo actual", student.Nombre))
	}
	if p.Kind == models.CertificateGrades {
		grades, err := student.Grades()
		if err != nil || len(grades) == 0 {
			return res, appErrors.Clone(appErrors.ErrCertificateFailed, fmt.Sprintf("%s no tiene calificaciones registradas", student.Nombre))
		}
	}
	res.Data = []models.Row{student.Row()}
	res.RowCount = 1
	res.Stage = models.StageNormalised
	res.Success = true

	if req.Action == models.ActionPrepareCertificate {
		res.Message = fmt.Sprintf("Datos listos para la constancia de %s de %s.", p.Kind, student.Nombre)
		return res, nil
	}
	if e.certificates == nil {
		return res, appErrors.Clone(appErrors.ErrCertificateFailed, "el generador de constancias no está disponible")
	}
	info, err := e.certificates.Issue(ctx, CertificateRequest{
		Student:      *student,
		Kind:         p.Kind,
		IncludePhoto: p.IncludePhoto,
		Preview:      p.IsPreview(),
	})
	if err != nil {
		res.Success = false
		return res, err
	}
	res.Certificate = info
	if info.Preview {
		res.Message = fmt.Sprintf("Vista previa de la constancia de %s de %s generada.", p.Kind, student.Nombre)
	} else {
		res.Message = fmt.Sprintf("Constancia de %s de %s emitida.", p.Kind, student.Nombre)
	}
	return res, nil
}

func (e *ExecutorService) transform(ctx context.Context, req *models.ActionRequest, scope []int64) (*models.ExecutionResult, error) {
	p := req.Transform
	res := &models.ExecutionResult{ActionUsed: req.Action, Stage: models.StageCompiled, Data: []models.Row{}}
	if p.StudentRef.String() == "" {
		return res, appErrors.Clone(appErrors.ErrMissingParameter, "TRANSFORMAR_PDF requiere el alumno de la constancia")
	}
	student, candidates, err := e.resolveStudent(ctx, p.StudentRef.String(), scope)
	if err != nil {
		res.Data = candidates
		res.RowCount = len(candidates)
		return res, err
	}
	if e.certificates == nil {
		return res, appErrors.Clone(appErrors.ErrCertificateFailed, "el generador de constancias no está disponible")
	}
	info, err := e.certificates.Issue(ctx, CertificateRequest{Student: *student, Kind: p.Kind, Preview: true, SourcePath: p.SourcePath})
	if err != nil {
		return res, err
	}
	res.Data = []models.Row{student.Row()}
	res.RowCount = 1
	res.Stage = models.StageNormalised
	res.Success = true
	res.Certificate = info
	res.Message = fmt.Sprintf("El PDF se transformó en una constancia de %s para %s.", p.Kind, student.Nombre)
	return res, nil
}

// resolveStudent accepts an id, an 18 character CURP, an exact name or a
// unique name substring. Several matches return the candidates with
// AMBIGUOUS_REFERENCE; ids in scope break ties.
func (e *ExecutorService) resolveStudent(ctx context.Context, ref string, scope []int64) (*models.StudentDetail, []models.Row, error) {
	ref = strings.TrimSpace(ref)
	started := time.Now()
	defer func() { e.metrics.ObserveDBQuery("student_lookup", time.Since(started)) }()

	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		st, err := e.students.FindByID(ctx, id)
		return st, nil, e.lookupError(err, ref)
	}
	if isCURP(ref) {
		st, err := e.students.FindByCURP(ctx, ref)
		if err == nil {
			return st, nil, nil
		}
		if !errors.Is(err, appErrors.ErrStudentNotFound) {
			return nil, nil, e.lookupError(err, ref)
		}
	}

	matches, err := e.students.SearchByName(ctx, ref, 10)
	if err != nil {
		return nil, nil, e.lookupError(err, ref)
	}
	rows := make([]models.Row, len(matches))
	for i, m := range matches {
		rows[i] = m.Row()
	}
	res, err := conversation.ResolveName(rows, ref)
	if err == nil {
		return &matches[res.Index], nil, nil
	}
	if errors.Is(err, appErrors.ErrAmbiguousReference) && len(scope) > 0 {
		inScope := map[int64]bool{}
		for _, id := range scope {
			inScope[id] = true
		}
		var pick []int
		for i, m := range matches {
			if inScope[m.ID] {
				pick = append(pick, i)
			}
		}
		if len(pick) == 1 {
			return &matches[pick[0]], nil, nil
		}
	}
	if errors.Is(err, appErrors.ErrAmbiguousReference) {
		return nil, res.Candidates, err
	}
	return nil, nil, appErrors.Clone(appErrors.ErrStudentNotFound, fmt.Sprintf("no encontré ningún alumno que coincida con %q", ref))
}

func (e *ExecutorService) lookupError(err error, ref string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, appErrors.ErrStudentNotFound) {
		return appErrors.Clone(appErrors.ErrStudentNotFound, fmt.Sprintf("no encontré ningún alumno con identificador %q", ref))
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return appErrors.Wrap(err, appErrors.ErrDBUnavailable.Code, appErrors.ErrDBUnavailable.Status, "no se pudo consultar el alumno")
}

func (e *ExecutorService) fail(action models.ActionName, err error, start time.Time) *models.ExecutionResult {
	appErr := appErrors.FromError(err)
	res := models.Failed(action, appErr.Code, appErr.Message)
	res.Duration = time.Since(start)
	return res
}

func (e *ExecutorService) failWith(res *models.ExecutionResult, action models.ActionName, err error, start time.Time) *models.ExecutionResult {
	out := e.fail(action, err, start)
	if errors.Is(err, context.Canceled) {
		out.ErrorCode = appErrors.ErrTurnCancelled.Code
	}
	if res != nil {
		out.SQL = res.SQL
		// candidates of an ambiguous certificate lookup
		if errors.Is(err, appErrors.ErrAmbiguousReference) {
			out.Data = res.Data
			out.RowCount = res.RowCount
		}
	}
	return out
}

// restrict narrows a sequential step to the ids produced by the previous one.
func restrict(req *models.ActionRequest, ids []int64) {
	cr := models.Criterion{Table: models.TableAlumnos, Field: models.FieldID, Operator: models.OpIn, Value: idValues(ids)}
	switch {
	case req.Search != nil:
		req.Search.Additional = append(models.CriteriaList{cr}, req.Search.Additional...)
	case req.Statistics != nil:
		req.Statistics.Filter = append(req.Statistics.Filter, cr)
	case req.Count != nil:
		req.Count.Criteria = append(req.Count.Criteria, cr)
	case req.Grades != nil:
		req.Grades.Filter = append(req.Grades.Filter, cr)
	case req.Listing != nil:
		req.Listing.Filter = append(req.Listing.Filter, cr)
	}
}

func idValues(ids []int64) []interface{} {
	out := make([]interface{}, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}

func normaliseRows(rows []models.Row) []models.Row {
	out := make([]models.Row, len(rows))
	for i, row := range rows {
		clean := make(models.Row, len(row))
		for k, v := range row {
			if s, ok := v.(string); ok {
				v = strings.TrimSpace(s)
			}
			clean[k] = v
		}
		out[i] = clean
	}
	return out
}

func resultMessage(res *models.ExecutionResult) string {
	if res.Aggregate {
		if res.RowCount == 1 {
			if total, ok := res.Data[0]["total"]; ok {
				return fmt.Sprintf("Total: %v.", total)
			}
		}
		return fmt.Sprintf("%d grupos calculados.", res.RowCount)
	}
	switch res.RowCount {
	case 0:
		return "No se encontraron alumnos con esos criterios."
	case 1:
		return "Se encontró 1 alumno."
	}
	return fmt.Sprintf("Se encontraron %d alumnos.", res.RowCount)
}

func isBusy(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "sqlite_busy") || strings.Contains(msg, "database is busy")
}

func isCURP(ref string) bool {
	if len(ref) != 18 {
		return false
	}
	for _, r := range strings.ToUpper(ref) {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

func nonEmpty(values []string) []string {
	out := values[:0]
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
