package service

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/sma-adp-assistant/internal/models"
	"github.com/noah-isme/sma-adp-assistant/internal/query"
	appErrors "github.com/noah-isme/sma-adp-assistant/pkg/errors"
)

// operators CALCULAR_ESTADISTICA leaves to CONTAR_UNIVERSAL.
var countOnlyOperators = map[models.Operator]bool{
	models.OpBetween: true,
	models.OpIn:      true,
	models.OpNotIn:   true,
}

// ActionValidator checks planner output before execution.
type ActionValidator struct {
	compiler *query.Compiler
	mapper   *query.FieldMapper
	validate *validator.Validate
}

// NewActionValidator constructs the validator around the compiler it dry-runs.
func NewActionValidator(compiler *query.Compiler, validate *validator.Validate) *ActionValidator {
	if validate == nil {
		validate = validator.New()
	}
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return &ActionValidator{compiler: compiler, mapper: compiler.Mapper(), validate: validate}
}

// Validate accepts or rejects req. Accepted requests are normalised in place:
// aliases become canonical names and every criterion references a real
// (table, field) pair with a normalised value.
func (v *ActionValidator) Validate(req *models.ActionRequest) error {
	if req == nil {
		return appErrors.Clone(appErrors.ErrMissingParameter, "no se recibió ninguna acción")
	}
	if err := v.validateOne(req); err != nil {
		return err
	}
	if len(req.Steps) > 0 && req.Strategy != models.StrategySequential {
		req.Strategy = models.StrategySequential
	}
	for i := range req.Steps {
		if len(req.Steps[i].Steps) > 0 {
			return appErrors.Clone(appErrors.ErrInvalidAction, "las acciones secuenciales no pueden anidarse")
		}
		if err := v.validateOne(&req.Steps[i]); err != nil {
			return appErrors.Clone(appErrors.FromError(err), fmt.Sprintf("paso %d: %s", i+1, appErrors.FromError(err).Message))
		}
	}
	return nil
}

func (v *ActionValidator) validateOne(req *models.ActionRequest) error {
	spec, ok := LookupAction(req.Action)
	if !ok {
		return appErrors.Clone(appErrors.ErrInvalidAction, fmt.Sprintf("la acción %q no existe en el catálogo", req.Action))
	}
	req.Action = spec.Name.Canonical()

	if req.Certificate != nil {
		req.Certificate.Kind = normaliseCertificateKind(req.Certificate.Kind)
	}
	if req.Transform != nil {
		req.Transform.Kind = normaliseCertificateKind(req.Transform.Kind)
	}
	params := paramsFor(req)
	if params == nil {
		return appErrors.Clone(appErrors.ErrMissingParameter, fmt.Sprintf("%s requiere parámetros", req.Action))
	}
	if err := v.validate.Struct(params); err != nil {
		return v.structError(req.Action, err)
	}

	switch req.Action {
	case models.ActionSearch:
		principal, err := v.criterion(*req.Search.Principal)
		if err != nil {
			return err
		}
		req.Search.Principal = &principal
		if req.Search.Additional, err = v.criteria(req.Search.Additional); err != nil {
			return err
		}
	case models.ActionStatistics:
		if err := v.statistics(req.Statistics); err != nil {
			return err
		}
	case models.ActionCount:
		var err error
		if req.Count.Criteria, err = v.criteria(req.Count.Criteria); err != nil {
			return err
		}
	case models.ActionFilterByGrades:
		var err error
		if req.Grades.Filter, err = v.criteria(req.Grades.Filter); err != nil {
			return err
		}
	case models.ActionFullListing:
		var err error
		if req.Listing.Filter, err = v.criteria(req.Listing.Filter); err != nil {
			return err
		}
		if req.Listing.OrderBy != "" {
			if _, _, err := v.mapper.Column(req.Listing.OrderBy); err != nil {
				return err
			}
		}
	case models.ActionPrepareCertificate, models.ActionGenerateCertificate, models.ActionTransformPDF:
		return nil
	}
	return v.dryCompile(req)
}

func (v *ActionValidator) statistics(p *models.StatisticsParams) error {
	for _, cr := range p.Filter {
		if countOnlyOperators[cr.Operator] {
			return appErrors.Clone(appErrors.ErrUnsupportedOperator,
				fmt.Sprintf("CALCULAR_ESTADISTICA no admite el operador %s; usa CONTAR_UNIVERSAL", cr.Operator))
		}
	}
	var err error
	if p.Filter, err = v.criteria(p.Filter); err != nil {
		return err
	}
	for _, name := range []string{p.GroupBy, p.Field} {
		if name == "" || (name == p.GroupBy && isSubjectName(name)) {
			continue
		}
		if _, _, err := v.mapper.Column(name); err != nil {
			return err
		}
	}
	return nil
}

func (v *ActionValidator) criteria(list models.CriteriaList) (models.CriteriaList, error) {
	if len(list) == 0 {
		return list, nil
	}
	out := make(models.CriteriaList, 0, len(list))
	for _, cr := range list {
		resolved, err := v.criterion(cr)
		if err != nil {
			return nil, err
		}
		out = append(out, resolved)
	}
	return out, nil
}

// criterion resolves the pair against the live schema and checks the
// operator against the column type.
func (v *ActionValidator) criterion(cr models.Criterion) (models.Criterion, error) {
	if !cr.Operator.Known() {
		return cr, appErrors.Clone(appErrors.ErrUnsupportedOperator, fmt.Sprintf("operador desconocido: %s", cr.Operator))
	}
	resolved, err := v.mapper.Resolve(cr)
	if err != nil {
		return cr, err
	}
	col, ok := v.mapper.Schema().Column(resolved.Table, resolved.Field)
	if !ok {
		return cr, appErrors.Clone(appErrors.ErrUnknownField, fmt.Sprintf("campo desconocido: %s.%s", resolved.Table, resolved.Field))
	}
	op := resolved.Operator

	if col.Kind == models.KindJSON {
		switch op {
		case models.OpJSONPromedio, models.OpJSONMateria, models.OpJSONContains, models.OpIsNull, models.OpIsNotNull:
			return resolved, nil
		case models.OpEq, models.OpNotEq:
			if emptyGradesLiteral(resolved.Value) {
				return resolved, nil
			}
		}
		return cr, appErrors.Clone(appErrors.ErrGradesOperator,
			fmt.Sprintf("calificaciones no admite %s; usa JSON_PROMEDIO, JSON_MATERIA, JSON_CONTAINS, IS_NULL o IS_NOT_NULL", op))
	}
	if op.IsJSON() {
		return cr, appErrors.Clone(appErrors.ErrOperatorMismatch, fmt.Sprintf("%s solo aplica a calificaciones, no a %s", op, resolved.Field))
	}

	switch op {
	case models.OpLike, models.OpStartsWith, models.OpEndsWith:
		if col.Numeric() {
			return cr, appErrors.Clone(appErrors.ErrOperatorMismatch, fmt.Sprintf("%s es numérico y no admite %s", resolved.Field, op))
		}
	case models.OpGt, models.OpLt, models.OpGte, models.OpLte, models.OpBetween:
		if !col.Numeric() && !orderedText(col.Name) {
			return cr, appErrors.Clone(appErrors.ErrOperatorMismatch, fmt.Sprintf("%s es texto y no admite %s", resolved.Field, op))
		}
	}
	if col.Numeric() && op != models.OpBetween && op != models.OpIn && op != models.OpNotIn && resolved.Value != nil {
		if !isNumeric(resolved.Value) {
			return cr, appErrors.Clone(appErrors.ErrOperatorMismatch, fmt.Sprintf("%s espera un número, no %v", resolved.Field, resolved.Value))
		}
	}
	return resolved, nil
}

func (v *ActionValidator) dryCompile(req *models.ActionRequest) error {
	var err error
	switch req.Action {
	case models.ActionSearch:
		_, err = v.compiler.Search(req.Search.Criteria(), int(req.Search.Limit))
	case models.ActionStatistics:
		_, err = v.compiler.Statistics(*req.Statistics)
	case models.ActionCount:
		_, err = v.compiler.Count(req.Count.Criteria)
	case models.ActionFilterByGrades:
		_, err = v.compiler.GradesFilter(*req.Grades)
	case models.ActionFullListing:
		_, err = v.compiler.Listing(*req.Listing)
	}
	return err
}

func (v *ActionValidator) structError(action models.ActionName, err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		if fe.Tag() == "required" {
			return appErrors.Clone(appErrors.ErrMissingParameter, fmt.Sprintf("%s requiere el parámetro %s", action, fe.Field()))
		}
		return appErrors.Clone(appErrors.ErrMissingParameter, fmt.Sprintf("%s: valor no permitido para %s (%v)", action, fe.Field(), fe.Value()))
	}
	return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "parámetros inválidos")
}

// paramsFor returns the parameter variant matching the action, or nil.
func paramsFor(req *models.ActionRequest) interface{} {
	switch req.Action {
	case models.ActionSearch:
		if req.Search != nil {
			return req.Search
		}
	case models.ActionStatistics:
		if req.Statistics != nil {
			return req.Statistics
		}
	case models.ActionCount:
		if req.Count != nil {
			return req.Count
		}
	case models.ActionFilterByGrades:
		if req.Grades != nil {
			return req.Grades
		}
	case models.ActionFullListing:
		if req.Listing != nil {
			return req.Listing
		}
	case models.ActionPrepareCertificate, models.ActionGenerateCertificate:
		if req.Certificate != nil {
			return req.Certificate
		}
	case models.ActionTransformPDF:
		if req.Transform != nil {
			return req.Transform
		}
	}
	return nil
}

// orderedText columns sort correctly as text (ISO dates, cycles).
func orderedText(field string) bool {
	return strings.HasPrefix(field, "fecha") || field == "ciclo_escolar"
}

func normaliseCertificateKind(kind string) string {
	k := strings.ToLower(strings.TrimSpace(kind))
	switch k {
	case "estudios", "de estudios", "inscripcion", "inscripción":
		return models.CertificateStudy
	case "calificacion", "calificación", "boleta", "notas":
		return models.CertificateGrades
	case "baja", "traslados":
		return models.CertificateTransfer
	}
	return k
}

func isSubjectName(name string) bool {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "materia", "materias", "asignatura", "asignaturas":
		return true
	}
	return false
}

func isNumeric(v interface{}) bool {
	switch v.(type) {
	case int, int32, int64, float32, float64:
		return true
	}
	return false
}

func emptyGradesLiteral(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return models.IsEmptyGrades(t)
	case []interface{}:
		return len(t) == 0
	}
	return false
}
