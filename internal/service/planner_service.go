package service

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-adp-assistant/internal/conversation"
	"github.com/noah-isme/sma-adp-assistant/internal/models"
	"github.com/noah-isme/sma-adp-assistant/internal/prompt"
	appErrors "github.com/noah-isme/sma-adp-assistant/pkg/errors"
	"github.com/noah-isme/sma-adp-assistant/pkg/llm"
)

// PlannerOptions tune the planner prompt.
type PlannerOptions struct {
	SampleRows int
	MaxLevels  int
}

// PlannerService turns a verdict into one validated ActionRequest.
type PlannerService struct {
	llm       llm.Completer
	prompts   *prompt.Manager
	validator *ActionValidator
	schema    schemaSource
	opts      PlannerOptions
	logger    *zap.Logger
}

// NewPlannerService constructs the planner.
func NewPlannerService(completer llm.Completer, prompts *prompt.Manager, validator *ActionValidator, schema schemaSource, opts PlannerOptions, logger *zap.Logger) *PlannerService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prompts == nil {
		prompts = prompt.NewManager()
	}
	if opts.SampleRows <= 0 {
		opts.SampleRows = 3
	}
	if opts.MaxLevels <= 0 {
		opts.MaxLevels = 3
	}
	return &PlannerService{llm: completer, prompts: prompts, validator: validator, schema: schema, opts: opts, logger: logger}
}

// Plan returns a request that already passed the validator. A rejected
// answer is retried once with the validation error; the second rejection is
// returned with its planning or content code.
func (p *PlannerService) Plan(ctx context.Context, state *conversation.State, message string, v *models.MasterVerdict) (*models.ActionRequest, error) {
	if req := p.direct(state, v); req != nil {
		err := p.validator.Validate(req)
		if err == nil {
			p.logger.Debug("planner bypassed", zap.String("action", string(req.Action)))
			applyLimit(req, int(v.Entities.Limit))
			return req, nil
		}
		p.logger.Debug("direct plan rejected", zap.String("action", string(req.Action)), zap.Error(err))
	}

	in := prompt.PlannerInput{
		Message: message,
		Verdict: verdictSummary(v),
		Filters: filtersText(masterFilters(v)),
		Catalog: actionDocs(CatalogFor(v.Category)),
		Schema:  p.schema.Schema().Summary(),
		Context: conversation.FormatForLLM(state.Stack, conversation.FormatOptions{IncludeIDs: true, SampleRows: p.opts.SampleRows, MaxLevels: p.opts.MaxLevels}),
	}
	text, err := p.complete(ctx, p.prompts.Planner, in)
	if err != nil {
		return nil, err
	}
	req, perr := p.accept(text)
	if perr == nil {
		applyLimit(req, int(v.Entities.Limit))
		return req, nil
	}
	p.logger.Warn("planner output rejected, retrying", zap.String("code", appErrors.FromError(perr).Code), zap.Error(perr))

	in.Previous = strings.TrimSpace(text)
	in.Error = appErrors.FromError(perr).Message
	text, err = p.complete(ctx, p.prompts.PlannerRetry, in)
	if err != nil {
		return nil, err
	}
	req, perr = p.accept(text)
	if perr != nil {
		p.logger.Warn("planner output rejected twice", zap.Error(perr))
		return nil, perr
	}
	applyLimit(req, int(v.Entities.Limit))
	return req, nil
}

// applyLimit fills the row limit the planner left out with the one the
// analyser extracted from the message.
func applyLimit(req *models.ActionRequest, limit int) {
	if limit <= 0 {
		return
	}
	switch {
	case req.Search != nil && req.Search.Limit <= 0:
		req.Search.Limit = models.FlexInt(limit)
	case req.Grades != nil && req.Grades.Limit <= 0:
		req.Grades.Limit = models.FlexInt(limit)
	case req.Listing != nil && req.Listing.Limit <= 0:
		req.Listing.Limit = models.FlexInt(limit)
	}
	for i := range req.Steps {
		applyLimit(&req.Steps[i], limit)
	}
}

func (p *PlannerService) complete(ctx context.Context, render func(prompt.PlannerInput) (string, error), in prompt.PlannerInput) (string, error) {
	text, err := render(in)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "no se pudo preparar la planificación")
	}
	return p.llm.Complete(ctx, text)
}

func (p *PlannerService) accept(text string) (*models.ActionRequest, error) {
	var req models.ActionRequest
	if err := llm.DecodeJSON(text, &req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrLLMInvalidJSON.Code, appErrors.ErrLLMInvalidJSON.Status, "la acción no es un JSON válido: "+err.Error())
	}
	if err := p.validator.Validate(&req); err != nil {
		return nil, err
	}
	return &req, nil
}

// direct builds the request without the model when the verdict already pins
// it down: a resolved certificate student, an attachment to transform, or
// a filter over the ids of the previous level.
func (p *PlannerService) direct(state *conversation.State, v *models.MasterVerdict) *models.ActionRequest {
	rs := v.Entities.ResolvedStudent
	kind := normaliseCertificateKind(v.Entities.CertificateKind.String())
	if kind == "" {
		kind = models.CertificateStudy
	}
	switch {
	case v.Category == models.CategoryCertificate && rs != nil:
		preview := true
		return &models.ActionRequest{
			Strategy:  models.StrategySimple,
			Action:    models.ActionGenerateCertificate,
			Reasoning: "alumno resuelto por el analizador",
			Certificate: &models.CertificateParams{
				StudentRef:   models.FlexString(strconv.FormatInt(rs.ID, 10)),
				Kind:         kind,
				IncludePhoto: v.Entities.IncludePhoto,
				Preview:      &preview,
			},
		}
	case v.Category == models.CategoryTransform && rs != nil && v.Entities.Attachment != "":
		return &models.ActionRequest{
			Strategy:  models.StrategySimple,
			Action:    models.ActionTransformPDF,
			Reasoning: "PDF adjunto con alumno resuelto",
			Transform: &models.TransformParams{
				SourcePath: v.Entities.Attachment.String(),
				Kind:       kind,
				StudentRef: models.FlexString(strconv.FormatInt(rs.ID, 10)),
			},
		}
	}

	filterContinuation := v.Category == models.CategoryContinuation && v.SubType == models.SubTypeFilter
	if !filterContinuation && !(v.RequiresContext && v.Category == models.CategorySearch) {
		return nil
	}
	level, _, ok := state.Stack.TopWithData()
	if !ok {
		return nil
	}
	ids := level.IDs()
	filters := masterFilters(v)
	if len(ids) == 0 || len(filters) == 0 {
		return nil
	}
	limit := len(ids)
	if l := int(v.Entities.Limit); l > 0 && l < limit {
		limit = l
	}
	principal := models.Criterion{Table: models.TableAlumnos, Field: models.FieldID, Operator: models.OpIn, Value: idValues(ids)}
	return models.NewSearchRequest(principal, filters, limit, "filtro sobre los resultados anteriores")
}

// masterFilters merges the explicit filters of the verdict with its grade,
// group and shift entities.
func masterFilters(v *models.MasterVerdict) models.CriteriaList {
	out := append(models.CriteriaList(nil), v.Entities.Filters...)
	has := func(field string) bool {
		for _, cr := range out {
			if strings.EqualFold(cr.Field, field) {
				return true
			}
		}
		return false
	}
	if g := int(v.Entities.Grade); g > 0 && !has(models.FieldGrado) {
		out = append(out, models.Criterion{Table: models.TableDatosEscolares, Field: models.FieldGrado, Operator: models.OpEq, Value: g})
	}
	if s := strings.TrimSpace(v.Entities.Group.String()); s != "" && !has(models.FieldGrupo) {
		out = append(out, models.Criterion{Table: models.TableDatosEscolares, Field: models.FieldGrupo, Operator: models.OpEq, Value: s})
	}
	if s := strings.TrimSpace(v.Entities.Shift.String()); s != "" && !has(models.FieldTurno) {
		out = append(out, models.Criterion{Table: models.TableDatosEscolares, Field: models.FieldTurno, Operator: models.OpEq, Value: s})
	}
	return out
}

func filtersText(list models.CriteriaList) string {
	lines := make([]string, len(list))
	for i, cr := range list {
		lines[i] = "- " + cr.String()
	}
	return strings.Join(lines, "\n")
}

func verdictSummary(v *models.MasterVerdict) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return string(v.Category)
	}
	return string(data)
}
