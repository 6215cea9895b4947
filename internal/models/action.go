package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ActionName is a member of the closed action catalog.
type ActionName string

// Action catalog.
const (
	ActionSearch              ActionName = "BUSCAR_UNIVERSAL"
	ActionStatistics          ActionName = "CALCULAR_ESTADISTICA"
	ActionCount               ActionName = "CONTAR_UNIVERSAL"
	ActionFilterByGrades      ActionName = "FILTRAR_POR_CALIFICACIONES"
	ActionFullListing         ActionName = "GENERAR_LISTADO_COMPLETO"
	ActionPrepareCertificate  ActionName = "PREPARAR_DATOS_CONSTANCIA"
	ActionGenerateCertificate ActionName = "GENERAR_CONSTANCIA_COMPLETA"
	ActionTransformPDF        ActionName = "TRANSFORMAR_PDF"
	ActionSearchAndFilter     ActionName = "BUSCAR_Y_FILTRAR"

	// ActionContextSelection answers from a stack row without touching the database.
	ActionContextSelection ActionName = "SELECCION_CONTEXTO"
	// ActionHelp and ActionSmallTalk label data-less turns.
	ActionHelp      ActionName = "AYUDA"
	ActionSmallTalk ActionName = "CONVERSACION"
	// ActionConfirmation labels a confirmation follow-through turn.
	ActionConfirmation ActionName = "CONFIRMACION"
)

// Canonical resolves aliases; BUSCAR_Y_FILTRAR is BUSCAR_UNIVERSAL.
func (a ActionName) Canonical() ActionName {
	up := ActionName(strings.ToUpper(strings.TrimSpace(string(a))))
	if up == ActionSearchAndFilter {
		return ActionSearch
	}
	return up
}

// Strategy is how the principal action relates to follow-up steps.
type Strategy string

// Strategies.
const (
	StrategySimple     Strategy = "simple"
	StrategyCombined   Strategy = "combined"
	StrategySequential Strategy = "sequential"
)

func parseStrategy(raw string) Strategy {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "combined", "combinada", "combinado":
		return StrategyCombined
	case "sequential", "secuencial":
		return StrategySequential
	default:
		return StrategySimple
	}
}

// SearchParams parameterise BUSCAR_UNIVERSAL.
type SearchParams struct {
	Principal  *Criterion   `json:"criterio_principal" validate:"required"`
	Additional CriteriaList `json:"filtros_adicionales,omitempty" validate:"dive"`
	Limit      FlexInt      `json:"limite,omitempty" validate:"gte=0"`
}

// Criteria returns the principal and additional criteria in order.
func (p SearchParams) Criteria() []Criterion {
	out := make([]Criterion, 0, len(p.Additional)+1)
	if p.Principal != nil {
		out = append(out, *p.Principal)
	}
	return append(out, p.Additional...)
}

// Statistic kinds.
const (
	StatCount        = "conteo"
	StatDistribution = "distribucion"
	StatAverage      = "promedio"
	StatComparison   = "comparacion"
)

// StatisticsParams parameterise CALCULAR_ESTADISTICA.
type StatisticsParams struct {
	Kind    string       `json:"tipo" validate:"required,oneof=conteo distribucion promedio comparacion"`
	GroupBy string       `json:"agrupar_por,omitempty"`
	Field   string       `json:"campo,omitempty"`
	Filter  CriteriaList `json:"filtro,omitempty" validate:"dive"`
}

// CountParams parameterise CONTAR_UNIVERSAL.
type CountParams struct {
	Criteria CriteriaList `json:"criterios" validate:"dive"`
}

// GradesFilterParams parameterise FILTRAR_POR_CALIFICACIONES.
type GradesFilterParams struct {
	HasGrades *bool        `json:"tiene_calificaciones" validate:"required"`
	Filter    CriteriaList `json:"filtros_adicionales,omitempty" validate:"dive"`
	Limit     FlexInt      `json:"limite,omitempty" validate:"gte=0"`
}

// ListingParams parameterise GENERAR_LISTADO_COMPLETO.
type ListingParams struct {
	Filter  CriteriaList `json:"filtro,omitempty" validate:"dive"`
	OrderBy string       `json:"ordenar_por,omitempty"`
	Limit   FlexInt      `json:"limite,omitempty" validate:"gte=0"`
}

// Certificate kinds.
const (
	CertificateStudy    = "estudio"
	CertificateGrades   = "calificaciones"
	CertificateTransfer = "traslado"
)

// CertificateParams parameterise PREPARAR_DATOS_CONSTANCIA and GENERAR_CONSTANCIA_COMPLETA.
type CertificateParams struct {
	StudentRef   FlexString `json:"alumno_identificador" validate:"required"`
	Kind         string     `json:"tipo_constancia" validate:"required,oneof=estudio calificaciones traslado"`
	IncludePhoto bool       `json:"incluir_foto,omitempty"`
	Preview      *bool      `json:"vista_previa,omitempty"`
}

// IsPreview defaults to true.
func (p CertificateParams) IsPreview() bool {
	return p.Preview == nil || *p.Preview
}

// TransformParams parameterise TRANSFORMAR_PDF.
type TransformParams struct {
	SourcePath string     `json:"archivo_origen" validate:"required"`
	Kind       string     `json:"tipo_constancia" validate:"required,oneof=estudio calificaciones traslado"`
	StudentRef FlexString `json:"alumno_identificador,omitempty"`
}

// ActionRequest is the planner output. Exactly one parameter variant is set,
// matching Action.
type ActionRequest struct {
	Strategy  Strategy
	Action    ActionName
	Reasoning string

	Search      *SearchParams
	Statistics  *StatisticsParams
	Count       *CountParams
	Grades      *GradesFilterParams
	Listing     *ListingParams
	Certificate *CertificateParams
	Transform   *TransformParams

	// Steps are run after the principal action when Strategy is sequential;
	// each step is restricted to the ids returned by the previous one.
	Steps []ActionRequest
}

type actionRequestJSON struct {
	Strategy  string            `json:"estrategia"`
	Action    string            `json:"accion_principal"`
	Params    json.RawMessage   `json:"parametros,omitempty"`
	Reasoning string            `json:"razonamiento,omitempty"`
	Steps     []json.RawMessage `json:"acciones_secuenciales,omitempty"`
}

// DecodeActionRequest decodes the planner JSON into the typed variant.
func DecodeActionRequest(data []byte) (*ActionRequest, error) {
	var raw actionRequestJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	req := &ActionRequest{
		Strategy:  parseStrategy(raw.Strategy),
		Action:    ActionName(raw.Action).Canonical(),
		Reasoning: raw.Reasoning,
	}
	if req.Action == "" {
		return nil, fmt.Errorf("accion_principal is required")
	}
	if err := req.decodeParams(raw.Params); err != nil {
		return nil, fmt.Errorf("parametros de %s: %w", req.Action, err)
	}
	for i, stepRaw := range raw.Steps {
		step, err := DecodeActionRequest(stepRaw)
		if err != nil {
			return nil, fmt.Errorf("paso %d: %w", i+1, err)
		}
		req.Steps = append(req.Steps, *step)
	}
	return req, nil
}

// UnmarshalJSON lets planner text be decoded directly into an ActionRequest.
func (r *ActionRequest) UnmarshalJSON(data []byte) error {
	req, err := DecodeActionRequest(data)
	if err != nil {
		return err
	}
	*r = *req
	return nil
}

func (r *ActionRequest) decodeParams(params json.RawMessage) error {
	if len(params) == 0 || string(params) == "null" {
		params = json.RawMessage("{}")
	}
	var target interface{}
	switch r.Action {
	case ActionSearch:
		r.Search = &SearchParams{}
		target = r.Search
	case ActionStatistics:
		r.Statistics = &StatisticsParams{}
		target = r.Statistics
	case ActionCount:
		r.Count = &CountParams{}
		target = r.Count
	case ActionFilterByGrades:
		r.Grades = &GradesFilterParams{}
		target = r.Grades
	case ActionFullListing:
		r.Listing = &ListingParams{}
		target = r.Listing
	case ActionPrepareCertificate, ActionGenerateCertificate:
		r.Certificate = &CertificateParams{}
		target = r.Certificate
	case ActionTransformPDF:
		r.Transform = &TransformParams{}
		target = r.Transform
	default:
		// unknown actions are rejected by the validator, not the decoder
		return nil
	}
	return json.Unmarshal(params, target)
}

// Params returns the active parameter variant.
func (r ActionRequest) Params() interface{} {
	switch {
	case r.Search != nil:
		return r.Search
	case r.Statistics != nil:
		return r.Statistics
	case r.Count != nil:
		return r.Count
	case r.Grades != nil:
		return r.Grades
	case r.Listing != nil:
		return r.Listing
	case r.Certificate != nil:
		return r.Certificate
	case r.Transform != nil:
		return r.Transform
	}
	return nil
}

// MarshalJSON writes the same wire shape DecodeActionRequest reads.
func (r ActionRequest) MarshalJSON() ([]byte, error) {
	params, err := json.Marshal(r.Params())
	if err != nil {
		return nil, err
	}
	out := actionRequestJSON{
		Strategy:  string(r.Strategy),
		Action:    string(r.Action),
		Params:    params,
		Reasoning: r.Reasoning,
	}
	for _, step := range r.Steps {
		encoded, err := json.Marshal(step)
		if err != nil {
			return nil, err
		}
		out.Steps = append(out.Steps, encoded)
	}
	return json.Marshal(out)
}

// NewSearchRequest builds a BUSCAR_UNIVERSAL request.
func NewSearchRequest(principal Criterion, additional []Criterion, limit int, reasoning string) *ActionRequest {
	return &ActionRequest{
		Strategy:  StrategySimple,
		Action:    ActionSearch,
		Reasoning: reasoning,
		Search: &SearchParams{
			Principal:  &principal,
			Additional: CriteriaList(additional),
			Limit:      FlexInt(limit),
		},
	}
}
