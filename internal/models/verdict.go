package models

import "strings"

// Category is the Master classification of a user message.
type Category string

// Categories.
const (
	CategorySearch        Category = "busqueda"
	CategoryStatistics    Category = "estadistica"
	CategoryCertificate   Category = "constancia"
	CategoryTransform     Category = "transformacion"
	CategoryContinuation  Category = "continuacion"
	CategoryHelp          Category = "ayuda"
	CategorySmallTalk     Category = "conversacion_general"
	CategoryClarification Category = "aclaracion"
)

// ParseCategory normalises the LLM label; unknown labels become aclaracion.
func ParseCategory(raw string) Category {
	c := Category(strings.ToLower(strings.TrimSpace(raw)))
	switch c {
	case CategorySearch, CategoryStatistics, CategoryCertificate, CategoryTransform,
		CategoryContinuation, CategoryHelp, CategorySmallTalk, CategoryClarification:
		return c
	case "busqueda_alumnos", "búsqueda":
		return CategorySearch
	case "estadisticas", "estadísticas", "estadística":
		return CategoryStatistics
	case "transformación":
		return CategoryTransform
	case "continuación":
		return CategoryContinuation
	case "conversacion", "conversación":
		return CategorySmallTalk
	case "aclaración":
		return CategoryClarification
	}
	return CategoryClarification
}

// Continuation sub-types.
const (
	SubTypeSelection    = "selection"
	SubTypeFilter       = "filter"
	SubTypeAction       = "action"
	SubTypeConfirmation = "confirmation"
	SubTypeAnalysis     = "analysis"
)

// ResolvedStudent is a student picked out of the context stack.
type ResolvedStudent struct {
	ID     int64  `json:"id"`
	Nombre string `json:"nombre"`
	// Level is the stack depth (0 = most recent) the row came from; -1 for pending candidates.
	Level int `json:"nivel"`
	Index int `json:"indice"`
	Row   Row `json:"-"`
}

// DetectedEntities are the entities the Master extracts from a message.
type DetectedEntities struct {
	Names           []string         `json:"nombres,omitempty"`
	Filters         CriteriaList     `json:"filtros,omitempty"`
	Grade           FlexInt          `json:"grado,omitempty"`
	Group           FlexString       `json:"grupo,omitempty"`
	Shift           FlexString       `json:"turno,omitempty"`
	CertificateKind FlexString       `json:"tipo_constancia,omitempty"`
	Limit           FlexInt          `json:"limite,omitempty"`
	Position        FlexString       `json:"posicion,omitempty"`
	RequestedField  FlexString       `json:"campo_solicitado,omitempty"`
	IncludePhoto    bool             `json:"incluir_foto,omitempty"`
	Attachment      FlexString       `json:"archivo_pdf,omitempty"`
	Confirmation    *bool            `json:"confirmacion,omitempty"`
	ResolvedStudent *ResolvedStudent `json:"alumno_resuelto,omitempty"`
}

// MasterVerdict is the output of the intent analyser.
type MasterVerdict struct {
	Category            Category         `json:"categoria"`
	SubType             string           `json:"sub_tipo,omitempty"`
	Complexity          string           `json:"complejidad,omitempty"`
	Entities            DetectedEntities `json:"entidades"`
	RequiresContext     bool             `json:"requiere_contexto"`
	OptimalFlow         string           `json:"flujo_optimo,omitempty"`
	ClarificationNeeded bool             `json:"necesita_aclaracion"`
	Question            string           `json:"pregunta_aclaracion,omitempty"`
	TopicChange         bool             `json:"cambio_tema,omitempty"`
	Confidence          float64          `json:"confianza,omitempty"`
	Reasoning           string           `json:"razonamiento,omitempty"`

	// Candidates are the rows offered in a disambiguation question.
	Candidates []Row `json:"candidatos,omitempty"`
	// Bypassed marks verdicts produced without an LLM call.
	Bypassed bool `json:"-"`
}

// NeedsPlanner reports whether the verdict goes through the planner and executor.
func (v MasterVerdict) NeedsPlanner() bool {
	if v.ClarificationNeeded {
		return false
	}
	switch v.Category {
	case CategoryHelp, CategorySmallTalk, CategoryClarification:
		return false
	case CategoryContinuation:
		return v.SubType != SubTypeSelection && v.SubType != SubTypeConfirmation
	}
	return true
}
