package models

import "time"

// Awaiting is the continuation kind a context level expects next.
type Awaiting string

// Continuation kinds.
const (
	AwaitingSelection     Awaiting = "selection"
	AwaitingAction        Awaiting = "action"
	AwaitingConfirmation  Awaiting = "confirmation"
	AwaitingSpecification Awaiting = "specification"
	AwaitingAnalysis      Awaiting = "analysis"
	AwaitingNone          Awaiting = "none"
)

// ParseAwaiting maps LLM labels (including the follow-up classes) onto Awaiting.
func ParseAwaiting(raw string) Awaiting {
	switch Awaiting(raw) {
	case AwaitingSelection, AwaitingAction, AwaitingConfirmation, AwaitingSpecification, AwaitingAnalysis, AwaitingNone:
		return Awaiting(raw)
	}
	switch raw {
	case "filter", "filtro", "especificacion":
		return AwaitingSpecification
	case "seleccion", "selección":
		return AwaitingSelection
	case "accion", "acción":
		return AwaitingAction
	case "confirmacion", "confirmación":
		return AwaitingConfirmation
	case "analisis", "análisis":
		return AwaitingAnalysis
	}
	return AwaitingNone
}

// ContextLevel is one remembered turn.
type ContextLevel struct {
	Query            string            `json:"query"`
	Data             []Row             `json:"data"`
	RowCount         int               `json:"row_count"`
	Awaiting         Awaiting          `json:"awaiting"`
	Timestamp        time.Time         `json:"timestamp"`
	SQLQuery         string            `json:"sql_query,omitempty"`
	StrategicNote    string            `json:"strategic_note,omitempty"`
	ResolvedEntities *DetectedEntities `json:"resolved_entities,omitempty"`
	Action           ActionName        `json:"action,omitempty"`
	// Certificate is set when the level previews a certificate awaiting confirmation.
	Certificate *CertificateInfo `json:"certificate,omitempty"`
}

// IDs returns the row ids of the level in order.
func (l ContextLevel) IDs() []int64 {
	return RowIDs(l.Data)
}

// Reflection is the synthesiser's auto-reflection that seeds the next level.
type Reflection struct {
	ExpectsContinuation bool     `json:"espera_continuacion"`
	ExpectedType        Awaiting `json:"tipo_esperado"`
	DataToRemember      []string `json:"datos_recordar,omitempty"`
	StrategicNote       string   `json:"nota_estrategica"`
	Reasoning           string   `json:"razonamiento,omitempty"`
}

// Synthesis is the synthesiser output.
type Synthesis struct {
	UserResponse string     `json:"respuesta_usuario"`
	Reflection   Reflection `json:"reflexion"`
	// Deterministic is true when no LLM call produced the reply.
	Deterministic bool `json:"-"`
}
