// Package prompt centralises every prompt the assistant sends to a language model.
package prompt

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/noah-isme/sma-adp-assistant/internal/models"
)

// Kind identifies a prompt by its heading line.
type Kind string

// Prompt kinds. Each prompt starts with its heading on the first line.
const (
	KindMaster        Kind = "# ANALISIS DE INTENCION"
	KindMasterStrict  Kind = "# ANALISIS DE INTENCION (MODO ESTRICTO)"
	KindPlanner       Kind = "# PLANIFICACION DE ACCION"
	KindPlannerRetry  Kind = "# PLANIFICACION DE ACCION (CORRECCION)"
	KindSynthesis     Kind = "# RESPUESTA AL USUARIO"
	KindConversation  Kind = "# CONVERSACION GENERAL"
	KindUnknownPrompt Kind = ""
)

// KindOf returns the kind of a rendered prompt.
func KindOf(prompt string) Kind {
	line := prompt
	if idx := strings.IndexByte(prompt, '\n'); idx >= 0 {
		line = prompt[:idx]
	}
	switch k := Kind(strings.TrimSpace(line)); k {
	case KindMaster, KindMasterStrict, KindPlanner, KindPlannerRetry, KindSynthesis, KindConversation:
		return k
	}
	return KindUnknownPrompt
}

// MasterInput feeds the intent analysis prompt.
type MasterInput struct {
	Message string
	Context string
	Schema  string
	Pending string
	History []models.ChatMessage
	Now     time.Time
}

// ActionDoc describes one catalog entry for the planner.
type ActionDoc struct {
	Name      models.ActionName
	Purpose   string
	Params    string
	Output    string
	Guideline string
}

// PlannerInput feeds the action planning prompt.
type PlannerInput struct {
	Message  string
	Verdict  string
	Filters  string
	Catalog  []ActionDoc
	Schema   string
	Context  string
	Previous string
	Error    string
}

// SynthesisInput feeds the response prompt.
type SynthesisInput struct {
	Message  string
	Action   models.ActionName
	Success  bool
	SQL      string
	RowCount int
	Sample   []string
	Result   string
	Context  string
}

// ConversationInput feeds the small-talk prompt.
type ConversationInput struct {
	Message string
	History []models.ChatMessage
}

// Manager renders prompts from embedded templates.
type Manager struct {
	templates map[Kind]*template.Template
}

// NewManager parses all templates. It panics on a malformed template since
// they are compiled into the binary.
func NewManager() *Manager {
	m := &Manager{templates: make(map[Kind]*template.Template)}
	funcs := template.FuncMap{
		"date": func(t time.Time) string { return t.Format("2006-01-02") },
		"inc":  func(i int) int { return i + 1 },
	}
	for kind, body := range sources {
		m.templates[kind] = template.Must(template.New(string(kind)).Funcs(funcs).Parse(string(kind) + "\n" + body))
	}
	return m
}

// Master renders the intent analysis prompt.
func (m *Manager) Master(in MasterInput) (string, error) {
	return m.render(KindMaster, in)
}

// MasterStrict renders the intent prompt used after a malformed answer.
func (m *Manager) MasterStrict(in MasterInput) (string, error) {
	return m.render(KindMasterStrict, in)
}

// Planner renders the action planning prompt.
func (m *Manager) Planner(in PlannerInput) (string, error) {
	return m.render(KindPlanner, in)
}

// PlannerRetry renders the planning prompt carrying the validator error.
func (m *Manager) PlannerRetry(in PlannerInput) (string, error) {
	return m.render(KindPlannerRetry, in)
}

// Synthesis renders the response prompt.
func (m *Manager) Synthesis(in SynthesisInput) (string, error) {
	return m.render(KindSynthesis, in)
}

// Conversation renders the small-talk prompt.
func (m *Manager) Conversation(in ConversationInput) (string, error) {
	return m.render(KindConversation, in)
}

func (m *Manager) render(kind Kind, data interface{}) (string, error) {
	tpl, ok := m.templates[kind]
	if !ok {
		return "", fmt.Errorf("prompt %q not registered", kind)
	}
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render prompt %q: %w", kind, err)
	}
	return buf.String(), nil
}
