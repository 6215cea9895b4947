package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-adp-assistant/internal/conversation"
	"github.com/noah-isme/sma-adp-assistant/internal/models"
	"github.com/noah-isme/sma-adp-assistant/internal/prompt"
	"github.com/noah-isme/sma-adp-assistant/pkg/clock"
	appErrors "github.com/noah-isme/sma-adp-assistant/pkg/errors"
	"github.com/noah-isme/sma-adp-assistant/pkg/llm"
)

const genericClarification = "No estoy seguro de qué necesitas. ¿Puedes decirme qué alumno o qué dato buscas?"

type schemaSource interface {
	Schema() models.Schema
}

type studentSearcher interface {
	SearchByName(ctx context.Context, name string, limit int) ([]models.StudentDetail, error)
}

// MasterOptions tune the intent analyser.
type MasterOptions struct {
	SampleRows   int
	MaxLevels    int
	HistoryTurns int
	// AmbiguityThreshold is the resolution confidence below which the
	// Master asks instead of guessing.
	AmbiguityThreshold float64
}

// MasterService classifies each message and resolves references against
// the context stack before anything else runs.
type MasterService struct {
	llm      llm.Completer
	prompts  *prompt.Manager
	schema   schemaSource
	students studentSearcher
	clock    clock.Clock
	opts     MasterOptions
	logger   *zap.Logger
}

// NewMasterService constructs the analyser. students may be nil, in which
// case certificate names are left for the executor to resolve.
func NewMasterService(completer llm.Completer, prompts *prompt.Manager, schema schemaSource, students studentSearcher, clk clock.Clock, opts MasterOptions, logger *zap.Logger) *MasterService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.System{}
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
	if opts.HistoryTurns <= 0 {
		opts.HistoryTurns = 6
	}
	if opts.AmbiguityThreshold <= 0 {
		opts.AmbiguityThreshold = 0.7
	}
	return &MasterService{llm: completer, prompts: prompts, schema: schema, students: students, clock: clk, opts: opts, logger: logger}
}

// Analyze returns the verdict for message. state may be mutated: a pending
// clarification is set when the verdict asks the user to pick a candidate
// and cleared once it is answered. Only transport failures and
// cancellation are returned as errors.
func (m *MasterService) Analyze(ctx context.Context, state *conversation.State, message string) (*models.MasterVerdict, error) {
	message = strings.TrimSpace(message)
	if v, ok := m.confirmation(state, message); ok {
		m.logger.Debug("master bypassed for confirmation", zap.String("session_id", state.SessionID))
		return v, nil
	}

	in := prompt.MasterInput{
		Message: message,
		Context: conversation.FormatForLLM(state.Stack, conversation.FormatOptions{SampleRows: m.opts.SampleRows, MaxLevels: m.opts.MaxLevels}),
		Schema:  m.schema.Schema().Summary(),
		Pending: formatPending(state.Pending),
		History: state.RecentHistory(m.opts.HistoryTurns),
		Now:     m.clock.Now(),
	}
	verdict, err := m.classify(ctx, in)
	if err != nil {
		return nil, err
	}
	if verdict.TopicChange {
		m.logger.Info("topic change detected", zap.String("session_id", state.SessionID), zap.String("category", string(verdict.Category)))
	}

	if state.Pending == nil || !m.answerPending(state, message, verdict) {
		m.inferSubType(message, verdict)
		m.resolveContext(state, message, verdict)
		if verdict.Category == models.CategoryCertificate && verdict.Entities.ResolvedStudent == nil && !verdict.ClarificationNeeded {
			if err := m.resolveByName(ctx, state, verdict); err != nil {
				return nil, err
			}
		}
	}

	if verdict.Category == models.CategoryClarification {
		verdict.ClarificationNeeded = true
	}
	if verdict.ClarificationNeeded {
		if strings.TrimSpace(verdict.Question) == "" {
			verdict.Question = genericClarification
		}
		if len(verdict.Candidates) > 0 {
			state.Pending = &conversation.PendingClarification{
				Question:   verdict.Question,
				Category:   verdict.Category,
				Entities:   verdict.Entities,
				Candidates: verdict.Candidates,
				CreatedAt:  m.clock.Now(),
			}
		}
	}
	return verdict, nil
}

func (m *MasterService) classify(ctx context.Context, in prompt.MasterInput) (*models.MasterVerdict, error) {
	text, err := m.complete(ctx, m.prompts.Master, in)
	if err != nil {
		return nil, err
	}
	verdict, derr := decodeVerdict(text)
	if derr == nil {
		return verdict, nil
	}
	m.logger.Warn("master answer rejected, retrying strict", zap.Error(derr))

	text, err = m.complete(ctx, m.prompts.MasterStrict, in)
	if err != nil {
		return nil, err
	}
	if verdict, derr = decodeVerdict(text); derr == nil {
		return verdict, nil
	}
	m.logger.Warn("master answer rejected twice", zap.Error(derr))
	return &models.MasterVerdict{
		Category:            models.CategoryClarification,
		ClarificationNeeded: true,
		Question:            genericClarification,
		Reasoning:           "respuesta del analizador ilegible",
	}, nil
}

func (m *MasterService) complete(ctx context.Context, render func(prompt.MasterInput) (string, error), in prompt.MasterInput) (string, error) {
	p, err := render(in)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "no se pudo preparar el análisis")
	}
	return m.llm.Complete(ctx, p)
}

func decodeVerdict(text string) (*models.MasterVerdict, error) {
	var v models.MasterVerdict
	if err := llm.DecodeJSON(text, &v); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrLLMInvalidJSON.Code, appErrors.ErrLLMInvalidJSON.Status, appErrors.ErrLLMInvalidJSON.Message)
	}
	if strings.TrimSpace(string(v.Category)) == "" {
		return nil, appErrors.Clone(appErrors.ErrLLMInvalidJSON, "falta la categoría")
	}
	v.Category = models.ParseCategory(string(v.Category))
	v.SubType = strings.ToLower(strings.TrimSpace(v.SubType))
	v.Candidates = nil
	return &v, nil
}

// confirmation answers a yes/no reply to a level awaiting confirmation
// without calling the model.
func (m *MasterService) confirmation(state *conversation.State, message string) (*models.MasterVerdict, bool) {
	top, ok := state.Stack.Top()
	if !ok || top.Awaiting != models.AwaitingConfirmation {
		return nil, false
	}
	yes, ok := conversation.ParseConfirmation(message)
	if !ok {
		return nil, false
	}
	v := &models.MasterVerdict{
		Category:        models.CategoryContinuation,
		SubType:         models.SubTypeConfirmation,
		RequiresContext: true,
		Confidence:      1,
		Bypassed:        true,
		Reasoning:       "respuesta a una confirmación pendiente",
	}
	v.Entities.Confirmation = &yes
	if cert := top.Certificate; cert != nil {
		v.Entities.CertificateKind = models.FlexString(cert.Kind)
		v.Entities.IncludePhoto = cert.Metadata["incluir_foto"] == "true"
		rs := &models.ResolvedStudent{ID: cert.StudentID, Nombre: cert.StudentName}
		if len(top.Data) > 0 {
			rs.Row = top.Data[0]
		}
		v.Entities.ResolvedStudent = rs
	}
	return v, true
}

// answerPending resolves the message against the candidates of the last
// clarification question. It reports whether the pending question was answered.
func (m *MasterService) answerPending(state *conversation.State, message string, v *models.MasterVerdict) bool {
	p := state.Pending
	switch v.Category {
	case models.CategoryContinuation, models.CategoryClarification, p.Category:
	default:
		state.Pending = nil
		return false
	}
	idx := -1
	if pos, ok := positionOf(message, v); ok {
		if i, err := conversation.ResolvePosition(p.Candidates, pos); err == nil {
			idx = i
		}
	}
	if idx < 0 {
		for _, name := range namesOf(message, v) {
			if res, err := conversation.ResolveName(p.Candidates, name); err == nil {
				idx = res.Index
				break
			}
		}
	}
	if idx < 0 {
		if v.Category != models.CategoryContinuation && v.Category != models.CategoryClarification {
			state.Pending = nil
		}
		return false
	}

	row := p.Candidates[idx]
	id, _ := row.ID()
	v.Entities.ResolvedStudent = &models.ResolvedStudent{ID: id, Nombre: row.Name(), Level: -1, Index: idx, Row: row}
	if p.Category != "" && p.Category != models.CategoryClarification {
		v.Category = p.Category
	}
	if v.Category == models.CategoryContinuation {
		v.SubType = models.SubTypeSelection
	}
	if v.Entities.CertificateKind == "" {
		v.Entities.CertificateKind = p.Entities.CertificateKind
	}
	if v.Entities.RequestedField == "" {
		v.Entities.RequestedField = p.Entities.RequestedField
	}
	v.Entities.IncludePhoto = v.Entities.IncludePhoto || p.Entities.IncludePhoto
	v.ClarificationNeeded = false
	v.Question = ""
	v.RequiresContext = true
	state.Pending = nil
	return true
}

func (m *MasterService) inferSubType(message string, v *models.MasterVerdict) {
	if v.Category != models.CategoryContinuation || v.SubType != "" {
		return
	}
	_, hasPos := positionOf(message, v)
	switch {
	case v.Entities.Confirmation != nil:
		v.SubType = models.SubTypeConfirmation
	case v.Entities.RequestedField != "" || hasPos || v.Entities.ResolvedStudent != nil:
		v.SubType = models.SubTypeSelection
	case len(masterFilters(v)) > 0:
		v.SubType = models.SubTypeFilter
	default:
		v.SubType = models.SubTypeAction
	}
}

// resolveContext turns positional and name references into a concrete row
// of the stack. Models may claim a resolved student; the claim is kept only
// when the id is really in the stack.
func (m *MasterService) resolveContext(state *conversation.State, message string, v *models.MasterVerdict) {
	if rs := v.Entities.ResolvedStudent; rs != nil {
		if row, depth, idx, ok := findInStack(state.Stack, rs.ID); ok {
			rs.Row, rs.Level, rs.Index = row, depth, idx
			if rs.Nombre == "" {
				rs.Nombre = row.Name()
			}
			return
		}
		v.Entities.ResolvedStudent = nil
	}

	wantsRow := v.Category == models.CategoryCertificate || v.Category == models.CategoryTransform ||
		(v.Category == models.CategoryContinuation && v.SubType != models.SubTypeFilter && v.SubType != models.SubTypeAnalysis)
	if !wantsRow {
		return
	}
	level, depth, ok := state.Stack.TopWithData()
	if !ok {
		if v.Category == models.CategoryContinuation {
			v.ClarificationNeeded = true
			v.Question = "No tengo resultados anteriores a los que referirme. ¿Qué alumno buscas?"
		}
		return
	}

	if pos, ok := positionOf(message, v); ok {
		idx, err := conversation.ResolvePosition(level.Data, pos)
		if err != nil {
			v.ClarificationNeeded = true
			v.Question = capitalise(appErrors.FromError(err).Message) + ". ¿A cuál alumno te refieres?"
			return
		}
		v.Entities.ResolvedStudent = resolvedFrom(level.Data[idx], depth, idx)
		return
	}
	for _, name := range v.Entities.Names {
		res, err := conversation.ResolveName(level.Data, name)
		switch {
		case err == nil && res.Confidence >= m.opts.AmbiguityThreshold:
			v.Entities.ResolvedStudent = resolvedFrom(res.Row, depth, res.Index)
			return
		case errors.Is(err, appErrors.ErrAmbiguousReference):
			v.ClarificationNeeded = true
			v.Candidates = res.Candidates
			v.Question = candidateQuestion(name, res.Candidates)
			return
		}
	}
	if v.Category == models.CategoryContinuation && len(level.Data) == 1 {
		v.Entities.ResolvedStudent = resolvedFrom(level.Data[0], depth, 0)
	}
}

// resolveByName looks a certificate student up in the database. Several
// matches become a clarification unless the stack narrows them to one.
func (m *MasterService) resolveByName(ctx context.Context, state *conversation.State, v *models.MasterVerdict) error {
	if m.students == nil || len(v.Entities.Names) == 0 {
		return nil
	}
	name := v.Entities.Names[0]
	matches, err := m.students.SearchByName(ctx, name, 10)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		m.logger.Warn("certificate name lookup failed", zap.String("name", name), zap.Error(err))
		return nil
	}
	if len(matches) == 0 {
		return nil
	}
	rows := make([]models.Row, len(matches))
	for i, st := range matches {
		rows[i] = st.Row()
	}
	res, err := conversation.ResolveName(rows, name)
	if err == nil && res.Confidence >= m.opts.AmbiguityThreshold {
		v.Entities.ResolvedStudent = resolvedFrom(res.Row, -1, res.Index)
		return nil
	}
	if !errors.Is(err, appErrors.ErrAmbiguousReference) {
		return nil
	}
	var inStack []int
	for i, row := range res.Candidates {
		if id, ok := row.ID(); ok && state.Stack.Contains(id) {
			inStack = append(inStack, i)
		}
	}
	if len(inStack) == 1 {
		v.Entities.ResolvedStudent = resolvedFrom(res.Candidates[inStack[0]], -1, inStack[0])
		return nil
	}
	v.ClarificationNeeded = true
	v.Candidates = res.Candidates
	v.Confidence = res.Confidence
	v.Question = candidateQuestion(name, res.Candidates)
	return nil
}

func findInStack(stack *conversation.Stack, id int64) (models.Row, int, int, bool) {
	for depth := 0; depth < stack.Len(); depth++ {
		level, _ := stack.At(depth)
		for idx, row := range level.Data {
			if rowID, ok := row.ID(); ok && rowID == id {
				return row, depth, idx, true
			}
		}
	}
	return nil, 0, 0, false
}

func resolvedFrom(row models.Row, depth, idx int) *models.ResolvedStudent {
	id, _ := row.ID()
	return &models.ResolvedStudent{ID: id, Nombre: row.Name(), Level: depth, Index: idx, Row: row}
}

func positionOf(message string, v *models.MasterVerdict) (conversation.Position, bool) {
	if raw := strings.TrimSpace(v.Entities.Position.String()); raw != "" {
		if pos, ok := conversation.ParsePosition(raw); ok {
			return pos, true
		}
	}
	return conversation.ExtractPosition(message)
}

func namesOf(message string, v *models.MasterVerdict) []string {
	names := append([]string(nil), v.Entities.Names...)
	return append(names, message)
}

func candidateQuestion(name string, candidates []models.Row) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Encontré %d alumnos que coinciden con \"%s\":", len(candidates), name)
	for i, row := range candidates {
		fmt.Fprintf(&b, "\n%d. %s", i+1, describeStudent(row))
	}
	b.WriteString("\n¿A cuál te refieres?")
	return b.String()
}

func formatPending(p *conversation.PendingClarification) string {
	if p == nil || len(p.Candidates) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(p.Question)
	for i, row := range p.Candidates {
		fmt.Fprintf(&b, "\n%d. %s", i+1, conversation.FormatRow(row))
	}
	return b.String()
}

func capitalise(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	return strings.ToUpper(string(r[0])) + string(r[1:])
}
