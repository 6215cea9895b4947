package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-adp-assistant/internal/conversation"
	"github.com/noah-isme/sma-adp-assistant/internal/models"
	"github.com/noah-isme/sma-adp-assistant/internal/prompt"
	appErrors "github.com/noah-isme/sma-adp-assistant/pkg/errors"
	"github.com/noah-isme/sma-adp-assistant/pkg/llm"
)

const (
	helpReply = "Puedo ayudarte con la información de los alumnos de la escuela:\n" +
		"- Buscar alumnos por nombre, CURP, grado, grupo, turno o calificaciones.\n" +
		"- Contar alumnos y calcular promedios o distribuciones.\n" +
		"- Generar constancias de estudio, de calificaciones o de traslado.\n" +
		"- Seguir trabajando con los resultados anteriores (\"el segundo\", \"de esos, los del turno matutino\").\n" +
		"¿Qué necesitas?"
	greetingReply   = "¡Hola! Soy el asistente escolar. Puedo buscar alumnos, darte estadísticas o generar constancias."
	noResultsReply  = "No encontré alumnos que cumplan esos criterios. Puedes intentar con otro nombre o quitar algún filtro."
	transientReply  = "Tengo problemas para consultar la información en este momento. Inténtalo de nuevo en unos segundos."
	rejectedReply   = "No puedo ejecutar esa consulta. Intenta formular la pregunta de otra manera."
	planFailedReply = "No logré entender bien la solicitud. ¿Puedes reformularla indicando qué alumnos o qué dato necesitas?"
)

// followUps suggests the next likely request per continuation kind.
var followUps = map[models.Awaiting]string{
	models.AwaitingSelection:     "elegir un alumno por posición o nombre",
	models.AwaitingAction:        "generar una constancia o consultar un dato del alumno",
	models.AwaitingConfirmation:  "confirmar o cancelar la constancia",
	models.AwaitingSpecification: "filtrar por grado, grupo o turno",
	models.AwaitingAnalysis:      "pedir estadísticas sobre el resultado",
}

var fieldAliases = map[string]string{
	"fecha de nacimiento": models.FieldFechaNac,
	"nacimiento":          models.FieldFechaNac,
	"cumpleaños":          models.FieldFechaNac,
	"nombre completo":     models.FieldNombre,
	"salon":               models.FieldGrupo,
	"salón":               models.FieldGrupo,
}

// SynthesizerOptions tune the response prompt.
type SynthesizerOptions struct {
	SampleRows int
}

// SynthesizerService writes the user reply and the reflection that seeds
// the next context level.
type SynthesizerService struct {
	llm     llm.Completer
	prompts *prompt.Manager
	opts    SynthesizerOptions
	logger  *zap.Logger
}

// NewSynthesizerService constructs the synthesiser.
func NewSynthesizerService(completer llm.Completer, prompts *prompt.Manager, opts SynthesizerOptions, logger *zap.Logger) *SynthesizerService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prompts == nil {
		prompts = prompt.NewManager()
	}
	if opts.SampleRows <= 0 || opts.SampleRows > 10 {
		opts.SampleRows = 10
	}
	return &SynthesizerService{llm: completer, prompts: prompts, opts: opts, logger: logger}
}

// Synthesize answers an execution result. Single rows, counts, empty
// results and certificates use templates; everything else goes through the
// model with a bounded sample of rows.
func (s *SynthesizerService) Synthesize(ctx context.Context, state *conversation.State, message string, res *models.ExecutionResult) (*models.Synthesis, error) {
	if syn := s.deterministic(res); syn != nil {
		return s.finish(syn, res), nil
	}

	in := prompt.SynthesisInput{
		Message:  message,
		Action:   res.ActionUsed,
		Success:  res.Success,
		SQL:      res.SQL,
		RowCount: res.RowCount,
		Sample:   sampleRows(res.Data, s.opts.SampleRows),
		Result:   res.Message,
		Context:  conversation.FormatForLLM(state.Stack, conversation.FormatOptions{MaxLevels: 2}),
	}
	text, err := s.prompts.Synthesis(in)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "no se pudo preparar la respuesta")
	}
	text, err = s.llm.Complete(ctx, text)
	if err != nil {
		return nil, err
	}
	syn := decodeSynthesis(text)
	if syn == nil {
		s.logger.Warn("synthesis answer unreadable, using template", zap.String("action", string(res.ActionUsed)))
		syn = &models.Synthesis{UserResponse: summaryReply(res), Deterministic: true}
	}
	return s.finish(syn, res), nil
}

// Help is the capabilities text.
func (s *SynthesizerService) Help() *models.Synthesis {
	return &models.Synthesis{
		UserResponse:  helpReply,
		Reflection:    models.Reflection{ExpectedType: models.AwaitingNone},
		Deterministic: true,
	}
}

// SmallTalk answers greetings and chit-chat, falling back to a fixed
// greeting when the model answer is unusable.
func (s *SynthesizerService) SmallTalk(ctx context.Context, state *conversation.State, message string) (*models.Synthesis, error) {
	out := &models.Synthesis{Reflection: models.Reflection{ExpectedType: models.AwaitingNone}}
	text, err := s.prompts.Conversation(prompt.ConversationInput{Message: message, History: state.RecentHistory(6)})
	if err == nil {
		text, err = s.llm.Complete(ctx, text)
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		s.logger.Warn("small talk failed, using greeting", zap.Error(err))
		out.UserResponse = greetingReply
		out.Deterministic = true
		return out, nil
	}
	if syn := decodeSynthesis(text); syn != nil {
		out.UserResponse = syn.UserResponse
		return out, nil
	}
	out.UserResponse = greetingReply
	out.Deterministic = true
	return out, nil
}

// Selection answers from a stack row, highlighting the requested field.
func (s *SynthesizerService) Selection(rs *models.ResolvedStudent, field string) *models.Synthesis {
	reply := "Seleccionaste a " + describeStudent(rs.Row) + "."
	if key, label := requestedColumn(field); key != "" {
		if value := rs.Row.String(key); value != "" {
			reply = fmt.Sprintf("%s de %s: %s.", capitalise(label), rs.Nombre, value)
		} else {
			reply = fmt.Sprintf("No tengo registrado el dato \"%s\" de %s.", label, rs.Nombre)
		}
	}
	return &models.Synthesis{
		UserResponse: reply,
		Reflection: models.Reflection{
			ExpectsContinuation: true,
			ExpectedType:        models.AwaitingAction,
			StrategicNote:       "Alumno seleccionado: " + rs.Nombre + ". Siguiente probable: " + followUps[models.AwaitingAction],
		},
		Deterministic: true,
	}
}

func (s *SynthesizerService) deterministic(res *models.ExecutionResult) *models.Synthesis {
	syn := &models.Synthesis{Deterministic: true}
	switch {
	case !res.Success && res.ErrorCode == appErrors.ErrNoResults.Code:
		syn.UserResponse = noResultsReply
	case res.Success && res.Certificate != nil:
		syn.UserResponse = certificateReply(res.Certificate)
	case res.Success && res.Aggregate && res.RowCount == 1 && res.Data[0]["total"] != nil:
		total := res.Data[0].String("total")
		if total == "1" {
			syn.UserResponse = "Hay 1 alumno que cumple los criterios."
		} else {
			syn.UserResponse = fmt.Sprintf("Hay %s alumnos que cumplen los criterios.", total)
		}
	case res.Success && !res.Aggregate && res.RowCount == 1:
		syn.UserResponse = "Encontré a " + describeStudent(res.Data[0]) + "."
		if res.ActionUsed == models.ActionPrepareCertificate {
			syn.UserResponse = res.Message + " " + syn.UserResponse
		}
	default:
		return nil
	}
	return syn
}

// finish normalises the reflection so the next level always carries a valid
// continuation kind and a strategic note.
func (s *SynthesizerService) finish(syn *models.Synthesis, res *models.ExecutionResult) *models.Synthesis {
	r := &syn.Reflection
	raw := strings.ToLower(strings.TrimSpace(string(r.ExpectedType)))
	if raw == "" {
		r.ExpectedType = expectedFor(res)
	} else {
		r.ExpectedType = models.ParseAwaiting(raw)
	}
	switch {
	case res.Certificate != nil && res.Certificate.Preview:
		r.ExpectedType = models.AwaitingConfirmation
	case res.Certificate != nil:
		r.ExpectedType = models.AwaitingNone
	case !res.Success || res.RowCount == 0:
		r.ExpectedType = models.AwaitingNone
	}
	r.ExpectsContinuation = r.ExpectedType != models.AwaitingNone
	r.StrategicNote = strategicNote(r.StrategicNote, res, r.ExpectedType)
	syn.UserResponse = strings.TrimSpace(syn.UserResponse)
	return syn
}

// expectedFor is the row-count heuristic used when the model gives no
// continuation kind.
func expectedFor(res *models.ExecutionResult) models.Awaiting {
	n := res.RowCount
	if res.Aggregate {
		if n > 1 {
			return models.AwaitingAnalysis
		}
		return models.AwaitingNone
	}
	switch {
	case n == 0:
		return models.AwaitingNone
	case n == 1:
		return models.AwaitingAction
	case n <= 10:
		return models.AwaitingSelection
	case n <= 50:
		return models.AwaitingSpecification
	}
	return models.AwaitingAnalysis
}

func strategicNote(modelNote string, res *models.ExecutionResult, awaiting models.Awaiting) string {
	var parts []string
	if note := strings.TrimSpace(modelNote); note != "" {
		parts = append(parts, note)
	}
	if dims := dimensions(res.Data); dims != "" {
		parts = append(parts, "Dimensiones: "+dims)
	}
	if next := followUps[awaiting]; next != "" {
		parts = append(parts, "Siguiente probable: "+next)
	}
	return strings.Join(parts, ". ")
}

// dimensions lists the distinct grados, grupos and turnos present in rows.
func dimensions(rows []models.Row) string {
	var parts []string
	for _, col := range []string{models.FieldGrado, models.FieldGrupo, models.FieldTurno} {
		seen := map[string]bool{}
		for _, row := range rows {
			if v := row.String(col); v != "" {
				seen[v] = true
			}
		}
		if len(seen) == 0 {
			continue
		}
		values := make([]string, 0, len(seen))
		for v := range seen {
			values = append(values, v)
		}
		sort.Strings(values)
		parts = append(parts, col+" "+strings.Join(values, ", "))
	}
	return strings.Join(parts, "; ")
}

func decodeSynthesis(text string) *models.Synthesis {
	var syn models.Synthesis
	if err := llm.DecodeJSON(text, &syn); err == nil && strings.TrimSpace(syn.UserResponse) != "" {
		return &syn
	}
	if reply, ok := llm.ExtractStringField(text, "respuesta_usuario"); ok && strings.TrimSpace(reply) != "" {
		return &models.Synthesis{UserResponse: reply}
	}
	trimmed := strings.TrimSpace(text)
	if trimmed != "" && !strings.HasPrefix(trimmed, "{") && !strings.HasPrefix(trimmed, "```") {
		return &models.Synthesis{UserResponse: trimmed}
	}
	return nil
}

func summaryReply(res *models.ExecutionResult) string {
	if !res.Success {
		if res.Message != "" {
			return "No pude completar la solicitud: " + res.Message
		}
		return planFailedReply
	}
	if res.Aggregate {
		var b strings.Builder
		b.WriteString("Resultados:")
		for _, row := range sampleRows(res.Data, 10) {
			b.WriteString("\n- " + row)
		}
		return b.String()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Encontré %d alumnos:", res.RowCount)
	for i, row := range res.Data {
		if i == 10 {
			fmt.Fprintf(&b, "\n... y %d más.", res.RowCount-10)
			break
		}
		fmt.Fprintf(&b, "\n%d. %s", i+1, describeStudent(row))
	}
	return b.String()
}

func certificateReply(info *models.CertificateInfo) string {
	link := ""
	if info.DownloadURL != "" {
		link = " Puedes descargarla en " + info.DownloadURL + "."
	}
	if info.Preview {
		return fmt.Sprintf("Generé la vista previa de la constancia de %s de %s.%s ¿Confirmas que la emita como definitiva?", info.Kind, info.StudentName, link)
	}
	return fmt.Sprintf("Listo, la constancia de %s de %s quedó emitida.%s", info.Kind, info.StudentName, link)
}

// describeStudent renders "NOMBRE (3° A, MATUTINO)".
func describeStudent(row models.Row) string {
	name := row.Name()
	var details []string
	if g := row.String(models.FieldGrado); g != "" {
		details = append(details, strings.TrimSpace(g+"° "+row.String(models.FieldGrupo)))
	}
	if t := row.String(models.FieldTurno); t != "" {
		details = append(details, t)
	}
	if len(details) == 0 {
		return name
	}
	return name + " (" + strings.Join(details, ", ") + ")"
}

func sampleRows(rows []models.Row, n int) []string {
	if n > len(rows) {
		n = len(rows)
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = conversation.FormatRow(rows[i])
	}
	return out
}

func requestedColumn(field string) (string, string) {
	label := strings.ToLower(strings.TrimSpace(field))
	if label == "" {
		return "", ""
	}
	if key, ok := fieldAliases[label]; ok {
		return key, label
	}
	return strings.ReplaceAll(label, " ", "_"), label
}
