package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-adp-assistant/internal/conversation"
	"github.com/noah-isme/sma-adp-assistant/internal/models"
	"github.com/noah-isme/sma-adp-assistant/internal/prompt"
	"github.com/noah-isme/sma-adp-assistant/internal/query"
	"github.com/noah-isme/sma-adp-assistant/internal/testutil"
	"github.com/noah-isme/sma-adp-assistant/pkg/clock"
	appErrors "github.com/noah-isme/sma-adp-assistant/pkg/errors"
)

func newTestMaster(t *testing.T, script *testutil.ScriptedLLM) (*MasterService, *testPipeline) {
	t.Helper()
	p := newTestPipeline(t)
	schema := query.NewFieldMapper(models.SchoolSchema())
	return NewMasterService(script, nil, schema, p.students, clock.Fixed{T: testutil.Today}, MasterOptions{}, nil), p
}

func stateWith(levels ...models.ContextLevel) *conversation.State {
	state := conversation.NewState("s1", 3, 20, testutil.Today)
	for _, l := range levels {
		state.Stack.Push(l)
	}
	return state
}

func studentRow(id int64, nombre string, grado int, grupo, turno, curp string) models.Row {
	return models.Row{"id": id, "nombre": nombre, "grado": grado, "grupo": grupo, "turno": turno, "curp": curp}
}

func thirdGradeLevel() models.ContextLevel {
	return models.ContextLevel{
		Query: "alumnos de tercero",
		Data: []models.Row{
			studentRow(1, "ANA GARCIA LOPEZ", 3, "A", "MATUTINO", "GALA150310MDFRPNA1"),
			studentRow(2, "CARLOS GARCIA RUIZ", 3, "B", "VESPERTINO", "GARC150722HDFRZRA2"),
			studentRow(5, "JUAN RAMIREZ DIAZ", 3, "A", "MATUTINO", "RADJ151130HDFMZNA5"),
		},
		RowCount: 3,
		Awaiting: models.AwaitingSelection,
	}
}

func TestMasterClassifiesMessage(t *testing.T) {
	script := testutil.NewScriptedLLM().On(prompt.KindMaster, `{"categoria":"estadistica","entidades":{"grado":3},"confianza":0.9}`)
	master, _ := newTestMaster(t, script)

	v, err := master.Analyze(context.Background(), stateWith(), "¿cuántos alumnos hay en tercero?")
	require.NoError(t, err)
	assert.Equal(t, models.CategoryStatistics, v.Category)
	assert.Equal(t, 3, int(v.Entities.Grade))
	assert.False(t, v.ClarificationNeeded)
	assert.Equal(t, 1, script.Calls(prompt.KindMaster))
	assert.Zero(t, script.Calls(prompt.KindMasterStrict))
}

func TestMasterRetriesStrictThenAsks(t *testing.T) {
	script := testutil.NewScriptedLLM().
		On(prompt.KindMaster, "no sé qué contestar").
		On(prompt.KindMasterStrict, `{"entidades":{}}`)
	master, _ := newTestMaster(t, script)

	v, err := master.Analyze(context.Background(), stateWith(), "xyz")
	require.NoError(t, err)
	assert.Equal(t, models.CategoryClarification, v.Category)
	assert.True(t, v.ClarificationNeeded)
	assert.Equal(t, genericClarification, v.Question)
	assert.Equal(t, 1, script.Calls(prompt.KindMasterStrict))
}

func TestMasterRecoversWithStrictPrompt(t *testing.T) {
	script := testutil.NewScriptedLLM().
		On(prompt.KindMaster, "```\nnada\n```").
		On(prompt.KindMasterStrict, "```json\n{\"categoria\": \"busqueda\", \"entidades\": {\"nombres\": [\"garcia\"]},}\n```")
	master, _ := newTestMaster(t, script)

	v, err := master.Analyze(context.Background(), stateWith(), "busca a los garcia")
	require.NoError(t, err)
	assert.Equal(t, models.CategorySearch, v.Category)
	assert.Equal(t, []string{"garcia"}, v.Entities.Names)
}

func TestMasterResolvesPositionFromStack(t *testing.T) {
	script := testutil.NewScriptedLLM().On(prompt.KindMaster, `{"categoria":"continuacion","requiere_contexto":true,"entidades":{"campo_solicitado":"curp"}}`)
	master, _ := newTestMaster(t, script)

	v, err := master.Analyze(context.Background(), stateWith(thirdGradeLevel()), "dame el CURP del segundo")
	require.NoError(t, err)
	assert.Equal(t, models.SubTypeSelection, v.SubType)
	require.NotNil(t, v.Entities.ResolvedStudent)
	assert.EqualValues(t, 2, v.Entities.ResolvedStudent.ID)
	assert.Equal(t, 0, v.Entities.ResolvedStudent.Level)
	assert.Equal(t, 1, v.Entities.ResolvedStudent.Index)
}

func TestMasterPositionOutOfRangeAsks(t *testing.T) {
	script := testutil.NewScriptedLLM().On(prompt.KindMaster, `{"categoria":"continuacion","requiere_contexto":true}`)
	master, _ := newTestMaster(t, script)

	v, err := master.Analyze(context.Background(), stateWith(thirdGradeLevel()), "el quinto")
	require.NoError(t, err)
	assert.True(t, v.ClarificationNeeded)
	assert.Contains(t, v.Question, "no existe")
	assert.Nil(t, v.Entities.ResolvedStudent)
}

func TestMasterDropsClaimedStudentOutsideStack(t *testing.T) {
	script := testutil.NewScriptedLLM().On(prompt.KindMaster, `{"categoria":"continuacion","sub_tipo":"selection","entidades":{"alumno_resuelto":{"id":99,"nombre":"NADIE"}}}`)
	master, _ := newTestMaster(t, script)

	v, err := master.Analyze(context.Background(), stateWith(thirdGradeLevel()), "ese")
	require.NoError(t, err)
	assert.Nil(t, v.Entities.ResolvedStudent)
}

func TestMasterAmbiguousNameThenPosition(t *testing.T) {
	script := testutil.NewScriptedLLM().
		On(prompt.KindMaster,
			`{"categoria":"constancia","entidades":{"nombres":["juan"],"tipo_constancia":"estudio"}}`,
			`{"categoria":"continuacion"}`)
	master, _ := newTestMaster(t, script)
	state := stateWith()

	v, err := master.Analyze(context.Background(), state, "constancia de estudios para juan")
	require.NoError(t, err)
	assert.True(t, v.ClarificationNeeded)
	require.Len(t, v.Candidates, 3)
	assert.Contains(t, v.Question, "JUAN PEREZ SOTO")
	require.NotNil(t, state.Pending)
	assert.Equal(t, models.CategoryCertificate, state.Pending.Category)

	v, err = master.Analyze(context.Background(), state, "el segundo")
	require.NoError(t, err)
	assert.False(t, v.ClarificationNeeded)
	assert.Equal(t, models.CategoryCertificate, v.Category)
	require.NotNil(t, v.Entities.ResolvedStudent)
	assert.EqualValues(t, 4, v.Entities.ResolvedStudent.ID)
	assert.Equal(t, "estudio", v.Entities.CertificateKind.String())
	assert.Nil(t, state.Pending)
}

func TestMasterPendingClearedOnTopicChange(t *testing.T) {
	script := testutil.NewScriptedLLM().On(prompt.KindMaster, `{"categoria":"estadistica","cambio_tema":true}`)
	master, _ := newTestMaster(t, script)
	state := stateWith()
	state.Pending = &conversation.PendingClarification{
		Question:   "¿A cuál?",
		Category:   models.CategoryCertificate,
		Candidates: []models.Row{studentRow(3, "JUAN LOPEZ MARTINEZ", 1, "A", "MATUTINO", "")},
	}

	v, err := master.Analyze(context.Background(), state, "¿cuántos alumnos hay?")
	require.NoError(t, err)
	assert.Equal(t, models.CategoryStatistics, v.Category)
	assert.Nil(t, state.Pending)
}

func TestMasterResolvesUniqueCertificateName(t *testing.T) {
	script := testutil.NewScriptedLLM().On(prompt.KindMaster, `{"categoria":"constancia","entidades":{"nombres":["Luis Perez"]}}`)
	master, _ := newTestMaster(t, script)

	v, err := master.Analyze(context.Background(), stateWith(), "constancia para Luis Perez")
	require.NoError(t, err)
	require.NotNil(t, v.Entities.ResolvedStudent)
	assert.EqualValues(t, 6, v.Entities.ResolvedStudent.ID)
	assert.Equal(t, -1, v.Entities.ResolvedStudent.Level)
}

func TestMasterStackBreaksCertificateTie(t *testing.T) {
	script := testutil.NewScriptedLLM().On(prompt.KindMaster, `{"categoria":"constancia","entidades":{"nombres":["juan"]}}`)
	master, _ := newTestMaster(t, script)

	v, err := master.Analyze(context.Background(), stateWith(thirdGradeLevel()), "constancia para juan")
	require.NoError(t, err)
	assert.False(t, v.ClarificationNeeded)
	require.NotNil(t, v.Entities.ResolvedStudent)
	assert.EqualValues(t, 5, v.Entities.ResolvedStudent.ID)
}

func TestMasterConfirmationBypass(t *testing.T) {
	script := testutil.NewScriptedLLM()
	master, _ := newTestMaster(t, script)
	preview := models.ContextLevel{
		Query:    "constancia para luis",
		Data:     []models.Row{studentRow(6, "LUIS PEREZ HERNANDEZ", 4, "B", "MATUTINO", "PEHL140214HDFRRSA6")},
		RowCount: 1,
		Awaiting: models.AwaitingConfirmation,
		Certificate: &models.CertificateInfo{
			StudentID: 6, StudentName: "LUIS PEREZ HERNANDEZ", Kind: "estudio", Preview: true,
			Metadata: map[string]string{"incluir_foto": "true"},
		},
	}

	v, err := master.Analyze(context.Background(), stateWith(preview), "sí, por favor")
	require.NoError(t, err)
	assert.True(t, v.Bypassed)
	assert.Equal(t, models.SubTypeConfirmation, v.SubType)
	require.NotNil(t, v.Entities.Confirmation)
	assert.True(t, *v.Entities.Confirmation)
	assert.True(t, v.Entities.IncludePhoto)
	assert.EqualValues(t, 6, v.Entities.ResolvedStudent.ID)
	assert.Zero(t, script.Total())
}

func TestMasterReturnsTransportErrors(t *testing.T) {
	script := testutil.NewScriptedLLM().Fail(prompt.KindMaster, appErrors.Clone(appErrors.ErrLLMTransport, "sin conexión"))
	master, _ := newTestMaster(t, script)

	_, err := master.Analyze(context.Background(), stateWith(), "hola")
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrLLMTransport))
}

func TestMasterPromptCarriesContextAndPending(t *testing.T) {
	script := testutil.NewScriptedLLM().On(prompt.KindMaster, `{"categoria":"continuacion"}`)
	master, _ := newTestMaster(t, script)
	state := stateWith(thirdGradeLevel())
	state.AppendHistory(models.RoleUser, "alumnos de tercero", testutil.Today)

	_, err := master.Analyze(context.Background(), state, "y de esos?")
	require.NoError(t, err)
	prompts := script.Prompts(prompt.KindMaster)
	require.Len(t, prompts, 1)
	assert.Contains(t, prompts[0], "ANA GARCIA LOPEZ")
	assert.Contains(t, prompts[0], "alumnos de tercero")
}
