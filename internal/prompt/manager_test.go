package prompt

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-adp-assistant/internal/models"
)

func TestEveryPromptStartsWithItsHeading(t *testing.T) {
	m := NewManager()
	now := time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)

	master, err := m.Master(MasterInput{Message: "cuántos alumnos hay", Context: "(sin contexto previo)", Schema: "alumnos", Now: now})
	require.NoError(t, err)
	strict, err := m.MasterStrict(MasterInput{Message: "hola", Now: now})
	require.NoError(t, err)
	planner, err := m.Planner(PlannerInput{Message: "m", Catalog: []ActionDoc{{Name: models.ActionSearch, Purpose: "buscar"}}})
	require.NoError(t, err)
	retry, err := m.PlannerRetry(PlannerInput{Message: "m", Previous: "{}", Error: "campo desconocido"})
	require.NoError(t, err)
	synthesis, err := m.Synthesis(SynthesisInput{Message: "m", Action: models.ActionCount, Success: true, Sample: []string{"id=1"}})
	require.NoError(t, err)
	conv, err := m.Conversation(ConversationInput{Message: "hola"})
	require.NoError(t, err)

	assert.Equal(t, KindMaster, KindOf(master))
	assert.Equal(t, KindMasterStrict, KindOf(strict))
	assert.Equal(t, KindPlanner, KindOf(planner))
	assert.Equal(t, KindPlannerRetry, KindOf(retry))
	assert.Equal(t, KindSynthesis, KindOf(synthesis))
	assert.Equal(t, KindConversation, KindOf(conv))
	assert.Equal(t, KindUnknownPrompt, KindOf("otra cosa"))

	assert.Contains(t, master, "Fecha de hoy: 2024-09-01")
	assert.Contains(t, master, `"cuántos alumnos hay"`)
	assert.Contains(t, planner, "### BUSCAR_UNIVERSAL")
	assert.Contains(t, planner, "(ninguno)")
	assert.Contains(t, retry, "campo desconocido")
	assert.Contains(t, synthesis, "1. id=1")
}

func TestMasterIncludesPendingAndHistory(t *testing.T) {
	m := NewManager()
	out, err := m.Master(MasterInput{
		Message: "el segundo",
		Pending: "1. JUAN LOPEZ\n2. JUAN PEREZ",
		History: []models.ChatMessage{{Role: models.RoleUser, Content: "constancia para Juan"}},
	})
	require.NoError(t, err)
	assert.Contains(t, out, "## ACLARACION PENDIENTE")
	assert.Contains(t, out, "- user: constancia para Juan")
	assert.True(t, strings.Index(out, "ACLARACION PENDIENTE") < strings.Index(out, "MENSAJE DEL USUARIO"))
}
