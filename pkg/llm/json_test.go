package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type verdict struct {
	Categoria string `json:"categoria"`
	Nota      string `json:"nota"`
}

func TestDecodeJSONFencedBlock(t *testing.T) {
	var v verdict
	text := "Claro, aquí está:\n```json\n{\"categoria\": \"busqueda\"}\n```\nSaludos"
	require.NoError(t, DecodeJSON(text, &v))
	assert.Equal(t, "busqueda", v.Categoria)
}

func TestDecodeJSONBraceBalanced(t *testing.T) {
	var v verdict
	text := `Respuesta: {"categoria": "estadistica", "nota": "usa {llaves} y \"comillas\""} fin`
	require.NoError(t, DecodeJSON(text, &v))
	assert.Equal(t, "estadistica", v.Categoria)
	assert.Equal(t, `usa {llaves} y "comillas"`, v.Nota)
}

func TestDecodeJSONControlCharacters(t *testing.T) {
	var v verdict
	text := "{\"categoria\": \"ayuda\", \"nota\": \"línea uno\nlínea\tdos\"}"
	require.NoError(t, DecodeJSON(text, &v))
	assert.Equal(t, "línea uno\nlínea\tdos", v.Nota)
}

func TestDecodeJSONRepairsTrailingComma(t *testing.T) {
	var v verdict
	require.NoError(t, DecodeJSON(`{"categoria": "constancia",}`, &v))
	assert.Equal(t, "constancia", v.Categoria)
}

func TestDecodeJSONNoObject(t *testing.T) {
	var v verdict
	assert.Error(t, DecodeJSON("", &v))
}

func TestExtractStringField(t *testing.T) {
	text := `{"respuesta_usuario": "Encontré 3 alumnos.\nEl primero es \"ANA\"", "reflexion": {broken`
	got, ok := ExtractStringField(text, "respuesta_usuario")
	require.True(t, ok)
	assert.Equal(t, "Encontré 3 alumnos.\nEl primero es \"ANA\"", got)

	_, ok = ExtractStringField(text, "otro")
	assert.False(t, ok)
}

func TestNormaliseControlLeavesStructure(t *testing.T) {
	in := "{\n  \"a\": \"x\ny\"\n}"
	assert.Equal(t, "{\n  \"a\": \"x\\ny\"\n}", NormaliseControl(in))
}
