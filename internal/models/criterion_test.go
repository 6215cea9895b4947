package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCriteriaListDecodesArray(t *testing.T) {
	var list CriteriaList
	err := json.Unmarshal([]byte(`[{"tabla":"datos_escolares","campo":"grado","operador":"=","valor":3},{"table":"alumnos","field":"nombre","operator":"like","value":"GARCIA"}]`), &list)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, Criterion{Table: TableDatosEscolares, Field: "grado", Operator: OpEq, Value: int64(3)}, list[0])
	assert.Equal(t, OpLike, list[1].Operator)
	assert.Equal(t, "GARCIA", list[1].Value)
}

func TestCriteriaListDecodesSingleObject(t *testing.T) {
	var list CriteriaList
	require.NoError(t, json.Unmarshal([]byte(`{"campo":"turno","valor":"MATUTINO"}`), &list))
	require.Len(t, list, 1)
	assert.Equal(t, OpEq, list[0].Operator)
	assert.Equal(t, "turno", list[0].Field)
}

func TestCriteriaListDecodesFlatMap(t *testing.T) {
	var list CriteriaList
	require.NoError(t, json.Unmarshal([]byte(`{"turno":"MATUTINO","datos_escolares.grado":4,"grupo":null}`), &list))
	require.Len(t, list, 2)
	assert.Equal(t, Criterion{Table: TableDatosEscolares, Field: "grado", Operator: OpEq, Value: int64(4)}, list[0])
	assert.Equal(t, Criterion{Field: "turno", Operator: OpEq, Value: "MATUTINO"}, list[1])
}

func TestCriteriaListEmptyForms(t *testing.T) {
	for _, raw := range []string{`null`, `""`, `[]`} {
		var list CriteriaList
		require.NoError(t, json.Unmarshal([]byte(raw), &list), raw)
		assert.Empty(t, list, raw)
	}
	var list CriteriaList
	assert.Error(t, json.Unmarshal([]byte(`"grado 3"`), &list))
}

func TestParseOperatorAliases(t *testing.T) {
	assert.Equal(t, OpIsNull, ParseOperator("is null"))
	assert.Equal(t, OpNotIn, ParseOperator("NOT IN"))
	assert.Equal(t, OpNotEq, ParseOperator("<>"))
	assert.Equal(t, OpJSONPromedio, ParseOperator("json_promedio"))
	assert.True(t, OpBetween.Known())
	assert.False(t, Operator("SOUNDS_LIKE").Known())
}

func TestParseComparison(t *testing.T) {
	c, err := ParseComparison(">=8.5")
	require.NoError(t, err)
	assert.Equal(t, Comparison{Op: OpGte, Value: 8.5}, *c)

	c, err = ParseComparison("< 6")
	require.NoError(t, err)
	assert.Equal(t, OpLt, c.Op)
	assert.True(t, c.Holds(5.9))
	assert.False(t, c.Holds(6))

	c, err = ParseComparison(int64(9))
	require.NoError(t, err)
	assert.Equal(t, OpGte, c.Op)
	assert.True(t, c.Holds(9))

	_, err = ParseComparison("alto")
	assert.Error(t, err)
}

func TestFlexScalars(t *testing.T) {
	var payload struct {
		A FlexInt    `json:"a"`
		B FlexInt    `json:"b"`
		C FlexString `json:"c"`
		D FlexString `json:"d"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"12","b":"tercero","c":3,"d":" B "}`), &payload))
	assert.Equal(t, FlexInt(12), payload.A)
	assert.Equal(t, FlexInt(0), payload.B)
	assert.Equal(t, FlexString("3"), payload.C)
	assert.Equal(t, FlexString("B"), payload.D)
}
