package conversation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-adp-assistant/internal/models"
)

func level(query string, ids ...int64) models.ContextLevel {
	rows := make([]models.Row, len(ids))
	for i, id := range ids {
		rows[i] = models.Row{"id": id, "nombre": query}
	}
	return models.ContextLevel{Query: query, Data: rows, RowCount: len(rows), Awaiting: models.AwaitingSelection}
}

func TestStackPushEvictsExactlyOneFromFront(t *testing.T) {
	s := NewStack(5)
	for i := int64(1); i <= 5; i++ {
		assert.Nil(t, s.Push(level("q", i)))
	}
	require.Equal(t, 5, s.Len())
	require.True(t, s.Contains(1))

	evicted := s.Push(level("q6", 6))
	require.NotNil(t, evicted)
	assert.Equal(t, []int64{1}, evicted.IDs())
	assert.Equal(t, 5, s.Len())
	assert.False(t, s.Contains(1))
	assert.True(t, s.Contains(6))
}

func TestStackPeekNewestFirst(t *testing.T) {
	s := NewStack(0)
	assert.Equal(t, DefaultMaxLevels, s.Max())
	s.Push(level("a", 1))
	s.Push(level("b", 2))
	s.Push(level("c", 3))

	peek := s.Peek(2)
	require.Len(t, peek, 2)
	assert.Equal(t, "c", peek[0].Query)
	assert.Equal(t, "b", peek[1].Query)
	assert.Len(t, s.Peek(10), 3)
	assert.Nil(t, s.Peek(0))

	top, ok := s.Top()
	require.True(t, ok)
	assert.Equal(t, "c", top.Query)

	at, ok := s.At(2)
	require.True(t, ok)
	assert.Equal(t, "a", at.Query)
	_, ok = s.At(3)
	assert.False(t, ok)
}

func TestStackTopWithDataSkipsDataless(t *testing.T) {
	s := NewStack(5)
	s.Push(level("with rows", 1, 2))
	s.Push(models.ContextLevel{Query: "hola", Awaiting: models.AwaitingNone})

	l, depth, ok := s.TopWithData()
	require.True(t, ok)
	assert.Equal(t, "with rows", l.Query)
	assert.Equal(t, 1, depth)
}

func TestStackCloneIsIndependent(t *testing.T) {
	s := NewStack(5)
	s.Push(level("a", 1))
	clone := s.Clone()
	clone.Push(level("b", 2))
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, 2, clone.Len())
	s.Clear()
	assert.Equal(t, 0, s.Len())
	assert.Equal(t, 2, clone.Len())
}

func TestFormatForLLM(t *testing.T) {
	s := NewStack(5)
	assert.Equal(t, "(sin contexto previo)", FormatForLLM(s, FormatOptions{}))

	l := level("alumnos apellido GARCIA", 4, 9, 12)
	l.StrategicNote = "grados disponibles: {3}"
	l.Data[0]["curp"] = "GALA100101HDFRPN01"
	s.Push(l)

	out := FormatForLLM(s, FormatOptions{IncludeIDs: true, SampleRows: 2})
	assert.Contains(t, out, "NIVEL 1 (más reciente): \"alumnos apellido GARCIA\"")
	assert.Contains(t, out, "resultados: 3 | espera: selection")
	assert.Contains(t, out, "nota estratégica: grados disponibles: {3}")
	assert.Contains(t, out, "1. id=4, nombre=alumnos apellido GARCIA, curp=GALA100101HDFRPN01")
	assert.NotContains(t, out, "3. id=12")
	assert.Contains(t, out, "ids: 4, 9, 12")

	withoutIDs := FormatForLLM(s, FormatOptions{})
	assert.NotContains(t, withoutIDs, "ids:")
}

func TestStateHistoryCapAndSnapshot(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	st := NewState("s1", 2, 3, now)
	for i := 0; i < 5; i++ {
		st.AppendHistory(models.RoleUser, string(rune('a'+i)), now.Add(time.Duration(i)*time.Minute))
	}
	require.Len(t, st.History, 3)
	assert.Equal(t, "c", st.History[0].Content)
	assert.Len(t, st.RecentHistory(2), 2)

	st.Stack.Push(level("x", 1))
	st.Stack.Push(level("y", 2))
	st.Stack.Push(level("z", 3))
	st.Pending = &PendingClarification{Question: "¿cuál?"}

	restored := Restore(st.Snapshot())
	assert.Equal(t, "s1", restored.SessionID)
	assert.Equal(t, 2, restored.Stack.Len())
	assert.Equal(t, st.History, restored.History)
	require.NotNil(t, restored.Pending)
	assert.Equal(t, "¿cuál?", restored.Pending.Question)

	clone := st.Clone()
	clone.Stack.Clear()
	clone.Pending.Question = "otra"
	assert.Equal(t, 2, st.Stack.Len())
	assert.Equal(t, "¿cuál?", st.Pending.Question)

	st.Reset(now)
	assert.Equal(t, 0, st.Stack.Len())
	assert.Empty(t, st.History)
	assert.Nil(t, st.Pending)
}
