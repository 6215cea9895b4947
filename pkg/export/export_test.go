package export

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDatasetOrdersColumns(t *testing.T) {
	rows := []map[string]interface{}{
		{"nombre": "ANA", "id": int64(1), "turno": "MATUTINO", "promedio": 8.5},
		{"nombre": "LUIS", "id": int64(6), "extra": nil},
	}
	ds := NewDataset(rows, "id", "nombre", "missing")
	assert.Equal(t, []string{"id", "nombre", "extra", "promedio", "turno"}, ds.Headers)
	assert.Equal(t, "8.5", ds.Rows[0]["promedio"])
	assert.Equal(t, "", ds.Rows[1]["turno"])
	assert.Equal(t, "6", ds.Rows[1]["id"])
}

func TestCSVExporterRender(t *testing.T) {
	ds := Dataset{Headers: []string{"id", "nombre"}, Rows: []map[string]string{{"id": "1", "nombre": "ÁNGEL, JR"}}}
	out, err := NewCSVExporter().Render(ds)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("\ufeff")))
	assert.Equal(t, "id,nombre\n1,\"ÁNGEL, JR\"\n", strings.TrimPrefix(string(out), "\ufeff"))

	_, err = (&CSVExporter{}).Render(Dataset{})
	assert.Error(t, err)
}

func TestCertificateRendererProducesPDF(t *testing.T) {
	doc := CertificateDocument{
		Kind:        KindGrades,
		SchoolName:  "Escuela Primaria Benito Juárez",
		CCT:         "09DPR0001A",
		StudentName: "LUIS PEREZ HERNANDEZ",
		CURP:        "PEHL140214HDFRRSA6",
		Grado:       "4",
		Grupo:       "B",
		Turno:       "MATUTINO",
		Ciclo:       "2024-2025",
		Grades:      []GradeLine{{Subject: "ESPAÑOL", Promedio: "10"}},
		Preview:     true,
		IssuedAt:    time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC),
		Folio:       "abc",
	}
	out, err := NewCertificateRenderer().Render(doc)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))
}

func TestCertificateRendererRejectsIncompleteDocuments(t *testing.T) {
	r := NewCertificateRenderer()
	_, err := r.Render(CertificateDocument{Kind: "diploma", StudentName: "X"})
	assert.Error(t, err)
	_, err = r.Render(CertificateDocument{Kind: KindStudy})
	assert.Error(t, err)
	_, err = r.Render(CertificateDocument{Kind: KindGrades, StudentName: "X"})
	assert.Error(t, err)
}

func TestLongDate(t *testing.T) {
	assert.Equal(t, "1 de septiembre de 2024", longDate(time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)))
}
