package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/sma-adp-assistant/internal/models"
)

func TestLookupActionAcceptsAlias(t *testing.T) {
	spec, ok := LookupAction("buscar_y_filtrar")
	assert.True(t, ok)
	assert.Equal(t, models.ActionSearch, spec.Name.Canonical())

	_, ok = LookupAction("BORRAR_ALUMNOS")
	assert.False(t, ok)
}

func TestCatalogForCategory(t *testing.T) {
	names := func(specs []ActionSpec) []models.ActionName {
		out := make([]models.ActionName, len(specs))
		for i, s := range specs {
			out[i] = s.Name
		}
		return out
	}

	transform := names(CatalogFor(models.CategoryTransform))
	assert.Equal(t, []models.ActionName{models.ActionTransformPDF}, transform)

	stats := names(CatalogFor(models.CategoryStatistics))
	assert.Contains(t, stats, models.ActionCount)
	assert.NotContains(t, stats, models.ActionGenerateCertificate)

	assert.Len(t, CatalogFor(models.CategoryHelp), len(ActionCatalog))
}

func TestActionDocsCarryGuidelines(t *testing.T) {
	docs := actionDocs(CatalogFor(models.CategoryStatistics))
	for _, d := range docs {
		if d.Name == models.ActionStatistics {
			assert.Contains(t, d.Guideline, "CONTAR_UNIVERSAL")
			return
		}
	}
	t.Fatal("CALCULAR_ESTADISTICA missing from statistics catalog")
}
