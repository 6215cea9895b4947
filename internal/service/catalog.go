package service

import (
	"github.com/noah-isme/sma-adp-assistant/internal/models"
	"github.com/noah-isme/sma-adp-assistant/internal/prompt"
)

// ActionSpec documents one catalog action.
type ActionSpec struct {
	Name       models.ActionName
	Group      string
	Categories []models.Category
	Purpose    string
	Params     string
	Output     string
	Guideline  string
}

// ActionCatalog is the closed set of actions the planner may choose.
var ActionCatalog = []ActionSpec{
	{
		Name:       models.ActionSearch,
		Group:      "search",
		Categories: []models.Category{models.CategorySearch, models.CategoryContinuation},
		Purpose:    "Búsqueda principal de alumnos por cualquier combinación de criterios.",
		Params:     `{"criterio_principal": {"tabla", "campo", "operador", "valor"}, "filtros_adicionales": [criterios], "limite": n}`,
		Output:     "Filas de alumnos con sus datos escolares.",
		Guideline:  "Para localizar alumnos. Con contexto, usa alumnos.id IN (ids) como criterio principal.",
	},
	{
		Name:       models.ActionStatistics,
		Group:      "stats",
		Categories: []models.Category{models.CategoryStatistics, models.CategoryContinuation},
		Purpose:    "Conteos, distribuciones, promedios (edad, calificaciones) y comparaciones entre grupos.",
		Params:     `{"tipo": "conteo|distribucion|promedio|comparacion", "agrupar_por": "campo", "campo": "campo", "filtro": [criterios]}`,
		Output:     "Filas agregadas (total, cantidad, promedio).",
		Guideline:  "Filtros solo con =, !=, LIKE, >, <, >=, <=, IS_NULL, IS_NOT_NULL y operadores JSON. Para BETWEEN, IN o NOT_IN usa CONTAR_UNIVERSAL.",
	},
	{
		Name:       models.ActionCount,
		Group:      "stats",
		Categories: []models.Category{models.CategoryStatistics, models.CategoryContinuation},
		Purpose:    "Conteo con cualquier operador, incluidos BETWEEN, IN y NOT_IN.",
		Params:     `{"criterios": [criterios]}`,
		Output:     "Una fila con total.",
		Guideline:  "Cuando el conteo necesita rangos o listas de valores.",
	},
	{
		Name:       models.ActionFilterByGrades,
		Group:      "search",
		Categories: []models.Category{models.CategorySearch, models.CategoryContinuation},
		Purpose:    "Alumnos con o sin calificaciones registradas.",
		Params:     `{"tiene_calificaciones": true|false, "filtros_adicionales": [criterios], "limite": n}`,
		Output:     "Filas de alumnos.",
		Guideline:  "Para preguntas sobre quién tiene o no tiene calificaciones capturadas.",
	},
	{
		Name:       models.ActionFullListing,
		Group:      "report",
		Categories: []models.Category{models.CategorySearch, models.CategoryContinuation},
		Purpose:    "Listado completo o ligeramente filtrado.",
		Params:     `{"filtro": [criterios], "ordenar_por": "campo", "limite": n}`,
		Output:     "Filas de alumnos ordenadas.",
		Guideline:  "Para listados generales sin criterio principal.",
	},
	{
		Name:       models.ActionPrepareCertificate,
		Group:      "constancia",
		Categories: []models.Category{models.CategoryCertificate, models.CategoryContinuation},
		Purpose:    "Localiza y valida al alumno antes de emitir una constancia.",
		Params:     `{"alumno_identificador": "id, CURP o nombre", "tipo_constancia": "estudio|calificaciones|traslado"}`,
		Output:     "La fila del alumno y los datos que llevaría la constancia.",
		Guideline:  "Cuando solo se quiere revisar los datos antes de generar.",
	},
	{
		Name:       models.ActionGenerateCertificate,
		Group:      "constancia",
		Categories: []models.Category{models.CategoryCertificate, models.CategoryContinuation},
		Purpose:    "Genera la constancia en PDF (vista previa por defecto).",
		Params:     `{"alumno_identificador": "id, CURP o nombre", "tipo_constancia": "estudio|calificaciones|traslado", "incluir_foto": false, "vista_previa": true}`,
		Output:     "Ruta y metadatos del PDF.",
		Guideline:  "Para cualquier solicitud de constancia de un alumno identificado.",
	},
	{
		Name:       models.ActionTransformPDF,
		Group:      "transform",
		Categories: []models.Category{models.CategoryTransform},
		Purpose:    "Convierte un PDF recibido en una constancia del sistema.",
		Params:     `{"archivo_origen": "ruta", "tipo_constancia": "estudio|calificaciones|traslado", "alumno_identificador": "opcional"}`,
		Output:     "Ruta y metadatos del PDF generado.",
		Guideline:  "Solo cuando el usuario adjuntó un PDF.",
	},
	{
		Name:       models.ActionSearchAndFilter,
		Group:      "combined",
		Categories: []models.Category{models.CategorySearch},
		Purpose:    "Alias de BUSCAR_UNIVERSAL.",
		Params:     "Los de BUSCAR_UNIVERSAL.",
		Output:     "Los de BUSCAR_UNIVERSAL.",
		Guideline:  "Prefiere BUSCAR_UNIVERSAL.",
	},
}

// LookupAction finds a catalog entry; aliases are accepted.
func LookupAction(name models.ActionName) (ActionSpec, bool) {
	for _, spec := range ActionCatalog {
		if spec.Name == name || spec.Name == name.Canonical() {
			return spec, true
		}
	}
	return ActionSpec{}, false
}

// CatalogFor filters the catalog to the actions offered for a category.
// Unknown categories get the whole catalog.
func CatalogFor(category models.Category) []ActionSpec {
	var out []ActionSpec
	for _, spec := range ActionCatalog {
		for _, c := range spec.Categories {
			if c == category {
				out = append(out, spec)
				break
			}
		}
	}
	if len(out) == 0 {
		return ActionCatalog
	}
	return out
}

func actionDocs(specs []ActionSpec) []prompt.ActionDoc {
	docs := make([]prompt.ActionDoc, len(specs))
	for i, s := range specs {
		docs[i] = prompt.ActionDoc{Name: s.Name, Purpose: s.Purpose, Params: s.Params, Output: s.Output, Guideline: s.Guideline}
	}
	return docs
}
