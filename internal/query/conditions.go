package query

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/noah-isme/sma-adp-assistant/internal/models"
	appErrors "github.com/noah-isme/sma-adp-assistant/pkg/errors"
)

// Condition compiles one resolved criterion into a WHERE conjunct.
func (c *Compiler) Condition(cr models.Criterion) (fragment, error) {
	if cr.Table == models.TableDatosEscolares && cr.Field == models.FieldCalificaciones {
		return gradesCondition(cr)
	}
	if cr.Operator.IsJSON() {
		return fragment{}, appErrors.Clone(appErrors.ErrOperatorMismatch, fmt.Sprintf("%s solo aplica a calificaciones", cr.Operator))
	}
	col := c.column(cr)
	withCol := func(suffix string, args ...interface{}) fragment {
		var all []interface{}
		all = append(all, col.args...)
		return fragment{sql: col.sql + suffix, args: append(all, args...)}
	}

	switch cr.Operator {
	case models.OpEq, models.OpNotEq, models.OpGt, models.OpLt, models.OpGte, models.OpLte:
		if cr.Value == nil {
			switch cr.Operator {
			case models.OpEq:
				return withCol(" IS NULL"), nil
			case models.OpNotEq:
				return withCol(" IS NOT NULL"), nil
			}
			return fragment{}, missingValue(cr)
		}
		v, err := scalar(cr)
		if err != nil {
			return fragment{}, err
		}
		return withCol(" "+string(cr.Operator)+" ?", v), nil
	case models.OpLike:
		s, err := text(cr)
		if err != nil {
			return fragment{}, err
		}
		if !strings.Contains(s, "%") {
			s = "%" + s + "%"
		}
		return withCol(" LIKE ?", s), nil
	case models.OpStartsWith:
		s, err := text(cr)
		if err != nil {
			return fragment{}, err
		}
		return withCol(` LIKE ? ESCAPE '\'`, escapeLike(s)+"%"), nil
	case models.OpEndsWith:
		s, err := text(cr)
		if err != nil {
			return fragment{}, err
		}
		return withCol(` LIKE ? ESCAPE '\'`, "%"+escapeLike(s)), nil
	case models.OpBetween:
		lo, hi, err := bounds(cr)
		if err != nil {
			return fragment{}, err
		}
		return withCol(" BETWEEN ? AND ?", lo, hi), nil
	case models.OpIsNull:
		return withCol(" IS NULL"), nil
	case models.OpIsNotNull:
		return withCol(" IS NOT NULL"), nil
	case models.OpIn, models.OpNotIn:
		items, err := list(cr)
		if err != nil {
			return fragment{}, err
		}
		if len(items) == 0 {
			if cr.Operator == models.OpIn {
				return frag("1=0"), nil
			}
			return frag("1=1"), nil
		}
		kw := " IN ("
		if cr.Operator == models.OpNotIn {
			kw = " NOT IN ("
		}
		return withCol(kw+placeholders(len(items))+")", items...), nil
	}
	return fragment{}, appErrors.Clone(appErrors.ErrUnsupportedOperator, fmt.Sprintf("operador no soportado: %s", cr.Operator))
}

// gradesCondition handles calificaciones, which is never compared as a plain string.
func gradesCondition(cr models.Criterion) (fragment, error) {
	switch cr.Operator {
	case models.OpJSONPromedio:
		cmp, err := models.ParseComparison(cr.Value)
		if err != nil {
			return fragment{}, appErrors.Clone(appErrors.ErrMissingParameter, "JSON_PROMEDIO requiere un umbral numérico")
		}
		return frag(studentAverage+" "+string(cmp.Op)+" ?", cmp.Value), nil
	case models.OpJSONMateria:
		subject, cmp, err := parseSubject(cr.Value)
		if err != nil {
			return fragment{}, err
		}
		if cmp == nil {
			return frag("EXISTS (SELECT 1 FROM "+gradesSource+" WHERE "+subjectName+" LIKE ?)", "%"+subject+"%"), nil
		}
		return frag("EXISTS (SELECT 1 FROM "+gradesSource+" WHERE "+subjectName+" LIKE ? AND "+subjectAverage+" "+string(cmp.Op)+" ?)",
			"%"+subject+"%", cmp.Value), nil
	case models.OpJSONContains:
		subject, _, err := parseSubject(cr.Value)
		if err != nil {
			return fragment{}, err
		}
		return frag("EXISTS (SELECT 1 FROM "+gradesSource+" WHERE "+subjectName+" LIKE ?)", "%"+subject+"%"), nil
	case models.OpIsNull:
		return frag(emptyGrades), nil
	case models.OpIsNotNull:
		return frag(nonEmptyGrades), nil
	case models.OpEq, models.OpNotEq:
		if !isEmptyGradesValue(cr.Value) {
			return fragment{}, appErrors.Clone(appErrors.ErrGradesOperator, "calificaciones solo se compara con JSON_PROMEDIO, JSON_MATERIA, JSON_CONTAINS o vacío")
		}
		if cr.Operator == models.OpEq {
			return frag(emptyGrades), nil
		}
		return frag(nonEmptyGrades), nil
	}
	return fragment{}, appErrors.Clone(appErrors.ErrGradesOperator, fmt.Sprintf("operador %s no aplica a calificaciones", cr.Operator))
}

func isEmptyGradesValue(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return models.IsEmptyGrades(t)
	case []interface{}:
		return len(t) == 0
	}
	return false
}

// parseSubject reads "MATEMATICAS:8", "MATEMATICAS:<6", "MATEMATICAS" or
// {"materia": ..., "umbral": ...}.
func parseSubject(v interface{}) (string, *models.Comparison, error) {
	var subject string
	var threshold interface{}
	switch t := v.(type) {
	case string:
		parts := strings.SplitN(t, ":", 2)
		subject = parts[0]
		if len(parts) == 2 && strings.TrimSpace(parts[1]) != "" {
			threshold = strings.TrimSpace(parts[1])
		}
	case map[string]interface{}:
		for _, k := range []string{"materia", "nombre", "subject"} {
			if s, ok := t[k].(string); ok {
				subject = s
				break
			}
		}
		for _, k := range []string{"umbral", "promedio", "valor", "threshold"} {
			if x, ok := t[k]; ok {
				threshold = x
				break
			}
		}
	}
	subject = strings.ToUpper(strings.TrimSpace(subject))
	if subject == "" {
		return "", nil, appErrors.Clone(appErrors.ErrMissingParameter, "JSON_MATERIA requiere el nombre de la materia")
	}
	if threshold == nil {
		return subject, nil, nil
	}
	cmp, err := models.ParseComparison(threshold)
	if err != nil {
		return "", nil, appErrors.Clone(appErrors.ErrMissingParameter, "umbral de materia inválido")
	}
	return subject, cmp, nil
}

func missingValue(cr models.Criterion) error {
	return appErrors.Clone(appErrors.ErrMissingParameter, fmt.Sprintf("%s.%s %s requiere un valor", cr.Table, cr.Field, cr.Operator))
}

func scalar(cr models.Criterion) (interface{}, error) {
	switch cr.Value.(type) {
	case []interface{}, map[string]interface{}:
		return nil, appErrors.Clone(appErrors.ErrOperatorMismatch, fmt.Sprintf("%s espera un solo valor", cr.Operator))
	}
	return cr.Value, nil
}

func text(cr models.Criterion) (string, error) {
	switch t := cr.Value.(type) {
	case string:
		if t == "" {
			return "", missingValue(cr)
		}
		return t, nil
	case nil:
		return "", missingValue(cr)
	case []interface{}, map[string]interface{}:
		return "", appErrors.Clone(appErrors.ErrOperatorMismatch, fmt.Sprintf("%s espera texto", cr.Operator))
	default:
		return fmt.Sprint(t), nil
	}
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func bounds(cr models.Criterion) (interface{}, interface{}, error) {
	switch t := cr.Value.(type) {
	case []interface{}:
		if len(t) == 2 {
			return t[0], t[1], nil
		}
	case map[string]interface{}:
		lo, okLo := firstKey(t, "min", "desde", "inicio", "de")
		hi, okHi := firstKey(t, "max", "hasta", "fin", "a")
		if okLo && okHi {
			return lo, hi, nil
		}
	case string:
		for _, sep := range []string{",", " y ", " and ", " - ", "-"} {
			if parts := strings.SplitN(t, sep, 2); len(parts) == 2 {
				return numberOrText(parts[0]), numberOrText(parts[1]), nil
			}
		}
	}
	return nil, nil, appErrors.Clone(appErrors.ErrMissingParameter, "BETWEEN requiere dos límites")
}

func list(cr models.Criterion) ([]interface{}, error) {
	switch t := cr.Value.(type) {
	case []interface{}:
		for _, item := range t {
			switch item.(type) {
			case []interface{}, map[string]interface{}:
				return nil, appErrors.Clone(appErrors.ErrOperatorMismatch, "IN espera una lista de valores simples")
			}
		}
		return t, nil
	case []int64:
		out := make([]interface{}, len(t))
		for i, id := range t {
			out[i] = id
		}
		return out, nil
	case string:
		var out []interface{}
		for _, part := range strings.Split(t, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, numberOrText(p))
			}
		}
		return out, nil
	case nil:
		return nil, missingValue(cr)
	case map[string]interface{}:
		return nil, appErrors.Clone(appErrors.ErrOperatorMismatch, "IN espera una lista")
	}
	return []interface{}{cr.Value}, nil
}

func firstKey(m map[string]interface{}, keys ...string) (interface{}, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return v, true
		}
	}
	return nil, false
}

func numberOrText(s string) interface{} {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
