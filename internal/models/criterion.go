package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Table names of the fixed schema.
const (
	TableAlumnos        = "alumnos"
	TableDatosEscolares = "datos_escolares"
)

// Well-known columns.
const (
	FieldID             = "id"
	FieldNombre         = "nombre"
	FieldCURP           = "curp"
	FieldFechaNac       = "fecha_nacimiento"
	FieldGrado          = "grado"
	FieldGrupo          = "grupo"
	FieldTurno          = "turno"
	FieldCalificaciones = "calificaciones"
	// FieldEdad is calculated from fecha_nacimiento and the injected clock.
	FieldEdad = "edad"
)

// Operator is a criterion comparison operator.
type Operator string

// Supported operators.
const (
	OpEq           Operator = "="
	OpNotEq        Operator = "!="
	OpLike         Operator = "LIKE"
	OpGt           Operator = ">"
	OpLt           Operator = "<"
	OpGte          Operator = ">="
	OpLte          Operator = "<="
	OpBetween      Operator = "BETWEEN"
	OpIsNull       Operator = "IS_NULL"
	OpIsNotNull    Operator = "IS_NOT_NULL"
	OpStartsWith   Operator = "STARTS_WITH"
	OpEndsWith     Operator = "ENDS_WITH"
	OpIn           Operator = "IN"
	OpNotIn        Operator = "NOT_IN"
	OpJSONPromedio Operator = "JSON_PROMEDIO"
	OpJSONMateria  Operator = "JSON_MATERIA"
	OpJSONContains Operator = "JSON_CONTAINS"
)

var operatorAliases = map[string]Operator{
	"==":          OpEq,
	"EQ":          OpEq,
	"IGUAL":       OpEq,
	"<>":          OpNotEq,
	"NE":          OpNotEq,
	"CONTAINS":    OpLike,
	"CONTIENE":    OpLike,
	"IS NULL":     OpIsNull,
	"IS NOT NULL": OpIsNotNull,
	"NOT IN":      OpNotIn,
	"STARTSWITH":  OpStartsWith,
	"ENDSWITH":    OpEndsWith,
}

// ParseOperator normalises operator spellings.
func ParseOperator(raw string) Operator {
	up := strings.ToUpper(strings.TrimSpace(raw))
	if op, ok := operatorAliases[up]; ok {
		return op
	}
	return Operator(strings.ReplaceAll(up, " ", "_"))
}

// Known reports whether op is one of the supported operators.
func (op Operator) Known() bool {
	switch op {
	case OpEq, OpNotEq, OpLike, OpGt, OpLt, OpGte, OpLte, OpBetween, OpIsNull, OpIsNotNull,
		OpStartsWith, OpEndsWith, OpIn, OpNotIn, OpJSONPromedio, OpJSONMateria, OpJSONContains:
		return true
	}
	return false
}

// NeedsValue is false for the nullness operators.
func (op Operator) NeedsValue() bool {
	return op != OpIsNull && op != OpIsNotNull
}

// IsJSON reports the calificaciones operators.
func (op Operator) IsJSON() bool {
	return op == OpJSONPromedio || op == OpJSONMateria || op == OpJSONContains
}

// Criterion is one conjunct of a search.
type Criterion struct {
	Table    string      `json:"tabla" validate:"omitempty,oneof=alumnos datos_escolares"`
	Field    string      `json:"campo" validate:"required"`
	Operator Operator    `json:"operador" validate:"required"`
	Value    interface{} `json:"valor,omitempty"`
}

type criterionJSON struct {
	Table    string          `json:"tabla"`
	Field    string          `json:"campo"`
	Operator string          `json:"operador"`
	Value    json.RawMessage `json:"valor"`
	TableEN  string          `json:"table"`
	FieldEN  string          `json:"field"`
	OpEN     string          `json:"operator"`
	ValueEN  json.RawMessage `json:"value"`
}

// UnmarshalJSON accepts both the Spanish keys used in prompts and English ones.
func (c *Criterion) UnmarshalJSON(data []byte) error {
	var aux criterionJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	c.Table = firstNonEmpty(aux.Table, aux.TableEN)
	c.Field = firstNonEmpty(aux.Field, aux.FieldEN)
	c.Operator = ParseOperator(firstNonEmpty(aux.Operator, aux.OpEN))
	if c.Operator == "" {
		c.Operator = OpEq
	}
	raw := aux.Value
	if len(raw) == 0 {
		raw = aux.ValueEN
	}
	c.Value = nil
	if len(raw) > 0 {
		v, err := decodeValue(raw)
		if err != nil {
			return err
		}
		c.Value = v
	}
	return nil
}

// String renders the criterion for logs and prompts.
func (c Criterion) String() string {
	if !c.Operator.NeedsValue() {
		return fmt.Sprintf("%s.%s %s", c.Table, c.Field, c.Operator)
	}
	return fmt.Sprintf("%s.%s %s %v", c.Table, c.Field, c.Operator, c.Value)
}

// CriteriaList decodes an array of criteria, a single criterion object or a
// flat {campo: valor} map (the shape the Master emits for simple filters).
type CriteriaList []Criterion

// UnmarshalJSON implements the flexible decoding.
func (l *CriteriaList) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*l = nil
		return nil
	}
	switch trimmed[0] {
	case '[':
		var items []Criterion
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return err
		}
		*l = items
		return nil
	case '{':
		var probe map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &probe); err != nil {
			return err
		}
		if _, ok := probe["campo"]; ok {
			var single Criterion
			if err := json.Unmarshal(trimmed, &single); err != nil {
				return err
			}
			*l = CriteriaList{single}
			return nil
		}
		if _, ok := probe["field"]; ok {
			var single Criterion
			if err := json.Unmarshal(trimmed, &single); err != nil {
				return err
			}
			*l = CriteriaList{single}
			return nil
		}
		keys := sortedKeys(probe)
		out := make(CriteriaList, 0, len(keys))
		for _, key := range keys {
			v, err := decodeValue(probe[key])
			if err != nil {
				return err
			}
			if v == nil {
				continue
			}
			table, field := splitQualified(key)
			out = append(out, Criterion{Table: table, Field: field, Operator: OpEq, Value: v})
		}
		*l = out
		return nil
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		if strings.TrimSpace(s) == "" {
			*l = nil
			return nil
		}
		return fmt.Errorf("criteria must be an object or array, got string %q", s)
	}
	return fmt.Errorf("criteria must be an object or array")
}

func splitQualified(key string) (string, string) {
	if idx := strings.Index(key, "."); idx > 0 {
		return key[:idx], key[idx+1:]
	}
	return "", key
}

func decodeValue(raw json.RawMessage) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return normaliseNumbers(v), nil
}

// normaliseNumbers turns json.Number into int64 or float64.
func normaliseNumbers(v interface{}) interface{} {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case []interface{}:
		for i := range t {
			t[i] = normaliseNumbers(t[i])
		}
		return t
	case map[string]interface{}:
		for k := range t {
			t[k] = normaliseNumbers(t[k])
		}
		return t
	}
	return v
}

// Comparison is a parsed "<op><number>" threshold such as ">=8" or "6".
type Comparison struct {
	Op    Operator
	Value float64
}

// ParseComparison reads a threshold with an optional leading comparator; the default is >=.
func ParseComparison(raw interface{}) (*Comparison, error) {
	switch v := raw.(type) {
	case int64:
		return &Comparison{Op: OpGte, Value: float64(v)}, nil
	case int:
		return &Comparison{Op: OpGte, Value: float64(v)}, nil
	case float64:
		return &Comparison{Op: OpGte, Value: v}, nil
	case string:
		s := strings.TrimSpace(v)
		op := OpGte
		for _, candidate := range []Operator{OpGte, OpLte, OpNotEq, OpGt, OpLt, OpEq} {
			if strings.HasPrefix(s, string(candidate)) {
				op = candidate
				s = strings.TrimSpace(strings.TrimPrefix(s, string(candidate)))
				break
			}
		}
		n, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid numeric threshold %q", v)
		}
		return &Comparison{Op: op, Value: n}, nil
	}
	return nil, fmt.Errorf("invalid numeric threshold %v", raw)
}

// Holds evaluates the comparison against x.
func (c Comparison) Holds(x float64) bool {
	switch c.Op {
	case OpGt:
		return x > c.Value
	case OpLt:
		return x < c.Value
	case OpLte:
		return x <= c.Value
	case OpEq:
		return x == c.Value
	case OpNotEq:
		return x != c.Value
	default:
		return x >= c.Value
	}
}

// FlexString decodes strings, numbers and booleans as text.
type FlexString string

// UnmarshalJSON implements the lenient decoding.
func (f *FlexString) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		*f = FlexString(strings.TrimSpace(s))
		return nil
	}
	*f = FlexString(strings.Trim(string(trimmed), `"`))
	return nil
}

// String returns the text.
func (f FlexString) String() string { return string(f) }

// FlexInt decodes integers that may arrive quoted.
type FlexInt int

// UnmarshalJSON implements the lenient decoding; garbage decodes to zero.
func (f *FlexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		*f = FlexInt(n)
		return nil
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		*f = FlexInt(int(v))
		return nil
	}
	*f = 0
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
