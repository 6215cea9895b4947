package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Row is one normalised result row keyed by column name.
type Row map[string]interface{}

// ID returns the student id of the row when present.
func (r Row) ID() (int64, bool) {
	for _, key := range []string{"id", "alumno_id"} {
		if v, ok := r[key]; ok {
			if id, ok := toInt64(v); ok {
				return id, true
			}
		}
	}
	return 0, false
}

// Name returns the nombre column.
func (r Row) Name() string {
	return r.String("nombre")
}

// String renders a column as text; missing columns yield "".
func (r Row) String(key string) string {
	v, ok := r[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

// Clone copies the row.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// RowIDs collects the ids of rows that carry one, preserving order.
func RowIDs(rows []Row) []int64 {
	ids := make([]int64, 0, len(rows))
	for _, row := range rows {
		if id, ok := row.ID(); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

func toInt64(v interface{}) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	case int32:
		return int64(t), true
	case float64:
		return int64(t), t == float64(int64(t))
	case json.Number:
		n, err := t.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		return n, err == nil
	case []byte:
		n, err := strconv.ParseInt(strings.TrimSpace(string(t)), 10, 64)
		return n, err == nil
	}
	return 0, false
}
