package query

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Statement is a compiled, parameterised SQL statement.
type Statement struct {
	SQL  string
	Args []interface{}
	// Aggregate statements return summary rows and never get a LIMIT injected.
	Aggregate bool
	// Label names the statement for metrics and logs.
	Label string
}

// Display inlines the arguments into the SQL for logs and the sql_executed
// field. It is never executed.
func (s Statement) Display() string {
	var b strings.Builder
	argIdx := 0
	inQuote := false
	for i := 0; i < len(s.SQL); i++ {
		ch := s.SQL[i]
		if ch == '\'' {
			inQuote = !inQuote
		}
		if ch == '?' && !inQuote && argIdx < len(s.Args) {
			b.WriteString(literal(s.Args[argIdx]))
			argIdx++
			continue
		}
		b.WriteByte(ch)
	}
	return b.String()
}

func literal(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return "NULL"
	case string:
		return "'" + strings.ReplaceAll(t, "'", "''") + "'"
	case []byte:
		return "'" + strings.ReplaceAll(string(t), "'", "''") + "'"
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		if t {
			return "1"
		}
		return "0"
	case time.Time:
		return "'" + t.Format("2006-01-02") + "'"
	}
	return "'" + strings.ReplaceAll(fmt.Sprint(v), "'", "''") + "'"
}

// builder accumulates SQL text and arguments in placeholder order.
type builder struct {
	sb   strings.Builder
	args []interface{}
}

func (b *builder) write(parts ...string) *builder {
	for _, p := range parts {
		b.sb.WriteString(p)
	}
	return b
}

func (b *builder) frag(f fragment) *builder {
	b.sb.WriteString(f.sql)
	b.args = append(b.args, f.args...)
	return b
}

func (b *builder) statement(label string, aggregate bool) Statement {
	return Statement{SQL: b.sb.String(), Args: b.args, Aggregate: aggregate, Label: label}
}

// fragment is a piece of SQL with its own arguments.
type fragment struct {
	sql  string
	args []interface{}
}

func frag(sql string, args ...interface{}) fragment {
	return fragment{sql: sql, args: args}
}
