package query

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	appErrors "github.com/noah-isme/sma-adp-assistant/pkg/errors"
)

// ForbiddenKeywords may never appear in an executed statement.
var ForbiddenKeywords = []string{
	"INSERT", "UPDATE", "DELETE", "DROP", "CREATE", "ALTER", "TRUNCATE",
	"REPLACE", "MERGE", "EXEC", "EXECUTE", "ATTACH", "DETACH", "PRAGMA", "VACUUM", "REINDEX", "GRANT", "REVOKE",
	"SQLITE_MASTER", "SQLITE_SCHEMA", "LOAD_EXTENSION",
}

var (
	forbiddenPattern = regexp.MustCompile(`(?i)\b(` + strings.Join(ForbiddenKeywords, "|") + `)\b`)
	limitPattern     = regexp.MustCompile(`(?i)\bLIMIT\s+(\d+)\s*(OFFSET\s+\d+\s*)?$`)
	literalPattern   = regexp.MustCompile(`'(?:[^']|'')*'`)
)

// Guard rejects anything but a single SELECT and enforces a LIMIT on row
// returning statements.
type Guard struct {
	DefaultLimit int
	MaxLimit     int
}

// Check validates the statement text.
func (g Guard) Check(sql string) error {
	// string literals are inert; keywords are matched outside of them
	body := literalPattern.ReplaceAllString(strings.TrimSpace(sql), "''")
	if body == "" {
		return unsafe("sentencia vacía")
	}
	if strings.Contains(body, "--") || strings.Contains(body, "/*") {
		return unsafe("comentarios no permitidos")
	}
	body = strings.TrimSpace(strings.TrimSuffix(body, ";"))
	if strings.Contains(body, ";") {
		return unsafe("múltiples sentencias no permitidas")
	}
	fields := strings.Fields(body)
	if len(fields) == 0 || !strings.EqualFold(fields[0], "SELECT") {
		return unsafe("solo se permiten consultas SELECT")
	}
	if m := forbiddenPattern.FindString(body); m != "" {
		return unsafe(fmt.Sprintf("palabra reservada prohibida: %s", strings.ToUpper(m)))
	}
	return nil
}

// Enforce checks the statement and, unless it is an aggregate, guarantees a
// LIMIT within bounds. The trailing semicolon is dropped.
func (g Guard) Enforce(stmt Statement) (Statement, error) {
	if err := g.Check(stmt.SQL); err != nil {
		return stmt, err
	}
	sql := strings.TrimSpace(stmt.SQL)
	sql = strings.TrimSpace(strings.TrimSuffix(sql, ";"))
	if !stmt.Aggregate {
		sql = g.withLimit(sql)
	}
	stmt.SQL = sql
	return stmt, nil
}

func (g Guard) withLimit(sql string) string {
	def, max := g.DefaultLimit, g.MaxLimit
	if def <= 0 {
		def = 100
	}
	if max < def {
		max = def
	}
	m := limitPattern.FindStringSubmatchIndex(sql)
	if m == nil {
		return sql + " LIMIT " + strconv.Itoa(def)
	}
	n, err := strconv.Atoi(sql[m[2]:m[3]])
	switch {
	case err != nil || n > max:
		n = max
	case n <= 0:
		n = 1
	default:
		return sql
	}
	return sql[:m[2]] + strconv.Itoa(n) + sql[m[3]:]
}

func unsafe(msg string) error {
	return appErrors.Clone(appErrors.ErrUnsafeSQL, msg)
}
