package conversation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/noah-isme/sma-adp-assistant/internal/models"
)

// FormatOptions tune FormatForLLM.
type FormatOptions struct {
	IncludeIDs bool
	SampleRows int
	MaxLevels  int
}

var sampleColumns = []string{"id", "nombre", "curp", "grado", "grupo", "turno"}

// FormatForLLM renders the newest levels as a numbered list for prompts.
func FormatForLLM(s *Stack, opts FormatOptions) string {
	if s == nil || s.Len() == 0 {
		return "(sin contexto previo)"
	}
	limit := opts.MaxLevels
	if limit <= 0 {
		limit = s.Max()
	}
	var b strings.Builder
	for i, level := range s.Peek(limit) {
		label := ""
		if i == 0 {
			label = " (más reciente)"
		}
		fmt.Fprintf(&b, "NIVEL %d%s: \"%s\"\n", i+1, label, level.Query)
		fmt.Fprintf(&b, "  resultados: %d | espera: %s", level.RowCount, level.Awaiting)
		if level.Action != "" {
			fmt.Fprintf(&b, " | acción: %s", level.Action)
		}
		b.WriteString("\n")
		if level.StrategicNote != "" {
			fmt.Fprintf(&b, "  nota estratégica: %s\n", level.StrategicNote)
		}
		if opts.SampleRows > 0 && len(level.Data) > 0 {
			n := opts.SampleRows
			if n > len(level.Data) {
				n = len(level.Data)
			}
			b.WriteString("  muestra:\n")
			for j := 0; j < n; j++ {
				fmt.Fprintf(&b, "    %d. %s\n", j+1, FormatRow(level.Data[j]))
			}
		}
		if opts.IncludeIDs {
			ids := level.IDs()
			if len(ids) > 0 {
				parts := make([]string, len(ids))
				for j, id := range ids {
					parts[j] = fmt.Sprint(id)
				}
				fmt.Fprintf(&b, "  ids: %s\n", strings.Join(parts, ", "))
			}
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatRow renders one row compactly; student columns come first.
func FormatRow(row models.Row) string {
	parts := make([]string, 0, len(row))
	seen := make(map[string]bool, len(sampleColumns))
	for _, col := range sampleColumns {
		if v := row.String(col); v != "" {
			parts = append(parts, col+"="+v)
		}
		seen[col] = true
	}
	rest := make([]string, 0, len(row))
	for k := range row {
		if !seen[k] && k != models.FieldCalificaciones {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	for _, k := range rest {
		if v := row.String(k); v != "" {
			parts = append(parts, k+"="+v)
		}
	}
	return strings.Join(parts, ", ")
}
