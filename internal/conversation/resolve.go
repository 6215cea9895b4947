package conversation

import (
	"strconv"
	"strings"

	"github.com/noah-isme/sma-adp-assistant/internal/models"
	appErrors "github.com/noah-isme/sma-adp-assistant/pkg/errors"
	"github.com/noah-isme/sma-adp-assistant/pkg/textnorm"
)

// Position is a parsed ordinal reference. Index is 1-based; Last means "último".
type Position struct {
	Index int
	Last  bool
}

var ordinals = map[string]int{
	"PRIMER": 1, "PRIMERO": 1, "PRIMERA": 1, "1RO": 1, "1ERO": 1, "1ER": 1, "1RA": 1,
	"SEGUNDO": 2, "SEGUNDA": 2, "2DO": 2, "2DA": 2,
	"TERCER": 3, "TERCERO": 3, "TERCERA": 3, "3ER": 3, "3RO": 3, "3RA": 3,
	"CUARTO": 4, "CUARTA": 4, "4TO": 4, "4TA": 4,
	"QUINTO": 5, "QUINTA": 5, "5TO": 5, "5TA": 5,
	"SEXTO": 6, "SEXTA": 6, "6TO": 6, "6TA": 6,
	"SEPTIMO": 7, "SEPTIMA": 7, "7MO": 7, "7MA": 7,
	"OCTAVO": 8, "OCTAVA": 8, "8VO": 8, "8VA": 8,
	"NOVENO": 9, "NOVENA": 9, "9NO": 9, "9NA": 9,
	"DECIMO": 10, "DECIMA": 10, "10MO": 10, "10MA": 10,
}

var lastWords = map[string]bool{"ULTIMO": true, "ULTIMA": true}

// Words after an ordinal that make it a grade or group, not a row position.
var nonPositionFollowers = map[string]bool{"GRADO": true, "GRADOS": true, "GRUPO": true, "AÑO": true, "ANO": true, "SEMESTRE": true, "BIMESTRE": true, "PERIODO": true, "TRIMESTRE": true}

// ParsePosition reads a single token such as "segundo", "3", "#2" or "última".
func ParsePosition(token string) (Position, bool) {
	words := textnorm.Words(token)
	if len(words) == 0 {
		return Position{}, false
	}
	return positionFromWords(words)
}

func positionFromWords(words []string) (Position, bool) {
	for i, w := range words {
		if i+1 < len(words) && nonPositionFollowers[words[i+1]] {
			continue
		}
		if lastWords[w] {
			return Position{Last: true}, true
		}
		if n, ok := ordinals[w]; ok {
			return Position{Index: n}, true
		}
		if n, err := strconv.Atoi(w); err == nil && len(words) == 1 {
			return Position{Index: n}, true
		}
	}
	return Position{}, false
}

// ExtractPosition finds an ordinal reference inside a whole message. Bare
// digits only count after "el/la/numero/#" so "3 alumnos" is not a position.
func ExtractPosition(message string) (Position, bool) {
	words := textnorm.Words(message)
	if pos, ok := positionFromWords(wordsWithoutDigits(words)); ok {
		return pos, true
	}
	for i := 0; i+1 < len(words); i++ {
		switch words[i] {
		case "EL", "LA", "NUMERO", "NUM", "NO", "FILA", "ALUMNO", "ALUMNA":
			next := words[i+1]
			if n, err := strconv.Atoi(next); err == nil {
				if i+2 < len(words) && nonPositionFollowers[words[i+2]] {
					continue
				}
				return Position{Index: n}, true
			}
		}
	}
	if strings.Contains(message, "#") {
		idx := strings.Index(message, "#")
		digits := strings.TrimLeft(message[idx+1:], " ")
		end := 0
		for end < len(digits) && digits[end] >= '0' && digits[end] <= '9' {
			end++
		}
		if n, err := strconv.Atoi(digits[:end]); err == nil {
			return Position{Index: n}, true
		}
	}
	return Position{}, false
}

func wordsWithoutDigits(words []string) []string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		if _, err := strconv.Atoi(w); err == nil {
			out = append(out, "")
			continue
		}
		out = append(out, w)
	}
	return out
}

// ResolvePosition maps pos onto a 0-based index into rows.
func ResolvePosition(rows []models.Row, pos Position) (int, error) {
	n := len(rows)
	if pos.Last {
		if n == 0 {
			return -1, appErrors.Clone(appErrors.ErrPositionOutOfRange, "no hay resultados previos para seleccionar")
		}
		return n - 1, nil
	}
	if pos.Index < 1 || pos.Index > n {
		return -1, appErrors.Clone(appErrors.ErrPositionOutOfRange, positionMessage(pos.Index, n))
	}
	return pos.Index - 1, nil
}

func positionMessage(index, n int) string {
	if n == 0 {
		return "no hay resultados previos para seleccionar"
	}
	return "la posición " + strconv.Itoa(index) + " no existe; la lista anterior tiene " + strconv.Itoa(n) + " resultado(s)"
}

// MatchName returns the indices of rows whose nombre contains every word of
// token, ignoring case and accents.
func MatchName(rows []models.Row, token string) []int {
	words := textnorm.Words(token)
	if len(words) == 0 {
		return nil
	}
	var out []int
	for i, row := range rows {
		name := " " + strings.Join(textnorm.Words(row.Name()), " ") + " "
		matched := true
		for _, w := range words {
			if !strings.Contains(name, w) {
				matched = false
				break
			}
		}
		if matched {
			out = append(out, i)
		}
	}
	return out
}

// ExactName returns the indices whose folded nombre equals token.
func ExactName(rows []models.Row, token string) []int {
	needle := strings.Join(textnorm.Words(token), " ")
	if needle == "" {
		return nil
	}
	var out []int
	for i, row := range rows {
		if strings.Join(textnorm.Words(row.Name()), " ") == needle {
			out = append(out, i)
		}
	}
	return out
}

// Resolution is the outcome of resolving a reference against a row set.
type Resolution struct {
	Index      int
	Row        models.Row
	Candidates []models.Row
	Confidence float64
}

// ResolveName picks a single row by name. An exact match wins; otherwise a
// unique substring match. Several matches return ErrAmbiguousReference with
// the candidates and a confidence of 1/len(matches).
func ResolveName(rows []models.Row, token string) (Resolution, error) {
	if exact := ExactName(rows, token); len(exact) == 1 {
		return Resolution{Index: exact[0], Row: rows[exact[0]], Confidence: 1}, nil
	}
	matches := MatchName(rows, token)
	switch len(matches) {
	case 0:
		return Resolution{Index: -1}, appErrors.Clone(appErrors.ErrStudentNotFound, "no encontré a \""+token+"\" en los resultados anteriores")
	case 1:
		return Resolution{Index: matches[0], Row: rows[matches[0]], Confidence: 0.9}, nil
	}
	candidates := make([]models.Row, len(matches))
	for i, idx := range matches {
		candidates[i] = rows[idx]
	}
	return Resolution{Index: -1, Candidates: candidates, Confidence: 1 / float64(len(matches))},
		appErrors.Clone(appErrors.ErrAmbiguousReference, "hay varios alumnos que coinciden con \""+token+"\"")
}
