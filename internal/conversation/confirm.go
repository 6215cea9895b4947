package conversation

import "github.com/noah-isme/sma-adp-assistant/pkg/textnorm"

var (
	affirmativeWords = map[string]bool{
		"SI": true, "OK": true, "OKAY": true, "VALE": true, "CLARO": true, "CONFIRMO": true, "CONFIRMADO": true,
		"DALE": true, "CORRECTO": true, "ADELANTE": true, "PROCEDE": true, "SALE": true, "ACUERDO": true,
		"BIEN": true, "PERFECTO": true, "ESO": true, "EMITELA": true, "GENERALA": true,
	}
	negativeWords = map[string]bool{
		"NO": true, "NEL": true, "NOP": true, "CANCELA": true, "CANCELAR": true, "NEGATIVO": true, "NUNCA": true, "MEJOR": true,
	}
	fillerWords = map[string]bool{
		"POR": true, "FAVOR": true, "GRACIAS": true, "DE": true, "ESTA": true, "ASI": true, "YA": true, "PUES": true, "LA": true,
	}
)

// maxConfirmationWords bounds what still counts as a one-word answer.
const maxConfirmationWords = 4

// ParseConfirmation reads a short yes/no answer. ok is false when the
// message is more than an affirmation or a negation.
func ParseConfirmation(message string) (affirmative bool, ok bool) {
	words := textnorm.Words(message)
	if len(words) == 0 || len(words) > maxConfirmationWords {
		return false, false
	}
	yes, no := 0, 0
	for _, w := range words {
		switch {
		case negativeWords[w]:
			no++
		case affirmativeWords[w]:
			yes++
		case fillerWords[w]:
		default:
			return false, false
		}
	}
	switch {
	case no > 0:
		return false, true
	case yes > 0:
		return true, true
	}
	return false, false
}
