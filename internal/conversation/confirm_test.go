package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseConfirmation(t *testing.T) {
	cases := []struct {
		in  string
		yes bool
		ok  bool
	}{
		{"sí", true, true},
		{"Sí, por favor", true, true},
		{"ok", true, true},
		{"de acuerdo", true, true},
		{"no", false, true},
		{"mejor no, gracias", false, true},
		{"sí pero de tercero", false, false},
		{"búscame a los de segundo grado", false, false},
		{"", false, false},
	}
	for _, tc := range cases {
		yes, ok := ParseConfirmation(tc.in)
		assert.Equal(t, tc.ok, ok, tc.in)
		assert.Equal(t, tc.yes, yes, tc.in)
	}
}
