package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		normalized string
		tokens     []string
	}{
		{"uppercase", "GUTIERREZ", "gutierrez", []string{"gutierrez"}},
		{"diacritics", "Gutiérrez", "gutierrez", []string{"gutierrez"}},
		{"enye", "Av. Núñez", "av nunez", []string{"av", "nunez"}},
		{"whitespace runs", "  san   martin\t\n", "san martin", []string{"san", "martin"}},
		{"punctuation", "Pte. Perón, J.D.", "pte peron j d", []string{"pte", "peron", "j", "d"}},
		{"digits", "Calle 25 de Mayo 1200", "calle 25 de mayo 1200", []string{"calle", "25", "de", "mayo", "1200"}},
		{"sharp s", "Straße", "strasse", []string{"strasse"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			q := Normalize(tc.raw)
			assert.Equal(t, tc.raw, q.Raw)
			assert.Equal(t, tc.normalized, q.Normalized)
			assert.Equal(t, tc.tokens, q.Tokens)
		})
	}
}

func TestNormalize_Blank(t *testing.T) {
	for _, raw := range []string{"", " ", "\t\n  ", "...", "-,;"} {
		q := Normalize(raw)
		assert.True(t, q.IsEmpty(), "raw=%q", raw)
		assert.Equal(t, "", q.Normalized, "raw=%q", raw)
		assert.Equal(t, 0, q.Len(), "raw=%q", raw)
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{
		"GUTIERREZ", "Av. Corrientes 1234", "  Ñandú   ", "Pasaje San José de Flores",
		"Straße", "Ⅻ Rue de l'Église", "北京路", "", "A-B/C", "ǅemal Bijedić",
	}
	for _, in := range inputs {
		once := Normalize(in).Normalized
		twice := Normalize(once).Normalized
		require.Equal(t, once, twice, "input %q", in)
	}
}

func TestNormalize_Deterministic(t *testing.T) {
	a := Normalize("Güemes")
	b := Normalize("Güemes")
	assert.Equal(t, a, b)
	assert.Equal(t, "guemes", Key("GÜEMES"))
}

func TestQuery_Len(t *testing.T) {
	assert.Equal(t, 3, Normalize("G U").Len())
	assert.Equal(t, 2, Normalize("GU").Len())
}
