package region

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/botvagas/vagas/engine/domain"
)

func TestResolveNames(t *testing.T) {
	r := Default()
	cases := map[string]domain.RegionCode{
		"São Paulo":                   "sp",
		"sao paulo":                   "sp",
		"Campinas, São Paulo, Brasil": "sp",
		"Rio de Janeiro":              "rj",
		"Mato Grosso do Sul":          "ms",
		"Cuiabá - Mato Grosso":        "mt",
		"Rio Grande do Norte":         "rn",
		"Paraíba":                     "pb",
		"Paraná":                      "pr",
		"Belém, Pará":                 "pa",
		"  Espírito   Santo ":         "es",
	}
	for in, want := range cases {
		got, ok := r.Resolve(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
}

func TestResolveCodes(t *testing.T) {
	r := Default()
	got, ok := r.Resolve("SP")
	require.True(t, ok)
	assert.Equal(t, domain.RegionCode("sp"), got)

	got, ok = r.Resolve("Niterói RJ")
	require.True(t, ok)
	assert.Equal(t, domain.RegionCode("rj"), got)

	got, ok = r.Resolve("Curitiba, PR")
	require.True(t, ok)
	assert.Equal(t, domain.RegionCode("pr"), got)
}

func TestResolveNoMatch(t *testing.T) {
	r := Default()
	for _, in := range []string{"", "   ", "Lisboa", "remote"} {
		got, ok := r.Resolve(in)
		assert.False(t, ok, in)
		assert.Empty(t, got, in)
	}
}

func TestResolveTableOrderWins(t *testing.T) {
	// "alpha" appears first, so it wins even though "alpha beta" is longer.
	r, err := New([]Entry{
		{Name: "alpha", Code: "aa"},
		{Name: "alpha beta", Code: "ab"},
	})
	require.NoError(t, err)
	got, ok := r.Resolve("Alpha Beta")
	require.True(t, ok)
	assert.Equal(t, domain.RegionCode("aa"), got)
}

func TestNamesBeatCodes(t *testing.T) {
	// The input carries the code "rj" as a token but names São Paulo.
	got, ok := Default().Resolve("rj office, sao paulo")
	require.True(t, ok)
	assert.Equal(t, domain.RegionCode("sp"), got)
}

func TestDefaultTableComplete(t *testing.T) {
	entries := Default().entries
	assert.Len(t, entries, 27)
	seen := map[domain.RegionCode]bool{}
	for _, e := range entries {
		assert.Len(t, string(e.Code), 2, e.Name)
		assert.False(t, seen[e.Code], "duplicate code %s", e.Code)
		seen[e.Code] = true
	}
}

func TestDefaultTableOrdersCompoundNamesFirst(t *testing.T) {
	entries := Default().entries
	for i, a := range entries {
		for _, b := range entries[i+1:] {
			assert.False(t, strings.Contains(b.Name, a.Name),
				"%q must come after %q", a.Name, b.Name)
		}
	}
}

func TestLoadRejectsIncompleteEntry(t *testing.T) {
	_, err := Load(strings.NewReader("- {name: somewhere}\n"))
	assert.Error(t, err)

	_, err = Load(strings.NewReader("not: [a, list"))
	assert.Error(t, err)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "sao joao do meriti", Normalize("  São João\tdo   Meriti "))
	assert.Equal(t, "goiania", Normalize("GOIÂNIA"))
}
