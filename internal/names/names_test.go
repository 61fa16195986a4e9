package names

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_MapsUSInBothTables(t *testing.T) {
	tbl := Default()

	got, keep := tbl.Resolve(TableFact, "US")
	require.True(t, keep)
	assert.Equal(t, "United States", got)

	got, keep = tbl.Resolve(TableReference, "US")
	require.True(t, keep)
	assert.Equal(t, "United States", got)
}

func TestResolve_Exclusions(t *testing.T) {
	tbl := Default()
	for _, raw := range []string{"Diamond Princess", "MS Zaandam", "Kosovo"} {
		t.Run(raw, func(t *testing.T) {
			_, keep := tbl.Resolve(TableFact, raw)
			assert.False(t, keep)
			_, keep = tbl.Resolve(TableReference, raw)
			assert.False(t, keep)
		})
	}
}

func TestResolve_ApostropheStripBeforeMapping(t *testing.T) {
	tbl := Default()

	got, keep := tbl.Resolve(TableFact, "Cote d'Ivoire")
	require.True(t, keep)
	assert.Equal(t, "Ivory Coast", got)

	// The rule is literal: other apostrophes are untouched.
	got, _ = tbl.Resolve(TableFact, "People's Republic")
	assert.Equal(t, "People's Republic", got)
}

func TestResolve_UnmappedPassesThrough(t *testing.T) {
	tbl := Default()
	got, keep := tbl.Resolve(TableFact, "  Australia ")
	require.True(t, keep)
	assert.Equal(t, "Australia", got)
}

func TestParse_RejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte("exclud: [x]\ntables: {fact: {}, reference: {}}\n"))
	require.Error(t, err)
}

func TestParse_RequiresBothTables(t *testing.T) {
	_, err := Parse([]byte("tables: {fact: {US: United States}}\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reference")
}

func TestParse_RejectsChainedMapping(t *testing.T) {
	_, err := Parse([]byte("tables:\n  fact: {A: B, B: C}\n  reference: {}\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "remapped")
}

func TestLoad_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "names.yaml")
	content := "exclude: [Atlantis]\ntables:\n  fact: {Foo: Bar}\n  reference: {}\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	tbl, err := Load(path)
	require.NoError(t, err)

	got, _ := tbl.Resolve(TableFact, "Foo")
	assert.Equal(t, "Bar", got)
	assert.True(t, tbl.Excluded("Atlantis"))
	assert.Equal(t, map[string]string{"Foo": "Bar"}, tbl.Tables[TableFact])
}

func TestLeftovers(t *testing.T) {
	tbl := Default()
	assert.Empty(t, tbl.Leftovers(TableFact, []string{"United States", "Australia"}))
	assert.Equal(t, []string{"Kosovo", "US"}, tbl.Leftovers(TableFact, []string{"US", "Kosovo", "US"}))
}

func TestUnmatched(t *testing.T) {
	got := Unmatched(
		[]string{"United States", "Narnia", "Australia", "Narnia", "Atlantis"},
		[]string{"United States", "Australia"},
	)
	assert.Equal(t, []string{"Atlantis", "Narnia"}, got)
	assert.Empty(t, Unmatched([]string{"Australia"}, []string{"Australia"}))
}
