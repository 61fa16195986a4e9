// Package names reconciles the entity names of independently sourced tables.
//
// Every ingestion path resolves raw country names through a Table before any
// join. Resolution is three literal steps, in order:
//  1. drop entities in the exclusion set (cruise ships, entities without population data)
//  2. strip apostrophes from the configured name variants
//  3. map the raw name to its canonical name for the destination table
package names

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed default_names.yaml
var defaultNamesYAML []byte

// Destination tables that carry a mapping.
const (
	TableFact      = "fact"
	TableReference = "reference"
)

// Table is the static reconciliation table.
type Table struct {
	Exclude         []string                     `yaml:"exclude"`
	StripApostrophe []string                     `yaml:"strip_apostrophe"`
	Tables          map[string]map[string]string `yaml:"tables"`

	excluded map[string]struct{}
	strip    map[string]struct{}
}

// Default returns the embedded reconciliation table.
func Default() *Table {
	t, err := Parse(defaultNamesYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded names table is invalid: %v", err))
	}
	return t
}

// Load reads a reconciliation table from a YAML file.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read names file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a reconciliation table. Unknown fields are rejected so a
// misspelled key cannot silently disable a mapping.
func Parse(data []byte) (*Table, error) {
	var t Table
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&t); err != nil {
		return nil, fmt.Errorf("parse names: %w", err)
	}
	if err := t.validate(); err != nil {
		return nil, err
	}
	t.index()
	return &t, nil
}

func (t *Table) validate() error {
	for _, table := range []string{TableFact, TableReference} {
		if _, ok := t.Tables[table]; !ok {
			return fmt.Errorf("names: missing mapping for table %q", table)
		}
	}
	for table, mapping := range t.Tables {
		for raw, canonical := range mapping {
			if strings.TrimSpace(canonical) == "" {
				return fmt.Errorf("names: %s: empty canonical name for %q", table, raw)
			}
			// A canonical name that is itself remapped would make resolution order-dependent.
			if next, ok := mapping[canonical]; ok && next != canonical {
				return fmt.Errorf("names: %s: %q maps to %q which is remapped to %q", table, raw, canonical, next)
			}
		}
	}
	return nil
}

func (t *Table) index() {
	t.excluded = make(map[string]struct{}, len(t.Exclude))
	for _, n := range t.Exclude {
		t.excluded[n] = struct{}{}
	}
	t.strip = make(map[string]struct{}, len(t.StripApostrophe))
	for _, n := range t.StripApostrophe {
		t.strip[n] = struct{}{}
	}
}

// Excluded reports whether raw belongs to the fixed exclusion set.
func (t *Table) Excluded(raw string) bool {
	_, ok := t.excluded[raw]
	return ok
}

// Resolve returns the canonical name of raw for the destination table.
// keep is false when the entity is deliberately dropped.
func (t *Table) Resolve(table, raw string) (canonical string, keep bool) {
	name := strings.TrimSpace(raw)
	if t.Excluded(name) {
		return "", false
	}
	if _, ok := t.strip[name]; ok {
		name = strings.ReplaceAll(name, "'", "")
	}
	if mapped, ok := t.Tables[table][name]; ok {
		name = mapped
	}
	return name, true
}

// Leftovers returns the names in resolved that still equal a raw key of
// table's mapping or the exclusion set. After resolution the result must be
// empty; anything else means the mapping was bypassed.
func (t *Table) Leftovers(table string, resolved []string) []string {
	mapping := t.Tables[table]
	seen := make(map[string]struct{})
	var out []string
	for _, n := range resolved {
		canonicalSelf := false
		if mapped, ok := mapping[n]; ok && mapped == n {
			canonicalSelf = true
		}
		_, raw := mapping[n]
		if (raw && !canonicalSelf) || t.Excluded(n) {
			if _, dup := seen[n]; !dup {
				seen[n] = struct{}{}
				out = append(out, n)
			}
		}
	}
	sort.Strings(out)
	return out
}

// Unmatched returns the fact countries with no reference row, sorted.
func Unmatched(factCountries []string, refCountries []string) []string {
	ref := make(map[string]struct{}, len(refCountries))
	for _, c := range refCountries {
		ref[c] = struct{}{}
	}
	seen := make(map[string]struct{})
	var out []string
	for _, c := range factCountries {
		if _, ok := ref[c]; ok {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
