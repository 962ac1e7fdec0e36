package awards

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
)

func TestCanonical_Tiers(t *testing.T) {
	table := Canonical()

	if table.Name() != CanonicalName {
		t.Errorf("Expected name %q, got %q", CanonicalName, table.Name())
	}
	if table.Len() != 459 {
		t.Fatalf("Expected 459 splits, got %d", table.Len())
	}

	counts := map[string]int{}
	for _, p := range table.Map() {
		counts[p.String()]++
	}
	want := map[string]int{"10": 10, "30": 438, "50": 11}
	for percent, n := range want {
		if counts[percent] != n {
			t.Errorf("Expected %d splits at %s%%, got %d", n, percent, counts[percent])
		}
	}
	if len(counts) != len(want) {
		t.Errorf("Expected exactly three tiers, got %v", counts)
	}
}

func TestCanonical_Lookup(t *testing.T) {
	table := Canonical()

	tests := []struct {
		split   string
		percent string
	}{
		{"2-3", "10"},
		{"9-10", "10"},
		{"2-3-4-5-6-7-8-9-10", "30"},
		{"7-10", "50"},
		{"4-6", "50"},
	}

	for _, tt := range tests {
		p, ok := table.Lookup(tt.split)
		if !ok {
			t.Errorf("Expected %q in canonical table", tt.split)
			continue
		}
		if p.String() != tt.percent {
			t.Errorf("Split %q: expected %s, got %s", tt.split, tt.percent, p)
		}
	}

	if _, ok := table.Lookup("1-2-3"); ok {
		t.Error("Expected demo-only split to be absent from canonical table")
	}
}

func TestDemo(t *testing.T) {
	table := Demo()

	if table.Len() != 9 {
		t.Fatalf("Expected 9 splits, got %d", table.Len())
	}

	p, ok := table.Lookup("7-10")
	if !ok || !p.Equal(decimal.NewFromInt(25)) {
		t.Errorf("Expected 7-10 at 25%%, got %v (found=%v)", p, ok)
	}

	p, ok = table.Lookup("2-3")
	if !ok || !p.Equal(decimal.RequireFromString("7.5")) {
		t.Errorf("Expected 2-3 at 7.5%%, got %v (found=%v)", p, ok)
	}
}

func TestTable_MapIsCopy(t *testing.T) {
	table := Demo()

	m := table.Map()
	delete(m, "7-10")
	m["1-2"] = decimal.NewFromInt(99)

	if _, ok := table.Lookup("7-10"); !ok {
		t.Error("Mutating Map() result changed the table")
	}
	if _, ok := table.Lookup("1-2"); ok {
		t.Error("Mutating Map() result added to the table")
	}
}

func TestTable_SplitsOrder(t *testing.T) {
	table, err := New("t", map[string]decimal.Decimal{
		"2-10": decimal.NewFromInt(1),
		"2-9":  decimal.NewFromInt(1),
		"2":    decimal.NewFromInt(1),
		"10":   decimal.NewFromInt(1),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	got := table.Splits()
	want := []string{"2", "2-9", "2-10", "10"}
	if len(got) != len(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Position %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestParseSplit(t *testing.T) {
	tests := []struct {
		split   string
		wantErr bool
	}{
		{"7-10", false},
		{"1-2-3", false},
		{"10", false},
		{"", true},
		{"3-2", true},
		{"2-2", true},
		{"0-1", true},
		{"2-11", true},
		{"a-b", true},
		{"2--3", true},
		{"2-3-", true},
	}

	for _, tt := range tests {
		_, err := ParseSplit(tt.split)
		if tt.wantErr {
			if !errors.Is(err, ErrMalformedSplit) {
				t.Errorf("ParseSplit(%q): expected ErrMalformedSplit, got %v", tt.split, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseSplit(%q): unexpected error %v", tt.split, err)
		}
	}
}

func TestParse_RejectsDuplicates(t *testing.T) {
	data := []byte(`
name: dup
tiers:
  - percent: 10
    splits: ["2-3"]
  - percent: 30
    splits: ["2-3"]
`)
	if _, err := Parse(data); !errors.Is(err, ErrInvalidTable) {
		t.Errorf("Expected ErrInvalidTable, got %v", err)
	}
}

func TestParse_RejectsOutOfRangePercent(t *testing.T) {
	data := []byte(`
name: big
tiers:
  - percent: 150
    splits: ["2-3"]
`)
	if _, err := Parse(data); !errors.Is(err, ErrInvalidTable) {
		t.Errorf("Expected ErrInvalidTable, got %v", err)
	}
}

func TestResolve(t *testing.T) {
	if table, err := Resolve(CanonicalName); err != nil || table.Len() != 459 {
		t.Errorf("Resolve canonical: len=%d err=%v", table.Len(), err)
	}
	if table, err := Resolve(DemoName); err != nil || table.Len() != 9 {
		t.Errorf("Resolve demo: len=%d err=%v", table.Len(), err)
	}

	path := filepath.Join(t.TempDir(), "custom.yaml")
	content := "name: custom\ntiers:\n  - percent: 40\n    splits: [\"3-10\"]\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	table, err := Resolve(path)
	if err != nil {
		t.Fatalf("Resolve path failed: %v", err)
	}
	if table.Name() != "custom" {
		t.Errorf("Expected name custom, got %s", table.Name())
	}
	if p, ok := table.Lookup("3-10"); !ok || !p.Equal(decimal.NewFromInt(40)) {
		t.Errorf("Expected 3-10 at 40%%, got %v", p)
	}

	if _, err := Resolve(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for missing file")
	}
}
