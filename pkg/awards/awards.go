package awards

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"go.yaml.in/yaml/v2"
)

// Names of the embedded tables.
const (
	CanonicalName = "canonical"
	DemoName      = "demo"
)

// Pin numbers allowed in a split identifier.
const (
	MinPin = 1
	MaxPin = 10
)

var (
	// ErrMalformedSplit is returned when a split identifier is not a hyphen-joined,
	// strictly ascending list of pin numbers.
	ErrMalformedSplit = errors.New("awards: malformed split identifier")

	// ErrInvalidTable is returned when a table asset cannot be used.
	ErrInvalidTable = errors.New("awards: invalid table")
)

//go:embed tables/*.yaml
var assets embed.FS

// Table maps split identifiers to payout percentages (0-100).
// A Table is immutable once built; every accessor returns copies.
type Table struct {
	name     string
	percents map[string]decimal.Decimal
}

// tableFile is the on-disk shape of a table asset.
type tableFile struct {
	Name  string `yaml:"name"`
	Tiers []struct {
		Percent float64  `yaml:"percent"`
		Splits  []string `yaml:"splits"`
	} `yaml:"tiers"`
}

// New builds a table from a split -> percent map after validating every entry.
func New(name string, entries map[string]decimal.Decimal) (Table, error) {
	percents := make(map[string]decimal.Decimal, len(entries))
	for split, percent := range entries {
		if err := ValidateSplit(split); err != nil {
			return Table{}, fmt.Errorf("%w: %s: %v", ErrInvalidTable, name, err)
		}
		if percent.IsNegative() || percent.GreaterThan(decimal.NewFromInt(100)) {
			return Table{}, fmt.Errorf("%w: %s: percent %s for %q out of range", ErrInvalidTable, name, percent, split)
		}
		percents[split] = percent
	}
	return Table{name: name, percents: percents}, nil
}

// Parse decodes a YAML table asset.
func Parse(data []byte) (Table, error) {
	var file tableFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Table{}, fmt.Errorf("%w: %v", ErrInvalidTable, err)
	}

	entries := make(map[string]decimal.Decimal)
	for _, tier := range file.Tiers {
		percent := decimal.NewFromFloat(tier.Percent)
		for _, split := range tier.Splits {
			if _, dup := entries[split]; dup {
				return Table{}, fmt.Errorf("%w: %s: split %q listed twice", ErrInvalidTable, file.Name, split)
			}
			entries[split] = percent
		}
	}

	return New(file.Name, entries)
}

// Load reads a YAML table from disk.
func Load(path string) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Table{}, fmt.Errorf("awards: read %s: %w", path, err)
	}
	return Parse(data)
}

var (
	embeddedOnce sync.Once
	canonical    Table
	demo         Table
)

func loadEmbedded() {
	canonical = mustParseAsset("tables/canonical.yaml")
	demo = mustParseAsset("tables/demo.yaml")
}

func mustParseAsset(path string) Table {
	data, err := assets.ReadFile(path)
	if err != nil {
		panic(fmt.Sprintf("awards: missing embedded asset %s: %v", path, err))
	}
	t, err := Parse(data)
	if err != nil {
		panic(fmt.Sprintf("awards: embedded asset %s: %v", path, err))
	}
	return t
}

// Canonical returns the production award table.
func Canonical() Table {
	embeddedOnce.Do(loadEmbedded)
	return canonical
}

// Demo returns the small table used by the volatile store and tests.
func Demo() Table {
	embeddedOnce.Do(loadEmbedded)
	return demo
}

// Resolve returns an embedded table by name, or loads the argument as a file path.
func Resolve(nameOrPath string) (Table, error) {
	switch nameOrPath {
	case CanonicalName:
		return Canonical(), nil
	case DemoName:
		return Demo(), nil
	case "":
		return Table{}, fmt.Errorf("%w: no table named", ErrInvalidTable)
	default:
		return Load(nameOrPath)
	}
}

// Name returns the table identifier.
func (t Table) Name() string {
	return t.name
}

// Len returns the number of splits in the table.
func (t Table) Len() int {
	return len(t.percents)
}

// Lookup returns the percentage awarded for a split.
func (t Table) Lookup(split string) (decimal.Decimal, bool) {
	p, ok := t.percents[split]
	return p, ok
}

// Map returns a copy of the split -> percent mapping.
func (t Table) Map() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(t.percents))
	for k, v := range t.percents {
		out[k] = v
	}
	return out
}

// Splits returns the split identifiers sorted by their pin sequence.
func (t Table) Splits() []string {
	splits := make([]string, 0, len(t.percents))
	for k := range t.percents {
		splits = append(splits, k)
	}
	sort.Slice(splits, func(i, j int) bool {
		return lessPins(splits[i], splits[j])
	})
	return splits
}

// ParseSplit returns the pins of a split identifier such as "2-3-10".
func ParseSplit(split string) ([]int, error) {
	if split == "" {
		return nil, fmt.Errorf("%w: empty", ErrMalformedSplit)
	}

	parts := strings.Split(split, "-")
	pins := make([]int, len(parts))
	for i, part := range parts {
		pin, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrMalformedSplit, split)
		}
		if pin < MinPin || pin > MaxPin {
			return nil, fmt.Errorf("%w: %q: pin %d out of range", ErrMalformedSplit, split, pin)
		}
		if i > 0 && pin <= pins[i-1] {
			return nil, fmt.Errorf("%w: %q: pins must ascend", ErrMalformedSplit, split)
		}
		pins[i] = pin
	}
	return pins, nil
}

// ValidateSplit checks the shape of a split identifier.
func ValidateSplit(split string) error {
	_, err := ParseSplit(split)
	return err
}

// lessPins orders identifiers pin by pin, so "2-10" sorts after "2-9".
func lessPins(a, b string) bool {
	pa, errA := ParseSplit(a)
	pb, errB := ParseSplit(b)
	if errA != nil || errB != nil {
		return a < b
	}
	for i := 0; i < len(pa) && i < len(pb); i++ {
		if pa[i] != pb[i] {
			return pa[i] < pb[i]
		}
	}
	return len(pa) < len(pb)
}
