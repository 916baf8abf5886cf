// Package routing maps menu categories to the kitchen stations that prepare
// them. Tables are immutable; a Router swaps whole tables atomically.
package routing

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/appetiteclub/kds/pkg/enums/station"
	"gopkg.in/yaml.v3"
)

var ErrInvalidTable = errors.New("invalid routing table")

// StationDef declares a physical station.
type StationDef struct {
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
	Type string `yaml:"type" json:"type"`
}

// File is the on-disk shape of a routing table.
type File struct {
	Default  string              `yaml:"default"`
	Expo     string              `yaml:"expo"`
	Stations []StationDef        `yaml:"stations"`
	Routes   map[string][]string `yaml:"routes"`
}

// Table resolves categories to station ids. The zero value is not usable;
// build tables with NewTable, Parse or LoadFile.
type Table struct {
	stations []StationDef
	byID     map[string]StationDef
	routes   map[string][]string
	def      string
	expo     string
}

func NewTable(f File) (*Table, error) {
	t := &Table{
		byID:   make(map[string]StationDef, len(f.Stations)),
		routes: make(map[string][]string, len(f.Routes)),
	}

	for _, s := range f.Stations {
		id := strings.TrimSpace(s.ID)
		if id == "" {
			return nil, fmt.Errorf("%w: station without id", ErrInvalidTable)
		}
		if _, dup := t.byID[id]; dup {
			return nil, fmt.Errorf("%w: duplicate station %q", ErrInvalidTable, id)
		}
		if s.Type != "" && station.ByName(s.Type) == nil {
			return nil, fmt.Errorf("%w: station %q has unknown type %q", ErrInvalidTable, id, s.Type)
		}
		def := StationDef{ID: id, Name: s.Name, Type: s.Type}
		if def.Name == "" {
			def.Name = id
		}
		t.byID[id] = def
		t.stations = append(t.stations, def)
	}

	t.expo = strings.TrimSpace(f.Expo)
	if t.expo == "" {
		t.expo = station.Types.Expo.Code()
	}
	if _, ok := t.byID[t.expo]; !ok {
		return nil, fmt.Errorf("%w: expo station %q is not declared", ErrInvalidTable, t.expo)
	}

	t.def = strings.TrimSpace(f.Default)
	if t.def == "" {
		t.def = t.expo
	}
	if _, ok := t.byID[t.def]; !ok {
		return nil, fmt.Errorf("%w: default station %q is not declared", ErrInvalidTable, t.def)
	}

	// Categories are matched case-insensitively, so two spellings of one
	// category would silently merge their stations.
	declared := make(map[string]string, len(f.Routes))
	for category, targets := range f.Routes {
		key := normalize(category)
		if key == "" {
			return nil, fmt.Errorf("%w: empty category", ErrInvalidTable)
		}
		if other, dup := declared[key]; dup {
			return nil, fmt.Errorf("%w: categories %q and %q differ only by case", ErrInvalidTable, other, category)
		}
		declared[key] = category
		seen := make(map[string]struct{}, len(targets))
		var ids []string
		for _, target := range targets {
			id := strings.TrimSpace(target)
			if _, ok := t.byID[id]; !ok {
				return nil, fmt.Errorf("%w: category %q routes to unknown station %q", ErrInvalidTable, category, target)
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
		if len(ids) == 0 {
			continue
		}
		t.routes[key] = ids
	}

	return t, nil
}

// Parse builds a table from YAML.
func Parse(data []byte) (*Table, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTable, err)
	}
	return NewTable(f)
}

// LoadFile reads and parses a YAML routing table.
func LoadFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read routing table %s: %w", path, err)
	}
	return Parse(data)
}

// Resolve returns the stations for a category. It never returns an empty
// slice: unknown categories go to the default station.
func (t *Table) Resolve(category string) []string {
	if ids, ok := t.routes[normalize(category)]; ok {
		out := make([]string, len(ids))
		copy(out, ids)
		return out
	}
	return []string{t.def}
}

func (t *Table) DefaultStation() string {
	return t.def
}

func (t *Table) ExpoStation() string {
	return t.expo
}

func (t *Table) Station(id string) (StationDef, bool) {
	s, ok := t.byID[id]
	return s, ok
}

// Stations returns the declared stations in declaration order.
func (t *Table) Stations() []StationDef {
	out := make([]StationDef, len(t.stations))
	copy(out, t.stations)
	return out
}

func (t *Table) StationIDs() []string {
	out := make([]string, 0, len(t.stations))
	for _, s := range t.stations {
		out = append(out, s.ID)
	}
	return out
}

// Categories returns the routed categories, sorted.
func (t *Table) Categories() []string {
	out := make([]string, 0, len(t.routes))
	for c := range t.routes {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func normalize(category string) string {
	return strings.ToLower(strings.TrimSpace(category))
}

// DefaultTable is used when no routing file is configured.
func DefaultTable() *Table {
	t, err := NewTable(File{
		Expo: "expo",
		Stations: []StationDef{
			{ID: "grill", Name: "Grill", Type: station.Types.Grill.Code()},
			{ID: "fry", Name: "Fry", Type: station.Types.Fry.Code()},
			{ID: "saute", Name: "Sauté", Type: station.Types.Saute.Code()},
			{ID: "cold", Name: "Garde Manger", Type: station.Types.Cold.Code()},
			{ID: "pastry", Name: "Pastry", Type: station.Types.Pastry.Code()},
			{ID: "bar", Name: "Bar", Type: station.Types.Bar.Code()},
			{ID: "expo", Name: "Expo", Type: station.Types.Expo.Code()},
		},
		Routes: map[string][]string{
			"grill":    {"grill"},
			"steak":    {"grill"},
			"burger":   {"grill"},
			"fry":      {"fry"},
			"sides":    {"fry"},
			"pasta":    {"saute"},
			"salad":    {"cold"},
			"starter":  {"cold"},
			"dessert":  {"pastry"},
			"cocktail": {"bar"},
			"soda":     {"expo"},
		},
	})
	if err != nil {
		panic("routing: default table is invalid: " + err.Error())
	}
	return t
}
