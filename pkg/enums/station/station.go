package station

import "strings"

// Type is the prep category a station works on.
type Type struct {
	Name string
}

func (t Type) Code() string {
	return t.Name
}

func (t Type) Label() string {
	// Capitalize first letter
	if len(t.Name) == 0 {
		return ""
	}
	return strings.ToUpper(t.Name[:1]) + t.Name[1:]
}

type Enum struct {
	Grill  Type
	Fry    Type
	Saute  Type
	Cold   Type
	Pastry Type
	Bar    Type
	Expo   Type
}

var Types = Enum{
	Grill:  Type{Name: "grill"},
	Fry:    Type{Name: "fry"},
	Saute:  Type{Name: "saute"},
	Cold:   Type{Name: "cold"},
	Pastry: Type{Name: "pastry"},
	Bar:    Type{Name: "bar"},
	Expo:   Type{Name: "expo"},
}

var All = []Type{
	Types.Grill,
	Types.Fry,
	Types.Saute,
	Types.Cold,
	Types.Pastry,
	Types.Bar,
	Types.Expo,
}

// ByName returns the station type for a given name, or nil if not found
func ByName(name string) *Type {
	for _, t := range All {
		if t.Name == name {
			return &t
		}
	}
	return nil
}
