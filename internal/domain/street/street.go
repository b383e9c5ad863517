package street

import (
	"fmt"
	"strings"
)

// Category is the kind of thoroughfare.
type Category string

// Street categories.
const (
	Street  Category = "street"
	Avenue  Category = "avenue"
	Passage Category = "passage"
	Route   Category = "route"
	Other   Category = "other"
)

// IsValid reports whether c is a known category.
func (c Category) IsValid() bool {
	switch c {
	case Street, Avenue, Passage, Route, Other:
		return true
	}
	return false
}

// ParseCategory maps user input ("avenue", "av", "AVENIDA") to a category.
// Empty input returns "" with no error: it means "no category filter".
func ParseCategory(s string) (Category, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return "", nil
	case "street", "calle":
		return Street, nil
	case "avenue", "av", "avenida":
		return Avenue, nil
	case "passage", "pje", "pasaje":
		return Passage, nil
	case "route", "ruta":
		return Route, nil
	case "other", "otro":
		return Other, nil
	}
	return "", fmt.Errorf("unknown street category %q", s)
}

// Ref is a named administrative unit.
type Ref struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Locality identifies where a street lies.
type Locality struct {
	Locality   Ref `json:"locality"`
	Department Ref `json:"department"`
	Province   Ref `json:"province"`
}

// HouseNumbers is an inclusive door-number range.
type HouseNumbers struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Location is a WGS84 coordinate.
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Valid reports whether the coordinate lies within WGS84 bounds.
func (l Location) Valid() bool {
	return l.Lat >= -90 && l.Lat <= 90 && l.Lon >= -180 && l.Lon <= 180
}

// Record is a canonical street (or address) record returned by the provider.
// Records are immutable once fetched; copy freely.
type Record struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Category     Category      `json:"category"`
	Nomenclature string        `json:"nomenclature"`
	HouseNumbers *HouseNumbers `json:"house_numbers,omitempty"`
	Location     *Location     `json:"location,omitempty"`
	Locality     Locality      `json:"locality"`
}

// ListParams selects a slice of the street listing.
type ListParams struct {
	Name     string
	Category Category
	Offset   int
	Limit    int
}

// Page is one slice of a street listing.
type Page struct {
	Records []Record
	Total   int
}
