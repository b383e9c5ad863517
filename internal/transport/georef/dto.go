package georef

import (
	"strings"

	"github.com/kailas-cloud/streetdex/internal/domain/street"
)

type refDTO struct {
	ID     string `json:"id"`
	Nombre string `json:"nombre"`
}

func (r refDTO) toDomain() street.Ref {
	return street.Ref{ID: r.ID, Name: r.Nombre}
}

type sidesDTO struct {
	Derecha   *int `json:"derecha"`
	Izquierda *int `json:"izquierda"`
}

type rangeDTO struct {
	Inicio sidesDTO `json:"inicio"`
	Fin    sidesDTO `json:"fin"`
}

type calleDTO struct {
	ID              string   `json:"id"`
	Nombre          string   `json:"nombre"`
	Categoria       string   `json:"categoria"`
	Nomenclatura    string   `json:"nomenclatura"`
	Altura          rangeDTO `json:"altura"`
	Departamento    refDTO   `json:"departamento"`
	Provincia       refDTO   `json:"provincia"`
	LocalidadCensal refDTO   `json:"localidad_censal"`
}

type callesResponse struct {
	Calles   []calleDTO `json:"calles"`
	Cantidad int        `json:"cantidad"`
	Total    int        `json:"total"`
	Inicio   int        `json:"inicio"`
}

type calleRefDTO struct {
	ID        string `json:"id"`
	Nombre    string `json:"nombre"`
	Categoria string `json:"categoria"`
}

type alturaDTO struct {
	Valor  *int   `json:"valor"`
	Unidad string `json:"unidad"`
}

type ubicacionDTO struct {
	Lat *float64 `json:"lat"`
	Lon *float64 `json:"lon"`
}

type direccionDTO struct {
	Calle           calleRefDTO   `json:"calle"`
	Altura          alturaDTO     `json:"altura"`
	Ubicacion       *ubicacionDTO `json:"ubicacion"`
	Nomenclatura    string        `json:"nomenclatura"`
	Departamento    refDTO        `json:"departamento"`
	Provincia       refDTO        `json:"provincia"`
	LocalidadCensal refDTO        `json:"localidad_censal"`
}

type direccionesResponse struct {
	Direcciones []direccionDTO `json:"direcciones"`
	Cantidad    int            `json:"cantidad"`
	Total       int            `json:"total"`
	Inicio      int            `json:"inicio"`
}

type errorResponse struct {
	Errores []struct {
		Mensaje string `json:"mensaje"`
	} `json:"errores"`
}

func (e errorResponse) detail() string {
	msgs := make([]string, 0, len(e.Errores))
	for _, er := range e.Errores {
		if er.Mensaje != "" {
			msgs = append(msgs, er.Mensaje)
		}
	}
	return strings.Join(msgs, "; ")
}

func (c calleDTO) toDomain() street.Record {
	return street.Record{
		ID:           c.ID,
		Name:         c.Nombre,
		Category:     categoryFromProvider(c.Categoria),
		Nomenclature: c.Nomenclatura,
		HouseNumbers: c.Altura.toDomain(),
		Locality: street.Locality{
			Locality:   c.LocalidadCensal.toDomain(),
			Department: c.Departamento.toDomain(),
			Province:   c.Provincia.toDomain(),
		},
	}
}

// toDomain folds both sidewalks into one range. Missing bounds yield nil.
func (r rangeDTO) toDomain() *street.HouseNumbers {
	start, okStart := minOf(r.Inicio.Derecha, r.Inicio.Izquierda)
	end, okEnd := maxOf(r.Fin.Derecha, r.Fin.Izquierda)
	if !okStart || !okEnd || (start == 0 && end == 0) {
		return nil
	}
	return &street.HouseNumbers{Start: start, End: end}
}

func (d direccionDTO) toDomain() street.Record {
	rec := street.Record{
		ID:           d.Calle.ID,
		Name:         d.Calle.Nombre,
		Category:     categoryFromProvider(d.Calle.Categoria),
		Nomenclature: d.Nomenclatura,
		Locality: street.Locality{
			Locality:   d.LocalidadCensal.toDomain(),
			Department: d.Departamento.toDomain(),
			Province:   d.Provincia.toDomain(),
		},
	}
	if d.Altura.Valor != nil {
		rec.HouseNumbers = &street.HouseNumbers{Start: *d.Altura.Valor, End: *d.Altura.Valor}
	}
	if d.Ubicacion != nil && d.Ubicacion.Lat != nil && d.Ubicacion.Lon != nil {
		loc := street.Location{Lat: *d.Ubicacion.Lat, Lon: *d.Ubicacion.Lon}
		if loc.Valid() {
			rec.Location = &loc
		}
	}
	return rec
}

func minOf(a, b *int) (int, bool) {
	switch {
	case a == nil && b == nil:
		return 0, false
	case a == nil:
		return *b, true
	case b == nil:
		return *a, true
	}
	return min(*a, *b), true
}

func maxOf(a, b *int) (int, bool) {
	switch {
	case a == nil && b == nil:
		return 0, false
	case a == nil:
		return *b, true
	case b == nil:
		return *a, true
	}
	return max(*a, *b), true
}

func categoryFromProvider(s string) street.Category {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CALLE":
		return street.Street
	case "AV", "AVENIDA":
		return street.Avenue
	case "PJE", "PASAJE":
		return street.Passage
	case "RUTA":
		return street.Route
	}
	return street.Other
}

func categoryToProvider(c street.Category) string {
	switch c {
	case street.Street:
		return "CALLE"
	case street.Avenue:
		return "AV"
	case street.Passage:
		return "PJE"
	case street.Route:
		return "RUTA"
	case street.Other:
		return "OTRO"
	}
	return ""
}
