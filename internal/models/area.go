package models

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"

	"github.com/mr1hm/go-emergency-alerts/internal/apperr"
)

const MaxAreaDescriptionLength = 255

// Area is one polygon an alert is broadcast to. Polygon holds normalized WKT.
type Area struct {
	ID          string
	AlertID     string
	Description string
	Polygon     string
	RegionCode  string // filled in later by spatial lookup
}

// NewArea validates the polygon and returns an area ready to attach to an alert.
// index is the position of the area in the request and is used in error messages.
func NewArea(id, description, polygonWKT string, index int) (Area, error) {
	const op = "create area"
	field := "areas[" + strconv.Itoa(index) + "]"

	description = strings.TrimSpace(description)
	if description == "" {
		return Area{}, apperr.Field(apperr.KindInvalidArgument, op, field+".description", "area description is required")
	}
	if utf8.RuneCountInString(description) > MaxAreaDescriptionLength {
		return Area{}, apperr.Field(apperr.KindInvalidArgument, op, field+".description", "area description exceeds 255 characters")
	}

	poly, err := ParsePolygon(polygonWKT)
	if err != nil {
		return Area{}, &apperr.Error{
			Kind:    apperr.KindInvalidPolygon,
			Op:      op,
			Field:   field + ".polygon",
			Message: err.Error(),
			Err:     err,
		}
	}

	return Area{
		ID:          id,
		Description: description,
		Polygon:     wkt.MarshalString(poly),
	}, nil
}

// Geometry parses the stored polygon. Stored areas were validated on creation.
func (a Area) Geometry() (orb.Polygon, error) {
	return ParsePolygon(a.Polygon)
}

// ParsePolygon parses a WKT polygon and checks that every ring is closed and
// has at least four points.
func ParsePolygon(s string) (orb.Polygon, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errPolygon("polygon is empty")
	}
	poly, err := wkt.UnmarshalPolygon(s)
	if err != nil {
		return nil, errPolygon("unparsable polygon: " + err.Error())
	}
	if len(poly) == 0 {
		return nil, errPolygon("polygon has no rings")
	}
	for i, ring := range poly {
		if len(ring) < 4 {
			return nil, errPolygon("ring " + strconv.Itoa(i) + " needs at least 4 points")
		}
		if !ring.Closed() {
			return nil, errPolygon("ring " + strconv.Itoa(i) + " is not closed")
		}
	}
	return poly, nil
}

type polygonError string

func (e polygonError) Error() string { return string(e) }

func errPolygon(msg string) error { return polygonError(msg) }
