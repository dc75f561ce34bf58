package model

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// NullCity is the mapping key used for a city the geocoder could not name.
const NullCity = "null"

// CityFeature is one geocoded city, laid out as a GeoJSON feature.
type CityFeature struct {
	Type       string            `json:"type"`
	Geometry   *geojson.Geometry `json:"geometry,omitempty"`
	BBox       geojson.BBox      `json:"bbox,omitempty"`
	Properties CityProperties    `json:"properties"`
}

type CityProperties struct {
	Address  string    `json:"address"`
	City     string    `json:"city,omitempty"`
	Country  string    `json:"country,omitempty"`
	Lat      float64   `json:"lat,omitempty"`
	Lng      float64   `json:"lng,omitempty"`
	BBox     []float64 `json:"bbox,omitempty"` // minLon, minLat, maxLon, maxLat
	Status   string    `json:"status"`
	OK       bool      `json:"ok"`
	Provider string    `json:"provider,omitempty"`
}

// NewCityFeature builds a located feature. bbox is minLon, minLat, maxLon, maxLat.
func NewCityFeature(props CityProperties, bbox [4]float64) CityFeature {
	props.BBox = bbox[:]
	props.OK = true
	if props.Status == "" {
		props.Status = "OK"
	}
	return CityFeature{
		Type:       "Feature",
		Geometry:   geojson.NewGeometry(orb.Point{props.Lng, props.Lat}),
		BBox:       geojson.BBox{bbox[0], bbox[1], bbox[2], bbox[3]},
		Properties: props,
	}
}

// NewUnlocatedFeature records a lookup that returned no result.
func NewUnlocatedFeature(address, status, provider string) CityFeature {
	return CityFeature{
		Type: "Feature",
		Properties: CityProperties{
			Address:  address,
			Status:   status,
			Provider: provider,
		},
	}
}

// Key is the name the city is stored under in the per-city mappings.
func (c CityFeature) Key() string {
	if c.Properties.City == "" {
		return NullCity
	}
	return c.Properties.City
}

// Located reports whether the feature carries coordinates.
func (c CityFeature) Located() bool {
	return c.Properties.OK && (c.Properties.Lat != 0 || c.Properties.Lng != 0)
}

// Bound returns the city's bounding box. ok is false when the feature has none.
func (p CityProperties) Bound() (orb.Bound, bool) {
	if len(p.BBox) != 4 {
		return orb.Bound{}, false
	}
	return orb.Bound{
		Min: orb.Point{p.BBox[0], p.BBox[1]},
		Max: orb.Point{p.BBox[2], p.BBox[3]},
	}, true
}

// Group is an interest group returned by find/groups.
type Group struct {
	ID      int64   `json:"id"`
	URLName string  `json:"urlname"`
	Name    string  `json:"name,omitempty"`
	Lat     float64 `json:"lat,omitempty"`
	Lon     float64 `json:"lon,omitempty"`
	City    string  `json:"city,omitempty"`
	Country string  `json:"country,omitempty"`
	Members int     `json:"members,omitempty"`
}

type Venue struct {
	ID      int64   `json:"id,omitempty"`
	Name    string  `json:"name,omitempty"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	City    string  `json:"city,omitempty"`
	Country string  `json:"country,omitempty"`
}

type GroupRef struct {
	ID      int64  `json:"id,omitempty"`
	URLName string `json:"urlname,omitempty"`
}

// Event is a past event of a group. Created and Time are epoch milliseconds.
type Event struct {
	ID      string    `json:"id"`
	Name    string    `json:"name,omitempty"`
	Status  string    `json:"status,omitempty"`
	Created int64     `json:"created"`
	Time    int64     `json:"time,omitempty"`
	Venue   *Venue    `json:"venue,omitempty"`
	Group   *GroupRef `json:"group,omitempty"`
}

// Artifact payloads, one per stage.
type (
	GeocodedCities = []CityFeature
	GroupsByCity   = map[string][]Group
	EventsByCity   = map[string][][]Event
)
