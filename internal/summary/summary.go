package summary

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/paulmach/orb"
	"go.uber.org/zap"

	"github.com/galois26/meetup-city-events/internal/model"
	"github.com/galois26/meetup-city-events/internal/util"
)

// ErrMissingCity means the events mapping has neither the fallback city nor a null key.
var ErrMissingCity = errors.New("missing city key")

// Options control which events count towards a city's total.
type Options struct {
	Cutoff   time.Time      // only the calendar date is used
	Location *time.Location // zone creation instants are read in, time.Local when nil
	NullCity string         // fallback the "null" key is renamed to, empty disables the rename
}

// CityTotal is one output row.
type CityTotal struct {
	City  string
	Total int
}

// FixNullCity renames the null key to fallback when fallback is absent.
// Geocoding some city names yields no locality, which the groups stage stores as "null".
// The unnamed feature in cities is renamed with it so its bounding box is still found.
func FixNullCity(events model.EventsByCity, cities model.GeocodedCities, fallback string) error {
	if fallback == "" {
		return nil
	}
	if _, ok := events[fallback]; ok {
		return nil
	}
	v, ok := events[model.NullCity]
	if !ok {
		return fmt.Errorf("%w: neither %q nor %q in events", ErrMissingCity, fallback, model.NullCity)
	}
	events[fallback] = v
	delete(events, model.NullCity)

	unnamed := -1
	for i, c := range cities {
		if c.Properties.City == fallback {
			return nil
		}
		if unnamed < 0 && c.Key() == model.NullCity {
			unnamed = i
		}
	}
	if unnamed >= 0 {
		cities[unnamed].Properties.City = fallback
	}
	return nil
}

// BoundOf returns the bounding box of the first feature named city.
func BoundOf(cities model.GeocodedCities, city string) (orb.Bound, bool) {
	for _, c := range cities {
		if c.Properties.City == city {
			return c.Properties.Bound()
		}
	}
	return orb.Bound{}, false
}

// Inside reports whether p lies strictly inside b. Points on an edge are outside.
func Inside(b orb.Bound, p orb.Point) bool {
	return p.Lon() > b.Min.Lon() && p.Lon() < b.Max.Lon() &&
		p.Lat() > b.Min.Lat() && p.Lat() < b.Max.Lat()
}

// CreatedAfter reports whether the event's creation date, read in loc, falls
// on a calendar day after the cutoff date.
func CreatedAfter(createdMillis int64, cutoff time.Time, loc *time.Location) bool {
	if loc == nil {
		loc = time.Local
	}
	y, m, d := time.UnixMilli(createdMillis).In(loc).Date()
	cy, cm, cd := cutoff.Date()
	switch {
	case y != cy:
		return y > cy
	case m != cm:
		return m > cm
	default:
		return d > cd
	}
}

// Qualifies is the per-event filter: a venue strictly inside b, created after the cutoff.
func Qualifies(e model.Event, b orb.Bound, o Options) bool {
	if e.Venue == nil {
		return false
	}
	return Inside(b, orb.Point{e.Venue.Lon, e.Venue.Lat}) && CreatedAfter(e.Created, o.Cutoff, o.Location)
}

// Count totals qualifying events per city, sorted ascending by total then name.
// A city without a bounding box counts zero.
func Count(events model.EventsByCity, cities model.GeocodedCities, o Options) []CityTotal {
	log := util.L().Named("summary")
	out := make([]CityTotal, 0, len(events))
	for city, groups := range events {
		total := 0
		b, ok := BoundOf(cities, city)
		if !ok {
			log.Warn("no bounding box for city, counting zero", zap.String("city", city))
		} else {
			for _, evs := range groups {
				for _, e := range evs {
					if Qualifies(e, b, o) {
						total++
					}
				}
			}
		}
		log.Info("city total", zap.String("city", city), zap.Int("total", total))
		out = append(out, CityTotal{City: city, Total: total})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Total != out[j].Total {
			return out[i].Total < out[j].Total
		}
		return out[i].City < out[j].City
	})
	return out
}

// WriteCSV writes the header city,total and one row per city in the given order.
func WriteCSV(w io.Writer, rows []CityTotal) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"city", "total"}); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write([]string{r.City, strconv.Itoa(r.Total)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
