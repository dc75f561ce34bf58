package meetup

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/galois26/meetup-city-events/internal/model"
)

// GroupQuery selects groups near a point. Zero fields default to category 34
// (tech) and radius "smart".
type GroupQuery struct {
	Country  string
	Lat, Lon float64
	Category int
	Radius   string
}

func (q GroupQuery) values() url.Values {
	v := url.Values{}
	if q.Country != "" {
		v.Set("country", q.Country)
	}
	v.Set("lat", strconv.FormatFloat(q.Lat, 'f', -1, 64))
	v.Set("lon", strconv.FormatFloat(q.Lon, 'f', -1, 64))
	cat := q.Category
	if cat == 0 {
		cat = 34
	}
	v.Set("category", strconv.Itoa(cat))
	radius := q.Radius
	if radius == "" {
		radius = "smart"
	}
	v.Set("radius", radius)
	v.Set("offset", "0")
	return v
}

// Groups walks find/groups forward.
func (c *Client) Groups(ctx context.Context, q GroupQuery) ([]model.Group, error) {
	raw, err := c.GetAllForward(ctx, "find/groups", q.values())
	if err != nil {
		return nil, err
	}
	return decodeAll[model.Group](raw)
}

type EventQuery struct {
	Status string // default "past"
	Page   int    // default: client page size
}

func (q EventQuery) values() url.Values {
	v := url.Values{}
	status := q.Status
	if status == "" {
		status = "past"
	}
	v.Set("status", status)
	if q.Page > 0 {
		v.Set("page", strconv.Itoa(q.Page))
	}
	v.Set("offset", "0")
	return v
}

// Events walks {urlname}/events backward.
func (c *Client) Events(ctx context.Context, urlname string, q EventQuery) ([]model.Event, error) {
	if urlname == "" {
		return nil, fmt.Errorf("meetup: empty group urlname")
	}
	raw, err := c.GetAllBackward(ctx, url.PathEscape(urlname)+"/events", q.values())
	if err != nil {
		return nil, err
	}
	return decodeAll[model.Event](raw)
}

func decodeAll[T any](raw []json.RawMessage) ([]T, error) {
	out := make([]T, 0, len(raw))
	for i, r := range raw {
		var v T
		if err := json.Unmarshal(r, &v); err != nil {
			return nil, fmt.Errorf("meetup: decode item %d: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}
