package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/galois26/meetup-city-events/internal/model"
	"github.com/galois26/meetup-city-events/internal/util"
)

// Google Geocoding API docs: https://developers.google.com/maps/documentation/geocoding
// Endpoint used: /maps/api/geocode/json?address=<q>&key=<KEY>

type Google struct {
	baseURL   string
	apiKey    string
	userAgent string
	client    *http.Client
}

type googleLatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type googleBox struct {
	Northeast googleLatLng `json:"northeast"`
	Southwest googleLatLng `json:"southwest"`
}

type googleResp struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
	Results      []struct {
		FormattedAddress  string `json:"formatted_address"`
		AddressComponents []struct {
			LongName  string   `json:"long_name"`
			ShortName string   `json:"short_name"`
			Types     []string `json:"types"`
		} `json:"address_components"`
		Geometry struct {
			Location googleLatLng `json:"location"`
			Viewport *googleBox   `json:"viewport"`
			Bounds   *googleBox   `json:"bounds"`
		} `json:"geometry"`
	} `json:"results"`
}

func NewGoogle(baseURL, apiKey, userAgent string, timeout time.Duration) *Google {
	if baseURL == "" {
		baseURL = "https://maps.googleapis.com/maps/api/geocode/json"
	}
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Google{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    strings.TrimSpace(apiKey),
		userAgent: userAgent,
		client:    util.NewHTTPClient(timeout),
	}
}

func (g *Google) Name() string { return "google" }

func (g *Google) Geocode(ctx context.Context, address string) (model.CityFeature, error) {
	q := url.Values{}
	q.Set("address", address)
	if g.apiKey != "" {
		q.Set("key", g.apiKey)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return model.CityFeature{}, err
	}
	if g.userAgent != "" {
		req.Header.Set("User-Agent", g.userAgent)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return model.CityFeature{}, fmt.Errorf("google geocode %q: %w", address, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return model.CityFeature{}, util.StatusError("google geocode", resp)
	}

	var data googleResp
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return model.CityFeature{}, fmt.Errorf("google geocode: decode: %w", err)
	}
	switch data.Status {
	case "OK":
	case "ZERO_RESULTS":
		return model.NewUnlocatedFeature(address, data.Status, g.Name()), nil
	default:
		return model.CityFeature{}, fmt.Errorf("google geocode: %s %s", data.Status, data.ErrorMessage)
	}
	if len(data.Results) == 0 {
		return model.NewUnlocatedFeature(address, "ZERO_RESULTS", g.Name()), nil
	}

	r := data.Results[0]
	props := model.CityProperties{
		Address:  r.FormattedAddress,
		Lat:      r.Geometry.Location.Lat,
		Lng:      r.Geometry.Location.Lng,
		Status:   data.Status,
		Provider: g.Name(),
	}
	for _, c := range r.AddressComponents {
		for _, t := range c.Types {
			switch {
			case t == "locality" && props.City == "":
				props.City = c.LongName
			case t == "postal_town" && props.City == "":
				props.City = c.LongName
			case t == "country":
				props.Country = c.ShortName
			}
		}
	}

	box := r.Geometry.Viewport
	if box == nil {
		box = r.Geometry.Bounds
	}
	if box == nil {
		// A point with no extent still gets a degenerate box so the feature stays well-formed.
		loc := r.Geometry.Location
		return model.NewCityFeature(props, [4]float64{loc.Lng, loc.Lat, loc.Lng, loc.Lat}), nil
	}
	return model.NewCityFeature(props, [4]float64{
		box.Southwest.Lng, box.Southwest.Lat, box.Northeast.Lng, box.Northeast.Lat,
	}), nil
}
