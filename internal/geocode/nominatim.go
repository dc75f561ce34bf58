package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/galois26/meetup-city-events/internal/model"
	"github.com/galois26/meetup-city-events/internal/util"
)

// Nominatim (OpenStreetMap) needs no key but requires an identifying User-Agent.
// Endpoint used: /search?q=<q>&format=jsonv2&addressdetails=1&limit=1

type Nominatim struct {
	baseURL   string
	userAgent string
	client    *http.Client
}

type nominatimPlace struct {
	Lat         string   `json:"lat"`
	Lon         string   `json:"lon"`
	DisplayName string   `json:"display_name"`
	Name        string   `json:"name"`
	BoundingBox []string `json:"boundingbox"` // minLat, maxLat, minLon, maxLon
	Address     struct {
		City        string `json:"city"`
		Town        string `json:"town"`
		Village     string `json:"village"`
		CountryCode string `json:"country_code"`
	} `json:"address"`
}

func NewNominatim(baseURL, userAgent string, timeout time.Duration) *Nominatim {
	if baseURL == "" {
		baseURL = "https://nominatim.openstreetmap.org"
	}
	if userAgent == "" {
		userAgent = "meetup-city-events/1.0"
	}
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Nominatim{
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: userAgent,
		client:    util.NewHTTPClient(timeout),
	}
}

func (n *Nominatim) Name() string { return "nominatim" }

func (n *Nominatim) Geocode(ctx context.Context, address string) (model.CityFeature, error) {
	q := url.Values{}
	q.Set("q", address)
	q.Set("format", "jsonv2")
	q.Set("addressdetails", "1")
	q.Set("limit", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.baseURL+"/search?"+q.Encode(), nil)
	if err != nil {
		return model.CityFeature{}, err
	}
	req.Header.Set("User-Agent", n.userAgent)

	resp, err := n.client.Do(req)
	if err != nil {
		return model.CityFeature{}, fmt.Errorf("nominatim %q: %w", address, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return model.CityFeature{}, util.StatusError("nominatim", resp)
	}

	var places []nominatimPlace
	if err := json.NewDecoder(resp.Body).Decode(&places); err != nil {
		return model.CityFeature{}, fmt.Errorf("nominatim: decode: %w", err)
	}
	if len(places) == 0 {
		return model.NewUnlocatedFeature(address, "ZERO_RESULTS", n.Name()), nil
	}

	p := places[0]
	lat, err1 := strconv.ParseFloat(p.Lat, 64)
	lon, err2 := strconv.ParseFloat(p.Lon, 64)
	if err1 != nil || err2 != nil {
		return model.CityFeature{}, fmt.Errorf("nominatim: bad coordinates %q,%q", p.Lat, p.Lon)
	}
	if len(p.BoundingBox) != 4 {
		return model.CityFeature{}, fmt.Errorf("nominatim: bounding box has %d values", len(p.BoundingBox))
	}
	var bb [4]float64
	for i, s := range p.BoundingBox {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return model.CityFeature{}, fmt.Errorf("nominatim: bounding box: %w", err)
		}
		bb[i] = v
	}

	city := p.Address.City
	if city == "" {
		city = p.Address.Town
	}
	if city == "" {
		city = p.Address.Village
	}
	if city == "" {
		city = p.Name
	}
	props := model.CityProperties{
		Address:  p.DisplayName,
		City:     city,
		Country:  strings.ToUpper(p.Address.CountryCode),
		Lat:      lat,
		Lng:      lon,
		Provider: n.Name(),
	}
	return model.NewCityFeature(props, [4]float64{bb[2], bb[0], bb[3], bb[1]}), nil
}
