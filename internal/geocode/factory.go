package geocode

import (
	"fmt"

	"github.com/galois26/meetup-city-events/internal/config"
)

func NewProviderFromConfig(gc config.GeocoderConfig) (Provider, error) {
	switch gc.Type {
	case "google":
		if gc.APIKey == "" {
			return nil, fmt.Errorf("geocoder google: %w (GOOGLE_API_KEY)", config.ErrMissingAPIKey)
		}
		return NewGoogle(gc.BaseURL, gc.APIKey, gc.UserAgent, gc.Timeout), nil
	case "nominatim":
		return NewNominatim(gc.BaseURL, gc.UserAgent, gc.Timeout), nil
	case "":
		return nil, fmt.Errorf("geocoder.type is required")
	default:
		return nil, fmt.Errorf("unknown geocoder: %s", gc.Type)
	}
}
