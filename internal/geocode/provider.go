package geocode

import (
	"context"

	"github.com/galois26/meetup-city-events/internal/model"
)

// Provider turns a free-form place name into a city feature. A lookup with no
// match returns an unlocated feature, not an error.
type Provider interface {
	Geocode(ctx context.Context, address string) (model.CityFeature, error)
	Name() string
}
