package provider

import (
	"context"

	"github.com/tampertrail/tampertrail-go/pkg/models"
)

// CloudProvider turns a cloud-specific log delivery payload into TamperTrail events
type CloudProvider interface {
	// Name returns the provider name
	Name() string

	// ParseBatch parses every log record carried by rawEvent
	ParseBatch(ctx context.Context, rawEvent interface{}) ([]*models.Event, error)
}
