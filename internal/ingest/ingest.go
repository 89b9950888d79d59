package ingest

import (
	"context"

	"fleetroute/internal/model"
)

// Source supplies delivery points from an external system. Implementations
// own their transport and credentials; the planner only sees points.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]model.DeliveryPoint, error)
}
