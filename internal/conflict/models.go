package conflict

import (
	"time"

	"github.com/yegors/co-utm/internal/physics"
)

// Type classifies what triggered a conflict
type Type string

const (
	TypeSeparation    Type = "separation_violation"
	TypeZoneIncursion Type = "zone_incursion"
	TypeZoneProximity Type = "zone_proximity"
)

// Severity ranks how close a violation is
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityAdvisory Severity = "advisory"
)

// Status is the conflict lifecycle: detected -> acknowledged -> resolved,
// or detected -> resolved. Resolved is terminal.
type Status string

const (
	StatusDetected     Status = "detected"
	StatusAcknowledged Status = "acknowledged"
	StatusResolved     Status = "resolved"
)

// Conflict is a separation or airspace violation seen by the detector
type Conflict struct {
	ID        string   `json:"id"`
	Key       string   `json:"key"`
	Type      Type     `json:"type"`
	Severity  Severity `json:"severity"`
	Status    Status   `json:"status"`
	FlightIDs []string `json:"flight_ids"`
	ZoneID    string   `json:"zone_id,omitempty"`

	// Geometry at the most recent detection
	Location            physics.Coordinate `json:"location"`
	HorizontalDistanceM float64            `json:"horizontal_distance_m"`
	VerticalDistanceM   float64            `json:"vertical_distance_m"`

	DetectedAt     time.Time  `json:"detected_at"`
	LastSeenAt     time.Time  `json:"last_seen_at"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
}

// Clone returns a deep copy of the conflict
func (c Conflict) Clone() Conflict {
	c.FlightIDs = append([]string(nil), c.FlightIDs...)
	if c.AcknowledgedAt != nil {
		t := *c.AcknowledgedAt
		c.AcknowledgedAt = &t
	}
	if c.ResolvedAt != nil {
		t := *c.ResolvedAt
		c.ResolvedAt = &t
	}
	return c
}

// Involves reports whether flightID is part of the conflict
func (c Conflict) Involves(flightID string) bool {
	for _, id := range c.FlightIDs {
		if id == flightID {
			return true
		}
	}
	return false
}
