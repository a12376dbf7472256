package conflict

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	domainerrors "github.com/yegors/co-utm/internal/errors"
	"github.com/yegors/co-utm/internal/physics"
)

type ZoneType string

const (
	ZoneRestricted ZoneType = "restricted"
	ZoneAdvisory   ZoneType = "advisory"
	ZoneCorridor   ZoneType = "corridor"
)

type ZoneStatus string

const (
	ZoneActive   ZoneStatus = "active"
	ZoneInactive ZoneStatus = "inactive"
)

// AirspaceZone is a polygon with an altitude band (meters MSL)
type AirspaceZone struct {
	ID        string               `json:"id"`
	Name      string               `json:"name"`
	Type      ZoneType             `json:"type"`
	Status    ZoneStatus           `json:"status"`
	Boundary  []physics.Coordinate `json:"boundary"`
	FloorM    float64              `json:"floor_m"`
	CeilingM  float64              `json:"ceiling_m"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// Clone returns a deep copy of the zone
func (z AirspaceZone) Clone() AirspaceZone {
	z.Boundary = append([]physics.Coordinate(nil), z.Boundary...)
	return z
}

// InBand reports whether altitude lies within the zone's altitude band
func (z AirspaceZone) InBand(altitudeM float64) bool {
	return altitudeM >= z.FloorM && altitudeM <= z.CeilingM
}

// Validate checks the zone is usable by the detector
func (z AirspaceZone) Validate() error {
	if strings.TrimSpace(z.ID) == "" {
		return domainerrors.NewValidation("zone id is required")
	}
	switch z.Type {
	case ZoneRestricted, ZoneAdvisory, ZoneCorridor:
	default:
		return domainerrors.NewValidation("invalid zone type: " + string(z.Type))
	}
	switch z.Status {
	case ZoneActive, ZoneInactive:
	default:
		return domainerrors.NewValidation("invalid zone status: " + string(z.Status))
	}
	if len(z.Boundary) < 3 {
		return domainerrors.NewValidation("zone boundary needs at least 3 points")
	}
	for _, c := range z.Boundary {
		if !c.Valid() {
			return domainerrors.NewValidation("zone boundary contains an invalid coordinate")
		}
	}
	if z.CeilingM <= z.FloorM {
		return domainerrors.NewValidation("zone ceiling must be above its floor")
	}
	return nil
}

// ZonePersister stores zone edits durably
type ZonePersister interface {
	SaveZone(ctx context.Context, zone AirspaceZone) error
}

// ZoneSet is the in-memory set of airspace zones read by the detector
type ZoneSet struct {
	mu        sync.RWMutex
	zones     map[string]AirspaceZone
	persister ZonePersister
	now       func() time.Time
}

// NewZoneSet creates a zone set. persister may be nil.
func NewZoneSet(persister ZonePersister) *ZoneSet {
	return &ZoneSet{
		zones:     make(map[string]AirspaceZone),
		persister: persister,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Load replaces the set's contents without persisting, used at startup
func (s *ZoneSet) Load(zones []AirspaceZone) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.zones = make(map[string]AirspaceZone, len(zones))
	for _, z := range zones {
		s.zones[z.ID] = z.Clone()
	}
}

// Upsert validates, persists and stores a zone
func (s *ZoneSet) Upsert(ctx context.Context, zone AirspaceZone) (AirspaceZone, error) {
	if zone.Status == "" {
		zone.Status = ZoneActive
	}
	if err := zone.Validate(); err != nil {
		return AirspaceZone{}, err
	}
	zone = zone.Clone()
	zone.UpdatedAt = s.now()

	if s.persister != nil {
		if err := s.persister.SaveZone(ctx, zone); err != nil {
			return AirspaceZone{}, domainerrors.NewInternal("failed to save zone", err)
		}
	}

	s.mu.Lock()
	s.zones[zone.ID] = zone
	s.mu.Unlock()
	return zone.Clone(), nil
}

func (s *ZoneSet) Get(id string) (AirspaceZone, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	z, ok := s.zones[id]
	if !ok {
		return AirspaceZone{}, false
	}
	return z.Clone(), true
}

// List returns every zone sorted by id
func (s *ZoneSet) List() []AirspaceZone {
	return s.filter(func(AirspaceZone) bool { return true })
}

// ActiveRestricted returns the zones the detector evaluates
func (s *ZoneSet) ActiveRestricted() []AirspaceZone {
	return s.filter(func(z AirspaceZone) bool {
		return z.Status == ZoneActive && z.Type == ZoneRestricted
	})
}

func (s *ZoneSet) filter(keep func(AirspaceZone) bool) []AirspaceZone {
	s.mu.RLock()
	out := make([]AirspaceZone, 0, len(s.zones))
	for _, z := range s.zones {
		if keep(z) {
			out = append(out, z.Clone())
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
