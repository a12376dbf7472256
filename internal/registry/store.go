package registry

import (
	"strings"
	"sync"
	"time"

	domainerrors "github.com/yegors/co-utm/internal/errors"
	"github.com/yegors/co-utm/internal/subscriptions"
	"github.com/yegors/co-utm/pkg/logger"
)

// Store is the authoritative in-memory state of drones, flights and hubs.
// Every entity has its own lock; readers always receive deep copies.
type Store struct {
	drones  *table[Drone]
	flights *table[Flight]
	hubs    *table[Hub]

	// lifecycleMu orders flight creation against drone deletion so a drone
	// cannot disappear under a flight being authorized. Hot paths never take it.
	lifecycleMu sync.Mutex

	publisher subscriptions.Publisher
	logger    *logger.Logger
	now       func() time.Time
}

// Option configures a Store
type Option func(*Store)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithPublisher sets where flight and drone status changes are published
func WithPublisher(p subscriptions.Publisher) Option {
	return func(s *Store) { s.publisher = p }
}

// NewStore creates an empty registry
func NewStore(log *logger.Logger, opts ...Option) *Store {
	s := &Store{
		drones:  newTable[Drone](),
		flights: newTable[Flight](),
		hubs:    newTable[Hub](),
		logger:  log.Named("registry"),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ------------------------------------------------------------------------------------------------
// Hubs
// ------------------------------------------------------------------------------------------------

// UpsertHub creates or replaces a hub
func (s *Store) UpsertHub(h Hub) (Hub, error) {
	h.ID = strings.TrimSpace(h.ID)
	if h.ID == "" {
		return Hub{}, domainerrors.NewValidation("hub id is required")
	}
	if h.Status == "" {
		h.Status = HubActive
	}
	if !h.Status.Valid() {
		return Hub{}, domainerrors.NewValidation("invalid hub status: " + string(h.Status))
	}
	if !h.Location.Valid() {
		return Hub{}, domainerrors.NewValidation("invalid hub location")
	}
	h.UpdatedAt = s.now()
	s.hubs.upsert(h.ID, h)
	return h.Clone(), nil
}

func (s *Store) GetHub(id string) (Hub, bool) {
	return s.hubs.get(id)
}

func (s *Store) ListHubs() []Hub {
	return s.hubs.snapshot(nil)
}

// ------------------------------------------------------------------------------------------------
// Drones
// ------------------------------------------------------------------------------------------------

// RegisterDrone adds a new drone. Ids are never reused while registered.
func (s *Store) RegisterDrone(d Drone) (Drone, error) {
	d.ID = strings.TrimSpace(d.ID)
	if d.ID == "" {
		return Drone{}, domainerrors.NewValidation("drone id is required")
	}
	if d.Status == "" {
		d.Status = DroneIdle
	}
	if !d.Status.Valid() {
		return Drone{}, domainerrors.NewValidation("invalid drone status: " + string(d.Status))
	}
	if d.HubID != "" {
		if _, ok := s.hubs.get(d.HubID); !ok {
			return Drone{}, domainerrors.HubNotFound(d.HubID)
		}
	}
	now := s.now()
	d.RegisteredAt = now
	d.UpdatedAt = now

	if !s.drones.insert(d.ID, d.Clone()) {
		return Drone{}, domainerrors.DroneAlreadyRegistered(d.ID)
	}
	s.logger.Info("Drone registered", logger.String("drone_id", d.ID), logger.String("hub_id", d.HubID))
	return d, nil
}

func (s *Store) GetDrone(id string) (Drone, bool) {
	return s.drones.get(id)
}

func (s *Store) ListDrones() []Drone {
	return s.drones.snapshot(nil)
}

func (s *Store) DroneCount() int {
	return s.drones.len()
}

// DronesByStatus counts registered drones per status
func (s *Store) DronesByStatus() map[DroneStatus]int {
	counts := make(map[DroneStatus]int)
	for _, d := range s.drones.snapshot(nil) {
		counts[d.Status]++
	}
	return counts
}

// UpdateDrone applies fn under the drone's lock. If fn fails nothing changes.
func (s *Store) UpdateDrone(id string, fn func(d *Drone) error) (Drone, error) {
	var from DroneStatus
	d, found, err := s.drones.update(id, func(d *Drone) error {
		from = d.Status
		if err := fn(d); err != nil {
			return err
		}
		if !d.Status.Valid() {
			return domainerrors.NewValidation("invalid drone status: " + string(d.Status))
		}
		d.UpdatedAt = s.now()
		return nil
	})
	if !found {
		return Drone{}, domainerrors.DroneNotFound(id)
	}
	if err != nil {
		return Drone{}, err
	}
	if d.Status != from {
		s.publishDroneStatus(d, from)
	}
	return d, nil
}

// SetDroneStatus sets the drone status unconditionally
func (s *Store) SetDroneStatus(id string, status DroneStatus) (Drone, error) {
	return s.UpdateDrone(id, func(d *Drone) error {
		d.Status = status
		return nil
	})
}

// DeleteDrone removes a drone unless a non-terminal flight references it
func (s *Store) DeleteDrone(id string) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if _, ok := s.drones.get(id); !ok {
		return domainerrors.DroneNotFound(id)
	}
	for _, f := range s.flights.snapshot(nil) {
		if f.DroneID == id && !f.Status.Terminal() {
			return domainerrors.DroneInUse(id, f.ID)
		}
	}
	s.drones.remove(id)
	s.logger.Info("Drone removed", logger.String("drone_id", id))
	return nil
}

// MarkSilentDronesLost marks airborne or returning drones whose last
// telemetry is older than cutoff as lost, and returns them
func (s *Store) MarkSilentDronesLost(cutoff time.Time) []Drone {
	var lost []Drone
	for _, candidate := range s.drones.snapshot(func(d *Drone) bool {
		return (d.Status == DroneAirborne || d.Status == DroneReturning) &&
			d.LastTelemetryAt != nil && d.LastTelemetryAt.Before(cutoff)
	}) {
		// Re-check under the drone lock; telemetry may have arrived since the snapshot.
		var changed bool
		d, err := s.UpdateDrone(candidate.ID, func(d *Drone) error {
			if (d.Status == DroneAirborne || d.Status == DroneReturning) &&
				d.LastTelemetryAt != nil && d.LastTelemetryAt.Before(cutoff) {
				d.Status = DroneLost
				changed = true
			}
			return nil
		})
		if err == nil && changed {
			lost = append(lost, d)
		}
	}
	return lost
}

// ------------------------------------------------------------------------------------------------
// Flights
// ------------------------------------------------------------------------------------------------

// CreateFlight authorizes a new flight for a registered drone
func (s *Store) CreateFlight(f Flight) (Flight, error) {
	f.ID = strings.TrimSpace(f.ID)
	if f.ID == "" {
		return Flight{}, domainerrors.NewValidation("flight id is required")
	}
	if f.FlightNumber == "" {
		f.FlightNumber = f.ID
	}
	if f.Status == "" {
		f.Status = FlightAuthorized
	}
	if f.Status != FlightAuthorized && f.Status != FlightActive {
		return Flight{}, domainerrors.NewValidation("new flights must be authorized or active")
	}
	if f.Type == "" {
		f.Type = "standard"
	}

	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	drone, ok := s.drones.get(f.DroneID)
	if !ok {
		return Flight{}, domainerrors.DroneNotFound(f.DroneID)
	}
	if f.HubID == "" {
		f.HubID = drone.HubID
	}
	if f.HubID != "" {
		if _, ok := s.hubs.get(f.HubID); !ok {
			return Flight{}, domainerrors.HubNotFound(f.HubID)
		}
	}

	now := s.now()
	if f.StartTime.IsZero() {
		f.StartTime = now
	}
	f.EndTime = nil
	f.Current = nil
	f.CreatedAt = now
	f.UpdatedAt = now

	if !s.flights.insert(f.ID, f.Clone()) {
		return Flight{}, domainerrors.FlightAlreadyExists(f.ID)
	}
	s.logger.Info("Flight authorized",
		logger.String("flight_id", f.ID),
		logger.String("drone_id", f.DroneID),
		logger.String("status", string(f.Status)))

	if f.Status == FlightActive {
		s.followFlight(f)
	}
	return f, nil
}

func (s *Store) GetFlight(id string) (Flight, bool) {
	return s.flights.get(id)
}

// ListFlights returns flights, optionally restricted to the given statuses
func (s *Store) ListFlights(statuses ...FlightStatus) []Flight {
	if len(statuses) == 0 {
		return s.flights.snapshot(nil)
	}
	return s.flights.snapshot(func(f *Flight) bool {
		for _, st := range statuses {
			if f.Status == st {
				return true
			}
		}
		return false
	})
}

// ActiveFlights returns every flight in active status
func (s *Store) ActiveFlights() []Flight {
	return s.ListFlights(FlightActive)
}

// SetFlightStatus validates and applies a flight status transition
func (s *Store) SetFlightStatus(id string, status FlightStatus) (Flight, error) {
	if !status.Valid() {
		return Flight{}, domainerrors.NewValidation("invalid flight status: " + string(status))
	}
	var from FlightStatus
	f, found, err := s.flights.update(id, func(f *Flight) error {
		from = f.Status
		if !f.Status.CanTransitionTo(status) {
			return domainerrors.FlightInvalidTransition(string(f.Status), string(status))
		}
		now := s.now()
		f.Status = status
		f.UpdatedAt = now
		if status.Terminal() {
			f.EndTime = &now
		}
		return nil
	})
	if !found {
		return Flight{}, domainerrors.FlightNotFound(id)
	}
	if err != nil {
		return Flight{}, err
	}

	s.logger.Info("Flight status changed",
		logger.String("flight_id", id),
		logger.String("from", string(from)),
		logger.String("to", string(status)))

	subscriptions.PublishAll(s.publisher, subscriptions.EventFlightStatusChanged,
		FlightStatusChange{Flight: f, From: from},
		subscriptions.FlightTopic(f.ID), subscriptions.DroneTopic(f.DroneID), subscriptions.HubTopic(f.HubID))

	s.followFlight(f)
	return f, nil
}

// followFlight keeps the drone's status in step with its flight
func (s *Store) followFlight(f Flight) {
	var target DroneStatus
	switch f.Status {
	case FlightActive:
		target = DroneAirborne
	case FlightLanded, FlightAborted:
		target = DroneGrounded
	default:
		return
	}
	_, err := s.UpdateDrone(f.DroneID, func(d *Drone) error {
		if d.Status == DroneLost && target == DroneGrounded {
			return nil
		}
		d.Status = target
		return nil
	})
	if err != nil {
		s.logger.Warn("Failed to update drone for flight status",
			logger.String("flight_id", f.ID),
			logger.String("drone_id", f.DroneID),
			logger.Error(err))
	}
}

// TelemetryResult describes what ApplyTelemetry did with a point
type TelemetryResult struct {
	Flight Flight
	// Current is false when the point was older than the stored snapshot
	Current bool
}

// ApplyTelemetry stores point as the flight's current snapshot if it is
// newer than the one held. The flight must exist and be non-terminal.
// The drone's last known position follows the same last-write-wins rule.
func (s *Store) ApplyTelemetry(point TelemetryPoint) (TelemetryResult, error) {
	var current bool
	f, found, err := s.flights.update(point.FlightID, func(f *Flight) error {
		if f.Status.Terminal() {
			return domainerrors.UnknownOrInactiveFlight(f.ID)
		}
		if point.DroneID != "" && point.DroneID != f.DroneID {
			return domainerrors.NewValidation("telemetry drone " + point.DroneID + " does not fly " + f.ID)
		}
		if f.Current != nil && !point.Timestamp.After(f.Current.Timestamp) {
			return nil
		}
		p := point.Clone()
		p.DroneID = f.DroneID
		f.Current = &p
		f.UpdatedAt = s.now()
		current = true
		return nil
	})
	if !found {
		return TelemetryResult{}, domainerrors.UnknownOrInactiveFlight(point.FlightID)
	}
	if err != nil {
		return TelemetryResult{}, err
	}
	if !current {
		return TelemetryResult{Flight: f}, nil
	}

	_, err = s.UpdateDrone(f.DroneID, func(d *Drone) error {
		if d.LastTelemetryAt != nil && !point.Timestamp.After(*d.LastTelemetryAt) {
			return nil
		}
		pos := point.Position.clone()
		ts := point.Timestamp
		d.Position = &pos
		d.LastTelemetryAt = &ts
		if d.Status == DroneLost {
			d.Status = DroneAirborne
		}
		return nil
	})
	if err != nil {
		s.logger.Warn("Failed to update drone position",
			logger.String("drone_id", f.DroneID),
			logger.Error(err))
	}
	return TelemetryResult{Flight: f, Current: true}, nil
}

// FlightStatusChange is the payload of flight_status_changed events
type FlightStatusChange struct {
	Flight Flight       `json:"flight"`
	From   FlightStatus `json:"from"`
}

// DroneStatusChange is the payload of drone_status_changed events
type DroneStatusChange struct {
	Drone Drone       `json:"drone"`
	From  DroneStatus `json:"from"`
}

func (s *Store) publishDroneStatus(d Drone, from DroneStatus) {
	s.logger.Info("Drone status changed",
		logger.String("drone_id", d.ID),
		logger.String("from", string(from)),
		logger.String("to", string(d.Status)))
	subscriptions.PublishAll(s.publisher, subscriptions.EventDroneStatusChanged,
		DroneStatusChange{Drone: d, From: from},
		subscriptions.DroneTopic(d.ID), subscriptions.HubTopic(d.HubID))
}
