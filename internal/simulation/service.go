package simulation

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	domainerrors "github.com/yegors/co-utm/internal/errors"
	"github.com/yegors/co-utm/internal/physics"
	"github.com/yegors/co-utm/internal/registry"
	"github.com/yegors/co-utm/internal/telemetry"
	"github.com/yegors/co-utm/pkg/logger"
)

const (
	DefaultMaxDrones = 10
	batteryDrainPct  = 0.05 // percent per second of flight
)

// SimulatedDrone represents a single simulated drone with its current state
type SimulatedDrone struct {
	DroneID       string    `json:"drone_id"`
	FlightID      string    `json:"flight_id"`
	CurrentLat    float64   `json:"current_lat"`
	CurrentLon    float64   `json:"current_lon"`
	CurrentAlt    float64   `json:"current_altitude_msl"`
	TargetHeading float64   `json:"target_heading"`
	TargetSpeed   float64   `json:"target_speed"`          // m/s
	VerticalSpeed float64   `json:"target_vertical_speed"` // m/s
	Battery       float64   `json:"battery_level"`
	LastUpdate    time.Time `json:"last_update"`
	CreatedAt     time.Time `json:"created_at"`
}

// CreateRequest describes a new simulated drone
type CreateRequest struct {
	HubID         string  `json:"hub_id"`
	Lat           float64 `json:"lat"`
	Lon           float64 `json:"lon"`
	AltitudeMSL   float64 `json:"altitude_msl"`
	Heading       float64 `json:"heading"`
	Speed         float64 `json:"speed"`
	VerticalSpeed float64 `json:"vertical_speed"`
}

// Registry is the part of the entity registry the simulator drives
type Registry interface {
	RegisterDrone(d registry.Drone) (registry.Drone, error)
	CreateFlight(f registry.Flight) (registry.Flight, error)
	SetFlightStatus(id string, status registry.FlightStatus) (registry.Flight, error)
}

// Ingester accepts generated telemetry
type Ingester interface {
	Ingest(ctx context.Context, point registry.TelemetryPoint) (telemetry.Result, error)
}

// Config controls the simulator
type Config struct {
	Tick      time.Duration
	MaxDrones int
}

// Service manages simulated drones and feeds their telemetry through ingest
type Service struct {
	config   Config
	registry Registry
	ingest   Ingester
	drones   map[string]*SimulatedDrone
	mutex    sync.RWMutex
	logger   *logger.Logger
	now      func() time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewService creates a new simulation service
func NewService(cfg Config, reg Registry, ingest Ingester, logger *logger.Logger) *Service {
	if cfg.Tick <= 0 {
		cfg.Tick = time.Second
	}
	if cfg.MaxDrones <= 0 {
		cfg.MaxDrones = DefaultMaxDrones
	}
	return &Service{
		config:   cfg,
		registry: reg,
		ingest:   ingest,
		drones:   make(map[string]*SimulatedDrone),
		logger:   logger.Named("simulation"),
		now:      func() time.Time { return time.Now().UTC() },
		stopCh:   make(chan struct{}),
	}
}

// CreateDrone registers a simulated drone and an active flight for it
func (s *Service) CreateDrone(req CreateRequest) (*SimulatedDrone, error) {
	if !(physics.Coordinate{Lat: req.Lat, Lon: req.Lon}).Valid() {
		return nil, domainerrors.NewValidation("invalid start position")
	}
	if req.Speed < 0 {
		return nil, domainerrors.NewValidation("speed must not be negative")
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if len(s.drones) >= s.config.MaxDrones {
		return nil, domainerrors.NewConflict(fmt.Sprintf("maximum number of simulated drones (%d) reached", s.config.MaxDrones))
	}

	droneID := s.generateUniqueID()
	flightID := "SIMF-" + droneID[len("SIM-"):]

	if _, err := s.registry.RegisterDrone(registry.Drone{ID: droneID, Name: "Simulated " + droneID, HubID: req.HubID}); err != nil {
		return nil, err
	}
	if _, err := s.registry.CreateFlight(registry.Flight{
		ID:      flightID,
		DroneID: droneID,
		HubID:   req.HubID,
		Status:  registry.FlightActive,
		Type:    "simulated",
	}); err != nil {
		return nil, err
	}

	now := s.now()
	drone := &SimulatedDrone{
		DroneID:       droneID,
		FlightID:      flightID,
		CurrentLat:    req.Lat,
		CurrentLon:    req.Lon,
		CurrentAlt:    req.AltitudeMSL,
		TargetHeading: physics.NormalizeHeading(req.Heading),
		TargetSpeed:   req.Speed,
		VerticalSpeed: req.VerticalSpeed,
		Battery:       100,
		LastUpdate:    now,
		CreatedAt:     now,
	}
	s.drones[droneID] = drone

	s.logger.Info("Created simulated drone",
		logger.String("drone_id", droneID),
		logger.String("flight_id", flightID),
		logger.Float64("lat", req.Lat),
		logger.Float64("lon", req.Lon))

	copied := *drone
	return &copied, nil
}

// UpdateControls updates the control parameters for a simulated drone
func (s *Service) UpdateControls(droneID string, heading, speed, verticalSpeed float64) (*SimulatedDrone, error) {
	if speed < 0 {
		return nil, domainerrors.NewValidation("speed must not be negative")
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()

	drone, exists := s.drones[droneID]
	if !exists {
		return nil, domainerrors.NewNotFound("simulated drone", droneID)
	}

	drone.TargetHeading = physics.NormalizeHeading(heading)
	drone.TargetSpeed = speed
	drone.VerticalSpeed = verticalSpeed

	s.logger.Debug("Updated simulation controls",
		logger.String("drone_id", droneID),
		logger.Float64("heading", heading),
		logger.Float64("speed", speed),
		logger.Float64("vertical_speed", verticalSpeed))

	copied := *drone
	return &copied, nil
}

// RemoveDrone stops simulating a drone and lands its flight
func (s *Service) RemoveDrone(droneID string) error {
	s.mutex.Lock()
	drone, exists := s.drones[droneID]
	if exists {
		delete(s.drones, droneID)
	}
	s.mutex.Unlock()

	if !exists {
		return domainerrors.NewNotFound("simulated drone", droneID)
	}
	if _, err := s.registry.SetFlightStatus(drone.FlightID, registry.FlightLanded); err != nil {
		s.logger.Warn("Failed to land simulated flight",
			logger.String("flight_id", drone.FlightID),
			logger.Error(err))
	}
	s.logger.Info("Removed simulated drone", logger.String("drone_id", droneID))
	return nil
}

// GetDrone returns a simulated drone by id
func (s *Service) GetDrone(droneID string) (*SimulatedDrone, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	drone, exists := s.drones[droneID]
	if !exists {
		return nil, false
	}
	copied := *drone
	return &copied, true
}

// ListDrones returns all simulated drones sorted by id
func (s *Service) ListDrones() []SimulatedDrone {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	result := make([]SimulatedDrone, 0, len(s.drones))
	for _, drone := range s.drones {
		result = append(result, *drone)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].DroneID < result[j].DroneID })
	return result
}

// Step advances every drone to now by dead reckoning and returns the
// telemetry they would report
func (s *Service) Step(now time.Time) []registry.TelemetryPoint {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	points := make([]registry.TelemetryPoint, 0, len(s.drones))
	for _, drone := range s.drones {
		deltaTime := now.Sub(drone.LastUpdate).Seconds()
		if deltaTime > 0 {
			updateDronePosition(drone, deltaTime)
			drone.LastUpdate = now
		}
		points = append(points, drone.telemetry(now))
	}
	return points
}

// Start runs the simulation loop until Stop or ctx is cancelled
func (s *Service) Start(ctx context.Context) error {
	s.logger.Info("Starting drone simulation",
		logger.Duration("tick", s.config.Tick),
		logger.Int("max_drones", s.config.MaxDrones))

	s.wg.Add(1)
	go s.loop(ctx)
	return nil
}

// Stop stops the simulation loop
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()
}

func (s *Service) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for _, point := range s.Step(s.now()) {
				if _, err := s.ingest.Ingest(ctx, point); err != nil {
					s.logger.Debug("Simulated telemetry rejected",
						logger.String("flight_id", point.FlightID),
						logger.Error(err))
				}
			}
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (d *SimulatedDrone) telemetry(now time.Time) registry.TelemetryPoint {
	return registry.TelemetryPoint{
		FlightID:       d.FlightID,
		DroneID:        d.DroneID,
		Timestamp:      now,
		Position:       registry.Position{Lat: d.CurrentLat, Lon: d.CurrentLon, AltitudeMSL: d.CurrentAlt},
		GroundSpeed:    d.TargetSpeed,
		VerticalSpeed:  d.VerticalSpeed,
		Heading:        d.TargetHeading,
		Attitude:       registry.Attitude{Yaw: d.TargetHeading},
		BatteryLevel:   d.Battery,
		SignalStrength: -40, // Good signal strength
		GPSSatellites:  14,
		FlightMode:     "simulated",
		SystemStatus:   "ok",
	}
}

// updateDronePosition advances a drone along its heading
func updateDronePosition(drone *SimulatedDrone, deltaTime float64) {
	if drone.TargetSpeed > 0 {
		next := physics.Destination(
			physics.Coordinate{Lat: drone.CurrentLat, Lon: drone.CurrentLon},
			drone.TargetHeading,
			drone.TargetSpeed*deltaTime,
		)
		drone.CurrentLat = next.Lat
		drone.CurrentLon = next.Lon
	}

	drone.CurrentAlt += drone.VerticalSpeed * deltaTime

	// Ensure altitude doesn't go below ground level
	if drone.CurrentAlt < 0 {
		drone.CurrentAlt = 0
		drone.VerticalSpeed = 0
	}

	drone.Battery -= batteryDrainPct * deltaTime
	if drone.Battery < 0 {
		drone.Battery = 0
	}
}

// generateUniqueID generates a unique SIM-XXXXXX drone id
func (s *Service) generateUniqueID() string {
	for {
		id := fmt.Sprintf("SIM-%06X", rand.Intn(0xFFFFFF))
		if _, exists := s.drones[id]; !exists {
			return id
		}
	}
}
