package registry

import (
	"time"

	"github.com/yegors/co-utm/internal/physics"
)

// DroneStatus is the operational state of a drone
type DroneStatus string

const (
	DroneIdle      DroneStatus = "idle"
	DroneAirborne  DroneStatus = "airborne"
	DroneReturning DroneStatus = "returning"
	DroneGrounded  DroneStatus = "grounded"
	DroneLost      DroneStatus = "lost"
)

// Valid reports whether s is a known drone status
func (s DroneStatus) Valid() bool {
	switch s {
	case DroneIdle, DroneAirborne, DroneReturning, DroneGrounded, DroneLost:
		return true
	}
	return false
}

// FlightStatus is the lifecycle state of a flight
type FlightStatus string

const (
	FlightAuthorized FlightStatus = "authorized"
	FlightActive     FlightStatus = "active"
	FlightPaused     FlightStatus = "paused"
	FlightLanded     FlightStatus = "landed"
	FlightAborted    FlightStatus = "aborted"
)

var flightTransitions = map[FlightStatus][]FlightStatus{
	FlightAuthorized: {FlightActive, FlightAborted},
	FlightActive:     {FlightPaused, FlightLanded, FlightAborted},
	FlightPaused:     {FlightActive, FlightLanded, FlightAborted},
}

// Valid reports whether s is a known flight status
func (s FlightStatus) Valid() bool {
	switch s {
	case FlightAuthorized, FlightActive, FlightPaused, FlightLanded, FlightAborted:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are possible
func (s FlightStatus) Terminal() bool {
	return s == FlightLanded || s == FlightAborted
}

// CanTransitionTo reports whether the flight state machine allows s -> next
func (s FlightStatus) CanTransitionTo(next FlightStatus) bool {
	for _, allowed := range flightTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// HubStatus is the operational state of a hub
type HubStatus string

const (
	HubActive      HubStatus = "active"
	HubInactive    HubStatus = "inactive"
	HubMaintenance HubStatus = "maintenance"
)

// Valid reports whether s is a known hub status
func (s HubStatus) Valid() bool {
	return s == HubActive || s == HubInactive || s == HubMaintenance
}

// Position is a 3D fix. AltitudeAGL is optional.
type Position struct {
	Lat         float64  `json:"lat"`
	Lon         float64  `json:"lon"`
	AltitudeMSL float64  `json:"altitude_msl"`
	AltitudeAGL *float64 `json:"altitude_agl,omitempty"`
}

// Coordinate returns the horizontal component of the position
func (p Position) Coordinate() physics.Coordinate {
	return physics.Coordinate{Lat: p.Lat, Lon: p.Lon}
}

func (p Position) clone() Position {
	if p.AltitudeAGL != nil {
		agl := *p.AltitudeAGL
		p.AltitudeAGL = &agl
	}
	return p
}

// Attitude in degrees
type Attitude struct {
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

// TelemetryPoint is a single timestamped state report from a drone
type TelemetryPoint struct {
	FlightID        string    `json:"flight_id"`
	DroneID         string    `json:"drone_id"`
	Timestamp       time.Time `json:"timestamp"`
	Position        Position  `json:"position"`
	GroundSpeed     float64   `json:"ground_speed"`   // m/s
	VerticalSpeed   float64   `json:"vertical_speed"` // m/s, positive up
	Heading         float64   `json:"heading"`        // degrees true
	MagneticHeading *float64  `json:"magnetic_heading,omitempty"`
	Attitude        Attitude  `json:"attitude"`
	BatteryLevel    float64   `json:"battery_level"`   // percent
	SignalStrength  float64   `json:"signal_strength"` // dBm
	GPSSatellites   int       `json:"gps_satellites"`
	FlightMode      string    `json:"flight_mode,omitempty"`
	SystemStatus    string    `json:"system_status,omitempty"`
	Warnings        []string  `json:"warnings,omitempty"`
	Errors          []string  `json:"errors,omitempty"`
}

// Clone returns a deep copy of the point
func (t TelemetryPoint) Clone() TelemetryPoint {
	t.Position = t.Position.clone()
	if t.MagneticHeading != nil {
		h := *t.MagneticHeading
		t.MagneticHeading = &h
	}
	if t.Warnings != nil {
		t.Warnings = append([]string(nil), t.Warnings...)
	}
	if t.Errors != nil {
		t.Errors = append([]string(nil), t.Errors...)
	}
	return t
}

// Drone is a registered aircraft
type Drone struct {
	ID              string      `json:"id"`
	Name            string      `json:"name,omitempty"`
	HubID           string      `json:"hub_id,omitempty"`
	Status          DroneStatus `json:"status"`
	Position        *Position   `json:"position,omitempty"`
	LastTelemetryAt *time.Time  `json:"last_telemetry_at,omitempty"`
	RegisteredAt    time.Time   `json:"registered_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// Clone returns a deep copy of the drone
func (d Drone) Clone() Drone {
	if d.Position != nil {
		p := d.Position.clone()
		d.Position = &p
	}
	if d.LastTelemetryAt != nil {
		t := *d.LastTelemetryAt
		d.LastTelemetryAt = &t
	}
	return d
}

// Flight is an authorized flight of one drone
type Flight struct {
	ID           string          `json:"id"`
	FlightNumber string          `json:"flight_number"`
	DroneID      string          `json:"drone_id"`
	HubID        string          `json:"hub_id,omitempty"`
	Status       FlightStatus    `json:"status"`
	Type         string          `json:"type"`
	StartTime    time.Time       `json:"start_time"`
	EndTime      *time.Time      `json:"end_time,omitempty"`
	Current      *TelemetryPoint `json:"current,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Clone returns a deep copy of the flight
func (f Flight) Clone() Flight {
	if f.EndTime != nil {
		t := *f.EndTime
		f.EndTime = &t
	}
	if f.Current != nil {
		c := f.Current.Clone()
		f.Current = &c
	}
	return f
}

// Hub is a base drones launch from and return to
type Hub struct {
	ID        string             `json:"id"`
	Name      string             `json:"name"`
	Location  physics.Coordinate `json:"location"`
	Status    HubStatus          `json:"status"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// Clone returns a copy of the hub
func (h Hub) Clone() Hub {
	return h
}
