package commands

import (
	"encoding/json"
	"time"
)

// Type is the kind of instruction sent to a drone
type Type string

const (
	TypeTakeoff        Type = "takeoff"
	TypeLand           Type = "land"
	TypeReturnToLaunch Type = "return-to-launch"
	TypeEmergencyStop  Type = "emergency-stop"
	TypePause          Type = "pause"
	TypeHover          Type = "hover"
	TypeResume         Type = "resume"
)

// Valid reports whether t is a known command type
func (t Type) Valid() bool {
	switch t {
	case TypeTakeoff, TypeLand, TypeReturnToLaunch, TypeEmergencyStop, TypePause, TypeHover, TypeResume:
		return true
	}
	return false
}

// Status is the lifecycle state of a command
type Status string

const (
	StatusPending      Status = "pending"
	StatusSent         Status = "sent"
	StatusAcknowledged Status = "acknowledged"
	StatusExecuting    Status = "executing"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusCancelled    Status = "cancelled"
)

var transitions = map[Status][]Status{
	StatusPending:      {StatusSent, StatusFailed, StatusCancelled},
	StatusSent:         {StatusAcknowledged, StatusFailed, StatusCancelled},
	StatusAcknowledged: {StatusExecuting, StatusCompleted, StatusFailed, StatusCancelled},
	StatusExecuting:    {StatusCompleted, StatusFailed, StatusCancelled},
}

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSent, StatusAcknowledged, StatusExecuting,
		StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether s allows no further transitions
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Pending reports whether s counts towards the pending command total
func (s Status) Pending() bool {
	return s == StatusPending || s == StatusSent || s == StatusExecuting
}

// CanTransitionTo reports whether s -> next is allowed
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Command is a single instruction issued to a drone
type Command struct {
	ID             string          `json:"id"`
	DroneID        string          `json:"drone_id"`
	FlightID       string          `json:"flight_id,omitempty"`
	Type           Type            `json:"command_type"`
	Status         Status          `json:"status"`
	Message        string          `json:"message,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	IssuedAt       time.Time       `json:"issued_at"`
	AcknowledgedAt *time.Time      `json:"acknowledged_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Clone returns a deep copy of the command
func (c Command) Clone() Command {
	if c.Payload != nil {
		c.Payload = append(json.RawMessage(nil), c.Payload...)
	}
	if c.AcknowledgedAt != nil {
		t := *c.AcknowledgedAt
		c.AcknowledgedAt = &t
	}
	if c.CompletedAt != nil {
		t := *c.CompletedAt
		c.CompletedAt = &t
	}
	return c
}

// StatusChange is the payload of command_status_changed events
type StatusChange struct {
	Command Command `json:"command"`
	From    Status  `json:"from"`
}
