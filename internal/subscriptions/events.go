package subscriptions

import (
	"fmt"
	"strings"
	"time"
)

// Topic names a channel of events about one entity: flight:ID, hub:ID or drone:ID
type Topic string

const (
	TopicFlight = "flight"
	TopicHub    = "hub"
	TopicDrone  = "drone"
)

// FlightTopic returns the topic for a flight
func FlightTopic(id string) Topic { return Topic(TopicFlight + ":" + id) }

// HubTopic returns the topic for a hub
func HubTopic(id string) Topic { return Topic(TopicHub + ":" + id) }

// DroneTopic returns the topic for a drone
func DroneTopic(id string) Topic { return Topic(TopicDrone + ":" + id) }

// ParseTopic validates a client-supplied topic string
func ParseTopic(s string) (Topic, error) {
	kind, id, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || id == "" {
		return "", fmt.Errorf("invalid topic %q: expected <kind>:<id>", s)
	}
	switch kind {
	case TopicFlight, TopicHub, TopicDrone:
		return Topic(kind + ":" + id), nil
	default:
		return "", fmt.Errorf("invalid topic kind %q: must be flight, hub or drone", kind)
	}
}

// Kind returns the entity kind part of the topic
func (t Topic) Kind() string {
	kind, _, _ := strings.Cut(string(t), ":")
	return kind
}

// ID returns the entity id part of the topic
func (t Topic) ID() string {
	_, id, _ := strings.Cut(string(t), ":")
	return id
}

// EventKind tags an outbound event
type EventKind string

const (
	EventCommandCreated       EventKind = "command_created"
	EventCommandStatusChanged EventKind = "command_status_changed"
	EventTelemetryUpdate      EventKind = "telemetry_update"
	EventConflictAlert        EventKind = "conflict_alert"
	EventConflictResolved     EventKind = "conflict_resolved"
	EventFlightStatusChanged  EventKind = "flight_status_changed"
	EventDroneStatusChanged   EventKind = "drone_status_changed"
)

// Event is delivered to every connection subscribed to its topic
type Event struct {
	Kind      EventKind `json:"type"`
	Topic     Topic     `json:"topic"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// NewEvent builds an event stamped with the current time
func NewEvent(kind EventKind, topic Topic, data any) Event {
	return Event{Kind: kind, Topic: topic, Timestamp: time.Now().UTC(), Data: data}
}

// Publisher is the narrow interface producers depend on
type Publisher interface {
	Publish(topic Topic, event Event) int
}

// PublishAll sends the same payload to several topics, stamping each copy
// with its own topic. Empty topics are skipped.
func PublishAll(p Publisher, kind EventKind, data any, topics ...Topic) int {
	if p == nil {
		return 0
	}
	delivered := 0
	now := time.Now().UTC()
	for _, topic := range topics {
		if topic == "" || topic.ID() == "" {
			continue
		}
		delivered += p.Publish(topic, Event{Kind: kind, Topic: topic, Timestamp: now, Data: data})
	}
	return delivered
}
