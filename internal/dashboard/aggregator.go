package dashboard

import (
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/yegors/co-utm/internal/registry"
	"github.com/yegors/co-utm/pkg/logger"
)

// Registry is the read side of the entity registry the dashboard counts
type Registry interface {
	ListFlights(statuses ...registry.FlightStatus) []registry.Flight
	ListHubs() []registry.Hub
	DronesByStatus() map[registry.DroneStatus]int
}

// ConflictCounter reports non-resolved conflicts
type ConflictCounter interface {
	ActiveCount() int
}

// PendingCounter reports commands awaiting completion
type PendingCounter interface {
	PendingCount() int
}

// SubscriberCounter reports live real-time connections
type SubscriberCounter interface {
	ConnectionCount() int
}

// Snapshot is the dashboard summary
type Snapshot struct {
	ActiveFlights    int                          `json:"active_flights"`
	ActiveHubs       int                          `json:"active_hubs"`
	RegisteredDrones int                          `json:"registered_drones"`
	ActiveConflicts  int                          `json:"active_conflicts"`
	PendingCommands  int                          `json:"pending_commands"`
	DronesByStatus   map[registry.DroneStatus]int `json:"drones_by_status"`
	Subscribers      int                          `json:"subscribers"`
	GeneratedAt      time.Time                    `json:"generated_at"`
}

// Aggregator derives summary counters from authoritative state on every
// call. It keeps no counters of its own.
type Aggregator struct {
	registry    Registry
	conflicts   ConflictCounter
	pending     PendingCounter
	subscribers SubscriberCounter
	logger      *logger.Logger
	group       singleflight.Group
	now         func() time.Time
}

// NewAggregator creates an aggregator. conflicts, pending and subscribers may be nil.
func NewAggregator(reg Registry, conflicts ConflictCounter, pending PendingCounter, subscribers SubscriberCounter, log *logger.Logger) *Aggregator {
	return &Aggregator{
		registry:    reg,
		conflicts:   conflicts,
		pending:     pending,
		subscribers: subscribers,
		logger:      log.Named("dashboard"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Snapshot computes the current counts. Concurrent callers share one computation.
func (a *Aggregator) Snapshot() Snapshot {
	v, _, shared := a.group.Do("snapshot", func() (interface{}, error) {
		return a.compute(), nil
	})
	snap := v.(Snapshot)
	if shared {
		// callers must not share the map
		snap.DronesByStatus = copyCounts(snap.DronesByStatus)
	}
	return snap
}

func (a *Aggregator) compute() Snapshot {
	snap := Snapshot{
		ActiveFlights:  len(a.registry.ListFlights(registry.FlightActive)),
		DronesByStatus: a.registry.DronesByStatus(),
		GeneratedAt:    a.now(),
	}
	for _, n := range snap.DronesByStatus {
		snap.RegisteredDrones += n
	}
	for _, h := range a.registry.ListHubs() {
		if h.Status == registry.HubActive {
			snap.ActiveHubs++
		}
	}
	if a.conflicts != nil {
		snap.ActiveConflicts = a.conflicts.ActiveCount()
	}
	if a.pending != nil {
		snap.PendingCommands = a.pending.PendingCount()
	}
	if a.subscribers != nil {
		snap.Subscribers = a.subscribers.ConnectionCount()
	}
	a.logger.Debug("Dashboard snapshot computed",
		logger.Int("active_flights", snap.ActiveFlights),
		logger.Int("active_conflicts", snap.ActiveConflicts))
	return snap
}

func copyCounts(in map[registry.DroneStatus]int) map[registry.DroneStatus]int {
	out := make(map[registry.DroneStatus]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
