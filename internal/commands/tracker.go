package commands

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	domainerrors "github.com/yegors/co-utm/internal/errors"
	"github.com/yegors/co-utm/internal/metrics"
	"github.com/yegors/co-utm/internal/registry"
	"github.com/yegors/co-utm/internal/subscriptions"
	"github.com/yegors/co-utm/pkg/logger"
)

// Registry is the part of the entity registry the tracker needs
type Registry interface {
	GetDrone(id string) (registry.Drone, bool)
	GetFlight(id string) (registry.Flight, bool)
	SetDroneStatus(id string, status registry.DroneStatus) (registry.Drone, error)
}

// AuditSink receives a copy of every command after each change. Implementations
// must not block.
type AuditSink interface {
	RecordCommand(cmd Command)
}

// Config controls per-drone issue throttling
type Config struct {
	IssueRatePerSecond float64 // 0 disables throttling
	IssueBurst         int
}

type entry struct {
	mu  sync.Mutex
	cmd Command
}

// Tracker owns the state machine of every issued command. Each command is
// locked individually; the index lock is only held to add or find entries.
type Tracker struct {
	mu      sync.RWMutex
	byID    map[string]*entry
	order   []*entry // issuance order
	byDrone map[string][]*entry

	pendingMu sync.Mutex
	pending   map[string]struct{}

	limitersMu sync.Mutex
	limiters   map[string]*rate.Limiter

	config    Config
	registry  Registry
	publisher subscriptions.Publisher
	audit     AuditSink
	metrics   *metrics.Registry
	logger    *logger.Logger
	now       func() time.Time
}

// Option configures a Tracker
type Option func(*Tracker)

func WithPublisher(p subscriptions.Publisher) Option {
	return func(t *Tracker) { t.publisher = p }
}

func WithAudit(a AuditSink) Option {
	return func(t *Tracker) { t.audit = a }
}

func WithMetrics(m *metrics.Registry) Option {
	return func(t *Tracker) { t.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// NewTracker creates a command tracker bound to the given registry
func NewTracker(cfg Config, reg Registry, log *logger.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		byID:     make(map[string]*entry),
		byDrone:  make(map[string][]*entry),
		pending:  make(map[string]struct{}),
		limiters: make(map[string]*rate.Limiter),
		config:   cfg,
		registry: reg,
		logger:   log.Named("commands"),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Issue creates a new pending command and publishes command_created on the
// drone topic and, when present, the flight topic
func (t *Tracker) Issue(droneID, flightID string, cmdType Type, payload json.RawMessage) (Command, error) {
	droneID = strings.TrimSpace(droneID)
	flightID = strings.TrimSpace(flightID)

	if droneID == "" {
		return Command{}, domainerrors.NewValidation("drone id is required")
	}
	if !cmdType.Valid() {
		return Command{}, domainerrors.NewValidation("unknown command type: " + string(cmdType))
	}
	if len(payload) > 0 && !json.Valid(payload) {
		return Command{}, domainerrors.NewValidation("payload must be valid JSON")
	}
	if _, ok := t.registry.GetDrone(droneID); !ok {
		return Command{}, domainerrors.DroneNotFound(droneID)
	}
	if flightID != "" {
		flight, ok := t.registry.GetFlight(flightID)
		if !ok {
			return Command{}, domainerrors.FlightNotFound(flightID)
		}
		if flight.DroneID != droneID {
			return Command{}, domainerrors.NewValidation("flight " + flightID + " is not flown by drone " + droneID)
		}
	}
	if !t.allow(droneID) {
		return Command{}, domainerrors.CommandRateLimited(droneID)
	}

	now := t.now()
	cmd := Command{
		ID:        uuid.NewString(),
		DroneID:   droneID,
		FlightID:  flightID,
		Type:      cmdType,
		Status:    StatusPending,
		IssuedAt:  now,
		UpdatedAt: now,
	}
	if len(payload) > 0 {
		cmd.Payload = append(json.RawMessage(nil), payload...)
	}

	e := &entry{cmd: cmd}
	e.mu.Lock()

	t.mu.Lock()
	t.byID[cmd.ID] = e
	t.order = append(t.order, e)
	t.byDrone[droneID] = append(t.byDrone[droneID], e)
	t.mu.Unlock()

	t.markPending(cmd.ID, true)
	subscriptions.PublishAll(t.publisher, subscriptions.EventCommandCreated, cmd.Clone(),
		subscriptions.DroneTopic(droneID), flightTopic(flightID))
	t.record(cmd)
	e.mu.Unlock()

	t.metrics.CommandIssued(string(cmdType))
	t.logger.Info("Command issued",
		logger.String("command_id", cmd.ID),
		logger.String("drone_id", droneID),
		logger.String("flight_id", flightID),
		logger.String("type", string(cmdType)))

	return cmd.Clone(), nil
}

// UpdateStatus applies a state machine transition. An invalid transition
// fails with INVALID_TRANSITION and leaves the command untouched.
func (t *Tracker) UpdateStatus(id string, status Status, message string) (Command, error) {
	if !status.Valid() {
		return Command{}, domainerrors.NewValidation("unknown command status: " + string(status))
	}
	e, ok := t.lookup(id)
	if !ok {
		return Command{}, domainerrors.CommandNotFound(id)
	}

	e.mu.Lock()
	from := e.cmd.Status
	if !from.CanTransitionTo(status) {
		e.mu.Unlock()
		return Command{}, domainerrors.CommandInvalidTransition(string(from), string(status))
	}

	now := t.now()
	e.cmd.Status = status
	e.cmd.UpdatedAt = now
	if message != "" {
		e.cmd.Message = message
	}
	if status == StatusAcknowledged {
		e.cmd.AcknowledgedAt = &now
	}
	if status.Terminal() {
		e.cmd.CompletedAt = &now
	}
	cmd := e.cmd.Clone()

	t.markPending(cmd.ID, status.Pending())
	// Published and recorded under the command lock so consumers see
	// transitions in order.
	subscriptions.PublishAll(t.publisher, subscriptions.EventCommandStatusChanged,
		StatusChange{Command: cmd.Clone(), From: from},
		subscriptions.DroneTopic(cmd.DroneID), flightTopic(cmd.FlightID))
	t.record(cmd)
	e.mu.Unlock()

	t.metrics.CommandTransition(string(status))
	t.logger.Debug("Command status changed",
		logger.String("command_id", cmd.ID),
		logger.String("from", string(from)),
		logger.String("to", string(status)))

	t.applyDroneEffect(cmd)
	return cmd, nil
}

// Get returns a copy of one command
func (t *Tracker) Get(id string) (Command, bool) {
	e, ok := t.lookup(id)
	if !ok {
		return Command{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cmd.Clone(), true
}

// History returns up to limit of the most recently issued commands, newest first.
// A non-positive limit returns everything.
func (t *Tracker) History(limit int) []Command {
	t.mu.RLock()
	entries := newestFirst(t.order, limit)
	t.mu.RUnlock()
	return copyAll(entries)
}

// ForDrone returns one drone's commands, newest first
func (t *Tracker) ForDrone(droneID string, limit int) []Command {
	t.mu.RLock()
	entries := newestFirst(t.byDrone[droneID], limit)
	t.mu.RUnlock()
	return copyAll(entries)
}

// PendingCount returns the number of commands in pending, sent or executing.
// The set is maintained on every transition rather than recomputed.
func (t *Tracker) PendingCount() int {
	t.pendingMu.Lock()
	defer t.pendingMu.Unlock()
	return len(t.pending)
}

// Count returns the number of commands ever issued
func (t *Tracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.order)
}

func (t *Tracker) lookup(id string) (*entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.byID[id]
	return e, ok
}

func (t *Tracker) markPending(id string, pending bool) {
	t.pendingMu.Lock()
	if pending {
		t.pending[id] = struct{}{}
	} else {
		delete(t.pending, id)
	}
	n := len(t.pending)
	t.pendingMu.Unlock()
	t.metrics.SetCommandsPending(n)
}

func (t *Tracker) allow(droneID string) bool {
	if t.config.IssueRatePerSecond <= 0 {
		return true
	}
	t.limitersMu.Lock()
	limiter, ok := t.limiters[droneID]
	if !ok {
		burst := t.config.IssueBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(t.config.IssueRatePerSecond), burst)
		t.limiters[droneID] = limiter
	}
	t.limitersMu.Unlock()
	return limiter.AllowN(t.now(), 1)
}

func (t *Tracker) record(cmd Command) {
	if t.audit != nil {
		t.audit.RecordCommand(cmd)
	}
}

// applyDroneEffect moves the drone's status along with commands that change
// what it is physically doing
func (t *Tracker) applyDroneEffect(cmd Command) {
	if t.registry == nil {
		return
	}
	var target registry.DroneStatus
	switch {
	case cmd.Type == TypeTakeoff && cmd.Status == StatusCompleted:
		target = registry.DroneAirborne
	case (cmd.Type == TypeLand || cmd.Type == TypeEmergencyStop) && cmd.Status == StatusCompleted:
		target = registry.DroneGrounded
	case cmd.Type == TypeReturnToLaunch && cmd.Status == StatusExecuting:
		target = registry.DroneReturning
	case cmd.Type == TypeReturnToLaunch && cmd.Status == StatusCompleted:
		target = registry.DroneGrounded
	default:
		return
	}
	if _, err := t.registry.SetDroneStatus(cmd.DroneID, target); err != nil {
		t.logger.Warn("Failed to apply command effect to drone",
			logger.String("command_id", cmd.ID),
			logger.String("drone_id", cmd.DroneID),
			logger.Error(err))
	}
}

func newestFirst(entries []*entry, limit int) []*entry {
	n := len(entries)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]*entry, 0, n)
	for i := len(entries) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, entries[i])
	}
	return out
}

func copyAll(entries []*entry) []Command {
	out := make([]Command, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.cmd.Clone())
		e.mu.Unlock()
	}
	return out
}

func flightTopic(id string) subscriptions.Topic {
	if id == "" {
		return ""
	}
	return subscriptions.FlightTopic(id)
}
