package conflict

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	domainerrors "github.com/yegors/co-utm/internal/errors"
	"github.com/yegors/co-utm/internal/metrics"
	"github.com/yegors/co-utm/internal/physics"
	"github.com/yegors/co-utm/internal/registry"
	"github.com/yegors/co-utm/internal/subscriptions"
	"github.com/yegors/co-utm/pkg/logger"
)

// Tick outcomes, also used as metric labels
const (
	TickOK      = "ok"
	TickSkipped = "skipped"
)

// FlightSource supplies the active flights for a tick
type FlightSource interface {
	ActiveFlights() []registry.Flight
}

// ZoneSource supplies the restricted zones for a tick
type ZoneSource interface {
	ActiveRestricted() []AirspaceZone
}

// AuditSink receives conflicts when they are created, acknowledged and resolved.
// Implementations must not block.
type AuditSink interface {
	RecordConflict(c Conflict)
}

// Config holds detection thresholds
type Config struct {
	Interval              time.Duration
	HorizontalSeparationM float64
	VerticalSeparationM   float64
	ZoneBufferM           float64
	ResolvedRetention     int
}

// Detector evaluates active flights pairwise and against restricted zones on
// a fixed cadence. Ticks never overlap; a tick that finds the previous one
// still running is skipped.
type Detector struct {
	config    Config
	flights   FlightSource
	zones     ZoneSource
	publisher subscriptions.Publisher
	audit     AuditSink
	metrics   *metrics.Registry
	logger    *logger.Logger
	now       func() time.Time

	running atomic.Bool

	mu       sync.RWMutex
	open     map[string]*Conflict // keyed by Conflict.Key
	byID     map[string]*Conflict // open and retained resolved
	resolved []string             // resolved ids, oldest first

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Option configures a Detector
type Option func(*Detector)

func WithPublisher(p subscriptions.Publisher) Option {
	return func(d *Detector) { d.publisher = p }
}

func WithAudit(a AuditSink) Option {
	return func(d *Detector) { d.audit = a }
}

func WithMetrics(m *metrics.Registry) Option {
	return func(d *Detector) { d.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(d *Detector) { d.now = now }
}

// NewDetector creates a detector reading flights and zones from the given sources
func NewDetector(cfg Config, flights FlightSource, zones ZoneSource, log *logger.Logger, opts ...Option) *Detector {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.ResolvedRetention <= 0 {
		cfg.ResolvedRetention = 1000
	}
	d := &Detector{
		config:  cfg,
		flights: flights,
		zones:   zones,
		logger:  log.Named("conflict"),
		now:     func() time.Time { return time.Now().UTC() },
		open:    make(map[string]*Conflict),
		byID:    make(map[string]*Conflict),
		stopCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start launches the evaluation schedule
func (d *Detector) Start(ctx context.Context) error {
	d.logger.Info("Starting conflict detector",
		logger.Duration("interval", d.config.Interval),
		logger.Float64("horizontal_separation_m", d.config.HorizontalSeparationM),
		logger.Float64("vertical_separation_m", d.config.VerticalSeparationM))

	d.wg.Add(1)
	go d.loop(ctx)
	return nil
}

// Stop ends the schedule and waits for any running tick
func (d *Detector) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopCh)
	})
	d.wg.Wait()
}

func (d *Detector) loop(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// detached so an overrunning tick is seen by the next one's guard
			d.wg.Add(1)
			go func() {
				defer d.wg.Done()
				d.Tick(ctx)
			}()
		case <-d.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

type violation struct {
	key       string
	kind      Type
	severity  Severity
	flightIDs []string
	zoneID    string
	location  physics.Coordinate
	horizM    float64
	vertM     float64
}

// Tick runs one evaluation. It returns false if another tick was still
// running or ctx is done.
func (d *Detector) Tick(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	if !d.running.CompareAndSwap(false, true) {
		d.metrics.ConflictTick(TickSkipped, 0)
		d.logger.Warn("Conflict tick skipped, previous tick still running",
			logger.Duration("interval", d.config.Interval))
		return false
	}
	defer d.running.Store(false)

	start := time.Now()
	flights := positioned(d.flights.ActiveFlights())
	var zones []AirspaceZone
	if d.zones != nil {
		zones = d.zones.ActiveRestricted()
	}

	found := make(map[string]violation)
	for _, v := range d.separationViolations(flights) {
		found[v.key] = v
	}
	for _, v := range d.zoneViolations(flights, zones) {
		found[v.key] = v
	}
	alerts, resolved, created := d.reconcile(found)

	for _, c := range alerts {
		subscriptions.PublishAll(d.publisher, subscriptions.EventConflictAlert, c, flightTopics(c)...)
	}
	for _, c := range resolved {
		subscriptions.PublishAll(d.publisher, subscriptions.EventConflictResolved, c, flightTopics(c)...)
		d.record(c)
		d.logger.Info("Conflict resolved",
			logger.String("conflict_id", c.ID),
			logger.String("key", c.Key))
	}
	for _, c := range created {
		d.record(c)
		d.logger.Warn("Conflict detected",
			logger.String("conflict_id", c.ID),
			logger.String("type", string(c.Type)),
			logger.String("severity", string(c.Severity)),
			logger.Strings("flights", c.FlightIDs),
			logger.String("zone_id", c.ZoneID))
	}

	d.metrics.SetConflictsOpen(d.ActiveCount())
	d.metrics.ConflictTick(TickOK, time.Since(start).Seconds())
	return true
}

// positioned drops flights with no telemetry yet
func positioned(flights []registry.Flight) []registry.Flight {
	out := flights[:0]
	for _, f := range flights {
		if f.Current != nil {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (d *Detector) separationViolations(flights []registry.Flight) []violation {
	var out []violation
	for i := 0; i < len(flights); i++ {
		a := flights[i]
		pa := a.Current.Position
		for j := i + 1; j < len(flights); j++ {
			b := flights[j]
			pb := b.Current.Position

			horiz := physics.Distance(pa.Coordinate(), pb.Coordinate())
			if horiz >= d.config.HorizontalSeparationM {
				continue
			}
			vert := math.Abs(pa.AltitudeMSL - pb.AltitudeMSL)
			if vert >= d.config.VerticalSeparationM {
				continue
			}
			out = append(out, violation{
				key:       separationKey(a.ID, b.ID),
				kind:      TypeSeparation,
				severity:  separationSeverity(horiz/d.config.HorizontalSeparationM, vert/d.config.VerticalSeparationM),
				flightIDs: []string{a.ID, b.ID},
				location: physics.Coordinate{
					Lat: (pa.Lat + pb.Lat) / 2,
					Lon: (pa.Lon + pb.Lon) / 2,
				},
				horizM: horiz,
				vertM:  vert,
			})
		}
	}
	return out
}

func (d *Detector) zoneViolations(flights []registry.Flight, zones []AirspaceZone) []violation {
	var out []violation
	for _, f := range flights {
		pos := f.Current.Position
		c := pos.Coordinate()
		for _, z := range zones {
			if !z.InBand(pos.AltitudeMSL) {
				continue
			}
			v := violation{
				key:       zoneKey(z.ID, f.ID),
				flightIDs: []string{f.ID},
				zoneID:    z.ID,
				location:  c,
			}
			if physics.PointInPolygon(c, z.Boundary) {
				v.kind = TypeZoneIncursion
				v.severity = SeverityCritical
				out = append(out, v)
				continue
			}
			if d.config.ZoneBufferM <= 0 {
				continue
			}
			dist := physics.DistanceToPolygonM(c, z.Boundary)
			if dist > d.config.ZoneBufferM {
				continue
			}
			v.kind = TypeZoneProximity
			v.horizM = dist
			v.severity = SeverityAdvisory
			if dist <= d.config.ZoneBufferM/2 {
				v.severity = SeverityWarning
			}
			out = append(out, v)
		}
	}
	return out
}

// reconcile merges one tick's violations into the open set. Returns the
// conflicts to alert on, those that resolved and those newly created.
func (d *Detector) reconcile(found map[string]violation) (alerts, resolved, created []Conflict) {
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	keys := make([]string, 0, len(found))
	for k := range found {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		v := found[key]
		c, ok := d.open[key]
		if !ok {
			c = &Conflict{
				ID:         uuid.NewString(),
				Key:        key,
				Status:     StatusDetected,
				FlightIDs:  v.flightIDs,
				ZoneID:     v.zoneID,
				DetectedAt: now,
			}
			d.open[key] = c
			d.byID[c.ID] = c
		}
		c.Type = v.kind
		c.Severity = v.severity
		c.Location = v.location
		c.HorizontalDistanceM = v.horizM
		c.VerticalDistanceM = v.vertM
		c.LastSeenAt = now

		alerts = append(alerts, c.Clone())
		if !ok {
			created = append(created, c.Clone())
		}
	}

	for key, c := range d.open {
		if _, still := found[key]; still {
			continue
		}
		resolvedAt := now
		c.Status = StatusResolved
		c.ResolvedAt = &resolvedAt
		delete(d.open, key)
		d.resolved = append(d.resolved, c.ID)
		resolved = append(resolved, c.Clone())
	}

	for len(d.resolved) > d.config.ResolvedRetention {
		delete(d.byID, d.resolved[0])
		d.resolved = d.resolved[1:]
	}
	return alerts, resolved, created
}

// Acknowledge marks an open conflict as seen by an operator. Acknowledging
// twice is a no-op; resolved conflicts cannot be acknowledged.
func (d *Detector) Acknowledge(id string) (Conflict, error) {
	d.mu.Lock()
	c, ok := d.byID[id]
	if !ok {
		d.mu.Unlock()
		return Conflict{}, domainerrors.ConflictNotFound(id)
	}
	switch c.Status {
	case StatusResolved:
		d.mu.Unlock()
		return Conflict{}, domainerrors.ConflictInvalidTransition(string(c.Status), string(StatusAcknowledged))
	case StatusAcknowledged:
		out := c.Clone()
		d.mu.Unlock()
		return out, nil
	}
	now := d.now()
	c.Status = StatusAcknowledged
	c.AcknowledgedAt = &now
	out := c.Clone()
	d.mu.Unlock()

	d.record(out)
	d.logger.Info("Conflict acknowledged", logger.String("conflict_id", id))
	return out, nil
}

// Get returns an open or retained conflict
func (d *Detector) Get(id string) (Conflict, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.byID[id]
	if !ok {
		return Conflict{}, false
	}
	return c.Clone(), true
}

// OpenConflicts returns every non-resolved conflict, oldest first
func (d *Detector) OpenConflicts() []Conflict {
	d.mu.RLock()
	out := make([]Conflict, 0, len(d.open))
	for _, c := range d.open {
		out = append(out, c.Clone())
	}
	d.mu.RUnlock()
	sortConflicts(out)
	return out
}

// History returns open conflicts and, if asked, retained resolved ones
func (d *Detector) History(includeResolved bool) []Conflict {
	if !includeResolved {
		return d.OpenConflicts()
	}
	d.mu.RLock()
	out := make([]Conflict, 0, len(d.byID))
	for _, c := range d.byID {
		out = append(out, c.Clone())
	}
	d.mu.RUnlock()
	sortConflicts(out)
	return out
}

// ActiveCount returns the number of non-resolved conflicts
func (d *Detector) ActiveCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.open)
}

func (d *Detector) record(c Conflict) {
	if d.audit != nil {
		d.audit.RecordConflict(c)
	}
}

func sortConflicts(cs []Conflict) {
	sort.Slice(cs, func(i, j int) bool {
		if !cs[i].DetectedAt.Equal(cs[j].DetectedAt) {
			return cs[i].DetectedAt.Before(cs[j].DetectedAt)
		}
		return cs[i].Key < cs[j].Key
	})
}

// separationKey is stable regardless of argument order
func separationKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return fmt.Sprintf("sep:%s|%s", a, b)
}

func zoneKey(zoneID, flightID string) string {
	return fmt.Sprintf("zone:%s:%s", zoneID, flightID)
}

// separationSeverity grades a violation by how deep inside both minima the
// pair is; each ratio is distance over minimum, so below 1
func separationSeverity(horizRatio, vertRatio float64) Severity {
	r := math.Max(horizRatio, vertRatio)
	switch {
	case r < 1.0/3:
		return SeverityCritical
	case r < 2.0/3:
		return SeverityWarning
	default:
		return SeverityAdvisory
	}
}

func flightTopics(c Conflict) []subscriptions.Topic {
	topics := make([]subscriptions.Topic, 0, len(c.FlightIDs))
	for _, id := range c.FlightIDs {
		topics = append(topics, subscriptions.FlightTopic(id))
	}
	return topics
}
