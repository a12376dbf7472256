package telemetry

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	domainerrors "github.com/yegors/co-utm/internal/errors"
	"github.com/yegors/co-utm/internal/metrics"
	"github.com/yegors/co-utm/internal/physics"
	"github.com/yegors/co-utm/internal/registry"
	"github.com/yegors/co-utm/internal/subscriptions"
	"github.com/yegors/co-utm/pkg/logger"
)

// Ingest outcomes, also used as metric labels
const (
	ResultAccepted = "accepted"
	ResultStale    = "stale"
	ResultRejected = "rejected"
	ResultInvalid  = "invalid"
)

// LocationMirror receives every point that became a drone's current position
type LocationMirror interface {
	Set(ctx context.Context, point registry.TelemetryPoint) error
}

// Config controls ingest behaviour
type Config struct {
	HistorySize              int
	SignalLostTimeout        time.Duration // 0 disables the watchdog
	MagneticHeading          bool
	UnknownFlightLogInterval time.Duration
}

// Update is the payload of telemetry_update events. Authoritative is false
// for points that did not become the flight's current snapshot: late
// arrivals and points for unknown or finished flights.
type Update struct {
	registry.TelemetryPoint
	Authoritative bool `json:"authoritative"`
}

// Result describes what happened to an ingested point
type Result struct {
	Outcome string
	Flight  registry.Flight
}

// Service accepts telemetry, updates the registry and fans points out
type Service struct {
	config    Config
	store     *registry.Store
	publisher subscriptions.Publisher
	mirror    LocationMirror
	metrics   *metrics.Registry
	logger    *logger.Logger

	historyMu sync.RWMutex
	history   map[string]*ring

	// one warning per unknown flight per interval
	warned *cache.Cache

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	now      func() time.Time
}

// Option configures a Service
type Option func(*Service)

func WithPublisher(p subscriptions.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

func WithMirror(m LocationMirror) Option {
	return func(s *Service) { s.mirror = m }
}

func WithMetrics(m *metrics.Registry) Option {
	return func(s *Service) { s.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a new telemetry service
func NewService(cfg Config, store *registry.Store, log *logger.Logger, opts ...Option) *Service {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 300
	}
	if cfg.UnknownFlightLogInterval <= 0 {
		cfg.UnknownFlightLogInterval = 30 * time.Second
	}
	s := &Service{
		config:  cfg,
		store:   store,
		logger:  log.Named("telemetry"),
		history: make(map[string]*ring),
		warned:  cache.New(cfg.UnknownFlightLogInterval, 2*cfg.UnknownFlightLogInterval),
		stopCh:  make(chan struct{}),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ingest validates a point, applies it to the registry and publishes a
// telemetry_update on the flight topic. Points for unknown or finished
// flights are still published, marked non-authoritative, and the call fails
// with UNKNOWN_OR_INACTIVE_FLIGHT.
func (s *Service) Ingest(ctx context.Context, point registry.TelemetryPoint) (Result, error) {
	point.FlightID = strings.TrimSpace(point.FlightID)
	if err := validate(point); err != nil {
		s.metrics.TelemetryResult(ResultInvalid)
		return Result{Outcome: ResultInvalid}, err
	}
	if point.Timestamp.IsZero() {
		point.Timestamp = s.now()
	}
	if s.config.MagneticHeading && point.MagneticHeading == nil {
		mh := physics.MagneticHeading(point.Heading, point.Position.Lat, point.Position.Lon,
			point.Position.AltitudeMSL, point.Timestamp)
		point.MagneticHeading = &mh
	}

	applied, err := s.store.ApplyTelemetry(point)
	if err != nil {
		if !domainerrors.HasCode(err, domainerrors.ErrUnknownOrInactiveFlight) {
			s.metrics.TelemetryResult(ResultInvalid)
			return Result{Outcome: ResultInvalid}, err
		}
		s.metrics.TelemetryResult(ResultRejected)
		s.warnUnknownFlight(point.FlightID)
		s.publish(point, false)
		return Result{Outcome: ResultRejected}, err
	}

	point.DroneID = applied.Flight.DroneID
	if !applied.Current {
		s.metrics.TelemetryResult(ResultStale)
		s.publish(point, false)
		return Result{Outcome: ResultStale, Flight: applied.Flight}, nil
	}

	s.ring(point.FlightID).add(point.Clone())
	if s.mirror != nil {
		if err := s.mirror.Set(ctx, point); err != nil {
			s.logger.Warn("Failed to mirror drone location",
				logger.String("drone_id", point.DroneID),
				logger.Error(err))
		}
	}

	s.metrics.TelemetryResult(ResultAccepted)
	s.publish(point, true)
	return Result{Outcome: ResultAccepted, Flight: applied.Flight}, nil
}

// History returns up to limit recent current points for a flight, newest first
func (s *Service) History(flightID string, limit int) []registry.TelemetryPoint {
	s.historyMu.RLock()
	r, ok := s.history[flightID]
	s.historyMu.RUnlock()
	if !ok {
		return []registry.TelemetryPoint{}
	}
	return r.latest(limit)
}

// ForgetFlight drops the history kept for a flight
func (s *Service) ForgetFlight(flightID string) {
	s.historyMu.Lock()
	delete(s.history, flightID)
	s.historyMu.Unlock()
}

func (s *Service) ring(flightID string) *ring {
	s.historyMu.RLock()
	r, ok := s.history[flightID]
	s.historyMu.RUnlock()
	if ok {
		return r
	}

	s.historyMu.Lock()
	defer s.historyMu.Unlock()
	if r, ok = s.history[flightID]; !ok {
		r = newRing(s.config.HistorySize)
		s.history[flightID] = r
	}
	return r
}

func (s *Service) publish(point registry.TelemetryPoint, authoritative bool) {
	subscriptions.PublishAll(s.publisher, subscriptions.EventTelemetryUpdate,
		Update{TelemetryPoint: point, Authoritative: authoritative},
		subscriptions.FlightTopic(point.FlightID))
}

func (s *Service) warnUnknownFlight(flightID string) {
	if err := s.warned.Add(flightID, struct{}{}, cache.DefaultExpiration); err != nil {
		return
	}
	s.logger.Warn("Telemetry for unknown or inactive flight dropped",
		logger.String("flight_id", flightID),
		logger.Duration("suppressed_for", s.config.UnknownFlightLogInterval))
}

func validate(p registry.TelemetryPoint) error {
	if p.FlightID == "" {
		return domainerrors.NewValidation("flight id is required")
	}
	if !p.Position.Coordinate().Valid() {
		return domainerrors.NewValidation("position is out of range")
	}
	for _, v := range []float64{p.Position.AltitudeMSL, p.GroundSpeed, p.VerticalSpeed, p.Heading} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return domainerrors.NewValidation("telemetry contains non-finite values")
		}
	}
	return nil
}

// Start runs the signal-lost watchdog until Stop or ctx is cancelled
func (s *Service) Start(ctx context.Context) error {
	if s.config.SignalLostTimeout <= 0 {
		s.logger.Info("Signal-lost watchdog disabled")
		return nil
	}
	interval := s.config.SignalLostTimeout / 2
	if interval < time.Second {
		interval = time.Second
	}
	s.logger.Info("Starting telemetry watchdog",
		logger.Duration("timeout", s.config.SignalLostTimeout),
		logger.Duration("interval", interval))

	s.wg.Add(1)
	go s.watchLoop(ctx, interval)
	return nil
}

// Stop stops the watchdog and waits for it to exit
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()
}

func (s *Service) watchLoop(ctx context.Context, interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.CheckSignalLost()
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// CheckSignalLost marks drones silent for longer than the timeout as lost
func (s *Service) CheckSignalLost() []registry.Drone {
	if s.config.SignalLostTimeout <= 0 {
		return nil
	}
	lost := s.store.MarkSilentDronesLost(s.now().Add(-s.config.SignalLostTimeout))
	for _, d := range lost {
		s.logger.Warn("Drone signal lost",
			logger.String("drone_id", d.ID),
			logger.Duration("timeout", s.config.SignalLostTimeout))
	}
	return lost
}
