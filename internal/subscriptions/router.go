package subscriptions

import (
	"sort"
	"sync"
	"sync/atomic"

	domainerrors "github.com/yegors/co-utm/internal/errors"
	"github.com/yegors/co-utm/internal/metrics"
	"github.com/yegors/co-utm/pkg/logger"
)

// Config controls per-connection queueing
type Config struct {
	QueueSize  int
	DropPolicy DropPolicy
}

// Stats is a point-in-time view of the router
type Stats struct {
	Connections   int    `json:"connections"`
	Subscriptions int    `json:"subscriptions"`
	Topics        int    `json:"topics"`
	Overflow      uint64 `json:"overflow"`
}

// Router tracks which connections are subscribed to which topics and
// multiplexes published events onto their queues.
//
// Publish copies the subscriber set under a read lock and enqueues outside
// it, so subscribe/unsubscribe never wait on delivery and delivery never
// waits on a slow consumer.
type Router struct {
	cfg     Config
	logger  *logger.Logger
	metrics *metrics.Registry

	mu            sync.RWMutex
	connections   map[string]*Connection
	topics        map[Topic]map[string]*Connection
	subscriptions int

	overflow atomic.Uint64
}

// NewRouter creates a subscription router
func NewRouter(cfg Config, m *metrics.Registry, log *logger.Logger) *Router {
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 256
	}
	if cfg.DropPolicy == "" {
		cfg.DropPolicy = DropNewest
	}
	return &Router{
		cfg:         cfg,
		logger:      log.Named("subscriptions"),
		metrics:     m,
		connections: make(map[string]*Connection),
		topics:      make(map[Topic]map[string]*Connection),
	}
}

// Register creates the outbound queue for a new connection
func (r *Router) Register(connID string) (*Connection, error) {
	if connID == "" {
		return nil, domainerrors.NewValidation("connection id is required")
	}

	r.mu.Lock()
	if _, exists := r.connections[connID]; exists {
		r.mu.Unlock()
		return nil, domainerrors.NewConflict("connection " + connID + " is already registered")
	}
	conn := newConnection(connID, r.cfg.QueueSize, r.cfg.DropPolicy)
	r.connections[connID] = conn
	count := len(r.connections)
	r.mu.Unlock()

	r.metrics.SetConnections(count)
	r.logger.Debug("Connection registered",
		logger.String("connection_id", connID),
		logger.Int("connection_count", count))
	return conn, nil
}

// Subscribe adds topic to the connection's subscriptions. Subscribing twice
// is a no-op; added reports whether the subscription is new.
func (r *Router) Subscribe(connID string, topic Topic) (added bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.connections[connID]
	if !ok {
		return false, domainerrors.ConnectionNotFound(connID)
	}
	if _, exists := conn.topics[topic]; exists {
		return false, nil
	}

	conn.topics[topic] = struct{}{}
	subs := r.topics[topic]
	if subs == nil {
		subs = make(map[string]*Connection)
		r.topics[topic] = subs
	}
	subs[connID] = conn
	r.subscriptions++
	r.metrics.SetSubscriptions(r.subscriptions)
	return true, nil
}

// Unsubscribe removes topic from the connection's subscriptions. Unknown
// connections and topics never subscribed are no-ops.
func (r *Router) Unsubscribe(connID string, topic Topic) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.connections[connID]
	if !ok {
		return false
	}
	if _, exists := conn.topics[topic]; !exists {
		return false
	}
	r.removeLocked(conn, topic)
	r.metrics.SetSubscriptions(r.subscriptions)
	return true
}

func (r *Router) removeLocked(conn *Connection, topic Topic) {
	delete(conn.topics, topic)
	if subs := r.topics[topic]; subs != nil {
		delete(subs, conn.id)
		if len(subs) == 0 {
			delete(r.topics, topic)
		}
	}
	r.subscriptions--
}

// Publish delivers event to every connection subscribed to topic and
// returns how many accepted it. A full queue drops per the configured
// policy and counts the overflow; it never blocks the caller.
func (r *Router) Publish(topic Topic, event Event) int {
	r.mu.RLock()
	subs := r.topics[topic]
	if len(subs) == 0 {
		r.mu.RUnlock()
		return 0
	}
	targets := make([]*Connection, 0, len(subs))
	for _, conn := range subs {
		targets = append(targets, conn)
	}
	r.mu.RUnlock()

	if event.Topic == "" {
		event.Topic = topic
	}

	delivered := 0
	for _, conn := range targets {
		ok, dropped := conn.enqueue(event)
		if ok {
			delivered++
			r.metrics.EventPublished(string(event.Kind))
		}
		if dropped != nil {
			r.overflow.Add(1)
			r.metrics.EventDropped(string(dropped.Kind))
			r.logger.Debug("Subscriber queue full, event dropped",
				logger.String("connection_id", conn.id),
				logger.String("topic", string(topic)),
				logger.String("dropped_kind", string(dropped.Kind)),
				logger.Uint64("connection_overflow", conn.Overflow()))
		}
	}
	return delivered
}

// DropConnection removes every subscription of the connection and closes
// its queue. Repeated calls are no-ops; removed reports the first call.
func (r *Router) DropConnection(connID string) (removed bool) {
	r.mu.Lock()
	conn, ok := r.connections[connID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	for topic := range conn.topics {
		r.removeLocked(conn, topic)
	}
	delete(r.connections, connID)
	connCount := len(r.connections)
	subCount := r.subscriptions
	r.mu.Unlock()

	conn.close()

	r.metrics.SetConnections(connCount)
	r.metrics.SetSubscriptions(subCount)
	r.logger.Debug("Connection dropped",
		logger.String("connection_id", connID),
		logger.Uint64("overflow", conn.Overflow()),
		logger.Int("connection_count", connCount))
	return true
}

// Connection returns a registered connection
func (r *Router) Connection(connID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.connections[connID]
	return conn, ok
}

// Subscriptions lists the topics a connection is subscribed to, sorted
func (r *Router) Subscriptions(connID string) []Topic {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.connections[connID]
	if !ok {
		return nil
	}
	topics := make([]Topic, 0, len(conn.topics))
	for t := range conn.topics {
		topics = append(topics, t)
	}
	sort.Slice(topics, func(i, j int) bool { return topics[i] < topics[j] })
	return topics
}

// SubscriberCount returns how many connections are subscribed to topic
func (r *Router) SubscriberCount(topic Topic) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.topics[topic])
}

// ConnectionCount returns the number of registered connections
func (r *Router) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

// Stats returns router-wide counters
func (r *Router) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Stats{
		Connections:   len(r.connections),
		Subscriptions: r.subscriptions,
		Topics:        len(r.topics),
		Overflow:      r.overflow.Load(),
	}
}

// Close drops every connection
func (r *Router) Close() {
	r.mu.RLock()
	ids := make([]string, 0, len(r.connections))
	for id := range r.connections {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	for _, id := range ids {
		r.DropConnection(id)
	}
}
