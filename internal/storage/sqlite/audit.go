package sqlite

import (
	"context"
	"sync"
	"time"

	"github.com/yegors/co-utm/internal/commands"
	"github.com/yegors/co-utm/internal/conflict"
	"github.com/yegors/co-utm/internal/metrics"
	"github.com/yegors/co-utm/pkg/logger"
)

// Import logger functions
var (
	String = logger.String
	Error  = logger.Error
)

type auditRecord struct {
	command  *commands.Command
	conflict *conflict.Conflict
}

// AuditWriter persists command and conflict changes off the hot path. Records
// are queued without blocking and written in order by a single worker; when
// the queue is full new records are dropped and counted.
type AuditWriter struct {
	db      *DB
	queue   chan auditRecord
	metrics *metrics.Registry
	logger  *logger.Logger

	mu     sync.RWMutex
	closed bool

	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewAuditWriter creates a writer with the given queue capacity
func NewAuditWriter(db *DB, queueSize int, m *metrics.Registry, log *logger.Logger) *AuditWriter {
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &AuditWriter{
		db:      db,
		queue:   make(chan auditRecord, queueSize),
		metrics: m,
		logger:  log.Named("audit"),
	}
}

// RecordCommand queues a command snapshot
func (w *AuditWriter) RecordCommand(c commands.Command) {
	c = c.Clone()
	w.enqueue(auditRecord{command: &c})
}

// RecordConflict queues a conflict snapshot
func (w *AuditWriter) RecordConflict(c conflict.Conflict) {
	c = c.Clone()
	w.enqueue(auditRecord{conflict: &c})
}

func (w *AuditWriter) enqueue(r auditRecord) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return
	}
	select {
	case w.queue <- r:
	default:
		w.metrics.AuditRecordDropped()
		w.logger.Warn("Audit queue full, record dropped")
	}
}

// Start launches the writer worker
func (w *AuditWriter) Start() {
	w.wg.Add(1)
	go w.run()
}

// Stop closes the queue and waits until every queued record is written
func (w *AuditWriter) Stop() {
	w.stopOnce.Do(func() {
		w.mu.Lock()
		w.closed = true
		close(w.queue)
		w.mu.Unlock()
	})
	w.wg.Wait()
}

func (w *AuditWriter) run() {
	defer w.wg.Done()
	for r := range w.queue {
		w.write(r)
	}
}

func (w *AuditWriter) write(r auditRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var err error
	switch {
	case r.command != nil:
		err = w.db.SaveCommand(ctx, *r.command)
	case r.conflict != nil:
		err = w.db.SaveConflict(ctx, *r.conflict)
	}
	if err != nil {
		w.logger.Error("Failed to write audit record", Error(err))
	}
}
