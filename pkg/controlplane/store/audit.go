package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/marmos91/clustergate/internal/logger"
	"github.com/marmos91/clustergate/pkg/controlplane/models"
)

var errDuplicateEvent = errors.New("admission event already recorded")

// AuditStore persists admission events.
type AuditStore interface {
	RecordAdmission(ctx context.Context, event *models.AdmissionEvent) error
	ListAdmissions(ctx context.Context, limit int) ([]*models.AdmissionEvent, error)
	PruneAdmissions(ctx context.Context, before time.Time) (int64, error)
}

func (s *GORMStore) RecordAdmission(ctx context.Context, event *models.AdmissionEvent) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	_, err := createWithID(s.db, ctx, event, func(e *models.AdmissionEvent, id string) { e.ID = id }, event.ID, errDuplicateEvent)
	return err
}

// ListAdmissions returns the newest events first.
func (s *GORMStore) ListAdmissions(ctx context.Context, limit int) ([]*models.AdmissionEvent, error) {
	return listOrdered[models.AdmissionEvent](s.db, ctx, "created_at DESC", limit)
}

// PruneAdmissions deletes events older than before.
func (s *GORMStore) PruneAdmissions(ctx context.Context, before time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Where("created_at < ?", before).Delete(&models.AdmissionEvent{})
	return result.RowsAffected, result.Error
}

// AuditRecorder writes admission events in the background. Record never
// blocks the admission path: when the buffer is full the event is dropped.
type AuditRecorder struct {
	store   AuditStore
	events  chan *models.AdmissionEvent
	stopped chan struct{}

	mu      sync.Mutex
	closed  bool
	dropped uint64
}

// NewAuditRecorder starts a recorder with the given buffer size.
func NewAuditRecorder(store AuditStore, buffer int) *AuditRecorder {
	if buffer <= 0 {
		buffer = 1024
	}
	r := &AuditRecorder{
		store:   store,
		events:  make(chan *models.AdmissionEvent, buffer),
		stopped: make(chan struct{}),
	}
	go r.run()
	return r
}

// Record enqueues event. Events recorded after Close are dropped.
func (r *AuditRecorder) Record(event *models.AdmissionEvent) {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	select {
	case r.events <- event:
	default:
		r.dropped++
		logger.Debug("Audit buffer full, dropping admission event", logger.KeyConnID, event.ConnID)
	}
}

// Dropped returns the number of events dropped because the buffer was full.
func (r *AuditRecorder) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Close flushes queued events and stops the writer. Safe to call more than once.
func (r *AuditRecorder) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.events)
	}
	r.mu.Unlock()

	<-r.stopped
}

func (r *AuditRecorder) run() {
	defer close(r.stopped)

	for event := range r.events {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := r.store.RecordAdmission(ctx, event); err != nil {
			logger.Warn("Failed to record admission event",
				logger.KeyConnID, event.ConnID, logger.KeyError, err)
		}
		cancel()
	}
}
