/*
Copyright 2024.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package audit

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ma12/companion-api/pkg/config"
	"github.com/ma12/companion-api/pkg/metrics"
	"github.com/ma12/companion-api/pkg/store"
)

// Manager queues audit events and writes them to its sink off the caller's goroutine.
// A nil *Manager is valid and discards every event.
type Manager struct {
	sink       Sink
	asyncQueue chan *Event
	logger     *zap.Logger
	wg         sync.WaitGroup
	closed     atomic.Bool
	// guards sends on asyncQueue against Close
	sendMu sync.RWMutex

	queuedEvents    atomic.Int64
	droppedEvents   atomic.Int64
	processedEvents atomic.Int64

	config ManagerConfig
	now    func() time.Time
}

// ManagerConfig configures the audit Manager.
type ManagerConfig struct {
	// QueueSize is the size of the async event queue.
	// Default: 1000
	QueueSize int

	// WorkerCount is the number of async processing workers.
	// Default: 1
	WorkerCount int

	// WriteTimeout is the timeout for writing to sinks.
	// Default: 5s
	WriteTimeout time.Duration
}

func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		QueueSize:    1000,
		WorkerCount:  1,
		WriteTimeout: 5 * time.Second,
	}
}

// NewManager creates a Manager and starts its workers.
func NewManager(sink Sink, cfg ManagerConfig, logger *zap.Logger) *Manager {
	def := DefaultManagerConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = def.WorkerCount
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}

	m := &Manager{
		sink:       sink,
		asyncQueue: make(chan *Event, cfg.QueueSize),
		logger:     logger.Named("audit-manager"),
		config:     cfg,
		now:        time.Now,
	}
	for i := 0; i < cfg.WorkerCount; i++ {
		m.wg.Add(1)
		go m.processQueue(i)
	}

	m.logger.Info("audit manager started",
		zap.Int("queue_size", cfg.QueueSize),
		zap.Int("workers", cfg.WorkerCount),
		zap.String("sink", sink.Name()))
	return m
}

// NewFromConfig builds the sinks named by cfg. It returns nil when auditing is disabled.
func NewFromConfig(cfg config.Audit, logger *zap.Logger) (*Manager, error) {
	if !cfg.Enabled {
		logger.Info("audit trail disabled")
		return nil, nil
	}
	sinks := []Sink{NewLogSink(logger)}
	if len(cfg.Kafka.Brokers) > 0 {
		kcfg, err := KafkaSinkConfigFrom(cfg.Kafka)
		if err != nil {
			return nil, err
		}
		ks, err := NewKafkaSink(kcfg, logger)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, ks)
	}
	mcfg := DefaultManagerConfig()
	mcfg.QueueSize = cfg.QueueSize
	return NewManager(NewMultiSink(sinks...), mcfg, logger), nil
}

func (m *Manager) prepare(event *Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = m.now().UTC()
	}
	if event.Severity == "" {
		event.Severity = SeverityForEventType(event.Type)
	}
}

// Emit queues an event without blocking. If the queue is full the event is dropped.
func (m *Manager) Emit(_ context.Context, event *Event) {
	if m == nil {
		return
	}
	m.sendMu.RLock()
	defer m.sendMu.RUnlock()
	if m.closed.Load() {
		return
	}
	m.prepare(event)

	select {
	case m.asyncQueue <- event:
		m.queuedEvents.Add(1)
	default:
		m.droppedEvents.Add(1)
		metrics.AuditEventsDropped.Inc()
		m.logger.Warn("audit queue full, dropping event",
			zap.String("event_type", string(event.Type)),
			zap.String("event_id", event.ID))
	}
}

// EmitSync writes an event directly to the sink.
func (m *Manager) EmitSync(ctx context.Context, event *Event) error {
	if m == nil {
		return nil
	}
	m.prepare(event)
	return m.sink.Write(ctx, event)
}

func (m *Manager) processQueue(workerID int) {
	defer m.wg.Done()

	for event := range m.asyncQueue {
		ctx, cancel := context.WithTimeout(context.Background(), m.config.WriteTimeout)
		if err := m.sink.Write(ctx, event); err != nil {
			m.logger.Error("failed to write audit event",
				zap.Int("worker", workerID),
				zap.String("event_id", event.ID),
				zap.String("event_type", string(event.Type)),
				zap.Error(err))
		} else {
			m.processedEvents.Add(1)
		}
		cancel()
	}
}

// Close drains the queue and closes the sink.
func (m *Manager) Close() error {
	if m == nil {
		return nil
	}
	m.sendMu.Lock()
	if m.closed.Swap(true) {
		m.sendMu.Unlock()
		return nil
	}
	close(m.asyncQueue)
	m.sendMu.Unlock()
	m.wg.Wait()

	m.logger.Info("audit manager stopped",
		zap.Int64("processed", m.processedEvents.Load()),
		zap.Int64("dropped", m.droppedEvents.Load()))
	return m.sink.Close()
}

// Stats returns current audit manager statistics.
func (m *Manager) Stats() ManagerStats {
	if m == nil {
		return ManagerStats{}
	}
	return ManagerStats{
		QueuedEvents:    m.queuedEvents.Load(),
		ProcessedEvents: m.processedEvents.Load(),
		DroppedEvents:   m.droppedEvents.Load(),
		QueueLength:     len(m.asyncQueue),
		QueueCapacity:   cap(m.asyncQueue),
	}
}

type ManagerStats struct {
	QueuedEvents    int64
	ProcessedEvents int64
	DroppedEvents   int64
	QueueLength     int
	QueueCapacity   int
}

// --- Helper methods for common events ---

const (
	kindSobrietyDate = "SobrietyDate"
	kindSupportForm  = "SupportForm"
	actorMailWorker  = "mail-worker"
)

// SobrietyDateWritten records a create or update of a device's date.
func (m *Manager) SobrietyDateWritten(ctx context.Context, rec store.SobrietyRecord, created bool, requestID string) {
	eventType := EventSobrietyDateUpdated
	if created {
		eventType = EventSobrietyDateCreated
	}
	m.Emit(ctx, &Event{
		Type:      eventType,
		Actor:     Actor{DeviceID: rec.DeviceID},
		Target:    Target{Kind: kindSobrietyDate, ID: strconv.FormatInt(rec.ID, 10)},
		Details:   map[string]any{"date": rec.Date.String()},
		RequestID: requestID,
	})
}

// SupportFormSubmitted records an accepted submission.
func (m *Manager) SupportFormSubmitted(ctx context.Context, sub store.Submission, requestID string) {
	m.Emit(ctx, &Event{
		Type:      EventSupportFormSubmitted,
		Actor:     Actor{Email: sub.Email},
		Target:    Target{Kind: kindSupportForm, ID: strconv.FormatInt(sub.ID, 10)},
		Details:   map[string]any{"type": string(sub.Type)},
		RequestID: requestID,
	})
}

// SupportEmailSent records a delivered notification.
func (m *Manager) SupportEmailSent(ctx context.Context, id int64, mailbox string) {
	m.Emit(ctx, &Event{
		Type:    EventSupportEmailSent,
		Actor:   Actor{System: actorMailWorker},
		Target:  Target{Kind: kindSupportForm, ID: strconv.FormatInt(id, 10)},
		Details: map[string]any{"mailbox": mailbox},
	})
}

// SupportEmailFailed records a notification the worker gave up on.
func (m *Manager) SupportEmailFailed(ctx context.Context, id int64, reason string, attempts int, cause error) {
	details := map[string]any{"reason": reason, "attempts": attempts}
	if cause != nil {
		details["error"] = cause.Error()
	}
	m.Emit(ctx, &Event{
		Type:    EventSupportEmailFailed,
		Actor:   Actor{System: actorMailWorker},
		Target:  Target{Kind: kindSupportForm, ID: strconv.FormatInt(id, 10)},
		Details: details,
	})
}

// SupportEmailResent records a manual re-enqueue by an operator.
func (m *Manager) SupportEmailResent(ctx context.Context, id int64, operator string) {
	m.Emit(ctx, &Event{
		Type:   EventSupportEmailResent,
		Actor:  Actor{System: operator},
		Target: Target{Kind: kindSupportForm, ID: strconv.FormatInt(id, 10)},
	})
}

// System records process lifecycle events.
func (m *Manager) System(ctx context.Context, eventType EventType, details map[string]any) {
	m.Emit(ctx, &Event{
		Type:    eventType,
		Actor:   Actor{System: "companion-api"},
		Target:  Target{Kind: "Process", ID: "companion-api"},
		Details: details,
	})
}
