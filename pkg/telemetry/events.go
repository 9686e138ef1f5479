package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a converge lifecycle event.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// RunID is the converge run the event belongs to.
	RunID string `json:"run_id,omitempty"`

	// ResourceID is the resource the event concerns, if any.
	ResourceID string `json:"resource_id,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is info, warning, or error.
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// Event types.
const (
	EventTypeConvergeStarted   = "converge.started"
	EventTypeConvergeCompleted = "converge.completed"
	EventTypeConvergeFailed    = "converge.failed"
	EventTypeRendered          = "render.completed"
	EventTypeResourceApplied   = "resource.applied"
	EventTypeResourceFailed    = "resource.failed"
	EventTypeReloadTriggered   = "reload.triggered"
)

// Event levels.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber handles a delivered event.
type EventSubscriber func(event Event)

// EventFilter reports whether an event should be delivered.
type EventFilter func(event Event) bool

// EventPublisher fans events out to subscribers. Delivery is synchronous
// unless EnableAsync is set, in which case a single goroutine delivers
// events in publish order.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	mu          sync.RWMutex
	wg          sync.WaitGroup
	closeOnce   sync.Once
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a publisher.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	ep := &EventPublisher{config: cfg}
	if !cfg.Enabled {
		return ep, nil
	}
	if cfg.EnableAsync {
		size := cfg.BufferSize
		if size <= 0 {
			size = 1
		}
		ep.buffer = make(chan Event, size)
		ep.wg.Add(1)
		go ep.processEvents()
	}
	return ep, nil
}

// Publish stamps the event with an id and time and delivers it.
func (ep *EventPublisher) Publish(event Event) error {
	if ep == nil || !ep.config.Enabled {
		return nil
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Level == "" {
		event.Level = EventLevelInfo
	}

	if ep.buffer != nil {
		select {
		case ep.buffer <- event:
			return nil
		default:
			return fmt.Errorf("event buffer full, event %s dropped", event.Type)
		}
	}
	ep.deliverEvent(event)
	return nil
}

// PublishConvergeStarted publishes a converge started event.
func (ep *EventPublisher) PublishConvergeStarted(runID string, sources []string) error {
	return ep.Publish(Event{
		Type:    EventTypeConvergeStarted,
		RunID:   runID,
		Message: fmt.Sprintf("Converge %s started", runID),
		Data:    map[string]interface{}{"sources": sources},
	})
}

// PublishConvergeCompleted publishes a converge completed event.
func (ep *EventPublisher) PublishConvergeCompleted(runID string, changed bool, duration time.Duration) error {
	return ep.Publish(Event{
		Type:    EventTypeConvergeCompleted,
		RunID:   runID,
		Message: fmt.Sprintf("Converge %s completed (changed=%t)", runID, changed),
		Data: map[string]interface{}{
			"changed":  changed,
			"duration": duration.Seconds(),
		},
	})
}

// PublishConvergeFailed publishes a converge failed event.
func (ep *EventPublisher) PublishConvergeFailed(runID string, err error) error {
	return ep.Publish(Event{
		Type:    EventTypeConvergeFailed,
		RunID:   runID,
		Message: fmt.Sprintf("Converge %s failed: %v", runID, err),
		Level:   EventLevelError,
		Data:    map[string]interface{}{"error": err.Error()},
	})
}

// PublishRendered publishes the digest of a rendered document.
func (ep *EventPublisher) PublishRendered(runID, digest string, lines int) error {
	return ep.Publish(Event{
		Type:    EventTypeRendered,
		RunID:   runID,
		Message: fmt.Sprintf("Rendered %d lines", lines),
		Data: map[string]interface{}{
			"digest": digest,
			"lines":  lines,
		},
	})
}

// PublishResourceApplied publishes a resource result.
func (ep *EventPublisher) PublishResourceApplied(runID, resourceID, action string, changed bool) error {
	return ep.Publish(Event{
		Type:       EventTypeResourceApplied,
		RunID:      runID,
		ResourceID: resourceID,
		Message:    fmt.Sprintf("%s: %s", resourceID, action),
		Data: map[string]interface{}{
			"action":  action,
			"changed": changed,
		},
	})
}

// PublishResourceFailed publishes a resource failure.
func (ep *EventPublisher) PublishResourceFailed(runID, resourceID string, err error) error {
	return ep.Publish(Event{
		Type:       EventTypeResourceFailed,
		RunID:      runID,
		ResourceID: resourceID,
		Message:    fmt.Sprintf("%s failed: %v", resourceID, err),
		Level:      EventLevelError,
		Data:       map[string]interface{}{"error": err.Error()},
	})
}

// PublishReloadTriggered publishes a reload trigger.
func (ep *EventPublisher) PublishReloadTriggered(runID, resourceID string) error {
	return ep.Publish(Event{
		Type:       EventTypeReloadTriggered,
		RunID:      runID,
		ResourceID: resourceID,
		Message:    "Client configuration reload triggered",
	})
}

// Subscribe adds a subscriber. A nil filter accepts every event.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	if ep == nil {
		return
	}
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.subscribers = append(ep.subscribers, subscriberEntry{subscriber: subscriber, filter: filter})
}

func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()
	for event := range ep.buffer {
		ep.deliverEvent(event)
	}
}

func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()
	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown drains queued events. Publishing after Shutdown is not allowed
// in async mode.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if ep == nil || ep.buffer == nil {
		return nil
	}
	ep.closeOnce.Do(func() { close(ep.buffer) })

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// FilterByType accepts only the given event types.
func FilterByType(types ...string) EventFilter {
	set := make(map[string]bool, len(types))
	for _, t := range types {
		set[t] = true
	}
	return func(event Event) bool {
		return set[event.Type]
	}
}

// FilterByRunID accepts only events of one run.
func FilterByRunID(runID string) EventFilter {
	return func(event Event) bool {
		return event.RunID == runID
	}
}
