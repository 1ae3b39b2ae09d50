package eventbus

import (
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

type EventType string

const (
	TaskCreated           EventType = "task.created"
	TaskUpdated           EventType = "task.updated"
	TaskDeleted           EventType = "task.deleted"
	TaskRunStarted        EventType = "task.run_started"
	TaskFinished          EventType = "task.finished"
	ProjectCreated        EventType = "project.created"
	ProjectUpdated        EventType = "project.updated"
	ProjectRunStarted     EventType = "project_run.started"
	ProjectRunUpdated     EventType = "project_run.updated"
	ProjectRunFinished    EventType = "project_run.finished"
	AgentCreated          EventType = "agent.created"
	AgentUpdated          EventType = "agent.updated"
	StorageRecordModified EventType = "storage.modified"
)

// Metadata keys attached to events.
const (
	MetaOwnerID   = "owner_id"
	MetaProjectID = "project_id"
	MetaState     = "state"
	MetaPath      = "path"
)

type Event struct {
	ID         string            `json:"id"`
	Type       EventType         `json:"type"`
	ResourceID string            `json:"resource_id"`
	Payload    any               `json:"payload,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]chan *Event
}

func New() *Bus {
	return &Bus{
		subscribers: make(map[string]chan *Event),
	}
}

func (b *Bus) Subscribe(bufSize int) (string, <-chan *Event) {
	id := ulid.Make().String()
	ch := make(chan *Event, bufSize)
	b.mu.Lock()
	b.subscribers[id] = ch
	b.mu.Unlock()
	return id, ch
}

func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	if ch, ok := b.subscribers[id]; ok {
		close(ch)
		delete(b.subscribers, id)
	}
	b.mu.Unlock()
}

func (b *Bus) Publish(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			// buffer full, drop event for this subscriber
		}
	}
}

func (b *Bus) PublishNew(eventType EventType, resourceID string, payload any, metadata map[string]string) {
	b.Publish(&Event{
		ID:         ulid.Make().String(),
		Type:       eventType,
		ResourceID: resourceID,
		Payload:    payload,
		Metadata:   metadata,
		CreatedAt:  time.Now(),
	})
}
