package realtime

import (
	"sync"
	"time"

	"liahona/internal/domain"
	"liahona/internal/observability"
)

// Wildcard is the topic that receives events of every project.
const Wildcard = "*"

const DefaultQueueSize = 100

// Event is the fan-out shape of an activity event.
type Event struct {
	ID        int64          `json:"id"`
	Type      string         `json:"type"`
	ProjectID string         `json:"project_id"`
	TaskID    string         `json:"task_id"`
	Actor     string         `json:"actor"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

func FromActivity(e domain.ActivityEvent) Event {
	return Event{
		ID:        e.ID,
		Type:      e.Event,
		ProjectID: e.ProjectID,
		TaskID:    e.TaskID,
		Actor:     e.By,
		Timestamp: e.TS,
		Data:      e.Metadata,
	}
}

// Bus delivers events to per-topic subscribers. Each subscriber owns a
// bounded queue; when it is full the event is dropped for that subscriber.
type Bus struct {
	Metrics *observability.Metrics

	mu        sync.Mutex
	queueSize int
	nextID    uint64
	topics    map[string]map[uint64]*Subscription
}

func NewBus(queueSize int) *Bus {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Bus{
		queueSize: queueSize,
		topics:    make(map[string]map[uint64]*Subscription),
	}
}

type Subscription struct {
	C <-chan Event

	ch    chan Event
	bus   *Bus
	topic string
	id    uint64
	once  sync.Once
}

func (b *Bus) Subscribe(topic string) *Subscription {
	if topic == "" {
		topic = Wildcard
	}
	ch := make(chan Event, b.queueSize)
	b.mu.Lock()
	b.nextID++
	sub := &Subscription{C: ch, ch: ch, bus: b, topic: topic, id: b.nextID}
	subs := b.topics[topic]
	if subs == nil {
		subs = make(map[uint64]*Subscription)
		b.topics[topic] = subs
	}
	subs[sub.id] = sub
	b.mu.Unlock()
	b.Metrics.SubscriberAdded()
	return sub
}

func (s *Subscription) Topic() string { return s.topic }

// Close deregisters the subscription and closes C. Safe to call repeatedly.
func (s *Subscription) Close() {
	s.once.Do(func() {
		b := s.bus
		b.mu.Lock()
		if subs := b.topics[s.topic]; subs != nil {
			delete(subs, s.id)
			if len(subs) == 0 {
				delete(b.topics, s.topic)
			}
		}
		close(s.ch)
		b.mu.Unlock()
		b.Metrics.SubscriberRemoved()
	})
}

// Publish offers e to subscribers of topic and of the wildcard topic. It
// never blocks and returns the number of queues that accepted the event.
func (b *Bus) Publish(topic string, e Event) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	delivered := b.offerLocked(b.topics[topic], e)
	if topic != Wildcard {
		delivered += b.offerLocked(b.topics[Wildcard], e)
	}
	b.Metrics.ObservePublished(topicKind(topic), delivered)
	return delivered
}

func (b *Bus) offerLocked(subs map[uint64]*Subscription, e Event) int {
	n := 0
	for _, sub := range subs {
		select {
		case sub.ch <- e:
			n++
		default:
			b.Metrics.ObserveDropped("subscriber")
		}
	}
	return n
}

// Subscribers returns the number of live subscriptions on topic.
func (b *Bus) Subscribers(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics[topic])
}

// Topics returns the number of topics with at least one subscriber.
func (b *Bus) Topics() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics)
}

func topicKind(topic string) string {
	if topic == Wildcard {
		return "wildcard"
	}
	return "project"
}
