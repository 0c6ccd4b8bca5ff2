package notify

// DefaultQueueSize is the buffer used when NewQueue is given a size <= 0.
const DefaultQueueSize = 256

// Queue is a buffered, non-blocking Notifier. Senders never wait: when the
// buffer is full the event is dropped and onDrop (if set) is called.
// It is safe for concurrent senders.
type Queue struct {
	events chan Event
	onDrop func(Event)
}

// NewQueue returns a Queue holding up to size pending events.
func NewQueue(size int, onDrop func(Event)) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{events: make(chan Event, size), onDrop: onDrop}
}

// Notify implements Notifier.
func (q *Queue) Notify(e Event) {
	select {
	case q.events <- e:
	default:
		if q.onDrop != nil {
			q.onDrop(e)
		}
	}
}

// Events is the receive side for the single consumer.
func (q *Queue) Events() <-chan Event {
	return q.events
}
