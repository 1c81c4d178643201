// Package bus implements the in-process progress broadcast used to stream
// analysis progress to connected clients.
//
// Delivery is at-most-once and best-effort: publish never blocks, frames to
// slow subscribers are dropped, and the only replay is the last terminal
// message per topic.
package bus

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/pairreview/pairreview/pkg/logger"
	"github.com/pairreview/pairreview/pkg/telemetry"
)

// subscriberBuffer is the per-subscriber frame buffer; overflow drops frames
const subscriberBuffer = 64

// Message is one progress frame; it serializes to a single JSON object
type Message map[string]interface{}

// RunTopic names the run-keyed topic for an analysis run
func RunTopic(runID string) string {
	return "run-" + runID
}

// ReviewTopic names the review-keyed topic for a review
func ReviewTopic(reviewID int64) string {
	return fmt.Sprintf("review-%d", reviewID)
}

// isTerminal reports whether a frame announces a terminal run status
func isTerminal(msg Message) bool {
	status, _ := msg["status"].(string)
	switch status {
	case "completed", "failed", "cancelled":
		return true
	}
	return false
}

// Subscriber is one connected client on a topic
type Subscriber struct {
	topic  string
	frames chan Message
}

// Frames returns the subscriber's frame channel. It is closed on Unsubscribe.
func (s *Subscriber) Frames() <-chan Message {
	return s.frames
}

type topicState struct {
	subscribers  map[*Subscriber]struct{}
	lastTerminal Message
}

// Bus fans out progress frames to topic subscribers
type Bus struct {
	mu     sync.Mutex
	topics map[string]*topicState
}

// New creates an empty bus
func New() *Bus {
	return &Bus{topics: make(map[string]*topicState)}
}

// Subscribe registers a subscriber on a topic. The first frame is a connected
// marker; if the topic already carries a last-terminal message it is replayed
// immediately after.
func (b *Bus) Subscribe(topic string) *Subscriber {
	sub := &Subscriber{
		topic:  topic,
		frames: make(chan Message, subscriberBuffer),
	}

	b.mu.Lock()
	state, ok := b.topics[topic]
	if !ok {
		state = &topicState{subscribers: make(map[*Subscriber]struct{})}
		b.topics[topic] = state
	}
	state.subscribers[sub] = struct{}{}
	lastTerminal := state.lastTerminal
	b.mu.Unlock()

	sub.frames <- Message{"type": "connected", "topic": topic}
	if lastTerminal != nil {
		sub.frames <- lastTerminal
	}

	telemetry.GetMetrics().RecordSubscriber(context.Background(), 1)
	logger.Debug("Subscriber connected", zap.String("topic", topic))
	return sub
}

// Unsubscribe removes the subscriber and closes its frame channel.
// Safe to call once per subscriber.
func (b *Bus) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	state, ok := b.topics[sub.topic]
	// A missing topic means the subscriber was already removed
	if !ok {
		b.mu.Unlock()
		return
	}
	if _, present := state.subscribers[sub]; !present {
		b.mu.Unlock()
		return
	}
	delete(state.subscribers, sub)
	// Topics without a terminal to replay are garbage once empty
	if len(state.subscribers) == 0 && state.lastTerminal == nil {
		delete(b.topics, sub.topic)
	}
	// Closing under the lock keeps Publish from racing a send against close
	close(sub.frames)
	b.mu.Unlock()
	telemetry.GetMetrics().RecordSubscriber(context.Background(), -1)
	logger.Debug("Subscriber disconnected", zap.String("topic", sub.topic))
}

// Publish delivers a frame to all topic subscribers without blocking; frames
// to full subscriber buffers are dropped. Terminal frames are retained for
// replay to later subscribers.
func (b *Bus) Publish(topic string, msg Message) {
	b.mu.Lock()
	state, ok := b.topics[topic]
	if !ok {
		state = &topicState{subscribers: make(map[*Subscriber]struct{})}
		b.topics[topic] = state
	}
	if isTerminal(msg) {
		state.lastTerminal = msg
	}
	// Sends are non-blocking, so delivering under the lock is cheap and keeps
	// Unsubscribe's close from racing an in-flight send
	for sub := range state.subscribers {
		select {
		case sub.frames <- msg:
		default:
			logger.Debug("Dropping frame for slow subscriber", zap.String("topic", topic))
		}
	}
	b.mu.Unlock()
}

// Reset clears a topic's retained terminal message. Used when a new run
// starts on a topic that previously finished.
func (b *Bus) Reset(topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if state, ok := b.topics[topic]; ok {
		state.lastTerminal = nil
		if len(state.subscribers) == 0 {
			delete(b.topics, topic)
		}
	}
}
