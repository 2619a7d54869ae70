// Package memory records published task events in process. It backs the
// memory deployment and tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/melody-hunter/internal/crawler"
)

// Publisher keeps every publish call for inspection.
type Publisher struct {
	mu       sync.RWMutex
	messages []PublishedMessage
	err      error
}

// PublishedMessage captures one publish call.
type PublishedMessage struct {
	Topic   string
	Payload any
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// FailWith makes later Publish calls return err. A nil err restores success.
func (p *Publisher) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Publish records the message and returns a sequential ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", fmt.Errorf("publish to %s: %w", topic, p.err)
	}
	p.messages = append(p.messages, PublishedMessage{Topic: topic, Payload: payload})
	return fmt.Sprintf("memory-%d", len(p.messages)), nil
}

// Messages returns a copy of the recorded publishes.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, len(p.messages))
	copy(out, p.messages)
	return out
}

// Events returns the task events published to topic.
func (p *Publisher) Events(topic string) []crawler.TaskEvent {
	var events []crawler.TaskEvent
	for _, msg := range p.Messages() {
		if msg.Topic != topic {
			continue
		}
		if event, ok := msg.Payload.(crawler.TaskEvent); ok {
			events = append(events, event)
		}
	}
	return events
}
