// Package bus defines the boundary to the asynchronous messaging transport.
// The transport itself is external; this package models the messages and
// delivery events crossing it and provides an in-memory implementation for
// tests and local runs.
package bus

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// SessionEvent marks session lifecycle on a user message.
type SessionEvent string

const (
	SessionNone  SessionEvent = ""
	SessionNew   SessionEvent = "new"
	SessionClose SessionEvent = "close"
)

// VoiceMeta carries call-control metadata on an outbound message: the audio
// reference to play and, on the final message of a gather, the key that ends
// digit collection.
type VoiceMeta struct {
	SpeechURL string `json:"speech_url,omitempty"`
	WaitFor   string `json:"wait_for,omitempty"`
}

// UserMessage is one message crossing the transport, in either direction.
type UserMessage struct {
	MessageID    string       `json:"message_id"`
	From         string       `json:"from_addr"`
	To           string       `json:"to_addr"`
	Content      string       `json:"content,omitempty"`
	SessionEvent SessionEvent `json:"session_event,omitempty"`
	Voice        *VoiceMeta   `json:"voice,omitempty"`
}

// NewUserMessage returns a message with a fresh id.
func NewUserMessage(from, to string) *UserMessage {
	return &UserMessage{
		MessageID: uuid.NewString(),
		From:      from,
		To:        to,
	}
}

// EventType is a transport delivery report type.
type EventType string

const (
	EventAck  EventType = "ack"
	EventNack EventType = "nack"
)

// Event reports delivery (or failure) of a previously published message.
type Event struct {
	Type          EventType `json:"event_type"`
	UserMessageID string    `json:"user_message_id"`
}

// Publisher publishes outbound user messages to the transport.
type Publisher interface {
	Publish(ctx context.Context, msg *UserMessage) error
}

// Consumer handles inbound transport traffic. Implemented by the worker.
type Consumer interface {
	ConsumeUserMessage(ctx context.Context, msg *UserMessage) error
	ConsumeEvent(ctx context.Context, ev *Event) error
}

// MemoryBus is an in-process transport double. It records published messages
// and lets the caller feed events and inbound messages to the attached
// consumer, standing in for the broker's at-least-once delivery.
type MemoryBus struct {
	mu       sync.Mutex
	sent     []*UserMessage
	consumer Consumer
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{}
}

// Attach sets the consumer receiving delivered traffic.
func (b *MemoryBus) Attach(c Consumer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consumer = c
}

func (b *MemoryBus) Publish(_ context.Context, msg *UserMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, msg)
	return nil
}

// Sent returns a copy of all published messages, in order.
func (b *MemoryBus) Sent() []*UserMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*UserMessage, len(b.sent))
	copy(out, b.sent)
	return out
}

// Last returns the most recently published message, or nil.
func (b *MemoryBus) Last() *UserMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.sent) == 0 {
		return nil
	}
	return b.sent[len(b.sent)-1]
}

// Reset clears the record of published messages.
func (b *MemoryBus) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = nil
}

func (b *MemoryBus) getConsumer() Consumer {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consumer
}

// DeliverAck delivers an ack event for a published message id.
func (b *MemoryBus) DeliverAck(ctx context.Context, messageID string) error {
	return b.getConsumer().ConsumeEvent(ctx, &Event{Type: EventAck, UserMessageID: messageID})
}

// DeliverNack delivers a nack event for a published message id.
func (b *MemoryBus) DeliverNack(ctx context.Context, messageID string) error {
	return b.getConsumer().ConsumeEvent(ctx, &Event{Type: EventNack, UserMessageID: messageID})
}

// DeliverInbound delivers an inbound user message to the consumer.
func (b *MemoryBus) DeliverInbound(ctx context.Context, msg *UserMessage) error {
	return b.getConsumer().ConsumeUserMessage(ctx, msg)
}
