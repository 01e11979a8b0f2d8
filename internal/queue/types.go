// Package queue implements the two-phase work queue the controller fans
// raw-fetch and derived-compute messages out onto. Both phases share the
// same message shape and the same at-least-once delivery contract:
// visibility timeout plus bounded redelivery into a dead-letter queue.
package queue

import "time"

// Phase distinguishes a raw-fetch message from a derived-compute message.
// The controller never enqueues Phase B work for a symbol until every
// Phase A message for that run has either completed or dead-lettered
// (§4.3's barrier).
type Phase string

const (
	PhaseRaw     Phase = "raw"
	PhaseDerived Phase = "derived"
)

// Priority orders dequeue in MemoryQueue: higher priority first, FIFO
// within a priority, across both phases. SQSQueue only carries it as a
// message attribute and delivers in SQS's own order. The nightly run
// enqueues everything at PriorityNormal; PriorityHigh is used by the
// on-demand single-symbol report path.
type Priority int

const (
	PriorityNormal Priority = iota
	PriorityHigh
)

// Message is one unit of fan-out work. JobID is set only for an on-demand
// report request (§3.6); it is empty for the nightly fan-out, where
// CorrelationID alone identifies the run.
type Message struct {
	ID            string
	CorrelationID string
	Phase         Phase
	Priority      Priority
	DisplaySymbol string
	BusinessDate  time.Time
	EnqueuedAt    time.Time
	Attempt       int
	MaxAttempts   int
	JobID         string
}

// Queue is implemented by both the in-memory development queue and the SQS
// production backend.
type Queue interface {
	// Enqueue adds a message for later delivery.
	Enqueue(msg Message) error
	// Receive returns up to max messages currently visible, marking them
	// invisible for visibilityTimeout. A message not Acked or Nacked
	// before the timeout elapses becomes visible again for redelivery.
	Receive(max int, visibilityTimeout time.Duration) ([]Message, error)
	// Ack permanently removes a message after successful processing.
	Ack(id string) error
	// Nack returns a message to the queue immediately, or to the
	// dead-letter queue if it has exhausted MaxAttempts.
	Nack(id string) error
	// DeadLettered returns messages that exhausted their attempts, for
	// operator inspection.
	DeadLettered() []Message
	// Size reports the number of messages currently visible or in flight.
	Size() int
}
