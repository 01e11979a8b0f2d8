package queue

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// MemoryQueue is the in-process queue used by tests and single-node
// development runs. It implements the same visibility-timeout and
// bounded-redelivery semantics as the SQS backend so the worker's state
// machine behaves identically against either.
type MemoryQueue struct {
	mu         sync.Mutex
	visible    []Message
	inFlight   map[string]inFlightEntry
	deadLetter []Message
	log        zerolog.Logger
}

type inFlightEntry struct {
	msg       Message
	expiresAt time.Time
}

func NewMemoryQueue(log zerolog.Logger) *MemoryQueue {
	return &MemoryQueue{
		inFlight: make(map[string]inFlightEntry),
		log:      log.With().Str("component", "memory_queue").Logger(),
	}
}

func (q *MemoryQueue) Enqueue(msg Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if msg.MaxAttempts == 0 {
		msg.MaxAttempts = 5
	}
	q.insertSorted(msg)
	return nil
}

// insertSorted keeps visible ordered by priority (high first), then FIFO.
// Must be called with q.mu held.
func (q *MemoryQueue) insertSorted(msg Message) {
	idx := len(q.visible)
	for i, m := range q.visible {
		if msg.Priority > m.Priority {
			idx = i
			break
		}
	}
	q.visible = append(q.visible, Message{})
	copy(q.visible[idx+1:], q.visible[idx:])
	q.visible[idx] = msg
}

func (q *MemoryQueue) Receive(max int, visibilityTimeout time.Duration) ([]Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.reapExpiredLocked()

	n := max
	if n > len(q.visible) {
		n = len(q.visible)
	}
	out := make([]Message, n)
	copy(out, q.visible[:n])
	q.visible = q.visible[n:]

	now := time.Now()
	for i := range out {
		out[i].Attempt++
		q.inFlight[out[i].ID] = inFlightEntry{msg: out[i], expiresAt: now.Add(visibilityTimeout)}
	}
	return out, nil
}

// reapExpiredLocked returns in-flight messages whose visibility timeout has
// elapsed back to the visible list, redelivering them. Must be called with
// q.mu held.
func (q *MemoryQueue) reapExpiredLocked() {
	now := time.Now()
	for id, entry := range q.inFlight {
		if now.After(entry.expiresAt) {
			delete(q.inFlight, id)
			q.insertSorted(entry.msg)
			q.log.Warn().Str("message_id", id).Msg("visibility timeout elapsed, redelivering")
		}
	}
}

func (q *MemoryQueue) Ack(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inFlight, id)
	return nil
}

func (q *MemoryQueue) Nack(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry, ok := q.inFlight[id]
	if !ok {
		return nil
	}
	delete(q.inFlight, id)

	if entry.msg.Attempt >= entry.msg.MaxAttempts {
		q.deadLetter = append(q.deadLetter, entry.msg)
		q.log.Error().Str("message_id", id).Int("attempts", entry.msg.Attempt).Msg("message exhausted retries, dead-lettered")
		return nil
	}
	q.insertSorted(entry.msg)
	return nil
}

func (q *MemoryQueue) DeadLettered() []Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Message, len(q.deadLetter))
	copy(out, q.deadLetter)
	return out
}

func (q *MemoryQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.visible) + len(q.inFlight)
}
