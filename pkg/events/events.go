// Package events is the typed event bus the buffer manager and playback
// engine use to decouple chain-state transitions from the orchestration
// task that reacts to them (spec.md §9: "explicit event bus + message
// passing" in place of callback chains or back-references). It is
// grounded on the teacher's channel-based goroutine coordination style
// (pkg/audioplayer/player.go's stopChan/wg pattern), generalized from a
// single shutdown signal to a bounded single-subscriber event channel.
package events

import "log/slog"

// ChainEvent is one event emitted by the buffer manager for a chain.
// Kind distinguishes the event; the remaining fields are populated
// according to Kind (see the Kind* constants).
type ChainEvent struct {
	Kind ChainEventKind

	ChainIndex   int
	QueueEntryID string

	// StateChanged
	OldState, NewState string

	// EndpointDiscovered
	EndTicks     int64
	TotalSamples uint64
}

// ChainEventKind identifies the kind of a ChainEvent, per spec.md §4.4's
// "Events emitted on a bounded channel".
type ChainEventKind int

const (
	KindStateChanged ChainEventKind = iota
	KindReadyForStart
	KindEndpointDiscovered
	KindExhausted
	KindFinished
)

func (k ChainEventKind) String() string {
	switch k {
	case KindStateChanged:
		return "StateChanged"
	case KindReadyForStart:
		return "ReadyForStart"
	case KindEndpointDiscovered:
		return "EndpointDiscovered"
	case KindExhausted:
		return "Exhausted"
	case KindFinished:
		return "Finished"
	default:
		return "Unknown"
	}
}

// chainEventBufferSize bounds the channel so a slow subscriber cannot
// grow memory without limit; once it is full, Publish drops the event
// being published with a warning log rather than blocking the buffer
// manager, since an orchestration task stalled
// long enough to fill this channel has bigger problems than a missed
// intermediate StateChanged.
const chainEventBufferSize = 256

// Bus is a single-publisher, single-subscriber bounded event channel.
// The buffer manager is the sole publisher; the engine's orchestration
// task is the sole subscriber, per spec.md §9.
type Bus struct {
	ch chan ChainEvent
}

// NewBus creates a bus with the standard bounded channel capacity.
func NewBus() *Bus {
	return &Bus{ch: make(chan ChainEvent, chainEventBufferSize)}
}

// Publish enqueues an event. If the channel is full, the event is
// dropped and logged rather than blocking the publisher (the buffer
// manager must never suspend on event delivery).
func (b *Bus) Publish(ev ChainEvent) {
	select {
	case b.ch <- ev:
	default:
		slog.Warn("event bus full, dropping event",
			"kind", ev.Kind.String(), "chain", ev.ChainIndex, "queue_entry_id", ev.QueueEntryID)
	}
}

// Events returns the receive-only channel subscribers read from.
func (b *Bus) Events() <-chan ChainEvent {
	return b.ch
}
