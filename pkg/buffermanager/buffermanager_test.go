package buffermanager

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wkmp/playback/pkg/events"
	"github.com/wkmp/playback/pkg/outputring"
)

func testThresholds() Thresholds {
	return Thresholds{
		ReadyFrames:        100,
		FirstPassageFrames: 20,
		ExhaustionFrames:   10,
	}
}

func TestFillingToReadyEmitsReadyForStartOnce(t *testing.T) {
	bus := events.NewBus()
	m := New(1, testThresholds(), bus)
	m.Register(0, "q1", 256)

	frames := make([]outputring.Frame, 20) // crosses the cold-start threshold of 20
	n := m.PushSamples(0, frames)
	require.Equal(t, 20, n)
	m.NotifySamplesAppended(0, n)

	assert.Equal(t, Ready, m.State(0))

	// A second append past threshold must not emit ReadyForStart again.
	n2 := m.PushSamples(0, make([]outputring.Frame, 5))
	m.NotifySamplesAppended(0, n2)

	var readyForStartCount int
	drainEvents(bus, func(ev events.ChainEvent) {
		if ev.Kind == events.KindReadyForStart {
			readyForStartCount++
		}
	})
	assert.Equal(t, 1, readyForStartCount)
}

func TestStartPlaybackFromReadyOrFinished(t *testing.T) {
	bus := events.NewBus()
	m := New(2, testThresholds(), bus)

	m.Register(0, "q1", 256)
	m.PushSamples(0, make([]outputring.Frame, 100))
	m.NotifySamplesAppended(0, 100)
	require.Equal(t, Ready, m.State(0))
	assert.NoError(t, m.StartPlayback(0))
	assert.Equal(t, Playing, m.State(0))

	// Zero-length passage: Finalize(0) completes and immediately exhausts
	// the buffer before any playback starts — start_playback must still
	// succeed, entering directly from Finished.
	m.Register(1, "q2", 256)
	m.Finalize(1, 0)
	require.Equal(t, Finished, m.State(1))
	assert.NoError(t, m.StartPlayback(1))
	assert.Equal(t, Playing, m.State(1))
}

func TestStartPlaybackInvalidStateLeavesUnchanged(t *testing.T) {
	bus := events.NewBus()
	m := New(1, testThresholds(), bus)
	m.Register(0, "q1", 256)

	err := m.StartPlayback(0)
	assert.Error(t, err)
	assert.Equal(t, Empty, m.State(0))
}

func TestExhaustedEmittedBelowThresholdDuringPlaying(t *testing.T) {
	bus := events.NewBus()
	m := New(1, testThresholds(), bus)
	m.Register(0, "q1", 256)
	m.PushSamples(0, make([]outputring.Frame, 100))
	m.NotifySamplesAppended(0, 100)
	require.NoError(t, m.StartPlayback(0))

	m.Buffer(0).Read(95) // headroom drops to 5, below ExhaustionFrames=10
	m.AdvanceRead(0, 95)

	var sawExhausted bool
	drainEvents(bus, func(ev events.ChainEvent) {
		if ev.Kind == events.KindExhausted {
			sawExhausted = true
		}
	})
	assert.True(t, sawExhausted)
}

func TestEndpointDiscoveredPrecedesFinished(t *testing.T) {
	bus := events.NewBus()
	m := New(1, testThresholds(), bus)
	m.Register(0, "q1", 256)
	// 20 frames reach the cold-start threshold (min(FirstPassageFrames,
	// ReadyFrames) = 20), so the chain is Ready before StartPlayback.
	m.PushSamples(0, make([]outputring.Frame, 20))
	m.NotifySamplesAppended(0, 20)
	require.NoError(t, m.StartPlayback(0))

	m.SetDiscoveredEndpoint(0, 12345, 20)
	m.Buffer(0).Read(20)
	m.AdvanceRead(0, 20)

	var order []events.ChainEventKind
	drainEvents(bus, func(ev events.ChainEvent) {
		order = append(order, ev.Kind)
	})

	endpointIdx, finishedIdx := -1, -1
	for i, k := range order {
		if k == events.KindEndpointDiscovered {
			endpointIdx = i
		}
		if k == events.KindFinished {
			finishedIdx = i
		}
	}
	require.NotEqual(t, -1, endpointIdx)
	require.NotEqual(t, -1, finishedIdx)
	assert.Less(t, endpointIdx, finishedIdx)
}

func drainEvents(bus *events.Bus, fn func(events.ChainEvent)) {
	for {
		select {
		case ev := <-bus.Events():
			fn(ev)
		default:
			return
		}
	}
}
