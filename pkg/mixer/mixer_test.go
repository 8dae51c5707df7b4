package mixer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wkmp/playback/pkg/buffermanager"
	"github.com/wkmp/playback/pkg/events"
	"github.com/wkmp/playback/pkg/fade"
	"github.com/wkmp/playback/pkg/outputring"
)

func testThresholds() buffermanager.Thresholds {
	return buffermanager.Thresholds{ReadyFrames: 2, FirstPassageFrames: 2, ExhaustionFrames: 1}
}

func pushConst(m *buffermanager.Manager, chain int, val float32, n int) {
	frames := make([]outputring.Frame, n)
	for i := range frames {
		frames[i] = outputring.Frame{val, val}
	}
	written := m.PushSamples(chain, frames)
	m.NotifySamplesAppended(chain, written)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MinStartLevel = 0
	return cfg
}

func TestSinglePassagePlaysFramesThenCompletes(t *testing.T) {
	bus := events.NewBus()
	m := buffermanager.New(1, testThresholds(), bus)
	m.Register(0, "q1", 32)
	pushConst(m, 0, 0.5, 4)
	m.Finalize(0, 4)

	var completed string
	mx := New(m, Callbacks{OnPassageCompleted: func(id string) { completed = id }}, testConfig())
	require.NoError(t, mx.BeginSinglePassage(0))
	assert.Equal(t, KindSinglePassage, mx.State())

	for i := 0; i < 4; i++ {
		f := mx.ProduceFrame()
		assert.InDelta(t, 0.5, f[0], 1e-6)
	}

	assert.Equal(t, "q1", completed)
	assert.Equal(t, KindNone, mx.State())
}

func TestBeginSinglePassageRejectsBelowMinStartLevel(t *testing.T) {
	bus := events.NewBus()
	m := buffermanager.New(1, testThresholds(), bus)
	m.Register(0, "q1", 32)
	pushConst(m, 0, 0.5, 4) // crosses ReadyFrames=2, so state is Ready, not Finished

	cfg := DefaultConfig()
	cfg.MinStartLevel = 1000 // far beyond buffered frames
	mx := New(m, Callbacks{}, cfg)

	err := mx.BeginSinglePassage(0)
	assert.Error(t, err)
}

func TestCrossfadeMixesThenHandsOffToSuccessor(t *testing.T) {
	bus := events.NewBus()
	m := buffermanager.New(2, testThresholds(), bus)
	m.Register(0, "qA", 32)
	m.Register(1, "qB", 32)

	pushConst(m, 0, 0.8, 5)
	m.Finalize(0, 5)
	pushConst(m, 1, -0.6, 10)
	m.Finalize(1, 10)

	var completed string
	mx := New(m, Callbacks{OnPassageCompleted: func(id string) { completed = id }}, testConfig())
	require.NoError(t, mx.BeginSinglePassage(0))
	mx.SetNext(NextInfo{ChainIndex: 1, DurationFrames: 3, CurveOut: fade.Linear, CurveIn: fade.Linear})

	// Frames 1-2: pure A, no crossfade yet (remaining 5, then 4, both > 3).
	f1 := mx.ProduceFrame()
	assert.InDelta(t, 0.8, f1[0], 1e-6)
	f2 := mx.ProduceFrame()
	assert.InDelta(t, 0.8, f2[0], 1e-6)
	assert.Equal(t, KindSinglePassage, mx.State())

	// Frame 3: remaining falls to 3 == duration, crossfade begins at t=0 (pure A).
	f3 := mx.ProduceFrame()
	assert.InDelta(t, 0.8, f3[0], 1e-6)
	assert.Equal(t, KindCrossfading, mx.State())

	// Frame 4: t=1/3 -> out=2/3, in=1/3.
	f4 := mx.ProduceFrame()
	want4 := 0.8*(2.0/3.0) + (-0.6)*(1.0/3.0)
	assert.InDelta(t, want4, f4[0], 1e-6)

	// Frame 5: t=2/3 -> out=1/3, in=2/3. chain A exhausts here (read reaches 5).
	f5 := mx.ProduceFrame()
	want5 := 0.8*(1.0/3.0) + (-0.6)*(2.0/3.0)
	assert.InDelta(t, want5, f5[0], 1e-6)
	assert.Equal(t, "qA", completed)
	assert.Equal(t, KindSinglePassage, mx.State())

	// Frame 6: now reading chain B alone.
	f6 := mx.ProduceFrame()
	assert.InDelta(t, -0.6, f6[0], 1e-6)
}

func TestPauseDecaysAndResumeRampsBack(t *testing.T) {
	bus := events.NewBus()
	m := buffermanager.New(1, testThresholds(), bus)
	m.Register(0, "q1", 256)
	pushConst(m, 0, 1.0, 100)
	m.Finalize(0, 100)

	cfg := testConfig()
	cfg.ResumeRampFrames = 4
	mx := New(m, Callbacks{}, cfg)
	require.NoError(t, mx.BeginSinglePassage(0))

	first := mx.ProduceFrame()
	require.InDelta(t, 1.0, first[0], 1e-6)

	mx.Pause()
	assert.Equal(t, KindPaused, mx.State())

	p1 := mx.ProduceFrame()
	p2 := mx.ProduceFrame()
	assert.Less(t, float64(p2[0]), float64(p1[0]), "pause envelope must keep decaying")
	assert.Less(t, float64(p1[0]), 1.0)

	mx.Resume()
	assert.Equal(t, KindResuming, mx.State())

	var last Frame
	for i := 0; i < 4; i++ {
		last = mx.ProduceFrame()
	}
	assert.Equal(t, KindSinglePassage, mx.State(), "ramp should complete after ResumeRampFrames")
	assert.InDelta(t, 1.0, last[0], 1e-6)
}
