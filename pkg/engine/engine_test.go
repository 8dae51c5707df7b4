package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wkmp/playback/pkg/buffermanager"
	"github.com/wkmp/playback/pkg/decoder"
	"github.com/wkmp/playback/pkg/decodepipeline"
	"github.com/wkmp/playback/pkg/fade"
	"github.com/wkmp/playback/pkg/mixer"
	"github.com/wkmp/playback/pkg/outputring"
	"github.com/wkmp/playback/pkg/tick"
	"github.com/wkmp/playback/pkg/types"
)

// fakeSource pairs a manager with per-entry frame fixtures. No test in
// this file uses it: the tests below exercise the engine's
// reconcile/priority wiring without a real decoder.Pipeline (which
// requires an openable audio file).
type fakeSource struct {
	manager *buffermanager.Manager
	frames  map[string][]outputring.Frame // by queue entry id
}

func testConfigSmall() Config {
	cfg := DefaultConfig()
	cfg.MaxDecodeStreams = 2
	cfg.PlayoutBufferFrames = 64
	cfg.Thresholds = buffermanager.Thresholds{ReadyFrames: 2, FirstPassageFrames: 2, ExhaustionFrames: 1}
	cfg.MixerConfig.MinStartLevel = 0
	cfg.PreBufferFrames = 100
	cfg.DefaultCrossfadeFrames = 0
	return cfg
}

func passageAt(path string, endTicks tick.Tick) *types.Passage {
	end := endTicks
	p := &types.Passage{
		FilePath:     path,
		StartTime:    0,
		EndTime:      &end,
		FadeInCurve:  fade.Linear,
		FadeOutCurve: fade.Linear,
	}
	return p
}

// decodepipeline.Pipeline has no exported constructor for a fake, so
// these tests exercise reconcile/priority bookkeeping directly against
// the queue and manager, with a pipeline factory that fails the test if
// it is ever invoked, and without starting the decoder goroutine.
func TestReconcileAssignsPriorityByQueuePosition(t *testing.T) {
	cfg := testConfigSmall()
	e := New(cfg, func(*buffermanager.Manager) decoder.PipelineFactory {
		return func(req decoder.Request) (*decodepipeline.Pipeline, error) {
			return nil, assertNeverCalled(t)
		}
	}, nil)

	id0, err := e.Enqueue(passageAt("a.wav", 44100))
	require.NoError(t, err)
	id1, err := e.Enqueue(passageAt("b.wav", 44100))
	require.NoError(t, err)
	id2, err := e.Enqueue(passageAt("c.wav", 44100))
	require.NoError(t, err)

	e.mu.Lock()
	defer e.mu.Unlock()

	p0 := e.submitted[id0]
	p1 := e.submitted[id1]
	assert.Equal(t, decoder.Immediate, p0.priority)
	assert.False(t, p0.bounded)
	assert.Equal(t, decoder.Next, p1.priority)
	assert.False(t, p1.bounded)

	// Only two chains configured, so the third entry never gets a chain
	// and is never submitted to the decoder at all.
	_, tracked := e.submitted[id2]
	assert.False(t, tracked)
}

func assertNeverCalled(t *testing.T) error {
	t.Helper()
	t.Fatal("pipeline factory should not be invoked in this test")
	return nil
}

func TestRemoveReleasesChainAndPromotesWaitingEntry(t *testing.T) {
	cfg := testConfigSmall()
	e := New(cfg, func(*buffermanager.Manager) decoder.PipelineFactory {
		return func(req decoder.Request) (*decodepipeline.Pipeline, error) {
			return nil, assertNeverCalled(t)
		}
	}, nil)

	id0, _ := e.Enqueue(passageAt("a.wav", 44100))
	_, _ = e.Enqueue(passageAt("b.wav", 44100))
	id2, _ := e.Enqueue(passageAt("c.wav", 44100))

	require.NoError(t, e.Remove(id0))

	e.mu.Lock()
	entry, ok := e.queueMgr.Get(id2)
	e.mu.Unlock()
	require.True(t, ok)
	assert.Equal(t, 0, entry.ChainIndex, "entry c should take over chain 0, freed by removing a")
}

func TestCrossfadeDurationFramesUsesMinOfBothSides(t *testing.T) {
	const rate = 44100
	a := &types.Passage{StartTime: 0}
	end := tick.SecondsToTicks(10)
	a.EndTime = &end
	a.LeadOutPoint = tick.SecondsToTicks(9) // 1s lead-out

	b := &types.Passage{StartTime: 0}
	b.LeadInPoint = tick.SecondsToTicks(2) // 2s lead-in

	got := crossfadeDurationFrames(a, b, 999, rate)
	assert.Equal(t, int64(rate), got, "min(1s, 2s) == 1s worth of frames")
}

func TestCrossfadeDurationFramesFallsBackOnlyWhenBothNonPositive(t *testing.T) {
	const rate = 44100
	a := &types.Passage{StartTime: 0} // EndTime nil -> lead-out unknown/non-positive
	b := &types.Passage{StartTime: 0, LeadInPoint: 0}

	got := crossfadeDurationFrames(a, b, 500, rate)
	assert.Equal(t, int64(500), got)

	end := tick.SecondsToTicks(5)
	a.EndTime = &end
	a.LeadOutPoint = tick.SecondsToTicks(4) // 1s positive lead-out now
	got2 := crossfadeDurationFrames(a, b, 500, rate)
	assert.Equal(t, int64(0), got2, "one positive side is enough to avoid the fallback; min(1s, 0) is 0")
}

func TestSetVolumeRejectsOutOfRange(t *testing.T) {
	cfg := testConfigSmall()
	e := New(cfg, func(*buffermanager.Manager) decoder.PipelineFactory {
		return func(req decoder.Request) (*decodepipeline.Pipeline, error) {
			return nil, assertNeverCalled(t)
		}
	}, nil)

	assert.Error(t, e.SetVolume(-0.1))
	assert.Error(t, e.SetVolume(1.1))
	assert.NoError(t, e.SetVolume(0.5))
}

func TestClearQueueEmptiesQueueAndChains(t *testing.T) {
	cfg := testConfigSmall()
	e := New(cfg, func(*buffermanager.Manager) decoder.PipelineFactory {
		return func(req decoder.Request) (*decodepipeline.Pipeline, error) {
			return nil, assertNeverCalled(t)
		}
	}, nil)

	_, _ = e.Enqueue(passageAt("a.wav", 44100))
	_, _ = e.Enqueue(passageAt("b.wav", 44100))

	require.NoError(t, e.ClearQueue())

	e.mu.Lock()
	defer e.mu.Unlock()
	assert.Equal(t, 0, e.queueMgr.Len())
	assert.Empty(t, e.submitted)
	assert.Equal(t, mixer.KindNone, e.mx.State())
}
