package decoder

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/wkmp/playback/pkg/buffermanager"
	"github.com/wkmp/playback/pkg/decodepipeline"
	"github.com/wkmp/playback/pkg/events"
	"github.com/wkmp/playback/pkg/fade"
	"github.com/wkmp/playback/pkg/tick"
	"github.com/wkmp/playback/pkg/types"
)

func writeTestWAV(t *testing.T, path string, rate, channels int, samples []int16) {
	t.Helper()

	dataSize := len(samples) * 2
	byteRate := rate * channels * 2
	blockAlign := channels * 2

	buf := make([]byte, 0, 44+dataSize)
	buf = append(buf, "RIFF"...)
	buf = appendUint32(buf, uint32(36+dataSize))
	buf = append(buf, "WAVE"...)
	buf = append(buf, "fmt "...)
	buf = appendUint32(buf, 16)
	buf = appendUint16(buf, 1)
	buf = appendUint16(buf, uint16(channels))
	buf = appendUint32(buf, uint32(rate))
	buf = appendUint32(buf, uint32(byteRate))
	buf = appendUint16(buf, uint16(blockAlign))
	buf = appendUint16(buf, 16)
	buf = append(buf, "data"...)
	buf = appendUint32(buf, uint32(dataSize))
	for _, s := range samples {
		buf = appendUint16(buf, uint16(s))
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("failed to write test WAV: %v", err)
	}
}

func appendUint32(b []byte, v uint32) []byte {
	tmp := make([]byte, 4)
	binary.LittleEndian.PutUint32(tmp, v)
	return append(b, tmp...)
}

func appendUint16(b []byte, v uint16) []byte {
	tmp := make([]byte, 2)
	binary.LittleEndian.PutUint16(tmp, v)
	return append(b, tmp...)
}

func makeTonePassage(t *testing.T, dir, name string, ms int) (*types.Passage, string) {
	t.Helper()
	path := filepath.Join(dir, name)
	const rate = 44100
	frameCount := rate * ms / 1000
	samples := make([]int16, frameCount)
	for i := range samples {
		samples[i] = int16((i % 2000) - 1000)
	}
	writeTestWAV(t, path, rate, 1, samples)

	end := tick.MsToTicks(int64(ms))
	return &types.Passage{
		FilePath:     path,
		StartTime:    0,
		FadeInPoint:  0,
		FadeOutPoint: end,
		EndTime:      &end,
		FadeInCurve:  fade.Linear,
		FadeOutCurve: fade.Linear,
	}, path
}

func testThresholds() buffermanager.Thresholds {
	return buffermanager.Thresholds{ReadyFrames: 100, FirstPassageFrames: 50, ExhaustionFrames: 10}
}

func TestDecoderRunsTwoPassagesToCompletion(t *testing.T) {
	dir := t.TempDir()
	bus := events.NewBus()
	manager := buffermanager.New(2, testThresholds(), bus)
	manager.Register(0, "q1", 1<<20)
	manager.Register(1, "q2", 1<<20)

	p1, _ := makeTonePassage(t, dir, "a.wav", 50)
	p2, _ := makeTonePassage(t, dir, "b.wav", 50)

	var mu sync.Mutex
	completed := map[string]bool{}
	done := make(chan struct{}, 2)

	d := New(manager, func(req Request) (*decodepipeline.Pipeline, error) {
		return decodepipeline.New(manager, req.ChainIndex, req.QueueEntryID, req.Passage)
	}, Callbacks{
		OnComplete: func(id string) {
			mu.Lock()
			completed[id] = true
			mu.Unlock()
			done <- struct{}{}
		},
		OnError: func(id string, err error) {
			t.Errorf("unexpected decode error for %s: %v", id, err)
			done <- struct{}{}
		},
	}, DefaultConfig())
	d.Start()
	defer d.Shutdown()

	d.Submit(Request{QueueEntryID: "q1", ChainIndex: 0, Passage: p1, Priority: Immediate})
	d.Submit(Request{QueueEntryID: "q2", ChainIndex: 1, Passage: p2, Priority: Next})

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for decode completion")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if !completed["q1"] || !completed["q2"] {
		t.Errorf("completed = %v, want both q1 and q2", completed)
	}
}

func TestRequestHeapOrdersByPriorityThenSeq(t *testing.T) {
	h := requestHeap{}
	items := []*queueItem{
		{req: Request{QueueEntryID: "c", Priority: Prefetch}, seq: 1},
		{req: Request{QueueEntryID: "a", Priority: Immediate}, seq: 2},
		{req: Request{QueueEntryID: "b", Priority: Immediate}, seq: 1},
	}
	for _, it := range items {
		h.Push(it)
	}
	// Manually sift since we're not going through container/heap.Push.
	for i := 0; i < len(h); i++ {
		for j := i + 1; j < len(h); j++ {
			if h.Less(j, i) {
				h.Swap(i, j)
			}
		}
	}
	if h[0].req.QueueEntryID != "b" {
		t.Errorf("first = %s, want b (Immediate, earliest seq)", h[0].req.QueueEntryID)
	}
	if h[1].req.QueueEntryID != "a" {
		t.Errorf("second = %s, want a (Immediate, later seq)", h[1].req.QueueEntryID)
	}
	if h[2].req.QueueEntryID != "c" {
		t.Errorf("third = %s, want c (Prefetch)", h[2].req.QueueEntryID)
	}
}

func TestCancelRemovesQueuedRequest(t *testing.T) {
	bus := events.NewBus()
	manager := buffermanager.New(1, testThresholds(), bus)
	manager.Register(0, "q1", 1024)

	d := New(manager, nil, Callbacks{}, DefaultConfig())
	d.Submit(Request{QueueEntryID: "q1", ChainIndex: 0, Priority: Prefetch})
	d.Cancel("q1")

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.heap.Len() != 0 {
		t.Errorf("heap len = %d, want 0 after cancel", d.heap.Len())
	}
}
