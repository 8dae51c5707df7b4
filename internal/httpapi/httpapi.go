// Package httpapi is the thin HTTP front door spec.md §1 names as an
// out-of-core-scope collaborator: it exposes the engine's control
// surface (spec.md §6) over HTTP so the engine's public operations can
// be exercised end-to-end, and streams its event feed over
// Server-Sent Events. It holds no playback logic of its own — every
// handler is a JSON-decode-then-delegate-to-pkg/engine call.
package httpapi

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/wkmp/playback/pkg/engine"
	"github.com/wkmp/playback/pkg/fade"
	"github.com/wkmp/playback/pkg/tick"
	"github.com/wkmp/playback/pkg/types"
)

// enqueueRequest is the wire shape of spec.md §6's enqueue operation.
// Millisecond fields are the natural unit for an HTTP caller; they are
// converted to tick.Tick at the boundary, immediately before
// Passage.ApplyDefaults/Validate run.
type enqueueRequest struct {
	FilePath     string `json:"file_path" binding:"required"`
	StartTimeMs  int64  `json:"start_time_ms"`
	EndTimeMs    *int64 `json:"end_time_ms"`
	FadeInMs     int64  `json:"fade_in_ms"`
	LeadInMs     int64  `json:"lead_in_ms"`
	LeadOutMs    int64  `json:"lead_out_ms"`
	FadeOutMs    int64  `json:"fade_out_ms"`
	FadeInCurve  string `json:"fade_in_curve"`
	FadeOutCurve string `json:"fade_out_curve"`
}

func (r enqueueRequest) toPassage() *types.Passage {
	p := &types.Passage{
		FilePath:     r.FilePath,
		StartTime:    tick.MsToTicks(r.StartTimeMs),
		FadeInPoint:  tick.MsToTicks(r.FadeInMs),
		LeadInPoint:  tick.MsToTicks(r.LeadInMs),
		LeadOutPoint: tick.MsToTicks(r.LeadOutMs),
		FadeOutPoint: tick.MsToTicks(r.FadeOutMs),
		FadeInCurve:  fade.ParseCurve(r.FadeInCurve),
		FadeOutCurve: fade.ParseCurve(r.FadeOutCurve),
	}
	if r.EndTimeMs != nil {
		end := tick.MsToTicks(*r.EndTimeMs)
		p.EndTime = &end
	}
	return p
}

type volumeRequest struct {
	Volume float64 `json:"volume"`
}

// NewRouter builds the gin router wired against eng, with no
// middleware beyond panic recovery — there is no auth/session layer in
// scope here, matching spec.md §1's "out of core scope" framing for
// the API surface itself.
func NewRouter(eng *engine.Engine) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.POST("/enqueue", func(c *gin.Context) {
		var req enqueueRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		id, err := eng.Enqueue(req.toPassage())
		if err != nil {
			writeEngineError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": id})
	})

	r.DELETE("/queue/:id", func(c *gin.Context) {
		if err := eng.Remove(c.Param("id")); err != nil {
			writeEngineError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	r.POST("/control/play", controlHandler(eng.Play))
	r.POST("/control/pause", controlHandler(eng.Pause))
	r.POST("/control/skip", controlHandler(eng.SkipNext))
	r.POST("/control/clear", controlHandler(eng.ClearQueue))

	r.POST("/volume", func(c *gin.Context) {
		var req volumeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := eng.SetVolume(req.Volume); err != nil {
			writeEngineError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	r.GET("/events", sseHandler(eng))

	return r
}

func controlHandler(op func() error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := op(); err != nil {
			writeEngineError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func writeEngineError(c *gin.Context, err error) {
	var ee *types.EngineError
	if errors.As(err, &ee) {
		status := http.StatusInternalServerError
		switch ee.Kind {
		case types.ErrKindUnknownQueueEntry:
			status = http.StatusNotFound
		case types.ErrKindInvalidState:
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": ee.Error(), "kind": ee.Kind.String()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

// sseHandler streams eng.Events() to the client as Server-Sent Events
// until the client disconnects, per spec.md §13's GET /events.
func sseHandler(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")

		events := eng.Events()
		c.Stream(func(w io.Writer) bool {
			select {
			case ev, ok := <-events:
				if !ok {
					return false
				}
				c.SSEvent(eventName(ev.Kind), eventPayload(ev))
				return true
			case <-c.Request.Context().Done():
				return false
			}
		})
	}
}

func eventName(kind engine.EventKind) string {
	switch kind {
	case engine.EventPassageStarted:
		return "passage_started"
	case engine.EventPassageCompleted:
		return "passage_completed"
	case engine.EventPositionUpdate:
		return "position_update"
	case engine.EventQueueChanged:
		return "queue_changed"
	case engine.EventVolumeChanged:
		return "volume_changed"
	case engine.EventBufferChainStatus:
		return "buffer_chain_status"
	default:
		return "unknown"
	}
}

func eventPayload(ev engine.Event) gin.H {
	payload := gin.H{}
	if ev.QueueEntryID != "" {
		payload["queue_entry_id"] = ev.QueueEntryID
	}
	if ev.Ticks != 0 {
		payload["ticks"] = int64(ev.Ticks)
	}
	if ev.ErrorKind != types.ErrKindNone {
		payload["error_kind"] = ev.ErrorKind.String()
	}
	if ev.Kind == engine.EventVolumeChanged {
		payload["volume"] = ev.Volume
	}
	if ev.Chains != nil {
		payload["chains"] = ev.Chains
	}
	return payload
}
