package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/SamuraiBuddha/claude-flow-sub002/internal/events"
	"github.com/SamuraiBuddha/claude-flow-sub002/internal/otel"
)

// sseHandler streams hub events as server-sent events. One subscriber
// channel per connection; the hub drops events for slow readers, so a
// stuck client never backpressures the orchestrator.
func sseHandler(hub *events.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		ch := hub.Subscribe()
		defer hub.Unsubscribe(ch)
		otel.AddSSEConnection()
		defer otel.RemoveSSEConnection()

		// Initial ping so clients know the stream is live.
		_, _ = fmt.Fprintf(w, "data: %s\n\n", `{"type":"connected"}`)
		flusher.Flush()

		keepalive := time.NewTicker(30 * time.Second)
		defer keepalive.Stop()

		ctx := r.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case <-keepalive.C:
				// Comment keepalive.
				_, _ = fmt.Fprint(w, ": keepalive\n\n")
				flusher.Flush()
			case ev, ok := <-ch:
				if !ok {
					return
				}
				b, err := json.Marshal(ev)
				if err != nil {
					continue
				}
				otel.RecordEvent(ctx, ev.Type)
				_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, b)
				flusher.Flush()
			}
		}
	}
}
