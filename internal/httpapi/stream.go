package httpapi

import (
	"context"
	"fmt"
	"net/http"

	"userboard.io/internal/events"
)

// Stream relays lifecycle events to admins as Server-Sent Events. The
// optional "topic" query parameter narrows the feed to one topic.
func (a *API) Stream(w http.ResponseWriter, r *http.Request) {
	if a.bus == nil {
		writeError(w, r, http.StatusServiceUnavailable, "event stream disabled")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	topic := r.URL.Query().Get("topic")
	if topic == "" {
		topic = events.AllTopics
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	ch := a.bus.Subscribe(ctx, topic)

	_, _ = w.Write([]byte(": stream started\n\n"))
	flusher.Flush()

	for evt := range ch {
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Topic, evt.Payload); err != nil {
			return
		}
		flusher.Flush()
	}
}
