package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"gatewayd/internal/feed"
)

const maxBacklogLines = 500

// handleTerminalEvents is the live terminal feed over SSE. The client
// first receives a meta event, then the filtered backlog, then live
// events until it disconnects. Keepalive comments hold intermediaries
// open during quiet periods.
func (app *Application) handleTerminalEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	lines := app.Cfg.Feed.BacklogLines
	if v := r.URL.Query().Get("backlog"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			lines = n
		}
	}
	if lines < 1 {
		lines = 1
	}
	if lines > maxBacklogLines {
		lines = maxBacklogLines
	}
	minLevel := feed.NormalizeLevel(r.URL.Query().Get("level"), app.Cfg.Feed.DefaultLevel)
	sources := feed.ParseSourceFilter(r.URL.Query().Get("sources"))

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	// Subscribe before reading the backlog so no event can fall in the
	// gap between the two.
	sub := app.Feed.Subscribe()
	defer app.Feed.Unsubscribe(sub)

	meta := map[string]any{"instance": app.Cfg.InstanceID, "bus_mode": app.busMode()}
	writeSSE(w, "meta", meta)
	for _, ev := range app.Feed.Backlog(lines, minLevel, sources) {
		writeSSE(w, "log", ev)
	}
	flusher.Flush()

	keepalive := time.Duration(app.Cfg.Feed.KeepaliveSeconds * float64(time.Second))
	if keepalive <= 0 {
		keepalive = 15 * time.Second
	}
	ticker := time.NewTicker(keepalive)
	defer ticker.Stop()

	for {
		select {
		case ev := <-sub.Events():
			if !ev.Matches(minLevel, sources) {
				continue
			}
			writeSSE(w, "log", ev)
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			return
		case <-app.baseCtx().Done():
			return
		}
	}
}

func (app *Application) handleTerminalStats(w http.ResponseWriter, r *http.Request) {
	st := app.Feed.Stats()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"instance":                     app.Cfg.InstanceID,
		"bus_mode":                     app.busMode(),
		"buffer_size":                  st.BufferLen,
		"subscriber_count":             st.Subscribers,
		"dropped_events":               st.Dropped,
		"distributed_publish_failures": st.DistributorFailures,
	})
}

func (app *Application) busMode() string {
	if app.Cfg.Bus.RedisURL != "" {
		return "redis"
	}
	return "local"
}

func writeSSE(w http.ResponseWriter, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}
