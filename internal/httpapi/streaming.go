package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/probeai/orchestrator/internal/streaming"
)

// streamFilter holds the optional query parameters shared by SSE and WS.
type streamFilter struct {
	types  map[string]struct{}
	lastID uint64
}

func parseStreamFilter(r *http.Request) streamFilter {
	f := streamFilter{types: map[string]struct{}{}}
	if s := r.URL.Query().Get("types"); s != "" {
		for _, t := range strings.Split(s, ",") {
			t = strings.TrimSpace(t)
			if t != "" {
				f.types[t] = struct{}{}
			}
		}
	}
	// Last-Event-ID header wins over the query fallback
	if lei := r.Header.Get("Last-Event-ID"); lei != "" {
		if n, err := strconv.ParseUint(lei, 10, 64); err == nil {
			f.lastID = n
		}
	}
	if q := r.URL.Query().Get("last_event_id"); q != "" && f.lastID == 0 {
		if n, err := strconv.ParseUint(q, 10, 64); err == nil {
			f.lastID = n
		}
	}
	return f
}

func (f streamFilter) allows(ev streaming.Event) bool {
	if len(f.types) == 0 {
		return true
	}
	_, ok := f.types[ev.Type]
	return ok
}

// handleSSE streams the events of one session as Server-Sent Events. The
// buffered backlog after Last-Event-ID (all of it when absent) is replayed
// before live events.
func (h *Handler) handleSSE(w http.ResponseWriter, r *http.Request) {
	s, err := h.owned(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	filter := parseStreamFilter(r)

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	// Subscribe before replaying so nothing published in between is lost.
	ch := h.stream.Subscribe(s.ID, 256)
	defer h.stream.Unsubscribe(s.ID, ch)

	fmt.Fprintf(w, ": connected to session %s\n\n", s.ID)
	flusher.Flush()

	lastSent := filter.lastID
	for _, ev := range h.stream.ReplaySince(s.ID, filter.lastID) {
		if filter.allows(ev) {
			writeSSE(w, ev)
		}
		lastSent = ev.Seq
	}
	flusher.Flush()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.Seq <= lastSent {
				continue
			}
			lastSent = ev.Seq
			if !filter.allows(ev) {
				continue
			}
			writeSSE(w, ev)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, ev streaming.Event) {
	fmt.Fprintf(w, "id: %d\n", ev.Seq)
	fmt.Fprintf(w, "event: %s\n", ev.Type)
	fmt.Fprintf(w, "data: %s\n\n", ev.Marshal())
}
