package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/calcops/internal/refresh"
	"github.com/seantiz/calcops/internal/store"
)

func (s *Server) handleStreamRunEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	run, err := s.store.GetRun(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "refresh run not found")
		return
	}
	if err != nil {
		s.logger.Error("get run for events", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get refresh run")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, canFlush := w.(http.Flusher)

	// A finished run only gets the done event.
	if run.Terminal() {
		w.WriteHeader(http.StatusOK)
		_ = writeSSEEvent(w, sseDone, refresh.Summary(run))
		if canFlush {
			flusher.Flush()
		}
		return
	}

	// Disable write timeout for long-lived SSE connections.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Error("set write deadline for SSE", "error", err)
	}

	// The subscription replays outcomes published before it. A run that
	// finished after the status check above yields a closed channel, so the
	// loop below goes straight to the done event.
	ch, unsub := s.refresher.Broker().Subscribe(id)
	defer unsub()

	progressStreams.Inc()
	defer progressStreams.Dec()

	w.WriteHeader(http.StatusOK)
	if canFlush {
		flusher.Flush()
	}

	for {
		select {
		case o, ok := <-ch:
			if !ok {
				summary := "stream complete"
				if finished, err := s.store.GetRun(r.Context(), id); err == nil {
					summary = refresh.Summary(finished)
				}
				_ = writeSSEEvent(w, sseDone, summary)
				if canFlush {
					flusher.Flush()
				}
				return
			}
			data, err := json.Marshal(o)
			if err != nil {
				s.logger.Error("encode item outcome", "run_id", id, "error", err)
				continue
			}
			if err := writeSSEData(w, string(data)); err != nil {
				return
			}
			progressEventsTotal.WithLabelValues(sseOutcome).Inc()
			if canFlush {
				flusher.Flush()
			}
		case <-r.Context().Done():
			return
		}
	}
}

// writeSSEData writes a payload as an SSE data event. Multi-line strings are
// split so that each segment gets its own "data:" prefix.
func writeSSEData(w http.ResponseWriter, line string) error {
	for seg := range strings.SplitSeq(line, "\n") {
		if _, err := fmt.Fprintf(w, "data: %s\n", seg); err != nil {
			return err
		}
	}
	// Blank line terminates the event.
	_, err := fmt.Fprint(w, "\n")
	return err
}

// writeSSEEvent writes a named SSE event (event: <type>\ndata: <data>\n\n).
func writeSSEEvent(w http.ResponseWriter, eventType, data string) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	progressEventsTotal.WithLabelValues(eventType).Inc()
	return nil
}
