package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/opendeepresearch/taskstream/internal/metrics"
	"github.com/opendeepresearch/taskstream/internal/replay"
)

// heartbeatInterval keeps intermediary proxies from closing an idle
// SSE connection. Grounded on the teacher's streaming SSE handler,
// which uses the same keep-alive ticker pattern.
const heartbeatInterval = 10 * time.Second

// flushSink adapts an http.ResponseWriter into a replay.Sink, writing
// one SSE frame per Send and flushing immediately.
type flushSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func (s flushSink) Send(f replay.Frame) error {
	if _, err := fmt.Fprintf(s.w, "event: %s\n", f.Kind); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", f.Data); err != nil {
		return err
	}
	s.flusher.Flush()
	metrics.ReplayFramesSent.WithLabelValues(string(f.Kind)).Inc()
	return nil
}

// handleReplay serves GET /chat/replay?thread_id=&query_id=&offset=&continuous=
func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	threadID := q.Get("thread_id")
	if threadID == "" {
		writeError(w, http.StatusBadRequest, "thread_id is required")
		return
	}
	queryID := q.Get("query_id")
	if queryID == "" {
		queryID = replay.AliasDefault
	}
	offsetParam := q.Get("offset")
	if offsetParam == "" {
		if lastEventID := r.Header.Get("Last-Event-ID"); lastEventID != "" {
			offsetParam = lastEventID
		}
	}
	continuous := q.Get("continuous") == "true" || q.Get("continuous") == "1"

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	sink := flushSink{w: w, flusher: flusher}

	metrics.ReplayConnectionsActive.Inc()
	defer metrics.ReplayConnectionsActive.Dec()

	done := make(chan error, 1)
	go func() {
		done <- s.replayer.Serve(ctx, replay.Request{
			ThreadID:   threadID,
			QueryID:    queryID,
			Offset:     offsetParam,
			Continuous: continuous,
		}, sink)
	}()

	hb := time.NewTicker(heartbeatInterval)
	defer hb.Stop()

	for {
		select {
		case err := <-done:
			if err != nil {
				s.logger.Warn("replay: stream ended with error", zap.String("thread_id", threadID), zap.Error(err))
			}
			return
		case <-hb.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}
