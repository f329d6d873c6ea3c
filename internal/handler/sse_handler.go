package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/aditya/towbid/internal/metrics"
	"github.com/aditya/towbid/internal/models"
	"github.com/aditya/towbid/internal/service"
	"github.com/aditya/towbid/pkg/utils"
	"github.com/go-chi/chi/v5"
)

const (
	heartbeatInterval = 15 * time.Second
	streamBatch       = 100
	// Sequence numbers are taken before commit, so a lower seq can become
	// visible after a higher one. Each poll looks back this far.
	seqLookback = 50
)

// Waker signals that something was published for a user. RedisTransport implements it.
type Waker interface {
	Subscribe(ctx context.Context, userID string) (<-chan struct{}, func())
}

// Expirer is run opportunistically while streams are open so lazy expiry
// does not depend solely on the background sweeper.
type Expirer interface {
	ExpireStale(ctx context.Context) (*service.ExpiryResult, error)
}

type SSEHandler struct {
	notifications service.NotificationService
	waker         Waker
	expirer       Expirer
	pollInterval  time.Duration
	maxDuration   time.Duration
}

// NewSSEHandler builds the stream handler. waker and expirer may be nil.
func NewSSEHandler(notifications service.NotificationService, waker Waker, expirer Expirer, pollInterval, maxDuration time.Duration) *SSEHandler {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	if maxDuration <= 0 {
		maxDuration = time.Hour
	}
	return &SSEHandler{
		notifications: notifications,
		waker:         waker,
		expirer:       expirer,
		pollInterval:  pollInterval,
		maxDuration:   maxDuration,
	}
}

func (h *SSEHandler) RegisterRoutes(r chi.Router) {
	r.Get("/notifications/stream", h.Stream)
}

// Stream pushes the caller's unread notifications as server-sent events.
// Clients resume with Last-Event-ID (or ?after=), which carries the last seq seen.
func (h *SSEHandler) Stream(w http.ResponseWriter, r *http.Request) {
	userID := actor(r).UserID

	cursor, err := resumeCursor(r)
	if err != nil {
		utils.BadRequest(w, r, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		handleError(w, r, fmt.Errorf("streaming not supported by response writer"))
		return
	}
	// The server's write timeout would otherwise cut the stream short.
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
		slog.DebugContext(r.Context(), "stream keeps server write deadline", "error", err)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	metrics.LiveStreams.Inc()
	defer metrics.LiveStreams.Dec()

	ctx, cancel := context.WithTimeout(r.Context(), h.maxDuration)
	defer cancel()

	var wake <-chan struct{}
	if h.waker != nil {
		ch, release := h.waker.Subscribe(ctx, userID)
		defer release()
		wake = ch
	}

	poll := time.NewTicker(h.pollInterval)
	defer poll.Stop()
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	st := &streamState{floor: cursor, cursor: cursor, sent: make(map[string]int64)}
	if !h.deliver(ctx, w, flusher, userID, st) {
		return
	}

	for {
		select {
		case <-ctx.Done():
			if r.Context().Err() == nil {
				fmt.Fprint(w, "event: close\ndata: {\"reason\":\"max_duration\"}\n\n")
				flusher.Flush()
			}
			return
		case <-wake:
			if !h.deliver(ctx, w, flusher, userID, st) {
				return
			}
		case <-poll.C:
			if !h.deliver(ctx, w, flusher, userID, st) {
				return
			}
		case <-heartbeat.C:
			h.expire(ctx)
			if _, err := fmt.Fprintf(w, ": heartbeat %d\n\n", time.Now().Unix()); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

type streamState struct {
	// floor is the resume point the client already has everything up to.
	floor  int64
	cursor int64
	// sent maps notification id to seq so a late-committing lower seq is
	// delivered exactly once.
	sent map[string]int64
}

// deliver writes every unread notification not yet sent. It reports false once
// the connection is unusable.
func (h *SSEHandler) deliver(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, userID string, st *streamState) bool {
	from := st.cursor - seqLookback
	if from < st.floor {
		from = st.floor
	}

	list, err := h.notifications.List(ctx, userID, from, true, streamBatch)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		slog.WarnContext(ctx, "stream poll failed", "user_id", userID, "error", err)
		return true
	}

	wrote := false
	for _, n := range list {
		if _, ok := st.sent[n.ID]; ok {
			continue
		}
		if err := writeEvent(w, n); err != nil {
			return false
		}
		st.sent[n.ID] = n.Seq
		if n.Seq > st.cursor {
			st.cursor = n.Seq
		}
		wrote = true
	}
	if wrote {
		flusher.Flush()
	}

	for id, seq := range st.sent {
		if seq < st.cursor-seqLookback {
			delete(st.sent, id)
		}
	}
	return true
}

func (h *SSEHandler) expire(ctx context.Context) {
	if h.expirer == nil {
		return
	}
	if _, err := h.expirer.ExpireStale(ctx); err != nil && ctx.Err() == nil {
		slog.WarnContext(ctx, "opportunistic expiry failed", "error", err)
	}
}

func writeEvent(w http.ResponseWriter, n *models.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", n.Seq, n.Type, data)
	return err
}

func resumeCursor(r *http.Request) (int64, error) {
	raw := r.Header.Get("Last-Event-ID")
	if raw == "" {
		raw = r.URL.Query().Get("after")
	}
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("resume cursor must be a non-negative integer")
	}
	return v, nil
}
