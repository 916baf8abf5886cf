package hub

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/appetiteclub/apt"
	"github.com/go-chi/chi/v5"
)

const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
	cursorParam    = "cursor."
)

// SSEHandler streams station events to browser displays.
type SSEHandler struct {
	hub    *Hub
	logger apt.Logger
}

func NewSSEHandler(h *Hub, logger apt.Logger) *SSEHandler {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &SSEHandler{hub: h, logger: logger}
}

func (h *SSEHandler) RegisterRoutes(r chi.Router) {
	r.Get("/displays/stream", h.Stream)
}

// Stream serves GET /displays/stream?station=a&station=b&cursor.a=12, or
// all=1 for every station. A reconnecting EventSource resumes from its
// Last-Event-ID.
func (h *SSEHandler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		apt.RespondError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	req, err := parseStreamRequest(r)
	if err != nil {
		apt.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	sub, err := h.hub.Subscribe(ctx, req)
	if err != nil {
		respondSubscribeError(w, err)
		return
	}
	defer sub.Close()

	log := h.logger.With("subscription_id", sub.ID, "request_id", apt.RequestIDFrom(ctx))
	log.Info("SSE display connected")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, "retry: 2000\n\n")
	flusher.Flush()

	err = pump(ctx, sub, h.hub.Config().KeepAlive, func(f Frame) error {
		if err := writeSSEFrame(w, f); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	log.Info("SSE display disconnected", "reason", err)
}

func writeSSEFrame(w http.ResponseWriter, f Frame) error {
	if f.Type == FrameHeartbeat {
		_, err := fmt.Fprintf(w, ": keepalive\n\n")
		return err
	}

	var payload interface{} = f.Event
	if f.Type == FrameSnapshot {
		payload = f.Snapshot
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", EncodeCursors(f.Cursors), f.Type, data)
	return err
}

func parseStreamRequest(r *http.Request) (SubscribeRequest, error) {
	q := r.URL.Query()
	req := SubscribeRequest{
		Identity: Identity{
			UserID: r.Header.Get(HeaderUserID),
			Role:   r.Header.Get(HeaderUserRole),
		},
		Cursors: make(map[string]uint64),
	}

	for _, v := range q["station"] {
		for _, st := range strings.Split(v, ",") {
			if st = strings.TrimSpace(st); st != "" {
				req.Stations = append(req.Stations, st)
			}
		}
	}

	switch strings.ToLower(q.Get("all")) {
	case "1", "true", "yes":
		req.All = true
	}

	for key, vals := range q {
		if !strings.HasPrefix(key, cursorParam) || len(vals) == 0 {
			continue
		}
		seq, err := strconv.ParseUint(vals[0], 10, 64)
		if err != nil {
			return SubscribeRequest{}, fmt.Errorf("invalid %s", key)
		}
		req.Cursors[strings.TrimPrefix(key, cursorParam)] = seq
	}

	// The browser replays the original URL on reconnect; its Last-Event-ID
	// is newer than the query cursors.
	if last := r.Header.Get("Last-Event-ID"); last != "" {
		cursors, err := DecodeCursors(last)
		if err != nil {
			return SubscribeRequest{}, fmt.Errorf("invalid Last-Event-ID: %w", err)
		}
		for st, seq := range cursors {
			req.Cursors[st] = seq
		}
	}

	return req, nil
}

func respondSubscribeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrForbidden):
		apt.RespondError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, ErrUnknownStation):
		apt.RespondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrNoStations):
		apt.RespondError(w, http.StatusBadRequest, err.Error())
	default:
		apt.RespondError(w, http.StatusInternalServerError, "Could not subscribe display")
	}
}
