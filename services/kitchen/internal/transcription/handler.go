package transcription

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/telemetry"
	"github.com/appetiteclub/kds/services/kitchen/internal/kitchen"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Voice payloads carry raw audio, so the body limit is larger than for
// POS orders.
const MaxVoiceBodyBytes = 16 << 20

const manualEntryMessage = "Could not transcribe the order, enter the order manually"

type Handler struct {
	bridge *Bridge
	guard  *Guard
	logger apt.Logger
	tlm    *telemetry.HTTP
}

func NewHandler(bridge *Bridge, guard *Guard, logger apt.Logger) *Handler {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &Handler{
		bridge: bridge,
		guard:  guard,
		logger: logger,
		tlm:    telemetry.NewHTTP(),
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/voice-orders", h.SubmitVoiceOrder)
	r.Get("/voice-orders/budget", h.Budget)
}

type voiceOrderRequest struct {
	OrderID   string `json:"order_id"`
	SessionID string `json:"session_id"`
	TableRef  string `json:"table_ref"`
	Priority  string `json:"priority"`
	// Audio is base64 encoded.
	Audio []byte `json:"audio"`
}

func (req voiceOrderRequest) toVoiceOrder() (VoiceOrder, error) {
	vo := VoiceOrder{
		SessionID: req.SessionID,
		TableRef:  req.TableRef,
		Priority:  ParsePriority(req.Priority),
		Audio:     req.Audio,
	}
	if req.OrderID != "" {
		id, err := uuid.Parse(req.OrderID)
		if err != nil {
			return VoiceOrder{}, errors.New("Invalid order ID")
		}
		vo.OrderID = id
	}
	if len(vo.Audio) == 0 {
		return VoiceOrder{}, errors.New("Audio is required")
	}
	return vo, nil
}

func (h *Handler) SubmitVoiceOrder(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.SubmitVoiceOrder")
	defer finish()
	log := h.logger.With("request_id", apt.RequestIDFrom(r.Context()))

	r.Body = http.MaxBytesReader(w, r.Body, MaxVoiceBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		apt.RespondError(w, http.StatusBadRequest, "Could not read request body")
		return
	}

	var req voiceOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		apt.RespondError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}
	vo, err := req.toVoiceOrder()
	if err != nil {
		apt.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.bridge.Submit(r.Context(), vo)
	switch {
	case err == nil:
	case errors.Is(err, ErrManualEntryRequired):
		apt.RespondError(w, http.StatusServiceUnavailable, manualEntryMessage)
		return
	case errors.Is(err, kitchen.ErrInvalidOrder):
		apt.RespondError(w, http.StatusBadRequest, err.Error())
		return
	default:
		log.Errorf("cannot submit voice order: %v", err)
		apt.RespondError(w, http.StatusInternalServerError, "Could not submit voice order")
		return
	}

	status := http.StatusCreated
	if result.Existing {
		status = http.StatusOK
	}
	apt.Respond(w, status, result, nil)
}

func (h *Handler) Budget(w http.ResponseWriter, r *http.Request) {
	state, ok := h.guard.Budget()
	if !ok {
		apt.RespondError(w, http.StatusNotFound, "No transcription budget configured")
		return
	}
	apt.Respond(w, http.StatusOK, state, nil)
}
