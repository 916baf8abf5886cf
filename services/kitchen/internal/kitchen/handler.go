package kitchen

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/telemetry"
	"github.com/appetiteclub/kds/pkg/enums/ticketstate"
	"github.com/appetiteclub/kds/pkg/routing"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const MaxBodyBytes = 1 << 20

type HandlerDeps struct {
	Ingestor *Ingestor
	Engine   *Engine
	Router   *routing.Router
}

type Handler struct {
	ingestor *Ingestor
	engine   *Engine
	router   *routing.Router
	logger   apt.Logger
	config   *apt.Config
	tlm      *telemetry.HTTP
}

func NewHandler(deps HandlerDeps, config *apt.Config, logger apt.Logger) *Handler {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	router := deps.Router
	if router == nil {
		router = routing.NewRouter(nil)
	}
	return &Handler{
		ingestor: deps.Ingestor,
		engine:   deps.Engine,
		router:   router,
		logger:   logger,
		config:   config,
		tlm:      telemetry.NewHTTP(),
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.CreateOrder)
		r.Get("/{id}", h.GetOrder)
		r.Post("/{id}/void", h.VoidOrder)
	})
	r.Route("/tickets", func(r chi.Router) {
		r.Get("/{id}", h.GetTicket)
		r.Patch("/{id}/advance", h.AdvanceTicket)
		r.Patch("/{id}/recall", h.RecallTicket)
		r.Patch("/{id}/void", h.VoidTicket)
	})
	r.Get("/stations", h.ListStations)
	r.Get("/stations/{id}/queue", h.StationQueue)
}

func (h *Handler) log(r *http.Request) apt.Logger {
	return h.logger.With("request_id", apt.RequestIDFrom(r.Context()))
}

type orderRequest struct {
	ID       string            `json:"id"`
	TableRef string            `json:"table_ref"`
	Origin   string            `json:"origin"`
	Items    []lineItemRequest `json:"items"`
}

type lineItemRequest struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Category  string   `json:"category"`
	Quantity  int      `json:"quantity"`
	Modifiers []string `json:"modifiers"`
}

func (req orderRequest) toOrder() (Order, error) {
	id, err := uuid.Parse(req.ID)
	if err != nil {
		return Order{}, errors.New("Invalid order ID")
	}
	order := Order{
		ID:       id,
		TableRef: req.TableRef,
		Origin:   Origin(req.Origin),
	}
	for _, it := range req.Items {
		item := LineItem{
			Name:      it.Name,
			Category:  it.Category,
			Quantity:  it.Quantity,
			Modifiers: it.Modifiers,
		}
		if it.ID != "" {
			itemID, err := uuid.Parse(it.ID)
			if err != nil {
				return Order{}, errors.New("Invalid line item ID")
			}
			item.ID = itemID
		}
		order.Items = append(order.Items, item)
	}
	return order, nil
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.CreateOrder")
	defer finish()
	log := h.log(r)
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		apt.RespondError(w, http.StatusBadRequest, "Could not read request body")
		return
	}

	var req orderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		apt.RespondError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}

	order, err := req.toOrder()
	if err != nil {
		apt.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.ingestor.Ingest(ctx, order)
	if err != nil {
		h.respondError(w, log, err, "ingest order")
		return
	}

	status := http.StatusCreated
	if result.Existing {
		status = http.StatusOK
	}
	apt.Respond(w, status, result, nil)
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.GetOrder")
	defer finish()
	log := h.log(r)
	ctx := r.Context()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		apt.RespondError(w, http.StatusBadRequest, "Invalid order ID")
		return
	}

	order, err := h.engine.store.FindOrder(ctx, id)
	if err != nil {
		h.respondError(w, log, err, "find order")
		return
	}
	if order == nil {
		apt.RespondError(w, http.StatusNotFound, "Order not found")
		return
	}

	tickets, err := h.engine.OrderTickets(ctx, id)
	if err != nil {
		h.respondError(w, log, err, "list order tickets")
		return
	}

	apt.Respond(w, http.StatusOK, map[string]interface{}{
		"order":   order,
		"tickets": tickets,
	}, nil)
}

func (h *Handler) VoidOrder(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.VoidOrder")
	defer finish()
	log := h.log(r)
	ctx := r.Context()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		apt.RespondError(w, http.StatusBadRequest, "Invalid order ID")
		return
	}

	order, err := h.engine.VoidOrder(ctx, id)
	if err != nil {
		h.respondError(w, log, err, "void order")
		return
	}

	apt.Respond(w, http.StatusOK, order, nil)
}

func (h *Handler) GetTicket(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.GetTicket")
	defer finish()
	log := h.log(r)
	ctx := r.Context()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		apt.RespondError(w, http.StatusBadRequest, "Invalid ticket ID")
		return
	}

	ticket, err := h.engine.Ticket(ctx, id)
	if err != nil {
		h.respondError(w, log, err, "find ticket")
		return
	}

	apt.Respond(w, http.StatusOK, ticket, nil)
}

func (h *Handler) AdvanceTicket(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "Handler.AdvanceTicket", h.engine.Advance)
}

func (h *Handler) RecallTicket(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "Handler.RecallTicket", h.engine.Recall)
}

func (h *Handler) VoidTicket(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "Handler.VoidTicket", h.engine.Void)
}

type transitionFunc func(ctx context.Context, id TicketID) (ticketstate.State, error)

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, span string, apply transitionFunc) {
	w, r, finish := h.tlm.Start(w, r, span)
	defer finish()
	log := h.log(r)
	ctx := r.Context()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		apt.RespondError(w, http.StatusBadRequest, "Invalid ticket ID")
		return
	}

	if _, err := apply(ctx, id); err != nil {
		h.respondError(w, log, err, "transition ticket")
		return
	}

	ticket, err := h.engine.Ticket(ctx, id)
	if err != nil {
		h.respondError(w, log, err, "find ticket")
		return
	}

	apt.Respond(w, http.StatusOK, ticket, nil)
}

func (h *Handler) ListStations(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.ListStations")
	defer finish()

	table := h.router.Current()
	stations := make([]Station, 0)
	for _, s := range table.Stations() {
		stations = append(stations, Station{
			ID:   s.ID,
			Name: s.Name,
			Type: s.Type,
			Expo: s.ID == table.ExpoStation(),
		})
	}

	apt.Respond(w, http.StatusOK, map[string]interface{}{
		"stations": stations,
	}, nil)
}

func (h *Handler) StationQueue(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.StationQueue")
	defer finish()

	id := chi.URLParam(r, "id")
	if _, ok := h.router.Current().Station(id); !ok {
		apt.RespondError(w, http.StatusNotFound, "Station not found")
		return
	}

	apt.Respond(w, http.StatusOK, map[string]interface{}{
		"station_id": id,
		"tickets":    h.engine.board.StationSnapshot(id),
	}, nil)
}

func (h *Handler) respondError(w http.ResponseWriter, log apt.Logger, err error, action string) {
	switch {
	case errors.Is(err, ErrInvalidOrder):
		apt.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrTicketNotFound):
		apt.RespondError(w, http.StatusNotFound, "Ticket not found")
	case errors.Is(err, ErrOrderNotFound):
		apt.RespondError(w, http.StatusNotFound, "Order not found")
	case errors.Is(err, ErrRecallLimitExceeded):
		apt.RespondError(w, http.StatusConflict, "Recall limit exceeded, ticket needs manual handling")
	case errors.Is(err, ErrExpoNotReady),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrTicketTerminal):
		apt.RespondError(w, http.StatusConflict, err.Error())
	default:
		log.Errorf("cannot %s: %v", action, err)
		apt.RespondError(w, http.StatusInternalServerError, "Could not "+action)
	}
}
