package kitchen

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/kds/pkg/routing"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

func newTestServer(k *testKitchen) http.Handler {
	h := NewHandler(HandlerDeps{
		Ingestor: k.ingestor,
		Engine:   k.engine,
		Router:   routing.NewRouter(scenarioTable()),
	}, apt.NewConfig(), apt.NewNoopLogger())
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return r
}

func doRequest(t *testing.T, srv http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("cannot encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("cannot decode response: %v (%s)", err, w.Body.String())
	}
	data, ok := resp["data"].(map[string]interface{})
	if !ok {
		t.Fatalf("Response does not contain data object: %s", w.Body.String())
	}
	return data
}

func orderPayload(id uuid.UUID) map[string]interface{} {
	return map[string]interface{}{
		"id":        id.String(),
		"table_ref": "T9",
		"items": []map[string]interface{}{
			{"name": "Steak", "category": "grill", "quantity": 1},
			{"name": "Fries", "category": "fry", "quantity": 1, "modifiers": []string{"extra salt"}},
		},
	}
}

func TestNewHandler(t *testing.T) {
	tests := []struct {
		name   string
		deps   HandlerDeps
		config *apt.Config
		logger apt.Logger
	}{
		{
			name:   "withAllDependencies",
			deps:   HandlerDeps{Router: routing.NewRouter(nil)},
			config: apt.NewConfig(),
			logger: apt.NewNoopLogger(),
		},
		{
			name:   "withNilLogger",
			deps:   HandlerDeps{},
			config: apt.NewConfig(),
			logger: nil,
		},
		{
			name:   "withEmptyDeps",
			deps:   HandlerDeps{},
			config: nil,
			logger: apt.NewNoopLogger(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(tt.deps, tt.config, tt.logger)
			if h == nil {
				t.Fatal("NewHandler() returned nil")
			}
			if h.router == nil {
				t.Error("NewHandler() left the router nil")
			}
		})
	}
}

func TestHandlerCreateOrder(t *testing.T) {
	tests := []struct {
		name           string
		body           interface{}
		expectedStatus int
		expectedCount  int
	}{
		{
			name:           "validOrder",
			body:           orderPayload(uuid.New()),
			expectedStatus: http.StatusCreated,
			expectedCount:  3,
		},
		{
			name:           "invalidJSON",
			body:           "{not json",
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "invalidOrderID",
			body:           map[string]interface{}{"id": "nope", "items": []interface{}{}},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "noItems",
			body:           map[string]interface{}{"id": uuid.New().String()},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "invalidLineItemID",
			body: map[string]interface{}{
				"id":    uuid.New().String(),
				"items": []map[string]interface{}{{"id": "bad", "category": "grill", "quantity": 1}},
			},
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(newTestKitchen(EngineConfig{}))
			w := doRequest(t, srv, http.MethodPost, "/orders", tt.body)

			if w.Code != tt.expectedStatus {
				t.Fatalf("CreateOrder() status = %d, want %d (%s)", w.Code, tt.expectedStatus, w.Body.String())
			}
			if tt.expectedStatus == http.StatusCreated {
				data := decodeData(t, w)
				ids, ok := data["ticket_ids"].([]interface{})
				if !ok || len(ids) != tt.expectedCount {
					t.Errorf("ticket_ids = %v, want %d ids", data["ticket_ids"], tt.expectedCount)
				}
			}
		})
	}
}

func TestHandlerCreateOrderIdempotent(t *testing.T) {
	srv := newTestServer(newTestKitchen(EngineConfig{}))
	payload := orderPayload(uuid.New())

	if w := doRequest(t, srv, http.MethodPost, "/orders", payload); w.Code != http.StatusCreated {
		t.Fatalf("first CreateOrder() status = %d", w.Code)
	}

	w := doRequest(t, srv, http.MethodPost, "/orders", payload)
	if w.Code != http.StatusOK {
		t.Fatalf("repeated CreateOrder() status = %d, want %d", w.Code, http.StatusOK)
	}
	if existing, _ := decodeData(t, w)["existing"].(bool); !existing {
		t.Error("repeated CreateOrder() existing = false, want true")
	}
}

func TestHandlerGetOrder(t *testing.T) {
	k := newTestKitchen(EngineConfig{})
	srv := newTestServer(k)
	order := ingestScenario(t, k)

	tests := []struct {
		name           string
		path           string
		expectedStatus int
	}{
		{name: "existingOrder", path: "/orders/" + order.ID.String(), expectedStatus: http.StatusOK},
		{name: "unknownOrder", path: "/orders/" + uuid.New().String(), expectedStatus: http.StatusNotFound},
		{name: "invalidID", path: "/orders/not-a-uuid", expectedStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(t, srv, http.MethodGet, tt.path, nil)
			if w.Code != tt.expectedStatus {
				t.Fatalf("GetOrder() status = %d, want %d", w.Code, tt.expectedStatus)
			}
			if tt.expectedStatus == http.StatusOK {
				tickets, _ := decodeData(t, w)["tickets"].([]interface{})
				if len(tickets) != 3 {
					t.Errorf("tickets = %d, want 3", len(tickets))
				}
			}
		})
	}
}

func TestHandlerTicketTransitions(t *testing.T) {
	k := newTestKitchen(EngineConfig{})
	srv := newTestServer(k)
	order := ingestScenario(t, k)
	grill := k.ticketAt(order.ID, "A").ID.String()
	expo := k.ticketAt(order.ID, "C").ID.String()

	steps := []struct {
		name           string
		method         string
		path           string
		expectedStatus int
		expectedState  string
	}{
		{"getTicket", http.MethodGet, "/tickets/" + grill, http.StatusOK, "queued"},
		{"recallQueued", http.MethodPatch, "/tickets/" + grill + "/recall", http.StatusConflict, ""},
		{"advanceToInProgress", http.MethodPatch, "/tickets/" + grill + "/advance", http.StatusOK, "in_progress"},
		{"advanceToReady", http.MethodPatch, "/tickets/" + grill + "/advance", http.StatusOK, "ready"},
		{"recallReady", http.MethodPatch, "/tickets/" + grill + "/recall", http.StatusOK, "in_progress"},
		{"expoToInProgress", http.MethodPatch, "/tickets/" + expo + "/advance", http.StatusOK, "in_progress"},
		{"expoNotReady", http.MethodPatch, "/tickets/" + expo + "/advance", http.StatusConflict, ""},
		{"voidTicket", http.MethodPatch, "/tickets/" + grill + "/void", http.StatusOK, "voided"},
		{"voidAgain", http.MethodPatch, "/tickets/" + grill + "/void", http.StatusConflict, ""},
		{"unknownTicket", http.MethodPatch, "/tickets/" + uuid.New().String() + "/advance", http.StatusNotFound, ""},
		{"invalidTicketID", http.MethodGet, "/tickets/bad", http.StatusBadRequest, ""},
	}

	for _, st := range steps {
		w := doRequest(t, srv, st.method, st.path, nil)
		if w.Code != st.expectedStatus {
			t.Fatalf("%s: status = %d, want %d (%s)", st.name, w.Code, st.expectedStatus, w.Body.String())
		}
		if st.expectedState != "" {
			if got, _ := decodeData(t, w)["state"].(string); got != st.expectedState {
				t.Errorf("%s: state = %s, want %s", st.name, got, st.expectedState)
			}
		}
	}
}

func TestHandlerRecallLimit(t *testing.T) {
	k := newTestKitchen(EngineConfig{RecallLimit: 1})
	srv := newTestServer(k)
	order := ingestScenario(t, k)
	grill := k.ticketAt(order.ID, "A").ID

	advanceTo(t, k, grill, states.Ready)
	if w := doRequest(t, srv, http.MethodPatch, "/tickets/"+grill.String()+"/recall", nil); w.Code != http.StatusOK {
		t.Fatalf("first recall status = %d", w.Code)
	}
	advanceTo(t, k, grill, states.Ready)

	w := doRequest(t, srv, http.MethodPatch, "/tickets/"+grill.String()+"/recall", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("recall past limit status = %d, want %d", w.Code, http.StatusConflict)
	}
}

func TestHandlerVoidOrder(t *testing.T) {
	k := newTestKitchen(EngineConfig{})
	srv := newTestServer(k)
	order := ingestScenario(t, k)

	w := doRequest(t, srv, http.MethodPost, "/orders/"+order.ID.String()+"/void", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("VoidOrder() status = %d, want %d", w.Code, http.StatusOK)
	}
	if _, ok := decodeData(t, w)["voided_at"]; !ok {
		t.Error("VoidOrder() response has no voided_at")
	}

	w = doRequest(t, srv, http.MethodPost, "/orders/"+uuid.New().String()+"/void", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("VoidOrder(unknown) status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestHandlerStations(t *testing.T) {
	k := newTestKitchen(EngineConfig{})
	srv := newTestServer(k)
	ingestScenario(t, k)

	w := doRequest(t, srv, http.MethodGet, "/stations", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("ListStations() status = %d", w.Code)
	}
	stations, _ := decodeData(t, w)["stations"].([]interface{})
	if len(stations) != 3 {
		t.Errorf("stations = %d, want 3", len(stations))
	}

	tests := []struct {
		name           string
		station        string
		expectedStatus int
		expectedCount  int
	}{
		{name: "grillQueue", station: "A", expectedStatus: http.StatusOK, expectedCount: 1},
		{name: "expoQueue", station: "C", expectedStatus: http.StatusOK, expectedCount: 1},
		{name: "unknownStation", station: "Z", expectedStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(t, srv, http.MethodGet, "/stations/"+tt.station+"/queue", nil)
			if w.Code != tt.expectedStatus {
				t.Fatalf("StationQueue() status = %d, want %d", w.Code, tt.expectedStatus)
			}
			if tt.expectedStatus == http.StatusOK {
				tickets, _ := decodeData(t, w)["tickets"].([]interface{})
				if len(tickets) != tt.expectedCount {
					t.Errorf("tickets = %d, want %d", len(tickets), tt.expectedCount)
				}
			}
		})
	}
}
