package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/appetiteclub/apt/events"
	"github.com/appetiteclub/kds/pkg/event"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func replayFixture(a *Aggregator) {
	var history []event.TicketEvent
	history = append(history, lifecycle("grill", "t1", 0, map[string]time.Duration{
		"queued": 0, "in_progress": 2 * time.Minute, "ready": 8 * time.Minute, "bumped": 10 * time.Minute,
	})...)
	history = append(history, lifecycle("grill", "t2", 1, map[string]time.Duration{
		"bumped": time.Minute,
	})...)
	history = append(history, lifecycle("fry", "t3", 0, map[string]time.Duration{
		"queued": 0, "in_progress": 3 * time.Minute,
	})...)
	a.Replay(history)
}

func TestReplayTimings(t *testing.T) {
	a := newTestAggregator(Deps{})
	replayFixture(a)

	grill := a.Station("grill")
	if grill.Completed != 2 {
		t.Errorf("Completed = %d, want 2", grill.Completed)
	}
	if grill.Throughput != 1 {
		t.Errorf("Throughput = %d, want 1 (older bump left the window)", grill.Throughput)
	}
	if grill.Load != 0 {
		t.Errorf("grill Load = %d, want 0", grill.Load)
	}
	if grill.AvgToInProgressSecs != 120 {
		t.Errorf("AvgToInProgressSecs = %v, want 120", grill.AvgToInProgressSecs)
	}
	if grill.AvgToReadySecs != 480 {
		t.Errorf("AvgToReadySecs = %v, want 480", grill.AvgToReadySecs)
	}
	if grill.AvgToBumpSecs != 600 {
		t.Errorf("AvgToBumpSecs = %v, want 600 (recalled ticket not sampled)", grill.AvgToBumpSecs)
	}

	fry := a.Station("fry")
	if fry.Load != 1 || fry.Completed != 0 {
		t.Errorf("fry = %+v, want load 1 and nothing completed", fry)
	}
	if fry.AvgToInProgressSecs != 180 {
		t.Errorf("fry AvgToInProgressSecs = %v, want 180", fry.AvgToInProgressSecs)
	}

	if got := testutil.ToFloat64(a.collect.bumps.WithLabelValues("grill")); got != 2 {
		t.Errorf("bumps counter = %v, want 2", got)
	}
	if got := testutil.CollectAndCount(a.collect.toBump); got != 1 {
		t.Errorf("toBump series = %d, want 1", got)
	}
}

func TestReplayDoesNotPersist(t *testing.T) {
	sink := &MockTimingSink{}
	a := newTestAggregator(Deps{Sink: sink})
	replayFixture(a)

	if saved := sink.Saved(); len(saved) != 0 {
		t.Errorf("saved %d timings during replay, want 0", len(saved))
	}
}

func TestVoidedTicketLeavesLoad(t *testing.T) {
	a := newTestAggregator(Deps{})
	evts := lifecycle("grill", "t1", 0, map[string]time.Duration{"queued": 0})
	voided := evts[0]
	voided.State = "voided"
	a.Replay(append(evts, voided))

	if got := a.Station("grill"); got.Load != 0 || got.Completed != 0 {
		t.Errorf("grill = %+v, want empty", got)
	}
}

func TestSnapshotRefreshesLoad(t *testing.T) {
	a := newTestAggregator(Deps{})
	a.Replay(lifecycle("grill", "stale", 0, map[string]time.Duration{"queued": 0}))

	a.applySnapshot(event.StationSnapshot{
		StationID: "grill",
		Sequence:  9,
		Tickets: []event.TicketView{
			{TicketID: "a", StationID: "grill", State: "queued", CreatedAt: baseTime},
			{TicketID: "b", StationID: "grill", State: "ready", CreatedAt: baseTime, StateChangedAt: baseTime.Add(time.Minute)},
		},
	})

	got := a.Station("grill")
	if got.Load != 2 {
		t.Errorf("Load = %d, want 2", got.Load)
	}
	if got.AvgToReadySecs != 0 {
		t.Errorf("AvgToReadySecs = %v, want 0 (snapshots are not sampled)", got.AvgToReadySecs)
	}
	if _, ok := a.tickets["stale"]; ok {
		t.Error("ticket missing from snapshot is still tracked")
	}
}

func TestWarmFromStream(t *testing.T) {
	stream := &MockStreamConsumer{}
	for _, evt := range lifecycle("fry", "t1", 0, map[string]time.Duration{
		"queued": 0, "in_progress": time.Minute, "ready": 4 * time.Minute, "bumped": 6 * time.Minute,
	}) {
		stream.AddEvent(evt)
	}
	a := newTestAggregator(Deps{Stream: stream, EventLog: &MockEventLog{}})

	if err := a.Warm(context.Background()); err != nil {
		t.Fatalf("Warm() error = %v", err)
	}
	if got := a.Station("fry"); got.Completed != 1 || got.AvgToBumpSecs != 360 {
		t.Errorf("fry = %+v, want one bump at 360s", got)
	}
}

func TestWarmFromEventLog(t *testing.T) {
	log := &MockEventLog{events: map[string][]event.TicketEvent{
		"grill": lifecycle("grill", "t1", 0, map[string]time.Duration{"queued": 0, "in_progress": time.Minute}),
	}}
	a := newTestAggregator(Deps{EventLog: log})

	if err := a.Warm(context.Background()); err != nil {
		t.Fatalf("Warm() error = %v", err)
	}
	if got := a.Station("grill"); got.Load != 1 {
		t.Errorf("grill Load = %d, want 1", got.Load)
	}
}

func TestWarmStreamFailure(t *testing.T) {
	stream := &MockStreamConsumer{
		FetchFunc: func(ctx context.Context, n int) ([]events.StreamMessage, error) {
			return nil, errors.New("stream unavailable")
		},
	}
	a := newTestAggregator(Deps{Stream: stream})
	if err := a.Warm(context.Background()); err == nil {
		t.Error("Warm() error = nil, want error")
	}
}

func TestStartFollowsHub(t *testing.T) {
	h := newTestHub()
	sink := &MockTimingSink{}
	a := newTestAggregator(Deps{Source: h, Sink: sink})

	ctx := context.Background()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer a.Stop(ctx)

	// Initial snapshots must be consumed before live events flow.
	waitFor(t, func() bool { return h.Stats().Resyncs >= uint64(len(testStations)) })

	for _, evt := range lifecycle("grill", "t1", 0, map[string]time.Duration{
		"queued": 0, "in_progress": time.Minute, "ready": 2 * time.Minute, "bumped": 3 * time.Minute,
	}) {
		if _, err := h.Append(ctx, evt); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	waitFor(t, func() bool { return len(sink.Saved()) == 1 })
	timing := sink.Saved()[0]
	if timing.TicketID != "t1" || timing.ToBump != 3*time.Minute || timing.ToReady != 2*time.Minute {
		t.Errorf("timing = %+v", timing)
	}

	got := a.Station("grill")
	if got.Completed != 1 || got.Sequence != 4 {
		t.Errorf("grill = %+v, want one bump at sequence 4", got)
	}
}

func TestStartRequiresSource(t *testing.T) {
	a := newTestAggregator(Deps{})
	if err := a.Start(context.Background()); err == nil {
		t.Error("Start() error = nil, want error")
	}
}

func TestSinkRetriesFailedSaves(t *testing.T) {
	failures := 2
	sink := &MockTimingSink{}
	sink.SaveFunc = func(ctx context.Context, tm Timing) error {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		if failures > 0 {
			failures--
			return errors.New("mongo down")
		}
		return nil
	}
	a := newTestAggregator(Deps{Sink: sink})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.sink.run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	a.sink.submit(Timing{TicketID: "t1", StationID: "grill"})

	waitFor(t, func() bool { return len(sink.Saved()) == 1 })
	if got := testutil.ToFloat64(a.collect.sinkFailures); got != 2 {
		t.Errorf("sink failures = %v, want 2", got)
	}
	if a.sink.pendingCount() != 0 {
		t.Errorf("pending = %d, want 0", a.sink.pendingCount())
	}
}

func TestSinkDropsOldestPastLimit(t *testing.T) {
	a := NewAggregator(Deps{Sink: &MockTimingSink{}}, Config{MaxPending: 2}, nil)
	a.sink.park(Timing{TicketID: "a"}, Timing{TicketID: "b"}, Timing{TicketID: "c"})

	if got := a.sink.pendingCount(); got != 2 {
		t.Fatalf("pending = %d, want 2", got)
	}
	if a.sink.pending[0].TicketID != "b" {
		t.Errorf("oldest kept = %s, want b", a.sink.pending[0].TicketID)
	}
}

func TestHandler(t *testing.T) {
	a := newTestAggregator(Deps{Source: newTestHub()})
	replayFixture(a)

	r := chi.NewRouter()
	NewHandler(a, nil).RegisterRoutes(r)

	tests := []struct {
		name           string
		path           string
		expectedStatus int
		expectedBody   string
	}{
		{name: "prometheus", path: "/metrics", expectedStatus: http.StatusOK, expectedBody: `kds_station_load{station="fry"} 1`},
		{name: "hubCounters", path: "/metrics", expectedStatus: http.StatusOK, expectedBody: "kds_hub_subscribers 0"},
		{name: "stationStats", path: "/stations/grill/stats", expectedStatus: http.StatusOK, expectedBody: `"completed":2`},
		{name: "allStats", path: "/stats", expectedStatus: http.StatusOK, expectedBody: `"station_id":"expo"`},
		{name: "unknownStation", path: "/stations/smoker/stats", expectedStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))

			if w.Code != tt.expectedStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.expectedStatus)
			}
			if tt.expectedBody != "" && !strings.Contains(w.Body.String(), tt.expectedBody) {
				t.Errorf("body does not contain %s:\n%s", tt.expectedBody, w.Body.String())
			}
		})
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
