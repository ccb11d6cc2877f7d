package realtime

import (
	"bufio"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func seatDelta(trip string, seat int, version int64, state string) Delta {
	return Delta{Kind: KindSeat, TripID: trip, SeatNumber: seat, Version: version, State: state, EmittedAt: time.Now()}
}

func receive(t *testing.T, sub *Subscription) Delta {
	t.Helper()
	select {
	case d, ok := <-sub.C:
		if !ok {
			t.Fatalf("subscription closed: %v", sub.Err())
		}
		return d
	case <-time.After(time.Second):
		t.Fatal("no delta received")
	}
	return Delta{}
}

func TestHubFiltersByTrip(t *testing.T) {
	hub := NewHub(8)
	trip := hub.Subscribe(Filter{TripID: "T"})
	all := hub.Subscribe(Filter{})

	hub.Publish(context.Background(), seatDelta("U", 1, 1, "HELD"))
	hub.Publish(context.Background(), seatDelta("T", 2, 1, "HELD"))

	if d := receive(t, trip); d.TripID != "T" || d.SeatNumber != 2 {
		t.Fatalf("trip subscriber got %+v", d)
	}
	if d := receive(t, all); d.TripID != "U" {
		t.Fatalf("first delta for wildcard = %+v", d)
	}
	if d := receive(t, all); d.TripID != "T" {
		t.Fatalf("second delta for wildcard = %+v", d)
	}
}

func TestHubCutsOffLaggingSubscriber(t *testing.T) {
	hub := NewHub(2)
	slow := hub.Subscribe(Filter{TripID: "T"})
	fast := hub.Subscribe(Filter{TripID: "T"})

	for v := int64(1); v <= 3; v++ {
		hub.Publish(context.Background(), seatDelta("T", 1, v, "HELD"))
		receive(t, fast)
	}

	// two buffered deltas are still readable, then the channel closes
	receive(t, slow)
	receive(t, slow)
	if _, ok := <-slow.C; ok {
		t.Fatal("lagging subscription still open")
	}
	if !errors.Is(slow.Err(), ErrLagged) {
		t.Fatalf("err = %v, want ErrLagged", slow.Err())
	}
	if fast.Err() != nil || hub.Subscribers() != 1 {
		t.Fatalf("fast subscriber affected: err=%v subscribers=%d", fast.Err(), hub.Subscribers())
	}
}

func TestHubCloseAndUnsubscribe(t *testing.T) {
	hub := NewHub(1)
	sub := hub.Subscribe(Filter{})
	sub.Close()
	sub.Close()
	if sub.Err() != nil {
		t.Fatalf("unsubscribe err = %v", sub.Err())
	}

	other := hub.Subscribe(Filter{})
	hub.Close()
	if _, ok := <-other.C; ok || !errors.Is(other.Err(), ErrHubClosed) {
		t.Fatalf("after hub close err = %v", other.Err())
	}
	late := hub.Subscribe(Filter{})
	if !errors.Is(late.Err(), ErrHubClosed) {
		t.Fatalf("late subscribe err = %v", late.Err())
	}
}

func TestVersionFilter(t *testing.T) {
	f := NewVersionFilter()
	cases := []struct {
		delta Delta
		want  bool
	}{
		{seatDelta("T", 1, 2, "HELD"), true},
		{seatDelta("T", 1, 2, "HELD"), false},
		{seatDelta("T", 1, 1, "AVAILABLE"), false},
		{seatDelta("T", 2, 1, "HELD"), true},
		{seatDelta("T", 1, 3, "BOOKED"), true},
		{Delta{Kind: KindBooking, TripID: "T", BookingID: "b", Version: 1}, true},
		{Delta{Kind: KindBooking, TripID: "T", BookingID: "b", Version: 1}, false},
	}
	for i, tc := range cases {
		if got := f.Accept(tc.delta); got != tc.want {
			t.Errorf("case %d: Accept(%s v%d) = %v, want %v", i, tc.delta.Key(), tc.delta.Version, got, tc.want)
		}
	}

	f.Reset()
	if !f.Accept(seatDelta("T", 1, 1, "AVAILABLE")) {
		t.Fatal("reset filter rejected a delta")
	}
}

func TestStreamTripSendsEvents(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := NewHub(8)
	r := gin.New()
	SetupStreamRoutes(r.Group("/api/v1"), NewController(hub, time.Minute))
	srv := httptest.NewServer(r)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/trips/T/stream", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	deadline := time.Now().Add(time.Second)
	for hub.Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("stream never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	hub.Publish(context.Background(), seatDelta("U", 9, 1, "HELD"))
	hub.Publish(context.Background(), seatDelta("T", 4, 1, "HELD"))

	scanner := bufio.NewScanner(resp.Body)
	var event, data string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimPrefix(line, "event:")
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimPrefix(line, "data:")
		}
		if data != "" {
			break
		}
	}
	if event != "seat" || !strings.Contains(data, `"trip_id":"T"`) || !strings.Contains(data, `"seat_number":4`) {
		t.Fatalf("event=%q data=%q", event, data)
	}
}
