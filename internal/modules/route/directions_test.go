package route

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"googlemaps.github.io/maps"

	"trackd/internal/types"
)

func TestResampleEvenSpacing(t *testing.T) {
	line := []types.Point{
		{Lat: 0, Lng: 0},
		{Lat: 0, Lng: 0.001},
		{Lat: 0, Lng: 0.004},
	}
	out := Resample(line, 4)
	if len(out) != 5 {
		t.Fatalf("len = %d", len(out))
	}
	if out[0] != line[0] || out[4] != line[2] {
		t.Fatalf("endpoints = %v, %v", out[0], out[4])
	}
	for i, want := range []float64{0, 0.001, 0.002, 0.003, 0.004} {
		if math.Abs(out[i].Lng-want) > 1e-9 {
			t.Errorf("out[%d].Lng = %v, want %v", i, out[i].Lng, want)
		}
	}
}

func newDirectionsServer(t *testing.T, body string, status int) *maps.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	client, err := NewMapsClient("test-key", maps.WithBaseURL(srv.URL))
	if err != nil {
		t.Fatal(err)
	}
	return client
}

func TestDirectionsPlannerFollowsRoute(t *testing.T) {
	poly := maps.Encode([]maps.LatLng{
		{Lat: kitchen.Lat, Lng: kitchen.Lng},
		{Lat: kitchen.Lat, Lng: doorstep.Lng},
		{Lat: doorstep.Lat, Lng: doorstep.Lng},
	})
	body := fmt.Sprintf(`{"status":"OK","routes":[{"overview_polyline":{"points":%q},"legs":[]}]}`, poly)
	client := newDirectionsServer(t, body, http.StatusOK)

	p := NewDirectionsPlanner(client, 20, NewRandomPlanner(20, 1), slog.New(slog.NewTextHandler(io.Discard, nil)))
	path, err := p.Path(context.Background(), kitchen, doorstep)
	if err != nil {
		t.Fatal(err)
	}
	if len(path) != 21 || path[0] != kitchen || path[20] != doorstep {
		t.Fatalf("path len %d endpoints %v %v", len(path), path[0], path[len(path)-1])
	}
	// The L-shaped route passes the corner at the kitchen's latitude.
	if math.Abs(path[5].Lat-kitchen.Lat) > 1e-4 {
		t.Fatalf("waypoint 5 not on the first leg: %v", path[5])
	}
}

func TestDirectionsPlannerFallsBack(t *testing.T) {
	client := newDirectionsServer(t, `{"status":"ZERO_RESULTS","routes":[]}`, http.StatusOK)
	p := NewDirectionsPlanner(client, 8, NewRandomPlanner(8, 1), slog.New(slog.NewTextHandler(io.Discard, nil)))
	path, err := p.Path(context.Background(), kitchen, doorstep)
	if err != nil {
		t.Fatal(err)
	}
	if len(path) != 9 || path[0] != kitchen || path[8] != doorstep {
		t.Fatalf("fallback path = %v", path)
	}
}
