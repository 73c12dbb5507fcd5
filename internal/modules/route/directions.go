package route

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"googlemaps.github.io/maps"

	"trackd/internal/types"
)

var errNoRoute = errors.New("no route found")

// DirectionsPlanner follows the driving route Google returns, resampled to
// a fixed number of evenly spaced waypoints. Any provider failure falls
// back to the synthetic planner so tracking never stalls on the network.
type DirectionsPlanner struct {
	client   *maps.Client
	steps    int
	fallback Planner
	logger   *slog.Logger
}

func NewDirectionsPlanner(client *maps.Client, steps int, fallback Planner, logger *slog.Logger) *DirectionsPlanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &DirectionsPlanner{client: client, steps: steps, fallback: fallback, logger: logger}
}

// NewMapsClient creates a Google Maps client with the given API key.
func NewMapsClient(apiKey string, opts ...maps.ClientOption) (*maps.Client, error) {
	client, err := maps.NewClient(append([]maps.ClientOption{maps.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return client, nil
}

func (p *DirectionsPlanner) Path(ctx context.Context, origin, dest types.Point) (Path, error) {
	path, err := p.directions(ctx, origin, dest)
	if err == nil {
		return path, nil
	}
	p.logger.Warn("directions unavailable, using synthetic path", "error", err)
	return p.fallback.Path(ctx, origin, dest)
}

func (p *DirectionsPlanner) directions(ctx context.Context, origin, dest types.Point) (Path, error) {
	r := &maps.DirectionsRequest{
		Origin:      latLng(origin),
		Destination: latLng(dest),
		Mode:        maps.TravelModeDriving,
	}
	routes, _, err := p.client.Directions(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("maps api error: %w", err)
	}
	if len(routes) == 0 {
		return nil, errNoRoute
	}
	line, err := maps.DecodePolyline(routes[0].OverviewPolyline.Points)
	if err != nil {
		return nil, fmt.Errorf("decode polyline: %w", err)
	}
	if len(line) == 0 {
		return nil, errNoRoute
	}
	pts := make([]types.Point, len(line))
	for i, ll := range line {
		pts[i] = types.Point{Lat: ll.Lat, Lng: ll.Lng}
	}
	path := Resample(pts, p.steps)
	path[0], path[len(path)-1] = origin, dest
	return path, nil
}

// Resample walks a polyline and returns steps+1 points spaced evenly by
// distance along it.
func Resample(line []types.Point, steps int) Path {
	if steps < 1 {
		steps = 1
	}
	out := make(Path, steps+1)
	if len(line) == 0 {
		return out
	}
	if len(line) == 1 {
		for i := range out {
			out[i] = line[0]
		}
		return out
	}

	cum := make([]float64, len(line))
	for i := 1; i < len(line); i++ {
		cum[i] = cum[i-1] + DistanceMeters(line[i-1], line[i])
	}
	total := cum[len(cum)-1]

	seg := 1
	for i := 0; i <= steps; i++ {
		target := total * float64(i) / float64(steps)
		for seg < len(line)-1 && cum[seg] < target {
			seg++
		}
		span := cum[seg] - cum[seg-1]
		f := 0.0
		if span > 0 {
			f = clamp01((target - cum[seg-1]) / span)
		}
		a, b := line[seg-1], line[seg]
		out[i] = types.Point{
			Lat: a.Lat + (b.Lat-a.Lat)*f,
			Lng: a.Lng + (b.Lng-a.Lng)*f,
		}
	}
	out[steps] = line[len(line)-1]
	return out
}

func latLng(p types.Point) string {
	return fmt.Sprintf("%.6f,%.6f", p.Lat, p.Lng)
}
