// README: Planner picks the waypoints a delivery is replayed along.
package route

import (
	"context"
	"math/rand"
	"sync"

	"trackd/internal/types"
)

type Planner interface {
	Path(ctx context.Context, origin, dest types.Point) (Path, error)
}

// RandomPlanner builds a fresh Bézier path per call.
type RandomPlanner struct {
	steps int

	mu  sync.Mutex
	rng *rand.Rand
}

func NewRandomPlanner(steps int, seed int64) *RandomPlanner {
	return &RandomPlanner{steps: steps, rng: rand.New(rand.NewSource(seed))}
}

func (p *RandomPlanner) Path(_ context.Context, origin, dest types.Point) (Path, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return BuildPath(origin, dest, p.steps, p.rng), nil
}
