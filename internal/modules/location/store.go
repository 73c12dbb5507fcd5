// README: Latest-position cache backed by Redis (JSON value + driver GEO set).
package location

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"trackd/internal/types"
)

const driversGeoKey = "tracking:drivers"

var ErrNoPosition = errors.New("no cached position")

// Cache holds the most recent sample per order.
type Cache interface {
	Save(ctx context.Context, s Sample) error
	Latest(ctx context.Context, orderID types.ID) (*Sample, error)
}

type Store struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{redis: rdb, ttl: ttl}
}

func positionKey(orderID types.ID) string {
	return "tracking:order:" + string(orderID)
}

func (s *Store) Save(ctx context.Context, smp Sample) error {
	body, err := json.Marshal(smp)
	if err != nil {
		return err
	}
	pipe := s.redis.TxPipeline()
	pipe.Set(ctx, positionKey(smp.OrderID), body, s.ttl)
	if smp.DriverID != "" {
		pipe.GeoAdd(ctx, driversGeoKey, &redis.GeoLocation{
			Name:      string(smp.DriverID),
			Longitude: smp.Position.Lng,
			Latitude:  smp.Position.Lat,
		})
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Store) Latest(ctx context.Context, orderID types.ID) (*Sample, error) {
	body, err := s.redis.Get(ctx, positionKey(orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoPosition
	}
	if err != nil {
		return nil, err
	}
	var smp Sample
	if err := json.Unmarshal(body, &smp); err != nil {
		return nil, err
	}
	return &smp, nil
}

// DriverPosition reads a driver's last reported position from the GEO set.
func (s *Store) DriverPosition(ctx context.Context, driverID types.ID) (types.Point, error) {
	pos, err := s.redis.GeoPos(ctx, driversGeoKey, string(driverID)).Result()
	if err != nil {
		return types.Point{}, err
	}
	if len(pos) == 0 || pos[0] == nil {
		return types.Point{}, ErrNoPosition
	}
	return types.Point{Lat: pos[0].Latitude, Lng: pos[0].Longitude}, nil
}

// MemoryCache is the single-process Cache used when Redis is not configured.
type MemoryCache struct {
	mu      sync.Mutex
	samples map[types.ID]Sample
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{samples: make(map[types.ID]Sample)}
}

func (m *MemoryCache) Save(_ context.Context, s Sample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples[s.OrderID] = s
	return nil
}

func (m *MemoryCache) Latest(_ context.Context, orderID types.ID) (*Sample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.samples[orderID]
	if !ok {
		return nil, ErrNoPosition
	}
	return &s, nil
}
