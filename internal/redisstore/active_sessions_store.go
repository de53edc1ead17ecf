package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultDialTimeout  = 5 * time.Second
	defaultReadTimeout  = 3 * time.Second
	defaultWriteTimeout = 3 * time.Second
)

// NewClient returns a configured go-redis client and validates the
// connection with PING.
func NewClient(addr, password string) (*redis.Client, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("redis: addr is empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DialTimeout:  defaultDialTimeout,
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), defaultDialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return client, nil
}

// ActiveSession is the cached view of an open stay, keyed by the plate
// that detections correlate on. Postgres stays authoritative; the cache
// is best effort only.
type ActiveSession struct {
	SessionID  int64     `json:"session_id"`
	LocationID int64     `json:"location_id"`
	SpotID     int64     `json:"spot_id"`
	VehicleID  int64     `json:"vehicle_id"`
	Plate      string    `json:"plate"`
	EntryTime  time.Time `json:"entry_time"`
}

// Store caches active sessions in Redis with a bounded TTL so stale
// entries of crashed exits cannot live forever.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStore returns redis-backed store.
func NewStore(client *redis.Client, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl}
}

func (s *Store) key(locationID int64, plate string) string {
	return fmt.Sprintf("parking:active:%d:%s", locationID, strings.ToUpper(strings.TrimSpace(plate)))
}

// Save caches the open session.
func (s *Store) Save(ctx context.Context, session ActiveSession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(session.LocationID, session.Plate), data, s.ttl).Err()
}

// Get returns the cached open session for the plate at the location.
func (s *Store) Get(ctx context.Context, locationID int64, plate string) (*ActiveSession, error) {
	result, err := s.client.Get(ctx, s.key(locationID, plate)).Result()
	if err != nil {
		return nil, err
	}
	var session ActiveSession
	if err := json.Unmarshal([]byte(result), &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// Delete evicts the cached session after the stay closes.
func (s *Store) Delete(ctx context.Context, locationID int64, plate string) error {
	return s.client.Del(ctx, s.key(locationID, plate)).Err()
}
