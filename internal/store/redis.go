package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces calibration keys.
const DefaultRedisPrefix = "kettle-filler:calibration"

// Redis keeps each slot's encoded record under its own key. Calls are bounded
// by a short timeout so a slow server cannot stall the control loop for long.
type Redis struct {
	client  *redis.Client
	prefix  string
	timeout time.Duration
}

// NewRedis connects lazily to the server at url.
func NewRedis(url, prefix string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return newRedis(redis.NewClient(opts), prefix), nil
}

func newRedis(client *redis.Client, prefix string) *Redis {
	return &Redis{
		client:  client,
		prefix:  prefix,
		timeout: 250 * time.Millisecond,
	}
}

func (r *Redis) key(slot int) string {
	return r.prefix + ":" + strconv.Itoa(slot)
}

// Load implements Store.
func (r *Redis) Load(slot int) (Record, bool, error) {
	if slot < 0 {
		return Record{}, false, fmt.Errorf("slot %d: %w", slot, ErrSlotRange)
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	b, err := r.client.Get(ctx, r.key(slot)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("load calibration: %w", err)
	}

	var rec Record
	if err := rec.UnmarshalBinary(b); err != nil {
		return Record{}, false, err
	}
	return rec, rec.Present(), nil
}

// Save implements Store.
func (r *Redis) Save(slot int, rec Record) error {
	if slot < 0 {
		return fmt.Errorf("slot %d: %w", slot, ErrSlotRange)
	}

	b, err := rec.MarshalBinary()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if err := r.client.Set(ctx, r.key(slot), b, 0).Err(); err != nil {
		return fmt.Errorf("save calibration: %w", err)
	}
	return nil
}

// Close releases the client's connections.
func (r *Redis) Close() error {
	return r.client.Close()
}
