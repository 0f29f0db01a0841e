package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jwalitptl/opd-queue/internal/model"
	"github.com/jwalitptl/opd-queue/internal/repository"
	"github.com/jwalitptl/opd-queue/pkg/circuitbreaker"
	"github.com/jwalitptl/opd-queue/pkg/logger"
	"github.com/jwalitptl/opd-queue/pkg/metrics"
)

const defaultKeyPrefix = "queue"

// publishScript writes an entry only if its stamp is not older than the
// stored one, so a slow writer cannot roll the board back.
// KEYS: status, stamp. ARGV: payload, stamp (unix micros), ttl ms, channel.
var publishScript = redis.NewScript(`
local stored = tonumber(redis.call('GET', KEYS[2]) or '0')
if stored > tonumber(ARGV[2]) then
  return 0
end
if tonumber(ARGV[3]) > 0 then
  redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
  redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
else
  redis.call('SET', KEYS[1], ARGV[1])
  redis.call('SET', KEYS[2], ARGV[2])
end
redis.call('PUBLISH', ARGV[4], ARGV[1])
return 1
`)

type BoardConfig struct {
	KeyPrefix string
	// TTL bounds how long a board entry outlives the last write.
	TTL time.Duration
}

// Board keeps one JSON "now serving" entry per doctor queue and announces
// every write on a pub/sub channel.
type Board struct {
	client redis.Cmdable
	cb     *circuitbreaker.CircuitBreaker
	prefix string
	ttl    time.Duration
	m      *metrics.Metrics
}

func NewBoard(client redis.Cmdable, cfg BoardConfig, log *logger.Logger, m *metrics.Metrics) *Board {
	if log == nil {
		log = logger.Nop()
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}

	cb := circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
		Name:        "redis-board",
		MaxRequests: 1,
		Interval:    10 * time.Second,
		Timeout:     5 * time.Second,
		OnStateChange: func(name, from, to string) {
			log.Warn(nil, "circuit breaker state changed", "breaker", name, "from", from, "to", to)
		},
	})

	return &Board{client: client, cb: cb, prefix: prefix, ttl: cfg.TTL, m: m}
}

// StatusKey is the key holding the current entry for a queue.
func (b *Board) StatusKey(key model.QueueKey) string {
	return fmt.Sprintf("%s:status:%s:%s", b.prefix, key.HospitalID, key.DoctorID)
}

// StampKey holds the LastUpdated of the entry in StatusKey.
func (b *Board) StampKey(key model.QueueKey) string {
	return fmt.Sprintf("%s:stamp:%s:%s", b.prefix, key.HospitalID, key.DoctorID)
}

// Channel is where every write for a queue is published.
func (b *Board) Channel(key model.QueueKey) string {
	return fmt.Sprintf("%s:updates:%s:%s", b.prefix, key.HospitalID, key.DoctorID)
}

// Publish overwrites the queue's entry and announces it atomically. A status
// older than the stored entry is dropped without error.
func (b *Board) Publish(ctx context.Context, status *model.QueueStatus) error {
	payload, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal queue status: %w", err)
	}
	key := status.Key()

	var written int64
	err = b.cb.Execute(func() error {
		var err error
		written, err = publishScript.Run(ctx, b.client,
			[]string{b.StatusKey(key), b.StampKey(key)},
			payload, status.LastUpdated.UnixMicro(), b.ttl.Milliseconds(), b.Channel(key),
		).Int64()
		return err
	})
	if err == nil && written == 0 {
		b.countResult("publish", "stale")
		return nil
	}
	b.count("publish", err)
	if err != nil {
		return fmt.Errorf("failed to publish queue status: %w", err)
	}
	return nil
}

// Get returns the stored entry, or repository.ErrNotFound when there is none.
func (b *Board) Get(ctx context.Context, key model.QueueKey) (*model.QueueStatus, error) {
	var payload []byte
	err := b.cb.Execute(func() error {
		var err error
		payload, err = b.client.Get(ctx, b.StatusKey(key)).Bytes()
		if errors.Is(err, redis.Nil) {
			// A missing entry is not a Redis failure.
			return nil
		}
		return err
	})
	b.count("get", err)
	if err != nil {
		return nil, fmt.Errorf("failed to read queue status: %w", err)
	}
	if payload == nil {
		return nil, repository.ErrNotFound
	}

	var status model.QueueStatus
	if err := json.Unmarshal(payload, &status); err != nil {
		return nil, fmt.Errorf("failed to decode queue status: %w", err)
	}
	return &status, nil
}

func (b *Board) count(op string, err error) {
	b.countResult(op, metrics.Status(err))
}

func (b *Board) countResult(op, result string) {
	if b.m == nil {
		return
	}
	b.m.RedisOperations.WithLabelValues(op, result).Inc()
}

var _ repository.QueueBoard = (*Board)(nil)
