// README: Redis-backed recipient lock and partitioned job queue for remittance runs.
package remittance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"parkangel/internal/types"
)

const (
	lockKeyPrefix  = "remittance:lock:%s"
	queueKeyPrefix = "remittance:queue:%d"
	lockRetry      = 50 * time.Millisecond
	popTimeout     = 2 * time.Second
)

var ErrLockTimeout = errors.New("timed out waiting for recipient lock")

// unlockScript deletes the lock only if this holder still owns it.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

type RedisLocker struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewRedisLocker(redis *redis.Client, ttl time.Duration) *RedisLocker {
	return &RedisLocker{redis: redis, ttl: ttl}
}

// Lock blocks until the recipient lock is held or ctx ends. The returned
// function releases it; the TTL bounds how long a crashed holder blocks others.
func (l *RedisLocker) Lock(ctx context.Context, recipientID types.ID) (func(), error) {
	key := fmt.Sprintf(lockKeyPrefix, string(recipientID))
	token := uuid.NewString()
	for {
		ok, err := l.redis.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			return func() {
				// Release with a fresh context so a cancelled caller still unlocks.
				rctx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				_ = unlockScript.Run(rctx, l.redis, []string{key}, token).Err()
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrLockTimeout, ctx.Err())
		case <-time.After(lockRetry):
		}
	}
}

// Queue spreads jobs over N redis lists by recipient hash. Each list has one
// worker, so jobs for a recipient never run concurrently.
type Queue struct {
	redis      *redis.Client
	partitions int
	logger     *zap.Logger
}

func NewQueue(redis *redis.Client, partitions int, logger *zap.Logger) *Queue {
	if partitions <= 0 {
		partitions = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{redis: redis, partitions: partitions, logger: logger}
}

func (q *Queue) Partition(recipientID types.ID) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(recipientID))
	return int(h.Sum32() % uint32(q.partitions))
}

func (q *Queue) Enqueue(ctx context.Context, job Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.redis.LPush(ctx, queueKey(q.Partition(job.RecipientID)), raw).Err()
}

// Run starts one worker per partition and blocks until ctx ends. Handler
// errors are logged; the job is not requeued because the next tick finds any
// shares that are still unclaimed.
func (q *Queue) Run(ctx context.Context, handle func(context.Context, Job) error) error {
	g, ctx := errgroup.WithContext(ctx)
	for p := 0; p < q.partitions; p++ {
		key := queueKey(p)
		g.Go(func() error {
			for {
				if ctx.Err() != nil {
					return nil
				}
				res, err := q.redis.BRPop(ctx, popTimeout, key).Result()
				if errors.Is(err, redis.Nil) {
					continue
				}
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					q.logger.Warn("remittance queue pop failed", zap.String("queue", key), zap.Error(err))
					select {
					case <-ctx.Done():
						return nil
					case <-time.After(time.Second):
					}
					continue
				}
				var job Job
				if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
					q.logger.Error("dropping malformed remittance job", zap.String("queue", key), zap.Error(err))
					continue
				}
				if err := handle(ctx, job); err != nil {
					q.logger.Warn("remittance job failed",
						zap.String("recipient_id", string(job.RecipientID)),
						zap.Stringer("period", job.Period()),
						zap.Error(err),
					)
				}
			}
		})
	}
	return g.Wait()
}

func queueKey(partition int) string {
	return fmt.Sprintf(queueKeyPrefix, partition)
}
