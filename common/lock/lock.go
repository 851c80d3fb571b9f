package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	redisWrapper "github.com/weavr-ai/weavr/common/redis"
)

// releaseScript deletes the lock key only when the caller still owns it.
// Prevents a worker whose lock expired from releasing a lock acquired by
// another worker in the meantime.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

// Manager hands out keyed, TTL-bounded single-flight locks backed by Redis.
// At most one worker across all instances holds a given key at a time.
type Manager struct {
	redis  *redisWrapper.Client
	logger redisWrapper.Logger
}

// NewManager creates a new lock manager
func NewManager(redisClient *redisWrapper.Client, logger redisWrapper.Logger) *Manager {
	return &Manager{
		redis:  redisClient,
		logger: logger,
	}
}

// Lock is a held single-flight lock
type Lock struct {
	key   string
	owner string
	mgr   *Manager
}

// Acquire attempts to take the lock for key with the given TTL.
// Returns (nil, false, nil) when another worker holds it.
func (m *Manager) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lock, bool, error) {
	owner := uuid.New().String()

	acquired, err := m.redis.SetNX(ctx, key, owner, ttl)
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !acquired {
		m.logger.Debug("lock already held", "key", key)
		return nil, false, nil
	}

	m.logger.Debug("lock acquired", "key", key, "ttl", ttl)
	return &Lock{key: key, owner: owner, mgr: m}, true, nil
}

// Release gives the lock back if this holder still owns it
func (l *Lock) Release(ctx context.Context) error {
	_, err := l.mgr.redis.Eval(ctx, releaseScript, []string{l.key}, l.owner)
	if err != nil {
		return fmt.Errorf("failed to release lock %s: %w", l.key, err)
	}
	l.mgr.logger.Debug("lock released", "key", l.key)
	return nil
}

// WorkflowLockKey returns the single-flight lock key for a workflow
func WorkflowLockKey(workflowID string) string {
	return fmt.Sprintf("lock:workflow:%s", workflowID)
}
