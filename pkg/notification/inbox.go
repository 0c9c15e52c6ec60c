package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/upstac/platform/pkg/common/models"
)

// Inbox stores the most recent notifications per patient, newest first.
type Inbox interface {
	Push(ctx context.Context, userID uuid.UUID, n models.Notification) error
	List(ctx context.Context, userID uuid.UUID) ([]models.Notification, error)
}

type RedisInbox struct {
	client *redis.Client
	max    int64
}

func NewRedisInbox(client *redis.Client, max int) *RedisInbox {
	if max <= 0 {
		max = 50
	}
	return &RedisInbox{client: client, max: int64(max)}
}

func inboxKey(userID uuid.UUID) string {
	return "notifications:" + userID.String()
}

func (i *RedisInbox) Push(ctx context.Context, userID uuid.UUID, n models.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return err
	}
	key := inboxKey(userID)
	_, err = i.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, payload)
		pipe.LTrim(ctx, key, 0, i.max-1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("push notification: %w", err)
	}
	return nil
}

func (i *RedisInbox) List(ctx context.Context, userID uuid.UUID) ([]models.Notification, error) {
	raw, err := i.client.LRange(ctx, inboxKey(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	out := make([]models.Notification, 0, len(raw))
	for _, item := range raw {
		var n models.Notification
		if err := json.Unmarshal([]byte(item), &n); err != nil {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

// MemoryInbox backs single-process deployments and tests.
type MemoryInbox struct {
	mu    sync.RWMutex
	max   int
	items map[uuid.UUID][]models.Notification
}

func NewMemoryInbox(max int) *MemoryInbox {
	if max <= 0 {
		max = 50
	}
	return &MemoryInbox{max: max, items: make(map[uuid.UUID][]models.Notification)}
}

func (i *MemoryInbox) Push(_ context.Context, userID uuid.UUID, n models.Notification) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	list := append([]models.Notification{n}, i.items[userID]...)
	if len(list) > i.max {
		list = list[:i.max]
	}
	i.items[userID] = list
	return nil
}

func (i *MemoryInbox) List(_ context.Context, userID uuid.UUID) ([]models.Notification, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return append([]models.Notification{}, i.items[userID]...), nil
}
