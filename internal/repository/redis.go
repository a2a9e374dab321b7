package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"offlinesync/internal/config"
	"offlinesync/internal/domain"
	"offlinesync/internal/models"

	"github.com/redis/go-redis/v9"
)

var errNilClient = errors.New("redis client is nil")

// NewRedisClient creates a Redis client from configuration.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

// RedisQueueStore keeps queue order in a list of ids and the records in a hash.
type RedisQueueStore struct {
	client     *redis.Client
	orderKey   string
	recordsKey string
	deadKey    string
}

var (
	_ domain.QueueStore      = (*RedisQueueStore)(nil)
	_ domain.DeadLetterStore = (*RedisQueueStore)(nil)
)

func NewRedisQueueStore(client *redis.Client) *RedisQueueStore {
	return &RedisQueueStore{
		client:     client,
		orderKey:   models.QueueKey,
		recordsKey: models.QueueKey + ":records",
		deadKey:    models.DeadLetterKey,
	}
}

func (r *RedisQueueStore) Append(ctx context.Context, rec models.QueueRecord) error {
	if r.client == nil {
		return errNilClient
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.recordsKey, rec.ID, data)
		pipe.RPush(ctx, r.orderKey, rec.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to append record to redis: %w", err)
	}
	return nil
}

func (r *RedisQueueStore) Remove(ctx context.Context, id string) error {
	if r.client == nil {
		return errNilClient
	}
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, r.orderKey, 0, id)
		pipe.HDel(ctx, r.recordsKey, id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to remove record from redis: %w", err)
	}
	return nil
}

func (r *RedisQueueStore) Clear(ctx context.Context) error {
	if r.client == nil {
		return errNilClient
	}
	if err := r.client.Del(ctx, r.orderKey, r.recordsKey).Err(); err != nil {
		return fmt.Errorf("failed to clear queue in redis: %w", err)
	}
	return nil
}

func (r *RedisQueueStore) Snapshot(ctx context.Context) ([]models.QueueRecord, error) {
	if r.client == nil {
		return nil, errNilClient
	}
	ids, err := r.client.LRange(ctx, r.orderKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read queue order: %w", err)
	}

	records := make([]models.QueueRecord, 0, len(ids))
	if len(ids) == 0 {
		return records, nil
	}

	values, err := r.client.HMGet(ctx, r.recordsKey, ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read queue records: %w", err)
	}

	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// order entry without a record body; skip it
			continue
		}
		var rec models.QueueRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal record %s: %w", ids[i], err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func (r *RedisQueueStore) IncrementRetry(ctx context.Context, id string) (int, error) {
	if r.client == nil {
		return 0, errNilClient
	}

	var count int
	txf := func(tx *redis.Tx) error {
		raw, err := tx.HGet(ctx, r.recordsKey, id).Result()
		if errors.Is(err, redis.Nil) {
			return domain.ErrRecordNotFound
		}
		if err != nil {
			return err
		}

		var rec models.QueueRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return fmt.Errorf("failed to unmarshal record: %w", err)
		}
		rec.RetryCount++
		count = rec.RetryCount

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal record: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, r.recordsKey, id, data)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < 3; attempt++ {
		err := r.client.Watch(ctx, txf, r.recordsKey)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if errors.Is(err, domain.ErrRecordNotFound) {
			return 0, err
		}
		if err != nil {
			return 0, fmt.Errorf("failed to increment retry count: %w", err)
		}
		return count, nil
	}
	return 0, fmt.Errorf("failed to increment retry count: %w", redis.TxFailedErr)
}

func (r *RedisQueueStore) PushDeadLetter(ctx context.Context, dl models.DeadLetter) error {
	if r.client == nil {
		return errNilClient
	}
	data, err := json.Marshal(dl)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter: %w", err)
	}
	if err := r.client.RPush(ctx, r.deadKey, data).Err(); err != nil {
		return fmt.Errorf("failed to push dead letter: %w", err)
	}
	return nil
}

func (r *RedisQueueStore) ListDeadLetters(ctx context.Context) ([]models.DeadLetter, error) {
	if r.client == nil {
		return nil, errNilClient
	}
	raws, err := r.client.LRange(ctx, r.deadKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read dead letters: %w", err)
	}

	letters := make([]models.DeadLetter, 0, len(raws))
	for _, raw := range raws {
		var dl models.DeadLetter
		if err := json.Unmarshal([]byte(raw), &dl); err != nil {
			return nil, fmt.Errorf("failed to unmarshal dead letter: %w", err)
		}
		letters = append(letters, dl)
	}
	return letters, nil
}

// RedisHistoryStore keeps the newest entries at the head of a capped list.
type RedisHistoryStore struct {
	client *redis.Client
	key    string
	limit  int
}

var _ domain.HistoryStore = (*RedisHistoryStore)(nil)

func NewRedisHistoryStore(client *redis.Client, limit int) *RedisHistoryStore {
	if limit <= 0 {
		limit = models.HistoryLimit
	}
	return &RedisHistoryStore{client: client, key: models.HistoryKey, limit: limit}
}

func (r *RedisHistoryStore) Record(ctx context.Context, entry models.HistoryEntry) error {
	if r.client == nil {
		return errNilClient
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal history entry: %w", err)
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, r.key, data)
		pipe.LTrim(ctx, r.key, 0, int64(r.limit-1))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record history in redis: %w", err)
	}
	return nil
}

func (r *RedisHistoryStore) List(ctx context.Context) ([]models.HistoryEntry, error) {
	if r.client == nil {
		return nil, errNilClient
	}
	raws, err := r.client.LRange(ctx, r.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}

	entries := make([]models.HistoryEntry, 0, len(raws))
	for _, raw := range raws {
		var e models.HistoryEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal history entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (r *RedisHistoryStore) Clear(ctx context.Context) error {
	if r.client == nil {
		return errNilClient
	}
	if err := r.client.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("failed to clear history in redis: %w", err)
	}
	return nil
}

// Ping checks the Redis connection.
func Ping(ctx context.Context, client *redis.Client) error {
	if client == nil {
		return errNilClient
	}
	if _, err := client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
