package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hochfrequenz/factory-coordinator/internal/domain"
)

// RedisStore keeps requests as JSON documents and the ledger as one list per
// request. Writes use WATCH/MULTI so a concurrent change aborts the loser.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to the server at redisURL
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "coordinator:",
	}
}

func (s *RedisStore) requestKey(id string) string { return s.prefix + "req:" + id }
func (s *RedisStore) historyKey(id string) string { return s.prefix + "hist:" + id }
func (s *RedisStore) indexKey() string            { return s.prefix + "req:index" }

// CreateRequest stores a new request and its initial ledger entry
func (s *RedisStore) CreateRequest(ctx context.Context, req *domain.ProductionRequest, entry *domain.StatusHistoryEntry) error {
	reqData, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	entryData, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal history entry: %w", err)
	}

	key := s.requestKey(req.RequestID)
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("%w: request %s already exists", domain.ErrConflict, req.RequestID)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, reqData, 0)
			pipe.SAdd(ctx, s.indexKey(), req.RequestID)
			pipe.RPush(ctx, s.historyKey(req.RequestID), entryData)
			return nil
		})
		return err
	}, key)
	return s.mapErr(err, req.RequestID)
}

// GetRequest retrieves a request by id
func (s *RedisStore) GetRequest(ctx context.Context, id string) (*domain.ProductionRequest, error) {
	data, err := s.client.Get(ctx, s.requestKey(id)).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("request %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, unavailable(err)
	}
	return decodeRequest(data)
}

// ListRequests returns requests matching the filter, oldest first
func (s *RedisStore) ListRequests(ctx context.Context, filter domain.RequestFilter) ([]*domain.ProductionRequest, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.requestKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, unavailable(err)
	}

	var reqs []*domain.ProductionRequest
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		req, err := decodeRequest([]byte(raw))
		if err != nil {
			return nil, err
		}
		if filter.Matches(req) {
			reqs = append(reqs, req)
		}
	}

	sort.Slice(reqs, func(i, j int) bool {
		if !reqs[i].CreatedAt.Equal(reqs[j].CreatedAt) {
			return reqs[i].CreatedAt.Before(reqs[j].CreatedAt)
		}
		return reqs[i].RequestID < reqs[j].RequestID
	})
	return reqs, nil
}

// ApplyTransition writes a status change and its ledger entry atomically,
// provided the stored status still equals tr.From.
func (s *RedisStore) ApplyTransition(ctx context.Context, tr domain.Transition) error {
	entryData, err := json.Marshal(tr.Entry)
	if err != nil {
		return fmt.Errorf("marshal history entry: %w", err)
	}

	key := s.requestKey(tr.RequestID)
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return fmt.Errorf("request %s: %w", tr.RequestID, domain.ErrNotFound)
		}
		if err != nil {
			return err
		}
		req, err := decodeRequest(data)
		if err != nil {
			return err
		}
		if req.Status != tr.From {
			return fmt.Errorf("%w: request %s is %s, expected %s", domain.ErrConflict, tr.RequestID, req.Status, tr.From)
		}

		req.Status = tr.To
		req.StatusMemo = tr.Memo
		req.UpdatedAt = tr.At.UTC()
		reqData, err := json.Marshal(req)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, reqData, 0)
			pipe.RPush(ctx, s.historyKey(tr.RequestID), entryData)
			return nil
		})
		return err
	}, key)
	return s.mapErr(err, tr.RequestID)
}

// ListHistory returns a request's ledger entries in chronological order
func (s *RedisStore) ListHistory(ctx context.Context, requestID string) ([]*domain.StatusHistoryEntry, error) {
	raw, err := s.client.LRange(ctx, s.historyKey(requestID), 0, -1).Result()
	if err != nil {
		return nil, unavailable(err)
	}

	entries := make([]*domain.StatusHistoryEntry, 0, len(raw))
	for _, r := range raw {
		var e domain.StatusHistoryEntry
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			return nil, fmt.Errorf("unmarshal history entry: %w", err)
		}
		entries = append(entries, &e)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].ChangedAt.Equal(entries[j].ChangedAt) {
			return entries[i].ChangedAt.Before(entries[j].ChangedAt)
		}
		return entries[i].HistoryID < entries[j].HistoryID
	})
	return entries, nil
}

// Ping checks if Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) mapErr(err error, requestID string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.TxFailedErr):
		return fmt.Errorf("%w: request %s changed concurrently", domain.ErrConflict, requestID)
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrNotFound):
		return err
	default:
		return unavailable(err)
	}
}

func decodeRequest(data []byte) (*domain.ProductionRequest, error) {
	var req domain.ProductionRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("unmarshal request: %w", err)
	}
	return &req, nil
}
