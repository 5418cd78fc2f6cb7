package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultRedisPrefix = "racemap:cache:"

type RedisConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	// Prefix is prepended to the category to form the key of a table.
	Prefix string `json:"prefix"`
}

var ErrEmptyRedisAddress = errors.New("redis address is required")

// NewRedisClient connects to redis and checks the connection with a ping.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	if cfg.Address == "" {
		return nil, ErrEmptyRedisAddress
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err := client.Ping(ctx).Err()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// RedisStore keeps each category table as one JSON string value, so several instances can
// share a cache.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client, prefix string) RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return RedisStore{client: client, prefix: prefix}
}

func (s RedisStore) key(category Category) string {
	return s.prefix + string(category)
}

func (s RedisStore) Load(ctx context.Context, category Category) (Table, error) {
	payload, err := s.client.Get(ctx, s.key(category)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Table{}, nil
	}
	if err != nil {
		return nil, err
	}

	table := Table{}
	err = json.Unmarshal(payload, &table)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.key(category), err)
	}
	return table, nil
}

func (s RedisStore) Save(ctx context.Context, category Category, table Table) error {
	payload, err := json.Marshal(table)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(category), payload, 0).Err()
}
