// Package redis keeps the crawl checkpoint and processed identities in Redis
// so several hosts can share one crawl's progress.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/JakeFAU/jobfeed-publisher/internal/identity"
	"github.com/JakeFAU/jobfeed-publisher/internal/storage"
)

// Config selects the Redis server and the key namespace.
type Config struct {
	Addr     string
	Password string
	DB       int

	// Name separates the state of independent crawls sharing one server.
	Name string
}

// commands is the subset of the go-redis client the stores use.
type commands interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *goredis.StatusCmd
	SAdd(ctx context.Context, key string, members ...any) *goredis.IntCmd
	SMembers(ctx context.Context, key string) *goredis.StringSliceCmd
}

// Store implements storage.CheckpointStore and storage.ProcessedLog.
type Store struct {
	client        commands
	closer        func() error
	checkpointKey string
	processedKey  string
}

// New dials Redis and verifies the connection.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	store := NewWithClient(client, cfg.Name)
	store.closer = client.Close
	return store, nil
}

// NewWithClient builds a store over an existing client (primarily for testing).
func NewWithClient(client commands, name string) *Store {
	if strings.TrimSpace(name) == "" {
		name = "default"
	}
	prefix := "jobfeed:" + name
	return &Store{
		client:        client,
		checkpointKey: prefix + ":checkpoint",
		processedKey:  prefix + ":processed",
	}
}

// Close releases the client when New created it.
func (s *Store) Close() error {
	if s == nil || s.closer == nil {
		return nil
	}
	return s.closer()
}

// Load returns the stored page, or 0 when the key is absent.
func (s *Store) Load(ctx context.Context) (int, error) {
	raw, err := s.client.Get(ctx, s.checkpointKey).Result()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get checkpoint: %w", err)
	}
	page, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || page < 0 {
		return 0, fmt.Errorf("%w: %q at %s", storage.ErrInvalidCheckpoint, raw, s.checkpointKey)
	}
	return page, nil
}

// Save overwrites the checkpoint key without expiry.
func (s *Store) Save(ctx context.Context, page int) error {
	if page < 0 {
		return fmt.Errorf("checkpoint page must be non-negative, got %d", page)
	}
	if err := s.client.Set(ctx, s.checkpointKey, strconv.Itoa(page), 0).Err(); err != nil {
		return fmt.Errorf("set checkpoint: %w", err)
	}
	return nil
}

// LoadAll returns the members of the processed set.
func (s *Store) LoadAll(ctx context.Context) ([]identity.JobIdentity, error) {
	members, err := s.client.SMembers(ctx, s.processedKey).Result()
	if err != nil {
		return nil, fmt.Errorf("load processed identities: %w", err)
	}
	ids := make([]identity.JobIdentity, 0, len(members))
	for _, m := range members {
		ids = append(ids, identity.JobIdentity(m))
	}
	return ids, nil
}

// Append adds id to the processed set.
func (s *Store) Append(ctx context.Context, id identity.JobIdentity) error {
	if err := s.client.SAdd(ctx, s.processedKey, string(id)).Err(); err != nil {
		return fmt.Errorf("append processed identity: %w", err)
	}
	return nil
}
