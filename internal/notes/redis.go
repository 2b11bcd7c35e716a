package notes

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces note lists in Redis.
const keyPrefix = "gamepilot:notes:"

// RedisStore keeps one capped list of JSON entries per title.
type RedisStore struct {
	client *redis.Client
	cfg    Config
	now    func() time.Time
}

// NewRedisStore connects to addr and checks the connection.
func NewRedisStore(ctx context.Context, addr string, cfg Config) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return &RedisStore{client: client, cfg: cfg.withDefaults(), now: time.Now}, nil
}

func (s *RedisStore) key(title string) string {
	return keyPrefix + normalizeTitle(title)
}

// Add implements Store.
func (s *RedisStore) Add(ctx context.Context, title string, notes []Note, cycle int) error {
	now := s.now()
	values := make([]interface{}, 0, len(notes))
	for _, n := range notes {
		if strings.TrimSpace(n.Content) == "" {
			continue
		}
		raw, err := json.Marshal(Entry{Kind: n.Kind, Content: n.Content, Title: title, Cycle: cycle, Timestamp: now})
		if err != nil {
			return fmt.Errorf("failed to marshal note: %w", err)
		}
		values = append(values, raw)
	}
	if len(values) == 0 {
		return nil
	}

	key := s.key(title)
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, values...)
	pipe.LTrim(ctx, key, int64(-s.cfg.MaxEntries), -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store notes: %w", err)
	}
	return nil
}

// Entries returns the notes stored for title, oldest first.
func (s *RedisStore) Entries(ctx context.Context, title string) ([]Entry, error) {
	raws, err := s.client.LRange(ctx, s.key(title), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read notes: %w", err)
	}
	entries := make([]Entry, 0, len(raws))
	for _, raw := range raws {
		var e Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Summarize implements Store.
func (s *RedisStore) Summarize(ctx context.Context, title, query string) (string, error) {
	entries, err := s.Entries(ctx, title)
	if err != nil {
		return "", err
	}
	return summarize(entries, query, s.cfg.ContextBudget), nil
}

// Close implements Store.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
