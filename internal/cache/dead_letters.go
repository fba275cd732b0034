package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"dataproc/internal/app/ingest"
)

// DeadLetterList keeps the most recent dead letters in a capped Redis list,
// newest first.
type DeadLetterList struct {
	client *RedisClient
	key    string
	maxLen int64
}

func NewDeadLetterList(redisClient *RedisClient, key string, maxLen int64) *DeadLetterList {
	if maxLen < 1 {
		maxLen = 1
	}
	return &DeadLetterList{
		client: redisClient,
		key:    key,
		maxLen: maxLen,
	}
}

func (l *DeadLetterList) Send(ctx context.Context, letter ingest.Letter) error {
	data, err := json.Marshal(letter)
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}

	pipe := l.client.client.TxPipeline()
	pipe.LPush(ctx, l.key, data)
	pipe.LTrim(ctx, l.key, 0, l.maxLen-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("push dead letter to %s: %w", l.key, err)
	}
	return nil
}

// Recent returns up to n letters, newest first.
func (l *DeadLetterList) Recent(ctx context.Context, n int64) ([]ingest.Letter, error) {
	if n <= 0 {
		return nil, nil
	}
	items, err := l.client.client.LRange(ctx, l.key, 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("read dead letters from %s: %w", l.key, err)
	}

	letters := make([]ingest.Letter, 0, len(items))
	for _, it := range items {
		var letter ingest.Letter
		if err := json.Unmarshal([]byte(it), &letter); err != nil {
			return nil, fmt.Errorf("decode dead letter: %w", err)
		}
		letters = append(letters, letter)
	}
	return letters, nil
}

var _ ingest.DeadLetters = (*DeadLetterList)(nil)
