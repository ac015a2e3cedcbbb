package redis

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sync"
	"time"

	"assessment-session-service/internal/question"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// QuestionCache caches raw question-bank payloads in Redis as JSON and falls
// back to the source on a cache miss.
// Topics are stored as:  SET questions:topic:{class/subject/topic} [items]
// Items are stored as:   SET questions:item:{id} item
type QuestionCache struct {
	client *redis.Client
	source question.Source
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
	rndMu  sync.Mutex
}

func NewQuestionCache(client *redis.Client, source question.Source, ttl time.Duration) *QuestionCache {
	return &QuestionCache{
		client: client,
		source: source,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *QuestionCache) FetchTopic(ctx context.Context, topic question.Topic) ([]question.RawItem, error) {
	return c.get(ctx, c.topicKey(topic), func() ([]question.RawItem, error) {
		return c.source.FetchTopic(ctx, topic)
	})
}

func (c *QuestionCache) FetchItem(ctx context.Context, slot question.Slot) (question.RawItem, error) {
	items, err := c.get(ctx, c.itemKey(slot.ID), func() ([]question.RawItem, error) {
		item, err := c.source.FetchItem(ctx, slot)
		if err != nil {
			return nil, err
		}
		return []question.RawItem{item}, nil
	})
	if err != nil {
		return question.RawItem{}, err
	}
	return items[0], nil
}

func (c *QuestionCache) get(ctx context.Context, key string, load func() ([]question.RawItem, error)) ([]question.RawItem, error) {
	if items, ok := c.lookup(ctx, key); ok {
		return items, nil
	}

	result, err, _ := c.sf.Do(key, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if items, ok := c.lookup(ctx, key); ok {
			return items, nil
		}
		items, err := load()
		if err != nil {
			return nil, err
		}
		if !cacheable(items) {
			return items, nil
		}
		if data, err := json.Marshal(items); err == nil {
			// best-effort; a failed write only costs another load
			_ = c.client.Set(ctx, key, data, c.ttlWithJitter()).Err()
		}
		return items, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]question.RawItem), nil
}

func (c *QuestionCache) lookup(ctx context.Context, key string) ([]question.RawItem, bool) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	var items []question.RawItem
	if err := json.Unmarshal(data, &items); err != nil || len(items) == 0 {
		return nil, false
	}
	return items, true
}

// Invalidate drops the cached copy of a question.
func (c *QuestionCache) Invalidate(ctx context.Context, questionID string) error {
	err := c.client.Del(ctx, c.itemKey(questionID)).Err()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}

func (c *QuestionCache) topicKey(topic question.Topic) string {
	return "questions:topic:" + topic.String()
}

func (c *QuestionCache) itemKey(id string) string {
	return "questions:item:" + id
}

func cacheable(items []question.RawItem) bool {
	for _, item := range items {
		if item.Err != nil {
			return false
		}
	}
	return true
}

func (c *QuestionCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitterMax := int64(c.ttl) / 10
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
