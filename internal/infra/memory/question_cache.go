package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"assessment-session-service/internal/question"
	"golang.org/x/sync/singleflight"
)

// QuestionCache caches question-bank payloads with TTL to avoid repeated DB hits.
type QuestionCache struct {
	source question.Source
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand
	rndMu  sync.Mutex

	mu    sync.RWMutex
	cache map[string]cachedItems
}

type cachedItems struct {
	items     []question.RawItem
	expiresAt time.Time
}

func NewQuestionCache(source question.Source, ttl time.Duration) *QuestionCache {
	return &QuestionCache{
		source: source,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedItems),
	}
}

func (c *QuestionCache) FetchTopic(ctx context.Context, topic question.Topic) ([]question.RawItem, error) {
	return c.get(ctx, "topic:"+topic.String(), func() ([]question.RawItem, error) {
		return c.source.FetchTopic(ctx, topic)
	})
}

func (c *QuestionCache) FetchItem(ctx context.Context, slot question.Slot) (question.RawItem, error) {
	items, err := c.get(ctx, "item:"+slot.ID, func() ([]question.RawItem, error) {
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

func (c *QuestionCache) get(_ context.Context, key string, load func() ([]question.RawItem, error)) ([]question.RawItem, error) {
	if items, ok := c.lookup(key); ok {
		return items, nil
	}

	result, err, _ := c.sf.Do(key, func() (interface{}, error) {
		if items, ok := c.lookup(key); ok {
			return items, nil
		}
		items, err := load()
		if err != nil {
			return nil, err
		}
		if cacheable(items) {
			c.mu.Lock()
			c.cache[key] = cachedItems{items: items, expiresAt: c.clock().Add(c.ttlWithJitter())}
			c.mu.Unlock()
		}
		return items, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]question.RawItem), nil
}

func (c *QuestionCache) lookup(key string) ([]question.RawItem, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.cache[key]
	if !ok || !entry.expiresAt.After(c.clock()) {
		return nil, false
	}
	return entry.items, true
}

// cacheable rejects lists carrying per-item fetch errors so they are retried.
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
	// add up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
