package bot

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultChatCacheSize bounds the active-chat cache.
const DefaultChatCacheSize = 256

// chatCache is an advisory read-through view of the active chat registry.
// A miss only costs a redundant upsert.
type chatCache struct {
	c *lru.Cache[int64, string]
}

func newChatCache(size int) (*chatCache, error) {
	if size <= 0 {
		size = DefaultChatCacheSize
	}
	c, err := lru.New[int64, string](size)
	if err != nil {
		return nil, err
	}
	return &chatCache{c: c}, nil
}

// known reports whether chatID is cached with the same title.
func (cc *chatCache) known(chatID int64, title string) bool {
	cached, ok := cc.c.Get(chatID)
	return ok && cached == title
}

func (cc *chatCache) add(chatID int64, title string) { cc.c.Add(chatID, title) }

func (cc *chatCache) remove(chatID int64) { cc.c.Remove(chatID) }

func (cc *chatCache) len() int { return cc.c.Len() }
