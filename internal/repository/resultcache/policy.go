package resultcache

import "container/list"

// Policy decides which keys leave the cache when it grows.
// Calls are serialized by the cache.
type Policy interface {
	// Added is called after key was stored and returns the keys to evict.
	Added(key string) []string
	// Touched is called on a cache hit. It may be skipped under contention.
	Touched(key string)
	// Removed is called when key left the cache for another reason.
	Removed(key string)
	// Reset forgets every key.
	Reset()
}

// LRU evicts the least recently used key once more than max keys are held.
type LRU struct {
	max   int
	order *list.List // front = most recent
	index map[string]*list.Element
}

// NewLRU creates an LRU policy holding at most limit keys (minimum 1).
func NewLRU(limit int) *LRU {
	if limit <= 0 {
		limit = 1
	}
	return &LRU{max: limit, order: list.New(), index: make(map[string]*list.Element, limit)}
}

// Added implements Policy.
func (l *LRU) Added(key string) []string {
	if el, ok := l.index[key]; ok {
		l.order.MoveToFront(el)
		return nil
	}
	l.index[key] = l.order.PushFront(key)

	var evict []string
	for l.order.Len() > l.max {
		oldest := l.order.Back()
		k := oldest.Value.(string)
		l.order.Remove(oldest)
		delete(l.index, k)
		evict = append(evict, k)
	}
	return evict
}

// Touched implements Policy.
func (l *LRU) Touched(key string) {
	if el, ok := l.index[key]; ok {
		l.order.MoveToFront(el)
	}
}

// Removed implements Policy.
func (l *LRU) Removed(key string) {
	if el, ok := l.index[key]; ok {
		l.order.Remove(el)
		delete(l.index, key)
	}
}

// Reset implements Policy.
func (l *LRU) Reset() {
	l.order.Init()
	clear(l.index)
}

// Len returns the number of tracked keys.
func (l *LRU) Len() int { return l.order.Len() }
