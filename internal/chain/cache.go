package chain

import (
	"encoding/json"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Cache memoizes resolved leaves, class instances and compiled chains for
// the lifetime of the process. It is safe for concurrent use; concurrent
// first loads of one key build once.
type Cache struct {
	entries sync.Map
	group   singleflight.Group
}

func NewCache() *Cache { return &Cache{} }

// Load returns the entry for key, building it on first use. Failed builds
// are not cached.
func (c *Cache) Load(key string, build func() (any, error)) (any, error) {
	if v, ok := c.entries.Load(key); ok {
		return v, nil
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		if v, ok := c.entries.Load(key); ok {
			return v, nil
		}
		v, err := build()
		if err != nil {
			return nil, err
		}
		c.entries.Store(key, v)
		return v, nil
	})
	return v, err
}

// Chain returns the compiled chain for key, compiling it on first use.
func (c *Cache) Chain(key string, compile func() (Func, error)) (Func, error) {
	v, err := c.Load("chain|"+key, func() (any, error) { return compile() })
	if err != nil {
		return nil, err
	}
	return v.(Func), nil
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	n := 0
	c.entries.Range(func(any, any) bool { n++; return true })
	return n
}

// argsKey serializes call arguments for a memo key. Arguments that do not
// marshal fall back to their Go syntax representation.
func argsKey(args []any) string {
	if len(args) == 0 {
		return "[]"
	}
	b, err := json.Marshal(args)
	if err != nil {
		return fmt.Sprintf("%#v", args)
	}
	return string(b)
}
