package cache

import (
	"sync"
	"time"

	"github.com/blues/escrow/internal/model"
	"github.com/ethereum/go-ethereum/common"
)

// Key 缓存键：参与方 + 角色
type Key struct {
	Party common.Address
	Role  model.Role
}

type entry struct {
	dashboard *model.Dashboard
	expiresAt time.Time
}

// ProjectionCache 短期投影缓存，只在内存中
type ProjectionCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[Key]entry
	now     func() time.Time
}

// NewProjectionCache 创建缓存，ttl <= 0 时不缓存
func NewProjectionCache(ttl time.Duration) *ProjectionCache {
	return &ProjectionCache{
		ttl:     ttl,
		entries: make(map[Key]entry),
		now:     time.Now,
	}
}

// Get 取未过期的投影
func (c *ProjectionCache) Get(key Key) (*model.Dashboard, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	return e.dashboard, true
}

// Put 写入投影
func (c *ProjectionCache) Put(key Key, d *model.Dashboard) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{dashboard: d, expiresAt: c.now().Add(c.ttl)}
}

// Invalidate 删除单个键
func (c *ProjectionCache) Invalidate(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// InvalidateParty 删除参与方在所有角色下的投影
func (c *ProjectionCache) InvalidateParty(party common.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, role := range model.Roles {
		delete(c.entries, Key{Party: party, Role: role})
	}
}

// Sweep 清理过期条目，返回清理数量
func (c *ProjectionCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Len 当前条目数
func (c *ProjectionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
