// Package projector rebuilds a party's role-filtered dashboard from the
// ledger with a bounded fan-out of reads. Results are cached per
// (party, role) for a short time. A refresh or a write invalidation
// supersedes any pass still running for the same key.
package projector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/blues/escrow/internal/amount"
	"github.com/blues/escrow/internal/cache"
	"github.com/blues/escrow/internal/ledger"
	"github.com/blues/escrow/internal/logger"
	"github.com/blues/escrow/internal/metrics"
	"github.com/blues/escrow/internal/model"
	"github.com/ethereum/go-ethereum/common"
	"github.com/panjf2000/ants/v2"
	"golang.org/x/sync/singleflight"
)

// ErrSuperseded 投影被更新的刷新或写入失效取代
var ErrSuperseded = errors.New("projection superseded by a newer refresh")

// Publisher 向其他实例广播失效
type Publisher interface {
	Publish(ctx context.Context, parties ...common.Address) error
}

// Options 投影参数
type Options struct {
	PassTimeout time.Duration // 单次投影的最长时间
}

type inflight struct {
	gen    uint64
	cancel context.CancelFunc
}

// Projector 项目投影器
type Projector struct {
	gateway   ledger.Gateway
	pool      *ants.Pool
	cache     *cache.ProjectionCache
	codec     *amount.Codec
	opts      Options
	publisher Publisher
	group     singleflight.Group

	mu       sync.Mutex
	gens     map[cache.Key]uint64   // 每个键的当前代数，失效或刷新时递增
	inflight map[cache.Key]inflight // 正在进行的投影
	now      func() time.Time
}

// New 创建投影器；pool 决定并发读取上限，可与其他组件共享
func New(gateway ledger.Gateway, pool *ants.Pool, c *cache.ProjectionCache, codec *amount.Codec, opts Options) *Projector {
	if opts.PassTimeout <= 0 {
		opts.PassTimeout = 30 * time.Second
	}
	if codec == nil {
		codec = amount.Default()
	}
	return &Projector{
		gateway:  gateway,
		pool:     pool,
		cache:    c,
		codec:    codec,
		opts:     opts,
		gens:     make(map[cache.Key]uint64),
		inflight: make(map[cache.Key]inflight),
		now:      time.Now,
	}
}

// SetPublisher 设置跨实例失效广播
func (p *Projector) SetPublisher(pub Publisher) {
	p.publisher = pub
}

// Dashboard 返回投影，优先使用缓存；返回值只读
func (p *Projector) Dashboard(ctx context.Context, party common.Address, role model.Role) (*model.Dashboard, error) {
	key := cache.Key{Party: party, Role: role}
	if d, ok := p.cache.Get(key); ok {
		metrics.RecordCacheLookup(true)
		return d, nil
	}
	metrics.RecordCacheLookup(false)

	p.mu.Lock()
	gen := p.gens[key]
	p.mu.Unlock()
	return p.load(ctx, key, gen)
}

// Refresh 强制重新投影，取代同一键上仍在进行的投影
func (p *Projector) Refresh(ctx context.Context, party common.Address, role model.Role) (*model.Dashboard, error) {
	key := cache.Key{Party: party, Role: role}
	p.mu.Lock()
	gen := p.bumpLocked(key)
	p.mu.Unlock()
	p.cache.Invalidate(key)
	return p.load(ctx, key, gen)
}

// Invalidate 写入成功后失效双方的投影并广播
func (p *Projector) Invalidate(ctx context.Context, source string, parties ...common.Address) {
	p.InvalidateLocal(source, parties...)
	if p.publisher == nil {
		return
	}
	if err := p.publisher.Publish(ctx, parties...); err != nil {
		logger.Warn("Failed to broadcast invalidation for %d parties: %v", len(parties), err)
	}
}

// InvalidateLocal 只失效本实例的投影
func (p *Projector) InvalidateLocal(source string, parties ...common.Address) {
	p.mu.Lock()
	for _, party := range parties {
		for _, role := range model.Roles {
			p.bumpLocked(cache.Key{Party: party, Role: role})
		}
	}
	p.mu.Unlock()

	for _, party := range parties {
		p.cache.InvalidateParty(party)
		metrics.RecordInvalidation(source)
	}
}

// Sweep 清理过期缓存
func (p *Projector) Sweep() int {
	return p.cache.Sweep()
}

// bumpLocked 递增代数并取消仍在进行的旧投影，调用方持有 p.mu
func (p *Projector) bumpLocked(key cache.Key) uint64 {
	p.gens[key]++
	if f, ok := p.inflight[key]; ok {
		f.cancel()
		delete(p.inflight, key)
	}
	return p.gens[key]
}

// load 合并同一代数上的并发加载
func (p *Projector) load(ctx context.Context, key cache.Key, gen uint64) (*model.Dashboard, error) {
	sfKey := fmt.Sprintf("%s/%s/%d", key.Party.Hex(), key.Role, gen)
	ch := p.group.DoChan(sfKey, func() (interface{}, error) {
		return p.run(ctx, key, gen)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*model.Dashboard), nil
	}
}

// run 执行一次投影；被取代的结果既不缓存也不返回
func (p *Projector) run(ctx context.Context, key cache.Key, gen uint64) (*model.Dashboard, error) {
	start := p.now()

	// 投影由多个调用方共享，不跟随单个调用方取消
	passCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.opts.PassTimeout)
	defer cancel()

	p.mu.Lock()
	if p.gens[key] != gen {
		p.mu.Unlock()
		metrics.RecordProjection(string(key.Role), "superseded", 0)
		return nil, ErrSuperseded
	}
	p.inflight[key] = inflight{gen: gen, cancel: cancel}
	p.mu.Unlock()

	d, err := p.build(passCtx, key.Party, key.Role)

	p.mu.Lock()
	superseded := p.gens[key] != gen
	if f, ok := p.inflight[key]; ok && f.gen == gen {
		delete(p.inflight, key)
	}
	if !superseded && err == nil {
		p.cache.Put(key, d)
	}
	p.mu.Unlock()

	elapsed := p.now().Sub(start)
	switch {
	case superseded:
		logger.Debug("Projection for %s/%s superseded after %s", key.Party.Hex(), key.Role, elapsed)
		metrics.RecordProjection(string(key.Role), "superseded", elapsed)
		return nil, ErrSuperseded
	case err != nil:
		metrics.RecordProjection(string(key.Role), "failed", elapsed)
		return nil, err
	}
	metrics.RecordProjection(string(key.Role), "ok", elapsed)
	return d, nil
}
