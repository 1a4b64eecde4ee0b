package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/blues/escrow/internal/logger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// invalidation 广播的失效消息
type invalidation struct {
	Origin  string           `json:"origin"`
	Parties []common.Address `json:"parties"`
}

// RedisBus 通过 redis pub/sub 在多个实例间广播缓存失效
type RedisBus struct {
	rdb     *goredis.Client
	channel string
	origin  string
}

// NewRedisBus 连接 redis 并检查可用性
func NewRedisBus(ctx context.Context, addr, password string, db int, channel string) (*RedisBus, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    password,
		DB:          db,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisBus{rdb: rdb, channel: channel, origin: uuid.NewString()}, nil
}

// Publish 广播参与方失效
func (b *RedisBus) Publish(ctx context.Context, parties ...common.Address) error {
	if len(parties) == 0 {
		return nil
	}
	raw, err := b.encode(parties)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, raw).Err()
}

// Subscribe 订阅其他实例的失效消息，ctx 结束时退出
func (b *RedisBus) Subscribe(ctx context.Context, onInvalidate func(parties []common.Address)) error {
	if onInvalidate == nil {
		return fmt.Errorf("onInvalidate callback required")
	}

	sub := b.rdb.Subscribe(ctx, b.channel)
	// 确认订阅已建立
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					return
				}
				parties, remote, err := b.decode([]byte(m.Payload))
				if err != nil {
					logger.Warn("Bad invalidation payload on %s: %v", b.channel, err)
					continue
				}
				if remote {
					onInvalidate(parties)
				}
			}
		}
	}()

	logger.Info("Subscribed to projection invalidations on %s", b.channel)
	return nil
}

func (b *RedisBus) encode(parties []common.Address) ([]byte, error) {
	return json.Marshal(invalidation{Origin: b.origin, Parties: parties})
}

// decode 解析消息，remote 表示来自其他实例
func (b *RedisBus) decode(payload []byte) (parties []common.Address, remote bool, err error) {
	var msg invalidation
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, false, err
	}
	return msg.Parties, msg.Origin != b.origin, nil
}

// Close 关闭连接
func (b *RedisBus) Close() error {
	if b == nil || b.rdb == nil {
		return nil
	}
	return b.rdb.Close()
}
