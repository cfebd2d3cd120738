// Package publish fans device events out to dashboards over Redis pub/sub.
package publish

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Hara602/usbwatch/internal/model"
	"github.com/redis/go-redis/v9"
)

// Publisher *redis.Client 满足这个接口
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Message 发布到频道上的 JSON 消息
type Message struct {
	Type       string             `json:"type"` // "event" / "diagnostic"
	Host       string             `json:"host,omitempty"`
	Event      *model.ChangeEvent `json:"event,omitempty"`
	Diagnostic *model.Diagnostic  `json:"diagnostic,omitempty"`
}

type RedisSink struct {
	client  Publisher
	channel string
	host    string
}

func NewRedisSink(client Publisher, channel, host string) *RedisSink {
	return &RedisSink{client: client, channel: channel, host: host}
}

// NewClient 按地址创建 redis 客户端并 ping 一次
func NewClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis %s: %w", addr, err)
	}
	return rdb, nil
}

func (s *RedisSink) OnEvent(ctx context.Context, ev model.ChangeEvent) error {
	return s.publish(ctx, Message{Type: "event", Host: s.host, Event: &ev})
}

func (s *RedisSink) OnDiagnostic(ctx context.Context, d model.Diagnostic) error {
	return s.publish(ctx, Message{Type: "diagnostic", Host: s.host, Diagnostic: &d})
}

func (s *RedisSink) publish(ctx context.Context, msg Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.Type, err)
	}
	if err := s.client.Publish(ctx, s.channel, b).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", s.channel, err)
	}
	return nil
}
