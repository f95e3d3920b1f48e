package mq

import (
	"context"
	"fmt"
	"time"

	"consumeledger/internal/config"

	"github.com/nats-io/nats.go"
)

// LedgerKeyHeader 消息头中携带的分区键，消费方据此保证同一账户有序
const LedgerKeyHeader = "Ledger-Key"

const defaultFlushTimeout = 5 * time.Second

// NatsPublisher mq.provider=nats 时使用，topic 即 subject
type NatsPublisher struct {
	conn         *nats.Conn
	flushTimeout time.Duration
}

func InitNats(cfg *config.NatsConfig) (*NatsPublisher, error) {
	conn, err := nats.Connect(cfg.URL,
		nats.Name("consume-ledger"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("连接 NATS 失败: %w", err)
	}
	return NewNatsPublisher(conn), nil
}

func NewNatsPublisher(conn *nats.Conn) *NatsPublisher {
	return &NatsPublisher{conn: conn, flushTimeout: defaultFlushTimeout}
}

// Publish 发布后 Flush，确认服务端已收到
// FlushWithContext 要求 ctx 带截止时间，没有时补上 flushTimeout
func (p *NatsPublisher) Publish(ctx context.Context, topic, key string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.flushTimeout)
		defer cancel()
	}

	msg := nats.NewMsg(topic)
	msg.Header.Set(LedgerKeyHeader, key)
	msg.Data = payload

	if err := p.conn.PublishMsg(msg); err != nil {
		return err
	}
	return p.conn.FlushWithContext(ctx)
}

func (p *NatsPublisher) Close() error {
	if p.conn == nil {
		return nil
	}
	return p.conn.Drain()
}
