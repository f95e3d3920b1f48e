package mq

import "context"

// Publisher 账务事件投递通道，由 OutboxSender 调用
type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload []byte) error
	Close() error
}
