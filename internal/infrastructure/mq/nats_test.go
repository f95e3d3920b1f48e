package mq

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	natstest "github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runNatsServer(t *testing.T) *server.Server {
	t.Helper()
	opts := natstest.DefaultTestOptions
	opts.Port = -1
	s := natstest.RunServer(&opts)
	t.Cleanup(s.Shutdown)
	return s
}

func connect(t *testing.T, s *server.Server) *nats.Conn {
	t.Helper()
	conn, err := nats.Connect(s.ClientURL())
	require.NoError(t, err)
	t.Cleanup(conn.Close)
	return conn
}

func subscribe(t *testing.T, s *server.Server, subject string) *nats.Subscription {
	t.Helper()
	conn := connect(t, s)
	sub, err := conn.SubscribeSync(subject)
	require.NoError(t, err)
	require.NoError(t, conn.Flush())
	return sub
}

func TestNatsPublisherSetsLedgerKeyHeader(t *testing.T) {
	s := runNatsServer(t)
	sub := subscribe(t, s, "ledger_event")

	p := NewNatsPublisher(connect(t, s))
	// 不带截止时间的 ctx 也能完成 Flush
	err := p.Publish(context.Background(), "ledger_event", "42", []byte(`{"amount":"30.00"}`))
	require.NoError(t, err)

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "42", msg.Header.Get(LedgerKeyHeader))
	assert.Equal(t, `{"amount":"30.00"}`, string(msg.Data))
}

func TestNatsPublisherCanceledContext(t *testing.T) {
	s := runNatsServer(t)
	sub := subscribe(t, s, "ledger_event")

	p := NewNatsPublisher(connect(t, s))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Publish(ctx, "ledger_event", "42", []byte("{}"))
	assert.ErrorIs(t, err, context.Canceled)

	_, err = sub.NextMsg(200 * time.Millisecond)
	assert.ErrorIs(t, err, nats.ErrTimeout)
}

func TestNatsPublisherClosedConnection(t *testing.T) {
	s := runNatsServer(t)

	conn := connect(t, s)
	p := NewNatsPublisher(conn)
	conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := p.Publish(ctx, "ledger_event", "42", []byte("{}"))
	assert.ErrorIs(t, err, nats.ErrConnectionClosed)

	// 未建立连接时 Close 为空操作
	assert.NoError(t, NewNatsPublisher(nil).Close())
}
