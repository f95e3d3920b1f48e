package idgen

import (
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
)

// ============================================================================
// 业务单号生成
// ============================================================================
//
// 底层使用雪花算法（41 位时间戳 + 10 位节点号 + 12 位序列号），
// 多实例部署时每个实例必须配置不同的 server.node_id。
//
// 单号格式：前缀 + 年月日时分秒 + 完整雪花 ID，便于人工排查又保证唯一。
// ============================================================================

const (
	PrefixConsume     = "CSM"
	PrefixTransaction = "TXN"
)

var (
	mu   sync.Mutex
	node *snowflake.Node
)

func init() {
	// 2024-01-01 00:00:00 UTC
	snowflake.Epoch = 1704067200000
}

// Init 设置节点号，范围 0-1023
func Init(nodeID int64) error {
	n, err := snowflake.NewNode(nodeID)
	if err != nil {
		return fmt.Errorf("初始化雪花节点失败: %w", err)
	}
	mu.Lock()
	node = n
	mu.Unlock()
	return nil
}

// NextID 未初始化时使用节点 1
func NextID() int64 {
	mu.Lock()
	if node == nil {
		node, _ = snowflake.NewNode(1)
	}
	n := node
	mu.Unlock()
	return n.Generate().Int64()
}

func generate(prefix string) string {
	return fmt.Sprintf("%s%s%d", prefix, time.Now().Format("20060102150405"), NextID())
}

// GenerateRecordNo 消费记录号
func GenerateRecordNo() string {
	return generate(PrefixConsume)
}

// GenerateTransactionNo 流水号
func GenerateTransactionNo() string {
	return generate(PrefixTransaction)
}
