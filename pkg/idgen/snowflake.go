package idgen

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// ============================================================================
// 雪花 ID
// ============================================================================
//
// 账户、流水、配对组的主键都由这里生成：带业务前缀 + 19 位零填充的雪花值。
// 零填充保证字符串字典序等于生成顺序，流水分页游标直接按 id 比较。
//
//   0 | 41 位毫秒时间戳 | 10 位 worker | 12 位序列号
//
// 多实例部署时 worker 必须互不相同（server.worker_id）。
// ============================================================================

const (
	epoch          = int64(1704067200000) // 2024-01-01 00:00:00 UTC
	workerBits     = 10
	sequenceBits   = 12
	MaxWorkerID    = 1<<workerBits - 1
	sequenceMask   = 1<<sequenceBits - 1
	timestampShift = workerBits + sequenceBits

	// 时钟回拨在此范围内时原地等待，超过则继续沿用上次的时间戳
	maxClockDrift = 5 * time.Millisecond
)

// Generator 单个 worker 的雪花生成器，并发安全
type Generator struct {
	mu       sync.Mutex
	worker   int64
	lastMs   int64
	sequence int64
	now      func() int64
}

// NewGenerator worker 取值 0..MaxWorkerID
func NewGenerator(worker int64) (*Generator, error) {
	if worker < 0 || worker > MaxWorkerID {
		return nil, fmt.Errorf("worker id %d out of range 0-%d", worker, MaxWorkerID)
	}
	return &Generator{worker: worker, now: func() int64 { return time.Now().UnixMilli() }}, nil
}

// Next 返回严格递增的下一个 ID
func (g *Generator) Next() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := g.now()
	if ms < g.lastMs && g.lastMs-ms <= maxClockDrift.Milliseconds() {
		for ms < g.lastMs {
			time.Sleep(time.Millisecond)
			ms = g.now()
		}
	}
	if ms <= g.lastMs {
		// 同一毫秒或时钟回拨：沿用上次时间戳，序列号用尽时借用下一毫秒
		ms = g.lastMs
		g.sequence = (g.sequence + 1) & sequenceMask
		if g.sequence == 0 {
			ms++
		}
	} else {
		g.sequence = 0
	}
	g.lastMs = ms

	return (ms-epoch)<<timestampShift | g.worker<<sequenceBits | g.sequence
}

var std atomic.Pointer[Generator]

// Init 设置全局生成器的 worker，进程启动时调用一次
func Init(worker int64) error {
	g, err := NewGenerator(worker)
	if err != nil {
		return err
	}
	std.Store(g)
	return nil
}

func defaultGenerator() *Generator {
	if g := std.Load(); g != nil {
		return g
	}
	g, _ := NewGenerator(1)
	if std.CompareAndSwap(nil, g) {
		return g
	}
	return std.Load()
}

// NextID 使用全局生成器；未调用 Init 时 worker 为 1
func NextID() int64 {
	return defaultGenerator().Next()
}

func withPrefix(prefix string) string {
	return fmt.Sprintf("%s%019d", prefix, NextID())
}

// GenerateAccountID 例如 ACC0000123456789012345
func GenerateAccountID() string { return withPrefix("ACC") }

// GenerateTransactionID 流水号
func GenerateTransactionID() string { return withPrefix("TXN") }

// GenerateLinkGroupID 配对流水（分配、转账）两条腿共用的组号
func GenerateLinkGroupID() string { return withPrefix("LNK") }
