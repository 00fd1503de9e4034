package internal

import (
	"fmt"
	"sync"
	"time"
)

// Snowflake 位布局：41 位毫秒时间戳 | 10 位实例 ID | 12 位序列号
const (
	Epoch          = 1704067200000 // 2024-01-01 00:00:00 UTC
	InstanceIDBits = 10
	SequenceBits   = 12

	MaxInstanceID = (1 << InstanceIDBits) - 1
	MaxSequence   = (1 << SequenceBits) - 1

	instanceIDShift = SequenceBits
	timestampShift  = InstanceIDBits + SequenceBits
)

// Snowflake 生成按时间递增的 64 位记录 ID
type Snowflake struct {
	mu         sync.Mutex
	instanceID int64
	sequence   int64
	lastTime   int64
	now        func() time.Time
}

// NewSnowflake 创建生成器，实例 ID 必须在 0-1023 之间
func NewSnowflake(instanceID int64, now func() time.Time) (*Snowflake, error) {
	if instanceID < 0 || instanceID > MaxInstanceID {
		return nil, fmt.Errorf("instance id must be in range 0-%d, got %d", MaxInstanceID, instanceID)
	}
	if now == nil {
		now = time.Now
	}
	return &Snowflake{instanceID: instanceID, now: now}, nil
}

// Next 生成下一个 ID；检测到时钟回拨时返回错误而不是生成可能重复的 ID
func (g *Snowflake) Next() (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	current := g.now().UnixMilli() - Epoch
	if current < g.lastTime {
		return 0, fmt.Errorf("clock moved backwards: last %d, now %d", g.lastTime, current)
	}

	if current == g.lastTime {
		g.sequence = (g.sequence + 1) & MaxSequence
		if g.sequence == 0 {
			// 本毫秒序列号用尽，等待下一毫秒
			for current <= g.lastTime {
				time.Sleep(100 * time.Microsecond)
				current = g.now().UnixMilli() - Epoch
			}
		}
	} else {
		g.sequence = 0
	}
	g.lastTime = current

	return current<<timestampShift | g.instanceID<<instanceIDShift | g.sequence, nil
}

// Parse 拆出时间戳（相对 Epoch 的毫秒）、实例 ID 和序列号
func Parse(id int64) (timestamp, instanceID, sequence int64) {
	return id >> timestampShift, (id >> instanceIDShift) & MaxInstanceID, id & MaxSequence
}

// TimeOf 返回 ID 中编码的生成时间
func TimeOf(id int64) time.Time {
	ts, _, _ := Parse(id)
	return time.UnixMilli(ts + Epoch)
}
