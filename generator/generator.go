// Package generator 生成候选标识符
// 支持三种策略：基于 seed+时间戳的哈希、密码学随机、直接使用 seed
package generator

import (
	"crypto/rand"
	"io"
	"strconv"
	"time"

	"github.com/EatingXiGua/shortlink/errcode"
	"github.com/spaolacci/murmur3"
)

// Strategy 候选生成策略
type Strategy string

const (
	// StrategyHash murmur3 哈希 seed 和纳秒时间戳，62 进制编码
	StrategyHash Strategy = "hash"
	// StrategyRandom 每个字符独立均匀地从字母表中抽取
	StrategyRandom Strategy = "random"
	// StrategyExplicit 候选就是 seed 本身，例如注册用户名
	StrategyExplicit Strategy = "explicit"
)

// Valid 判断策略是否受支持
func (s Strategy) Valid() bool {
	switch s {
	case StrategyHash, StrategyRandom, StrategyExplicit:
		return true
	default:
		return false
	}
}

// Retryable 重新生成是否可能得到不同的候选
func (s Strategy) Retryable() bool {
	return s != StrategyExplicit
}

// Request 单次生成请求
type Request struct {
	Namespace string
	Strategy  Strategy
	Seed      string
	// Length 哈希策略为 0 时使用 DefaultLength，随机策略必须在 [1, MaxRandomLength] 内
	Length int
	// After 非零时生成时间严格晚于它，保证哈希重试时输入不同
	After time.Time
}

// Candidate 候选标识符，尚未经过过滤器和存储确认
type Candidate struct {
	Namespace   string
	ID          string
	GeneratedAt time.Time
}

// Generator 候选生成器，可并发使用
type Generator struct {
	clock  Clock
	random io.Reader
}

// Option 配置 Generator
type Option func(*Generator)

// WithClock 替换时间源
func WithClock(clock Clock) Option {
	return func(g *Generator) {
		g.clock = clock
	}
}

// WithRandom 替换随机源，默认 crypto/rand
func WithRandom(r io.Reader) Option {
	return func(g *Generator) {
		g.random = r
	}
}

// New 创建生成器
func New(opts ...Option) *Generator {
	g := &Generator{
		clock:  SystemClock{},
		random: rand.Reader,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate 按策略生成一个候选
func (g *Generator) Generate(req Request) (Candidate, error) {
	now := g.clock.Now()
	if !req.After.IsZero() && !now.After(req.After) {
		now = req.After.Add(time.Nanosecond)
	}

	var (
		id  string
		err error
	)
	switch req.Strategy {
	case StrategyHash:
		id, err = hashID(req.Seed, now, req.Length)
	case StrategyRandom:
		id, err = g.randomID(req.Length)
	case StrategyExplicit:
		id, err = explicitID(req.Seed)
	default:
		err = errcode.Newf(errcode.InvalidArgument, "unknown generation strategy %q", req.Strategy)
	}
	if err != nil {
		return Candidate{}, err
	}

	return Candidate{
		Namespace:   req.Namespace,
		ID:          id,
		GeneratedAt: now,
	}, nil
}

// hashID murmur3-128(seed || unix-nanos) 的第一个 64 位字编码为定长字符串
func hashID(seed string, at time.Time, length int) (string, error) {
	if length == 0 {
		length = DefaultLength
	}
	if length < 0 || length > MaxHashLength {
		return "", errcode.Newf(errcode.InvalidArgument, "hash length must be in [1, %d], got %d", MaxHashLength, length)
	}

	data := strconv.AppendInt([]byte(seed), at.UnixNano(), 10)
	h1, _ := murmur3.Sum128(data)
	return encodeBase62(h1, length), nil
}

// randomID 拒绝采样避免取模偏差：只接受 [0, 248) 的字节，248 = 62*4
func (g *Generator) randomID(length int) (string, error) {
	if length <= 0 || length > MaxRandomLength {
		return "", errcode.Newf(errcode.InvalidArgument, "random length must be in [1, %d], got %d", MaxRandomLength, length)
	}

	const limit = 256 - 256%len(alphabet)
	out := make([]byte, 0, length)
	buf := make([]byte, length+length/2+1)
	for len(out) < length {
		if _, err := io.ReadFull(g.random, buf); err != nil {
			return "", errcode.New(errcode.Unknown, "failed to read random source", err)
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, alphabet[int(b)%len(alphabet)])
			if len(out) == length {
				break
			}
		}
	}
	return string(out), nil
}

func explicitID(seed string) (string, error) {
	if seed == "" {
		return "", errcode.New(errcode.InvalidArgument, "explicit identifier cannot be empty", nil)
	}
	return seed, nil
}
