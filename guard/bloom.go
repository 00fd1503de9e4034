package guard

import (
	"context"
	"fmt"
	"sync"

	"github.com/EatingXiGua/shortlink/clog"
	"github.com/EatingXiGua/shortlink/errcode"
	"github.com/willf/bloom"
)

// Bloom 进程内的布隆过滤器，每个命名空间一个，只增不删
type Bloom struct {
	filters map[string]*namespaceFilter
	logger  clog.Logger
}

type namespaceFilter struct {
	mu     sync.RWMutex
	filter *bloom.BloomFilter
	count  uint
}

var (
	_ Guard  = (*Bloom)(nil)
	_ Seeder = (*Bloom)(nil)
)

// NewBloom 按配置创建过滤器，容量在创建后不再变化
func NewBloom(config *Config, logger clog.Logger) (*Bloom, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid guard config: %w", err)
	}
	if logger == nil {
		logger = clog.Namespace("guard")
	}

	b := &Bloom{
		filters: make(map[string]*namespaceFilter, len(config.Namespaces)),
		logger:  logger,
	}
	for _, ns := range config.Namespaces {
		f := bloom.NewWithEstimates(ns.Capacity, ns.FalsePositiveRate)
		b.filters[ns.Name] = &namespaceFilter{filter: f}
		logger.Info("bloom filter created",
			clog.String("namespace", ns.Name),
			clog.Uint64("capacity", uint64(ns.Capacity)),
			clog.Uint64("bits", uint64(f.Cap())),
			clog.Uint64("hashes", uint64(f.K())))
	}
	return b, nil
}

// MightExist 未配置的命名空间保守地返回 true
func (b *Bloom) MightExist(namespace, id string) bool {
	f, ok := b.filters[namespace]
	if !ok {
		return true
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.filter.Test([]byte(id))
}

func (b *Bloom) MarkExists(ctx context.Context, namespace, id string) error {
	if !b.add(namespace, id) {
		return errcode.Newf(errcode.InvalidArgument, "unknown guard namespace %q", namespace)
	}
	return nil
}

// Seed 预热时写入，未配置的命名空间忽略
func (b *Bloom) Seed(namespace, id string) {
	b.add(namespace, id)
}

// Count 返回命名空间中登记过的次数（含重复登记）
func (b *Bloom) Count(namespace string) uint {
	f, ok := b.filters[namespace]
	if !ok {
		return 0
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.count
}

// Namespaces 返回已配置的命名空间
func (b *Bloom) Namespaces() []string {
	names := make([]string, 0, len(b.filters))
	for name := range b.filters {
		names = append(names, name)
	}
	return names
}

func (b *Bloom) add(namespace, id string) bool {
	f, ok := b.filters[namespace]
	if !ok {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filter.Add([]byte(id))
	f.count++
	return true
}
