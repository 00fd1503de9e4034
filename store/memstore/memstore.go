// Package memstore 基于内存 map 的存储实现，用于测试和单进程部署
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/EatingXiGua/shortlink/store"
)

// Store 内存存储
type Store struct {
	mu      sync.RWMutex
	records map[string]map[string]store.Record
}

var _ store.Store = (*Store)(nil)

// New 创建内存存储
func New() *Store {
	return &Store{records: make(map[string]map[string]store.Record)}
}

func (s *Store) Insert(ctx context.Context, record store.Record) error {
	if err := record.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ns, ok := s.records[record.Namespace]
	if !ok {
		ns = make(map[string]store.Record)
		s.records[record.Namespace] = ns
	}
	if _, exists := ns[record.Key]; exists {
		return store.ErrUniqueViolation(record.Namespace, record.Key)
	}
	ns[record.Key] = record.Clone()
	return nil
}

func (s *Store) FindByKey(ctx context.Context, namespace, key string) (store.Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return store.Record{}, false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[namespace][key]
	if !ok {
		return store.Record{}, false, nil
	}
	return r.Clone(), true, nil
}

// Scan 按 Key 字典序遍历
func (s *Store) Scan(ctx context.Context, namespace string, fn func(store.Record) error) error {
	s.mu.RLock()
	snapshot := make([]store.Record, 0, len(s.records[namespace]))
	for _, r := range s.records[namespace] {
		snapshot = append(snapshot, r.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].Key < snapshot[j].Key })
	for _, r := range snapshot {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

// Count 返回命名空间中的记录数
func (s *Store) Count(namespace string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records[namespace])
}

// Delete 删除记录，仅用于模拟并发删除等异常场景
func (s *Store) Delete(namespace, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records[namespace], key)
}
