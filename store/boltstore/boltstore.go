// Package boltstore 基于 bbolt 的本地持久化存储
// 每个命名空间一个 bucket，key 为完整标识符，value 为 JSON 编码的记录
package boltstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/EatingXiGua/shortlink/clog"
	"github.com/EatingXiGua/shortlink/errcode"
	"github.com/EatingXiGua/shortlink/store"
	bolt "go.etcd.io/bbolt"
)

// Store bbolt 存储，bbolt 的写事务串行执行，唯一性检查与写入在同一事务内完成
type Store struct {
	db     *bolt.DB
	logger clog.Logger
}

var _ store.Store = (*Store)(nil)

// Open 打开（或创建）数据文件
func Open(config *Config, logger clog.Logger) (*Store, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid boltstore config: %w", err)
	}
	if logger == nil {
		logger = clog.Namespace("store.bolt")
	}

	if dir := filepath.Dir(config.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory %q: %w", dir, err)
		}
	}

	db, err := bolt.Open(config.Path, 0o600, &bolt.Options{
		Timeout: config.OpenTimeout,
		NoSync:  config.NoSync,
	})
	if err != nil {
		return nil, errcode.New(errcode.StoreUnavailable, fmt.Sprintf("open %q", config.Path), err)
	}

	logger.Info("bolt store opened", clog.String("path", config.Path))
	return &Store{db: db, logger: logger}, nil
}

// Close 关闭数据文件
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Insert(ctx context.Context, record store.Record) error {
	if err := record.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return errcode.Wrap(err, errcode.Cancelled, "insert cancelled")
	}

	value, err := json.Marshal(record)
	if err != nil {
		return errcode.New(errcode.InvalidArgument, "marshal record", err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(record.Namespace))
		if err != nil {
			return err
		}
		key := []byte(record.Key)
		if b.Get(key) != nil {
			return store.ErrUniqueViolation(record.Namespace, record.Key)
		}
		return b.Put(key, value)
	})
	if err != nil {
		return errcode.Wrap(err, errcode.StoreUnavailable, "insert record")
	}
	return nil
}

func (s *Store) FindByKey(ctx context.Context, namespace, key string) (store.Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return store.Record{}, false, errcode.Wrap(err, errcode.Cancelled, "find cancelled")
	}

	var (
		record store.Record
		found  bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(namespace))
		if b == nil {
			return nil
		}
		data := b.Get([]byte(key))
		if data == nil {
			return nil
		}
		found = true
		// data 只在事务内有效，Unmarshal 会复制
		return json.Unmarshal(data, &record)
	})
	if err != nil {
		return store.Record{}, false, errcode.Wrap(err, errcode.StoreUnavailable, "find record")
	}
	return record, found, nil
}

// Scan 按 key 字典序遍历，遍历期间持有只读事务
// 无法解码的记录被跳过，遍历结束后以 StoreInconsistency 报告跳过的数量
func (s *Store) Scan(ctx context.Context, namespace string, fn func(store.Record) error) error {
	skipped := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(namespace))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			var record store.Record
			if err := json.Unmarshal(v, &record); err != nil {
				skipped++
				s.logger.Error("corrupt record skipped",
					clog.String("namespace", namespace),
					clog.String("key", string(k)),
					clog.Err(err))
				return nil
			}
			return fn(record)
		})
	})
	if err != nil {
		return err
	}
	if skipped > 0 {
		return errcode.Newf(errcode.StoreInconsistency, "%d undecodable records skipped in namespace %q", skipped, namespace)
	}
	return nil
}

// Count 返回命名空间中的记录数
func (s *Store) Count(namespace string) (int, error) {
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		if b := tx.Bucket([]byte(namespace)); b != nil {
			n = b.Stats().KeyN
		}
		return nil
	})
	return n, err
}
