package main

import (
	"context"
	"fmt"
	"time"

	"github.com/EatingXiGua/shortlink/clog"
	"github.com/EatingXiGua/shortlink/coord"
	"github.com/EatingXiGua/shortlink/coord/lock"
	"github.com/EatingXiGua/shortlink/engine"
	"github.com/EatingXiGua/shortlink/errcode"
	"github.com/EatingXiGua/shortlink/guard"
	"github.com/EatingXiGua/shortlink/store/boltstore"
	"github.com/EatingXiGua/shortlink/uid"
	"go.uber.org/multierr"
)

const releaseTimeout = 5 * time.Second

// runtime 一次命令执行所需的全部组件
type runtime struct {
	engine  *engine.Engine
	warmed  int
	closers []func() error
}

// openRuntime 按配置装配存储、过滤器、锁和引擎，并从存储回填过滤器
// 配置了 etcd 时锁和过滤器广播走 etcd，否则只在本进程内生效
func openRuntime(ctx context.Context, cfg *FileConfig, logger clog.Logger) (_ *runtime, err error) {
	rt := &runtime{}
	defer func() {
		if err != nil {
			_ = rt.Close()
		}
	}()

	st, err := boltstore.Open(cfg.Store, logger.Namespace("store"))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	rt.closers = append(rt.closers, st.Close)

	bloom, err := guard.NewBloom(cfg.Guard, logger.Namespace("guard"))
	if err != nil {
		return nil, fmt.Errorf("create guard: %w", err)
	}

	var (
		g      guard.Guard = bloom
		locks  lock.DistributedLock
		uidCfg = cfg.UID
	)
	if cfg.Coord != nil {
		provider, err := coord.New(ctx, cfg.Coord, coord.WithLogger(logger.Namespace("coord")))
		if err != nil {
			return nil, fmt.Errorf("connect coord: %w", err)
		}
		rt.closers = append(rt.closers, provider.Close)

		uidCfg, err = claimInstanceID(ctx, rt, provider, cfg.UID)
		if err != nil {
			return nil, err
		}

		replicated := guard.NewReplicated(bloom, provider.Feed(), logger.Namespace("guard.replicated"))
		if err := replicated.Start(ctx); err != nil {
			_ = replicated.Close()
			return nil, fmt.Errorf("start replicated guard: %w", err)
		}
		g = replicated
		locks = provider.Lock()
	} else {
		locks = lock.NewLocal(lock.WithLogger(logger.Namespace("lock")))
	}

	ids, err := uid.New(ctx, uidCfg, uid.WithLogger(logger.Namespace("uid")))
	if err != nil {
		if closer, ok := g.(interface{ Close() error }); ok {
			_ = closer.Close()
		}
		return nil, fmt.Errorf("create id provider: %w", err)
	}

	eng, err := engine.New(ctx, cfg.Engine, st, g, locks,
		engine.WithLogger(logger.Namespace("engine")),
		engine.WithIDs(ids),
	)
	if err != nil {
		_ = ids.Close()
		if closer, ok := g.(interface{ Close() error }); ok {
			_ = closer.Close()
		}
		return nil, fmt.Errorf("create engine: %w", err)
	}
	rt.engine = eng
	// 引擎先于存储和 etcd 关闭
	rt.closers = append(rt.closers, eng.Close)

	n, err := eng.Warm(ctx)
	if errcode.Is(err, errcode.StoreInconsistency) {
		// 存储唯一约束仍会拦住未回填的标识符
		logger.Warn("guard warmed with unreadable records", clog.Err(err))
		err = nil
	}
	if err != nil {
		return nil, fmt.Errorf("warm guard: %w", err)
	}
	rt.warmed = n
	return rt, nil
}

// claimInstanceID 未固定实例 ID 时从 etcd 领取一个，保证共享存储的进程之间记录主键不冲突
func claimInstanceID(ctx context.Context, rt *runtime, provider coord.Provider, cfg *uid.Config) (*uid.Config, error) {
	if cfg.InstanceID != 0 {
		return cfg, nil
	}
	instances, err := provider.InstanceIDs(cfg.ServiceName, cfg.MaxInstanceID)
	if err != nil {
		return nil, fmt.Errorf("create instance id allocator: %w", err)
	}
	held, err := instances.AcquireID(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire instance id: %w", err)
	}
	rt.closers = append(rt.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		return held.Close(ctx)
	})

	claimed := *cfg
	claimed.InstanceID = held.ID()
	return &claimed, nil
}

// Close 按创建的逆序关闭
func (r *runtime) Close() error {
	var err error
	for i := len(r.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, r.closers[i]())
	}
	r.closers = nil
	return err
}
