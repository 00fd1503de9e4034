// Package engine 编排一次标识符分配：
// 生成候选 → 过滤器检查（命中则重新生成，有上限）→ 加锁 → 写入存储 →（唯一冲突时对账）→ 登记过滤器
package engine

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/EatingXiGua/shortlink/clog"
	"github.com/EatingXiGua/shortlink/coord/lock"
	"github.com/EatingXiGua/shortlink/errcode"
	"github.com/EatingXiGua/shortlink/generator"
	"github.com/EatingXiGua/shortlink/guard"
	"github.com/EatingXiGua/shortlink/store"
	"github.com/EatingXiGua/shortlink/uid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

const (
	tracerName       = "github.com/EatingXiGua/shortlink/engine"
	unknownNamespace = "unknown"
)

// Request 一次分配请求
type Request struct {
	// Namespace 必须是已配置的命名空间
	Namespace string
	// Seed 哈希策略的输入（如原始链接），explicit 策略下就是要注册的标识符
	Seed string
	// Domain 限定域名，Qualified 命名空间必填
	Domain string
	// Length 覆盖命名空间默认长度
	Length int
	// MaxAttempts 覆盖命名空间默认重试次数
	MaxAttempts int
	// Attributes 随记录保存的业务字段
	Attributes map[string]string
}

// Allocation 分配结果
type Allocation struct {
	Record store.Record
	// FullyQualified 存储和过滤器使用的完整标识符
	FullyQualified string
	// Attempts 生成的候选数量
	Attempts int
}

// Engine 标识符分配引擎，可并发使用
type Engine struct {
	config     *Config
	namespaces map[string]NamespaceConfig
	store      store.Store
	guard      guard.Guard
	locks      lock.DistributedLock
	generator  *generator.Generator
	clock      generator.Clock
	ids        uid.Provider
	logger     clog.Logger
	metrics    *metrics
	tracer     trace.Tracer
	closed     atomic.Bool
}

// New 创建分配引擎，存储、过滤器和锁由调用方注入
func New(ctx context.Context, config *Config, st store.Store, g guard.Guard, locks lock.DistributedLock, opts ...Option) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}
	if st == nil || g == nil || locks == nil {
		return nil, fmt.Errorf("store, guard and lock must not be nil")
	}

	options := &Options{}
	for _, opt := range opts {
		opt(options)
	}
	if options.Logger == nil {
		options.Logger = clog.Namespace("engine")
	}
	if options.Clock == nil {
		options.Clock = generator.SystemClock{}
	}
	if options.TracerProvider == nil {
		options.TracerProvider = otel.GetTracerProvider()
	}
	if options.IDs == nil {
		ids, err := uid.New(ctx, uid.GetDefaultConfig("development"), uid.WithLogger(options.Logger.Namespace("uid")))
		if err != nil {
			return nil, fmt.Errorf("create id provider: %w", err)
		}
		options.IDs = ids
	}

	namespaces := make(map[string]NamespaceConfig, len(config.Namespaces))
	for _, ns := range config.Namespaces {
		namespaces[ns.Name] = ns
	}

	e := &Engine{
		config:     config,
		namespaces: namespaces,
		store:      st,
		guard:      g,
		locks:      locks,
		generator:  generator.New(generator.WithClock(options.Clock)),
		clock:      options.Clock,
		ids:        options.IDs,
		logger:     options.Logger,
		metrics:    newMetrics(options.Registerer),
		tracer:     options.TracerProvider.Tracer(tracerName),
	}
	e.logger.Info("engine created", clog.Int("namespaces", len(namespaces)))
	return e, nil
}

// Allocate 分配一个新的标识符并写入存储
// 所有失败都以 errcode 错误码返回，引擎内部不做重试
func (e *Engine) Allocate(ctx context.Context, req Request) (alloc *Allocation, err error) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "engine.Allocate",
		trace.WithAttributes(attribute.String("namespace", req.Namespace)))
	// 未配置的命名空间统一记为 unknown，避免调用方制造任意数量的时间序列
	label := unknownNamespace
	if _, ok := e.namespaces[req.Namespace]; ok {
		label = req.Namespace
	}
	defer func() {
		defer span.End()
		switch {
		case err != nil:
			span.RecordError(err)
			span.SetStatus(codes.Error, string(errcode.CodeOf(err)))
		case alloc != nil:
			span.SetAttributes(attribute.String("identifier", alloc.FullyQualified))
			span.SetStatus(codes.Ok, "")
		default:
			// panic 正在展开，结果未知，不记录指标
			span.SetStatus(codes.Error, "panic")
			return
		}
		e.metrics.allocations.WithLabelValues(label, outcomeLabel(err)).Inc()
		e.metrics.duration.WithLabelValues(label).Observe(time.Since(start).Seconds())
	}()

	if e.closed.Load() {
		return nil, errcode.New(errcode.InvalidArgument, "engine is closed", nil)
	}
	ns, err := e.validate(req)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, errcode.Wrap(err, errcode.Cancelled, "allocation cancelled")
	}

	candidate, fq, attempts, err := e.pick(ctx, ns, req, span)
	e.metrics.attempts.WithLabelValues(ns.Name).Observe(float64(attempts))
	if err != nil {
		return nil, err
	}

	lease, err := e.locks.TryAcquire(ctx, ns.Name+":"+fq, e.config.LockTTL)
	if err != nil {
		return nil, e.lockError(err, fq)
	}
	span.AddEvent("lock_acquired")
	defer e.release(ctx, lease)

	record, err := e.buildRecord(ns, req, candidate, fq)
	if err != nil {
		return nil, err
	}

	span.AddEvent("store_insert")
	if err := e.store.Insert(ctx, record); err != nil {
		if errcode.Is(err, errcode.UniqueViolation) {
			span.AddEvent("reconcile")
			return nil, e.reconcile(ctx, ns.Name, fq)
		}
		e.logger.Error("store insert failed",
			clog.String("namespace", ns.Name),
			clog.String("identifier", fq),
			clog.Err(err))
		return nil, errcode.Wrap(err, errcode.StoreUnavailable, "insert record")
	}

	span.AddEvent("mark_guard")
	e.markGuard(ctx, ns.Name, fq)

	e.logger.Info("identifier allocated",
		clog.String("namespace", ns.Name),
		clog.String("identifier", fq),
		clog.Int64("id", record.ID),
		clog.Int("attempts", attempts))

	return &Allocation{
		Record:         record,
		FullyQualified: fq,
		Attempts:       attempts,
	}, nil
}

func (e *Engine) validate(req Request) (NamespaceConfig, error) {
	ns, ok := e.namespaces[req.Namespace]
	if !ok {
		return NamespaceConfig{}, errcode.Newf(errcode.InvalidArgument, "unknown namespace %q", req.Namespace)
	}
	if req.Length < 0 {
		return ns, errcode.Newf(errcode.InvalidArgument, "length must be positive, got %d", req.Length)
	}
	if limit := maxLength(ns.Strategy); limit > 0 && req.Length > limit {
		return ns, errcode.Newf(errcode.InvalidArgument, "%s length cannot exceed %d, got %d", ns.Strategy, limit, req.Length)
	}
	if req.MaxAttempts < 0 {
		return ns, errcode.Newf(errcode.InvalidArgument, "max attempts cannot be negative, got %d", req.MaxAttempts)
	}
	if ns.Strategy != generator.StrategyRandom && req.Seed == "" {
		return ns, errcode.Newf(errcode.InvalidArgument, "namespace %q requires a seed", ns.Name)
	}
	if ns.Qualified && req.Domain == "" {
		return ns, errcode.Newf(errcode.InvalidArgument, "namespace %q requires a domain", ns.Name)
	}
	return ns, nil
}

// pick 生成候选直到过滤器判定不存在，最多 maxAttempts 次
// explicit 策略只生成一次，过滤器命中时回查存储排除误判
func (e *Engine) pick(ctx context.Context, ns NamespaceConfig, req Request, span trace.Span) (generator.Candidate, string, int, error) {
	maxAttempts := e.config.maxAttempts(ns, req.MaxAttempts)
	if !ns.Strategy.Retryable() {
		maxAttempts = 1
	}
	length := req.Length
	if length == 0 {
		length = ns.Length
	}
	if length == 0 {
		length = generator.DefaultLength
	}

	var after time.Time
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return generator.Candidate{}, "", attempt - 1, errcode.Wrap(err, errcode.Cancelled, "allocation cancelled")
		}

		candidate, err := e.generator.Generate(generator.Request{
			Namespace: ns.Name,
			Strategy:  ns.Strategy,
			Seed:      req.Seed,
			Length:    length,
			After:     after,
		})
		if err != nil {
			return generator.Candidate{}, "", attempt, err
		}
		after = candidate.GeneratedAt
		fq := qualify(ns, req.Domain, candidate.ID)

		if !e.guard.MightExist(ns.Name, fq) {
			e.metrics.guardChecks.WithLabelValues(ns.Name, "clear").Inc()
			span.AddEvent("candidate_clear", trace.WithAttributes(attribute.Int("attempt", attempt)))
			return candidate, fq, attempt, nil
		}
		e.metrics.guardChecks.WithLabelValues(ns.Name, "positive").Inc()
		span.AddEvent("guard_reject", trace.WithAttributes(attribute.Int("attempt", attempt)))
		e.logger.Debug("candidate rejected by guard",
			clog.String("namespace", ns.Name),
			clog.String("identifier", fq),
			clog.Int("attempt", attempt))

		if ns.Strategy.Retryable() {
			continue
		}

		_, found, err := e.store.FindByKey(ctx, ns.Name, fq)
		if err != nil {
			return generator.Candidate{}, "", attempt, errcode.Wrap(err, errcode.StoreUnavailable, "confirm guard positive")
		}
		if found {
			return generator.Candidate{}, "", attempt, errcode.Newf(errcode.DuplicateIdentifier, "identifier %q already exists", fq)
		}
		e.logger.Debug("guard false positive", clog.String("namespace", ns.Name), clog.String("identifier", fq))
		return candidate, fq, attempt, nil
	}

	return generator.Candidate{}, "", maxAttempts, errcode.Newf(errcode.GenerationExhausted,
		"no free identifier in namespace %q after %d attempts", ns.Name, maxAttempts)
}

// qualify 带域名的命名空间返回 domain/候选
func qualify(ns NamespaceConfig, domain, id string) string {
	if ns.Qualified {
		return domain + "/" + id
	}
	return id
}

func (e *Engine) lockError(err error, fq string) error {
	switch {
	case errors.Is(err, lock.ErrLocked):
		return errcode.New(errcode.LockConflict, fmt.Sprintf("identifier %q is being allocated by another writer", fq), err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return errcode.New(errcode.Cancelled, "lock acquisition cancelled", err)
	default:
		return errcode.Wrap(err, errcode.LockUnavailable, "acquire lock")
	}
}

// release 与调用方 ctx 的取消解耦，保证已持有的锁一定尝试释放
func (e *Engine) release(ctx context.Context, lease lock.Lock) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.config.ReleaseTimeout)
	defer cancel()
	if err := lease.Unlock(releaseCtx); err != nil {
		e.logger.Warn("failed to release lock",
			clog.String("key", lease.Key()),
			clog.String("token", lease.Token()),
			clog.Err(err))
	}
}

func (e *Engine) buildRecord(ns NamespaceConfig, req Request, candidate generator.Candidate, fq string) (store.Record, error) {
	id, err := e.ids.NextID()
	if err != nil {
		return store.Record{}, errcode.New(errcode.Unknown, "generate record id", err)
	}
	return store.Record{
		ID:         id,
		Namespace:  ns.Name,
		Key:        fq,
		Suffix:     candidate.ID,
		Seed:       req.Seed,
		Domain:     req.Domain,
		Attributes: maps.Clone(req.Attributes),
		CreatedAt:  e.clock.Now(),
	}, nil
}

// reconcile 唯一冲突后回查：存在即真实重复，不存在视为存储异常，均不重试
func (e *Engine) reconcile(ctx context.Context, namespace, fq string) error {
	_, found, err := e.store.FindByKey(ctx, namespace, fq)
	switch {
	case err != nil:
		return errcode.Wrap(err, errcode.StoreUnavailable, "reconcile unique violation")
	case found:
		// 过滤器漏掉了这个标识符（例如其他进程写入后尚未同步），补登记
		e.markGuard(ctx, namespace, fq)
		return errcode.Newf(errcode.DuplicateIdentifier, "identifier %q already exists", fq)
	default:
		e.logger.Error("unique violation without matching record",
			clog.String("namespace", namespace),
			clog.String("identifier", fq))
		return errcode.Newf(errcode.StoreInconsistency, "unique violation on %q but no record found", fq)
	}
}

// markGuard 登记失败不影响分配结果
func (e *Engine) markGuard(ctx context.Context, namespace, fq string) {
	markCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.config.ReleaseTimeout)
	defer cancel()
	if err := e.guard.MarkExists(markCtx, namespace, fq); err != nil {
		e.metrics.markFailures.WithLabelValues(namespace).Inc()
		e.logger.Warn("failed to mark identifier in guard",
			clog.String("namespace", namespace),
			clog.String("identifier", fq),
			clog.Err(err))
	}
}

// Exists 判断完整标识符是否已被占用：过滤器未命中直接返回 false，命中时回查存储
func (e *Engine) Exists(ctx context.Context, namespace, key string) (bool, error) {
	if _, ok := e.namespaces[namespace]; !ok {
		return false, errcode.Newf(errcode.InvalidArgument, "unknown namespace %q", namespace)
	}
	if !e.guard.MightExist(namespace, key) {
		e.metrics.guardChecks.WithLabelValues(namespace, "clear").Inc()
		return false, nil
	}
	e.metrics.guardChecks.WithLabelValues(namespace, "positive").Inc()

	_, found, err := e.store.FindByKey(ctx, namespace, key)
	if err != nil {
		return false, errcode.Wrap(err, errcode.StoreUnavailable, "find record")
	}
	return found, nil
}

// Warm 从存储回填过滤器，返回回填的记录数
// 过滤器不支持 Seeder 时直接返回；存在无法读取的记录时仍回填其余记录，并返回 StoreInconsistency
func (e *Engine) Warm(ctx context.Context) (int, error) {
	seeder, ok := e.guard.(guard.Seeder)
	if !ok {
		e.logger.Warn("guard does not support warm-up, skipped")
		return 0, nil
	}

	var (
		total        atomic.Int64
		mu           sync.Mutex
		inconsistent error
	)
	g, gctx := errgroup.WithContext(ctx)
	for name := range e.namespaces {
		g.Go(func() error {
			n := 0
			err := e.store.Scan(gctx, name, func(r store.Record) error {
				seeder.Seed(name, r.Key)
				n++
				return nil
			})
			total.Add(int64(n))
			if errcode.Is(err, errcode.StoreInconsistency) {
				// 其余记录已回填，不中断其他命名空间
				e.logger.Warn("guard warmed with unreadable records",
					clog.String("namespace", name), clog.Int("records", n), clog.Err(err))
				mu.Lock()
				inconsistent = multierr.Append(inconsistent, err)
				mu.Unlock()
				return nil
			}
			if err != nil {
				return errcode.Wrap(err, errcode.StoreUnavailable, fmt.Sprintf("scan namespace %q", name))
			}
			e.logger.Info("guard warmed", clog.String("namespace", name), clog.Int("records", n))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(total.Load()), err
	}
	return int(total.Load()), inconsistent
}

// Close 关闭引擎持有的 id 生成器，以及实现了 Close 的过滤器
// 存储和锁由调用方管理
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}

	var err error
	if closer, ok := e.guard.(interface{ Close() error }); ok {
		err = multierr.Append(err, closer.Close())
	}
	err = multierr.Append(err, e.ids.Close())
	if err != nil {
		e.logger.Error("engine closed with errors", clog.Err(err))
		return err
	}
	e.logger.Info("engine closed")
	return nil
}
