// Package scheduler keeps every source's cache queue topped up to CacheSize.
// A single long-lived loop ticks at CacheMonitorInterval; each tick fans out
// one goroutine per source and waits for all of them before the next tick.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/any-hub/image-provider/internal/cache"
	"github.com/any-hub/image-provider/internal/config"
	"github.com/any-hub/image-provider/internal/logging"
	"github.com/any-hub/image-provider/internal/metrics"
)

const (
	// DefaultInterval 在配置的间隔非法（<=0）时使用。
	DefaultInterval = 60 * time.Second
	// FetchPause 是同一图源连续两次下载之间的停顿。
	FetchPause = 10 * time.Millisecond
)

// Fetcher 产出一个可入队的缓存路径，cache.Fetcher 是默认实现。
type Fetcher interface {
	Fetch(ctx context.Context, global config.GlobalConfig, src config.SourceConfig) (string, error)
}

// Scheduler 周期性补充各图源的缓存队列。
type Scheduler struct {
	settings *config.Manager
	queues   *cache.QueueStore
	fetcher  Fetcher
	metrics  *metrics.Metrics
	logger   *logrus.Logger

	resetCh chan time.Duration
	pause   time.Duration
}

// New 构建调度器；m 可以为 nil。
func New(settings *config.Manager, queues *cache.QueueStore, fetcher Fetcher, m *metrics.Metrics, logger *logrus.Logger) *Scheduler {
	return &Scheduler{
		settings: settings,
		queues:   queues,
		fetcher:  fetcher,
		metrics:  m,
		logger:   logger,
		resetCh:  make(chan time.Duration, 1),
		pause:    FetchPause,
	}
}

// SetInterval 调整运行中定时器的周期，下一次触发按新周期计算；正在进行的补充不受影响。
func (s *Scheduler) SetInterval(d time.Duration) {
	d = normalizeInterval(d)
	for {
		select {
		case s.resetCh <- d:
			return
		default:
		}
		// 丢弃尚未被消费的旧值，只保留最新周期。
		select {
		case <-s.resetCh:
		default:
		}
	}
}

// Run 阻塞直到 ctx 结束。首次补充发生在一个周期之后。
func (s *Scheduler) Run(ctx context.Context) error {
	unsubscribe := s.settings.Subscribe(func(cfg *config.Config) {
		s.SetInterval(cfg.Global.CacheMonitorInterval.DurationValue())
	})
	defer unsubscribe()

	interval := normalizeInterval(s.settings.Current().Global.CacheMonitorInterval.DurationValue())
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.WithFields(logrus.Fields{
		"action":   "refill_scheduler",
		"interval": interval.String(),
	}).Info("refill_scheduler_started")

	for {
		select {
		case <-ctx.Done():
			s.logger.WithField("action", "refill_scheduler").Info("refill_scheduler_stopped")
			return nil
		case next := <-s.resetCh:
			if next == interval {
				continue
			}
			interval = next
			ticker.Reset(interval)
			s.logger.WithFields(logrus.Fields{
				"action":   "refill_scheduler",
				"interval": interval.String(),
			}).Info("refill_interval_changed")
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				if ctx.Err() != nil {
					continue
				}
				s.logger.WithField("action", "refill_tick").WithError(err).Error("refill_tick_failed")
			}
		}
	}
}

// RunOnce 执行一次补充：缓存未开启时直接返回；否则并发补充所有图源并等待全部完成。
// 单个图源的下载错误只记录日志并结束该图源本轮补充，不会向上返回；仅返回 ctx 的取消错误。
func (s *Scheduler) RunOnce(ctx context.Context) error {
	cfg := s.settings.Current()
	if cfg == nil || !cfg.Global.EnableLocalCache {
		return nil
	}

	global := cfg.Global
	group, groupCtx := errgroup.WithContext(ctx)
	for _, src := range cfg.Sources {
		group.Go(func() error {
			return s.refill(groupCtx, global, src)
		})
	}
	return group.Wait()
}

func (s *Scheduler) refill(ctx context.Context, global config.GlobalConfig, src config.SourceConfig) error {
	queue, created := s.queues.Ensure(src.ID)
	if created {
		s.logger.WithFields(logging.SourceFields("refill", src)).Debug("cache_queue_created")
	}

	added := 0
	for queue.Len() < global.CacheSize {
		if err := ctx.Err(); err != nil {
			return err
		}

		path, err := s.fetcher.Fetch(ctx, global, src)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				s.metrics.IncFetch(src.ID, metrics.ResultCanceled)
				return err
			}
			s.metrics.IncFetch(src.ID, metrics.ResultError)
			fields := logging.SourceFields("refill", src)
			fields["queued"] = queue.Len()
			s.logger.WithFields(fields).WithError(err).Warn("refill_failed")
			return nil
		}
		s.metrics.IncFetch(src.ID, metrics.ResultOK)

		if path != "" {
			s.metrics.SetQueueDepth(src.ID, queue.Enqueue(path))
			added++
		}

		if err := sleep(ctx, s.pause); err != nil {
			return err
		}
	}

	if added > 0 {
		fields := logging.SourceFields("refill", src)
		fields["added"] = added
		fields["queued"] = queue.Len()
		s.logger.WithFields(fields).Info("refill_complete")
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func normalizeInterval(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultInterval
	}
	return d
}
