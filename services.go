package main

import (
	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/image-provider/internal/cache"
	"github.com/any-hub/image-provider/internal/config"
	"github.com/any-hub/image-provider/internal/metrics"
	"github.com/any-hub/image-provider/internal/provider"
	"github.com/any-hub/image-provider/internal/scheduler"
	"github.com/any-hub/image-provider/internal/server"
	"github.com/any-hub/image-provider/internal/server/routes"
	"github.com/any-hub/image-provider/internal/skip"
	"github.com/any-hub/image-provider/internal/source"
	"github.com/any-hub/image-provider/internal/upstream"
)

// services 持有进程级共享实例：连接池、队列、跳转缓存、刷新任务与取图门面。
type services struct {
	logger    *logrus.Logger
	metrics   *metrics.Metrics
	queues    *cache.QueueStore
	skips     *skip.Service
	scheduler *scheduler.Scheduler
	provider  *provider.Service
}

func newServices(manager *config.Manager, logger *logrus.Logger) (*services, error) {
	cfg := manager.Current()
	m := metrics.New()

	pool := upstream.NewPool(cfg.Global)
	resolver := source.NewResolver(pool)
	queues := cache.NewQueueStore()
	skips := skip.NewService(m)
	fetcher := cache.NewFetcher(resolver, cache.NewContentStore(), logger)

	svc, err := provider.New(provider.Options{
		Settings: manager,
		Resolver: resolver,
		Queues:   queues,
		Consumer: cache.NewConsumer(queues, m),
		Skips:    skips,
		Logger:   logger,
	})
	if err != nil {
		queues.Close()
		skips.Close()
		return nil, err
	}

	return &services{
		logger:    logger,
		metrics:   m,
		queues:    queues,
		skips:     skips,
		scheduler: scheduler.New(manager, queues, fetcher, m, logger),
		provider:  svc,
	}, nil
}

// newApp 构建 Fiber 应用并挂载诊断接口。
func (s *services) newApp(port int) (*fiber.App, error) {
	app, err := server.NewApp(server.AppOptions{
		Logger:     s.logger,
		Provider:   s.provider,
		ListenPort: port,
	})
	if err != nil {
		return nil, err
	}
	routes.RegisterDiagnosticsRoutes(app, s.provider, s.metrics)
	return app, nil
}

// Close 停止队列与跳转缓存的过期清理协程。
func (s *services) Close() {
	s.queues.Close()
	s.skips.Close()
}
